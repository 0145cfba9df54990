package relay

// User and operator facing texts.
const (
	TextAskQuestion    = "Задавайте свои вопросы"
	TextSessionEnded   = "Если у вас есть еще вопросы, нажмите 'Нужна помощь'."
	TextUnsupported    = "Пользователь отправил неподдерживаемый тип медиа."
	TextUnknownProduct = "Неизвестно"
	ProductLabel       = "Продукт:"

	LabelEndDialog   = "Закончить"
	LabelBlockUser   = "Заблокировать"
	LabelUnblockUser = "Разблокировать"
	LabelNeedHelp    = "Нужна помощь"
)
