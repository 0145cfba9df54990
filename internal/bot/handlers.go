package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/m3rciful/relaybot/core/logger"
	"github.com/m3rciful/relaybot/core/telegram/callbacks"
	"github.com/m3rciful/relaybot/core/telegram/format"
	tghelpers "github.com/m3rciful/relaybot/core/telegram/helpers"
	"github.com/m3rciful/relaybot/core/telegram/keyboard"
	"github.com/m3rciful/relaybot/core/telegram/middleware"
	"github.com/m3rciful/relaybot/internal/catalog"
	"github.com/m3rciful/relaybot/internal/relay"
	"github.com/m3rciful/relaybot/internal/store"

	tele "gopkg.in/telebot.v4"
)

// Texts shown on the Telegram surface.
const (
	textGreeting      = "Приветствуем вас! Спасибо за ваш интерес!"
	textPriceLabel    = "Стоимость:"
	textOrderQuestion = "Хотите оформить заказ?"
	labelAddToCart    = "Добавить в корзину"

	answerAskQuestion = relay.TextAskQuestion + "."
	answerEnded       = "Диалог с пользователем %s завершен."
	answerBlocked     = "Пользователь %s заблокирован."
	answerUnblocked   = "Пользователь %s разблокирован."
	answerNotBlocked  = "Пользователь %s не был заблокирован."
	answerFailed      = "Не удалось выполнить действие."

	textNoSessions = "Активных диалогов нет."
	textNoBlocked  = "Заблокированных пользователей нет."
)

// Engine is the relay surface used by the handlers.
type Engine interface {
	OperatorID() int64
	HasSession(ctx context.Context, userID int64) (bool, error)
	StartHelp(ctx context.Context, userID int64, name, productRef string) error
	Inbound(ctx context.Context, userID int64, name string, p relay.Payload) error
	OperatorReply(ctx context.Context, repliedText string, p relay.Payload, replyHandle int) error
	EndSession(ctx context.Context, userID int64) (relay.EndResult, error)
	BlockUser(ctx context.Context, userID int64) error
	UnblockUser(ctx context.Context, userID int64) error
}

// Catalog finds products shown by /start.
type Catalog interface {
	Lookup(id string) (catalog.Product, bool)
}

// StartCounter counts /start requests.
type StartCounter interface {
	StartRequested()
}

// SessionLister lists active sessions for the operator commands.
type SessionLister interface {
	List(ctx context.Context) (map[int64]string, error)
}

// BlockLister lists blocked users for the operator commands.
type BlockLister interface {
	List(ctx context.Context) ([]int64, error)
}

// NameResolver resolves the display name used in callback answers.
type NameResolver interface {
	DisplayName(ctx context.Context, userID int64) (string, error)
}

// Deps wires the handler collaborators. Catalog and Starts are optional.
type Deps struct {
	Engine   Engine
	Names    NameResolver
	Catalog  Catalog
	Starts   StartCounter
	Sessions SessionLister
	Blocked  BlockLister
}

// Handlers maps Telegram updates onto relay operations.
type Handlers struct {
	engine   Engine
	names    NameResolver
	catalog  Catalog
	starts   StartCounter
	sessions SessionLister
	blocked  BlockLister
}

// NewHandlers validates deps and builds the handler set.
func NewHandlers(d Deps) (*Handlers, error) {
	switch {
	case d.Engine == nil:
		return nil, errors.New("bot: engine is required")
	case d.Names == nil:
		return nil, errors.New("bot: name resolver is required")
	case d.Sessions == nil, d.Blocked == nil:
		return nil, errors.New("bot: session and block listers are required")
	}
	return &Handlers{
		engine:   d.Engine,
		names:    d.Names,
		catalog:  d.Catalog,
		starts:   d.Starts,
		sessions: d.Sessions,
		blocked:  d.Blocked,
	}, nil
}

// Start shows the product card for the product ID passed as /start payload.
func (h *Handlers) Start(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	if h.starts != nil {
		h.starts.StartRequested()
	}
	ref := strings.TrimSpace(c.Message().Payload)
	if ref == "" {
		logger.Warn(ctx, "bot", "start",
			slog.String("status", "skip"),
			slog.String("reason", "no_product"),
		)
		return nil
	}
	if !relay.FitsButton(ref) {
		logger.Warn(ctx, "bot", "start",
			slog.String("status", "skip"),
			slog.String("reason", "product_ref_too_long"),
			slog.Int("ref_len", len(ref)),
		)
		return nil
	}
	var (
		product catalog.Product
		ok      bool
	)
	if h.catalog != nil {
		product, ok = h.catalog.Lookup(ref)
	}
	if !ok {
		logger.Warn(ctx, "bot", "start",
			slog.String("status", "skip"),
			slog.String("reason", "product_not_found"),
			slog.String("product_ref", ref),
		)
		return nil
	}

	caption, markup := productCard(product)
	var err error
	if product.Photo != "" {
		photo := &tele.Photo{File: tele.FromURL(product.Photo), Caption: caption}
		err = tghelpers.Send(c, "send.photo", photo, &tele.SendOptions{ParseMode: tele.ModeHTML, ReplyMarkup: markup})
	} else {
		err = tghelpers.SendHTML(c, caption, markup)
	}
	if err != nil {
		return err
	}
	logger.Info(ctx, "bot", "start",
		slog.String("status", "ok"),
		slog.String("product_ref", product.ID),
		slog.String("username", logger.SanitizeLimit(userName(c.Sender()), 64)),
	)
	return nil
}

func productCard(p catalog.Product) (string, *tele.ReplyMarkup) {
	parts := []string{textGreeting}
	if p.Title != "" {
		parts = append(parts, format.Bold(p.Title))
	}
	if p.Price != "" {
		parts = append(parts, textPriceLabel+" "+format.EscapeHTML(p.Price))
	}
	parts = append(parts, textOrderQuestion)

	var buttons []keyboard.InlineBtn
	if p.URL != "" {
		buttons = append(buttons, keyboard.InlineBtn{Text: labelAddToCart, URL: p.URL})
	}
	help := relay.NeedHelpControl(p.ID)
	buttons = append(buttons, keyboard.InlineBtn{Text: help.Text, Unique: help.Action, Data: help.Payload})
	return strings.Join(parts, "\n\n"), keyboard.InlineButtons(buttons)
}

// NeedHelp opens a help session for the product carried in the callback.
func (h *Handlers) NeedHelp(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	user := c.Sender()
	err := h.engine.StartHelp(ctx, user.ID, userName(user), callbacks.CallbackPayload(c))
	if errors.Is(err, relay.ErrRejected) {
		return nil
	}
	if err != nil {
		return err
	}
	return callbacks.Answer(c, answerAskQuestion)
}

// EndDialog tears down the session named in the callback.
func (h *Handlers) EndDialog(c tele.Context) error {
	return h.operatorAction(c, "end_dialog", func(ctx context.Context, uid int64, name string) (string, error) {
		if _, err := h.engine.EndSession(ctx, uid); err != nil {
			return "", err
		}
		return fmt.Sprintf(answerEnded, name), nil
	})
}

// Block blocks the user named in the callback.
func (h *Handlers) Block(c tele.Context) error {
	return h.operatorAction(c, "block_user", func(ctx context.Context, uid int64, name string) (string, error) {
		if err := h.engine.BlockUser(ctx, uid); err != nil {
			return "", err
		}
		return fmt.Sprintf(answerBlocked, name), nil
	})
}

// Unblock unblocks the user named in the callback.
func (h *Handlers) Unblock(c tele.Context) error {
	return h.operatorAction(c, "unblock_user", func(ctx context.Context, uid int64, name string) (string, error) {
		err := h.engine.UnblockUser(ctx, uid)
		switch {
		case errors.Is(err, store.ErrNotBlocked):
			return fmt.Sprintf(answerNotBlocked, name), nil
		case err != nil:
			return "", err
		}
		return fmt.Sprintf(answerUnblocked, name), nil
	})
}

func (h *Handlers) operatorAction(c tele.Context, op string, fn func(ctx context.Context, uid int64, name string) (string, error)) error {
	ctx := tghelpers.BuildContext(c)
	if !middleware.IsAdmin(c, h.engine.OperatorID()) {
		logger.Warn(ctx, "bot", op,
			slog.String("status", "rejected"),
			slog.String("reason", "not_operator"),
		)
		return nil
	}
	uid, err := callbacks.PayloadInt64(c)
	if err != nil || uid <= 0 {
		logger.Warn(ctx, "bot", op,
			slog.String("status", "rejected"),
			slog.String("reason", "bad_payload"),
			slog.String("payload", logger.SanitizeLimit(callbacks.CallbackPayload(c), 64)),
		)
		return nil
	}
	name, nameErr := h.names.DisplayName(ctx, uid)
	if nameErr != nil {
		logger.Warn(ctx, "bot", "display_name",
			slog.String("status", "fail"),
			slog.Int64("user_id", uid),
			slog.String("err", nameErr.Error()),
		)
	}
	answer, err := fn(ctx, uid, name)
	if errors.Is(err, relay.ErrRejected) {
		return nil
	}
	if err != nil {
		_ = callbacks.Answer(c, answerFailed)
		return err
	}
	return callbacks.Answer(c, answer)
}

// InProgress reports whether the message belongs to a relay exchange: an
// operator reply to a forwarded message or a message from a user with an
// active session.
func (h *Handlers) InProgress(c tele.Context) bool {
	msg, user := c.Message(), c.Sender()
	if msg == nil || user == nil {
		return false
	}
	if user.ID == h.engine.OperatorID() {
		return msg.ReplyTo != nil
	}
	if msg.Text != "" && strings.HasPrefix(msg.Text, "/") {
		return false
	}
	ok, err := h.engine.HasSession(tghelpers.BuildContext(c), user.ID)
	return err == nil && ok
}

// Handle relays a message claimed by InProgress.
func (h *Handlers) Handle(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	msg, user := c.Message(), c.Sender()
	p := payloadOf(msg)

	var err error
	if user.ID == h.engine.OperatorID() {
		replied := msg.ReplyTo.Text
		if replied == "" {
			replied = msg.ReplyTo.Caption
		}
		err = h.engine.OperatorReply(ctx, replied, p, msg.ID)
	} else {
		err = h.engine.Inbound(ctx, user.ID, userName(user), p)
	}

	var cerr *relay.CorrelationError
	if errors.Is(err, relay.ErrRejected) || errors.As(err, &cerr) {
		return nil
	}
	return err
}

func payloadOf(m *tele.Message) relay.Payload {
	switch {
	case m.Photo != nil:
		return relay.Payload{Kind: relay.KindImage, FileID: m.Photo.FileID, Text: m.Caption}
	case m.Document != nil:
		return relay.Payload{Kind: relay.KindFile, FileID: m.Document.FileID, Text: m.Caption}
	case m.Text != "":
		return relay.TextPayload(m.Text)
	}
	return relay.Payload{Kind: relay.KindUnsupported}
}

// Sessions lists active sessions to the operator.
func (h *Handlers) Sessions(c tele.Context) error {
	active, err := h.sessions.List(tghelpers.BuildContext(c))
	if err != nil {
		return err
	}
	if len(active) == 0 {
		return tghelpers.SendText(c, textNoSessions)
	}
	ids := make([]int64, 0, len(active))
	for id := range active {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	lines := make([]string, 0, len(ids))
	for _, id := range ids {
		lines = append(lines, strconv.FormatInt(id, 10)+" "+active[id])
	}
	return tghelpers.SendText(c, strings.Join(lines, "\n"))
}

// Blocked lists blocked users to the operator.
func (h *Handlers) Blocked(c tele.Context) error {
	ids, err := h.blocked.List(tghelpers.BuildContext(c))
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return tghelpers.SendText(c, textNoBlocked)
	}
	lines := make([]string, 0, len(ids))
	for _, id := range ids {
		lines = append(lines, strconv.FormatInt(id, 10))
	}
	return tghelpers.SendText(c, strings.Join(lines, "\n"))
}
