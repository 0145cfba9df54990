package relay

import "strconv"

// Callback actions attached to relay messages.
const (
	ActionEndDialog   = "end_dialog"
	ActionBlockUser   = "block_user"
	ActionUnblockUser = "unblock_user"
	ActionNeedHelp    = "need_help"
)

// Control is an inline action button. Action and Payload travel in the
// callback data; Text is the button label.
type Control struct {
	Text    string
	Action  string
	Payload string
}

// OperatorControls returns the end/block/unblock buttons attached to every
// message forwarded to the operator.
func OperatorControls(userID int64) []Control {
	id := strconv.FormatInt(userID, 10)
	return []Control{
		{Text: LabelEndDialog, Action: ActionEndDialog, Payload: id},
		{Text: LabelBlockUser, Action: ActionBlockUser, Payload: id},
		{Text: LabelUnblockUser, Action: ActionUnblockUser, Payload: id},
	}
}

// MaxCallbackData is Telegram's limit on callback data, in bytes.
const MaxCallbackData = 64

// CallbackData renders c the way telebot encodes it: "\f<action>|<payload>".
func (c Control) CallbackData() string {
	if c.Payload == "" {
		return "\f" + c.Action
	}
	return "\f" + c.Action + "|" + c.Payload
}

// FitsButton reports whether productRef fits into a need_help button.
func FitsButton(productRef string) bool {
	c := Control{Action: ActionNeedHelp, Payload: productRef}
	return len(c.CallbackData()) <= MaxCallbackData
}

// NeedHelpControl returns the button that opens a new help request. A ref too
// long for callback data is left out and the request starts without one.
func NeedHelpControl(productRef string) Control {
	if productRef == UnknownProduct || !FitsButton(productRef) {
		productRef = ""
	}
	return Control{Text: LabelNeedHelp, Action: ActionNeedHelp, Payload: productRef}
}
