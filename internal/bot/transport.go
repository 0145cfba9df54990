// Package bot connects the relay engine to Telegram: it implements the
// relay transport over telebot and maps updates onto engine operations.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/m3rciful/relaybot/core/telegram/keyboard"
	"github.com/m3rciful/relaybot/core/telegram/sender"
	"github.com/m3rciful/relaybot/internal/relay"

	tele "gopkg.in/telebot.v4"
)

// ErrDelete wraps every failure to delete a message.
var ErrDelete = errors.New("bot: delete message")

// API is the part of *tele.Bot the transport calls.
type API interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
	Delete(msg tele.Editable) error
	ChatByID(id int64) (*tele.Chat, error)
}

// Transport implements relay.Transport. Calls go through the dispatcher when
// one is set so transient Telegram failures are retried.
type Transport struct {
	api  API
	disp *sender.Dispatcher
}

// NewTransport returns a transport over api. disp may be nil.
func NewTransport(api API, disp *sender.Dispatcher) *Transport {
	return &Transport{api: api, disp: disp}
}

var _ relay.Transport = (*Transport)(nil)

// SendText sends plain text with optional inline controls.
func (t *Transport) SendText(ctx context.Context, chatID int64, text string, controls []relay.Control) (int, error) {
	return t.send(ctx, "send.text", "sendMessage", chatID, text, controls)
}

// SendImage sends a photo by file ID.
func (t *Transport) SendImage(ctx context.Context, chatID int64, fileID, caption string, controls []relay.Control) (int, error) {
	photo := &tele.Photo{File: tele.File{FileID: fileID}, Caption: caption}
	return t.send(ctx, "send.photo", "sendPhoto", chatID, photo, controls)
}

// SendDocument sends a document by file ID.
func (t *Transport) SendDocument(ctx context.Context, chatID int64, fileID, caption string, controls []relay.Control) (int, error) {
	doc := &tele.Document{File: tele.File{FileID: fileID}, Caption: caption}
	return t.send(ctx, "send.document", "sendDocument", chatID, doc, controls)
}

// DeleteMessage deletes message handle from chatID.
func (t *Transport) DeleteMessage(ctx context.Context, chatID int64, handle int) error {
	msg := tele.StoredMessage{MessageID: strconv.Itoa(handle), ChatID: chatID}
	err := t.do(ctx, "delete", "deleteMessage", func() error {
		return t.api.Delete(msg)
	})
	if err != nil {
		return fmt.Errorf("%w %d: %w", ErrDelete, handle, err)
	}
	return nil
}

// DisplayName resolves the first name of userID, falling back to the
// username and then to the numeric ID.
func (t *Transport) DisplayName(ctx context.Context, userID int64) (string, error) {
	var chat *tele.Chat
	err := t.do(ctx, "get_chat", "getChat", func() error {
		var err error
		chat, err = t.api.ChatByID(userID)
		return err
	})
	if err != nil {
		return strconv.FormatInt(userID, 10), err
	}
	return chatName(chat, userID), nil
}

func (t *Transport) send(ctx context.Context, action, endpoint string, chatID int64, what any, controls []relay.Control) (int, error) {
	opts := &tele.SendOptions{ReplyMarkup: controlsMarkup(controls)}
	var msg *tele.Message
	err := t.do(ctx, action, endpoint, func() error {
		var err error
		msg, err = t.api.Send(tele.ChatID(chatID), what, opts)
		return err
	})
	if err != nil {
		return 0, err
	}
	if msg == nil {
		return 0, fmt.Errorf("bot: %s returned no message", endpoint)
	}
	return msg.ID, nil
}

func (t *Transport) do(ctx context.Context, action, endpoint string, run func() error) error {
	if t.disp == nil {
		return run()
	}
	return t.disp.Do(ctx, action, endpoint, run)
}

// controlsMarkup keeps the operator controls on one row and puts any other
// control on its own row. A fresh markup is built per call since telebot
// rewrites callback data in place while sending.
func controlsMarkup(controls []relay.Control) *tele.ReplyMarkup {
	if len(controls) == 0 {
		return nil
	}
	var operator, other []keyboard.InlineBtn
	for _, c := range controls {
		btn := keyboard.InlineBtn{Text: c.Text, Unique: c.Action, Data: c.Payload}
		switch c.Action {
		case relay.ActionEndDialog, relay.ActionBlockUser, relay.ActionUnblockUser:
			operator = append(operator, btn)
		default:
			other = append(other, btn)
		}
	}
	rows := [][]keyboard.InlineBtn{operator}
	for _, b := range other {
		rows = append(rows, []keyboard.InlineBtn{b})
	}
	return keyboard.InlineButtonsRows(rows...)
}

func chatName(chat *tele.Chat, id int64) string {
	if chat != nil {
		if name := strings.TrimSpace(chat.FirstName); name != "" {
			return name
		}
		if chat.Username != "" {
			return "@" + chat.Username
		}
	}
	return strconv.FormatInt(id, 10)
}

// userName is the display name carried in the correlation tag.
func userName(u *tele.User) string {
	if u == nil {
		return ""
	}
	name := strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
	if name == "" && u.Username != "" {
		name = "@" + u.Username
	}
	return name
}
