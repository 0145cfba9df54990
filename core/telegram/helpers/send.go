package helpers

import (
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/m3rciful/relaybot/core/logger"
	"github.com/m3rciful/relaybot/core/telegram/sender"

	tele "gopkg.in/telebot.v4"
)

var dispatcher atomic.Pointer[sender.Dispatcher]

// SetDispatcher routes the Send helpers through d; nil sends inline.
func SetDispatcher(d *sender.Dispatcher) {
	dispatcher.Store(d)
}

// deliver queues run on the active dispatcher. A full or closed queue
// degrades to an inline call so handler replies are not lost.
func deliver(c tele.Context, action, endpoint string, run func() error) error {
	d := dispatcher.Load()
	if d == nil {
		return run()
	}
	ctx := BuildContext(c)
	err := d.Enqueue(ctx, action, endpoint, run)
	if errors.Is(err, sender.ErrQueueFull) || errors.Is(err, sender.ErrQueueClosed) {
		logger.Warn(ctx, "tg.sender", "queue.fallback",
			slog.String("status", "retry"),
			slog.String("action", action),
			logger.ErrAttr(err),
		)
		return run()
	}
	return err
}

// Send delivers what (text, photo, document) to the chat of c.
func Send(c tele.Context, action string, what any, opts ...any) error {
	return deliver(c, action, "sendMessage", func() error {
		return c.Send(what, opts...)
	})
}

// SendText sends plain text with no parse mode.
func SendText(c tele.Context, text string, opts ...any) error {
	return Send(c, "send.text", text, opts...)
}

// SendHTML sends HTML-formatted text with an optional keyboard.
func SendHTML(c tele.Context, text string, markup *tele.ReplyMarkup) error {
	return Send(c, "send.html", text, &tele.SendOptions{ParseMode: tele.ModeHTML, ReplyMarkup: markup})
}
