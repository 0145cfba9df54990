package middleware

import (
	"github.com/m3rciful/relaybot/core/logger"
	tghelpers "github.com/m3rciful/relaybot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

const (
	keyMessages = "messages"
	keyKeyboard = "kb"
)

// UpdateRecorder receives one observation per update that reached the bot.
type UpdateRecorder interface {
	UpdateHandled(handler, outcome string)
}

// countingContext counts successful sends so the handler summary can report
// how many messages an update produced and whether any carried a keyboard.
type countingContext struct{ tele.Context }

func (m countingContext) count(opts []interface{}) {
	n, kb := GetCounters(m)
	m.Set(keyMessages, n+1)
	if kb || hasKeyboard(opts) {
		m.Set(keyKeyboard, true)
	}
}

func hasKeyboard(opts []interface{}) bool {
	for _, o := range opts {
		switch v := o.(type) {
		case *tele.SendOptions:
			if v != nil && v.ReplyMarkup != nil {
				return true
			}
		case *tele.ReplyMarkup:
			if v != nil {
				return true
			}
		}
	}
	return false
}

// Send implements tele.Context.
func (m countingContext) Send(what interface{}, opts ...interface{}) error {
	err := m.Context.Send(what, opts...)
	if err == nil {
		m.count(opts)
	}
	return err
}

// Reply implements tele.Context.
func (m countingContext) Reply(what interface{}, opts ...interface{}) error {
	err := m.Context.Reply(what, opts...)
	if err == nil {
		m.count(opts)
	}
	return err
}

// MessageMetricsMiddleware counts messages sent while handling an update and
// reports the handler outcome to rec, which may be nil.
func MessageMetricsMiddleware(rec UpdateRecorder) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			c.Set(keyMessages, 0)
			c.Set(keyKeyboard, false)
			err := next(countingContext{Context: c})
			if rec != nil {
				outcome := "ok"
				if err != nil {
					outcome = "fail"
				}
				rec.UpdateHandled(handlerOf(c), outcome)
			}
			return err
		}
	}
}

// handlerOf returns the handler name the router stored for c.
func handlerOf(c tele.Context) string {
	if ctx, ok := tghelpers.ContextFrom(c); ok {
		if name := logger.HandlerFrom(ctx); name != "" {
			return name
		}
	}
	return "unrouted"
}

// GetCounters reads the message count and keyboard flag for the update.
func GetCounters(c tele.Context) (int, bool) {
	n, _ := c.Get(keyMessages).(int)
	kb, _ := c.Get(keyKeyboard).(bool)
	return n, kb
}
