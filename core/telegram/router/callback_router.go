package router

import (
	"log/slog"

	tg "github.com/m3rciful/relaybot/core/telegram"
	"github.com/m3rciful/relaybot/core/telegram/callbacks"
	"github.com/m3rciful/relaybot/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// CallbackOptions customises fallback behaviour for callbacks.
type CallbackOptions struct {
	// NotFound replaces the registry fallback for unknown keys.
	NotFound tele.HandlerFunc
}

// CallbackRoute dispatches every callback by its unique key. Callbacks the
// handler did not answer with callbacks.Answer get an empty answer so the
// client stops its spinner.
func CallbackRoute(reg *tg.Registry, opts CallbackOptions) tg.Route {
	handler := func(c tele.Context) error {
		cb := c.Callback()
		if cb == nil {
			return nil
		}
		defer func() {
			if !callbacks.Answered(c) {
				_ = c.Respond()
			}
		}()

		key, _ := callbacks.ParseCallbackData(cb)
		s := newSummary("callback."+handlerName(key), slog.String("cb_key", key))

		if fn, ok := reg.GetCallback(key); ok {
			return s.run(c, func() error { return fn(c) })
		}

		fallback := opts.NotFound
		if fallback == nil {
			fallback = reg.CallbackNotFound()
		}
		s.status = "skip"
		s.extras = append(s.extras, slog.String("reason", "not_found"))
		return s.run(c, func() error {
			if fallback == nil {
				return nil
			}
			return fallback(c)
		})
	}
	return tg.Route{Endpoint: tele.OnCallback, Handler: middleware.RecoverMiddleware(handler)}
}
