package telegram

import (
	"time"

	coreconfig "github.com/m3rciful/relaybot/core/config"
	"github.com/m3rciful/relaybot/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// MiddlewareOptions carries the application hooks of DefaultMiddlewares.
// Every field is optional.
type MiddlewareOptions struct {
	// OnLimited runs for updates the rate limit drops.
	OnLimited tele.HandlerFunc
	// Bypass exempts updates from the rate limit, e.g. messages that belong
	// to an open conversation.
	Bypass   func(tele.Context) bool
	Recorder middleware.UpdateRecorder
}

// DefaultMiddlewares builds the global chain in the order it runs: recover,
// update logging, the per-user rate limit when configured and handler
// metrics. The operator is never rate limited.
func DefaultMiddlewares(cfg *coreconfig.Config, opts MiddlewareOptions) []Middleware {
	mws := []Middleware{
		{Name: "recover", Use: middleware.RecoverMiddleware},
		{Name: "logger", Use: middleware.LoggerMiddleware},
	}
	if lim := rateLimit(cfg, opts); lim != nil {
		mws = append(mws, Middleware{Name: "rate_limit", Use: lim})
	}
	return append(mws, Middleware{Name: "metrics", Use: middleware.MessageMetricsMiddleware(opts.Recorder)})
}

func rateLimit(cfg *coreconfig.Config, opts MiddlewareOptions) tele.MiddlewareFunc {
	if cfg == nil || cfg.RateLimit.IntervalMS <= 0 {
		return nil
	}
	rl := middleware.RateLimitOptions{
		Interval:  time.Duration(cfg.RateLimit.IntervalMS) * time.Millisecond,
		Exclude:   make(map[string]struct{}, len(cfg.RateLimit.ExcludeUpdates)),
		Bypass:    opts.Bypass,
		OnLimited: opts.OnLimited,
	}
	for _, kind := range cfg.RateLimit.ExcludeUpdates {
		rl.Exclude[kind] = struct{}{}
	}
	if id := cfg.Telegram.AdminID; id != 0 {
		rl.Exempt = map[int64]struct{}{id: {}}
	}
	return middleware.RateLimitMiddleware(rl)
}
