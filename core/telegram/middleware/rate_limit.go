package middleware

import (
	"log/slog"
	"sync"
	"time"

	"github.com/m3rciful/relaybot/core/logger"
	tghelpers "github.com/m3rciful/relaybot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// RateLimitOptions configures behaviour of the rate limit middleware.
type RateLimitOptions struct {
	// Interval is the minimum gap between two updates of one user.
	Interval time.Duration
	// Exclude lists update kinds (see UpdateKind) that are never limited.
	Exclude map[string]struct{}
	// Exempt users are never limited; the operator is usually one.
	Exempt map[int64]struct{}
	// Bypass lets updates through unlimited when it returns true, for
	// updates that must never be dropped.
	Bypass    func(tele.Context) bool
	OnLimited tele.HandlerFunc
}

// limiter remembers the last accepted update per user. Entries older than
// the interval carry no information and are pruned on the way.
type limiter struct {
	interval time.Duration
	mu       sync.Mutex
	seen     map[int64]time.Time
	pruned   time.Time
}

func (l *limiter) allow(userID int64, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.pruned) > l.interval*100 {
		for id, ts := range l.seen {
			if now.Sub(ts) >= l.interval {
				delete(l.seen, id)
			}
		}
		l.pruned = now
	}

	if last, ok := l.seen[userID]; ok && now.Sub(last) < l.interval {
		return false
	}
	l.seen[userID] = now
	return true
}

// RateLimitMiddleware drops updates arriving faster than opts.Interval from
// the same user.
func RateLimitMiddleware(opts RateLimitOptions) tele.MiddlewareFunc {
	lim := &limiter{interval: opts.Interval, seen: make(map[int64]time.Time)}
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			user := c.Sender()
			if user == nil || opts.Interval <= 0 {
				return next(c)
			}
			if _, ok := opts.Exempt[user.ID]; ok {
				return next(c)
			}
			if _, ok := opts.Exclude[UpdateKind(c.Update())]; ok {
				return next(c)
			}
			if opts.Bypass != nil && opts.Bypass(c) {
				return next(c)
			}
			if lim.allow(user.ID, time.Now()) {
				return next(c)
			}

			logger.Warn(tghelpers.BuildContext(c), "tg", "tg.rate_limit",
				slog.String("status", "rate_limited"),
				slog.Duration("interval", opts.Interval),
			)
			if opts.OnLimited != nil {
				_ = opts.OnLimited(c)
			}
			return nil
		}
	}
}
