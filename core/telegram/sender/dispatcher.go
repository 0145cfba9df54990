// Package sender runs outgoing Telegram API calls with retries, either
// queued on a worker pool or inline when the caller needs the result.
package sender

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/m3rciful/relaybot/core/logger"
)

var (
	// ErrQueueClosed is returned by Enqueue after Close.
	ErrQueueClosed = errors.New("telegram sender: queue closed")
	// ErrQueueFull is returned by Enqueue when every slot is taken.
	ErrQueueFull = errors.New("telegram sender: queue full")

	errNilRun = errors.New("telegram sender: nil run function")
)

// Options tunes a Dispatcher. Zero values take the defaults below.
type Options struct {
	QueueSize    int           // default 256
	Workers      int           // default 4
	MaxRetries   int           // retries after the first attempt
	RetryBackoff time.Duration // linear step, default 2s
	// MaxDuration bounds the time spent on one call including retries.
	MaxDuration time.Duration // default 12s
}

func (o *Options) defaults() {
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	o.MaxRetries = max(o.MaxRetries, 0)
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 2 * time.Second
	}
	if o.MaxDuration <= 0 {
		o.MaxDuration = 12 * time.Second
	}
}

// call is one outgoing API request. run must be safe to repeat.
type call struct {
	ctx      context.Context
	action   string
	endpoint string
	run      func() error
}

// Dispatcher executes Telegram calls with retries on a fixed worker pool.
type Dispatcher struct {
	opts  Options
	queue chan call
	wg    sync.WaitGroup
	fails atomic.Uint64

	// mu guards closed and the queue close against concurrent Enqueue.
	mu     sync.RWMutex
	closed bool
}

// NewDispatcher starts opts.Workers workers.
func NewDispatcher(opts Options) *Dispatcher {
	opts.defaults()
	d := &Dispatcher{opts: opts, queue: make(chan call, opts.QueueSize)}
	d.wg.Add(opts.Workers)
	for range opts.Workers {
		go func() {
			defer d.wg.Done()
			for c := range d.queue {
				_ = d.execute(c)
			}
		}()
	}
	return d
}

// Enqueue schedules run for a worker without waiting for it.
func (d *Dispatcher) Enqueue(ctx context.Context, action, endpoint string, run func() error) error {
	if run == nil {
		return errNilRun
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrQueueClosed
	}
	select {
	case d.queue <- call{ctx: ctx, action: action, endpoint: endpoint, run: run}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Do runs the call on the caller's goroutine with the same retry policy as
// queued calls, for callers that need what run captured, like a message id.
func (d *Dispatcher) Do(ctx context.Context, action, endpoint string, run func() error) error {
	if run == nil {
		return errNilRun
	}
	return d.execute(call{ctx: ctx, action: action, endpoint: endpoint, run: run})
}

// ErrorCount returns the number of calls that failed for good.
func (d *Dispatcher) ErrorCount() uint64 {
	return d.fails.Load()
}

// Close stops accepting calls and waits for the queued ones. It is safe to
// call more than once.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) execute(c call) error {
	ctx := c.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	// The call outlives a cancelled update context but not MaxDuration.
	bounded, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.opts.MaxDuration)
	defer cancel()

	start := time.Now()
	attempts := d.opts.MaxRetries + 1
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = c.run(); err == nil {
			logger.Debug(ctx, "tg.sender", "send.success", c.attrs(ctx,
				slog.Int("attempts", attempt),
				slog.Int64("duration_ms", elapsedMS(start)),
			)...)
			return nil
		}
		if attempt == attempts || !retryable(err) {
			break
		}

		delay := backoffFor(err, d.opts.RetryBackoff, attempt)
		logger.Debug(ctx, "tg.sender", "send.retry", c.attrs(ctx,
			slog.String("status", "retry"),
			slog.Int("attempts", attempt),
			slog.Int64("backoff_ms", delay.Milliseconds()),
		)...)
		if !sleep(bounded, delay) {
			err = errors.Join(err, bounded.Err())
			break
		}
	}

	d.fails.Add(1)
	logger.Error(ctx, "tg.sender", "send.fail", c.attrs(ctx,
		slog.String("status", "fail"),
		slog.String("err", redactToken(err)),
		slog.String("err_code", classifyError(err)),
		slog.Bool("retryable", retryable(err)),
		slog.Int64("duration_ms", elapsedMS(start)),
	)...)
	return err
}

// sleep waits for d and reports false when ctx ends first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func elapsedMS(start time.Time) int64 {
	return logger.RoundMS(time.Since(start)).Milliseconds()
}

func (c call) attrs(ctx context.Context, extra ...slog.Attr) []slog.Attr {
	attrs := []slog.Attr{slog.String("action", c.action)}
	if c.endpoint != "" {
		attrs = append(attrs, slog.String("endpoint", c.endpoint))
	}
	if id := logger.UpdateIDFrom(ctx); id != 0 {
		attrs = append(attrs, slog.Int("update_id", id))
	}
	if id := logger.ChatIDFrom(ctx); id != 0 {
		attrs = append(attrs, slog.Int64("chat_id", id))
	}
	return append(attrs, extra...)
}
