package relay

import (
	"context"
	"errors"
	"log/slog"

	"github.com/m3rciful/relaybot/core/logger"
	"github.com/m3rciful/relaybot/internal/store"
)

// EndResult summarises the cleanup performed by EndSession.
type EndResult struct {
	Attempted  int
	Failed     int
	HadSession bool
	Notified   bool
}

// EndSession deletes every recorded operator-side message of userID, clears
// the thread, closes the session and offers the user a fresh help button.
// Deletion and notification failures are logged and never abort the teardown.
// Calling it for a user without a session or thread only sends the notice.
func (e *Engine) EndSession(ctx context.Context, userID int64) (EndResult, error) {
	unlock := e.locks.lock(userID)
	defer unlock()

	var res EndResult
	handles, err := e.threads.List(ctx, userID)
	if err != nil {
		return res, err
	}
	for _, h := range handles {
		res.Attempted++
		if err := e.transport.DeleteMessage(ctx, e.operatorID, h); err != nil {
			res.Failed++
			logger.Error(ctx, "relay", "relay.end.delete",
				slog.String("status", "fail"),
				slog.Int64("user_id", userID),
				slog.Int("handle", h),
				slog.String("err", err.Error()),
			)
		}
	}
	if err := e.threads.Clear(ctx, userID); err != nil {
		return res, err
	}

	sess, ok, err := e.sessions.Get(ctx, userID)
	if err != nil {
		return res, err
	}
	if ok {
		res.HadSession = true
		if err := e.sessions.Remove(ctx, userID); err != nil {
			return res, err
		}
	}

	controls := []Control{NeedHelpControl(sess.ProductRef)}
	if _, err := e.transport.SendText(ctx, userID, TextSessionEnded, controls); err != nil {
		logger.Error(ctx, "relay", "relay.end.notify",
			slog.String("status", "fail"),
			slog.Int64("user_id", userID),
			slog.String("err", err.Error()),
		)
	} else {
		res.Notified = true
	}

	logger.Info(ctx, "relay", "relay.end",
		slog.String("status", "ok"),
		slog.Int64("user_id", userID),
		slog.Int("handles_total", res.Attempted),
		slog.Int("handles_failed", res.Failed),
		slog.String("product_ref", sess.ProductRef),
	)
	return res, nil
}

// BlockUser adds userID to the block list and closes its session if one is
// open. The thread is left for EndSession.
func (e *Engine) BlockUser(ctx context.Context, userID int64) error {
	unlock := e.locks.lock(userID)
	defer unlock()

	if userID == e.operatorID {
		return e.reject(ctx, "relay.block", userID, "operator")
	}
	if err := e.blocks.Add(ctx, userID); err != nil {
		return err
	}
	if err := e.sessions.Remove(ctx, userID); err != nil {
		return err
	}
	logger.Info(ctx, "relay", "relay.block",
		slog.String("status", "ok"),
		slog.Int64("user_id", userID),
	)
	return nil
}

// UnblockUser removes userID from the block list. It returns
// store.ErrNotBlocked when the user was not blocked. No session is restored.
func (e *Engine) UnblockUser(ctx context.Context, userID int64) error {
	unlock := e.locks.lock(userID)
	defer unlock()

	err := e.blocks.Remove(ctx, userID)
	switch {
	case errors.Is(err, store.ErrNotBlocked):
		logger.Warn(ctx, "relay", "relay.unblock",
			slog.String("status", "skip"),
			slog.Int64("user_id", userID),
			slog.String("reason", "not_blocked"),
		)
		return err
	case err != nil:
		return err
	}
	logger.Info(ctx, "relay", "relay.unblock",
		slog.String("status", "ok"),
		slog.Int64("user_id", userID),
	)
	return nil
}
