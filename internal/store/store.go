// Package store persists relay state: active sessions, the block list and
// the per-user ledger of operator-side message handles.
//
// Every operation is a single atomic read-modify-write against the backend
// of record. Backends report whether a call changed anything so the
// observer sees exactly one delta per real transition.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/m3rciful/relaybot/core/logger"
)

// ErrNotBlocked is returned by BlockList.Remove when the user was not blocked.
var ErrNotBlocked = errors.New("store: user was not blocked")

// Session is an open help request of one user.
type Session struct {
	UserID     int64
	ProductRef string
}

// Backend is the storage engine behind the three relay stores.
// Mutating methods report whether the call changed persisted state.
type Backend interface {
	GetSession(ctx context.Context, userID int64) (Session, bool, error)
	ListSessions(ctx context.Context) (map[int64]string, error)
	UpsertSession(ctx context.Context, userID int64, productRef string) (created bool, err error)
	DeleteSession(ctx context.Context, userID int64) (deleted bool, err error)

	IsBlocked(ctx context.Context, userID int64) (bool, error)
	ListBlocked(ctx context.Context) ([]int64, error)
	AddBlocked(ctx context.Context, userID int64) (added bool, err error)
	DeleteBlocked(ctx context.Context, userID int64) (deleted bool, err error)

	ListThread(ctx context.Context, userID int64) ([]int, error)
	AppendThread(ctx context.Context, userID int64, handle int) (appended bool, err error)
	ClearThread(ctx context.Context, userID int64) (cleared int, err error)

	Close() error
}

// Observer receives gauge deltas for active sessions and blocked users.
type Observer interface {
	SessionsChanged(delta int)
	BlockedChanged(delta int)
}

type nopObserver struct{}

func (nopObserver) SessionsChanged(int) {}
func (nopObserver) BlockedChanged(int)  {}

// Store bundles the session store, block list and thread ledger over one backend.
type Store struct {
	backend  Backend
	sessions *SessionStore
	blocks   *BlockList
	threads  *ThreadLedger
}

// New wraps backend with observer notifications. A nil observer is allowed.
func New(backend Backend, obs Observer) *Store {
	if obs == nil {
		obs = nopObserver{}
	}
	return &Store{
		backend:  backend,
		sessions: &SessionStore{backend: backend, obs: obs},
		blocks:   &BlockList{backend: backend, obs: obs},
		threads:  &ThreadLedger{backend: backend},
	}
}

// Sessions returns the session store.
func (s *Store) Sessions() *SessionStore { return s.sessions }

// Blocks returns the block list.
func (s *Store) Blocks() *BlockList { return s.blocks }

// Threads returns the thread ledger.
func (s *Store) Threads() *ThreadLedger { return s.threads }

// Sync reports the persisted counts to the observer as deltas from zero.
// Call it once at startup so gauges survive restarts.
func (s *Store) Sync(ctx context.Context) error {
	active, err := s.backend.ListSessions(ctx)
	if err != nil {
		return fmt.Errorf("store: sync sessions: %w", err)
	}
	blocked, err := s.backend.ListBlocked(ctx)
	if err != nil {
		return fmt.Errorf("store: sync blocked: %w", err)
	}
	if n := len(active); n > 0 {
		s.sessions.obs.SessionsChanged(n)
	}
	if n := len(blocked); n > 0 {
		s.blocks.obs.BlockedChanged(n)
	}
	logger.Info(ctx, "store", "store.sync",
		slog.String("status", "ok"),
		slog.Int("sessions", len(active)),
		slog.Int("blocked", len(blocked)),
	)
	return nil
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// SessionStore maps user IDs to their open help request.
type SessionStore struct {
	backend Backend
	obs     Observer
}

// Get returns the session of userID if one exists.
func (s *SessionStore) Get(ctx context.Context, userID int64) (Session, bool, error) {
	return s.backend.GetSession(ctx, userID)
}

// List returns all active sessions as user ID -> product ref.
func (s *SessionStore) List(ctx context.Context) (map[int64]string, error) {
	return s.backend.ListSessions(ctx)
}

// Upsert opens a session or updates the product ref of an existing one.
func (s *SessionStore) Upsert(ctx context.Context, userID int64, productRef string) error {
	created, err := s.backend.UpsertSession(ctx, userID, productRef)
	if err != nil {
		return persistenceFailure(ctx, "session.upsert", userID, err)
	}
	if created {
		s.obs.SessionsChanged(1)
	}
	logger.Info(ctx, "store", "session.upsert",
		slog.String("status", "ok"),
		slog.Int64("user_id", userID),
		slog.String("product_ref", productRef),
		slog.Bool("created", created),
	)
	return nil
}

// Remove closes the session of userID. Absent sessions are a no-op.
func (s *SessionStore) Remove(ctx context.Context, userID int64) error {
	deleted, err := s.backend.DeleteSession(ctx, userID)
	if err != nil {
		return persistenceFailure(ctx, "session.remove", userID, err)
	}
	if deleted {
		s.obs.SessionsChanged(-1)
		logger.Info(ctx, "store", "session.remove",
			slog.String("status", "ok"),
			slog.Int64("user_id", userID),
		)
	}
	return nil
}

// BlockList is the set of users whose relay actions are suppressed.
type BlockList struct {
	backend Backend
	obs     Observer
}

// Contains reports whether userID is blocked.
func (b *BlockList) Contains(ctx context.Context, userID int64) (bool, error) {
	return b.backend.IsBlocked(ctx, userID)
}

// List returns blocked user IDs in ascending order.
func (b *BlockList) List(ctx context.Context) ([]int64, error) {
	return b.backend.ListBlocked(ctx)
}

// Add blocks userID. Blocking twice is a no-op.
func (b *BlockList) Add(ctx context.Context, userID int64) error {
	added, err := b.backend.AddBlocked(ctx, userID)
	if err != nil {
		return persistenceFailure(ctx, "block.add", userID, err)
	}
	if added {
		b.obs.BlockedChanged(1)
		logger.Info(ctx, "store", "block.add",
			slog.String("status", "ok"),
			slog.Int64("user_id", userID),
		)
	}
	return nil
}

// Remove unblocks userID and returns ErrNotBlocked if it was not blocked.
func (b *BlockList) Remove(ctx context.Context, userID int64) error {
	deleted, err := b.backend.DeleteBlocked(ctx, userID)
	if err != nil {
		return persistenceFailure(ctx, "block.remove", userID, err)
	}
	if !deleted {
		return ErrNotBlocked
	}
	b.obs.BlockedChanged(-1)
	logger.Info(ctx, "store", "block.remove",
		slog.String("status", "ok"),
		slog.Int64("user_id", userID),
	)
	return nil
}

// ThreadLedger records operator-side message handles per user for cleanup.
type ThreadLedger struct {
	backend Backend
}

// List returns the handles recorded for userID in insertion order.
func (t *ThreadLedger) List(ctx context.Context, userID int64) ([]int, error) {
	return t.backend.ListThread(ctx, userID)
}

// Append records handle for userID unless it is already present.
func (t *ThreadLedger) Append(ctx context.Context, userID int64, handle int) error {
	appended, err := t.backend.AppendThread(ctx, userID, handle)
	if err != nil {
		return persistenceFailure(ctx, "thread.append", userID, err)
	}
	if appended {
		logger.Debug(ctx, "store", "thread.append",
			slog.Int64("user_id", userID),
			slog.Int("handle", handle),
		)
	}
	return nil
}

// Clear drops the whole ledger record of userID.
func (t *ThreadLedger) Clear(ctx context.Context, userID int64) error {
	n, err := t.backend.ClearThread(ctx, userID)
	if err != nil {
		return persistenceFailure(ctx, "thread.clear", userID, err)
	}
	if n > 0 {
		logger.Info(ctx, "store", "thread.clear",
			slog.String("status", "ok"),
			slog.Int64("user_id", userID),
			slog.Int("handles_total", n),
		)
	}
	return nil
}

func persistenceFailure(ctx context.Context, op string, userID int64, err error) error {
	logger.Error(ctx, "store", op,
		slog.String("status", "fail"),
		slog.Int64("user_id", userID),
		slog.String("err", err.Error()),
	)
	return fmt.Errorf("store: %s: %w", op, err)
}
