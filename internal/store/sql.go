package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"
)

// Migrations holds the schema for every SQL driver under migrations/<driver>.
//
//go:embed migrations
var Migrations embed.FS

// MigrationsDir is the root of Migrations passed to database.RunMigrations.
const MigrationsDir = "migrations"

// sqlBackend stores relay state in three tables. Writers are serialised with
// mu and each read-modify-write runs in one transaction, so the same code
// path is safe on SQLite and PostgreSQL.
type sqlBackend struct {
	db *sqlx.DB
	mu sync.Mutex
}

// NewSQL returns a Backend over an already migrated database.
func NewSQL(db *sqlx.DB) Backend {
	return &sqlBackend{db: db}
}

type sessionRow struct {
	UserID     int64  `db:"user_id"`
	ProductRef string `db:"product_ref"`
}

func (s *sqlBackend) GetSession(ctx context.Context, userID int64) (Session, bool, error) {
	var row sessionRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT user_id, product_ref FROM sessions WHERE user_id = ?`), userID)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, fmt.Errorf("select session: %w", err)
	}
	return Session{UserID: row.UserID, ProductRef: row.ProductRef}, true, nil
}

func (s *sqlBackend) ListSessions(ctx context.Context) (map[int64]string, error) {
	var rows []sessionRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT user_id, product_ref FROM sessions`); err != nil {
		return nil, fmt.Errorf("select sessions: %w", err)
	}
	out := make(map[int64]string, len(rows))
	for _, r := range rows {
		out[r.UserID] = r.ProductRef
	}
	return out, nil
}

func (s *sqlBackend) UpsertSession(ctx context.Context, userID int64, productRef string) (bool, error) {
	var created bool
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			tx.Rebind(`UPDATE sessions SET product_ref = ?, updated_at = CURRENT_TIMESTAMP WHERE user_id = ?`),
			productRef, userID,
		)
		if err != nil {
			return fmt.Errorf("update session: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if n > 0 {
			return nil
		}
		if _, err := tx.ExecContext(ctx,
			tx.Rebind(`INSERT INTO sessions (user_id, product_ref) VALUES (?, ?)`),
			userID, productRef,
		); err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		created = true
		return nil
	})
	return created, err
}

func (s *sqlBackend) DeleteSession(ctx context.Context, userID int64) (bool, error) {
	return s.execChanged(ctx, `DELETE FROM sessions WHERE user_id = ?`, userID)
}

func (s *sqlBackend) IsBlocked(ctx context.Context, userID int64) (bool, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, s.db.Rebind(`SELECT COUNT(*) FROM blocked_users WHERE user_id = ?`), userID); err != nil {
		return false, fmt.Errorf("select blocked: %w", err)
	}
	return n > 0, nil
}

func (s *sqlBackend) ListBlocked(ctx context.Context) ([]int64, error) {
	var ids []int64
	if err := s.db.SelectContext(ctx, &ids, `SELECT user_id FROM blocked_users ORDER BY user_id`); err != nil {
		return nil, fmt.Errorf("select blocked users: %w", err)
	}
	return ids, nil
}

func (s *sqlBackend) AddBlocked(ctx context.Context, userID int64) (bool, error) {
	return s.execChanged(ctx, `INSERT INTO blocked_users (user_id) VALUES (?) ON CONFLICT (user_id) DO NOTHING`, userID)
}

func (s *sqlBackend) DeleteBlocked(ctx context.Context, userID int64) (bool, error) {
	return s.execChanged(ctx, `DELETE FROM blocked_users WHERE user_id = ?`, userID)
}

func (s *sqlBackend) ListThread(ctx context.Context, userID int64) ([]int, error) {
	var handles []int
	if err := s.db.SelectContext(ctx, &handles,
		s.db.Rebind(`SELECT handle FROM thread_messages WHERE user_id = ? ORDER BY seq`), userID,
	); err != nil {
		return nil, fmt.Errorf("select thread: %w", err)
	}
	return handles, nil
}

func (s *sqlBackend) AppendThread(ctx context.Context, userID int64, handle int) (bool, error) {
	return s.execChanged(ctx,
		`INSERT INTO thread_messages (user_id, handle) VALUES (?, ?) ON CONFLICT (user_id, handle) DO NOTHING`,
		userID, handle,
	)
}

func (s *sqlBackend) ClearThread(ctx context.Context, userID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM thread_messages WHERE user_id = ?`), userID)
	if err != nil {
		return 0, fmt.Errorf("delete thread: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

func (s *sqlBackend) Close() error {
	return s.db.Close()
}

func (s *sqlBackend) execChanged(ctx context.Context, query string, args ...any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func (s *sqlBackend) withTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
