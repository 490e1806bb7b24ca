package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ark-escrow/arkauth/internal/model"
	"github.com/ark-escrow/arkauth/internal/store"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := applySchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// migrations is an ordered list of SQL migrations.
// Each migration runs exactly once, tracked by schema_version table.
//
// The CHECK constraint keeps the pending-challenge columns an all-or-nothing
// set: either no challenge is outstanding or payload, id and expiry are all
// present.
var migrations = []string{
	// Migration 1: Initial schema
	`
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	public_key TEXT NOT NULL UNIQUE,
	pending_challenge TEXT,
	challenge_id TEXT,
	challenge_expires_at INTEGER,
	last_login_at INTEGER,
	created_at INTEGER NOT NULL,
	CHECK (
		(pending_challenge IS NULL AND challenge_id IS NULL AND challenge_expires_at IS NULL)
		OR
		(pending_challenge IS NOT NULL AND challenge_id IS NOT NULL AND challenge_expires_at IS NOT NULL)
	)
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_users_public_key ON users(public_key);
`,
	// Future migrations go here:
	// Migration 2: `ALTER TABLE ...`,
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY
		)
	`); err != nil {
		return err
	}

	var currentVersion int
	row := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`)
	if err := row.Scan(&currentVersion); err != nil {
		return err
	}

	for i := currentVersion; i < len(migrations); i++ {
		if _, err := db.Exec(migrations[i]); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
		if _, err := db.Exec(`INSERT INTO schema_version (version) VALUES (?)`, i+1); err != nil {
			return fmt.Errorf("failed to record migration %d: %w", i+1, err)
		}
	}

	return nil
}

func (s *Store) CreateUser(ctx context.Context, user *model.User) error {
	var pending, challengeID any
	var expires any
	if user.Pending != nil {
		pending = user.Pending.Payload
		challengeID = user.Pending.ID
		expires = user.Pending.ExpiresAt.UnixMilli()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO users (id, public_key, pending_challenge, challenge_id, challenge_expires_at, last_login_at, created_at)
VALUES (?, ?, ?, ?, ?, NULL, ?)
`, user.ID, user.PublicKey, pending, challengeID, expires, user.CreatedAt.Unix())
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicateKey
		}
		return err
	}
	return nil
}

func (s *Store) GetUserByPublicKey(ctx context.Context, publicKey string) (model.User, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, public_key, pending_challenge, challenge_id, challenge_expires_at, last_login_at, created_at
FROM users
WHERE public_key = ?
`, publicKey)
	return scanUser(row)
}

func (s *Store) GetUserByID(ctx context.Context, id string) (model.User, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, public_key, pending_challenge, challenge_id, challenge_expires_at, last_login_at, created_at
FROM users
WHERE id = ?
`, id)
	return scanUser(row)
}

// SetPendingChallenge overwrites any outstanding challenge for the user.
// Last writer wins: a new challenge intentionally invalidates the old one.
func (s *Store) SetPendingChallenge(ctx context.Context, userID string, pending model.PendingChallenge) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE users
SET pending_challenge = ?, challenge_id = ?, challenge_expires_at = ?
WHERE id = ?
`, pending.Payload, pending.ID, pending.ExpiresAt.UnixMilli(), userID)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ClearPendingChallenge atomically clears the pending fields and records the
// login time, but only while the stored challenge id still matches. A zero
// row count means the challenge was already consumed or replaced.
func (s *Store) ClearPendingChallenge(ctx context.Context, userID, challengeID string, lastLoginAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE users
SET pending_challenge = NULL, challenge_id = NULL, challenge_expires_at = NULL, last_login_at = ?
WHERE id = ? AND challenge_id = ?
`, lastLoginAt.Unix(), userID, challengeID)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return store.ErrNotFound
	}
	return nil
}

func scanUser(row *sql.Row) (model.User, error) {
	var u model.User
	var pending sql.NullString
	var challengeID sql.NullString
	var expires sql.NullInt64
	var lastLogin sql.NullInt64
	var created int64
	if err := row.Scan(&u.ID, &u.PublicKey, &pending, &challengeID, &expires, &lastLogin, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, store.ErrNotFound
		}
		return model.User{}, err
	}
	if pending.Valid && challengeID.Valid && expires.Valid {
		u.Pending = &model.PendingChallenge{
			Payload:   pending.String,
			ID:        challengeID.String,
			ExpiresAt: time.UnixMilli(expires.Int64),
		}
	}
	if lastLogin.Valid {
		t := time.Unix(lastLogin.Int64, 0)
		u.LastLoginAt = &t
	}
	u.CreatedAt = time.Unix(created, 0)
	return u, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "PRIMARY KEY")
}
