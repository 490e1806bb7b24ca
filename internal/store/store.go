package store

import (
	"context"
	"errors"
	"time"

	"github.com/ark-escrow/arkauth/internal/model"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicateKey = errors.New("duplicate public key")
)

// Store persists user identities keyed uniquely by x-only public key.
//
// ClearPendingChallenge is the atomic compare-and-clear that makes
// verification exactly-once: it clears the pending fields only if the stored
// challenge id still matches, and reports ErrNotFound otherwise. Concurrent
// verifications of the same challenge therefore admit at most one winner.
type Store interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUserByPublicKey(ctx context.Context, publicKey string) (model.User, error)
	GetUserByID(ctx context.Context, id string) (model.User, error)
	SetPendingChallenge(ctx context.Context, userID string, pending model.PendingChallenge) error
	ClearPendingChallenge(ctx context.Context, userID, challengeID string, lastLoginAt time.Time) error
	Close() error
}
