package model

import "time"

// User is one identity per distinct x-only public key. Pending is nil when no
// challenge is outstanding; when non-nil, payload, id and expiry are all set.
type User struct {
	ID          string
	PublicKey   string
	Pending     *PendingChallenge
	LastLoginAt *time.Time
	CreatedAt   time.Time
}

// PendingChallenge is the outstanding challenge for a user. Payload holds the
// serialized challenge exactly as issued; the signable hash is recomputed
// from it at verification time.
type PendingChallenge struct {
	Payload   string
	ID        string
	ExpiresAt time.Time
}

func (p *PendingChallenge) Expired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}
