package auth

import "errors"

// All of these are terminal for the current request; nothing is retried.
var (
	ErrNoPendingChallenge     = errors.New("no pending challenge")
	ErrChallengeMismatch      = errors.New("challenge mismatch")
	ErrChallengeExpired       = errors.New("challenge expired")
	ErrInvalidChallengeDomain = errors.New("invalid challenge domain")
	// ErrCorruptChallenge means the stored payload failed to parse. The
	// users table keeps the pending columns all-or-nothing, so seeing this
	// indicates a bug.
	ErrCorruptChallenge      = errors.New("corrupt challenge state")
	ErrInvalidSignatureInput = errors.New("invalid signature input")
	ErrInvalidSignature      = errors.New("invalid signature")
	ErrInvalidToken          = errors.New("invalid token")
	ErrPendingChallenge      = errors.New("user has pending challenge")
)
