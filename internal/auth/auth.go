// Package auth implements the signup challenge/response handshake: challenge
// issuance, BIP-340 signature verification and the token exchange.
package auth

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ark-escrow/arkauth/internal/challenge"
	"github.com/ark-escrow/arkauth/internal/keys"
	"github.com/ark-escrow/arkauth/internal/model"
	"github.com/ark-escrow/arkauth/internal/store"
	"github.com/ark-escrow/arkauth/internal/token"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/google/uuid"
)

type Service struct {
	store        store.Store
	tokens       *token.Issuer
	challengeTTL time.Duration
}

// Verified is the identity attached to a request once the session guard
// accepts its bearer token.
type Verified struct {
	UserID    string
	PublicKey string
}

// ChallengeGrant is returned to a client starting signup. The client signs
// HashToSignHex off-band and echoes ChallengeID back on verification.
type ChallengeGrant struct {
	Challenge   challenge.Payload
	ChallengeID string
	HashToSign  string
	ExpiresAt   time.Time
}

// Session is the result of a successful verification.
type Session struct {
	AccessToken string
	UserID      string
	PublicKey   string
}

func NewService(store store.Store, tokens *token.Issuer, challengeTTL time.Duration) *Service {
	return &Service{
		store:        store,
		tokens:       tokens,
		challengeTTL: challengeTTL,
	}
}

// RequestChallenge creates (or reuses) the identity for the given public key
// and installs a fresh origin-scoped challenge on it, replacing any previous
// one. Last writer wins on concurrent requests for the same key.
func (s *Service) RequestChallenge(ctx context.Context, publicKeyRaw, origin string) (ChallengeGrant, error) {
	publicKey, err := keys.NormalizeXOnly(publicKeyRaw)
	if err != nil {
		return ChallengeGrant{}, err
	}

	user, err := s.store.GetUserByPublicKey(ctx, publicKey)
	if errors.Is(err, store.ErrNotFound) {
		user = model.User{ID: uuid.NewString(), PublicKey: publicKey, CreatedAt: time.Now()}
		if err := s.store.CreateUser(ctx, &user); err != nil {
			if !errors.Is(err, store.ErrDuplicateKey) {
				return ChallengeGrant{}, err
			}
			// Lost a create race; the row exists now.
			if user, err = s.store.GetUserByPublicKey(ctx, publicKey); err != nil {
				return ChallengeGrant{}, err
			}
		}
	} else if err != nil {
		return ChallengeGrant{}, err
	}

	issued, err := challenge.New(origin)
	if err != nil {
		return ChallengeGrant{}, err
	}
	payload, err := json.Marshal(issued.Payload)
	if err != nil {
		return ChallengeGrant{}, err
	}
	pending := model.PendingChallenge{
		Payload:   string(payload),
		ID:        issued.ID,
		ExpiresAt: time.Now().Add(s.challengeTTL),
	}
	if err := s.store.SetPendingChallenge(ctx, user.ID, pending); err != nil {
		return ChallengeGrant{}, err
	}

	return ChallengeGrant{
		Challenge:   issued.Payload,
		ChallengeID: issued.ID,
		HashToSign:  issued.HashHex,
		ExpiresAt:   pending.ExpiresAt,
	}, nil
}

// VerifySignup checks the Schnorr signature over the pending challenge hash
// and exchanges it for a bearer token. The pending state is cleared with an
// atomic compare-and-clear so a challenge can be consumed at most once.
func (s *Service) VerifySignup(ctx context.Context, publicKeyRaw, signatureHex, challengeID, origin string) (Session, error) {
	publicKey, err := keys.NormalizeXOnly(publicKeyRaw)
	if err != nil {
		return Session{}, err
	}

	user, err := s.store.GetUserByPublicKey(ctx, publicKey)
	if errors.Is(err, store.ErrNotFound) {
		return Session{}, ErrNoPendingChallenge
	}
	if err != nil {
		return Session{}, err
	}
	if user.Pending == nil {
		return Session{}, ErrNoPendingChallenge
	}
	if user.Pending.ID != challengeID {
		return Session{}, ErrChallengeMismatch
	}
	if user.Pending.Expired(time.Now()) {
		return Session{}, ErrChallengeExpired
	}

	var payload challenge.Payload
	if err := json.Unmarshal([]byte(user.Pending.Payload), &payload); err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrCorruptChallenge, err)
	}
	if payload.Origin != origin || payload.Type != challenge.TypeSignup {
		return Session{}, ErrInvalidChallengeDomain
	}

	ok, err := VerifySignature(signatureHex, challenge.Hash(payload), publicKey)
	if err != nil {
		return Session{}, err
	}
	if !ok {
		return Session{}, ErrInvalidSignature
	}

	if err := s.store.ClearPendingChallenge(ctx, user.ID, challengeID, time.Now()); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// A concurrent verification won the compare-and-clear.
			return Session{}, ErrNoPendingChallenge
		}
		return Session{}, err
	}

	accessToken, err := s.tokens.Issue(user.ID, user.PublicKey)
	if err != nil {
		return Session{}, err
	}
	return Session{AccessToken: accessToken, UserID: user.ID, PublicKey: user.PublicKey}, nil
}

// Authenticate resolves a bearer token to a verified identity. A user with
// an unresolved pending challenge is not authenticated, even with an
// otherwise valid token.
func (s *Service) Authenticate(ctx context.Context, bearer string) (Verified, error) {
	userID, _, err := s.tokens.Parse(bearer)
	if err != nil {
		return Verified{}, ErrInvalidToken
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return Verified{}, ErrInvalidToken
	}
	if err != nil {
		return Verified{}, err
	}
	if user.Pending != nil {
		return Verified{}, ErrPendingChallenge
	}
	return Verified{UserID: user.ID, PublicKey: user.PublicKey}, nil
}

// VerifySignature checks a 64-byte BIP-340 Schnorr signature over the 32-byte
// message hash against an x-only public key, all hex encoded. Malformed
// inputs fail with ErrInvalidSignatureInput; a well-formed but false
// signature returns false with no error.
func VerifySignature(signatureHex, hashHex, publicKeyHex string) (bool, error) {
	sigBytes, err := hex.DecodeString(signatureHex)
	if err != nil || len(sigBytes) != 64 {
		return false, fmt.Errorf("%w: signature must be 128 hex chars", ErrInvalidSignatureInput)
	}
	hashBytes, err := hex.DecodeString(hashHex)
	if err != nil || len(hashBytes) != 32 {
		return false, fmt.Errorf("%w: message hash must be 64 hex chars", ErrInvalidSignatureInput)
	}
	pubBytes, err := hex.DecodeString(publicKeyHex)
	if err != nil || len(pubBytes) != 32 {
		return false, fmt.Errorf("%w: public key must be 64 hex chars", ErrInvalidSignatureInput)
	}

	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidSignatureInput, err)
	}
	pub, err := schnorr.ParsePubKey(pubBytes)
	if err != nil {
		// A 32-byte x value that is not on the curve can never verify.
		return false, nil
	}
	return sig.Verify(hashBytes, pub), nil
}
