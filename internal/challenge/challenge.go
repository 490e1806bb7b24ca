// Package challenge builds and hashes signup challenges.
package challenge

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// TypeSignup is the only challenge type issued by this service.
const TypeSignup = "signup"

// Payload is the challenge a client must sign. Immutable once created; it is
// stored serialized on the user row and echoed back in the challenge
// response.
type Payload struct {
	Type     string `json:"type"`
	Nonce    string `json:"nonce"`
	IssuedAt string `json:"issuedAt"`
	Origin   string `json:"origin"`
}

// Issued is a freshly generated challenge. ID is the correlation token the
// client must echo back on verification; HashHex is the SHA-256 digest the
// client signs. The hash is never persisted, only recomputed via Hash.
type Issued struct {
	ID      string
	Payload Payload
	HashHex string
}

// New generates a challenge scoped to origin: a 16-byte random nonce, an
// 8-byte random correlation id and a millisecond-precision UTC timestamp.
func New(origin string) (Issued, error) {
	nonce, err := randomHex(16)
	if err != nil {
		return Issued{}, fmt.Errorf("generate nonce: %w", err)
	}
	id, err := randomHex(8)
	if err != nil {
		return Issued{}, fmt.Errorf("generate challenge id: %w", err)
	}
	p := Payload{
		Type:     TypeSignup,
		Nonce:    nonce,
		IssuedAt: time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
		Origin:   origin,
	}
	return Issued{ID: id, Payload: p, HashHex: Hash(p)}, nil
}

// Hash returns the lowercase hex SHA-256 digest of the signable message for
// p. It is deterministic: the same payload always yields the same digest.
func Hash(p Payload) string {
	msg := fmt.Sprintf("ARK-ESCROW signup\nnonce:%s\nissuedAt:%s\norigin:%s", p.Nonce, p.IssuedAt, p.Origin)
	sum := sha256.Sum256([]byte(msg))
	return hex.EncodeToString(sum[:])
}

func randomHex(size int) (string, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
