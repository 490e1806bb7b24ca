// Package keys normalizes secp256k1 public keys to their x-only form.
package keys

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

var ErrInvalidKeyEncoding = errors.New("invalid key encoding")

// NormalizeXOnly converts a public key in compressed (66 hex chars) or x-only
// (64 hex chars) form into 64 lowercase hex chars. A 64-char input is
// lowercased as-is; no curve check happens at this layer. A 66-char input
// must decode to a valid compressed curve point.
func NormalizeXOnly(pubHex string) (string, error) {
	h := strings.ToLower(pubHex)
	switch len(h) {
	case 64:
		if _, err := hex.DecodeString(h); err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidKeyEncoding, err)
		}
		return h, nil
	case 66:
		raw, err := hex.DecodeString(h)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidKeyEncoding, err)
		}
		pub, err := secp256k1.ParsePubKey(raw)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidKeyEncoding, err)
		}
		// Drop the parity prefix byte of the compressed encoding.
		return hex.EncodeToString(pub.SerializeCompressed()[1:]), nil
	default:
		return "", fmt.Errorf("%w: expected 64 or 66 hex chars, got %d", ErrInvalidKeyEncoding, len(h))
	}
}
