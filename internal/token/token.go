// Package token issues and validates the bearer tokens handed out after a
// successful signup verification.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims carries the user id in the registered subject claim plus the
// normalized x-only public key the identity was proven with.
type Claims struct {
	jwt.RegisteredClaims
	PublicKey string `json:"publicKey"`
}

type Issuer struct {
	secret []byte
	ttl    time.Duration
}

func NewIssuer(secret []byte, ttl time.Duration) *Issuer {
	return &Issuer{secret: secret, ttl: ttl}
}

// Issue mints an HS256 token for userID valid for the issuer's window.
func (i *Issuer) Issue(userID, publicKey string) (string, error) {
	now := time.Now()
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		PublicKey: publicKey,
	})
	return t.SignedString(i.secret)
}

// Parse validates signature and expiry and returns the embedded identity.
func (i *Issuer) Parse(tokenString string) (userID, publicKey string, err error) {
	claims := &Claims{}
	t, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return i.secret, nil
	})
	if err != nil {
		return "", "", err
	}
	if !t.Valid || claims.Subject == "" {
		return "", "", ErrInvalidToken
	}
	return claims.Subject, claims.PublicKey, nil
}
