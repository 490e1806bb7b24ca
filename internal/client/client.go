// Package client provides a Go client for the ARK Escrow auth API, including
// local key generation and challenge signing.
package client

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ark-escrow/arkauth/internal/challenge"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// Client talks to the auth API.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Token      string
}

// Credentials holds a secp256k1 keypair. PublicKey is the 64-char x-only hex
// form the server stores.
type Credentials struct {
	PublicKey  string
	privateKey *btcec.PrivateKey
}

// ChallengeGrant mirrors the signup/challenge response.
type ChallengeGrant struct {
	Challenge     challenge.Payload `json:"challenge"`
	ChallengeID   string            `json:"challengeId"`
	HashToSignHex string            `json:"hashToSignHex"`
	ExpiresAt     time.Time         `json:"expiresAt"`
}

// Session mirrors the signup/verify response.
type Session struct {
	AccessToken string `json:"accessToken"`
	UserID      string `json:"userId"`
	PublicKey   string `json:"publicKey"`
}

// New creates a new auth API client.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// GenerateCredentials creates a fresh secp256k1 keypair.
func GenerateCredentials() (*Credentials, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}
	return &Credentials{
		PublicKey:  hex.EncodeToString(schnorr.SerializePubKey(priv.PubKey())),
		privateKey: priv,
	}, nil
}

// CredentialsFromHex restores credentials from a 64-char private key hex.
func CredentialsFromHex(privHex string) (*Credentials, error) {
	raw, err := hex.DecodeString(privHex)
	if err != nil || len(raw) != 32 {
		return nil, errors.New("private key must be 64 hex chars")
	}
	priv, _ := btcec.PrivKeyFromBytes(raw)
	return &Credentials{
		PublicKey:  hex.EncodeToString(schnorr.SerializePubKey(priv.PubKey())),
		privateKey: priv,
	}, nil
}

// PrivateKeyHex returns the private key serialized for persistence.
func (c *Credentials) PrivateKeyHex() string {
	return hex.EncodeToString(c.privateKey.Serialize())
}

// Sign produces a BIP-340 Schnorr signature over a 32-byte hex-encoded hash.
func (c *Credentials) Sign(hashHex string) (string, error) {
	hash, err := hex.DecodeString(hashHex)
	if err != nil || len(hash) != 32 {
		return "", errors.New("hash must be 64 hex chars")
	}
	sig, err := schnorr.Sign(c.privateKey, hash)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sig.Serialize()), nil
}

// RequestChallenge asks the server for a signup challenge.
func (c *Client) RequestChallenge(publicKey string) (ChallengeGrant, error) {
	var grant ChallengeGrant
	err := c.post("/api/v1/auth/signup/challenge", map[string]string{"publicKey": publicKey}, &grant)
	return grant, err
}

// Verify submits the signed challenge and returns the issued session.
func (c *Client) Verify(publicKey, signature, challengeID string) (Session, error) {
	var session Session
	err := c.post("/api/v1/auth/signup/verify", map[string]string{
		"publicKey":   publicKey,
		"signature":   signature,
		"challengeId": challengeID,
	}, &session)
	if err == nil {
		c.Token = session.AccessToken
	}
	return session, err
}

// Signup runs the whole handshake: challenge, local signing, verify.
func (c *Client) Signup(creds *Credentials) (Session, error) {
	grant, err := c.RequestChallenge(creds.PublicKey)
	if err != nil {
		return Session{}, err
	}
	sig, err := creds.Sign(grant.HashToSignHex)
	if err != nil {
		return Session{}, err
	}
	return c.Verify(creds.PublicKey, sig, grant.ChallengeID)
}

// Whoami returns the identity the server attaches to the current token.
func (c *Client) Whoami() (userID, publicKey string, err error) {
	var resp struct {
		UserID    string `json:"userId"`
		PublicKey string `json:"publicKey"`
	}
	if err := c.get("/api/v1/auth/whoami", &resp); err != nil {
		return "", "", err
	}
	return resp.UserID, resp.PublicKey, nil
}

// Signout hits the guarded signout route with the current token.
func (c *Client) Signout() error {
	return c.post("/api/v1/auth/signout", map[string]string{}, &struct{}{})
}

func (c *Client) post(path string, payload any, dest any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, dest)
}

func (c *Client) get(path string, dest any) error {
	req, err := http.NewRequest(http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, dest)
}

func (c *Client) do(req *http.Request, dest any) error {
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}
	return json.Unmarshal(raw, dest)
}
