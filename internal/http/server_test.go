package httpapp

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ark-escrow/arkauth/internal/auth"
	"github.com/ark-escrow/arkauth/internal/client"
	"github.com/ark-escrow/arkauth/internal/config"
	"github.com/ark-escrow/arkauth/internal/rate"
	"github.com/ark-escrow/arkauth/internal/store/sqlite"
	"github.com/ark-escrow/arkauth/internal/token"
)

type allowAllLimiter struct{}

func (a allowAllLimiter) Allow(key string, limit int, window time.Duration) (bool, time.Duration) {
	return true, 0
}

func testConfig() config.Config {
	return config.Config{
		ChallengeOrigin: "https://api.local",
		RateLimits:      config.RateLimits{ChallengePerMinute: 100, VerifyPerMinute: 100},
		Version:         "test",
	}
}

func newTestServer(t *testing.T, dbName string, limiter rate.Limiter) *Server {
	t.Helper()
	st, err := sqlite.Open("file:" + dbName + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	cfg := testConfig()
	tokens := token.NewIssuer([]byte("test-secret"), time.Hour)
	authSvc := auth.NewService(st, tokens, 5*time.Minute)
	return NewServer(authSvc, limiter, cfg)
}

func TestSignupFlow(t *testing.T) {
	server := newTestServer(t, "http_flow", allowAllLimiter{})
	ts := httptest.NewServer(server)
	defer ts.Close()

	creds, err := client.GenerateCredentials()
	if err != nil {
		t.Fatalf("generate credentials: %v", err)
	}

	c := client.New(ts.URL)
	session, err := c.Signup(creds)
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	if session.AccessToken == "" {
		t.Fatalf("expected access token")
	}
	if session.PublicKey != creds.PublicKey {
		t.Fatalf("expected public key %s, got %s", creds.PublicKey, session.PublicKey)
	}

	userID, publicKey, err := c.Whoami()
	if err != nil {
		t.Fatalf("whoami: %v", err)
	}
	if userID != session.UserID || publicKey != session.PublicKey {
		t.Fatalf("whoami mismatch: %s/%s vs %+v", userID, publicKey, session)
	}

	if err := c.Signout(); err != nil {
		t.Fatalf("signout: %v", err)
	}
}

func TestChallengeRejectsBadPublicKey(t *testing.T) {
	server := newTestServer(t, "http_badkey", allowAllLimiter{})

	for _, body := range []string{
		`{"publicKey":"abc"}`,
		`{"publicKey":"` + strings.Repeat("zz", 32) + `"}`,
		`{}`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/signup/challenge", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp := httptest.NewRecorder()
		server.ServeHTTP(resp, req)
		if resp.Code != http.StatusBadRequest {
			t.Fatalf("body %s: expected 400, got %d", body, resp.Code)
		}
	}
}

func TestVerifyRejectsMalformedSignature(t *testing.T) {
	server := newTestServer(t, "http_badsig", allowAllLimiter{})

	body := `{"publicKey":"` + strings.Repeat("ab", 32) + `","signature":"abcd","challengeId":"deadbeefdeadbeef"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/signup/verify", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	server.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestVerifyWithoutChallenge(t *testing.T) {
	server := newTestServer(t, "http_nochallenge", allowAllLimiter{})

	body := `{"publicKey":"` + strings.Repeat("ab", 32) + `","signature":"` + strings.Repeat("ab", 64) + `","challengeId":"deadbeefdeadbeef"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/signup/verify", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	server.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestGuardMissingHeader(t *testing.T) {
	server := newTestServer(t, "http_guard_missing", allowAllLimiter{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/whoami", nil)
	resp := httptest.NewRecorder()
	server.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
	assertErrorContains(t, resp, "missing authorization header")
}

func TestGuardInvalidFormat(t *testing.T) {
	server := newTestServer(t, "http_guard_format", allowAllLimiter{})

	for _, header := range []string{"Token abc", "Bearer", "Bearer   "} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/whoami", nil)
		req.Header.Set("Authorization", header)
		resp := httptest.NewRecorder()
		server.ServeHTTP(resp, req)
		if resp.Code != http.StatusUnauthorized {
			t.Fatalf("header %q: expected 401, got %d", header, resp.Code)
		}
		assertErrorContains(t, resp, "invalid authorization format")
	}
}

func TestGuardInvalidToken(t *testing.T) {
	server := newTestServer(t, "http_guard_token", allowAllLimiter{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/whoami", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	resp := httptest.NewRecorder()
	server.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
	assertErrorContains(t, resp, "invalid token")
}

func TestGuardPendingChallenge(t *testing.T) {
	server := newTestServer(t, "http_guard_pending", allowAllLimiter{})
	ts := httptest.NewServer(server)
	defer ts.Close()

	creds, err := client.GenerateCredentials()
	if err != nil {
		t.Fatalf("generate credentials: %v", err)
	}
	c := client.New(ts.URL)
	session, err := c.Signup(creds)
	if err != nil {
		t.Fatalf("signup: %v", err)
	}

	// Starting a new handshake parks the identity; the earlier token stops
	// working until the new challenge is resolved.
	if _, err := c.RequestChallenge(creds.PublicKey); err != nil {
		t.Fatalf("request challenge: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+session.AccessToken)
	resp := httptest.NewRecorder()
	server.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
	assertErrorContains(t, resp, "pending challenge")
}

func TestChallengeRateLimited(t *testing.T) {
	server := newTestServer(t, "http_ratelimit", rate.NewMemory())
	server.cfg.RateLimits.ChallengePerMinute = 1

	body := `{"publicKey":"` + strings.Repeat("ab", 32) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/signup/challenge", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	server.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/auth/signup/challenge", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp = httptest.NewRecorder()
	server.ServeHTTP(resp, req)
	if resp.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: expected 429, got %d", resp.Code)
	}
}

func TestVersion(t *testing.T) {
	server := newTestServer(t, "http_version", allowAllLimiter{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/version", nil)
	resp := httptest.NewRecorder()
	server.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
}

func assertErrorContains(t *testing.T, resp *httptest.ResponseRecorder, want string) {
	t.Helper()
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("json parse: %v", err)
	}
	if !strings.Contains(payload.Error, want) {
		t.Fatalf("expected error containing %q, got %q", want, payload.Error)
	}
}
