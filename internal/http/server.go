// Package httpapp exposes the signup handshake and guarded routes over JSON.
package httpapp

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ark-escrow/arkauth/internal/auth"
	"github.com/ark-escrow/arkauth/internal/config"
	"github.com/ark-escrow/arkauth/internal/keys"
	"github.com/ark-escrow/arkauth/internal/rate"
)

type Server struct {
	auth    *auth.Service
	limiter rate.Limiter
	cfg     config.Config
}

func NewServer(authSvc *auth.Service, limiter rate.Limiter, cfg config.Config) *Server {
	return &Server{auth: authSvc, limiter: limiter, cfg: cfg}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1")
	segments := splitPath(path)

	switch {
	case len(segments) == 3 && segments[0] == "auth" && segments[1] == "signup" && segments[2] == "challenge":
		if r.Method == http.MethodPost {
			s.handleSignupChallenge(w, r)
			return
		}
		methodNotAllowed(w)
		return
	case len(segments) == 3 && segments[0] == "auth" && segments[1] == "signup" && segments[2] == "verify":
		if r.Method == http.MethodPost {
			s.handleSignupVerify(w, r)
			return
		}
		methodNotAllowed(w)
		return
	case len(segments) == 2 && segments[0] == "auth" && segments[1] == "signout":
		if r.Method == http.MethodPost {
			s.handleSignout(w, r)
			return
		}
		methodNotAllowed(w)
		return
	case len(segments) == 2 && segments[0] == "auth" && segments[1] == "whoami":
		if r.Method == http.MethodGet {
			s.handleWhoami(w, r)
			return
		}
		methodNotAllowed(w)
		return
	case len(segments) == 1 && segments[0] == "version":
		if r.Method == http.MethodGet {
			s.handleVersion(w, r)
			return
		}
		methodNotAllowed(w)
		return
	}

	notFound(w)
}

func (s *Server) handleSignupChallenge(w http.ResponseWriter, r *http.Request) {
	if allowed, retry := s.limiter.Allow("challenge:"+s.clientIP(r), s.cfg.RateLimits.ChallengePerMinute, time.Minute); !allowed {
		writeRateLimit(w, retry)
		return
	}

	var req struct {
		PublicKey string `json:"publicKey"`
	}
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := validatePublicKey(req.PublicKey); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	grant, err := s.auth.RequestChallenge(r.Context(), req.PublicKey, s.requestOrigin(r))
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"challenge":     grant.Challenge,
		"challengeId":   grant.ChallengeID,
		"hashToSignHex": grant.HashToSign,
		"expiresAt":     grant.ExpiresAt.UTC(),
	})
}

func (s *Server) handleSignupVerify(w http.ResponseWriter, r *http.Request) {
	if allowed, retry := s.limiter.Allow("verify:"+s.clientIP(r), s.cfg.RateLimits.VerifyPerMinute, time.Minute); !allowed {
		writeRateLimit(w, retry)
		return
	}

	var req struct {
		PublicKey   string `json:"publicKey"`
		Signature   string `json:"signature"`
		ChallengeID string `json:"challengeId"`
	}
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := validatePublicKey(req.PublicKey); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(req.Signature) != 128 || !isHex(req.Signature) {
		writeError(w, http.StatusBadRequest, auth.ErrInvalidSignatureInput)
		return
	}
	if strings.TrimSpace(req.ChallengeID) == "" {
		writeError(w, http.StatusBadRequest, errors.New("challengeId required"))
		return
	}

	session, err := s.auth.VerifySignup(r.Context(), req.PublicKey, req.Signature, req.ChallengeID, s.requestOrigin(r))
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"accessToken": session.AccessToken,
		"userId":      session.UserID,
		"publicKey":   session.PublicKey,
	})
}

func (s *Server) handleSignout(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAuth(w, r); !ok {
		return
	}
	// TODO: persist a revocation list so signout can void the JWT early.
	writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{}})
}

func (s *Server) handleWhoami(w http.ResponseWriter, r *http.Request) {
	verified, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"userId":    verified.UserID,
		"publicKey": verified.PublicKey,
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"version": s.cfg.Version})
}

// requireAuth is the session guard. A caller is authenticated only with a
// well-formed bearer header, a valid token and no unresolved pending
// challenge on the referenced user.
func (s *Server) requireAuth(w http.ResponseWriter, r *http.Request) (auth.Verified, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		writeError(w, http.StatusUnauthorized, errors.New("missing authorization header"))
		return auth.Verified{}, false
	}
	scheme, bearer, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(bearer) == "" {
		writeError(w, http.StatusUnauthorized, errors.New("invalid authorization format"))
		return auth.Verified{}, false
	}
	verified, err := s.auth.Authenticate(r.Context(), strings.TrimSpace(bearer))
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return auth.Verified{}, false
	}
	return verified, true
}

// requestOrigin resolves the challenge origin: caller-supplied header first,
// configured fallback otherwise.
func (s *Server) requestOrigin(r *http.Request) string {
	if origin := r.Header.Get("Origin"); origin != "" {
		return origin
	}
	return s.cfg.ChallengeOrigin
}

func (s *Server) clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func errStatus(err error) int {
	switch {
	case errors.Is(err, keys.ErrInvalidKeyEncoding), errors.Is(err, auth.ErrInvalidSignatureInput):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrCorruptChallenge):
		return http.StatusInternalServerError
	case errors.Is(err, auth.ErrNoPendingChallenge),
		errors.Is(err, auth.ErrChallengeMismatch),
		errors.Is(err, auth.ErrChallengeExpired),
		errors.Is(err, auth.ErrInvalidChallengeDomain),
		errors.Is(err, auth.ErrInvalidSignature),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrPendingChallenge):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func validatePublicKey(pub string) error {
	if len(pub) != 64 && len(pub) != 66 {
		return errors.New("publicKey must be 64 or 66 hex chars")
	}
	if !isHex(pub) {
		return errors.New("publicKey must be hex encoded")
	}
	return nil
}

func isHex(s string) bool {
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

func readJSON(body io.ReadCloser, dest any) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dest)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeRateLimit(w http.ResponseWriter, retry time.Duration) {
	w.Header().Set("Retry-After", strconv.Itoa(int(retry.Seconds())))
	writeJSON(w, http.StatusTooManyRequests, map[string]any{
		"error":       "rate limit exceeded",
		"retry_after": int(retry.Seconds()),
	})
}

func notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, errors.New("not found"))
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}
