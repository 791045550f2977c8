package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/config"
)

var (
	ErrMissingCredentials = errors.New("missing credentials")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Identity is what a credential proves about its holder. API keys prove
// nothing beyond possession, so their Identity is empty.
type Identity struct {
	AccountID string
	Handle    string
}

type Verifier interface {
	Verify(credential string) (Identity, error)
}

// NewVerifier returns the verifier for cfg.AuthMode, or nil for
// AUTH_MODE=none.
func NewVerifier(cfg config.Config) (Verifier, error) {
	switch cfg.AuthMode {
	case config.AuthModeNone:
		return nil, nil
	case config.AuthModeAPIKey:
		return APIKeyVerifier{Expected: cfg.APIKey}, nil
	case config.AuthModeJWT:
		return NewJWTVerifier(cfg.JWTSecret), nil
	default:
		return nil, fmt.Errorf("unsupported auth mode %q", cfg.AuthMode)
	}
}

// CredentialFromRequest extracts a credential from the query string
// (token/apiKey), the x-auth-token header, or an Authorization bearer token.
func CredentialFromRequest(mode config.AuthMode, r *http.Request) (string, error) {
	q := r.URL.Query()
	var candidates []string
	switch mode {
	case config.AuthModeNone:
		return "", nil
	case config.AuthModeAPIKey:
		candidates = []string{q.Get("apiKey"), q.Get("token")}
	case config.AuthModeJWT:
		candidates = []string{q.Get("token"), q.Get("apiKey")}
	default:
		return "", fmt.Errorf("unsupported auth mode %q", mode)
	}
	for _, c := range candidates {
		if c != "" {
			return c, nil
		}
	}
	return HeaderCredential(r)
}

// HeaderCredential extracts a credential from the x-auth-token header or an
// Authorization bearer token.
func HeaderCredential(r *http.Request) (string, error) {
	if c := strings.TrimSpace(r.Header.Get("X-Auth-Token")); c != "" {
		return c, nil
	}
	if c := bearerToken(r.Header.Get("Authorization")); c != "" {
		return c, nil
	}
	return "", ErrMissingCredentials
}

func bearerToken(h string) string {
	const prefix = "bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}
