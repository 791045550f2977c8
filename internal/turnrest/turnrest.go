// Package turnrest mints coturn-compatible ephemeral TURN credentials for
// call peers.
//
//	username   = <unix_expiry>:<prefix>:<subject>
//	credential = base64(hmac_sha1(shared_secret, username))
//
// See https://datatracker.ietf.org/doc/html/draft-uberti-behave-turn-rest.
package turnrest

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

var ErrInvalidSubject = errors.New("turnrest: subject must be non-empty and must not contain ':'")

type Config struct {
	SharedSecret   string
	TTLSeconds     int64
	UsernamePrefix string
	Now            func() time.Time
	// NewSubject names anonymous requests. Defaults to a random UUID.
	NewSubject func() string
}

type Generator struct {
	secret     []byte
	ttlSeconds int64
	prefix     string
	now        func() time.Time
	newSubject func() string
}

func NewGenerator(cfg Config) (*Generator, error) {
	if cfg.SharedSecret == "" {
		return nil, errors.New("turnrest: shared secret is required")
	}
	if cfg.TTLSeconds <= 0 {
		return nil, errors.New("turnrest: TTLSeconds must be > 0")
	}
	if cfg.UsernamePrefix == "" || strings.Contains(cfg.UsernamePrefix, ":") {
		return nil, errors.New("turnrest: UsernamePrefix must be non-empty and must not contain ':'")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewSubject == nil {
		cfg.NewSubject = uuid.NewString
	}
	return &Generator{
		secret:     []byte(cfg.SharedSecret),
		ttlSeconds: cfg.TTLSeconds,
		prefix:     cfg.UsernamePrefix,
		now:        cfg.Now,
		newSubject: cfg.NewSubject,
	}, nil
}

type Credentials struct {
	Username   string
	Credential string
	ExpiresAt  time.Time
}

// Generate mints credentials bound to subject, typically an account id.
func (g *Generator) Generate(subject string) (Credentials, error) {
	if subject == "" || strings.Contains(subject, ":") {
		return Credentials{}, ErrInvalidSubject
	}
	expiry := g.now().UTC().Unix() + g.ttlSeconds
	username := fmt.Sprintf("%d:%s:%s", expiry, g.prefix, subject)
	return Credentials{
		Username:   username,
		Credential: sign(g.secret, username),
		ExpiresAt:  time.Unix(expiry, 0).UTC(),
	}, nil
}

// GenerateAnonymous mints credentials for a fresh random subject.
func (g *Generator) GenerateAnonymous() (Credentials, error) {
	return g.Generate(g.newSubject())
}

// Apply returns a copy of servers with creds set on every TURN entry. STUN
// entries are passed through untouched.
func (c Credentials) Apply(servers []webrtc.ICEServer) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, len(servers))
	for i, server := range servers {
		out[i] = server
		if isTURN(server) {
			out[i].Username = c.Username
			out[i].Credential = c.Credential
		}
	}
	return out
}

func isTURN(server webrtc.ICEServer) bool {
	for _, raw := range server.URLs {
		url := strings.ToLower(strings.TrimSpace(raw))
		if strings.HasPrefix(url, "turn:") || strings.HasPrefix(url, "turns:") {
			return true
		}
	}
	return false
}

func sign(secret []byte, username string) string {
	mac := hmac.New(sha1.New, secret)
	_, _ = mac.Write([]byte(username))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
