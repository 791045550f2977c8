package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const maxJWTLen = 8 * 1024

// Claims matches tokens minted by the account service:
// {"user": {"id": "...", "username": "..."}, "exp": ...}.
type Claims struct {
	User struct {
		ID       string `json:"id"`
		Username string `json:"username,omitempty"`
	} `json:"user"`
	jwt.RegisteredClaims
}

// JWTVerifier verifies HS256 tokens signed with a shared secret.
type JWTVerifier struct {
	secret []byte
	now    func() time.Time
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret), now: time.Now}
}

func (v *JWTVerifier) Verify(token string) (Identity, error) {
	claims, err := v.Claims(token)
	if err != nil {
		return Identity{}, err
	}
	return Identity{
		AccountID: claims.User.ID,
		Handle:    strings.ToLower(strings.TrimSpace(claims.User.Username)),
	}, nil
}

// Claims verifies token and returns its claims. Any failure wraps
// ErrInvalidCredentials.
func (v *JWTVerifier) Claims(token string) (*Claims, error) {
	if len(v.secret) == 0 || token == "" || len(token) > maxJWTLen {
		return nil, ErrInvalidCredentials
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
		jwt.WithLeeway(30*time.Second),
	)
	claims := &Claims{}
	_, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
	}
	if claims.User.ID == "" {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCredentials, errors.New("token has no user.id"))
	}
	return claims, nil
}
