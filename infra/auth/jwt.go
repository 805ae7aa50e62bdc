// Package auth verifies the bearer tokens presented by notification clients.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/webitel/im-notification-service/config"
)

var ErrUnauthenticated = errors.New("unauthenticated")

type contextKey string

// SubjectKey stores the authenticated user id in a request context.
const SubjectKey contextKey = "auth_subject"

// Verifier checks HMAC-signed tokens. A disabled verifier trusts the caller.
type Verifier struct {
	enabled bool
	secret  []byte
}

func NewVerifier(cfg *config.Config) *Verifier {
	return &Verifier{enabled: cfg.Auth.Enabled, secret: []byte(cfg.Auth.JWTSecret)}
}

func (v *Verifier) Enabled() bool { return v.enabled }

// Inspect validates raw and returns its subject.
func (v *Verifier) Inspect(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("%w: missing token", ErrUnauthenticated)
	}
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return "", fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: token has no subject", ErrUnauthenticated)
	}
	return claims.Subject, nil
}

// Sign issues a token for subject. Used by tooling and tests.
func (v *Verifier) Sign(subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// TokenFromRequest reads "Authorization: Bearer <token>", falling back to ?token= for
// browsers that cannot set headers on a WebSocket handshake.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, SubjectKey, subject)
}

func SubjectFrom(ctx context.Context) (string, bool) {
	s, ok := ctx.Value(SubjectKey).(string)
	return s, ok && s != ""
}
