package auth

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/webitel/im-notification-service/config"
)

func verifier(secret string) *Verifier {
	return NewVerifier(&config.Config{Auth: config.AuthConfig{Enabled: true, JWTSecret: secret}})
}

func TestInspect(t *testing.T) {
	v := verifier("s3cret")
	good, err := v.Sign("alice", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	expired, _ := v.Sign("alice", -time.Minute)
	foreign, _ := verifier("other").Sign("alice", time.Minute)
	anonymous, _ := v.Sign("", time.Minute)

	tests := []struct {
		name    string
		token   string
		want    string
		wantErr bool
	}{
		{"valid", good, "alice", false},
		{"empty", "", "", true},
		{"garbage", "not.a.token", "", true},
		{"expired", expired, "", true},
		{"wrong secret", foreign, "", true},
		{"no subject", anonymous, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := v.Inspect(tt.token)
			if tt.wantErr {
				if !errors.Is(err, ErrUnauthenticated) {
					t.Fatalf("Inspect() err = %v, want ErrUnauthenticated", err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Fatalf("Inspect() = %q, %v; want %q", got, err, tt.want)
			}
		})
	}
}

func TestTokenFromRequest(t *testing.T) {
	tests := []struct {
		name   string
		header string
		url    string
		want   string
	}{
		{"bearer", "Bearer abc", "/ws", "abc"},
		{"bearer lowercase", "bearer abc", "/ws", "abc"},
		{"query", "", "/ws?token=xyz", "xyz"},
		{"header wins", "Bearer abc", "/ws?token=xyz", "abc"},
		{"other scheme", "Basic abc", "/ws?token=xyz", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", tt.url, nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			if got := TokenFromRequest(r); got != tt.want {
				t.Fatalf("TokenFromRequest() = %q, want %q", got, tt.want)
			}
		})
	}
}
