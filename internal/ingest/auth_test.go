package ingest

import (
	"net/http"
	"strings"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, ttl time.Duration) string {
	t.Helper()
	now := time.Now()
	claims := Claims{
		Site: "shop.example",
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   "host-1",
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
		},
	}
	token, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestSessionEndpointAuth(t *testing.T) {
	h := newHarnessWith(t, func(o *Options) { o.JWTSecret = testSecret })
	base := "ws" + strings.TrimPrefix(h.srv.URL, "http")

	cases := []struct {
		name   string
		url    string
		header http.Header
		ok     bool
	}{
		{name: "missing token", url: base},
		{name: "wrong secret", url: base, header: http.Header{"Authorization": {"Bearer " + signToken(t, "other", time.Hour)}}},
		{name: "expired", url: base, header: http.Header{"Authorization": {"Bearer " + signToken(t, testSecret, -time.Minute)}}},
		{name: "malformed header", url: base, header: http.Header{"Authorization": {"Token abc"}}},
		{name: "header token", url: base, header: http.Header{"Authorization": {"Bearer " + signToken(t, testSecret, time.Hour)}}, ok: true},
		{name: "query token", url: base + "?access_token=" + signToken(t, testSecret, time.Hour), ok: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ws, resp, err := websocket.DefaultDialer.Dial(tc.url, tc.header)
			if !tc.ok {
				if err == nil {
					_ = ws.Close()
					t.Fatalf("expected handshake to be rejected")
				}
				if resp == nil || resp.StatusCode != http.StatusUnauthorized {
					t.Fatalf("expected 401, got %v", resp)
				}
				return
			}
			if err != nil {
				t.Fatalf("dial: %v", err)
			}
			defer ws.Close()
			hello(t, ws)
		})
	}
}
