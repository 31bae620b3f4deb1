package ingest

import (
	"errors"
	"net/http"
	"strings"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// Claims identifies the recording host that opened a session.
type Claims struct {
	Site string `json:"site,omitempty"`
	jwtlib.RegisteredClaims
}

// tokenVerifier checks HS256 bearer tokens on the session endpoint.
type tokenVerifier struct {
	secret []byte
}

func newTokenVerifier(secret string) *tokenVerifier {
	if strings.TrimSpace(secret) == "" {
		return nil
	}
	return &tokenVerifier{secret: []byte(secret)}
}

func (v *tokenVerifier) verify(r *http.Request) (*Claims, error) {
	token, err := requestToken(r)
	if err != nil {
		return nil, err
	}
	parsed, err := jwtlib.ParseWithClaims(token, &Claims{}, func(*jwtlib.Token) (interface{}, error) {
		return v.secret, nil
	}, jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Name}))
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, jwtlib.ErrTokenInvalidClaims
	}
	return claims, nil
}

// requestToken reads the bearer token from the Authorization header, or from
// the access_token query parameter for browsers that cannot set headers on a
// websocket handshake.
func requestToken(r *http.Request) (string, error) {
	if header := r.Header.Get("Authorization"); strings.TrimSpace(header) != "" {
		parts := strings.Fields(header)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return "", errors.New("invalid authorization header format")
		}
		return parts[1], nil
	}
	if token := strings.TrimSpace(r.URL.Query().Get("access_token")); token != "" {
		return token, nil
	}
	return "", errors.New("missing bearer token")
}
