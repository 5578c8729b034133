// Package auth guards the operations API with a static bearer token.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/scarybot/bogamail/internal/observability"
)

type Authenticator struct {
	token string
}

// New returns an authenticator accepting token. An empty token rejects
// every request.
func New(token string) *Authenticator {
	return &Authenticator{token: token}
}

// RequireAuth rejects requests without a valid bearer token with 401.
func (a *Authenticator) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := BearerToken(r.Header.Get("Authorization"))
		if !ok {
			observability.Logger().Debug("auth: missing or malformed Authorization header", "path", r.URL.Path)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		if !a.Valid(token) {
			observability.Logger().Warn("auth: invalid token", "path", r.URL.Path)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Valid compares token with the configured one in constant time.
func (a *Authenticator) Valid(token string) bool {
	if a.token == "" || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(a.token)) == 1
}

// BearerToken extracts the token from an Authorization header value. The
// scheme is case-insensitive (RFC 7235).
func BearerToken(header string) (string, bool) {
	fields := strings.Fields(header)
	if len(fields) < 2 || !strings.EqualFold(fields[0], "Bearer") {
		return "", false
	}

	token := strings.TrimSpace(strings.Join(fields[1:], " "))
	return token, token != ""
}
