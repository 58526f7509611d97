package middleware

import (
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/docuflow-io/docuflow/internal/api/response"
)

const keyPrefixLen = 8

// Auth validates caller identity tokens against the bcrypt hashes configured
// at startup. No job starts, streams, or cancels without one.
type Auth struct {
	keyHashes []string
}

// NewAuth creates an Auth middleware from bcrypt-hashed API keys.
func NewAuth(keyHashes []string) *Auth {
	return &Auth{keyHashes: keyHashes}
}

// Authenticate validates the token and stores its prefix in the request
// context for rate limiting. The token comes from the Authorization header,
// or from the token query parameter as a fallback for the SSE endpoint —
// EventSource cannot set request headers.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawKey := extractBearerToken(r)
		if rawKey == "" {
			rawKey = r.URL.Query().Get("token")
		}
		if rawKey == "" {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Missing or invalid Authorization header", nil)
			return
		}
		if len(rawKey) < keyPrefixLen {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Invalid API key format", nil)
			return
		}

		var matched bool
		for _, hash := range a.keyHashes {
			if bcrypt.CompareHashAndPassword([]byte(hash), []byte(rawKey)) == nil {
				matched = true
				break
			}
		}
		if !matched {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Invalid API key", nil)
			return
		}

		ctx := setKeyPrefix(r.Context(), rawKey[:keyPrefixLen])
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
