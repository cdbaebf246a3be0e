package server

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/brk3/habitd/internal/logger"
)

// tokenAuthMiddleware requires "Authorization: Bearer <token>" matching the
// configured token. Both sides are hashed so the comparison takes constant
// time regardless of token length.
func tokenAuthMiddleware(token string) func(http.Handler) http.Handler {
	want := hashToken(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ah := r.Header.Get("Authorization")
			if !strings.HasPrefix(ah, "Bearer ") {
				logger.Debug("Missing bearer token", "method", r.Method, "path", r.URL.Path)
				authFailuresTotal.WithLabelValues("missing").Inc()
				http.Error(w, `{"error":"authorization required"}`, http.StatusUnauthorized)
				return
			}
			got := hashToken(strings.TrimPrefix(ah, "Bearer "))
			if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
				logger.Warn("Rejected bearer token", "token_hash", shortHash(got), "path", r.URL.Path)
				authFailuresTotal.WithLabelValues("invalid").Inc()
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// shortHash is the prefix of a token hash that is safe to log.
func shortHash(hash string) string {
	if len(hash) <= 16 {
		return hash
	}
	return hash[:16] + "..."
}
