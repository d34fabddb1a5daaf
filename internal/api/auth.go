package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/json"
	"log"
	"net/http"
	"strings"
)

const (
	// Header carrying the admin token
	AuthorizationHeader = "Authorization"

	// Scheme prefix expected in the header
	BearerPrefix = "Bearer "
)

// AdminGuard protects mutating and debug routes with a shared bearer token.
// An empty token disables the check so local tools keep working.
type AdminGuard struct {
	// Digest of the configured token; comparing digests keeps the
	// comparison constant-time regardless of the supplied length
	digest []byte
}

// NewAdminGuard creates a guard for token. An empty token leaves routes open.
func NewAdminGuard(token string) *AdminGuard {
	if token == "" {
		return &AdminGuard{}
	}
	return &AdminGuard{digest: tokenDigest(token)}
}

// Enabled reports whether requests must carry a token
func (g *AdminGuard) Enabled() bool {
	return g.digest != nil
}

// Authorized checks the request's bearer token
func (g *AdminGuard) Authorized(r *http.Request) bool {
	if !g.Enabled() {
		return true
	}

	header := r.Header.Get(AuthorizationHeader)
	if !strings.HasPrefix(header, BearerPrefix) {
		return false
	}
	supplied := strings.TrimSpace(strings.TrimPrefix(header, BearerPrefix))
	if supplied == "" {
		return false
	}
	return hmac.Equal(tokenDigest(supplied), g.digest)
}

// Middleware rejects requests without a valid token
func (g *AdminGuard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.Authorized(r) {
			log.Printf("🔐 Rejected unauthorized %s %s from %s", r.Method, r.URL.Path, GetClientIP(r))
			RecordConnectionRejected("auth")

			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("WWW-Authenticate", `Bearer realm="admin"`)
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"error":   "unauthorized",
				"message": "Admin token required",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func tokenDigest(token string) []byte {
	sum := sha256.Sum256([]byte(token))
	return sum[:]
}
