package gateway

import (
	"crypto/subtle"
	"net/http"

	"github.com/unimem/unimem/internal/observability"
)

// AuthHandler validates the X-API-Key header against the configured key.
// An empty configured key disables authentication.
type AuthHandler struct {
	apiKey string
}

// NewAuthHandler creates a new authentication handler
func NewAuthHandler(apiKey string) *AuthHandler {
	return &AuthHandler{
		apiKey: apiKey,
	}
}

// Enabled reports whether authentication is configured.
func (a *AuthHandler) Enabled() bool {
	return a.apiKey != ""
}

// Verify checks a presented key using constant-time comparison.
func (a *AuthHandler) Verify(presented string) bool {
	if !a.Enabled() {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(a.apiKey), []byte(presented)) == 1
}

// Middleware rejects requests without a valid X-API-Key header.
func (a *AuthHandler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Verify(r.Header.Get("X-API-Key")) {
			observability.RecordSecurityAudit(r.Context(), "auth_rejected", r.RemoteAddr, "failure", map[string]interface{}{
				"path": r.URL.Path,
			})
			writeError(w, http.StatusUnauthorized, "invalid or missing API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}
