package auth

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/velro-ai/velro/internal/authctx"
	"github.com/velro-ai/velro/internal/metrics"
)

// Middleware authenticates requests with a bearer token and places the
// verified identity into the request context. It answers only the
// "who is calling" question; resource access is decided downstream.
type Middleware struct {
	verifier *Verifier
	metrics  *metrics.Metrics
}

func NewMiddleware(v *Verifier, m *metrics.Metrics) *Middleware {
	return &Middleware{verifier: v, metrics: m}
}

func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr := extractBearerToken(r)
		if tokenStr == "" {
			m.metrics.IncAuthFailure()
			writeAuthError(w, http.StatusUnauthorized, "unauthenticated", "missing bearer token")
			return
		}

		identity, err := m.verifier.Verify(tokenStr)
		if err != nil {
			m.metrics.IncAuthFailure()
			writeAuthError(w, http.StatusUnauthorized, "unauthenticated", "invalid or expired token")
			return
		}

		ctx := authctx.WithIdentity(r.Context(), identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole gates a route group on the caller's account role. It expects
// Authenticate to have run first.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := authctx.IdentityFromContext(r.Context())
			if identity == nil {
				writeAuthError(w, http.StatusUnauthorized, "unauthenticated", "missing bearer token")
				return
			}
			if !allowed[identity.Role] {
				writeAuthError(w, http.StatusForbidden, "denied", "insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractBearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}

func writeAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}
