package ratelimit

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/velro-ai/velro/internal/authctx"
	"github.com/velro-ai/velro/internal/metrics"
)

// Middleware enforces the per-identity request budget. Authenticated
// requests are keyed by user ID so one user can't starve others behind the
// same NAT; anonymous requests fall back to client IP.
type Middleware struct {
	limiter *Limiter
	metrics *metrics.Metrics
}

func NewMiddleware(limiter *Limiter, m *metrics.Metrics) *Middleware {
	return &Middleware{limiter: limiter, metrics: m}
}

func (mw *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := identityFor(r)
		res := mw.limiter.Allow(r.Context(), identity)

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))

		if !res.Allowed {
			mode := "redis"
			if res.Degraded {
				mode = "fallback"
			}
			mw.metrics.IncRateLimitRejection(mode)

			retryAfter := int(time.Until(res.ResetAt).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]string{
					"code":    "rate_limited",
					"message": "request rate limit exceeded, retry later",
				},
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func identityFor(r *http.Request) string {
	if id := authctx.IdentityFromContext(r.Context()); id != nil {
		return "user:" + id.UserID.String()
	}
	return "ip:" + clientIP(r)
}

// clientIP trusts the first X-Forwarded-For hop; deployments terminate TLS
// at a proxy that overwrites the header.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for i := 0; i < len(xff); i++ {
			if xff[i] == ',' {
				return xff[:i]
			}
		}
		return xff
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
