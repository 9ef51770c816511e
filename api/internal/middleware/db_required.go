package middleware

import (
	"net/http"
	"strconv"
	"time"

	"water-infra-dashboard/shared/httpx"
)

// DBRequiredMiddleware turns data routes into 503s while the API runs
// without a database, so /healthz and /readyz can still explain why.
type DBRequiredMiddleware struct {
	Available  bool
	RetryAfter time.Duration
	Skip       func(*http.Request) bool
}

func (m DBRequiredMiddleware) Wrap(next http.Handler) http.Handler {
	if m.Available {
		return next
	}
	retry := m.RetryAfter
	if retry <= 0 {
		retry = 30 * time.Second
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Skip != nil && m.Skip(r) {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Retry-After", strconv.Itoa(int(retry.Seconds())))
		httpx.WriteError(w, r, http.StatusServiceUnavailable, "FAILED_PRECONDITION", "metrics store unavailable", nil)
	})
}
