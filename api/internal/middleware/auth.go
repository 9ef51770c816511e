package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"water-infra-dashboard/shared/authx"
	"water-infra-dashboard/shared/httpx"
	"water-infra-dashboard/shared/logx"
)

// AuthMiddleware verifies bearer tokens. Requests without an Authorization
// header pass through anonymous; route guards reject them where needed.
type AuthMiddleware struct {
	Verifier authx.Verifier
	Logger   logx.Logger
	Skip     func(*http.Request) bool
}

func (m AuthMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Skip != nil && m.Skip(r) {
			next.ServeHTTP(w, r)
			return
		}
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}

		scheme, token, _ := strings.Cut(header, " ")
		token = strings.TrimSpace(token)
		if !strings.EqualFold(scheme, "bearer") || token == "" {
			challenge(w, "invalid_request")
			httpx.WriteError(w, r, http.StatusUnauthorized, httpx.CodeUnauthenticated, "missing bearer token", nil)
			return
		}
		if m.Verifier == nil {
			httpx.WriteError(w, r, http.StatusServiceUnavailable, httpx.CodeFailedPrecondition, "auth verifier not configured", nil)
			return
		}

		auth, err := m.Verifier.Verify(r.Context(), token)
		if err != nil {
			if errors.Is(err, authx.ErrUnknownKID) {
				m.Logger.Warn(r.Context(), "auth_key_unknown", "token signed with an unknown key",
					slog.String("error", err.Error()),
				)
			}
			challenge(w, "invalid_token")
			httpx.WriteError(w, r, http.StatusUnauthorized, httpx.CodeUnauthenticated, "invalid token", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(authx.WithAuth(r.Context(), auth)))
	})
}

func challenge(w http.ResponseWriter, reason string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="water-infra", error="`+reason+`"`)
}
