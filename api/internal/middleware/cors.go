package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

var (
	defaultCORSMethods = []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions}
	defaultCORSHeaders = []string{"Authorization", "Content-Type", "X-Request-ID", "X-Tenant-ID", "X-Tenant-Slug"}
	exposedCORSHeaders = []string{"X-Request-ID", "Retry-After"}
)

// CORSMiddleware serves the dashboard front ends. Origins are exact
// ("https://ops.example.org"), a subdomain wildcard ("https://*.example.org")
// or "*".
type CORSMiddleware struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	AllowCredentials bool
	MaxAge           time.Duration
	Skip             func(*http.Request) bool
}

func (m CORSMiddleware) Wrap(next http.Handler) http.Handler {
	match := newOriginMatcher(m.AllowedOrigins)
	methods := strings.Join(orDefault(m.AllowedMethods, defaultCORSMethods), ", ")
	headers := strings.Join(orDefault(m.AllowedHeaders, defaultCORSHeaders), ", ")
	exposed := strings.Join(exposedCORSHeaders, ", ")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Skip != nil && m.Skip(r) {
			next.ServeHTTP(w, r)
			return
		}

		origin := strings.TrimSpace(r.Header.Get("Origin"))
		w.Header().Add("Vary", "Origin")
		allowed := origin != "" && match.allows(origin)
		if allowed {
			if match.any && !m.AllowCredentials {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else {
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
			if m.AllowCredentials {
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}
			w.Header().Set("Access-Control-Expose-Headers", exposed)
		}

		if r.Method != http.MethodOptions || r.Header.Get("Access-Control-Request-Method") == "" {
			next.ServeHTTP(w, r)
			return
		}
		if !allowed {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Header().Set("Access-Control-Allow-Methods", methods)
		w.Header().Set("Access-Control-Allow-Headers", headers)
		if m.MaxAge > 0 {
			w.Header().Set("Access-Control-Max-Age", strconv.Itoa(int(m.MaxAge.Seconds())))
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

type wildcardOrigin struct {
	scheme string
	suffix string
}

type originMatcher struct {
	any      bool
	exact    map[string]struct{}
	suffixes []wildcardOrigin
}

// newOriginMatcher treats an empty list as "*".
func newOriginMatcher(origins []string) *originMatcher {
	om := &originMatcher{exact: map[string]struct{}{}}
	for _, o := range origins {
		o = strings.ToLower(strings.TrimSuffix(strings.TrimSpace(o), "/"))
		switch {
		case o == "":
		case o == "*":
			om.any = true
		case strings.Contains(o, "://*."):
			scheme, host, _ := strings.Cut(o, "://*.")
			om.suffixes = append(om.suffixes, wildcardOrigin{scheme: scheme + "://", suffix: "." + host})
		default:
			om.exact[o] = struct{}{}
		}
	}
	if len(om.exact) == 0 && len(om.suffixes) == 0 {
		om.any = true
	}
	return om
}

func (om *originMatcher) allows(origin string) bool {
	if om.any {
		return true
	}
	origin = strings.ToLower(origin)
	if _, ok := om.exact[origin]; ok {
		return true
	}
	for _, w := range om.suffixes {
		if strings.HasPrefix(origin, w.scheme) && strings.HasSuffix(origin, w.suffix) && len(origin) > len(w.scheme)+len(w.suffix) {
			return true
		}
	}
	return false
}

func orDefault(v, def []string) []string {
	if len(v) > 0 {
		return v
	}
	return def
}
