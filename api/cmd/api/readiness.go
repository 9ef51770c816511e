package main

import (
	"context"
	"net/http"
	"time"

	"water-infra-dashboard/shared/config"
	"water-infra-dashboard/shared/httpx"
)

type statusResponse struct {
	Status  string            `json:"status"`
	Service string            `json:"service"`
	Env     string            `json:"env,omitempty"`
	Version string            `json:"version,omitempty"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// dependencyCheck is one readiness check. A failing optional dependency marks
// the service degraded but still ready.
type dependencyCheck struct {
	name     string
	optional bool
	ping     func(context.Context) error
}

func readinessHandler(base statusResponse, problems *[]config.Problem, checks []dependencyCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if len(*problems) > 0 {
			httpx.WriteError(w, r, http.StatusServiceUnavailable, httpx.CodeFailedPrecondition,
				"service not ready: invalid configuration",
				map[string]any{"problems": *problems},
			)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		out := base
		out.Status = "ready"
		out.Checks = make(map[string]string, len(checks))
		for _, c := range checks {
			if err := c.ping(ctx); err != nil {
				if !c.optional {
					httpx.WriteError(w, r, http.StatusServiceUnavailable, httpx.CodeFailedPrecondition,
						"service not ready: "+c.name+" unavailable",
						map[string]any{"problem": c.name + "_ping_failed"},
					)
					return
				}
				out.Status = "degraded"
				out.Checks[c.name] = "failed"
				continue
			}
			out.Checks[c.name] = "ok"
		}
		httpx.WriteJSON(w, http.StatusOK, out)
	}
}
