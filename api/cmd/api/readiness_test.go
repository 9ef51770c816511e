package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"water-infra-dashboard/shared/config"
	"water-infra-dashboard/shared/httpx"
)

func okPing(context.Context) error   { return nil }
func downPing(context.Context) error { return errors.New("down") }

func readyz(t *testing.T, h http.Handler) (int, statusResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	var body statusResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	return rec.Code, body
}

func TestReadinessDegradedOnOptionalFailure(t *testing.T) {
	var problems []config.Problem
	h := readinessHandler(statusResponse{Service: "api"}, &problems, []dependencyCheck{
		{name: "database", ping: okPing},
		{name: "influx", optional: true, ping: downPing},
	})
	code, body := readyz(t, h)
	if code != http.StatusOK || body.Status != "degraded" || body.Checks["influx"] != "failed" || body.Checks["database"] != "ok" {
		t.Fatalf("unexpected readiness %d %+v", code, body)
	}
}

func TestReadinessFailsOnRequiredDependency(t *testing.T) {
	var problems []config.Problem
	h := readinessHandler(statusResponse{Service: "api"}, &problems, []dependencyCheck{{name: "database", ping: downPing}})
	if code, _ := readyz(t, h); code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", code)
	}

	problems = append(problems, config.Problem{Field: "JWT_SECRET", Message: "missing"})
	h = readinessHandler(statusResponse{}, &problems, nil)
	if code, _ := readyz(t, h); code != http.StatusServiceUnavailable {
		t.Fatalf("config problems should fail readiness, got %d", code)
	}
}

func TestRequestTimeoutsExtendUploads(t *testing.T) {
	policy := requestTimeouts(10 * time.Second)
	upload := httptest.NewRequest(http.MethodPost, "/api/v1/projects/p1/metrics/upload/csv", nil)
	if got := policy(upload); got != 40*time.Second {
		t.Fatalf("upload timeout = %v", got)
	}
	if got := policy(httptest.NewRequest(http.MethodGet, "/api/v1/projects", nil)); got != 10*time.Second {
		t.Fatalf("default timeout = %v", got)
	}
	var _ httpx.TimeoutPolicy = policy
}
