// Package scorer calls an external density scoring service. It implements
// anomaly.DensityScorer so the density detector can use it in place of the
// in-process isolation forest.
package scorer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"water-infra-dashboard/shared/anomaly"
	"water-infra-dashboard/shared/config"
	"water-infra-dashboard/shared/metricsx"
)

var ErrCircuitOpen = fmt.Errorf("%w: circuit open", anomaly.ErrScorerUnavailable)

type ScoreRequest struct {
	History []float64 `json:"history"`
	Value   float64   `json:"value"`
}

type ScoreResponse struct {
	IsAnomaly bool    `json:"is_anomaly"`
	Score     float64 `json:"score"`
}

type Client struct {
	endpoint string
	retryMax int
	backoff  time.Duration
	http     *http.Client
	breaker  *breaker
}

func New(cfg config.Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.ScorerURL), "/")
	if base == "" {
		return nil, errors.New("SCORER_URL is required")
	}
	return &Client{
		endpoint: base + "/v1/score",
		retryMax: cfg.ScorerRetryMax,
		backoff:  50 * time.Millisecond,
		http: &http.Client{
			Timeout:   time.Duration(cfg.ScorerTimeoutMS) * time.Millisecond,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		breaker: newBreaker(5, 30*time.Second),
	}, nil
}

func (c *Client) Score(ctx context.Context, history []float64, value float64) (bool, float64, error) {
	if c == nil || c.http == nil {
		return false, 0, anomaly.ErrScorerUnavailable
	}
	if !c.breaker.allow() {
		metricsx.IncScorerRequest("circuit_open")
		return false, 0, ErrCircuitOpen
	}
	body, err := json.Marshal(ScoreRequest{History: history, Value: value})
	if err != nil {
		return false, 0, err
	}

	start := time.Now()
	delay := c.backoff
	var lastErr error
	for attempt := 0; attempt <= c.retryMax; attempt++ {
		if attempt > 0 && !wait(ctx, delay) {
			break
		}
		out, transient, err := c.post(ctx, body)
		if err == nil {
			c.breaker.record(true)
			metricsx.IncScorerRequest("success")
			metricsx.ObserveScorerLatency(time.Since(start))
			return out.IsAnomaly, out.Score, nil
		}
		lastErr = err
		if !transient {
			// The service answered; only the request was bad.
			c.breaker.record(true)
			break
		}
		c.breaker.record(false)
		if !c.breaker.allow() {
			break
		}
		delay *= 2
	}
	metricsx.IncScorerRequest("failure")
	return false, 0, fmt.Errorf("%w: %v", anomaly.ErrScorerUnavailable, lastErr)
}

// post performs one attempt. transient reports whether a retry may succeed.
func (c *Client) post(ctx context.Context, body []byte) (out ScoreResponse, transient bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return out, false, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return out, ctx.Err() == nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return out, true, fmt.Errorf("scorer status %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return out, false, fmt.Errorf("scorer status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, false, fmt.Errorf("decode score: %w", err)
	}
	if out.Score < 0 || out.Score > 1 {
		return ScoreResponse{}, false, fmt.Errorf("scorer returned score %v outside [0,1]", out.Score)
	}
	return out, false, nil
}

func wait(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
