// Package influxx mirrors readings and alert events into InfluxDB for long
// range charting. Postgres stays the system of record; mirror writes are best
// effort and callers only log their failures.
package influxx

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"water-infra-dashboard/shared/config"
)

const (
	MeasurementReadings = "sensor_readings"
	MeasurementAlerts   = "alert_events"
)

var errNotInitialized = errors.New("influx client not initialized")

type Point struct {
	Measurement string
	Tags        map[string]string
	Fields      map[string]any
	Time        time.Time
}

type Client struct {
	client influxdb2.Client
	writer interface {
		WritePoint(ctx context.Context, point ...*write.Point) error
	}
}

func New(cfg config.Config) (*Client, error) {
	var missing []string
	for name, v := range map[string]string{
		"INFLUX_URL":    cfg.InfluxURL,
		"INFLUX_TOKEN":  cfg.InfluxToken,
		"INFLUX_ORG":    cfg.InfluxOrg,
		"INFLUX_BUCKET": cfg.InfluxBucket,
	} {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("influx mirror needs %s", strings.Join(missing, ", "))
	}

	opts := influxdb2.DefaultOptions().
		SetHTTPRequestTimeout(uint(cfg.InfluxTimeoutMS)).
		SetPrecision(time.Millisecond)
	client := influxdb2.NewClientWithOptions(cfg.InfluxURL, cfg.InfluxToken, opts)
	return &Client{client: client, writer: client.WriteAPIBlocking(cfg.InfluxOrg, cfg.InfluxBucket)}, nil
}

// WritePoints sends all points in one blocking write. Empty tag values are
// dropped because line protocol rejects them.
func (c *Client) WritePoints(ctx context.Context, points []Point) error {
	if c == nil || c.writer == nil {
		return errNotInitialized
	}
	if len(points) == 0 {
		return nil
	}
	now := time.Now().UTC()
	batch := make([]*write.Point, 0, len(points))
	for _, p := range points {
		ts := p.Time
		if ts.IsZero() {
			ts = now
		}
		batch = append(batch, influxdb2.NewPoint(p.Measurement, nonEmpty(p.Tags), p.Fields, ts))
	}
	return c.writer.WritePoint(ctx, batch...)
}

func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errNotInitialized
	}
	ok, err := c.client.Ping(ctx)
	switch {
	case err != nil:
		return err
	case !ok:
		return errors.New("influx ping failed")
	}
	return nil
}

func (c *Client) Close() {
	if c != nil && c.client != nil {
		c.client.Close()
	}
}

func nonEmpty(tags map[string]string) map[string]string {
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		if v != "" {
			out[k] = v
		}
	}
	return out
}
