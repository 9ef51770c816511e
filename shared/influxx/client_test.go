package influxx

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"water-infra-dashboard/shared/config"
)

type captureWriter struct{ points []*write.Point }

func (w *captureWriter) WritePoint(_ context.Context, points ...*write.Point) error {
	w.points = append(w.points, points...)
	return nil
}

func TestNewReportsMissingSettings(t *testing.T) {
	_, err := New(config.Config{InfluxURL: "http://influx:8086", InfluxOrg: "water"})
	if err == nil || !strings.Contains(err.Error(), "INFLUX_BUCKET, INFLUX_TOKEN") {
		t.Fatalf("expected missing bucket and token, got %v", err)
	}
}

func TestWritePointsDropsEmptyTags(t *testing.T) {
	w := &captureWriter{}
	c := &Client{writer: w}
	ts := time.Date(2026, 5, 1, 6, 0, 0, 0, time.UTC)
	err := c.WritePoints(context.Background(), []Point{
		{Measurement: MeasurementReadings, Tags: map[string]string{"project_id": "p1", "sensor_id": ""}, Fields: map[string]any{"value": 2.5}, Time: ts},
		{Measurement: MeasurementReadings, Tags: map[string]string{"project_id": "p2"}, Fields: map[string]any{"value": 1.0}},
	})
	if err != nil {
		t.Fatalf("WritePoints: %v", err)
	}
	if len(w.points) != 2 {
		t.Fatalf("expected 2 points, got %d", len(w.points))
	}
	if tags := w.points[0].TagList(); len(tags) != 1 || tags[0].Key != "project_id" {
		t.Fatalf("empty tag should be dropped, got %+v", tags)
	}
	if !w.points[0].Time().Equal(ts) || w.points[1].Time().IsZero() {
		t.Fatalf("unexpected timestamps %v %v", w.points[0].Time(), w.points[1].Time())
	}
}

func TestNilClient(t *testing.T) {
	var c *Client
	if err := c.WritePoints(context.Background(), []Point{{Measurement: "m"}}); err == nil {
		t.Fatalf("nil client should fail")
	}
	c.Close()
}
