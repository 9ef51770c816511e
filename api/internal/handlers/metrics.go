package handlers

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"water-infra-dashboard/api/internal/aggregate"
	"water-infra-dashboard/api/internal/ingest"
	"water-infra-dashboard/api/internal/models"
	"water-infra-dashboard/shared/anomaly"
	"water-infra-dashboard/shared/compliance"
	"water-infra-dashboard/shared/httpx"
)

func (s *Server) createMetric(w http.ResponseWriter, r *http.Request) {
	var req ingest.MetricInput
	if !httpx.DecodeJSON(w, r, &req) {
		return
	}
	if !s.requireProject(w, r, req.ProjectID) {
		return
	}
	m, err := s.Pipeline.IngestOne(r.Context(), req)
	if err != nil {
		s.writeStoreError(w, r, err, "project")
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, m)
}

type metricBatchRequest struct {
	Metrics []ingest.MetricInput `json:"metrics" validate:"required,min=1,max=5000,dive"`
}

type ingestedResponse struct {
	Ingested int    `json:"ingested"`
	Filename string `json:"filename,omitempty"`
}

func (s *Server) createMetricBatch(w http.ResponseWriter, r *http.Request) {
	var req metricBatchRequest
	if !httpx.DecodeJSON(w, r, &req) {
		return
	}
	if !s.requireProjects(w, r, req.Metrics) {
		return
	}
	n, err := s.Pipeline.IngestBatch(r.Context(), req.Metrics)
	if err != nil {
		s.writeStoreError(w, r, err, "project")
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, ingestedResponse{Ingested: n})
}

var csvRequiredColumns = []string{"project_id", "metric_type", "value", "unit"}

// uploadCSV ingests a multipart "file" field atomically.
func (s *Server) uploadCSV(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.MaxUpload)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpx.WriteError(w, r, http.StatusRequestEntityTooLarge, "INVALID_ARGUMENT", "file too large", nil)
			return
		}
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "no file provided", nil)
		return
	}
	defer file.Close()

	if !strings.EqualFold(filepath.Ext(header.Filename), ".csv") {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "only CSV files are accepted", nil)
		return
	}

	inputs, err := parseMetricsCSV(file)
	if err != nil {
		badRequest(w, r, err)
		return
	}
	if !s.requireProjects(w, r, inputs) {
		return
	}
	n, err := s.Pipeline.IngestBatch(r.Context(), inputs)
	if err != nil {
		s.writeStoreError(w, r, err, "project")
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, ingestedResponse{Ingested: n, Filename: header.Filename})
}

func parseMetricsCSV(src io.Reader) ([]ingest.MetricInput, error) {
	reader := csv.NewReader(src)
	reader.TrimLeadingSpace = true
	head, err := reader.Read()
	if err != nil {
		return nil, errors.New("csv file is empty")
	}
	cols := make(map[string]int, len(head))
	for i, name := range head {
		cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))] = i
	}
	for _, name := range csvRequiredColumns {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("csv must contain columns: %s", strings.Join(csvRequiredColumns, ", "))
		}
	}
	get := func(rec []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var out []ingest.MetricInput
	for line := 2; ; line++ {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		projectID, err := uuid.Parse(get(rec, "project_id"))
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid project_id", line)
		}
		value, err := strconv.ParseFloat(get(rec, "value"), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid value", line)
		}
		in := ingest.MetricInput{
			ProjectID:  projectID,
			MetricType: get(rec, "metric_type"),
			Value:      &value,
			Unit:       get(rec, "unit"),
		}
		if sensor := get(rec, "sensor_id"); sensor != "" {
			in.SensorID = &sensor
		}
		if raw := get(rec, "recorded_at"); raw != "" {
			at, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid recorded_at", line)
			}
			in.RecordedAt = &at
		}
		out = append(out, in)
	}
	if len(out) == 0 {
		return nil, errors.New("csv file has no rows")
	}
	return out, nil
}

func (s *Server) listMetrics(w http.ResponseWriter, r *http.Request) {
	projectID, ok := pathUUID(w, r, "project_id")
	if !ok || !s.requireProject(w, r, projectID) {
		return
	}
	limit, err := httpx.QueryInt(r, "limit", 500, 1, 5000)
	if err != nil {
		badRequest(w, r, err)
		return
	}
	start, err := queryTime(r, "start_time")
	if err != nil {
		badRequest(w, r, err)
		return
	}
	end, err := queryTime(r, "end_time")
	if err != nil {
		badRequest(w, r, err)
		return
	}
	metrics, err := s.Metrics.List(r.Context(), models.MetricFilter{
		ProjectID:  projectID,
		MetricType: strings.ToLower(strings.TrimSpace(r.URL.Query().Get("metric_type"))),
		Start:      start,
		End:        end,
		Limit:      limit,
	})
	if err != nil {
		s.writeStoreError(w, r, err, "project")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, metrics)
}

func (s *Server) latestMetrics(w http.ResponseWriter, r *http.Request) {
	projectID, ok := pathUUID(w, r, "project_id")
	if !ok || !s.requireProject(w, r, projectID) {
		return
	}
	metrics, err := s.Metrics.Latest(r.Context(), projectID)
	if err != nil {
		s.writeStoreError(w, r, err, "project")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, metrics)
}

func (s *Server) aggregatedMetrics(w http.ResponseWriter, r *http.Request) {
	projectID, ok := pathUUID(w, r, "project_id")
	if !ok || !s.requireProject(w, r, projectID) {
		return
	}
	start, err := queryTime(r, "start_time")
	if err != nil {
		badRequest(w, r, err)
		return
	}
	end, err := queryTime(r, "end_time")
	if err != nil {
		badRequest(w, r, err)
		return
	}
	q := r.URL.Query()
	buckets, err := s.Aggregator.Aggregate(r.Context(), aggregate.Query{
		ProjectID:  projectID,
		MetricType: q.Get("metric_type"),
		Interval:   q.Get("interval"),
		Start:      start,
		End:        end,
	})
	if err != nil {
		s.writeStoreError(w, r, err, "project")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buckets)
}

type qualityRequest struct {
	ProjectID         uuid.UUID  `json:"project_id" validate:"required"`
	PH                *float64   `json:"ph,omitempty" validate:"omitempty,gte=0,lte=14"`
	TurbidityNTU      *float64   `json:"turbidity_ntu,omitempty" validate:"omitempty,gte=0"`
	ChlorineMgL       *float64   `json:"chlorine_mg_l,omitempty" validate:"omitempty,gte=0"`
	TDSMgL            *float64   `json:"tds_mg_l,omitempty" validate:"omitempty,gte=0"`
	ConductivityUsCm  *float64   `json:"conductivity_us_cm,omitempty" validate:"omitempty,gte=0"`
	TemperatureC      *float64   `json:"temperature_c,omitempty"`
	DissolvedOxygenMg *float64   `json:"dissolved_oxygen_mg_l,omitempty" validate:"omitempty,gte=0"`
	Notes             *string    `json:"notes,omitempty"`
	RecordedAt        *time.Time `json:"recorded_at,omitempty"`
}

type qualityResponse struct {
	models.QualityReading
	Violations []compliance.Violation `json:"violations"`
}

func (s *Server) createQualityReading(w http.ResponseWriter, r *http.Request) {
	var req qualityRequest
	if !httpx.DecodeJSON(w, r, &req) {
		return
	}
	if !s.requireProject(w, r, req.ProjectID) {
		return
	}
	check := compliance.Reading{
		PH:              req.PH,
		TurbidityNTU:    req.TurbidityNTU,
		ChlorineMgL:     req.ChlorineMgL,
		TDSMgL:          req.TDSMgL,
		ConductivityUS:  req.ConductivityUsCm,
		TemperatureC:    req.TemperatureC,
		DissolvedOxygen: req.DissolvedOxygenMg,
	}
	recordedAt := time.Now().UTC()
	if req.RecordedAt != nil {
		recordedAt = req.RecordedAt.UTC()
	}
	reading, err := s.Quality.Insert(r.Context(), models.QualityReading{
		ProjectID:         req.ProjectID,
		PH:                req.PH,
		TurbidityNTU:      req.TurbidityNTU,
		ChlorineMgL:       req.ChlorineMgL,
		TDSMgL:            req.TDSMgL,
		ConductivityUsCm:  req.ConductivityUsCm,
		TemperatureC:      req.TemperatureC,
		DissolvedOxygenMg: req.DissolvedOxygenMg,
		IsCompliant:       compliance.Check(check),
		Notes:             req.Notes,
		RecordedAt:        recordedAt,
	})
	if err != nil {
		s.writeStoreError(w, r, err, "project")
		return
	}
	violations := compliance.Violations(check)
	if violations == nil {
		violations = []compliance.Violation{}
	}
	httpx.WriteJSON(w, http.StatusCreated, qualityResponse{QualityReading: reading, Violations: violations})
}

func (s *Server) listQualityReadings(w http.ResponseWriter, r *http.Request) {
	projectID, ok := pathUUID(w, r, "project_id")
	if !ok || !s.requireProject(w, r, projectID) {
		return
	}
	limit, err := httpx.QueryInt(r, "limit", 100, 1, 1000)
	if err != nil {
		badRequest(w, r, err)
		return
	}
	readings, err := s.Quality.List(r.Context(), projectID, limit)
	if err != nil {
		s.writeStoreError(w, r, err, "project")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, readings)
}

const scoreHistoryLimit = 500

type scoreRequest struct {
	MetricType string     `json:"metric_type" validate:"required,max=50"`
	Value      float64    `json:"value"`
	RecordedAt *time.Time `json:"recorded_at,omitempty"`
}

type scoreOutcome struct {
	IsAnomaly bool    `json:"is_anomaly"`
	Score     float64 `json:"score"`
}

type scoreResponse struct {
	MetricType   string                `json:"metric_type"`
	Value        float64               `json:"value"`
	Simple       scoreOutcome          `json:"simple"`
	RateOfChange *scoreOutcome         `json:"rate_of_change,omitempty"`
	Density      anomaly.DensityResult `json:"density"`
	Detector     anomaly.Result        `json:"detector"`
	HistorySize  int                   `json:"history_size"`
}

// scoreReading runs every detector against a candidate value without storing it.
func (s *Server) scoreReading(w http.ResponseWriter, r *http.Request) {
	projectID, ok := pathUUID(w, r, "project_id")
	if !ok || !s.requireProject(w, r, projectID) {
		return
	}
	var req scoreRequest
	if !httpx.DecodeJSON(w, r, &req) {
		return
	}
	metricType := strings.ToLower(strings.TrimSpace(req.MetricType))
	at := time.Now().UTC()
	if req.RecordedAt != nil {
		at = req.RecordedAt.UTC()
	}

	past, err := s.Metrics.History(r.Context(), projectID, metricType, scoreHistoryLimit)
	if err != nil {
		s.writeStoreError(w, r, err, "project")
		return
	}
	history := make([]float64, 0, len(past))
	for _, m := range past {
		history = append(history, m.Value)
	}

	resp := scoreResponse{MetricType: metricType, Value: req.Value, HistorySize: len(history)}
	resp.Simple.IsAnomaly, resp.Simple.Score = s.Thresholds.DetectSimple(metricType, req.Value)
	if th, ok := s.Thresholds.Lookup(metricType); ok && len(past) > 0 {
		prev := past[0]
		var roc scoreOutcome
		roc.IsAnomaly, roc.Score = anomaly.DetectRateOfChange(req.Value, prev.Value, at.Sub(prev.RecordedAt).Seconds(), th.MaxRate)
		resp.RateOfChange = &roc
	}
	resp.Density = anomaly.DetectDensity(r.Context(), s.Scorer, history, req.Value, s.MinHistory)
	resp.Detector = s.Detector.Detect(r.Context(), anomaly.Input{MetricType: metricType, Value: req.Value, History: history})
	httpx.WriteJSON(w, http.StatusOK, resp)
}
