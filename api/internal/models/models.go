package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	QualityGood    = "good"
	QualitySuspect = "suspect"
	QualityBad     = "bad"
)

type Tenant struct {
	TenantID  uuid.UUID `json:"tenant_id"`
	Slug      string    `json:"slug"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type User struct {
	UserID       uuid.UUID  `json:"user_id"`
	TenantID     *uuid.UUID `json:"tenant_id,omitempty"`
	Subject      *string    `json:"-"`
	Email        string     `json:"email"`
	FullName     string     `json:"full_name"`
	PasswordHash *string    `json:"-"`
	Role         string     `json:"role"`
	Region       *string    `json:"region,omitempty"`
	IsActive     bool       `json:"is_active"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
}

type UserPatch struct {
	FullName *string
	Role     *string
	Region   *string
	IsActive *bool
	TenantID *uuid.UUID
}

type Project struct {
	ProjectID        uuid.UUID  `json:"project_id"`
	TenantID         *uuid.UUID `json:"tenant_id,omitempty"`
	Name             string     `json:"name"`
	ProjectType      string     `json:"project_type"`
	Status           string     `json:"status"`
	Region           string     `json:"region"`
	District         *string    `json:"district,omitempty"`
	Latitude         *float64   `json:"latitude,omitempty"`
	Longitude        *float64   `json:"longitude,omitempty"`
	CapacityM3Day    *float64   `json:"capacity_m3_day,omitempty"`
	PopulationServed int        `json:"population_served"`
	ConnectionsCount int        `json:"connections_count"`
	CommissionedAt   *time.Time `json:"commissioned_at,omitempty"`
	Description      *string    `json:"description,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

type ProjectPatch struct {
	Name             *string
	Status           *string
	District         *string
	Latitude         *float64
	Longitude        *float64
	CapacityM3Day    *float64
	PopulationServed *int
	ConnectionsCount *int
	Description      *string
}

type ProjectFilter struct {
	Region      string
	Status      string
	ProjectType string
	TenantID    *uuid.UUID
	Skip        int
	Limit       int
}

type Metric struct {
	MetricID     uuid.UUID `json:"metric_id"`
	ProjectID    uuid.UUID `json:"project_id"`
	SensorID     *string   `json:"sensor_id,omitempty"`
	MetricType   string    `json:"metric_type"`
	Value        float64   `json:"value"`
	Unit         string    `json:"unit"`
	IsAnomaly    bool      `json:"is_anomaly"`
	AnomalyScore float64   `json:"anomaly_score"`
	QualityFlag  string    `json:"quality_flag"`
	RecordedAt   time.Time `json:"recorded_at"`
	IngestedAt   time.Time `json:"ingested_at"`
}

type MetricFilter struct {
	ProjectID  uuid.UUID
	MetricType string
	Start      *time.Time
	End        *time.Time
	Limit      int
}

type QualityReading struct {
	ReadingID         uuid.UUID `json:"reading_id"`
	ProjectID         uuid.UUID `json:"project_id"`
	PH                *float64  `json:"ph,omitempty"`
	TurbidityNTU      *float64  `json:"turbidity_ntu,omitempty"`
	ChlorineMgL       *float64  `json:"chlorine_mg_l,omitempty"`
	TDSMgL            *float64  `json:"tds_mg_l,omitempty"`
	ConductivityUsCm  *float64  `json:"conductivity_us_cm,omitempty"`
	TemperatureC      *float64  `json:"temperature_c,omitempty"`
	DissolvedOxygenMg *float64  `json:"dissolved_oxygen_mg_l,omitempty"`
	IsCompliant       bool      `json:"is_compliant"`
	Notes             *string   `json:"notes,omitempty"`
	RecordedAt        time.Time `json:"recorded_at"`
	CreatedAt         time.Time `json:"created_at"`
}

type Alert struct {
	AlertID        uuid.UUID  `json:"alert_id"`
	TenantID       *uuid.UUID `json:"tenant_id,omitempty"`
	ProjectID      uuid.UUID  `json:"project_id"`
	RuleID         *uuid.UUID `json:"rule_id,omitempty"`
	Title          string     `json:"title"`
	Message        string     `json:"message"`
	Severity       string     `json:"severity"`
	Status         string     `json:"status"`
	AlertType      string     `json:"alert_type"`
	MetricType     *string    `json:"metric_type,omitempty"`
	MetricValue    *float64   `json:"metric_value,omitempty"`
	AcknowledgedBy *uuid.UUID `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	ResolvedBy     *uuid.UUID `json:"resolved_by,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

type AlertFilter struct {
	ProjectID *uuid.UUID
	Severity  string
	TenantID  *uuid.UUID
	Limit     int
}

type AlertRule struct {
	RuleID      uuid.UUID  `json:"rule_id"`
	TenantID    *uuid.UUID `json:"tenant_id,omitempty"`
	ProjectID   *uuid.UUID `json:"project_id,omitempty"`
	Name        string     `json:"name"`
	Description *string    `json:"description,omitempty"`
	MetricType  string     `json:"metric_type"`
	Condition   string     `json:"condition"`
	Threshold   *float64   `json:"threshold,omitempty"`
	Severity    string     `json:"severity"`
	IsActive    bool       `json:"is_active"`
	NotifySMS   bool       `json:"notify_sms"`
	NotifyEmail bool       `json:"notify_email"`
	CreatedAt   time.Time  `json:"created_at"`
}

type OutboxEvent struct {
	EventID       uuid.UUID
	TenantID      *uuid.UUID
	AggregateType string
	AggregateID   uuid.UUID
	Topic         string
	Payload       []byte
	Status        string
	Attempts      int
	NextRetryAt   *time.Time
	LockedAt      *time.Time
	LockedBy      *string
	LastError     *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	PublishedAt   *time.Time
}

type AuditLog struct {
	AuditID      uuid.UUID
	OccurredAt   time.Time
	TenantID     *uuid.UUID
	ActorUserID  *uuid.UUID
	Subject      string
	Action       string
	ResourceType *string
	ResourceID   *string
	RequestID    string
	Method       string
	Path         string
	StatusCode   int
	DurationMS   int64
	ClientIP     string
	UserAgent    string
	Details      []byte
}

type KPIFilter struct {
	Region   string
	TenantID *uuid.UUID
}

type DashboardKPIs struct {
	TotalProjects             int64   `json:"total_projects"`
	OperationalProjects       int64   `json:"operational_projects"`
	TotalPopulationServed     int64   `json:"total_population_served"`
	TotalConnections          int64   `json:"total_connections"`
	AvgFlowRateLS             float64 `json:"avg_flow_rate_ls"`
	AvgPressureBar            float64 `json:"avg_pressure_bar"`
	ActiveAlerts              int64   `json:"active_alerts"`
	NRWPercentage             float64 `json:"nrw_percentage"`
	WaterQualityCompliancePct float64 `json:"water_quality_compliance_pct"`
}

type RegionSummary struct {
	Region           string `json:"region"`
	ProjectCount     int64  `json:"project_count"`
	PopulationServed int64  `json:"population_served"`
}
