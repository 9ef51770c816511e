package config

import "errors"

var (
	errNotInt   = errors.New("must be an integer")
	errNotBool  = errors.New("must be a boolean")
	errNotFloat = errors.New("must be a number")
)

// binding maps one key to a Config field. The same table serves the
// environment and config files.
type binding struct {
	key   string
	alias string
	set   func(cfg *Config, raw string) error
}

func str(field func(*Config) *string) func(*Config, string) error {
	return func(cfg *Config, raw string) error {
		*field(cfg) = raw
		return nil
	}
}

func integer(field func(*Config) *int) func(*Config, string) error {
	return func(cfg *Config, raw string) error {
		v, ok := asInt(raw)
		if !ok {
			return errNotInt
		}
		*field(cfg) = v
		return nil
	}
}

func boolean(field func(*Config) *bool) func(*Config, string) error {
	return func(cfg *Config, raw string) error {
		v, ok := asBool(raw)
		if !ok {
			return errNotBool
		}
		*field(cfg) = v
		return nil
	}
}

func float(field func(*Config) *float64) func(*Config, string) error {
	return func(cfg *Config, raw string) error {
		v, ok := asFloat(raw)
		if !ok {
			return errNotFloat
		}
		*field(cfg) = v
		return nil
	}
}

func list(field func(*Config) *[]string) func(*Config, string) error {
	return func(cfg *Config, raw string) error {
		*field(cfg) = parseCSV(raw)
		return nil
	}
}

var bindings = []binding{
	{key: "ENV", set: str(func(c *Config) *string { return &c.Env })},
	{key: "SERVICE_NAME", set: str(func(c *Config) *string { return &c.ServiceName })},
	{key: "HTTP_PORT", alias: "PORT", set: integer(func(c *Config) *int { return &c.HTTPPort })},
	{key: "LOG_LEVEL", set: str(func(c *Config) *string { return &c.LogLevel })},
	{key: "LOG_FILE", set: str(func(c *Config) *string { return &c.LogFile })},
	{key: "REQUEST_TIMEOUT_MS", set: integer(func(c *Config) *int { return &c.RequestTimeoutMS })},
	{key: "CORS_ALLOWED_ORIGINS", set: list(func(c *Config) *[]string { return &c.CORSAllowedOrigins })},

	{key: "JWT_SECRET", set: str(func(c *Config) *string { return &c.JWTSecret })},
	{key: "ACCESS_TOKEN_TTL_MINUTES", set: integer(func(c *Config) *int { return &c.AccessTokenTTLMin })},
	{key: "REFRESH_TOKEN_TTL_DAYS", set: integer(func(c *Config) *int { return &c.RefreshTokenTTLDays })},
	{key: "OIDC_ISSUER", set: str(func(c *Config) *string { return &c.OIDCIssuer })},
	{key: "OIDC_AUDIENCE", set: str(func(c *Config) *string { return &c.OIDCAudience })},
	{key: "OIDC_JWKS_URL", set: str(func(c *Config) *string { return &c.OIDCJWKSURL })},
	{key: "JWKS_CACHE_TTL_SECONDS", set: integer(func(c *Config) *int { return &c.JWKSTTLSeconds })},
	{key: "JWT_CLOCK_SKEW_SECONDS", set: integer(func(c *Config) *int { return &c.JWTClockSkewSec })},

	{key: "DATABASE_URL", set: str(func(c *Config) *string { return &c.DatabaseURL })},
	{key: "DB_MAX_CONNS", set: integer(func(c *Config) *int { return &c.DBMaxConns })},
	{key: "DB_MIN_CONNS", set: integer(func(c *Config) *int { return &c.DBMinConns })},
	{key: "DB_CONN_MAX_IDLE_SECONDS", set: integer(func(c *Config) *int { return &c.DBConnMaxIdleSec })},
	{key: "DB_CONN_MAX_LIFETIME_SECONDS", set: integer(func(c *Config) *int { return &c.DBConnMaxLifeSec })},
	{key: "AUDIT_ENABLED", set: boolean(func(c *Config) *bool { return &c.AuditEnabled })},
	{key: "RATE_LIMIT_RPS", set: float(func(c *Config) *float64 { return &c.RateLimitRPS })},
	{key: "RATE_LIMIT_BURST", set: integer(func(c *Config) *int { return &c.RateLimitBurst })},

	{key: "KAFKA_BROKERS", set: list(func(c *Config) *[]string { return &c.KafkaBrokers })},
	{key: "KAFKA_CLIENT_ID", set: str(func(c *Config) *string { return &c.KafkaClientID })},
	{key: "KAFKA_CONSUMER_GROUP", alias: "KAFKA_GROUP_ID", set: str(func(c *Config) *string { return &c.KafkaGroupID })},
	{key: "KAFKA_RETRY_MAX", set: integer(func(c *Config) *int { return &c.KafkaRetryMax })},
	{key: "KAFKA_WRITE_TIMEOUT_MS", set: integer(func(c *Config) *int { return &c.KafkaWriteMS })},

	{key: "REDIS_ADDR", set: str(func(c *Config) *string { return &c.RedisAddr })},
	{key: "REDIS_PASSWORD", set: str(func(c *Config) *string { return &c.RedisPassword })},
	{key: "REDIS_DB", set: integer(func(c *Config) *int { return &c.RedisDB })},
	{key: "ASYNQ_REDIS_ADDR", set: str(func(c *Config) *string { return &c.AsynqRedisAddr })},
	{key: "ASYNQ_REDIS_PASSWORD", set: str(func(c *Config) *string { return &c.AsynqRedisPass })},
	{key: "ASYNQ_REDIS_DB", set: integer(func(c *Config) *int { return &c.AsynqRedisDB })},
	{key: "ASYNQ_QUEUE", set: str(func(c *Config) *string { return &c.AsynqQueue })},
	{key: "ASYNQ_CONCURRENCY", set: integer(func(c *Config) *int { return &c.AsynqConcurrency })},
	{key: "ASYNQ_ENABLED", set: boolean(func(c *Config) *bool { return &c.AsynqEnabled })},
	{key: "OUTBOX_SCAN_INTERVAL_SECONDS", set: integer(func(c *Config) *int { return &c.OutboxScanSec })},
	{key: "OUTBOX_BATCH_SIZE", set: integer(func(c *Config) *int { return &c.OutboxBatchSize })},
	{key: "OUTBOX_MAX_ATTEMPTS", set: integer(func(c *Config) *int { return &c.OutboxMaxAttempts })},

	{key: "INFLUX_URL", set: str(func(c *Config) *string { return &c.InfluxURL })},
	{key: "INFLUX_TOKEN", set: str(func(c *Config) *string { return &c.InfluxToken })},
	{key: "INFLUX_ORG", set: str(func(c *Config) *string { return &c.InfluxOrg })},
	{key: "INFLUX_BUCKET", set: str(func(c *Config) *string { return &c.InfluxBucket })},
	{key: "INFLUX_TIMEOUT_MS", set: integer(func(c *Config) *int { return &c.InfluxTimeoutMS })},

	{key: "KPI_CACHE_TTL_SECONDS", set: integer(func(c *Config) *int { return &c.KPICacheTTLSec })},
	{key: "ANOMALY_DETECTOR", set: str(func(c *Config) *string { return &c.AnomalyDetector })},
	{key: "ANOMALY_DENSITY_SCORER", set: str(func(c *Config) *string { return &c.AnomalyDensityScorer })},
	{key: "ANOMALY_MIN_HISTORY", set: integer(func(c *Config) *int { return &c.AnomalyMinHistory })},
	{key: "ANOMALY_ALERTS_ENABLED", set: boolean(func(c *Config) *bool { return &c.AnomalyAlertsEnabled })},
	{key: "SCORER_URL", set: str(func(c *Config) *string { return &c.ScorerURL })},
	{key: "SCORER_TIMEOUT_MS", set: integer(func(c *Config) *int { return &c.ScorerTimeoutMS })},
	{key: "SCORER_RETRY_MAX", set: integer(func(c *Config) *int { return &c.ScorerRetryMax })},
	{key: "MAX_UPLOAD_MB", set: integer(func(c *Config) *int { return &c.MaxUploadMB })},

	{key: "OTEL_ENABLED", set: boolean(func(c *Config) *bool { return &c.OtelEnabled })},
	{key: "OTEL_EXPORTER_OTLP_ENDPOINT", set: str(func(c *Config) *string { return &c.OtelEndpoint })},
	{key: "OTEL_EXPORTER_OTLP_INSECURE", set: boolean(func(c *Config) *bool { return &c.OtelInsecure })},
	{key: "OTEL_SAMPLE_RATIO", set: float(func(c *Config) *float64 { return &c.OtelSampleRatio })},
}
