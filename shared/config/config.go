package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Problem struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type Config struct {
	Env                  string
	ServiceName          string
	HTTPPort             int
	LogLevel             string
	LogFile              string
	ConfigPath           string
	RequestTimeoutMS     int
	RequestTimeout       time.Duration
	CORSAllowedOrigins   []string
	JWTSecret            string
	AccessTokenTTLMin    int
	RefreshTokenTTLDays  int
	OIDCIssuer           string
	OIDCAudience         string
	OIDCJWKSURL          string
	JWKSTTLSeconds       int
	JWTClockSkewSec      int
	DatabaseURL          string
	DBMaxConns           int
	DBMinConns           int
	DBConnMaxIdleSec     int
	DBConnMaxLifeSec     int
	AuditEnabled         bool
	RateLimitRPS         float64
	RateLimitBurst       int
	KafkaBrokers         []string
	KafkaClientID        string
	KafkaGroupID         string
	KafkaRetryMax        int
	KafkaWriteMS         int
	RedisAddr            string
	RedisPassword        string
	RedisDB              int
	AsynqRedisAddr       string
	AsynqRedisPass       string
	AsynqRedisDB         int
	AsynqQueue           string
	AsynqConcurrency     int
	AsynqEnabled         bool
	OutboxScanSec        int
	OutboxBatchSize      int
	OutboxMaxAttempts    int
	InfluxURL            string
	InfluxToken          string
	InfluxOrg            string
	InfluxBucket         string
	InfluxTimeoutMS      int
	KPICacheTTLSec       int
	AnomalyDetector      string
	AnomalyDensityScorer string
	AnomalyMinHistory    int
	AnomalyAlertsEnabled bool
	ScorerURL            string
	ScorerTimeoutMS      int
	ScorerRetryMax       int
	MaxUploadMB          int
	OtelEnabled          bool
	OtelEndpoint         string
	OtelInsecure         bool
	OtelSampleRatio      float64
}

const devJWTSecret = "dev-only-insecure-secret"

func defaults(serviceName string, httpPort int) Config {
	return Config{
		Env:                  "",
		ServiceName:          serviceName,
		HTTPPort:             httpPort,
		LogLevel:             "info",
		RequestTimeoutMS:     30000,
		AccessTokenTTLMin:    30,
		RefreshTokenTTLDays:  7,
		JWKSTTLSeconds:       300,
		JWTClockSkewSec:      60,
		DBMaxConns:           10,
		DBMinConns:           1,
		DBConnMaxIdleSec:     300,
		DBConnMaxLifeSec:     1800,
		RateLimitRPS:         20,
		RateLimitBurst:       40,
		KafkaRetryMax:        5,
		KafkaWriteMS:         5000,
		AsynqQueue:           "default",
		AsynqConcurrency:     10,
		OutboxScanSec:        5,
		OutboxBatchSize:      50,
		OutboxMaxAttempts:    20,
		InfluxTimeoutMS:      5000,
		KPICacheTTLSec:       60,
		AnomalyDetector:      "rule",
		AnomalyDensityScorer: "local",
		AnomalyMinHistory:    30,
		ScorerTimeoutMS:      3000,
		ScorerRetryMax:       2,
		MaxUploadMB:          50,
		OtelInsecure:         true,
		OtelSampleRatio:      1.0,
	}
}

// Load resolves configuration from defaults, then an optional JSON or YAML
// file, then a .env file, then the process environment. Invalid values are
// reported as problems and replaced by their defaults.
func Load(serviceNameDefault string, httpPortDefault int) (Config, []Problem) {
	problems := make([]Problem, 0, 4)
	loadDotEnv(&problems)

	envRaw := strings.TrimSpace(os.Getenv("ENV"))
	cfg := defaults(serviceNameDefault, httpPortDefault)
	cfg.Env = envRaw
	cfg.ConfigPath = strings.TrimSpace(os.Getenv("CONFIG_PATH"))
	envProvided := envRaw != ""

	if cfg.ConfigPath == "" && cfg.Env != "" {
		if p, ok := findConfigFile(cfg.Env); ok {
			cfg.ConfigPath = p
		}
	}

	if fileData, fileProblems, ok := loadConfigFile(cfg.ConfigPath, strings.TrimSpace(os.Getenv("CONFIG_PATH")) != ""); ok {
		problems = append(problems, fileProblems...)
		if fileEnv, ok := readStringKey(fileData, "ENV"); ok && strings.TrimSpace(fileEnv) != "" {
			envProvided = true
		}
		applyConfigMap(&cfg, fileData, &problems)
	} else {
		problems = append(problems, fileProblems...)
	}

	applyEnv(&cfg, &problems)

	if cfg.OIDCIssuer != "" && strings.TrimSpace(cfg.OIDCJWKSURL) == "" {
		cfg.OIDCJWKSURL = strings.TrimRight(cfg.OIDCIssuer, "/") + "/.well-known/jwks.json"
	}

	if cfg.Env == "" {
		cfg.Env = "dev"
	}
	if !envProvided {
		problems = append(problems, Problem{Field: "ENV", Message: "ENV is required"})
	}
	validate(&cfg, defaults(serviceNameDefault, httpPortDefault), &problems)
	cfg.RequestTimeout = time.Duration(cfg.RequestTimeoutMS) * time.Millisecond
	return cfg, problems
}

func (c Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMin) * time.Minute
}

func (c Config) RefreshTokenTTL() time.Duration {
	return time.Duration(c.RefreshTokenTTLDays) * 24 * time.Hour
}

func (c Config) KPICacheTTL() time.Duration {
	return time.Duration(c.KPICacheTTLSec) * time.Second
}

func (c Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

func validate(cfg *Config, def Config, problems *[]Problem) {
	add := func(field, msg string) {
		*problems = append(*problems, Problem{Field: field, Message: msg})
	}
	positive := func(field string, v *int, fallback int) {
		if *v <= 0 {
			add(field, field+" must be > 0")
			*v = fallback
		}
	}
	nonNegative := func(field string, v *int, fallback int) {
		if *v < 0 {
			add(field, field+" must be >= 0")
			*v = fallback
		}
	}

	if cfg.HTTPPort <= 0 || cfg.HTTPPort > 65535 {
		add("HTTP_PORT", "HTTP_PORT must be 1-65535")
		cfg.HTTPPort = def.HTTPPort
	}
	positive("REQUEST_TIMEOUT_MS", &cfg.RequestTimeoutMS, def.RequestTimeoutMS)
	positive("ACCESS_TOKEN_TTL_MINUTES", &cfg.AccessTokenTTLMin, def.AccessTokenTTLMin)
	positive("REFRESH_TOKEN_TTL_DAYS", &cfg.RefreshTokenTTLDays, def.RefreshTokenTTLDays)
	positive("JWKS_CACHE_TTL_SECONDS", &cfg.JWKSTTLSeconds, def.JWKSTTLSeconds)
	nonNegative("JWT_CLOCK_SKEW_SECONDS", &cfg.JWTClockSkewSec, def.JWTClockSkewSec)
	positive("DB_MAX_CONNS", &cfg.DBMaxConns, def.DBMaxConns)
	nonNegative("DB_MIN_CONNS", &cfg.DBMinConns, def.DBMinConns)
	if cfg.DBMinConns > cfg.DBMaxConns {
		add("DB_MIN_CONNS", "DB_MIN_CONNS must be <= DB_MAX_CONNS")
		cfg.DBMinConns = cfg.DBMaxConns
	}
	positive("DB_CONN_MAX_IDLE_SECONDS", &cfg.DBConnMaxIdleSec, def.DBConnMaxIdleSec)
	positive("DB_CONN_MAX_LIFETIME_SECONDS", &cfg.DBConnMaxLifeSec, def.DBConnMaxLifeSec)
	if cfg.RateLimitRPS < 0 {
		add("RATE_LIMIT_RPS", "RATE_LIMIT_RPS must be >= 0")
		cfg.RateLimitRPS = def.RateLimitRPS
	}
	positive("RATE_LIMIT_BURST", &cfg.RateLimitBurst, def.RateLimitBurst)
	nonNegative("KAFKA_RETRY_MAX", &cfg.KafkaRetryMax, def.KafkaRetryMax)
	positive("KAFKA_WRITE_TIMEOUT_MS", &cfg.KafkaWriteMS, def.KafkaWriteMS)
	nonNegative("REDIS_DB", &cfg.RedisDB, def.RedisDB)
	nonNegative("ASYNQ_REDIS_DB", &cfg.AsynqRedisDB, def.AsynqRedisDB)
	positive("ASYNQ_CONCURRENCY", &cfg.AsynqConcurrency, def.AsynqConcurrency)
	positive("OUTBOX_SCAN_INTERVAL_SECONDS", &cfg.OutboxScanSec, def.OutboxScanSec)
	positive("OUTBOX_BATCH_SIZE", &cfg.OutboxBatchSize, def.OutboxBatchSize)
	positive("OUTBOX_MAX_ATTEMPTS", &cfg.OutboxMaxAttempts, def.OutboxMaxAttempts)
	positive("INFLUX_TIMEOUT_MS", &cfg.InfluxTimeoutMS, def.InfluxTimeoutMS)
	nonNegative("KPI_CACHE_TTL_SECONDS", &cfg.KPICacheTTLSec, def.KPICacheTTLSec)
	positive("ANOMALY_MIN_HISTORY", &cfg.AnomalyMinHistory, def.AnomalyMinHistory)
	positive("SCORER_TIMEOUT_MS", &cfg.ScorerTimeoutMS, def.ScorerTimeoutMS)
	nonNegative("SCORER_RETRY_MAX", &cfg.ScorerRetryMax, def.ScorerRetryMax)
	positive("MAX_UPLOAD_MB", &cfg.MaxUploadMB, def.MaxUploadMB)

	cfg.AnomalyDetector = strings.ToLower(strings.TrimSpace(cfg.AnomalyDetector))
	if cfg.AnomalyDetector != "rule" && cfg.AnomalyDetector != "density" {
		add("ANOMALY_DETECTOR", "ANOMALY_DETECTOR must be rule or density")
		cfg.AnomalyDetector = def.AnomalyDetector
	}
	cfg.AnomalyDensityScorer = strings.ToLower(strings.TrimSpace(cfg.AnomalyDensityScorer))
	switch cfg.AnomalyDensityScorer {
	case "local", "none":
	case "remote":
		if strings.TrimSpace(cfg.ScorerURL) == "" {
			add("SCORER_URL", "SCORER_URL is required when ANOMALY_DENSITY_SCORER=remote")
			cfg.AnomalyDensityScorer = def.AnomalyDensityScorer
		}
	default:
		add("ANOMALY_DENSITY_SCORER", "ANOMALY_DENSITY_SCORER must be local, remote or none")
		cfg.AnomalyDensityScorer = def.AnomalyDensityScorer
	}

	if strings.TrimSpace(cfg.JWTSecret) == "" {
		if cfg.Env != "dev" && cfg.Env != "test" {
			add("JWT_SECRET", "JWT_SECRET is required")
		}
		cfg.JWTSecret = devJWTSecret
	}

	if cfg.OtelSampleRatio < 0 || cfg.OtelSampleRatio > 1 {
		add("OTEL_SAMPLE_RATIO", "OTEL_SAMPLE_RATIO must be 0-1")
		cfg.OtelSampleRatio = def.OtelSampleRatio
	}
}

func loadDotEnv(problems *[]Problem) {
	path := strings.TrimSpace(os.Getenv("DOTENV_PATH"))
	explicit := path != ""
	if !explicit {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		if explicit {
			*problems = append(*problems, Problem{Field: "DOTENV_PATH", Message: "dotenv file not found"})
		}
		return
	}
	// godotenv.Load never overrides variables that are already set.
	if err := godotenv.Load(path); err != nil {
		*problems = append(*problems, Problem{Field: "DOTENV_PATH", Message: fmt.Sprintf("invalid dotenv file: %v", err)})
	}
}

func findConfigFile(env string) (string, bool) {
	start, err := os.Getwd()
	if err != nil {
		return "", false
	}
	dir := start
	for i := 0; i < 8; i++ {
		for _, ext := range []string{".json", ".yaml", ".yml"} {
			candidate := filepath.Join(dir, "configs", env+ext)
			if fi, err := os.Stat(candidate); err == nil && !fi.IsDir() {
				return candidate, true
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false
}

func loadConfigFile(path string, explicit bool) (map[string]any, []Problem, bool) {
	if strings.TrimSpace(path) == "" {
		return nil, nil, false
	}

	b, err := os.ReadFile(path)
	if err != nil {
		if explicit && !errors.Is(err, os.ErrNotExist) {
			return nil, []Problem{{Field: "CONFIG_PATH", Message: fmt.Sprintf("failed to read config file: %v", err)}}, false
		}
		if explicit && errors.Is(err, os.ErrNotExist) {
			return nil, []Problem{{Field: "CONFIG_PATH", Message: "config file not found"}}, false
		}
		return nil, nil, false
	}

	var raw map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &raw); err != nil {
			return nil, []Problem{{Field: "CONFIG_PATH", Message: fmt.Sprintf("invalid yaml: %v", err)}}, false
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(b))
		dec.UseNumber()
		if err := dec.Decode(&raw); err != nil {
			return nil, []Problem{{Field: "CONFIG_PATH", Message: fmt.Sprintf("invalid json: %v", err)}}, false
		}
	}
	return raw, nil, true
}

func applyEnv(cfg *Config, problems *[]Problem) {
	for _, b := range bindings {
		raw := strings.TrimSpace(os.Getenv(b.key))
		if raw == "" && b.alias != "" {
			raw = strings.TrimSpace(os.Getenv(b.alias))
		}
		if raw == "" {
			continue
		}
		if err := b.set(cfg, raw); err != nil {
			*problems = append(*problems, Problem{Field: b.key, Message: fmt.Sprintf("%s %v", b.key, err)})
		}
	}
}

func applyConfigMap(cfg *Config, raw map[string]any, problems *[]Problem) {
	for _, b := range bindings {
		v, ok := raw[b.key]
		if !ok || v == nil {
			continue
		}
		s, ok := stringify(v)
		if !ok {
			*problems = append(*problems, Problem{Field: b.key, Message: fmt.Sprintf("%s has unsupported type %T", b.key, v)})
			continue
		}
		if strings.TrimSpace(s) == "" {
			continue
		}
		if err := b.set(cfg, strings.TrimSpace(s)); err != nil {
			*problems = append(*problems, Problem{Field: b.key, Message: fmt.Sprintf("%s %v", b.key, err)})
		}
	}
}

func readStringKey(raw map[string]any, key string) (string, bool) {
	v, ok := raw[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func stringify(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case bool:
		return strconv.FormatBool(t), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case json.Number:
		return t.String(), true
	case []any:
		return strings.Join(parseAnyCSV(t), ","), true
	default:
		return "", false
	}
}

func asInt(v string) (int, bool) {
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		f, ferr := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if ferr != nil || f != float64(int(f)) {
			return 0, false
		}
		return int(f), true
	}
	return i, true
}

func asBool(v string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes", "y":
		return true, true
	case "false", "0", "no", "n":
		return false, true
	default:
		return false, false
	}
}

func asFloat(v string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f, err == nil
}

func parseCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseAnyCSV(raw []any) []string {
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			s = fmt.Sprint(item)
		}
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
