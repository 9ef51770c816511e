package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseCSV(t *testing.T) {
	got := parseCSV("a, b, ,c,,")
	if len(got) != 3 {
		t.Fatalf("expected 3 items, got %d", len(got))
	}
	if got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("unexpected values: %#v", got)
	}
}

func TestParseAnyCSV(t *testing.T) {
	raw := []any{"x", " ", "y"}
	got := parseAnyCSV(raw)
	if len(got) != 2 {
		t.Fatalf("expected 2 items, got %d", len(got))
	}
	if got[0] != "x" || got[1] != "y" {
		t.Fatalf("unexpected values: %#v", got)
	}
}

func isolate(t *testing.T) {
	t.Helper()
	for _, b := range bindings {
		t.Setenv(b.key, "")
		if b.alias != "" {
			t.Setenv(b.alias, "")
		}
	}
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("DOTENV_PATH", "")
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	dir := t.TempDir()
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func hasProblem(problems []Problem, field string) bool {
	for _, p := range problems {
		if p.Field == field {
			return true
		}
	}
	return false
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)
	t.Setenv("ENV", "dev")

	cfg, problems := Load("api", 8080)
	if len(problems) != 0 {
		t.Fatalf("unexpected problems: %+v", problems)
	}
	if cfg.HTTPPort != 8080 || cfg.ServiceName != "api" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.AccessTokenTTL().Minutes() != 30 || cfg.RefreshTokenTTL().Hours() != 7*24 {
		t.Fatalf("unexpected token ttl defaults")
	}
	if cfg.MaxUploadBytes() != 50<<20 {
		t.Fatalf("unexpected upload limit %d", cfg.MaxUploadBytes())
	}
	if cfg.JWTSecret == "" {
		t.Fatalf("dev should fall back to a local secret")
	}
}

func TestLoadEnvOverridesAndProblems(t *testing.T) {
	isolate(t)
	t.Setenv("ENV", "prod")
	t.Setenv("PORT", "9000")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("RATE_LIMIT_RPS", "abc")
	t.Setenv("ANOMALY_DETECTOR", "neural")
	t.Setenv("DB_MIN_CONNS", "50")

	cfg, problems := Load("api", 8080)
	if cfg.HTTPPort != 9000 {
		t.Fatalf("expected PORT alias to apply, got %d", cfg.HTTPPort)
	}
	if len(cfg.KafkaBrokers) != 2 {
		t.Fatalf("expected 2 brokers, got %v", cfg.KafkaBrokers)
	}
	for _, field := range []string{"RATE_LIMIT_RPS", "ANOMALY_DETECTOR", "DB_MIN_CONNS", "JWT_SECRET"} {
		if !hasProblem(problems, field) {
			t.Fatalf("expected problem for %s, got %+v", field, problems)
		}
	}
	if cfg.AnomalyDetector != "rule" || cfg.DBMinConns != cfg.DBMaxConns {
		t.Fatalf("invalid values should be clamped: %+v", cfg)
	}
}

func TestLoadYAMLFileThenEnv(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "staging.yaml")
	body := "ENV: staging\nHTTP_PORT: 7000\nAUDIT_ENABLED: true\nCORS_ALLOWED_ORIGINS:\n  - https://a.example\n  - https://b.example\nKPI_CACHE_TTL_SECONDS: 15\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("KPI_CACHE_TTL_SECONDS", "90")
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, problems := Load("api", 8080)
	if len(problems) != 0 {
		t.Fatalf("unexpected problems: %+v", problems)
	}
	if cfg.Env != "staging" || cfg.HTTPPort != 7000 || !cfg.AuditEnabled {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if len(cfg.CORSAllowedOrigins) != 2 {
		t.Fatalf("expected yaml list to apply, got %v", cfg.CORSAllowedOrigins)
	}
	if cfg.KPICacheTTLSec != 90 {
		t.Fatalf("env should override file, got %d", cfg.KPICacheTTLSec)
	}
}

func TestLoadJSONFileDiscoveredByEnv(t *testing.T) {
	isolate(t)
	wd, _ := os.Getwd()
	if err := os.MkdirAll(filepath.Join(wd, "configs"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	body := `{"MAX_UPLOAD_MB": 10, "ANOMALY_DETECTOR": "density"}`
	if err := os.WriteFile(filepath.Join(wd, "configs", "dev.json"), []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("ENV", "dev")

	cfg, problems := Load("api", 8080)
	if len(problems) != 0 {
		t.Fatalf("unexpected problems: %+v", problems)
	}
	if cfg.MaxUploadMB != 10 || cfg.AnomalyDetector != "density" {
		t.Fatalf("json file not applied: %+v", cfg)
	}
}

func TestLoadDotEnvDoesNotOverride(t *testing.T) {
	isolate(t)
	wd, _ := os.Getwd()
	if err := os.WriteFile(filepath.Join(wd, ".env"), []byte("ENV=dev\nLOG_LEVEL=debug\nHTTP_PORT=7777\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("HTTP_PORT", "6000")
	// unset so the dotenv file can supply them; isolate restores them afterwards
	_ = os.Unsetenv("LOG_LEVEL")
	_ = os.Unsetenv("ENV")

	cfg, _ := Load("api", 8080)
	if cfg.HTTPPort != 6000 {
		t.Fatalf("real env must win over .env, got %d", cfg.HTTPPort)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected .env LOG_LEVEL, got %q", cfg.LogLevel)
	}
}

func TestRemoteScorerRequiresURL(t *testing.T) {
	isolate(t)
	t.Setenv("ENV", "dev")
	t.Setenv("ANOMALY_DENSITY_SCORER", "remote")

	cfg, problems := Load("api", 8080)
	if !hasProblem(problems, "SCORER_URL") || cfg.AnomalyDensityScorer != "local" {
		t.Fatalf("expected SCORER_URL problem, got %+v %s", problems, cfg.AnomalyDensityScorer)
	}
}
