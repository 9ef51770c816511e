package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"water-infra-dashboard/api/internal/aggregate"
	"water-infra-dashboard/api/internal/handlers"
	"water-infra-dashboard/api/internal/ingest"
	"water-infra-dashboard/api/internal/middleware"
	"water-infra-dashboard/api/internal/repos"
	"water-infra-dashboard/shared/anomaly"
	"water-infra-dashboard/shared/authx"
	"water-infra-dashboard/shared/cachex"
	"water-infra-dashboard/shared/clients/scorer"
	"water-infra-dashboard/shared/config"
	"water-infra-dashboard/shared/dbx"
	"water-infra-dashboard/shared/httpx"
	"water-infra-dashboard/shared/influxx"
	"water-infra-dashboard/shared/logx"
	"water-infra-dashboard/shared/metricsx"
	"water-infra-dashboard/shared/observability"
)

func main() {
	cfg, readyProblems := config.Load("api", 8000)
	version := strings.TrimSpace(os.Getenv("VERSION"))
	logger := logx.NewWithOptions(logx.Options{
		Service: cfg.ServiceName,
		Env:     cfg.Env,
		Version: version,
		Level:   cfg.LogLevel,
		File:    cfg.LogFile,
	})
	metricsx.Register()

	shutdownTracer, err := observability.InitTracer(context.Background(), observability.ConfigFrom(cfg))
	if err != nil {
		logger.Error(context.Background(), "otel_init_failed", "otel init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
	}

	if cfg.DatabaseURL == "" {
		readyProblems = append(readyProblems, config.Problem{Field: "DATABASE_URL", Message: "DATABASE_URL is required"})
	}

	var dbPool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		dbPool, err = dbx.NewPool(cfg)
		if err != nil {
			readyProblems = append(readyProblems, config.Problem{Field: "DATABASE_URL", Message: "failed to connect to database"})
			logger.Error(context.Background(), "db_init_failed", "database init failed",
				slog.String("error_code", "FAILED_PRECONDITION"),
				slog.String("error", err.Error()),
			)
		}
	}

	var cache *cachex.Client
	if cfg.RedisAddr != "" {
		cache, err = cachex.New(cfg)
		if err != nil {
			readyProblems = append(readyProblems, config.Problem{Field: "REDIS_ADDR", Message: "failed to initialize redis"})
		}
	}

	var (
		mirror ingest.Mirror
		influx *influxx.Client
	)
	if cfg.InfluxURL != "" {
		influx, err = influxx.New(cfg)
		if err != nil {
			readyProblems = append(readyProblems, config.Problem{Field: "INFLUX_URL", Message: err.Error()})
		} else {
			mirror = influx
			defer influx.Close()
		}
	}

	tenantsRepo := repos.NewTenantsRepo(dbPool)
	auditRepo := repos.NewAuditRepo(dbPool)
	usersRepo := repos.NewUsersRepo(dbPool)
	metricsRepo := repos.NewMetricsRepo(dbPool)

	issuer, err := authx.NewTokenIssuer(cfg.JWTSecret, cfg.AccessTokenTTL(), cfg.RefreshTokenTTL())
	if err != nil {
		readyProblems = append(readyProblems, config.Problem{Field: "JWT_SECRET", Message: "failed to initialize token issuer"})
	}
	verifiers := authx.Chain{}
	if issuer != nil {
		verifiers = append(verifiers, issuer)
	}
	if cfg.OIDCIssuer != "" && cfg.OIDCAudience != "" {
		// The key cache lives for the process; its refresh goroutine stops on exit.
		oidc, err := authx.NewOIDCVerifier(context.Background(), authx.OIDCConfig{
			Issuer:          cfg.OIDCIssuer,
			Audience:        cfg.OIDCAudience,
			JWKSURL:         cfg.OIDCJWKSURL,
			RefreshInterval: time.Duration(cfg.JWKSTTLSeconds) * time.Second,
			ClockSkew:       time.Duration(cfg.JWTClockSkewSec) * time.Second,
		})
		if err != nil {
			readyProblems = append(readyProblems, config.Problem{Field: "OIDC_ISSUER", Message: "failed to initialize JWT verifier"})
		} else {
			verifiers = append(verifiers, oidc)
		}
	}

	thresholds := anomaly.DefaultThresholds()
	densityScorer, detectorKind, problems := buildScoring(cfg)
	readyProblems = append(readyProblems, problems...)

	deps := handlers.Deps{
		Logger:     logger,
		Issuer:     issuer,
		Users:      usersRepo,
		Projects:   repos.NewProjectsRepo(dbPool),
		Metrics:    metricsRepo,
		Quality:    repos.NewQualityRepo(dbPool),
		Alerts:     repos.NewAlertsRepo(dbPool),
		Rules:      repos.NewAlertRulesRepo(dbPool),
		Dashboard:  repos.NewDashboardRepo(dbPool),
		Pipeline:   ingest.NewPipeline(metricsRepo, thresholds, ingest.Options{AlertsEnabled: cfg.AnomalyAlertsEnabled, Mirror: mirror, Logger: logger}),
		Aggregator: aggregate.NewEngine(metricsRepo),
		Thresholds: thresholds,
		Detector:   anomaly.NewDetector(detectorKind, thresholds, densityScorer, cfg.AnomalyMinHistory),
		Scorer:     densityScorer,
		MinHistory: cfg.AnomalyMinHistory,
		CacheTTL:   cfg.KPICacheTTL(),
		MaxUpload:  cfg.MaxUploadBytes(),
	}
	if cache != nil {
		deps.Cache = cache
	}
	api := handlers.NewServer(deps)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, statusResponse{
			Status:  "ok",
			Service: cfg.ServiceName,
			Env:     cfg.Env,
			Version: version,
		})
	})
	checks := []dependencyCheck{{name: "database", ping: func(ctx context.Context) error { return dbx.Ping(ctx, dbPool) }}}
	if cache != nil {
		checks = append(checks, dependencyCheck{name: "redis", ping: cache.Ping})
	}
	if influx != nil {
		checks = append(checks, dependencyCheck{name: "influx", optional: true, ping: influx.Ping})
	}
	mux.Handle("GET /readyz", readinessHandler(statusResponse{
		Service: cfg.ServiceName,
		Env:     cfg.Env,
		Version: version,
	}, &readyProblems, checks))
	mux.Handle("GET /metrics", metricsx.Handler())
	api.Register(mux)

	notFound := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "route not found", nil)
	})

	opsRoute := func(r *http.Request) bool {
		return r.URL.Path == "/healthz" || r.URL.Path == "/readyz" || r.URL.Path == "/metrics"
	}

	handler := httpx.WrapServeMux(mux, notFound)
	handler = middleware.DBRequiredMiddleware{Available: dbPool != nil, Skip: opsRoute}.Wrap(handler)
	// Audit, tenant and subject all need the pool; without it db-required
	// answers first.
	handler = middleware.AuditMiddleware{
		Enabled: cfg.AuditEnabled,
		Repo:    auditRepo,
		Logger:  logger,
		Skip: func(r *http.Request) bool {
			return dbPool == nil || opsRoute(r)
		},
	}.Wrap(handler)
	handler = middleware.TenantMiddleware{
		Tenants: tenantsRepo,
		Skip: func(r *http.Request) bool {
			return dbPool == nil || opsRoute(r)
		},
	}.Wrap(handler)
	handler = middleware.SubjectMiddleware{
		Users:  usersRepo,
		Logger: logger,
		Skip: func(r *http.Request) bool {
			return dbPool == nil || opsRoute(r) || handlers.PublicPaths(r)
		},
	}.Wrap(handler)
	handler = middleware.AuthMiddleware{
		Verifier: verifiers,
		Logger:   logger,
		Skip: func(r *http.Request) bool {
			return opsRoute(r) || handlers.PublicPaths(r)
		},
	}.Wrap(handler)
	handler = middleware.RateLimitMiddleware{
		Limiter: middleware.NewIPRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, 0),
		Skip:    opsRoute,
	}.Wrap(handler)
	handler = middleware.CORSMiddleware{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowCredentials: true,
		MaxAge:           10 * time.Minute,
	}.Wrap(handler)
	handler = httpx.WithTimeout(requestTimeouts(cfg.RequestTimeout), handler)
	handler = httpx.WithRequestID(handler)
	handler = httpx.WithRecover(logger, handler)
	handler = metricsx.Instrument(handler)
	handler = httpx.WithRequestLog(logger, httpx.RequestLogOptions{SkipPaths: map[string]bool{"/healthz": true, "/metrics": true}}, handler)
	handler = otelhttp.NewHandler(handler, "http")

	server := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(cfg.HTTPPort)),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "service_start", "starting service",
			slog.String("addr", server.Addr),
			slog.Int("http_port", cfg.HTTPPort),
			slog.String("log_level", cfg.LogLevel),
			slog.Int("request_timeout_ms", cfg.RequestTimeoutMS),
			slog.String("detector", string(detectorKind)),
			slog.Int("ready_problems", len(readyProblems)),
		)
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info(context.Background(), "shutdown_signal", "received signal", slog.String("signal", sig.String()))
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "server_failed", "server failed",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(context.Background(), "shutdown_failed", "shutdown failed",
			slog.String("error_code", "INTERNAL_ERROR"),
			slog.String("error", err.Error()),
		)
	}
	if shutdownTracer != nil {
		_ = shutdownTracer(shutdownCtx)
	}
	if cache != nil {
		_ = cache.Close()
	}
	if dbPool != nil {
		dbPool.Close()
	}
	logger.Info(context.Background(), "service_stop", "service stopped")
}

// requestTimeouts gives CSV uploads four times the normal deadline.
func requestTimeouts(base time.Duration) httpx.TimeoutPolicy {
	return func(r *http.Request) time.Duration {
		if r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/metrics/upload/csv") {
			return 4 * base
		}
		return base
	}
}

// buildScoring picks the density scorer and detector kind from config. A
// missing scorer leaves the density detector on its rule fallback.
func buildScoring(cfg config.Config) (anomaly.DensityScorer, anomaly.Kind, []config.Problem) {
	var problems []config.Problem
	kind, err := anomaly.ParseKind(cfg.AnomalyDetector)
	if err != nil {
		problems = append(problems, config.Problem{Field: "ANOMALY_DETECTOR", Message: err.Error()})
		kind = anomaly.KindRule
	}

	switch cfg.AnomalyDensityScorer {
	case "remote":
		client, err := scorer.New(cfg)
		if err != nil {
			problems = append(problems, config.Problem{Field: "SCORER_URL", Message: err.Error()})
			return nil, kind, problems
		}
		return client, kind, problems
	case "none":
		return nil, kind, problems
	default:
		return anomaly.NewIsolationForest(), kind, problems
	}
}
