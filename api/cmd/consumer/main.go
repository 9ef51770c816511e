package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"water-infra-dashboard/api/internal/repos"
	"water-infra-dashboard/shared/cachex"
	"water-infra-dashboard/shared/config"
	"water-infra-dashboard/shared/dbx"
	"water-infra-dashboard/shared/events"
	"water-infra-dashboard/shared/influxx"
	"water-infra-dashboard/shared/logx"
	"water-infra-dashboard/shared/mqx"
	"water-infra-dashboard/shared/observability"
)

func main() {
	cfg, problems := config.Load("alert-events-consumer", 8082)
	version := strings.TrimSpace(os.Getenv("VERSION"))
	logger := logx.NewWithOptions(logx.Options{
		Service: cfg.ServiceName,
		Env:     cfg.Env,
		Version: version,
		Level:   cfg.LogLevel,
		File:    cfg.LogFile,
	})

	if cfg.DatabaseURL == "" {
		problems = append(problems, config.Problem{Field: "DATABASE_URL", Message: "DATABASE_URL is required"})
	}
	if len(cfg.KafkaBrokers) == 0 {
		problems = append(problems, config.Problem{Field: "KAFKA_BROKERS", Message: "KAFKA_BROKERS is required"})
	}
	if cfg.KafkaGroupID == "" {
		problems = append(problems, config.Problem{Field: "KAFKA_CONSUMER_GROUP", Message: "KAFKA_CONSUMER_GROUP is required"})
	}
	if len(problems) > 0 {
		logger.Error(context.Background(), "config_invalid", "invalid config",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.Any("problems", problems),
		)
		os.Exit(1)
	}

	if shutdown, err := observability.InitTracer(context.Background(), observability.ConfigFrom(cfg)); err == nil {
		defer func() { _ = shutdown(context.Background()) }()
	}

	dbPool, err := dbx.NewPool(cfg)
	if err != nil {
		logger.Error(context.Background(), "db_init_failed", "db init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	defer dbPool.Close()

	h := &alertHandler{rules: repos.NewAlertRulesRepo(dbPool), logger: logger}
	if cfg.InfluxURL != "" {
		influx, err := influxx.New(cfg)
		if err != nil {
			logger.Warn(context.Background(), "influx_init_failed", "alert mirror disabled", slog.String("error", err.Error()))
		} else {
			h.mirror = influx
			defer influx.Close()
		}
	}

	if cfg.RedisAddr != "" {
		cache, err := cachex.New(cfg)
		if err != nil {
			logger.Warn(context.Background(), "cache_init_failed", "dashboard invalidation disabled", slog.String("error", err.Error()))
		} else {
			h.cache = cache
			defer cache.Close()
		}
	}

	reader, err := mqx.NewConsumer(cfg, events.TopicAlerts, cfg.KafkaGroupID)
	if err != nil {
		logger.Error(context.Background(), "kafka_init_failed", "kafka reader init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	defer reader.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info(ctx, "consumer_start", "alert events consumer started",
		slog.String("topic", events.TopicAlerts),
		slog.String("group", cfg.KafkaGroupID),
	)
	loop := &consumeLoop{
		reader:      reader,
		handler:     h,
		logger:      logger,
		group:       cfg.KafkaGroupID,
		maxAttempts: 5,
		backoff:     500 * time.Millisecond,
	}
	loop.run(ctx)

	logger.Info(context.Background(), "consumer_stop", "alert events consumer stopped")
}
