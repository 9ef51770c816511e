//go:build integration

package integration

import (
	"context"
	"errors"
	"net"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"water-infra-dashboard/api/internal/aggregate"
	"water-infra-dashboard/api/internal/ingest"
	"water-infra-dashboard/api/internal/models"
	"water-infra-dashboard/api/internal/repos"
	"water-infra-dashboard/shared/anomaly"
	"water-infra-dashboard/shared/cachex"
	"water-infra-dashboard/shared/config"
	"water-infra-dashboard/shared/lockx"
	"water-infra-dashboard/shared/workflow"
)

func openPool(t *testing.T, ctx context.Context) *pgxpool.Pool {
	t.Helper()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set")
	}
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("db connect failed: %v", err)
	}
	t.Cleanup(pool.Close)
	if _, err := repos.Migrate(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return pool
}

func val(v float64) *float64 { return &v }

func TestIngestAggregateAndAlertFlow(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	pool := openPool(t, ctx)

	project, err := repos.NewProjectsRepo(pool).Create(ctx, models.Project{
		Name:        "integration-" + uuid.NewString()[:8],
		ProjectType: "water_supply",
		Status:      "operational",
		Region:      "Central",
	})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	foreign := uuid.New()
	if _, err := repos.NewProjectsRepo(pool).Get(ctx, project.ProjectID, &foreign); !errors.Is(err, repos.ErrNotFound) {
		t.Fatalf("project must be hidden from another tenant, got %v", err)
	}

	pipeline := ingest.NewPipeline(repos.NewMetricsRepo(pool), anomaly.DefaultThresholds(), ingest.Options{AlertsEnabled: true})
	base := time.Now().UTC().Truncate(time.Hour).Add(-2 * time.Hour)
	var batch []ingest.MetricInput
	for i, v := range []float64{3.0, 3.2, 12.5} {
		at := base.Add(time.Duration(i) * 10 * time.Minute)
		batch = append(batch, ingest.MetricInput{ProjectID: project.ProjectID, MetricType: "pressure", Value: val(v), Unit: "bar", RecordedAt: &at})
	}
	n, err := pipeline.IngestBatch(ctx, batch)
	if err != nil || n != 3 {
		t.Fatalf("ingest batch: n=%d err=%v", n, err)
	}

	bad := []ingest.MetricInput{
		{ProjectID: project.ProjectID, MetricType: "pressure", Value: val(2), Unit: "bar"},
		{ProjectID: uuid.New(), MetricType: "pressure", Value: val(2), Unit: "bar"},
	}
	if _, err := pipeline.IngestBatch(ctx, bad); err == nil {
		t.Fatalf("batch with unknown project must fail")
	}
	stored, err := repos.NewMetricsRepo(pool).List(ctx, models.MetricFilter{ProjectID: project.ProjectID, Limit: 10})
	if err != nil || len(stored) != 3 {
		t.Fatalf("expected failed batch to leave 3 rows, got %d err=%v", len(stored), err)
	}

	start, end := base, base.Add(time.Hour)
	buckets, err := aggregate.NewEngine(repos.NewMetricsRepo(pool)).Aggregate(ctx, aggregate.Query{
		ProjectID: project.ProjectID, MetricType: "pressure", Interval: "1 hour", Start: &start, End: &end,
	})
	if err != nil || len(buckets) != 1 || buckets[0].Count != 3 || buckets[0].Max != 12.5 {
		t.Fatalf("unexpected buckets %+v err=%v", buckets, err)
	}

	alertsRepo := repos.NewAlertsRepo(pool)
	active, err := alertsRepo.ListActive(ctx, models.AlertFilter{ProjectID: &project.ProjectID, Limit: 10})
	if err != nil || len(active) != 1 || active[0].AlertType != "anomaly" {
		t.Fatalf("expected one open anomaly alert, got %+v err=%v", active, err)
	}

	if _, _, err := alertsRepo.Transition(ctx, active[0].AlertID, workflow.AlertStatusAcknowledged, nil, &foreign); !errors.Is(err, repos.ErrNotFound) {
		t.Fatalf("foreign tenant transition: %v", err)
	}
	resolved, changed, err := alertsRepo.Transition(ctx, active[0].AlertID, workflow.AlertStatusResolved, nil, nil)
	if err != nil || !changed || resolved.Status != workflow.AlertStatusResolved {
		t.Fatalf("resolve: %+v changed=%v err=%v", resolved, changed, err)
	}
	if _, _, err := alertsRepo.Transition(ctx, active[0].AlertID, workflow.AlertStatusAcknowledged, nil, nil); !errors.Is(err, repos.ErrInvalidAlertTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}

	counts, err := repos.NewOutboxRepo(pool).CountByStatus(ctx)
	var total int64
	for _, c := range counts {
		total += c
	}
	if err != nil || total < 2 {
		t.Fatalf("expected created and resolved events in the outbox, got %v err=%v", counts, err)
	}
}

func TestBrokerDependencies(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: redisAddr})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			t.Fatalf("redis ping failed: %v", err)
		}
		checkLease(t, ctx, client)
		checkCache(t, ctx, redisAddr)
	}

	if brokers := strings.TrimSpace(os.Getenv("KAFKA_BROKERS")); brokers != "" {
		first := strings.TrimSpace(strings.Split(brokers, ",")[0])
		conn, err := net.DialTimeout("tcp", first, 2*time.Second)
		if err != nil {
			t.Fatalf("kafka tcp check failed: %v", err)
		}
		_ = conn.Close()
	}

	if asynqRedis := os.Getenv("ASYNQ_REDIS_ADDR"); asynqRedis != "" {
		inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: asynqRedis})
		defer inspector.Close()
		if _, err := inspector.Queues(); err != nil {
			t.Fatalf("asynq inspector failed: %v", err)
		}
	}
}

func checkLease(t *testing.T, ctx context.Context, client *redis.Client) {
	t.Helper()
	locker := lockx.New(client)
	key := "it:lease:" + uuid.NewString()

	ran, err := locker.Run(ctx, key, 3*time.Second, func(ctx context.Context) error {
		other, err := locker.TryAcquire(ctx, key, time.Second)
		if err != nil {
			return err
		}
		if other != nil {
			t.Errorf("lease must be exclusive while held")
		}
		return nil
	})
	if err != nil || !ran {
		t.Fatalf("Run: ran=%v err=%v", ran, err)
	}
	lease, err := locker.TryAcquire(ctx, key, time.Second)
	if err != nil || lease == nil {
		t.Fatalf("lease should be free after Run, err=%v", err)
	}
	_ = lease.Release(ctx)
}

func checkCache(t *testing.T, ctx context.Context, addr string) {
	t.Helper()
	cache, err := cachex.New(config.Config{RedisAddr: addr})
	if err != nil {
		t.Fatalf("cachex.New: %v", err)
	}
	defer cache.Close()

	prefix := "it:dashboard:" + uuid.NewString() + ":"
	for i := 0; i < 3; i++ {
		if err := cache.SetJSON(ctx, prefix+strconv.Itoa(i), map[string]int{"n": i}, time.Minute); err != nil {
			t.Fatalf("SetJSON: %v", err)
		}
	}
	var got map[string]int
	if hit, err := cache.GetJSON(ctx, prefix+"2", &got); err != nil || !hit || got["n"] != 2 {
		t.Fatalf("GetJSON hit=%v err=%v got=%v", hit, err, got)
	}
	if n, err := cache.DeletePrefix(ctx, prefix); err != nil || n != 3 {
		t.Fatalf("DeletePrefix removed %d, err=%v", n, err)
	}
	if hit, _ := cache.GetJSON(ctx, prefix+"2", &got); hit {
		t.Fatalf("key should be gone after DeletePrefix")
	}
}
