package app

import (
	"context"
	"os"
	"strings"
	"testing"

	log "github.com/sirupsen/logrus"

	healthcheck "github.com/vladislavdragonenkov/dispatch/internal/health"
)

func TestInitRuntimeDependencies_Memory(t *testing.T) {
	t.Parallel()

	deps, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: StorageDriverMemory,
	}, log.WithField("test", "memory-storage"))
	if err != nil {
		t.Fatalf("initRuntimeDependencies(memory) failed: %v", err)
	}
	if deps.store == nil {
		t.Fatal("store should not be nil for memory storage")
	}
	if deps.outboxRepo == nil {
		t.Fatal("outboxRepo should not be nil for memory storage")
	}
	if deps.closeFn != nil {
		t.Fatal("memory storage has nothing to close")
	}
	if check := deps.storageChecker.Check(context.Background()); check.Status != healthcheck.StatusHealthy {
		t.Fatalf("expected healthy memory store, got %+v", check)
	}
	deps.close(log.WithField("test", "memory-storage"))
}

func TestInitRuntimeDependencies_EmptyDriverDefaultsToMemory(t *testing.T) {
	t.Parallel()

	deps, err := initRuntimeDependencies(context.Background(), Config{}, log.WithField("test", "default-storage"))
	if err != nil {
		t.Fatalf("initRuntimeDependencies failed: %v", err)
	}
	if deps.store == nil {
		t.Fatal("expected memory store")
	}
}

func TestInitRuntimeDependencies_PostgresRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: StorageDriverPostgres,
	}, log.WithField("test", "postgres-missing-dsn"))
	if err == nil || !strings.Contains(err.Error(), "DISPATCH_POSTGRES_DSN") {
		t.Fatalf("expected missing DSN error, got %v", err)
	}
}

func TestInitRuntimeDependencies_RedisUnavailable(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := initRuntimeDependencies(ctx, Config{
		StorageDriver: StorageDriverRedis,
		RedisAddr:     "127.0.0.1:1",
	}, log.WithField("test", "redis-unavailable"))
	if err == nil || !strings.Contains(err.Error(), "connect to redis") {
		t.Fatalf("expected redis connection error, got %v", err)
	}
}

func TestInitRuntimeDependencies_UnsupportedDriver(t *testing.T) {
	t.Parallel()

	_, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: "sqlite",
	}, log.WithField("test", "unsupported-driver"))
	if err == nil || !strings.Contains(err.Error(), "unsupported storage driver") {
		t.Fatalf("expected unsupported driver error, got %v", err)
	}
}

func TestInitRuntimeDependencies_PostgresSuccess(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("DISPATCH_POSTGRES_TEST_DSN"))
	if dsn == "" {
		t.Skip("DISPATCH_POSTGRES_TEST_DSN is not set")
	}

	cfg := DefaultConfig()
	cfg.StorageDriver = StorageDriverPostgres
	cfg.PostgresDSN = dsn

	deps, err := initRuntimeDependencies(context.Background(), cfg, log.WithField("test", "postgres-init"))
	if err != nil {
		t.Skipf("postgres is not available for app integration test: %v", err)
	}
	defer deps.close(log.WithField("test", "postgres-init"))

	if deps.store == nil || deps.outboxRepo == nil {
		t.Fatalf("postgres dependencies must be initialized: %+v", deps)
	}
	if check := deps.storageChecker.Check(context.Background()); check.Status != healthcheck.StatusHealthy {
		t.Fatalf("expected healthy storage checker, got %+v", check)
	}
}

func TestInitRuntimeDependencies_RedisSuccess(t *testing.T) {
	addr := strings.TrimSpace(os.Getenv("DISPATCH_REDIS_TEST_ADDR"))
	if addr == "" {
		t.Skip("DISPATCH_REDIS_TEST_ADDR is not set")
	}

	cfg := DefaultConfig()
	cfg.StorageDriver = StorageDriverRedis
	cfg.RedisAddr = addr

	deps, err := initRuntimeDependencies(context.Background(), cfg, log.WithField("test", "redis-init"))
	if err != nil {
		t.Skipf("redis is not available for app integration test: %v", err)
	}
	defer deps.close(log.WithField("test", "redis-init"))

	if check := deps.storageChecker.Check(context.Background()); check.Status != healthcheck.StatusHealthy {
		t.Fatalf("expected healthy storage checker, got %+v", check)
	}
}
