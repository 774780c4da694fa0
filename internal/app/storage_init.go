package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/dispatch/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/dispatch/internal/health"
	"github.com/vladislavdragonenkov/dispatch/internal/storage/memory"
	"github.com/vladislavdragonenkov/dispatch/internal/storage/postgres"
	"github.com/vladislavdragonenkov/dispatch/internal/storage/redisstore"
)

// runtimeDependencies — хранилища, выбранные по StorageDriver.
type runtimeDependencies struct {
	store          domain.WindowStore
	outboxRepo     domain.OutboxRepository
	storageChecker healthcheck.Checker
	closeFn        func() error
}

func (d *runtimeDependencies) close(logger *log.Entry) {
	if d == nil || d.closeFn == nil {
		return
	}
	if err := d.closeFn(); err != nil {
		logger.WithError(err).Warn("failed to close storage")
	}
}

// initRuntimeDependencies открывает хранилище окон и outbox.
// Для redis outbox остаётся в памяти: события публикуются best-effort.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.StorageDriver))
	if driver == "" {
		driver = StorageDriverMemory
	}
	logger = logger.WithField("storage_driver", driver)

	switch driver {
	case StorageDriverMemory:
		store := memory.NewWindowStore()
		logger.Info("using in-memory window store")
		return &runtimeDependencies{
			store:          store,
			outboxRepo:     memory.NewOutboxRepository(),
			storageChecker: healthcheck.NewPingChecker("memory", store),
		}, nil

	case StorageDriverPostgres:
		if strings.TrimSpace(cfg.PostgresDSN) == "" {
			return nil, errors.New("postgres storage requires DISPATCH_POSTGRES_DSN")
		}
		pg, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if cfg.PostgresAutoMigrate {
			if err := pg.MigrateUp(ctx, 0); err != nil {
				_ = pg.Close()
				return nil, fmt.Errorf("apply migrations: %w", err)
			}
			logger.Info("postgres migrations applied")
		}
		logger.Info("using postgres window store")
		return &runtimeDependencies{
			store:          postgres.NewWindowStore(pg),
			outboxRepo:     postgres.NewOutboxRepository(pg),
			storageChecker: healthcheck.NewPingChecker("postgres", pg),
			closeFn:        pg.Close,
		}, nil

	case StorageDriverRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("connect to redis %s: %w", cfg.RedisAddr, err)
		}
		store := redisstore.NewWindowStore(rdb, redisstore.Options{LockTTL: cfg.RedisLockTTL})
		logger.WithField("redis_addr", cfg.RedisAddr).Info("using redis window store")
		return &runtimeDependencies{
			store:          store,
			outboxRepo:     memory.NewOutboxRepository(),
			storageChecker: healthcheck.NewPingChecker("redis", store),
			closeFn:        rdb.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}
