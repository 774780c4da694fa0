package app

import (
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/dispatch/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/dispatch/internal/seed"
)

const envPrefix = "DISPATCH_"

// Поддерживаемые драйверы хранилища окон.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
	StorageDriverRedis    = "redis"
)

// Config описывает настройки запуска dispatch-service.
type Config struct {
	GRPCAddr    string
	HTTPAddr    string
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool
	RedisAddr           string
	RedisPassword       string
	RedisDB             int
	RedisLockTTL        time.Duration

	KafkaBrokers []string
	KafkaTopic   string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration

	SeedOnStart bool
	SeedDays    int
	SeedFile    string

	RateLimitRPS   float64
	RateLimitBurst int
	CORSOrigin     string
	// ReserveTimeout ограничивает один ReserveSlot вместе с ожиданием блокировки окна; 0 — без ограничения.
	ReserveTimeout time.Duration

	LogLevel string
}

// DefaultConfig возвращает настройки для локального запуска в памяти.
func DefaultConfig() Config {
	return Config{
		GRPCAddr:            ":50051",
		HTTPAddr:            ":8080",
		MetricsAddr:         ":9090",
		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,
		RedisAddr:           "localhost:6379",
		RedisLockTTL:        5 * time.Second,
		KafkaTopic:          kafka.TopicReservationEvents,
		OutboxPollInterval:  time.Second,
		OutboxBatchSize:     100,
		OutboxMaxAttempts:   3,
		OutboxRetryDelay:    50 * time.Millisecond,
		SeedOnStart:         true,
		SeedDays:            seed.DefaultDays,
		RateLimitRPS:        50,
		RateLimitBurst:      100,
		CORSOrigin:          "http://localhost:3000",
		ReserveTimeout:      10 * time.Second,
		LogLevel:            "info",
	}
}

// ConfigFromEnv накладывает переменные окружения DISPATCH_* на DefaultConfig.
// Некорректные значения игнорируются с предупреждением.
func ConfigFromEnv(getenv func(string) string, logger *log.Entry) Config {
	if logger == nil {
		logger = log.WithField("component", "config")
	}
	env := envReader{getenv: getenv, logger: logger}
	cfg := DefaultConfig()

	env.string("GRPC_ADDR", &cfg.GRPCAddr)
	env.string("HTTP_ADDR", &cfg.HTTPAddr)
	env.string("METRICS_ADDR", &cfg.MetricsAddr)

	if driver := strings.ToLower(env.get("STORAGE_DRIVER")); driver != "" {
		switch driver {
		case StorageDriverMemory, StorageDriverPostgres, StorageDriverRedis:
			cfg.StorageDriver = driver
		default:
			env.invalid("STORAGE_DRIVER", driver)
		}
	}
	env.string("POSTGRES_DSN", &cfg.PostgresDSN)
	env.bool("POSTGRES_AUTO_MIGRATE", &cfg.PostgresAutoMigrate)
	env.string("REDIS_ADDR", &cfg.RedisAddr)
	env.string("REDIS_PASSWORD", &cfg.RedisPassword)
	env.int("REDIS_DB", &cfg.RedisDB, 0)
	env.duration("REDIS_LOCK_TTL", &cfg.RedisLockTTL, false)

	if brokers := env.get("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = kafka.ParseBrokers(brokers)
	}
	env.string("KAFKA_TOPIC", &cfg.KafkaTopic)

	env.duration("OUTBOX_POLL_INTERVAL", &cfg.OutboxPollInterval, false)
	env.int("OUTBOX_BATCH_SIZE", &cfg.OutboxBatchSize, 1)
	env.int("OUTBOX_MAX_ATTEMPTS", &cfg.OutboxMaxAttempts, 1)
	env.duration("OUTBOX_RETRY_DELAY", &cfg.OutboxRetryDelay, true)

	env.bool("SEED_ON_START", &cfg.SeedOnStart)
	env.int("SEED_DAYS", &cfg.SeedDays, 0)
	env.string("SEED_FILE", &cfg.SeedFile)

	if raw := env.get("RATE_LIMIT_RPS"); raw != "" {
		if rps, err := strconv.ParseFloat(raw, 64); err == nil && rps >= 0 {
			cfg.RateLimitRPS = rps
		} else {
			env.invalid("RATE_LIMIT_RPS", raw)
		}
	}
	env.int("RATE_LIMIT_BURST", &cfg.RateLimitBurst, 1)
	env.string("CORS_ORIGIN", &cfg.CORSOrigin)
	env.duration("RESERVE_TIMEOUT", &cfg.ReserveTimeout, true)

	if level := env.get("LOG_LEVEL"); level != "" {
		if _, err := log.ParseLevel(level); err == nil {
			cfg.LogLevel = level
		} else {
			env.invalid("LOG_LEVEL", level)
		}
	}

	return cfg
}

type envReader struct {
	getenv func(string) string
	logger *log.Entry
}

func (e envReader) get(name string) string {
	return strings.TrimSpace(e.getenv(envPrefix + name))
}

func (e envReader) invalid(name, value string) {
	e.logger.WithFields(log.Fields{
		"variable": envPrefix + name,
		"value":    value,
	}).Warn("invalid configuration value, using default")
}

func (e envReader) string(name string, dst *string) {
	if v := e.get(name); v != "" {
		*dst = v
	}
}

func (e envReader) bool(name string, dst *bool) {
	raw := e.get(name)
	if raw == "" {
		return
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		e.invalid(name, raw)
		return
	}
	*dst = v
}

func (e envReader) int(name string, dst *int, minimum int) {
	raw := e.get(name)
	if raw == "" {
		return
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < minimum {
		e.invalid(name, raw)
		return
	}
	*dst = v
}

func (e envReader) duration(name string, dst *time.Duration, allowZero bool) {
	raw := e.get(name)
	if raw == "" {
		return
	}
	v, err := time.ParseDuration(raw)
	if err != nil || v < 0 || (v == 0 && !allowZero) {
		e.invalid(name, raw)
		return
	}
	*dst = v
}
