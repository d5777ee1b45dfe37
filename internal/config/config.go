package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// StorageEngine selects a repository.Repository adapter.
type StorageEngine string

const (
	EnginePostgres StorageEngine = "postgres"
	EngineSQLite   StorageEngine = "sqlite"
)

// Config holds every environment-driven setting for cmd/api. Grounded on
// ledgerops's internal/config/config.go (plain os.Getenv with defaults),
// extended with the rate-limit, webhook, and storage-engine settings this
// service needs.
type Config struct {
	DatabaseURL string
	Engine      StorageEngine
	Port        string
	Env         string

	RateLimitCapacity int
	RateLimitWindow   time.Duration

	WebhookWorkerPoolSize int
	WebhookBaseDelay      time.Duration
	WebhookCapDelay       time.Duration
	WebhookMaxAttempts    int
	WebhookClaimBatch     int
	WebhookPollInterval   time.Duration

	HTTPOutboundTimeout time.Duration
	LedgerOpTimeout     time.Duration
}

func Load() (*Config, error) {
	dbURL := firstNonEmpty(os.Getenv("DATABASE_URL"), os.Getenv("DB_SOURCE"))
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL (or DB_SOURCE) environment variable is required")
	}

	engine := StorageEngine(strings.ToLower(os.Getenv("STORAGE_ENGINE")))
	switch engine {
	case "":
		engine = EnginePostgres
	case EnginePostgres, EngineSQLite:
	default:
		return nil, fmt.Errorf("unknown STORAGE_ENGINE %q: want %q or %q", engine, EnginePostgres, EngineSQLite)
	}

	port := firstNonEmpty(os.Getenv("PORT"), os.Getenv("SERVER_PORT"))
	if port == "" {
		port = "3000"
	}

	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	cfg := &Config{
		DatabaseURL:           dbURL,
		Engine:                engine,
		Port:                  port,
		Env:                   env,
		RateLimitCapacity:     envInt("RATE_LIMIT_CAPACITY", 100),
		RateLimitWindow:       time.Minute,
		WebhookWorkerPoolSize: envInt("WEBHOOK_WORKER_POOL_SIZE", 1),
		WebhookBaseDelay:      envDuration("WEBHOOK_RETRY_BASE", 30*time.Second),
		WebhookCapDelay:       envDuration("WEBHOOK_RETRY_CAP", time.Hour),
		WebhookMaxAttempts:    envInt("WEBHOOK_MAX_ATTEMPTS", 5),
		WebhookClaimBatch:     envInt("WEBHOOK_CLAIM_BATCH", 10),
		WebhookPollInterval:   envDuration("WEBHOOK_POLL_INTERVAL", time.Second),
		HTTPOutboundTimeout:   envDuration("WEBHOOK_HTTP_TIMEOUT", 10*time.Second),
		LedgerOpTimeout:       envDuration("LEDGER_OP_TIMEOUT", 5*time.Second),
	}

	return cfg, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
