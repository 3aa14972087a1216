/*
Package config loads server configuration from the environment.

Flags parsed in cmd/server override anything loaded here; environment
variables cover containerized deployments where flags are awkward.
*/
package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port int

	// Driver selects the storage backend: "sqlite" or "postgres".
	Driver string

	// SQLitePath is the database file for the sqlite driver
	// (":memory:" for ephemeral runs).
	SQLitePath string

	// PostgresDSN is the connection string for the postgres driver.
	PostgresDSN string

	// DefaultPartner fills partner requests that name no partner.
	DefaultPartner string

	// Worker defaults; tenants may override per hotel.
	WorkerEnabled bool
	PollInterval  time.Duration
	BatchSize     int

	// StalenessWindow is how long an item may sit in Processing before it
	// is presumed orphaned.
	StalenessWindow time.Duration
}

func Default() Config {
	return Config{
		Port:            8080,
		Driver:          "sqlite",
		SQLitePath:      "finance.db",
		DefaultPartner:  "ota",
		WorkerEnabled:   true,
		PollInterval:    180 * time.Second,
		BatchSize:       50,
		StalenessWindow: 10 * time.Minute,
	}
}

// Load overlays environment variables on the defaults.
func Load() Config {
	cfg := Default()
	cfg.Port = envInt("PORT", cfg.Port)
	cfg.Driver = envStr("DB_DRIVER", cfg.Driver)
	cfg.SQLitePath = envStr("SQLITE_PATH", cfg.SQLitePath)
	cfg.PostgresDSN = envStr("POSTGRES_DSN", cfg.PostgresDSN)
	cfg.DefaultPartner = envStr("DEFAULT_PARTNER", cfg.DefaultPartner)
	cfg.WorkerEnabled = envBool("WORKER_ENABLED", cfg.WorkerEnabled)
	cfg.PollInterval = envSeconds("WORKER_POLL_SECONDS", cfg.PollInterval)
	cfg.BatchSize = envInt("WORKER_BATCH_SIZE", cfg.BatchSize)
	cfg.StalenessWindow = envSeconds("WORKER_STALE_SECONDS", cfg.StalenessWindow)
	return cfg
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envSeconds(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return def
}
