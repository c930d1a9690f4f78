package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config is the process configuration shared by the API server and the
// scheduler daemon. Scheduler intervals are not here: they live in the
// settings store and are loaded by the daemon at startup.
type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis (optional; settings cache is disabled without it)
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// Filesystem contract between daemon and supervisor
	RunDir        string
	PIDFile       string
	HeartbeatFile string
	LogFile       string

	// DaemonBin is the scheduler daemon executable the supervisor spawns.
	DaemonBin string

	// Provider call tuning (seconds)
	ProviderTimeout int
}

// Load reads configuration from the environment, with an optional .env
// file loaded first and sensible local defaults.
func Load() (*Config, error) {
	// Missing .env is fine; explicit environment always wins.
	_ = godotenv.Load()

	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		DBHost:    "localhost",
		DBPort:    5432,
		DBUser:    "notihub",
		DBName:    "notihub",
		DBSSLMode: "disable",

		RedisHost: "localhost",
		RedisPort: 6379,

		RunDir:          "/var/run/notihub",
		DaemonBin:       "notihub-daemon",
		ProviderTimeout: 10,
	}

	if v := os.Getenv("PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		cfg.Port = p
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("ENV"); v != "" {
		cfg.Env = v
	}

	if v := os.Getenv("DB_HOST"); v != "" {
		cfg.DBHost = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid DB_PORT: %w", err)
		}
		cfg.DBPort = p
	}
	if v := os.Getenv("DB_USER"); v != "" {
		cfg.DBUser = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		cfg.DBPassword = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		cfg.DBName = v
	}
	if v := os.Getenv("DB_SSLMODE"); v != "" {
		cfg.DBSSLMode = v
	}

	if v := os.Getenv("REDIS_HOST"); v != "" {
		cfg.RedisHost = v
	}
	if v := os.Getenv("REDIS_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_PORT: %w", err)
		}
		cfg.RedisPort = p
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		d, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		cfg.RedisDB = d
	}

	if v := os.Getenv("RUN_DIR"); v != "" {
		cfg.RunDir = v
	}
	cfg.PIDFile = filepath.Join(cfg.RunDir, "scheduler.pid")
	cfg.HeartbeatFile = filepath.Join(cfg.RunDir, "scheduler.heartbeat")
	cfg.LogFile = filepath.Join(cfg.RunDir, "scheduler.log")
	if v := os.Getenv("PID_FILE"); v != "" {
		cfg.PIDFile = v
	}
	if v := os.Getenv("HEARTBEAT_FILE"); v != "" {
		cfg.HeartbeatFile = v
	}
	if v := os.Getenv("SCHEDULER_LOG_FILE"); v != "" {
		cfg.LogFile = v
	}

	if v := os.Getenv("DAEMON_BIN"); v != "" {
		cfg.DaemonBin = v
	}

	if v := os.Getenv("PROVIDER_TIMEOUT"); v != "" {
		t, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid PROVIDER_TIMEOUT: %w", err)
		}
		cfg.ProviderTimeout = t
	}

	return cfg, nil
}
