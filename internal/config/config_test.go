package config

import (
	"os"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	// Clear any existing env vars
	os.Unsetenv("PORT")
	os.Unsetenv("LOG_LEVEL")
	os.Unsetenv("ENV")
	os.Unsetenv("RUN_DIR")
	os.Unsetenv("PID_FILE")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Port)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("expected log level 'info', got %s", cfg.LogLevel)
	}

	if cfg.Env != "development" {
		t.Errorf("expected env 'development', got %s", cfg.Env)
	}

	if cfg.PIDFile != "/var/run/notihub/scheduler.pid" {
		t.Errorf("expected pid file under run dir, got %s", cfg.PIDFile)
	}

	if cfg.DaemonBin != "notihub-daemon" {
		t.Errorf("expected daemon bin 'notihub-daemon', got %s", cfg.DaemonBin)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	os.Setenv("PORT", "9000")
	os.Setenv("LOG_LEVEL", "debug")
	os.Setenv("ENV", "production")
	defer func() {
		os.Unsetenv("PORT")
		os.Unsetenv("LOG_LEVEL")
		os.Unsetenv("ENV")
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if cfg.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Port)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("expected log level 'debug', got %s", cfg.LogLevel)
	}

	if cfg.Env != "production" {
		t.Errorf("expected env 'production', got %s", cfg.Env)
	}
}

func TestLoad_RunDirDerivation(t *testing.T) {
	os.Setenv("RUN_DIR", "/tmp/notihub-test")
	defer os.Unsetenv("RUN_DIR")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if cfg.PIDFile != "/tmp/notihub-test/scheduler.pid" {
		t.Errorf("pid file = %s", cfg.PIDFile)
	}
	if cfg.HeartbeatFile != "/tmp/notihub-test/scheduler.heartbeat" {
		t.Errorf("heartbeat file = %s", cfg.HeartbeatFile)
	}
	if cfg.LogFile != "/tmp/notihub-test/scheduler.log" {
		t.Errorf("log file = %s", cfg.LogFile)
	}
}

func TestLoad_ExplicitFileOverrides(t *testing.T) {
	os.Setenv("RUN_DIR", "/tmp/notihub-test")
	os.Setenv("PID_FILE", "/custom/path.pid")
	defer func() {
		os.Unsetenv("RUN_DIR")
		os.Unsetenv("PID_FILE")
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if cfg.PIDFile != "/custom/path.pid" {
		t.Errorf("explicit PID_FILE should win, got %s", cfg.PIDFile)
	}
	if cfg.HeartbeatFile != "/tmp/notihub-test/scheduler.heartbeat" {
		t.Errorf("heartbeat file = %s", cfg.HeartbeatFile)
	}
}

func TestLoad_InvalidPort(t *testing.T) {
	os.Setenv("PORT", "not-a-number")
	defer os.Unsetenv("PORT")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid PORT")
	}
}
