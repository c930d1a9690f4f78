package supervisor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestPIDFileRoundTrip(t *testing.T) {
	pf := NewPIDFile(filepath.Join(t.TempDir(), "scheduler.pid"))

	if err := pf.Write(4242); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	pid, err := pf.Read()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if pid != 4242 {
		t.Errorf("pid = %d, want 4242", pid)
	}
}

func TestPIDFileMissing(t *testing.T) {
	pf := NewPIDFile(filepath.Join(t.TempDir(), "absent.pid"))

	pid, err := pf.Read()
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if pid != 0 {
		t.Errorf("missing file should read as 0, got %d", pid)
	}
}

func TestPIDFileCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scheduler.pid")
	if err := os.WriteFile(path, []byte("garbage\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewPIDFile(path).Read(); err == nil {
		t.Error("corrupt pid file should error")
	}
}

func TestProcessAliveSelf(t *testing.T) {
	if !ProcessAlive(os.Getpid()) {
		t.Error("our own pid should be alive")
	}
}

func TestProcessAliveNonexistent(t *testing.T) {
	// Max pid on Linux is bounded well below this.
	if ProcessAlive(1 << 29) {
		t.Error("absurd pid should not be alive")
	}
}

func TestStopWithoutPIDFile(t *testing.T) {
	pf := NewPIDFile(filepath.Join(t.TempDir(), "scheduler.pid"))
	s := New(Config{DaemonBin: "/bin/true"}, pf, zap.NewNop())

	_, err := s.Stop()
	if !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got: %v", err)
	}
}

func TestStopCleansStalePIDFile(t *testing.T) {
	pf := NewPIDFile(filepath.Join(t.TempDir(), "scheduler.pid"))
	if err := pf.Write(1 << 29); err != nil {
		t.Fatal(err)
	}
	s := New(Config{DaemonBin: "/bin/true"}, pf, zap.NewNop())

	pid, err := s.Stop()
	if err != nil {
		t.Fatalf("stale pid file stop should succeed, got: %v", err)
	}
	if pid != 0 {
		t.Errorf("stale stop should report pid 0, got %d", pid)
	}
	if got, _ := pf.Read(); got != 0 {
		t.Error("stale pid file should be removed")
	}
}

func TestStartRefusesWhenAlreadyRunning(t *testing.T) {
	pf := NewPIDFile(filepath.Join(t.TempDir(), "scheduler.pid"))
	// Our own pid is definitely alive.
	if err := pf.Write(os.Getpid()); err != nil {
		t.Fatal(err)
	}
	s := New(Config{DaemonBin: "/bin/true"}, pf, zap.NewNop())

	_, err := s.Start()
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got: %v", err)
	}
}

func TestStartKillsSpawnOnTimeout(t *testing.T) {
	dir := t.TempDir()
	pf := NewPIDFile(filepath.Join(dir, "scheduler.pid"))
	marker := filepath.Join(dir, "spawned")

	// The child records its pid, then stalls long past the start wait
	// without ever claiming the pid file.
	script := fmt.Sprintf("echo $$ > %s; exec sleep 30", marker)
	s := New(Config{
		DaemonBin:  "/bin/sh",
		DaemonArgs: []string{"-c", script},
		StartWait:  200 * time.Millisecond,
	}, pf, zap.NewNop())

	_, err := s.Start()
	if !errors.Is(err, ErrStartTimeout) {
		t.Fatalf("expected ErrStartTimeout, got: %v", err)
	}

	raw, err := os.ReadFile(marker)
	if err != nil {
		t.Fatalf("spawned pid marker missing: %v", err)
	}
	spawned, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for ProcessAlive(spawned) && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if ProcessAlive(spawned) {
		t.Errorf("spawned process %d still alive after start timeout", spawned)
	}

	if pid, _ := pf.Read(); pid != 0 {
		t.Errorf("pid file left behind with pid %d", pid)
	}
}
