package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile(%s) failed: %v", name, err)
	}
	return path
}

// isolate points the search paths at an empty directory.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Chdir(dir)
	return dir
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Source.Type != SourceWebSocket {
		t.Errorf("Source.Type = %q, want websocket", cfg.Source.Type)
	}
	if cfg.Queue.IdleInterval != 100*time.Millisecond {
		t.Errorf("Queue.IdleInterval = %v, want 100ms", cfg.Queue.IdleInterval)
	}
	if cfg.Queue.JoinTimeout != 10*time.Second {
		t.Errorf("Queue.JoinTimeout = %v, want 10s", cfg.Queue.JoinTimeout)
	}
	if cfg.Daemon.ReconnectDelay != 5*time.Second {
		t.Errorf("Daemon.ReconnectDelay = %v, want 5s", cfg.Daemon.ReconnectDelay)
	}
	if cfg.Store.Path != "invsync.db" {
		t.Errorf("Store.Path = %q, want invsync.db", cfg.Store.Path)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := isolate(t)
	path := writeFile(t, dir, "custom.yaml", `
source:
  name: vc1
  type: websocket
  url: wss://collector.example/updates
  username: svc
  wait_timeout: 45s
queue:
  mode: sync
  max_pending: 8
dashboard:
  enabled: true
  port: 9090
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.File != path {
		t.Errorf("File = %q, want %q", cfg.File, path)
	}
	if cfg.Source.Name != "vc1" || cfg.Source.URL != "wss://collector.example/updates" || cfg.Source.Username != "svc" {
		t.Errorf("Source = %+v", cfg.Source)
	}
	if cfg.Source.WaitTimeout != 45*time.Second {
		t.Errorf("WaitTimeout = %v, want 45s", cfg.Source.WaitTimeout)
	}
	if cfg.Queue.Mode != "sync" || cfg.Queue.MaxPending != 8 {
		t.Errorf("Queue = %+v", cfg.Queue)
	}
	// Unset keys keep their defaults.
	if cfg.Queue.JoinTimeout != 10*time.Second {
		t.Errorf("JoinTimeout = %v, want default 10s", cfg.Queue.JoinTimeout)
	}
	if !cfg.Dashboard.Enabled || cfg.Dashboard.Port != 9090 || cfg.Dashboard.Host != "127.0.0.1" {
		t.Errorf("Dashboard = %+v", cfg.Dashboard)
	}
}

func TestLoadSearchesTOML(t *testing.T) {
	dir := isolate(t)
	writeFile(t, dir, "invsync.toml", `
[source]
name = "lab"
type = "replay"
dir = "/var/lib/invsync/replay"

[store]
path = "/var/lib/invsync/lab.db"
`)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Source.Type != SourceReplay || cfg.Source.Dir != "/var/lib/invsync/replay" {
		t.Errorf("Source = %+v", cfg.Source)
	}
	if cfg.Store.Path != "/var/lib/invsync/lab.db" {
		t.Errorf("Store.Path = %q", cfg.Store.Path)
	}
	if filepath.Base(cfg.File) != "invsync.toml" {
		t.Errorf("File = %q, want invsync.toml", cfg.File)
	}
}

func TestEnvOverrides(t *testing.T) {
	dir := isolate(t)
	path := writeFile(t, dir, "invsync.yaml", `
source:
  type: memory
queue:
  mode: async
`)
	t.Setenv("INVSYNC_SOURCE_PASSWORD", "s3cret")
	t.Setenv("INVSYNC_QUEUE_MODE", "sync")
	t.Setenv("INVSYNC_DAEMON_RECONNECT_DELAY", "250ms")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Source.Password != "s3cret" {
		t.Errorf("Password = %q, want env value", cfg.Source.Password)
	}
	if cfg.Queue.Mode != "sync" {
		t.Errorf("Queue.Mode = %q, want env value sync", cfg.Queue.Mode)
	}
	if cfg.Daemon.ReconnectDelay != 250*time.Millisecond {
		t.Errorf("ReconnectDelay = %v, want 250ms", cfg.Daemon.ReconnectDelay)
	}
}

func TestReadWithoutFile(t *testing.T) {
	isolate(t)

	cfg, err := Read("")
	if err != nil {
		t.Fatalf("Read() failed: %v", err)
	}
	if cfg.File != "" {
		t.Errorf("File = %q, want empty", cfg.File)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	dir := isolate(t)
	if _, err := Load(filepath.Join(dir, "nope.yaml")); err == nil {
		t.Fatal("Load(missing) succeeded, want error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"websocket without url", func(c *Config) {}, "source.url is required"},
		{"bad url scheme", func(c *Config) { c.Source.URL = "http://x" }, "not a ws://"},
		{"replay without dir", func(c *Config) { c.Source.Type = SourceReplay }, "source.dir is required"},
		{"unknown source", func(c *Config) { c.Source.Type = "carrier-pigeon" }, "unknown source.type"},
		{"unknown queue mode", func(c *Config) { c.Source.Type = SourceMemory; c.Queue.Mode = "later" }, "unknown queue.mode"},
		{"negative max pending", func(c *Config) { c.Source.Type = SourceMemory; c.Queue.MaxPending = -1 }, "max_pending"},
		{"empty store", func(c *Config) { c.Source.Type = SourceMemory; c.Store.Path = "" }, "store.path"},
		{"port range", func(c *Config) { c.Source.Type = SourceMemory; c.Dashboard.Port = 70000 }, "dashboard.port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("Validate() = %v, want ErrInvalid", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %q, want mention of %q", err, tt.want)
			}
		})
	}

	cfg := Default()
	cfg.Source.Type = SourceMemory
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate(memory defaults) = %v", err)
	}
}

func TestRedacted(t *testing.T) {
	cfg := Default()
	cfg.Source.Password = "s3cret"

	out := cfg.Redacted()
	if out.Source.Password == "s3cret" {
		t.Error("Redacted() kept the password")
	}
	if cfg.Source.Password != "s3cret" {
		t.Error("Redacted() modified the original")
	}
}

func TestNewLoggerWritesRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "invsync.log")
	t.Cleanup(func() { CloseLogs() })

	cfg := LogConfig{File: path, MaxSizeMB: 1}
	NewLogger(cfg, "daemon").Println("connected")
	NewLogger(cfg, "queue").Println("persisted")

	if w1, w2 := LogWriter(cfg), LogWriter(cfg); w1 != w2 {
		t.Error("loggers for one file do not share a writer")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() failed: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, "[daemon] ") || !strings.Contains(out, "connected") {
		t.Errorf("log = %q, want daemon line", out)
	}
	if !strings.Contains(out, "[queue] ") {
		t.Errorf("log = %q, want queue line", out)
	}
}

func TestLogWriterDestinations(t *testing.T) {
	if w := LogWriter(LogConfig{}); w != os.Stderr {
		t.Errorf("LogWriter(empty) = %T, want stderr", w)
	}
	if w := LogWriter(LogConfig{Quiet: true, File: "ignored.log"}); w == os.Stderr {
		t.Error("LogWriter(quiet) returned stderr")
	}
}
