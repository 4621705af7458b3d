// Package config loads invsync configuration.
//
// Configuration is read from invsync.yaml or invsync.toml (in the working
// directory or $HOME/.config/invsync, or an explicit path), then overridden
// by INVSYNC_* environment variables, e.g. INVSYNC_SOURCE_PASSWORD or
// INVSYNC_QUEUE_MODE.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "INVSYNC"

// Source types.
const (
	SourceWebSocket = "websocket"
	SourceReplay    = "replay"
	SourceMemory    = "memory"
)

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("invalid configuration")

// Config is the complete invsync configuration.
type Config struct {
	Source    SourceConfig    `mapstructure:"source" yaml:"source" toml:"source"`
	Store     StoreConfig     `mapstructure:"store" yaml:"store" toml:"store"`
	Queue     QueueConfig     `mapstructure:"queue" yaml:"queue" toml:"queue"`
	Daemon    DaemonConfig    `mapstructure:"daemon" yaml:"daemon" toml:"daemon"`
	Dashboard DashboardConfig `mapstructure:"dashboard" yaml:"dashboard" toml:"dashboard"`
	Log       LogConfig       `mapstructure:"log" yaml:"log" toml:"log"`

	// File is the config file that was read, if any
	File string `mapstructure:"-" yaml:"-" toml:"-"`
}

// SourceConfig selects and configures the remote source.
type SourceConfig struct {
	// Name identifies the source in status records
	Name string `mapstructure:"name" yaml:"name" toml:"name"`
	// Type is websocket, replay or memory
	Type        string        `mapstructure:"type" yaml:"type" toml:"type"`
	URL         string        `mapstructure:"url" yaml:"url,omitempty" toml:"url,omitempty"`
	Dir         string        `mapstructure:"dir" yaml:"dir,omitempty" toml:"dir,omitempty"`
	Username    string        `mapstructure:"username" yaml:"username,omitempty" toml:"username,omitempty"`
	Password    string        `mapstructure:"password" yaml:"password,omitempty" toml:"password,omitempty"`
	DialTimeout time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout" toml:"dial_timeout"`
	WaitTimeout time.Duration `mapstructure:"wait_timeout" yaml:"wait_timeout" toml:"wait_timeout"`
}

// StoreConfig locates the SQLite database.
type StoreConfig struct {
	Path string `mapstructure:"path" yaml:"path" toml:"path"`
}

// QueueConfig configures the persistence queue.
type QueueConfig struct {
	Mode         string        `mapstructure:"mode" yaml:"mode" toml:"mode"`
	IdleInterval time.Duration `mapstructure:"idle_interval" yaml:"idle_interval" toml:"idle_interval"`
	JoinTimeout  time.Duration `mapstructure:"join_timeout" yaml:"join_timeout" toml:"join_timeout"`
	MaxPending   int           `mapstructure:"max_pending" yaml:"max_pending" toml:"max_pending"`
}

// DaemonConfig configures the synchronization loop.
type DaemonConfig struct {
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay" yaml:"reconnect_delay" toml:"reconnect_delay"`
}

// DashboardConfig configures the WebSocket dashboard.
type DashboardConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled" toml:"enabled"`
	Host    string `mapstructure:"host" yaml:"host" toml:"host"`
	Port    int    `mapstructure:"port" yaml:"port" toml:"port"`
}

// LogConfig configures log output. An empty File logs to stderr.
type LogConfig struct {
	File       string `mapstructure:"file" yaml:"file,omitempty" toml:"file,omitempty"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups" toml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days" toml:"max_age_days"`
	Compress   bool   `mapstructure:"compress" yaml:"compress" toml:"compress"`
	Quiet      bool   `mapstructure:"quiet" yaml:"quiet" toml:"quiet"`
}

var defaults = map[string]any{
	"source.name":         "default",
	"source.type":         SourceWebSocket,
	"source.url":          "",
	"source.dir":          "",
	"source.username":     "",
	"source.password":     "",
	"source.dial_timeout": 10 * time.Second,
	"source.wait_timeout": 30 * time.Second,

	"store.path": "invsync.db",

	"queue.mode":          "async",
	"queue.idle_interval": 100 * time.Millisecond,
	"queue.join_timeout":  10 * time.Second,
	"queue.max_pending":   0,

	"daemon.reconnect_delay": 5 * time.Second,

	"dashboard.enabled": false,
	"dashboard.host":    "127.0.0.1",
	"dashboard.port":    8080,

	"log.file":         "",
	"log.max_size_mb":  50,
	"log.max_backups":  3,
	"log.max_age_days": 28,
	"log.compress":     false,
	"log.quiet":        false,
}

// Default returns the configuration used when nothing is configured.
func Default() *Config {
	cfg, err := decode(newViper())
	if err != nil {
		panic(fmt.Sprintf("config: defaults do not decode: %v", err))
	}
	return cfg
}

func newViper() *viper.Viper {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Load reads configuration like Read and validates it.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read reads configuration from path, or searches for invsync.yaml or
// invsync.toml when path is empty. A missing file is only an error when
// path is given.
func Read(path string) (*Config, error) {
	v := newViper()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("invsync")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "invsync"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	cfg.File = v.ConfigFileUsed()
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...)))
	}

	if c.Source.Name == "" {
		bad("source.name is empty")
	}
	switch c.Source.Type {
	case SourceWebSocket:
		if c.Source.URL == "" {
			bad("source.url is required for a websocket source")
		} else if !strings.HasPrefix(c.Source.URL, "ws://") && !strings.HasPrefix(c.Source.URL, "wss://") {
			bad("source.url %q is not a ws:// or wss:// URL", c.Source.URL)
		}
	case SourceReplay:
		if c.Source.Dir == "" {
			bad("source.dir is required for a replay source")
		}
	case SourceMemory:
	default:
		bad("unknown source.type %q", c.Source.Type)
	}
	if c.Source.WaitTimeout <= 0 {
		bad("source.wait_timeout must be positive")
	}

	if c.Store.Path == "" {
		bad("store.path is empty")
	}

	switch c.Queue.Mode {
	case "async", "sync":
	default:
		bad("unknown queue.mode %q", c.Queue.Mode)
	}
	if c.Queue.MaxPending < 0 {
		bad("queue.max_pending must not be negative")
	}

	if c.Daemon.ReconnectDelay < 0 {
		bad("daemon.reconnect_delay must not be negative")
	}
	if c.Dashboard.Port < 0 || c.Dashboard.Port > 65535 {
		bad("dashboard.port %d out of range", c.Dashboard.Port)
	}

	return errors.Join(errs...)
}

// Redacted returns a copy safe to print.
func (c *Config) Redacted() *Config {
	out := *c
	if out.Source.Password != "" {
		out.Source.Password = "********"
	}
	return &out
}
