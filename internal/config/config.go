// Package config loads rowmodel CLI settings from defaults, rowmodel.yaml,
// ROWMODEL_* environment variables and command-line flags, in increasing
// order of precedence.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/rowmodel/internal/store"
)

// Defaults.
const (
	DefaultDatabase      = "rowmodel.db"
	DefaultBusyTimeoutMS = 5000
	DefaultJournalMode   = "wal"
	DefaultWatchDebounce = 100 * time.Millisecond
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "text"
	DefaultMigrationsDir = "migrations"
	EnvPrefix            = "ROWMODEL_"
)

// ConfigFileNames are searched, in order, when no file is given.
var ConfigFileNames = []string{"rowmodel.yaml", "rowmodel.yml"}

// Config is the resolved configuration.
type Config struct {
	Database      string        `koanf:"database"`
	BusyTimeoutMS int           `koanf:"busy_timeout_ms"`
	JournalMode   string        `koanf:"journal_mode"`
	WatchExternal bool          `koanf:"watch_external"`
	WatchDebounce time.Duration `koanf:"watch_debounce"`
	SchemaFiles   []string      `koanf:"schema_files"`
	MigrationsDir string        `koanf:"migrations_dir"`
	LogLevel      string        `koanf:"log_level"`
	LogFormat     string        `koanf:"log_format"`
	LogFile       string        `koanf:"log_file"`

	// ConfigFile is the file that was loaded, if any.
	ConfigFile string `koanf:"-"`
}

// StoreOptions converts the database settings for store.Open.
func (c *Config) StoreOptions() store.Options {
	return store.Options{
		JournalMode: c.JournalMode,
		BusyTimeout: time.Duration(c.BusyTimeoutMS) * time.Millisecond,
	}
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log_level: %w", err)
	}
	return lvl, nil
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	if c.Database == "" {
		return fmt.Errorf("database is required")
	}
	if c.BusyTimeoutMS < 0 {
		return fmt.Errorf("busy_timeout_ms must not be negative")
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("log_format must be text or json, got %q", c.LogFormat)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}
