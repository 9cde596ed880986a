package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// flagKeys maps CLI flag names whose config key differs.
var flagKeys = map[string]string{
	"db":     "database",
	"schema": "schema_files",
	"dir":    "migrations_dir",
}

// Load resolves configuration. cfgFile may be empty, in which case the
// working directory is searched for ConfigFileNames. Only flags that were
// explicitly set override lower layers.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	// 1. Defaults
	if err := k.Load(confmap.Provider(map[string]any{
		"database":        DefaultDatabase,
		"busy_timeout_ms": DefaultBusyTimeoutMS,
		"journal_mode":    DefaultJournalMode,
		"watch_external":  false,
		"watch_debounce":  DefaultWatchDebounce.String(),
		"migrations_dir":  DefaultMigrationsDir,
		"log_level":       DefaultLogLevel,
		"log_format":      DefaultLogFormat,
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config file
	used := findConfigFile(cfgFile)
	if used != "" {
		if err := k.Load(file.Provider(used), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", used, err)
		}
	}

	// 3. Environment: ROWMODEL_BUSY_TIMEOUT_MS -> busy_timeout_ms
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Flags
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			if !f.Changed {
				return "", nil
			}
			key := strings.ReplaceAll(f.Name, "-", "_")
			if mapped, ok := flagKeys[f.Name]; ok {
				key = mapped
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	cfg.ConfigFile = used

	// Paths in a config file are relative to that file.
	if used != "" {
		base := filepath.Dir(used)
		if flags == nil || !flags.Changed("db") {
			cfg.Database = resolveRelative(cfg.Database, base)
		}
		for i, p := range cfg.SchemaFiles {
			cfg.SchemaFiles[i] = resolveRelative(p, base)
		}
		cfg.MigrationsDir = resolveRelative(cfg.MigrationsDir, base)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func findConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	for _, name := range ConfigFileNames {
		if _, err := os.Stat(name); err == nil {
			return name
		}
	}
	return ""
}

func resolveRelative(path, base string) string {
	if path == "" || path == ":memory:" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}
