// Package config loads the engine's runtime configuration: connections, the
// shard map file, logging and health checking.
//
// Values come from, in increasing precedence: defaults, the config file (YAML,
// JSON or TOML, chosen by extension), and STRATA_ environment variables
// (STRATA_LOG_LEVEL, STRATA_STATEMENT_CACHE_SIZE, STRATA_HEALTH_INTERVAL ...).
package config

import (
	stderrors "errors"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/dreamware/strata/internal/cluster"
	"github.com/dreamware/strata/internal/errors"
	"github.com/dreamware/strata/internal/logging"
	"github.com/dreamware/strata/internal/storage"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "STRATA"

// Config is the full runtime configuration.
type Config struct {
	Log                logging.Config           `mapstructure:"log"`
	StatementCacheSize int                      `mapstructure:"statement_cache_size"`
	ShardMapFile       string                   `mapstructure:"shard_map_file"`
	Health             HealthConfig             `mapstructure:"health"`
	Connections        []cluster.ConnectionInfo `mapstructure:"connections"`
}

// HealthConfig controls the connection health monitor.
type HealthConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	MaxFailures int           `mapstructure:"max_failures"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Log:                logging.Config{Level: "info", Format: logging.FormatConsole},
		StatementCacheSize: storage.DefaultStatementCacheSize,
		Health:             HealthConfig{Interval: 5 * time.Second, MaxFailures: 3},
	}
}

// Load reads the config file at path and applies environment overrides. An
// empty path, or a config file that does not exist, yields the defaults with
// overrides applied. A relative ShardMapFile is resolved against the config
// file's directory.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			// SetConfigFile surfaces a missing file as the os error.
			if !stderrors.As(err, &notFound) && !stderrors.Is(err, fs.ErrNotExist) {
				return nil, errors.Wrap(errors.Config, err, "cannot read config "+path)
			}
		}
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(errors.Config, err, "cannot decode config")
	}
	if path != "" && cfg.ShardMapFile != "" && !filepath.IsAbs(cfg.ShardMapFile) {
		cfg.ShardMapFile = filepath.Join(filepath.Dir(path), cfg.ShardMapFile)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("statement_cache_size", d.StatementCacheSize)
	v.SetDefault("shard_map_file", "")
	v.SetDefault("health.interval", d.Health.Interval)
	v.SetDefault("health.max_failures", d.Health.MaxFailures)
}

// Validate checks the configuration for values no component can work with.
func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "", logging.FormatConsole, logging.FormatJSON:
	default:
		return errors.Newf(errors.Config, "unknown log format %q", c.Log.Format).WithField("log.format")
	}
	if c.StatementCacheSize < 0 {
		return errors.Newf(errors.Config, "statement_cache_size must not be negative, got %d", c.StatementCacheSize).
			WithField("statement_cache_size")
	}
	if c.Health.Interval <= 0 {
		return errors.Newf(errors.Config, "health interval must be positive, got %s", c.Health.Interval).
			WithField("health.interval")
	}
	if c.Health.MaxFailures < 1 {
		return errors.Newf(errors.Config, "health max_failures must be at least 1, got %d", c.Health.MaxFailures).
			WithField("health.max_failures")
	}

	seen := make(map[string]bool, len(c.Connections))
	for i, conn := range c.Connections {
		switch {
		case conn.Name == "":
			return errors.Newf(errors.Config, "connection %d has no name", i).WithField("connections")
		case seen[conn.Name]:
			return errors.Newf(errors.Config, "duplicate connection %q", conn.Name).WithConnection(conn.Name)
		case conn.Driver == "":
			return errors.New(errors.Config, "connection has no driver").WithConnection(conn.Name)
		case conn.DSN == "":
			return errors.New(errors.Config, "connection has no dsn").WithConnection(conn.Name)
		}
		if _, err := storage.DialectFor(conn.Driver); err != nil {
			return errors.Wrap(errors.Config, err, "connection "+conn.Name)
		}
		seen[conn.Name] = true
	}
	return nil
}

// GatewayOptions returns the gateway options the configuration implies.
func (c *Config) GatewayOptions() []storage.Option {
	return []storage.Option{storage.WithStatementCache(c.StatementCacheSize)}
}
