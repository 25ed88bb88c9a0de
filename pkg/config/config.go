// Package config loads runtime settings from the environment and an
// optional YAML file.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/auditstack/evidence-registry/pkg/database"
	"github.com/auditstack/evidence-registry/pkg/pbc"
)

// envPrefix scopes the environment variables, e.g.
// EVIDENCE_DATABASE_DIALECT, EVIDENCE_LOG_LEVEL.
const envPrefix = "EVIDENCE"

// Config is the full runtime configuration.
type Config struct {
	Database   database.Config  `mapstructure:"database"`
	LogLevel   string           `mapstructure:"log_level"`
	Generation GenerationConfig `mapstructure:"generation"`
}

// GenerationConfig carries generation engine defaults.
type GenerationConfig struct {
	// DefaultMode is used when a caller does not name one.
	DefaultMode string `mapstructure:"default_mode"`
}

// Load reads configuration from the environment, and from the given
// YAML file when path is non-empty. A missing file at an explicit path
// is an error; environment variables always win over file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("database.dialect", database.DialectSQLite)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.debug", false)
	v.SetDefault("log_level", "info")
	v.SetDefault("generation.default_mode", pbc.ModeNew)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.Dialect {
	case database.DialectSQLite, database.DialectPostgres, database.DialectMySQL, "":
	default:
		return fmt.Errorf("unsupported database dialect %q", c.Database.Dialect)
	}
	switch c.Generation.DefaultMode {
	case pbc.ModeNew, pbc.ModeReplaceDrafts:
	default:
		return errors.New("generation.default_mode must be new or replace_drafts")
	}
	return nil
}
