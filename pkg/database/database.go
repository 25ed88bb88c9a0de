// Package database opens the GORM handle the stores share.
package database

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Supported dialects.
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
	DialectMySQL    = "mysql"
)

// Config selects the backing database.
type Config struct {
	// Dialect is sqlite, postgres or mysql. Empty means sqlite.
	Dialect string `mapstructure:"dialect"`
	// DSN is the driver connection string; for sqlite a file path or
	// ":memory:".
	DSN string `mapstructure:"dsn"`
	// Debug turns on GORM statement logging.
	Debug bool `mapstructure:"debug"`
}

// Open connects per the config. TranslateError is always on so
// uniqueness violations surface as gorm.ErrDuplicatedKey regardless of
// dialect.
func Open(cfg Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Dialect {
	case DialectSQLite, "":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = ":memory:"
		}
		dialector = sqlite.Open(dsn)
	case DialectPostgres:
		dialector = postgres.Open(cfg.DSN)
	case DialectMySQL:
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database dialect %q", cfg.Dialect)
	}

	logLevel := logger.Silent
	if cfg.Debug {
		logLevel = logger.Info
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logLevel),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.Dialect, err)
	}
	return db, nil
}
