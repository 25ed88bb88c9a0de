package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditstack/evidence-registry/pkg/database"
	"github.com/auditstack/evidence-registry/pkg/pbc"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, database.DialectSQLite, cfg.Database.Dialect)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, pbc.ModeNew, cfg.Generation.DefaultMode)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  dialect: postgres
  dsn: host=localhost dbname=evidence
log_level: debug
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, database.DialectPostgres, cfg.Database.Dialect)
	assert.Equal(t, "debug", cfg.LogLevel)

	t.Setenv("EVIDENCE_LOG_LEVEL", "warn")
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoad_Invalid(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	t.Setenv("EVIDENCE_DATABASE_DIALECT", "oracle")
	_, err = Load("")
	assert.Error(t, err)
}
