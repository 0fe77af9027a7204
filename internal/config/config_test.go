package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsZeroCount(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Workers = []WorkerDescriptor{{Name: "DatabaseWorker", Count: 0}}
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsDuplicateNames(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Workers = []WorkerDescriptor{
		{Name: "DatabaseWorker", Count: 1},
		{Name: "DatabaseWorker", Count: 2},
	}
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsBadName(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Workers = []WorkerDescriptor{{Name: "123Bad", Count: 1}}
	assert.Error(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fleet.yaml")
	yaml := []byte(`
log:
  level: debug
workers:
  - name: DatabaseWorker
    count: 2
    config:
      db_url: postgres://db:5432
`)
	require.NoError(t, os.WriteFile(path, yaml, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	require.Len(t, cfg.Workers, 1)
	assert.Equal(t, 2, cfg.Workers[0].Count)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Workers, cfg.Workers)
}

func TestEnvOverride(t *testing.T) {
	os.Setenv("FLEET_DATABASEWORKER_DB_URL", "postgres://override:5432")
	defer os.Unsetenv("FLEET_DATABASEWORKER_DB_URL")

	cfg, err := Load("")
	require.NoError(t, err)
	desc, ok := cfg.DescriptorFor("DatabaseWorker")
	require.True(t, ok)
	assert.Equal(t, "postgres://override:5432", desc.Config["db_url"])
}

func TestDescriptorFor(t *testing.T) {
	cfg := DefaultConfig()
	_, ok := cfg.DescriptorFor("NoSuchWorker")
	assert.False(t, ok)
	d, ok := cfg.DescriptorFor("HttpWorker")
	assert.True(t, ok)
	assert.Equal(t, "4000", d.Config["port"])
}
