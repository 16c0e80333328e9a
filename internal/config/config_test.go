package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "reportlens", cfg.Name)
	assert.Equal(t, "gemini", cfg.Oracle.Provider)
	assert.Equal(t, 5, cfg.Engine.MaxSteps)
	assert.Equal(t, 4, cfg.Engine.MaxSwitchAttempts)
	assert.Equal(t, 1, cfg.Engine.MaxRepairAttempts)
	assert.False(t, cfg.Engine.WritesEnabled)
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Engine.MaxSteps, cfg.Engine.MaxSteps)
}

func TestLoadSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := DefaultConfig()
	cfg.Engine.MaxSteps = 3
	cfg.Engine.WritesEnabled = true
	cfg.Catalog.Path = "my-catalog.yaml"
	cfg.Catalog.Watch = true
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.Engine.MaxSteps)
	assert.True(t, loaded.Engine.WritesEnabled)
	assert.Equal(t, "my-catalog.yaml", loaded.Catalog.Path)
	assert.True(t, loaded.Catalog.Watch)
}

func TestEnvOverrides(t *testing.T) {
	os.Setenv("REPORTLENS_WRITES_ENABLED", "true")
	os.Setenv("REPORTLENS_CATALOG", "/tmp/cat.yaml")
	defer os.Unsetenv("REPORTLENS_WRITES_ENABLED")
	defer os.Unsetenv("REPORTLENS_CATALOG")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.True(t, cfg.Engine.WritesEnabled)
	assert.Equal(t, "/tmp/cat.yaml", cfg.Catalog.Path)
}

func TestTimeoutAccessors(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 30*time.Second, cfg.GetOracleTimeout())

	cfg.Oracle.Timeout = "bogus"
	assert.Equal(t, 30*time.Second, cfg.GetOracleTimeout())

	cfg.Oracle.Timeout = "5s"
	assert.Equal(t, 5*time.Second, cfg.GetOracleTimeout())
}

func TestOracleRetriesClamped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Oracle.Retries = 7
	assert.Equal(t, 1, cfg.GetOracleRetries())

	cfg.Oracle.Retries = -2
	assert.Equal(t, 0, cfg.GetOracleRetries())
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Oracle.Provider = "carrier-pigeon"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Oracle.Timeout = "not-a-duration"
	assert.Error(t, cfg.Validate())
}
