package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvConfigGetStringUsesDefaultWhenUnset(t *testing.T) {
	env := NewEnvConfig("COUCHVIEW_TEST")
	assert.Equal(t, "fallback", env.GetString("MISSING_KEY", "fallback"))

	os.Setenv("COUCHVIEW_TEST_SET_KEY", "value")
	defer os.Unsetenv("COUCHVIEW_TEST_SET_KEY")
	assert.Equal(t, "value", env.GetString("SET_KEY", "fallback"))
}

func TestEnvConfigGetIntAndBool(t *testing.T) {
	env := NewEnvConfig("COUCHVIEW_TEST")
	os.Setenv("COUCHVIEW_TEST_PORT", "9090")
	os.Setenv("COUCHVIEW_TEST_DEBUG", "true")
	defer os.Unsetenv("COUCHVIEW_TEST_PORT")
	defer os.Unsetenv("COUCHVIEW_TEST_DEBUG")

	assert.Equal(t, 9090, env.GetInt("PORT", 0))
	assert.True(t, env.GetBool("DEBUG", false))
	assert.Equal(t, 5, env.GetInt("ABSENT", 5))
}

func TestDefaultEngineConfigIsValid(t *testing.T) {
	require.NoError(t, ValidateEngineConfig(DefaultEngineConfig()))
}

func TestLoadEngineConfigFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "couchview.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage_path: /var/lib/couchview/index.db
default_collation: raw
document_store:
  kind: kivik
  dsn: http://localhost:5984
  database: reports
`), 0o644))

	cfg, err := LoadEngineConfigFile(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/couchview/index.db", cfg.StoragePath)
	assert.Equal(t, "raw", cfg.DefaultCollation)
	assert.Equal(t, DocumentStoreKivik, cfg.DocumentStore.Kind)
	assert.Equal(t, "info", cfg.LogLevel, "omitted fields keep the default")

	require.NoError(t, ValidateEngineConfig(cfg))
}

func TestValidateEngineConfigRejectsKivikWithoutDSN(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.DocumentStore.Kind = DocumentStoreKivik

	err := ValidateEngineConfig(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "document_store.dsn")
}

func TestLoadEngineConfigEnvOverlaysBase(t *testing.T) {
	os.Setenv("COUCHVIEW_STORAGE_PATH", "/tmp/override.db")
	defer os.Unsetenv("COUCHVIEW_STORAGE_PATH")

	cfg := LoadEngineConfigEnv(DefaultEngineConfig())
	assert.Equal(t, "/tmp/override.db", cfg.StoragePath)
	assert.Equal(t, "unicode", cfg.DefaultCollation)
}
