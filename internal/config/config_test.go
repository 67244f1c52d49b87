package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiverify-foundation/moonshot-sub003/internal/types"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, Validate(cfg))
	assert.Equal(t, 3, cfg.Connector.RetryAttempts)
	assert.Equal(t, 600*time.Second, cfg.Connector.CallTimeout)
	assert.Equal(t, 30*time.Second, cfg.Runner.CancelGrace)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Connector.RetryAttempts, cfg.Connector.RetryAttempts)
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "moonshot.yaml")
	content := `
connector:
  retry_attempts: 5
  call_timeout: 30s
runner:
  cancel_grace: 10s
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Connector.RetryAttempts)
	assert.Equal(t, 30*time.Second, cfg.Connector.CallTimeout)
	assert.Equal(t, 10*time.Second, cfg.Runner.CancelGrace)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// Unspecified fields keep their defaults.
	assert.NotEmpty(t, cfg.Dirs.Recipes)
}

func TestLoadMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("connector: ["), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Equal(t, types.CONFIG_LOAD_ERROR, types.CodeOf(err))
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MOONSHOT_RECIPES", "/tmp/custom-recipes")
	t.Setenv("MOONSHOT_RETRY_ATTEMPTS", "7")
	t.Setenv("MOONSHOT_CALL_TIMEOUT", "45s")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/custom-recipes", cfg.Dirs.Recipes)
	assert.Equal(t, 7, cfg.Connector.RetryAttempts)
	assert.Equal(t, 45*time.Second, cfg.Connector.CallTimeout)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Connector.RetryAttempts = 0
	err := Validate(cfg)
	require.Error(t, err)
	assert.Equal(t, types.CONFIG_INVALID, types.CodeOf(err))

	cfg = DefaultConfig()
	cfg.Dirs.Recipes = ""
	assert.Error(t, Validate(cfg))

	cfg = DefaultConfig()
	cfg.Runner.CancelGrace = 0
	assert.Error(t, Validate(cfg))
}

func TestMoonshotHomeEnv(t *testing.T) {
	t.Setenv("MOONSHOT_HOME", "/srv/moonshot")
	cfg := DefaultConfig()
	assert.Equal(t, "/srv/moonshot/recipes", cfg.Dirs.Recipes)
	assert.Equal(t, "/srv/moonshot/databases", cfg.Dirs.Databases)
}
