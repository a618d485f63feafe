package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestLoadWithEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadMergesYAMLOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledgerd.yaml")
	contents := `
db:
  backend: bolt
  dsn: /var/lib/ledgerd
builder:
  tick_period: 2s
log:
  level: debug
  json: true
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, BackendBolt, cfg.DB.Backend)
	assert.Equal(t, "/var/lib/ledgerd", cfg.DB.DSN)
	assert.Equal(t, 2*time.Second, cfg.Builder.TickPeriod.Std())
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.JSON)
	// Fields the file didn't mention keep their defaults.
	assert.Equal(t, Default().Pool.MaxSolutionParts, cfg.Pool.MaxSolutionParts)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("not: [valid"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateRejectsUnknownBackend(t *testing.T) {
	cfg := Default()
	cfg.DB.Backend = Backend("carrier-pigeon")
	assert.Error(t, cfg.Validate())
}

func TestValidateRequiresDSNForNonMemoryBackends(t *testing.T) {
	cfg := Default()
	cfg.DB.Backend = BackendSQL
	assert.Error(t, cfg.Validate())

	cfg.DB.DSN = "postgres://localhost/ledgerd"
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsUnknownVMEngine(t *testing.T) {
	cfg := Default()
	cfg.VM.Engine = "jit"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsZeroGasLimit(t *testing.T) {
	cfg := Default()
	cfg.Validator.GasLimit = 0
	assert.Error(t, cfg.Validate())
}
