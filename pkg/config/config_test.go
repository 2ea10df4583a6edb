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
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ":8090", cfg.Listen)
	assert.Equal(t, "http://localhost:8888", cfg.Upstream.BaseURL)
	assert.True(t, cfg.Metrics.Enabled)
	assert.False(t, cfg.Bus.Enabled)
}

func TestLoadMergesPartialFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: \":9000\"\nupstream:\n  base_url: \"http://upstream.local\"\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Listen)
	assert.Equal(t, "http://upstream.local", cfg.Upstream.BaseURL)
	// Fields not mentioned in the file keep their defaults.
	assert.Equal(t, 30*time.Second, cfg.Upstream.RequestTimeout)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.Error(t, err)
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("MODELGATEWAY_LISTEN", ":7000")
	t.Setenv("MODELGATEWAY_METRICS_ENABLED", "false")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Listen)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestValidateRejectsEmptyListen(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Listen = ""
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsEmptyUpstreamURL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Upstream.BaseURL = ""
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsEnabledBusWithoutURL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Bus.Enabled = true
	cfg.Bus.URL = ""
	assert.Error(t, cfg.Validate())
}
