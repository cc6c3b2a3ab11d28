package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("provisioning_service")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 8085, cfg.HTTPPort)
	assert.Equal(t, 5*time.Second, cfg.ProcessorPollingInterval)
	assert.Equal(t, 4, cfg.ProcessorConcurrency)
	assert.Equal(t, 10*time.Minute, cfg.ProcessorStaleClaimAfter)
	assert.Equal(t, 7*24*time.Hour, cfg.ProcessorRetentionWindow)
	assert.Equal(t, 3, cfg.RetryMaxAttempts)
	assert.Equal(t, "mock", cfg.ProviderName)
	assert.True(t, cfg.ProcessorAutoStart)
	assert.Equal(t, "billing.subscription.updated", cfg.BillingEventsSubject)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("APP_LOG_LEVEL", "debug")
	t.Setenv("APP_HTTP_PORT", "9100")
	t.Setenv("APP_PROCESSOR_POLLING_INTERVAL", "250ms")
	t.Setenv("APP_RETRY_MAX_ATTEMPTS", "5")
	t.Setenv("APP_PROVIDER_NAME", "http")

	cfg, err := Load("provisioning_service")
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 9100, cfg.HTTPPort)
	assert.Equal(t, 250*time.Millisecond, cfg.ProcessorPollingInterval)
	assert.Equal(t, 5, cfg.RetryMaxAttempts)
	assert.Equal(t, "http", cfg.ProviderName)
}

func TestLoad_ServiceOverlay(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.defaults.yaml"),
		[]byte("HTTP_PORT: 9001\nLOG_LEVEL: warn\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "provisioning_service.yaml"),
		[]byte("HTTP_PORT: 9002\n"), 0o644))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load("provisioning_service")
	require.NoError(t, err)

	// The service file wins over the base file; untouched keys fall through.
	assert.Equal(t, 9002, cfg.HTTPPort)
	assert.Equal(t, "warn", cfg.LogLevel)
}
