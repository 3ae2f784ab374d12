package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bnema/lock-runtime/internal/application"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithoutConfigFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("LOCKRT_STORE_DIR", dir)

	cfg, err := Load("")
	require.NoError(t, err)

	settings, err := Resolve(cfg)
	require.NoError(t, err)

	assert.Equal(t, dir, settings.StoreDir)
	assert.Equal(t, filepath.Join(dir, "archive.db"), settings.ArchivePath)
	assert.Equal(t, filepath.Join(dir, "secrets"), settings.SecretsDir)
	assert.Equal(t, 5*time.Minute, settings.Pairing.SessionTTL)
	assert.Equal(t, application.DefaultMaxCloudCalls, settings.Policy.MaxCloudCalls)
	assert.Equal(t, 5*time.Second, settings.Policy.MinCloudInterval)
	assert.Equal(t, application.DefaultCostRates(), settings.Costs)
	assert.True(t, settings.Sweeper.EnforceMaxDuration)
	assert.Equal(t, DefaultHTTPListen, settings.HTTP.Listen)
	assert.Equal(t, []string{"http://" + DefaultHTTPListen}, settings.HTTP.AllowedOrigins)
	assert.Equal(t, 10000, settings.Events)
	assert.ElementsMatch(t, application.DefaultTrustedEndpoints, settings.Sandbox.TrustedEndpoints)
}

func TestLoadReadsTomlAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[store]
dir = "`+filepath.ToSlash(dir)+`"

[policy]
max_cloud_calls = 3
min_cloud_interval = "2s"

[sandbox]
trusted_endpoints = ["https://llm.internal"]

[http]
listen = "0.0.0.0:9000"
allowed_origins = ["https://lock.example", "https://app.lock.example"]
`), 0o600))
	t.Setenv("LOCKRT_POLICY_MAX_CLOUD_CALLS", "7")

	cfg, err := Load(path)
	require.NoError(t, err)
	settings, err := Resolve(cfg)
	require.NoError(t, err)

	assert.Equal(t, 7, settings.Policy.MaxCloudCalls, "env wins over file")
	assert.Equal(t, 2*time.Second, settings.Policy.MinCloudInterval)
	assert.Equal(t, []string{"https://llm.internal"}, settings.Sandbox.TrustedEndpoints)
	assert.Equal(t, "0.0.0.0:9000", settings.HTTP.Listen)
	assert.Equal(t, []string{"https://lock.example", "https://app.lock.example"}, settings.HTTP.AllowedOrigins)
}

func TestLoadExplicitMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.ErrorContains(t, err, "read config")
}

func TestResolveRejectsBadValues(t *testing.T) {
	t.Setenv("LOCKRT_STORE_DIR", t.TempDir())
	t.Setenv("LOCKRT_HTTP_WS_MESSAGES_PER_SECOND", "0")

	cfg, err := Load("")
	require.NoError(t, err)
	_, err = Resolve(cfg)
	assert.ErrorContains(t, err, KeyHTTPWSRate)
}
