package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Setenv("DB_USER", "gateway")
	t.Setenv("DB_HOST", "localhost")
	t.Setenv("DB_NAME", "gateway")
	t.Setenv("REDIS_IP", "localhost")
	t.Setenv("KEYCLOAK_REALM", "pulsegate")
	t.Setenv("KEYCLOAK_CLIENT_ID", "gateway")
	t.Setenv("KEYCLOAK_BASE_URL", "http://localhost:8080")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("ENV", "dev")

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "8000", cfg.Port)
	assert.Equal(t, 5432, cfg.DB.Port)
	assert.Equal(t, 20, cfg.DB.MaxOpenConns())
	assert.Equal(t, 6379, cfg.Redis.Port)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr())
	assert.Equal(t, 5, cfg.WS.MaxConnectionsPerUser)
	assert.Equal(t, 120, cfg.WS.MessageRateLimit)
	assert.Equal(t, FailOpen, cfg.RateLimit.FailMode)
	assert.False(t, cfg.RateLimit.Enabled, "rate limiting defaults off outside production")
	assert.Equal(t, 10000, cfg.Audit.QueueMaxSize)
	assert.Equal(t, 5*time.Second, cfg.Audit.BatchTimeout)
	assert.Equal(t, []string{"localhost", "127.0.0.1"}, cfg.Admission.AllowedHosts)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "human", cfg.Log.ConsoleFormat)
}

func TestLoadProductionProfile(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("ENV", "production")
	t.Setenv("ALLOWED_HOSTS", "gw.example.com")

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.ConsoleFormat)
	assert.Equal(t, []string{"gw.example.com"}, cfg.Admission.AllowedHosts)
}

func TestValidateRejectsDebugBypassInProduction(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("ENV", "production")
	t.Setenv("DEBUG_AUTH_BYPASS", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.ErrorContains(t, cfg.Validate(), "DEBUG_AUTH_BYPASS")
}

func TestValidateMissingRequired(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("KEYCLOAK_BASE_URL", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.ErrorContains(t, cfg.Validate(), "KEYCLOAK_BASE_URL")
}

func TestValidateBadFailMode(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("RATE_LIMIT_FAIL_MODE", "maybe")

	cfg, err := Load()
	require.NoError(t, err)
	assert.ErrorContains(t, cfg.Validate(), "RATE_LIMIT_FAIL_MODE")
}

func TestDurationsParseAsSeconds(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("REDIS_SOCKET_TIMEOUT", "2.5")
	t.Setenv("AUDIT_QUEUE_TIMEOUT", "0.25")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 2500*time.Millisecond, cfg.Redis.SocketTimeout)
	assert.Equal(t, 250*time.Millisecond, cfg.Audit.QueueTimeout)
}

func TestConfigFileOverlay(t *testing.T) {
	setRequiredEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	overlay := []byte(`
allowed_hosts:
  - overlay.example.com
rate_limit:
  per_minute: 30
ws:
  max_connections_per_user: 3
`)
	require.NoError(t, os.WriteFile(path, overlay, 0o600))
	t.Setenv("CONFIG_FILE", path)
	// Env var wins over the overlay.
	t.Setenv("RATE_LIMIT_PER_MINUTE", "90")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"overlay.example.com"}, cfg.Admission.AllowedHosts)
	assert.Equal(t, 90, cfg.RateLimit.PerMinute)
	assert.Equal(t, 3, cfg.WS.MaxConnectionsPerUser)
}

func TestKeycloakJWKSURL(t *testing.T) {
	kc := KeycloakConfig{Realm: "pulsegate", BaseURL: "http://kc:8080/"}
	assert.Equal(t, "http://kc:8080/realms/pulsegate/protocol/openid-connect/certs", kc.JWKSURL())
}
