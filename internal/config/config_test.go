package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig_Defaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, int32(8188), cfg.HTTP.Port)
	assert.Equal(t, DefaultDatabaseURI, cfg.Database.URI)
	assert.Equal(t, "success", cfg.Response.SuccessStatus)
	assert.Equal(t, "fail", cfg.Response.FailStatus)
	assert.Equal(t, AuthModeLocal, cfg.Auth.Mode)
	assert.Equal(t, time.Hour, cfg.Auth.TokenExpiresIn)
	assert.Equal(t, "HS512", cfg.Auth.TokenAlgorithm)
	assert.Equal(t, 2, cfg.Tasks.Workers)
	assert.Equal(t, "0 3 * * *", cfg.Tasks.LogCleanupSchedule)
}

func TestNewConfig_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("DATABASE_URI", "sqlite://:memory:")
	t.Setenv("DATABASE_DEBUG", "true")
	t.Setenv("DATABASE_DEBUG_SLOW_TIME", "12.5")
	t.Setenv("RES_SUCCESS_STATUS", "ok")
	t.Setenv("AUTH_TOKEN_EXPIRES_IN", "30m")

	cfg := NewConfig()

	assert.Equal(t, int32(9000), cfg.HTTP.Port)
	assert.Equal(t, "sqlite://:memory:", cfg.Database.URI)
	assert.True(t, cfg.Database.Debug)
	assert.Equal(t, 12.5, cfg.Database.SlowTime)
	assert.Equal(t, "ok", cfg.Response.SuccessStatus)
	assert.Equal(t, 30*time.Minute, cfg.Auth.TokenExpiresIn)
}

func TestNewConfig_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "crudkit.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logger_level: debug\nres_fail_status: error\n"), 0o600))
	t.Setenv("CONFIG_FILE", path)

	cfg := NewConfig()

	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, "error", cfg.Response.FailStatus)
}

func TestNewConfig_ProxyAndSSH(t *testing.T) {
	t.Setenv("PROXY_ROUTES", "inventory=http://inv.local/api billing=http://billing.local")
	t.Setenv("SSH_SECRET_KEY", "c2VjcmV0")

	cfg := NewConfig()

	assert.Equal(t, []string{"inventory=http://inv.local/api", "billing=http://billing.local"}, cfg.Proxy.Routes)
	assert.Equal(t, "c2VjcmV0", cfg.SSH.SecretKey)
	assert.Equal(t, 20*time.Second, cfg.SSH.Timeout)
}

func TestNewConfig_TrustedProxies(t *testing.T) {
	cfg := NewConfig()
	assert.Empty(t, cfg.HTTP.TrustedProxies)

	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8 192.168.1.1")
	cfg = NewConfig()
	assert.Equal(t, []string{"10.0.0.0/8", "192.168.1.1"}, cfg.HTTP.TrustedProxies)
}
