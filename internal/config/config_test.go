package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/realtime-auth/internal/apperr"
)

func mapLookup(m map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func baseEnv() map[string]string {
	return map[string]string{
		"APP_PORT":           "8080",
		"DB_DRIVER":          "memory",
		"JWT_ACCESS_SECRET":  "access-secret",
		"JWT_REFRESH_SECRET": "refresh-secret",
	}
}

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := LoadFrom(mapLookup(baseEnv()))
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "15m", cfg.AccessExpiration)
	assert.Equal(t, "7d", cfg.RefreshExpiration)
	assert.Equal(t, 10, cfg.BcryptCost)
	assert.False(t, cfg.Realtime.AllowAnonymous)
	assert.Equal(t, 64, cfg.Realtime.SendBuffer)
	assert.Equal(t, 30*time.Second, cfg.Realtime.PingInterval)
	assert.False(t, cfg.Events.Enabled)
	assert.Equal(t, "auth.session", cfg.Events.Queue)
	assert.Equal(t, 256, cfg.Events.Buffer)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "rl:auth", cfg.RateLimit.Prefix)
}

func TestLoadFrom_MissingSecretsFailFast(t *testing.T) {
	env := baseEnv()
	delete(env, "JWT_ACCESS_SECRET")
	env["JWT_REFRESH_SECRET"] = "   "

	_, err := LoadFrom(mapLookup(env))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrConfig)
	assert.Contains(t, err.Error(), "JWT_ACCESS_SECRET")
	assert.Contains(t, err.Error(), "JWT_REFRESH_SECRET")
}

func TestLoadFrom_SecretsMustDiffer(t *testing.T) {
	env := baseEnv()
	env["JWT_REFRESH_SECRET"] = env["JWT_ACCESS_SECRET"]

	_, err := LoadFrom(mapLookup(env))
	assert.ErrorIs(t, err, apperr.ErrConfig)
}

func TestLoadFrom_MySQLRequiresConnectionSettings(t *testing.T) {
	env := baseEnv()
	env["DB_DRIVER"] = "mysql"

	_, err := LoadFrom(mapLookup(env))
	require.Error(t, err)
	for _, key := range []string{"DB_USER", "DB_HOST", "DB_PORT", "DB_NAME"} {
		assert.Contains(t, err.Error(), key)
	}

	env["DB_USER"], env["DB_HOST"], env["DB_PORT"], env["DB_NAME"] = "app", "db", "3306", "social"
	cfg, err := LoadFrom(mapLookup(env))
	require.NoError(t, err)
	assert.Equal(t, "db", cfg.DBHost)
	assert.Empty(t, cfg.DBPass)
}

func TestLoadFrom_InvalidValues(t *testing.T) {
	env := baseEnv()
	env["BCRYPT_COST"] = "ten"
	env["WS_ALLOW_ANONYMOUS"] = "maybe"
	env["DB_DRIVER"] = "oracle"

	_, err := LoadFrom(mapLookup(env))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BCRYPT_COST")
	assert.Contains(t, err.Error(), "WS_ALLOW_ANONYMOUS")
	assert.Contains(t, err.Error(), "DB_DRIVER")
}

func TestLoadFrom_RealtimeAndRedisOverrides(t *testing.T) {
	env := baseEnv()
	env["WS_ALLOW_ANONYMOUS"] = "true"
	env["WS_SEND_BUFFER"] = "0"
	env["WS_PING_INTERVAL"] = "5s"
	env["REDIS_HOST"] = "cache"
	env["REDIS_PORT"] = "6380"
	env["RATE_LIMIT_BURST"] = "3"
	env["RATE_LIMIT_REFILL_INTERVAL"] = "1s"
	env["RATE_LIMIT_TTL"] = "1s"

	cfg, err := LoadFrom(mapLookup(env))
	require.NoError(t, err)
	assert.True(t, cfg.Realtime.AllowAnonymous)
	assert.Equal(t, 1, cfg.Realtime.SendBuffer)
	assert.Equal(t, 5*time.Second, cfg.Realtime.PingInterval)
	assert.Equal(t, "cache:6380", cfg.Redis.Addr)
	assert.Equal(t, 3, cfg.RateLimit.Capacity)
	assert.Equal(t, 5*time.Second, cfg.RateLimit.TTL)
}
