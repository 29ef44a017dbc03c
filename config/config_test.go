package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Listen)
	assert.Equal(t, "127.0.0.1", cfg.Database.Host)
	assert.Equal(t, 3306, cfg.Database.Port)
	assert.Equal(t, 15*time.Minute, cfg.Database.ConnMaxLifetime)
	assert.Equal(t, "127.0.0.1:6379", cfg.Redis.Addr)
	assert.Equal(t, "bbws:", cfg.Redis.KeyPrefix)
	assert.Equal(t, time.Hour, cfg.Auth.AccessTokenTTL)
	assert.Equal(t, 5*time.Minute, cfg.Auth.ClientCacheTTL)
	assert.Equal(t, 10*time.Minute, cfg.Auth.GrantTTL)
	assert.Empty(t, cfg.Auth.AllowedScopes)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("DB_PORT", "3307")
	t.Setenv("DB_PASSWORD", "hunter2")
	t.Setenv("REDIS_ADDR", "cache:6380")
	t.Setenv("AUTH_ACCESS_TOKEN_TTL", "90s")
	t.Setenv("AUTH_ALLOWED_SCOPES", "read write admin")
	t.Setenv("AUTH_DEFAULT_SCOPES", "read")

	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, 3307, cfg.Database.Port)
	assert.Equal(t, "cache:6380", cfg.Redis.Addr)
	assert.Equal(t, 90*time.Second, cfg.Auth.AccessTokenTTL)
	assert.Equal(t, []string{"read", "write", "admin"}, cfg.Auth.AllowedScopes)
	assert.Equal(t, []string{"read"}, cfg.Auth.DefaultScopes)
	assert.Contains(t, cfg.Secrets(), "hunter2")
}

func TestLoadFlagsOverrideDefaults(t *testing.T) {
	cfg, err := Load([]string{"--http.listen=:9090", "--redis.db=2", "--dbg"})
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTP.Listen)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.True(t, cfg.Debug)
}

func TestLoadValidation(t *testing.T) {
	tbl := []struct {
		name string
		env  map[string]string
		err  string
	}{
		{"port out of range", map[string]string{"DB_PORT": "70000"}, "DB_PORT must be between 1 and 65535"},
		{"no open conns", map[string]string{"DB_MAX_OPEN_CONNS": "0"}, "DB_MAX_OPEN_CONNS must be greater than zero"},
		{"negative idle", map[string]string{"DB_MAX_IDLE_CONNS": "-1"}, "DB_MAX_IDLE_CONNS must be zero or a positive integer"},
		{"zero ping timeout", map[string]string{"DB_PING_TIMEOUT": "0s"}, "DB_PING_TIMEOUT must be greater than zero"},
		{"negative redis db", map[string]string{"REDIS_DB": "-3"}, "REDIS_DB must be zero or a positive integer"},
		{"sub-second token ttl", map[string]string{"AUTH_ACCESS_TOKEN_TTL": "500ms"}, "AUTH_ACCESS_TOKEN_TTL must be at least one second"},
		{"zero grant ttl", map[string]string{"AUTH_GRANT_TTL": "0s"}, "AUTH_GRANT_TTL must be at least one second"},
		{"default scope not allowed", map[string]string{"AUTH_ALLOWED_SCOPES": "read", "AUTH_DEFAULT_SCOPES": "write"},
			`AUTH_DEFAULT_SCOPES contains "write" which is not in AUTH_ALLOWED_SCOPES`},
	}

	for _, tt := range tbl {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(nil)
			require.Error(t, err)
			assert.EqualError(t, err, tt.err)
		})
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("DB_CONN_MAX_LIFETIME", "forever")
	_, err := Load(nil)
	assert.Error(t, err)
}
