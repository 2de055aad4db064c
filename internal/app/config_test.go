package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/whiteboard/internal/auth"
	"github.com/charlesng35/whiteboard/internal/realtime"
)

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join("testdata")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "debug", cfg.Server.LogLevel)
	require.Equal(t, "console", cfg.Server.LogFormat)
	require.Equal(t, RateLimitConfig{Requests: 30, Window: 10 * time.Second}, cfg.Server.RateLimit)

	require.Equal(t, "postgres", cfg.Database.Driver)
	require.Equal(t, "db.example.com", cfg.Database.Postgres.Host)
	require.Equal(t, 5433, cfg.Database.Postgres.Port)
	require.Equal(t, "whiteboard", cfg.Database.Postgres.Database)
	require.Equal(t, "board", cfg.Database.Postgres.Username)
	require.Equal(t, 20, cfg.Database.MaxOpenConns)
	require.Equal(t, 500*time.Millisecond, cfg.Database.SlowQueryThreshold)
	require.Equal(t, 30*time.Minute, cfg.Database.ConnMaxLifetime)

	require.Equal(t, "jwt-secret", cfg.Auth.JWT.Secret)
	require.Equal(t, "whiteboard-identity", cfg.Auth.JWT.Issuer)
	require.Equal(t, 30*time.Minute, cfg.Auth.JWT.TTL)

	require.Equal(t, 128, cfg.Realtime.SendBuffer)
	require.Equal(t, int64(262144), cfg.Realtime.MaxMessageSize)
	require.Equal(t, 5*time.Second, cfg.Realtime.WriteWait)
	require.Equal(t, 45*time.Second, cfg.Realtime.PongWait)
	require.Len(t, cfg.Realtime.AllowedOrigins, 2)

	require.False(t, cfg.Monitoring.Prometheus.Enabled)
	require.Equal(t, "/internal/metrics", cfg.Monitoring.Prometheus.Endpoint)
	require.Equal(t, "@every 30s", cfg.Monitoring.StatsSchedule)
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 5002, cfg.Server.Port)
	require.Equal(t, "info", cfg.Server.LogLevel)
	require.Equal(t, RateLimitConfig{Requests: 120, Window: time.Minute}, cfg.Server.RateLimit)
	require.Equal(t, "sqlite", cfg.Database.Driver)
	require.Equal(t, 200*time.Millisecond, cfg.Database.SlowQueryThreshold)
	require.Equal(t, 24*time.Hour, cfg.Auth.JWT.TTL)
	require.Equal(t, 64, cfg.Realtime.SendBuffer)
	require.Equal(t, int64(1<<20), cfg.Realtime.MaxMessageSize)
	require.True(t, cfg.Monitoring.Prometheus.Enabled)
	require.Equal(t, "/metrics", cfg.Monitoring.Prometheus.Endpoint)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("WHITEBOARD_SERVER_PORT", "7070")
	t.Setenv("WHITEBOARD_AUTH_JWT_SECRET", "from-env")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 7070, cfg.Server.Port)
	require.Equal(t, "from-env", cfg.Auth.JWT.Secret)
}

func TestAuthConfigAdapters(t *testing.T) {
	cfg := Config{
		Auth: AuthConfig{
			JWT: JWTSettings{
				Secret: "secret",
				Issuer: "issuer",
				TTL:    30 * time.Minute,
			},
		},
	}

	require.Equal(t, auth.JWTConfig{
		Secret:         "secret",
		Issuer:         "issuer",
		AccessTokenTTL: 30 * time.Minute,
	}, cfg.Auth.JWTOptions())

	var empty AuthConfig
	require.Equal(t, auth.DefaultAccessTokenTTL, empty.JWTOptions().AccessTokenTTL)
}

func TestRealtimeServerOptions(t *testing.T) {
	cfg := RealtimeConfig{
		SendBuffer:     32,
		MaxMessageSize: 4096,
		WriteWait:      time.Second,
		PongWait:       2 * time.Second,
		AllowedOrigins: []string{" https://a.example.com ", ""},
	}

	require.Equal(t, realtime.ServerOptions{
		SendBuffer:     32,
		MaxMessageSize: 4096,
		WriteWait:      time.Second,
		PongWait:       2 * time.Second,
		AllowedOrigins: []string{"https://a.example.com"},
	}, cfg.ServerOptions())
}

func TestLoadConfigFileReadsNamedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "staging.yml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 6100\nrealtime:\n  send_buffer: 8\n"), 0o600))

	cfg, err := LoadConfigFile(path)
	require.NoError(t, err)
	require.Equal(t, 6100, cfg.Server.Port)
	require.Equal(t, 8, cfg.Realtime.SendBuffer)
	require.Equal(t, "info", cfg.Server.LogLevel)

	_, err = LoadConfigFile(filepath.Join(dir, "absent.yaml"))
	require.Error(t, err)
}
