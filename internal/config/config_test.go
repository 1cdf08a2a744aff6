package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.DataPort)
	assert.Equal(t, 8081, cfg.Server.APIPort)
	assert.Equal(t, "digital_twin.db", cfg.Database.Path)
	assert.Equal(t, time.Minute, cfg.Redis.SampleTTL)
	assert.Equal(t, time.Minute, cfg.Monitor.Interval)
	assert.Equal(t, 5*time.Minute, cfg.Monitor.StalenessBound)
	assert.Equal(t, 48*time.Hour, cfg.Retention.Raw)
	assert.Equal(t, 35*24*time.Hour, cfg.Retention.Hourly)
	assert.Equal(t, 0.1, cfg.Trend.SignificancePercent)
	assert.NotEmpty(t, cfg.Auth.APIKeys)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	content := []byte(`
server:
  data_port: 9090
  api_port: 9091
monitor:
  interval: 30s
  staleness_bound: 2m
retention:
  raw: 24h
  hourly: 720h
trend:
  significance_percent: 0.5
auth:
  jwt_secret: test-secret
  users:
    - username: operator
      password_hash: "$2a$14$fake"
      role: operator
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), content, 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.DataPort)
	assert.Equal(t, 30*time.Second, cfg.Monitor.Interval)
	assert.Equal(t, 2*time.Minute, cfg.Monitor.StalenessBound)
	assert.Equal(t, 24*time.Hour, cfg.Retention.Raw)
	assert.Equal(t, 720*time.Hour, cfg.Retention.Hourly)
	assert.Equal(t, 0.5, cfg.Trend.SignificancePercent)
	assert.Equal(t, "test-secret", cfg.Auth.JWTSecret)
	require.Len(t, cfg.Auth.Users, 1)
	assert.Equal(t, "operator", cfg.Auth.Users[0].Username)
}

func TestLoadRejectsInvertedRetention(t *testing.T) {
	write := func(t *testing.T, content string) string {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o644))
		return dir
	}

	t.Run("hourly shorter than raw", func(t *testing.T) {
		_, err := Load(write(t, `
retention:
  raw: 720h
  hourly: 24h
`))
		assert.Error(t, err, "rollups must outlive the raw samples they summarize")
	})

	t.Run("daily shorter than hourly", func(t *testing.T) {
		_, err := Load(write(t, `
retention:
  raw: 24h
  hourly: 720h
  daily: 48h
`))
		assert.Error(t, err, "retention windows must grow with bucket width")
	})
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("server: ["), 0o644))

	_, err := Load(dir)
	assert.Error(t, err)
}
