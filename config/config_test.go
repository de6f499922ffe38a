package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  port: 9090\n"))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "Asia/Seoul", cfg.Location.String())
	assert.Equal(t, 30*time.Second, cfg.Driver.Interval)
	assert.Equal(t, 15*time.Second, cfg.Queue.BaseBackoff)
	assert.Equal(t, 2*time.Minute, cfg.Queue.MaxBackoff)
	assert.Equal(t, 50*time.Second, cfg.Queue.StaleAfter)
	assert.Equal(t, 7*24*time.Hour, cfg.Queue.Retention)
	assert.Equal(t, 10*time.Minute, cfg.AutoExtension.MinGap)
	assert.Equal(t, 20, cfg.Prediction.MinSampleSize)
	assert.Equal(t, []int{15, 30, 60, 120, 180, 240}, cfg.Prediction.HorizonsMinutes)
	assert.Equal(t, time.Hour, cfg.Prediction.CacheTTL)
	assert.Equal(t, 1, cfg.WorkerPool.Size)
	assert.Equal(t, "seatq:outcomes", cfg.Redis.Channel)
}

func TestLoad_DerivesDurationsFromSeconds(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
timezone: UTC
driver:
  interval_seconds: 5
queue:
  base_backoff_seconds: 2
  max_backoff_seconds: 8
  adapter_timeout_seconds: 3
`))
	require.NoError(t, err)

	assert.Equal(t, time.UTC, cfg.Location)
	assert.Equal(t, 5*time.Second, cfg.Driver.Interval)
	assert.Equal(t, 2*time.Second, cfg.Queue.BaseBackoff)
	assert.Equal(t, 8*time.Second, cfg.Queue.MaxBackoff)
	assert.Equal(t, 15*time.Second, cfg.Queue.StaleAfter)
}

func TestLoad_ExpandsEnvironment(t *testing.T) {
	t.Setenv("TEST_DSN", "host=db user=seat password=p#ss: dbname=seats sslmode=disable")
	t.Setenv("TEST_TOKEN", "Bearer \"abc$def\"")
	t.Setenv("TEST_REDIS", "redis://:secret@localhost:6379/0")
	cfg, err := Load(writeConfig(t, `
database:
  dsn: ${TEST_DSN}
portal:
  headers:
    Authorization: ${TEST_TOKEN}
redis:
  url: $TEST_REDIS
push:
  subject: "mailto:ops$team@example.com"
`))
	require.NoError(t, err)
	assert.Equal(t, "host=db user=seat password=p#ss: dbname=seats sslmode=disable", cfg.Database.DSN)
	assert.Equal(t, `Bearer "abc$def"`, cfg.Portal.Headers["Authorization"])
	assert.Equal(t, "redis://:secret@localhost:6379/0", cfg.Redis.URL)
	assert.Equal(t, "mailto:ops$team@example.com", cfg.Push.Subject, "only secret fields are expanded")
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "timezone: Mars/Olympus\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "server: [1, 2\n"))
	assert.Error(t, err)
}

func TestLoad_SampleConfig(t *testing.T) {
	cfg, err := Load("config.yaml")
	require.NoError(t, err)
	assert.Equal(t, []string{"R1", "R2", "R3"}, cfg.Monitor.Rooms)
	assert.True(t, cfg.AutoExtension.Enabled)
}
