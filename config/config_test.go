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
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8500", cfg.Addr)
	assert.Equal(t, "hosts.json", cfg.HostsFile)
	assert.Equal(t, 500*time.Millisecond, cfg.Dispatch.InitialBackoff)
	assert.Zero(t, cfg.Dispatch.MaxBackoff)
	assert.False(t, cfg.Dispatch.EnforceDeadline)
	assert.Equal(t, []string{"stdout"}, cfg.Log.Outputs)
	assert.Empty(t, cfg.RedisAddr)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cloudtasks.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
addr: ":9000"
hosts_file: /etc/queues.yaml
log:
  level: debug
  format: json
dispatch:
  initial_backoff: 250ms
  max_backoff: 30s
  jitter: 0.2
  enforce_deadline: true
`), 0o644))

	t.Setenv("CTE_REDIS_ADDR", "redis:6379")
	t.Setenv("CTE_DISPATCH_MAX_BACKOFF", "1m")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, "/etc/queues.yaml", cfg.HostsFile)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 250*time.Millisecond, cfg.Dispatch.InitialBackoff)
	assert.Equal(t, time.Minute, cfg.Dispatch.MaxBackoff)
	assert.Equal(t, 0.2, cfg.Dispatch.Jitter)
	assert.True(t, cfg.Dispatch.EnforceDeadline)
	assert.Equal(t, "redis:6379", cfg.RedisAddr)
}

func TestLoadServerAddrEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("SERVER_ADDR", ":7070")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Addr)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Chdir(t.TempDir())

	t.Run("log level", func(t *testing.T) {
		t.Setenv("CTE_LOG_LEVEL", "verbose")
		_, err := Load("")
		assert.ErrorContains(t, err, "log.level")
	})

	t.Run("jitter", func(t *testing.T) {
		t.Setenv("CTE_DISPATCH_JITTER", "1.5")
		_, err := Load("")
		assert.ErrorContains(t, err, "jitter")
	})
}
