package observability

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"go-cloudtasks-emulator/config"
)

func TestSetupLoggerWritesJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "cte.log")
	logger, err := SetupLogger(config.LogConfig{
		Level:   "warning",
		Format:  "json",
		Outputs: []string{path},
	})
	require.NoError(t, err)

	logger.Info("dropped")
	logger.Warn("task exhausted", zap.String("task", "t-1"))
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"task exhausted"`)
	assert.Contains(t, string(data), `"task":"t-1"`)
	assert.NotContains(t, string(data), "dropped")
}

func TestSetupLoggerRejectsUnknownLevel(t *testing.T) {
	_, err := SetupLogger(config.LogConfig{Level: "loud", Outputs: []string{"stderr"}})
	assert.Error(t, err)
}
