package api_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/mautops/moneylens/internal/api"
	"github.com/mautops/moneylens/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewLoggerFromConfig 测试日志格式、级别与默认字段
func TestNewLoggerFromConfig(t *testing.T) {
	logger, err := api.NewLoggerFromConfig(&config.LogConfig{Level: "warn", Format: "json", Output: "stdout"})
	require.NoError(t, err)
	assert.Equal(t, logrus.WarnLevel, logger.GetLevel())

	var buf bytes.Buffer
	logger.SetOutput(&buf)
	logger.Info("dropped")
	assert.Zero(t, buf.Len())

	logger.WithField("entry_id", 7).Warn("anchor retry")
	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "moneylens", line["service"])
	assert.Equal(t, "anchor retry", line["msg"])
	assert.Equal(t, float64(7), line["entry_id"])

	assert.True(t, api.ApplyLevel(logger, "debug"))
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.False(t, api.ApplyLevel(logger, "loud"))
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())

	fallback, err := api.NewLoggerFromConfig(&config.LogConfig{Level: "nonsense"})
	require.NoError(t, err)
	assert.Equal(t, logrus.InfoLevel, fallback.GetLevel())
}
