package logging

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zateckar/uptimo-sub000/internal/config"
)

func TestNewLogger(t *testing.T) {
	t.Run("json format", func(t *testing.T) {
		logger, err := NewLogger(&config.LoggingConfig{Level: "debug", Format: "json"})
		require.NoError(t, err)
		assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
		_, ok := logger.Formatter.(*logrus.JSONFormatter)
		assert.True(t, ok)
	})

	t.Run("text format", func(t *testing.T) {
		logger, err := NewLogger(&config.LoggingConfig{Level: "warn", Format: "text"})
		require.NoError(t, err)
		assert.Equal(t, logrus.WarnLevel, logger.GetLevel())
		_, ok := logger.Formatter.(*logrus.TextFormatter)
		assert.True(t, ok)
	})

	t.Run("invalid level rejected", func(t *testing.T) {
		_, err := NewLogger(&config.LoggingConfig{Level: "loud", Format: "json"})
		assert.Error(t, err)
	})
}

func TestContextHelpers(t *testing.T) {
	logger, err := NewLogger(&config.LoggingConfig{Level: "info", Format: "json"})
	require.NoError(t, err)

	entry := logger.WithMonitor("mon-1", "api")
	assert.Equal(t, "mon-1", entry.Data["monitor_id"])
	assert.Equal(t, "api", entry.Data["monitor_name"])

	entry = logger.WithComponent("scheduler")
	assert.Equal(t, "scheduler", entry.Data["component"])

	entry = logger.WithDuration(1500 * time.Millisecond)
	assert.Equal(t, int64(1500), entry.Data["duration_ms"])
}
