package logging

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/zateckar/uptimo-sub000/internal/config"
)

// Logger wraps logrus with engine-specific field helpers.
type Logger struct {
	*logrus.Logger
}

// NewLogger creates a new logger instance based on configuration.
func NewLogger(cfg *config.LoggingConfig) (*Logger, error) {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %s: %w", cfg.Level, err)
	}
	logger.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	default:
		return nil, fmt.Errorf("unsupported log format: %s", cfg.Format)
	}

	logger.SetOutput(os.Stdout)

	return &Logger{Logger: logger}, nil
}

// WithMonitor adds monitor identity to log context.
func (l *Logger) WithMonitor(id, name string) *logrus.Entry {
	return l.WithFields(logrus.Fields{
		"monitor_id":   id,
		"monitor_name": name,
	})
}

// WithComponent adds component name to log context.
func (l *Logger) WithComponent(component string) *logrus.Entry {
	return l.WithField("component", component)
}

// WithDuration adds operation duration to log context.
func (l *Logger) WithDuration(duration time.Duration) *logrus.Entry {
	return l.WithField("duration_ms", duration.Milliseconds())
}
