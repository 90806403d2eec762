// Package logging provides structured logging setup for telebridge.
package logging

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"telebridge/internal/config"
)

const serviceName = "telebridge"

var baseLogger *logrus.Entry

// Context captures common optional fields to attach to log entries.
type Context struct {
	ChatID string
	Method string
	Event  string
}

// Fields is a shorthand alias for structured log fields.
type Fields = logrus.Fields

// Setup configures the global logger using the provided runtime configuration.
// It applies environment-specific formatting, log level, and default fields.
func Setup(cfg config.Config) (*logrus.Entry, error) {
	level, err := parseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(formatterForEnv(cfg.AppEnv))

	baseLogger = logger.WithFields(logrus.Fields{
		"service": serviceName,
		"env":     cfg.AppEnv,
	})

	return baseLogger, nil
}

// WithContext enriches logger (the base logger when nil) with the contextual
// fields that are set.
func WithContext(logger *logrus.Entry, ctx Context) *logrus.Entry {
	fields := logrus.Fields{}

	if chatID := strings.TrimSpace(ctx.ChatID); chatID != "" {
		fields["chat_id"] = chatID
	}
	if ctx.Method != "" {
		fields["method"] = ctx.Method
	}
	if event := strings.TrimSpace(ctx.Event); event != "" {
		fields["event"] = event
	}

	entry := OrDefault(logger)
	if len(fields) == 0 {
		return entry
	}
	return entry.WithFields(fields)
}

// Error logs an error message with optional structured fields.
func Error(msg string, fields logrus.Fields) {
	logWithFields(fields).Error(msg)
}

// OrDefault returns logger, or the base logger when logger is nil.
func OrDefault(logger *logrus.Entry) *logrus.Entry {
	if logger == nil {
		return ensureLogger()
	}
	return logger
}

func logWithFields(fields logrus.Fields) *logrus.Entry {
	entry := ensureLogger()
	if len(fields) == 0 {
		return entry
	}

	return entry.WithFields(fields)
}

func ensureLogger() *logrus.Entry {
	if baseLogger != nil {
		return baseLogger
	}

	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)
	logger.SetFormatter(formatterForEnv(config.DefaultAppEnv))

	baseLogger = logger.WithFields(logrus.Fields{
		"service": serviceName,
		"env":     config.DefaultAppEnv,
	})

	return baseLogger
}

func formatterForEnv(appEnv string) logrus.Formatter {
	fieldMap := logrus.FieldMap{
		logrus.FieldKeyTime:  "ts",
		logrus.FieldKeyMsg:   "msg",
		logrus.FieldKeyLevel: "level",
	}

	if appEnv == config.EnvDevelopment {
		return &logrus.TextFormatter{
			FullTimestamp:          true,
			TimestampFormat:        time.RFC3339Nano,
			FieldMap:               fieldMap,
			DisableLevelTruncation: true,
		}
	}

	return &logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
		FieldMap:        fieldMap,
	}
}

func parseLevel(value string) (logrus.Level, error) {
	level, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(value)))
	if err != nil {
		return logrus.InfoLevel, fmt.Errorf("invalid log level %q: %w", value, err)
	}

	return level, nil
}

// resetLogger clears the cached logger; used in tests.
func resetLogger() {
	baseLogger = nil
}
