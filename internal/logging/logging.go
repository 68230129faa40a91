// Package logging builds the structured logger every component in this
// module is handed explicitly at construction time, in place of reaching
// for a package-level global from library code.
package logging

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
)

// Config controls logger construction.
type Config struct {
	Level     string // "debug", "info", "warn", "error"
	Format    string // "json" or "text"
	Service   string
	AddCaller bool
}

// New builds a *logrus.Logger per Config.
func New(cfg Config) *logrus.Logger {
	logger := logrus.New()

	switch cfg.Level {
	case "debug":
		logger.SetLevel(logrus.DebugLevel)
	case "warn":
		logger.SetLevel(logrus.WarnLevel)
	case "error":
		logger.SetLevel(logrus.ErrorLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{TimestampFormat: time.RFC3339, FullTimestamp: true})
	}

	logger.SetReportCaller(cfg.AddCaller)
	return logger
}

// ContextLogger carries a fixed set of fields (run, article_id, version,
// component, ...) through a chain of log calls without re-deriving them at
// every call site.
type ContextLogger struct {
	logger *logrus.Logger
	fields logrus.Fields
}

// NewContextLogger wraps logger with an initial field set.
func NewContextLogger(logger *logrus.Logger, fields map[string]interface{}) *ContextLogger {
	base := make(logrus.Fields, len(fields))
	for k, v := range fields {
		base[k] = v
	}
	return &ContextLogger{logger: logger, fields: base}
}

// WithField returns a derived logger carrying one additional field.
func (cl *ContextLogger) WithField(key string, value interface{}) *ContextLogger {
	return cl.WithFields(map[string]interface{}{key: value})
}

// WithFields returns a derived logger carrying additional fields.
func (cl *ContextLogger) WithFields(fields map[string]interface{}) *ContextLogger {
	merged := make(logrus.Fields, len(cl.fields)+len(fields))
	for k, v := range cl.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &ContextLogger{logger: cl.logger, fields: merged}
}

func (cl *ContextLogger) WithError(err error) *ContextLogger {
	return cl.WithField("error", err.Error())
}

func (cl *ContextLogger) Debug(msg string) { cl.logger.WithFields(cl.fields).Debug(msg) }
func (cl *ContextLogger) Info(msg string)  { cl.logger.WithFields(cl.fields).Info(msg) }
func (cl *ContextLogger) Warn(msg string)  { cl.logger.WithFields(cl.fields).Warn(msg) }
func (cl *ContextLogger) Error(msg string) { cl.logger.WithFields(cl.fields).Error(msg) }

func (cl *ContextLogger) Debugf(format string, args ...interface{}) {
	cl.logger.WithFields(cl.fields).Debugf(format, args...)
}
func (cl *ContextLogger) Infof(format string, args ...interface{}) {
	cl.logger.WithFields(cl.fields).Infof(format, args...)
}
func (cl *ContextLogger) Warnf(format string, args ...interface{}) {
	cl.logger.WithFields(cl.fields).Warnf(format, args...)
}
func (cl *ContextLogger) Errorf(format string, args ...interface{}) {
	cl.logger.WithFields(cl.fields).Errorf(format, args...)
}

// LogDuration returns a func to be deferred at the top of an operation; it
// logs the elapsed time when called.
func LogDuration(logger *ContextLogger, operation string) func() {
	start := time.Now()
	return func() {
		d := time.Since(start)
		logger.WithFields(map[string]interface{}{
			"operation":   operation,
			"duration_ms": d.Milliseconds(),
		}).Info("operation completed")
	}
}

// Recover recovers a panic and logs it, returning whether one occurred.
func Recover(logger *ContextLogger) (recovered bool, msg string) {
	if r := recover(); r != nil {
		buf := make([]byte, 4096)
		n := runtime.Stack(buf, false)
		logger.WithFields(map[string]interface{}{
			"panic":      fmt.Sprintf("%v", r),
			"stacktrace": string(buf[:n]),
		}).Error("panic recovered")
		return true, fmt.Sprintf("%v", r)
	}
	return false, ""
}

// WithRunContext attaches run/article/version fields, the fields every
// monitor event and most log lines in this module carry.
func WithRunContext(ctx context.Context, logger *ContextLogger, run, articleID, version string) *ContextLogger {
	fields := map[string]interface{}{"run": run}
	if articleID != "" {
		fields["article_id"] = articleID
	}
	if version != "" {
		fields["version"] = version
	}
	return logger.WithFields(fields)
}
