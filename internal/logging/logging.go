// Package logging builds the service's structured loggers
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/hibiken/asynq"
)

// New creates the root logger. JSON output is used outside development.
func New(name, level, env string) hclog.Logger {
	return NewWithOutput(name, level, env, os.Stderr)
}

// NewWithOutput is New writing to w
func NewWithOutput(name, level, env string, w io.Writer) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:            name,
		Level:           hclog.LevelFromString(level),
		Output:          w,
		JSONFormat:      env != "" && env != "development",
		IncludeLocation: false,
	})
}

// AsynqLevel maps a log level string to the queue server's level
func AsynqLevel(level string) asynq.LogLevel {
	switch strings.ToLower(level) {
	case "debug", "trace":
		return asynq.DebugLevel
	case "warn":
		return asynq.WarnLevel
	case "error":
		return asynq.ErrorLevel
	default:
		return asynq.InfoLevel
	}
}

// AsynqLogger adapts an hclog.Logger to asynq.Logger
type AsynqLogger struct {
	logger hclog.Logger
}

// NewAsynqLogger wraps logger for the asynq server
func NewAsynqLogger(logger hclog.Logger) *AsynqLogger {
	return &AsynqLogger{logger: logger}
}

func (l *AsynqLogger) Debug(args ...interface{}) { l.logger.Debug(fmt.Sprint(args...)) }
func (l *AsynqLogger) Info(args ...interface{})  { l.logger.Info(fmt.Sprint(args...)) }
func (l *AsynqLogger) Warn(args ...interface{})  { l.logger.Warn(fmt.Sprint(args...)) }
func (l *AsynqLogger) Error(args ...interface{}) { l.logger.Error(fmt.Sprint(args...)) }

// Fatal logs and exits, as asynq expects
func (l *AsynqLogger) Fatal(args ...interface{}) {
	l.logger.Error(fmt.Sprint(args...))
	os.Exit(1)
}
