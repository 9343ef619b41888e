// Package logger provides structured logging utilities.
package logger

import (
	"os"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a wrapper around zap.Logger.
type Logger struct {
	*zap.Logger
}

// New creates a JSON logger writing to stdout at the given level.
// Unknown levels fall back to info.
func New(level string) (*Logger, error) {
	encoder := zap.NewProductionEncoderConfig()
	encoder.TimeKey = "ts"
	encoder.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder.EncodeDuration = zapcore.MillisDurationEncoder

	config := zap.Config{
		Level:            zap.NewAtomicLevelAt(parseLevel(level)),
		Encoding:         "json",
		EncoderConfig:    encoder,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
		Sampling: &zap.SamplingConfig{
			Initial:    100,
			Thereafter: 100,
		},
	}

	built, err := config.Build(zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		return nil, err
	}

	return &Logger{Logger: built}, nil
}

// NewDevelopment creates a console logger with colored levels.
func NewDevelopment() (*Logger, error) {
	config := zap.NewDevelopmentConfig()
	config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder

	built, err := config.Build()
	if err != nil {
		return nil, err
	}

	return &Logger{Logger: built}, nil
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// With creates a child logger with additional fields.
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{Logger: l.Logger.With(fields...)}
}

// Named creates a child logger for a component.
func (l *Logger) Named(component string) *Logger {
	return &Logger{Logger: l.Logger.Named(component)}
}

// WithContext creates a child logger carrying the request correlation id
// and, when known, the authenticated user.
func (l *Logger) WithContext(correlationID, userID string) *Logger {
	fields := []zap.Field{zap.String("correlation_id", correlationID)}
	if userID != "" {
		fields = append(fields, zap.String("user_id", userID))
	}
	return l.With(fields...)
}

// WithConnection creates a child logger for a socket connection.
func (l *Logger) WithConnection(connectionID, userID string) *Logger {
	return l.With(
		zap.String("connection_id", connectionID),
		zap.String("user_id", userID),
	)
}

func parseLevel(level string) zapcore.Level {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		level = "warn"
	}

	parsed, err := zapcore.ParseLevel(level)
	if err != nil || level == "" {
		return zapcore.InfoLevel
	}
	return parsed
}

var global atomic.Pointer[Logger]

func init() {
	var l *Logger
	if os.Getenv("ENV") == "development" {
		l, _ = NewDevelopment()
	} else {
		l, _ = New("info")
	}
	if l == nil {
		l = NewNop()
	}
	global.Store(l)
}

// Global returns the process-wide logger.
func Global() *Logger {
	return global.Load()
}

// SetGlobal replaces the process-wide logger.
func SetGlobal(l *Logger) {
	global.Store(l)
}
