// Package logger provides logging functionality for the application.
package logger

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Interface defines the logger interface.
type Interface interface {
	Debug(msg string, fields ...any)
	Info(msg string, fields ...any)
	Warn(msg string, fields ...any)
	Error(msg string, fields ...any)
	Fatal(msg string, fields ...any)
	With(fields ...any) Interface
	// Structured logging helpers
	WithComponent(component string) Interface
	WithRunID(runID string) Interface
	WithSpider(spider string) Interface
	WithDuration(duration time.Duration) Interface
	WithError(err error) Interface
	// Sync flushes any buffered log entries.
	Sync() error
}

// Logger implements the Interface.
type Logger struct {
	zapLogger *zap.Logger
}

var (
	// logLevels maps string levels to zapcore.Level
	logLevels = map[string]zapcore.Level{
		"debug": zapcore.DebugLevel,
		"info":  zapcore.InfoLevel,
		"warn":  zapcore.WarnLevel,
		"error": zapcore.ErrorLevel,
		"fatal": zapcore.FatalLevel,
	}

	// Common field keys
	fieldKeys = struct {
		Component string
		RunID     string
		Spider    string
		Duration  string
		Error     string
	}{
		Component: "component",
		RunID:     "run_id",
		Spider:    "spider",
		Duration:  "duration",
		Error:     "error",
	}
)

// Config represents the logger configuration.
type Config struct {
	// Level is the minimum logging level.
	Level string `yaml:"level"`
	// Development enables development mode (console encoding, colors).
	Development bool `yaml:"development"`
	// Encoding sets the logger's encoding ("console" or "json").
	Encoding string `yaml:"encoding"`
	// OutputPaths is a list of URLs or file paths to write logging output to.
	OutputPaths []string `yaml:"output_paths"`
}

// New creates a new logger instance.
func New(config *Config) (Interface, error) {
	// Set default values
	if config.Level == "" {
		config.Level = "info"
	}
	if config.Encoding == "" {
		config.Encoding = "console"
	}
	if len(config.OutputPaths) == 0 {
		config.OutputPaths = []string{"stdout"}
	}

	// Create encoder config
	encoderConfig := zap.NewDevelopmentEncoderConfig()
	if config.Development {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(t.Format("2006-01-02 15:04:05.000"))
		}
		encoderConfig.ConsoleSeparator = " | "
	} else {
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	encoderConfig.EncodeDuration = zapcore.StringDurationEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	// Create encoder
	var encoder zapcore.Encoder
	if config.Encoding == "json" {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	// Open output sinks (stdout, stderr, or file paths)
	sink, _, err := zap.Open(config.OutputPaths...)
	if err != nil {
		return nil, fmt.Errorf("failed to open log outputs: %w", err)
	}

	// Create core
	core := zapcore.NewCore(encoder, sink, getLogLevel(config.Level))

	// Create logger with options
	opts := []zap.Option{
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	}
	if config.Development {
		opts = append(opts, zap.Development())
	}

	return &Logger{zapLogger: zap.New(core, opts...)}, nil
}

// TeeToFile returns a logger that writes every entry to the file at path in
// addition to base's own outputs. A base without zap outputs (such as the
// no-op logger) yields a file-only logger, so per-run logs are captured even
// when console logging is off. The returned close function flushes and
// closes the file sink.
func TeeToFile(base Interface, path string) (Interface, func(), error) {
	sink, closeSink, err := zap.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeDuration = zapcore.StringDurationEncoder
	fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), sink, zapcore.DebugLevel)

	closeFn := func() {
		_ = fileCore.Sync()
		closeSink()
	}

	if l, ok := base.(*Logger); ok {
		tee := l.zapLogger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
			return zapcore.NewTee(core, fileCore)
		}))
		return &Logger{zapLogger: tee}, closeFn, nil
	}
	return &Logger{zapLogger: zap.New(fileCore)}, closeFn, nil
}

// getLogLevel converts a string level to zapcore.Level
func getLogLevel(level string) zapcore.Level {
	lvl, exists := logLevels[strings.ToLower(level)]
	if !exists {
		return zapcore.InfoLevel
	}
	return lvl
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...any) {
	l.zapLogger.Debug(msg, toZapFields(fields)...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...any) {
	l.zapLogger.Info(msg, toZapFields(fields)...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...any) {
	l.zapLogger.Warn(msg, toZapFields(fields)...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...any) {
	l.zapLogger.Error(msg, toZapFields(fields)...)
}

// Fatal logs a fatal message and exits.
func (l *Logger) Fatal(msg string, fields ...any) {
	l.zapLogger.Fatal(msg, toZapFields(fields)...)
}

// With creates a new logger with the given fields.
func (l *Logger) With(fields ...any) Interface {
	return &Logger{
		zapLogger: l.zapLogger.With(toZapFields(fields)...),
	}
}

// WithComponent adds a component name to the logger.
func (l *Logger) WithComponent(component string) Interface {
	return l.With(fieldKeys.Component, component)
}

// WithRunID adds a crawl run ID to the logger.
func (l *Logger) WithRunID(runID string) Interface {
	return l.With(fieldKeys.RunID, runID)
}

// WithSpider adds a spider name to the logger.
func (l *Logger) WithSpider(spider string) Interface {
	return l.With(fieldKeys.Spider, spider)
}

// WithDuration adds a duration to the logger.
func (l *Logger) WithDuration(duration time.Duration) Interface {
	return l.With(fieldKeys.Duration, duration)
}

// WithError adds an error to the logger.
func (l *Logger) WithError(err error) Interface {
	return l.With(fieldKeys.Error, err)
}

// Sync flushes any buffered log entries.
func (l *Logger) Sync() error {
	return l.zapLogger.Sync()
}

// toZapFields converts a list of any fields to zap.Field.
func toZapFields(fields []any) []zap.Field {
	if len(fields) == 0 {
		return nil
	}

	zapFields := make([]zap.Field, 0, len(fields))
	for i := 0; i < len(fields); i++ {
		switch field := fields[i].(type) {
		case zap.Field:
			// Already a zap.Field, use it directly
			zapFields = append(zapFields, field)
		case string:
			// A string is a key; the next element is its value
			if i+1 >= len(fields) {
				zapFields = append(zapFields, zap.Any(field, ErrInvalidFields))
				continue
			}
			zapFields = append(zapFields, zap.Any(field, fields[i+1]))
			i++
		default:
			zapFields = append(zapFields, zap.Any(fmt.Sprintf("field%d", i), field))
		}
	}
	return zapFields
}
