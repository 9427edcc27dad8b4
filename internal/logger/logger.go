package logger

import (
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// root logger
var log atomic.Pointer[Logger]

// ValidLogLevels is the set of log level strings NewLogger and the
// configuration layer accept.
var ValidLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// LoggingConfig is the subset of pkg/config.LoggingConfig that
// NewComponentLoggerFromConfig needs, kept as an interface here so this
// package never imports pkg/config.
type LoggingConfig interface {
	GetComponentLevel(component string) string
	GetDefaultLevel() string
	IsDevelopment() bool
}

// Logger wraps zap.SugaredLogger to provide a consistent logging interface across the project.
// It provides both structured logging (with fields) and printf-style logging methods.
type Logger struct {
	*zap.SugaredLogger
	component   string
	atomicLevel zap.AtomicLevel
}

// NewLogger creates a new logger with the specified configuration.
// level can be "debug", "info", "warn", "error"
// development mode enables stack traces and uses console encoder
func NewLogger(level string, development bool) (*Logger, error) {
	var config zap.Config

	if development {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
	}

	// Parse log level
	zapLevel, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	atomicLevel := zap.NewAtomicLevelAt(zapLevel)
	config.Level = atomicLevel

	// Build logger
	zapLogger, err := config.Build()
	if err != nil {
		return nil, err
	}

	return &Logger{SugaredLogger: zapLogger.Sugar(), atomicLevel: atomicLevel}, nil
}

// NewNopLogger creates a no-op logger that discards all logs.
// Useful for testing.
func NewNopLogger() *Logger {
	return &Logger{SugaredLogger: zap.NewNop().Sugar(), atomicLevel: zap.NewAtomicLevel()}
}

// WithComponent creates a child logger with a component name field.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{SugaredLogger: l.With("component", component), component: component, atomicLevel: l.atomicLevel}
}

// GetComponent returns the component name this logger was tagged with,
// or the empty string if none.
func (l *Logger) GetComponent() string {
	return l.component
}

// GetLevel returns the current log level.
func (l *Logger) GetLevel() string {
	return l.atomicLevel.Level().String()
}

// SetLevel changes the log level dynamically. It affects this logger and
// every logger sharing the same underlying atomic level (e.g. loggers
// created via WithComponent).
func (l *Logger) SetLevel(level string) error {
	zapLevel, err := zapcore.ParseLevel(level)
	if err != nil {
		return err
	}
	l.atomicLevel.SetLevel(zapLevel)
	return nil
}

// Close flushes any buffered log entries.
func (l *Logger) Close() error {
	return l.Sync()
}

// NewComponentLogger builds a logger at level and tags it with
// component. It panics if level is not a valid log level.
func NewComponentLogger(component, level string, development bool) *Logger {
	base, err := NewLogger(level, development)
	if err != nil {
		panic(fmt.Sprintf("logger: build component logger for %q: %v", component, err))
	}
	return base.WithComponent(component)
}

// NewComponentLoggerFromConfig builds a component-scoped logger using
// cfg's per-component level override (falling back to its default
// level) and development flag. A nil cfg gets info-level, non-dev
// defaults, the same as an empty LoggingConfig.
func NewComponentLoggerFromConfig(component string, cfg LoggingConfig) *Logger {
	level := "info"
	development := false

	if cfg != nil {
		level = cfg.GetComponentLevel(component)
		if level == "" {
			level = cfg.GetDefaultLevel()
		}
		development = cfg.IsDevelopment()
	}
	if level == "" || !ValidLogLevels[level] {
		level = "info"
	}

	base, err := NewLogger(level, development)
	if err != nil {
		panic(fmt.Sprintf("logger: build component logger for %q: %v", component, err))
	}
	return base.WithComponent(component)
}

func GetDefaultLogger() *Logger {
	l := log.Load()
	if l != nil {
		return l
	}
	// default level: debug
	zapLogger, err := NewLogger("debug", true)
	if err != nil {
		panic(err)
	}
	log.Store(zapLogger)
	return log.Load()
}
