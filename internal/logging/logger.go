// Package logging provides structured logging capabilities for the webchat client.
// It implements a centralized logging strategy with configurable log levels and output formats.
package logging

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
)

// LogLevel represents the severity of log messages
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// String returns the string representation of the log level
func (l LogLevel) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a level name from configuration into a LogLevel
func ParseLevel(name string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "DEBUG":
		return DebugLevel
	case "WARN", "WARNING":
		return WarnLevel
	case "ERROR":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// Logger provides structured logging with context support
type Logger struct {
	logger    *slog.Logger
	level     LogLevel
	component string
}

// Config represents logging configuration
type Config struct {
	Level     LogLevel
	Format    string // "json" or "text"
	Output    string // "stdout", "stderr", or file path
	Component string
}

// DefaultConfig returns a sensible default logging configuration
func DefaultConfig() Config {
	return Config{
		Level:     InfoLevel,
		Format:    "text",
		Output:    "stderr",
		Component: "webchat",
	}
}

// sensitiveKeys lists attribute keys whose values never reach the log output.
// The protocol's credential strings grant full account access, so everything
// the server issues during the handshake is redacted alongside the usual
// password-shaped keys.
var sensitiveKeys = []string{"token", "password", "skey", "sid", "pass_ticket", "passticket", "cookie"}

// NewLogger creates a new logger with the specified configuration
func NewLogger(config Config) (*Logger, error) {
	var handler slog.Handler

	// Determine output destination
	var output *os.File
	switch config.Output {
	case "stderr", "":
		output = os.Stderr
	case "stdout":
		output = os.Stdout
	default:
		// File output
		file, err := os.OpenFile(config.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", config.Output, err)
		}
		output = file
	}

	// Create appropriate handler based on format
	opts := &slog.HandlerOptions{
		Level: slogLevel(config.Level),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			key := strings.ToLower(a.Key)
			for _, s := range sensitiveKeys {
				if strings.Contains(key, s) {
					return slog.String(a.Key, "[REDACTED]")
				}
			}
			return a
		},
	}

	switch config.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	logger := slog.New(handler)

	return &Logger{
		logger:    logger,
		level:     config.Level,
		component: config.Component,
	}, nil
}

// slogLevel converts our LogLevel to slog.Level
func slogLevel(level LogLevel) slog.Level {
	switch level {
	case DebugLevel:
		return slog.LevelDebug
	case InfoLevel:
		return slog.LevelInfo
	case WarnLevel:
		return slog.LevelWarn
	case ErrorLevel:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithComponent creates a new logger for a specific component
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		logger:    l.logger.With(slog.String("component", component)),
		level:     l.level,
		component: component,
	}
}

// WithField adds a field to the logger context
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{
		logger:    l.logger.With(slog.Any(key, value)),
		level:     l.level,
		component: l.component,
	}
}

// Debug logs a debug level message
func (l *Logger) Debug(msg string, args ...interface{}) {
	if l.level <= DebugLevel {
		l.logger.Debug(msg, args...)
	}
}

// Info logs an info level message
func (l *Logger) Info(msg string, args ...interface{}) {
	if l.level <= InfoLevel {
		l.logger.Info(msg, args...)
	}
}

// Warn logs a warning level message
func (l *Logger) Warn(msg string, args ...interface{}) {
	if l.level <= WarnLevel {
		l.logger.Warn(msg, args...)
	}
}

// Error logs an error level message
func (l *Logger) Error(msg string, args ...interface{}) {
	if l.level <= ErrorLevel {
		l.logger.Error(msg, args...)
	}
}

// LogHandshakeStage logs progress through the login handshake
func (l *Logger) LogHandshakeStage(stage int, name string) {
	l.Info("Login handshake stage",
		slog.Int("stage", stage),
		slog.String("name", name))
}

// LogHTTPRequest logs HTTP request details (without sensitive data)
func (l *Logger) LogHTTPRequest(method string, url string, statusCode int, duration time.Duration) {
	l.Debug("HTTP request completed",
		slog.String("method", method),
		slog.String("url", url),
		slog.Int("status_code", statusCode),
		slog.Duration("duration", duration))
}

// LogSyncTick logs one sync-check round trip result
func (l *Logger) LogSyncTick(retcode, selector int, duration time.Duration) {
	l.Debug("Sync check completed",
		slog.Int("retcode", retcode),
		slog.Int("selector", selector),
		slog.Duration("duration", duration))
}

// LogMediaFetch logs the outcome of an asynchronous media fetch
func (l *Logger) LogMediaFetch(msgID string, size int, err error) {
	if err != nil {
		l.Warn("Media fetch failed",
			slog.String("msg_id", msgID),
			slog.String("error", err.Error()))
		return
	}
	l.Debug("Media fetch completed",
		slog.String("msg_id", msgID),
		slog.Int("bytes", size))
}

// Global logger instance
var globalLogger *Logger

// InitGlobalLogger initializes the global logger with the specified configuration
func InitGlobalLogger(config Config) error {
	logger, err := NewLogger(config)
	if err != nil {
		return fmt.Errorf("failed to initialize global logger: %w", err)
	}
	globalLogger = logger
	return nil
}

// GetGlobalLogger returns the global logger instance
func GetGlobalLogger() *Logger {
	if globalLogger == nil {
		// Fallback to default configuration if not initialized
		globalLogger, _ = NewLogger(DefaultConfig())
	}
	return globalLogger
}

// Component-specific logger creators
func GetSessionLogger() *Logger {
	return GetGlobalLogger().WithComponent("session")
}

func GetLoginLogger() *Logger {
	return GetGlobalLogger().WithComponent("login")
}

func GetSyncLogger() *Logger {
	return GetGlobalLogger().WithComponent("sync")
}

func GetDispatchLogger() *Logger {
	return GetGlobalLogger().WithComponent("dispatch")
}

func GetTransportLogger() *Logger {
	return GetGlobalLogger().WithComponent("transport")
}

func GetMediaLogger() *Logger {
	return GetGlobalLogger().WithComponent("media")
}

func GetConfigLogger() *Logger {
	return GetGlobalLogger().WithComponent("config")
}

func GetUILogger() *Logger {
	return GetGlobalLogger().WithComponent("ui")
}
