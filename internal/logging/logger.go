package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	charmlog "github.com/charmbracelet/log"
)

// Logger wraps slog with helpers for the events a check run emits.
type Logger struct {
	*slog.Logger
}

type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel maps a level name to a LogLevel, defaulting to info
func ParseLevel(name string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

type Config struct {
	Level  LogLevel
	Format string // "json", "text" or "pretty"
	Output io.Writer
}

// NewLogger picks a handler by Format. Unknown formats fall back to text.
func NewLogger(config Config) *Logger {
	output := config.Output
	if output == nil {
		output = os.Stdout
	}

	var handler slog.Handler
	switch config.Format {
	case "json":
		handler = slog.NewJSONHandler(output, &slog.HandlerOptions{Level: slogLevel(config.Level)})
	case "pretty":
		// charmbracelet/log implements slog.Handler directly
		handler = charmlog.NewWithOptions(output, charmlog.Options{
			Level:           charmLevel(config.Level),
			ReportTimestamp: true,
			TimeFormat:      time.Kitchen,
		})
	default:
		handler = slog.NewTextHandler(output, &slog.HandlerOptions{Level: slogLevel(config.Level)})
	}

	return &Logger{
		Logger: slog.New(handler),
	}
}

var levels = map[LogLevel]struct {
	slog  slog.Level
	charm charmlog.Level
}{
	LevelDebug: {slog.LevelDebug, charmlog.DebugLevel},
	LevelInfo:  {slog.LevelInfo, charmlog.InfoLevel},
	LevelWarn:  {slog.LevelWarn, charmlog.WarnLevel},
	LevelError: {slog.LevelError, charmlog.ErrorLevel},
}

func slogLevel(level LogLevel) slog.Level {
	if l, ok := levels[level]; ok {
		return l.slog
	}
	return slog.LevelInfo
}

func charmLevel(level LogLevel) charmlog.Level {
	if l, ok := levels[level]; ok {
		return l.charm
	}
	return charmlog.InfoLevel
}

// GetDefaultLogger logs text at info level to stdout
func GetDefaultLogger() *Logger {
	return NewLogger(Config{
		Level:  LevelInfo,
		Format: "text",
		Output: os.Stdout,
	})
}

// Discard returns a logger that drops everything
func Discard() *Logger {
	return NewLogger(Config{Output: io.Discard})
}

func (l *Logger) WithContext(args ...any) *Logger {
	return &Logger{
		Logger: l.With(args...),
	}
}

func (l *Logger) WithWorker(workerID int) *Logger {
	return l.WithContext("worker", workerID)
}

func (l *Logger) WithProxy(proxy string) *Logger {
	return l.WithContext("proxy", proxy)
}

func (l *Logger) ConfigLoaded(file string) {
	l.Info("Configuration loaded", "file", file)
}

func (l *Logger) ConfigNotFound(file string) {
	l.Warn("Config file not found, using defaults", "file", file)
}

// ConfigReloaded logs a hot reload
func (l *Logger) ConfigReloaded(file string) {
	l.Info("Configuration reloaded", "file", file)
}

func (l *Logger) ProxiesLoaded(count int, file string) {
	l.Info("Proxies loaded", "count", count, "file", file)
}

// CheckStart logs the start of a batch
func (l *Logger) CheckStart(total int, concurrency int) {
	l.Info("Starting proxy checks", "total", total, "concurrency", concurrency)
}

// CheckComplete logs the end of a batch
func (l *Logger) CheckComplete(checked int, elapsed time.Duration) {
	l.Info("Proxy checking complete", "checked", checked, "elapsed", elapsed.Round(time.Millisecond))
}

// ProxyWorking logs a working proxy
func (l *Logger) ProxyWorking(proxy string, ssl bool, protocols []string, anonymity string) {
	l.WithProxy(proxy).Info("Proxy working",
		"ssl", ssl,
		"protocols", strings.Join(protocols, ","),
		"anonymity", anonymity,
	)
}

// ProxyDead logs at debug level
func (l *Logger) ProxyDead(proxy string, reason string) {
	logger := l.WithProxy(proxy)
	if reason != "" {
		logger = logger.WithContext("reason", reason)
	}
	logger.Debug("Proxy not working")
}

func (l *Logger) WorkerStart(workerID int) {
	l.WithWorker(workerID).Debug("Worker started")
}

func (l *Logger) WorkerStop(workerID int) {
	l.WithWorker(workerID).Debug("Worker stopped")
}

func (l *Logger) ShutdownReceived() {
	l.Info("Shutdown signal received, cleaning up...")
}

func (l *Logger) ShutdownComplete() {
	l.Info("Shutdown complete")
}

// ResultsSaved is logged once per written output file
func (l *Logger) ResultsSaved(file string, format string) {
	l.Info("Results saved", "file", file, "format", format)
}

func (l *Logger) SummaryStats(total, working, ssl int, successRate float64) {
	l.Info("Summary statistics",
		"total_proxies", total,
		"working_proxies", working,
		"ssl_proxies", ssl,
		"success_rate_percent", successRate,
	)
}
