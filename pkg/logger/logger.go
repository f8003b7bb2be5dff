// Package logger provides the structured logger shared by every plugman package.
package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// LogLevel 日志级别
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

var logrusLevels = map[LogLevel]logrus.Level{
	DebugLevel: logrus.DebugLevel,
	InfoLevel:  logrus.InfoLevel,
	WarnLevel:  logrus.WarnLevel,
	ErrorLevel: logrus.ErrorLevel,
	FatalLevel: logrus.FatalLevel,
}

// Fields 日志字段类型
type Fields map[string]any

// Logger 日志接口
type Logger interface {
	Debug(msg string, fields ...Fields)
	Info(msg string, fields ...Fields)
	Warn(msg string, fields ...Fields)
	Error(msg string, fields ...Fields)
	Fatal(msg string, fields ...Fields)

	WithField(key string, value any) Logger
	WithFields(fields Fields) Logger
	WithContext(ctx context.Context) Logger
	WithError(err error) Logger

	SetLevel(level LogLevel)
	SetOutput(w io.Writer)
}

type contextKey string

// Context keys picked up by WithContext.
const (
	OperationIDKey contextKey = "operation_id"
	PluginKey      contextKey = "plugin"
)

// StandardLogger wraps a logrus entry.
type StandardLogger struct {
	base  *logrus.Logger
	entry *logrus.Entry
}

var (
	globalLogger *StandardLogger
	once         sync.Once
)

// Init 初始化全局日志
func Init() {
	once.Do(func() {
		globalLogger = newStandardLogger()
		configureFromEnv(globalLogger)
	})
}

func newStandardLogger() *StandardLogger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})
	return &StandardLogger{base: l, entry: logrus.NewEntry(l)}
}

func configureFromEnv(l *StandardLogger) {
	if level := os.Getenv("PLUGMAN_LOG_LEVEL"); level != "" {
		l.SetLevel(ParseLevel(level))
	}

	if format := os.Getenv("PLUGMAN_LOG_FORMAT"); format == "json" {
		l.base.SetFormatter(&logrus.JSONFormatter{})
	}

	if os.Getenv("PLUGMAN_LOG_CALLER") == "true" {
		l.base.SetReportCaller(true)
	}

	if logFile := os.Getenv("PLUGMAN_LOG_FILE"); logFile != "" {
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err == nil {
			l.SetOutput(file)
		}
	}
}

// ParseLevel maps a level name to a LogLevel, defaulting to InfoLevel.
func ParseLevel(level string) LogLevel {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return DebugLevel
	case "WARN", "WARNING":
		return WarnLevel
	case "ERROR":
		return ErrorLevel
	case "FATAL":
		return FatalLevel
	default:
		return InfoLevel
	}
}

// GetLogger 获取全局日志实例
func GetLogger() Logger {
	Init()
	return globalLogger
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() Logger {
	l := newStandardLogger()
	l.base.SetOutput(io.Discard)
	return l
}

func (l *StandardLogger) SetLevel(level LogLevel) {
	l.base.SetLevel(logrusLevels[level])
}

func (l *StandardLogger) SetOutput(w io.Writer) {
	l.base.SetOutput(w)
}

func (l *StandardLogger) WithField(key string, value any) Logger {
	return &StandardLogger{base: l.base, entry: l.entry.WithField(key, value)}
}

func (l *StandardLogger) WithFields(fields Fields) Logger {
	return &StandardLogger{base: l.base, entry: l.entry.WithFields(logrus.Fields(fields))}
}

// WithContext copies operation and plugin identifiers out of ctx.
func (l *StandardLogger) WithContext(ctx context.Context) Logger {
	if ctx == nil {
		return l
	}
	fields := logrus.Fields{}
	if v := ctx.Value(OperationIDKey); v != nil {
		fields[string(OperationIDKey)] = v
	}
	if v := ctx.Value(PluginKey); v != nil {
		fields[string(PluginKey)] = v
	}
	return &StandardLogger{base: l.base, entry: l.entry.WithContext(ctx).WithFields(fields)}
}

func (l *StandardLogger) WithError(err error) Logger {
	if err == nil {
		return l
	}
	return &StandardLogger{base: l.base, entry: l.entry.WithError(err)}
}

func (l *StandardLogger) Debug(msg string, fields ...Fields) {
	l.with(fields).Debug(msg)
}

func (l *StandardLogger) Info(msg string, fields ...Fields) {
	l.with(fields).Info(msg)
}

func (l *StandardLogger) Warn(msg string, fields ...Fields) {
	l.with(fields).Warn(msg)
}

func (l *StandardLogger) Error(msg string, fields ...Fields) {
	l.with(fields).Error(msg)
}

func (l *StandardLogger) Fatal(msg string, fields ...Fields) {
	l.with(fields).Fatal(msg)
}

func (l *StandardLogger) with(extra []Fields) *logrus.Entry {
	if len(extra) == 0 {
		return l.entry
	}
	merged := logrus.Fields{}
	for _, f := range extra {
		for k, v := range f {
			merged[k] = v
		}
	}
	return l.entry.WithFields(merged)
}

// 全局便捷方法
func Debug(msg string, fields ...Fields) {
	GetLogger().Debug(msg, fields...)
}

func Info(msg string, fields ...Fields) {
	GetLogger().Info(msg, fields...)
}

func Warn(msg string, fields ...Fields) {
	GetLogger().Warn(msg, fields...)
}

func Error(msg string, fields ...Fields) {
	GetLogger().Error(msg, fields...)
}

func Fatal(msg string, fields ...Fields) {
	GetLogger().Fatal(msg, fields...)
}

func WithField(key string, value any) Logger {
	return GetLogger().WithField(key, value)
}

func WithFields(fields Fields) Logger {
	return GetLogger().WithFields(fields)
}

func WithContext(ctx context.Context) Logger {
	return GetLogger().WithContext(ctx)
}

func WithError(err error) Logger {
	return GetLogger().WithError(err)
}
