// Package log 提供统一的日志接口和实现
// 支持依赖注入，便于测试时替换
package log

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"letmego-core/internal/config/schema"
)

// Logger 日志接口
// 所有组件应通过此接口记录日志，而非直接使用全局函数
type Logger interface {
	Debug(args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})

	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})

	WithField(key string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
	WithError(err error) Logger
	WithContext(ctx context.Context) Logger
}

// ============================================================================
// logrusLogger
// ============================================================================

type logrusLogger struct {
	entry *logrus.Entry
}

// NewLogrusLogger 创建基于 logrus 的 Logger
func NewLogrusLogger(l *logrus.Logger) Logger {
	return &logrusLogger{entry: logrus.NewEntry(l)}
}

func (l *logrusLogger) Debug(args ...interface{}) { l.entry.Debug(args...) }
func (l *logrusLogger) Info(args ...interface{})  { l.entry.Info(args...) }
func (l *logrusLogger) Warn(args ...interface{})  { l.entry.Warn(args...) }
func (l *logrusLogger) Error(args ...interface{}) { l.entry.Error(args...) }

func (l *logrusLogger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *logrusLogger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *logrusLogger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *logrusLogger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

func (l *logrusLogger) WithField(key string, value interface{}) Logger {
	return &logrusLogger{entry: l.entry.WithField(key, value)}
}

func (l *logrusLogger) WithFields(fields map[string]interface{}) Logger {
	return &logrusLogger{entry: l.entry.WithFields(logrus.Fields(fields))}
}

func (l *logrusLogger) WithError(err error) Logger {
	return &logrusLogger{entry: l.entry.WithError(err)}
}

func (l *logrusLogger) WithContext(ctx context.Context) Logger {
	return &logrusLogger{entry: l.entry.WithContext(ctx)}
}

// ============================================================================
// NopLogger
// ============================================================================

// NopLogger 静默日志，不输出任何内容
type NopLogger struct{}

func (NopLogger) Debug(args ...interface{})                         {}
func (NopLogger) Info(args ...interface{})                          {}
func (NopLogger) Warn(args ...interface{})                          {}
func (NopLogger) Error(args ...interface{})                         {}
func (NopLogger) Debugf(format string, args ...interface{})         {}
func (NopLogger) Infof(format string, args ...interface{})          {}
func (NopLogger) Warnf(format string, args ...interface{})          {}
func (NopLogger) Errorf(format string, args ...interface{})         {}
func (n NopLogger) WithField(key string, value interface{}) Logger  { return n }
func (n NopLogger) WithFields(fields map[string]interface{}) Logger { return n }
func (n NopLogger) WithError(err error) Logger                      { return n }
func (n NopLogger) WithContext(ctx context.Context) Logger          { return n }

// NewNopLogger 创建静默日志
func NewNopLogger() Logger {
	return NopLogger{}
}

// ============================================================================
// TestLogger（输出到 testing.T）
// ============================================================================

// TestingT 测试接口（兼容 *testing.T）
type TestingT interface {
	Log(args ...interface{})
	Logf(format string, args ...interface{})
}

// TestLogger 测试日志
type TestLogger struct {
	t      TestingT
	prefix string
}

// NewTestLogger 创建测试日志
func NewTestLogger(t TestingT) Logger {
	return &TestLogger{t: t}
}

func (l *TestLogger) Debug(args ...interface{}) { l.log("DEBUG", args...) }
func (l *TestLogger) Info(args ...interface{})  { l.log("INFO", args...) }
func (l *TestLogger) Warn(args ...interface{})  { l.log("WARN", args...) }
func (l *TestLogger) Error(args ...interface{}) { l.log("ERROR", args...) }

func (l *TestLogger) Debugf(format string, args ...interface{}) { l.logf("DEBUG", format, args...) }
func (l *TestLogger) Infof(format string, args ...interface{})  { l.logf("INFO", format, args...) }
func (l *TestLogger) Warnf(format string, args ...interface{})  { l.logf("WARN", format, args...) }
func (l *TestLogger) Errorf(format string, args ...interface{}) { l.logf("ERROR", format, args...) }

func (l *TestLogger) log(level string, args ...interface{}) {
	l.t.Log(append([]interface{}{"[" + level + "]" + l.prefix}, args...)...)
}

func (l *TestLogger) logf(level, format string, args ...interface{}) {
	l.t.Logf("["+level+"]"+l.prefix+" "+format, args...)
}

func (l *TestLogger) WithField(key string, value interface{}) Logger {
	return &TestLogger{t: l.t, prefix: l.prefix + " " + key + "=" + toString(value)}
}

func (l *TestLogger) WithFields(fields map[string]interface{}) Logger {
	prefix := l.prefix
	for k, v := range fields {
		prefix += " " + k + "=" + toString(v)
	}
	return &TestLogger{t: l.t, prefix: prefix}
}

func (l *TestLogger) WithError(err error) Logger {
	return l.WithField("error", err)
}

func (l *TestLogger) WithContext(ctx context.Context) Logger {
	return l
}

func toString(v interface{}) string {
	return fmt.Sprint(v)
}

// ============================================================================
// 默认 Logger 管理
// ============================================================================

var (
	defaultLogger     Logger
	defaultLoggerOnce sync.Once
	defaultLoggerMu   sync.RWMutex
	currentLogFile    *os.File
)

func initDefaultLogger() {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{
		TimestampFormat: time.RFC3339,
		FullTimestamp:   true,
	})
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.InfoLevel)
	defaultLogger = NewLogrusLogger(l)
}

// Default 获取默认 Logger
func Default() Logger {
	defaultLoggerOnce.Do(initDefaultLogger)
	defaultLoggerMu.RLock()
	defer defaultLoggerMu.RUnlock()
	return defaultLogger
}

// SetDefault 设置默认 Logger
func SetDefault(l Logger) {
	defaultLoggerOnce.Do(initDefaultLogger)
	defaultLoggerMu.Lock()
	defer defaultLoggerMu.Unlock()
	defaultLogger = l
}

// Configure 按配置创建 logrus Logger 并设为默认
func Configure(cfg schema.LogConfig) (Logger, error) {
	l := logrus.New()

	level, err := logrus.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	if strings.EqualFold(cfg.Format, "json") {
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		l.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	}

	writers := make([]io.Writer, 0, 2)
	if cfg.Console {
		writers = append(writers, os.Stderr)
	}

	defaultLoggerMu.Lock()
	if currentLogFile != nil {
		currentLogFile.Close()
		currentLogFile = nil
	}
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			defaultLoggerMu.Unlock()
			return nil, err
		}
		currentLogFile = f
		writers = append(writers, f)
	}
	defaultLoggerMu.Unlock()

	switch len(writers) {
	case 0:
		l.SetOutput(io.Discard)
	case 1:
		l.SetOutput(writers[0])
	default:
		l.SetOutput(io.MultiWriter(writers...))
	}

	logger := NewLogrusLogger(l)
	SetDefault(logger)
	return logger, nil
}
