package logging

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"
)

// LogLevel 日志级别
type LogLevel int

const (
	LogLevelTrace LogLevel = iota
	LogLevelDebug
	LogLevelInfo
	LogLevelWarn
	LogLevelError
	LogLevelFatal
)

var levelNames = [...]string{
	LogLevelTrace: "TRACE",
	LogLevelDebug: "DEBUG",
	LogLevelInfo:  "INFO",
	LogLevelWarn:  "WARN",
	LogLevelError: "ERROR",
	LogLevelFatal: "FATAL",
}

// 解析时额外接受的别名
var levelAliases = map[string]LogLevel{
	"":        LogLevelInfo,
	"warning": LogLevelWarn,
}

func (l LogLevel) String() string {
	if l < LogLevelTrace || int(l) >= len(levelNames) {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// ParseLogLevel 解析日志级别，大小写不敏感
func ParseLogLevel(s string) (LogLevel, error) {
	key := strings.TrimSpace(s)
	for i, name := range levelNames {
		if strings.EqualFold(name, key) {
			return LogLevel(i), nil
		}
	}
	if level, ok := levelAliases[strings.ToLower(key)]; ok {
		return level, nil
	}
	return LogLevelInfo, fmt.Errorf("logging: unknown level %q", s)
}

// UnmarshalText 允许在配置文件中写 "debug" 之类的级别名
func (l *LogLevel) UnmarshalText(text []byte) error {
	level, err := ParseLogLevel(string(text))
	if err != nil {
		return err
	}
	*l = level
	return nil
}

func (l LogLevel) MarshalText() ([]byte, error) {
	return []byte(strings.ToLower(l.String())), nil
}

// Field 日志字段
type Field struct {
	Key   string
	Value any
}

// Err 错误字段
func Err(err error) Field {
	return Field{Key: "error", Value: err}
}

// LogEntry 一条待输出的日志
type LogEntry struct {
	Time     time.Time
	Level    LogLevel
	Category string
	Message  string
	Fields   []Field
}

// Formatter 把日志条目编码成一行输出
type Formatter interface {
	Format(entry *LogEntry) ([]byte, error)
}

// Logger 日志接口
type Logger interface {
	Trace(msg string, fields ...Field)
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	Fatal(msg string, fields ...Field)
	Log(level LogLevel, msg string, fields ...Field)
	WithFields(fields ...Field) Logger
	WithCategory(category string) Logger
}

// LoggerFactory 按类别创建 Logger，级别调整对已创建的 Logger 立即生效
type LoggerFactory interface {
	CreateLogger(category string) Logger
	AddProvider(provider LoggerProvider)
	SetMinimumLevel(level LogLevel)
	// Close 关闭所有需要释放资源的提供者
	Close() error
}

// LoggerProvider 日志输出端
type LoggerProvider interface {
	CreateLogger(category string) Logger
	SetMinimumLevel(level LogLevel)
}

type loggerFactory struct {
	mu        sync.RWMutex
	providers []LoggerProvider
	gate      *levelGate
}

func newLoggerFactory(level LogLevel) *loggerFactory {
	return &loggerFactory{gate: newLevelGate(level)}
}

func (f *loggerFactory) CreateLogger(category string) Logger {
	f.mu.RLock()
	defer f.mu.RUnlock()

	loggers := make([]Logger, len(f.providers))
	for i, provider := range f.providers {
		loggers[i] = provider.CreateLogger(category)
	}
	return &fanoutLogger{loggers: loggers, gate: f.gate}
}

func (f *loggerFactory) AddProvider(provider LoggerProvider) {
	f.mu.Lock()
	defer f.mu.Unlock()
	provider.SetMinimumLevel(f.gate.get())
	f.providers = append(f.providers, provider)
}

func (f *loggerFactory) SetMinimumLevel(level LogLevel) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	f.gate.set(level)
	for _, provider := range f.providers {
		provider.SetMinimumLevel(level)
	}
}

func (f *loggerFactory) Close() error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var errs error
	for _, provider := range f.providers {
		if c, ok := provider.(interface{ Close() error }); ok {
			errs = multierr.Append(errs, c.Close())
		}
	}
	return errs
}

// NewCompositeLogger 把日志同时发往 loggers，低于 minimumLevel 的直接丢弃
func NewCompositeLogger(loggers []Logger, minimumLevel LogLevel) Logger {
	return &fanoutLogger{loggers: loggers, gate: newLevelGate(minimumLevel)}
}

// fanoutLogger 将一条日志分发给每个提供者的 Logger
type fanoutLogger struct {
	loggers []Logger
	gate    *levelGate
}

func (l *fanoutLogger) Trace(msg string, fields ...Field) { l.Log(LogLevelTrace, msg, fields...) }
func (l *fanoutLogger) Debug(msg string, fields ...Field) { l.Log(LogLevelDebug, msg, fields...) }
func (l *fanoutLogger) Info(msg string, fields ...Field)  { l.Log(LogLevelInfo, msg, fields...) }
func (l *fanoutLogger) Warn(msg string, fields ...Field)  { l.Log(LogLevelWarn, msg, fields...) }
func (l *fanoutLogger) Error(msg string, fields ...Field) { l.Log(LogLevelError, msg, fields...) }

func (l *fanoutLogger) Fatal(msg string, fields ...Field) {
	l.Log(LogLevelFatal, msg, fields...)
	os.Exit(1)
}

func (l *fanoutLogger) Log(level LogLevel, msg string, fields ...Field) {
	if !l.gate.enabled(level) {
		return
	}
	for _, logger := range l.loggers {
		logger.Log(level, msg, fields...)
	}
}

func (l *fanoutLogger) WithFields(fields ...Field) Logger {
	return l.derive(func(logger Logger) Logger { return logger.WithFields(fields...) })
}

func (l *fanoutLogger) WithCategory(category string) Logger {
	return l.derive(func(logger Logger) Logger { return logger.WithCategory(category) })
}

func (l *fanoutLogger) derive(fn func(Logger) Logger) Logger {
	loggers := make([]Logger, len(l.loggers))
	for i, logger := range l.loggers {
		loggers[i] = fn(logger)
	}
	return &fanoutLogger{loggers: loggers, gate: l.gate}
}

// appendFields 返回新切片，避免多个子 logger 共享底层数组
func appendFields(base, extra []Field) []Field {
	out := make([]Field, 0, len(base)+len(extra))
	out = append(out, base...)
	return append(out, extra...)
}
