package logging

import (
	"fmt"
	"os"
	"sync"
)

// Options logging 配置节
type Options struct {
	Level  LogLevel `json:"level" yaml:"level"`
	Format string   `json:"format" yaml:"format"` // text | json | zap
	File   string   `json:"file" yaml:"file"`     // 非空时额外写文件
}

// 各输出格式对应的控制台提供者
var consoleFormats = map[string]func(b *LoggingBuilder){
	"":     func(b *LoggingBuilder) { b.AddConsole() },
	"text": func(b *LoggingBuilder) { b.AddConsole() },
	"json": func(b *LoggingBuilder) { b.AddConsole(ConsoleLoggerOptions{Output: os.Stdout, Json: true}) },
	"zap":  func(b *LoggingBuilder) { b.AddZap() },
}

// LoggingBuilder 收集提供者后一次性构建 LoggerFactory
type LoggingBuilder struct {
	mu        sync.Mutex
	providers []LoggerProvider
	level     LogLevel
}

func NewLoggingBuilder() *LoggingBuilder {
	return &LoggingBuilder{level: LogLevelInfo}
}

func (b *LoggingBuilder) SetMinimumLevel(level LogLevel) *LoggingBuilder {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.level = level
	return b
}

func (b *LoggingBuilder) AddProvider(provider LoggerProvider) *LoggingBuilder {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.providers = append(b.providers, provider)
	return b
}

// AddConsole 默认带时间戳和颜色写 stdout
func (b *LoggingBuilder) AddConsole(options ...ConsoleLoggerOptions) *LoggingBuilder {
	opts := ConsoleLoggerOptions{
		IncludeTimestamp: true,
		TimestampFormat:  defaultTimeLayout,
		ColorOutput:      true,
	}
	if len(options) > 0 {
		opts = options[0]
	}
	return b.AddProvider(NewConsoleLoggerProvider(opts))
}

// AddFile 经异步队列写入 path
func (b *LoggingBuilder) AddFile(path string, options ...FileLoggerOptions) *LoggingBuilder {
	var opts FileLoggerOptions
	if len(options) > 0 {
		opts = options[0]
	}
	opts.Path = path
	return b.AddProvider(NewFileLoggerProvider(opts))
}

// AddZap 通过 zap 输出 JSON 行
func (b *LoggingBuilder) AddZap() *LoggingBuilder {
	return b.AddProvider(NewZapJsonProvider(os.Stdout))
}

// Configure 按 logging 配置节选择级别与提供者
func (b *LoggingBuilder) Configure(opts Options) (*LoggingBuilder, error) {
	add, ok := consoleFormats[opts.Format]
	if !ok {
		return b, fmt.Errorf("logging: unknown format %q", opts.Format)
	}
	b.SetMinimumLevel(opts.Level)
	add(b)
	if opts.File != "" {
		b.AddFile(opts.File)
	}
	return b, nil
}

func (b *LoggingBuilder) Build() LoggerFactory {
	b.mu.Lock()
	defer b.mu.Unlock()

	factory := newLoggerFactory(b.level)
	for _, provider := range b.providers {
		factory.AddProvider(provider)
	}
	return factory
}
