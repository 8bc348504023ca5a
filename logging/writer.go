package logging

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
)

// entrySink 接收格式化前的日志条目
type entrySink interface {
	WriteLog(entry *LogEntry)
}

// syncSink 同步写入，写入之间加锁
type syncSink struct {
	mu        sync.Mutex
	writer    io.Writer
	formatter Formatter
}

func (s *syncSink) WriteLog(entry *LogEntry) {
	data, err := s.formatter.Format(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: format error: %v\n", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writer.Write(withNewline(data))
}

func withNewline(data []byte) []byte {
	if len(data) > 0 && data[len(data)-1] != '\n' {
		return append(data, '\n')
	}
	return data
}

// levelGate 共享的最小级别，SetMinimumLevel 对已创建的 logger 同样生效
type levelGate struct {
	level atomic.Int32
}

func newLevelGate(level LogLevel) *levelGate {
	g := &levelGate{}
	g.set(level)
	return g
}

func (g *levelGate) enabled(level LogLevel) bool {
	return int32(level) >= g.level.Load()
}

func (g *levelGate) get() LogLevel {
	return LogLevel(g.level.Load())
}

func (g *levelGate) set(level LogLevel) {
	g.level.Store(int32(level))
}

// writerLogger 控制台与文件日志共用的实现
type writerLogger struct {
	category string
	fields   []Field
	gate     *levelGate
	sink     entrySink
}

func (l *writerLogger) Trace(msg string, fields ...Field) {
	l.Log(LogLevelTrace, msg, fields...)
}

func (l *writerLogger) Debug(msg string, fields ...Field) {
	l.Log(LogLevelDebug, msg, fields...)
}

func (l *writerLogger) Info(msg string, fields ...Field) {
	l.Log(LogLevelInfo, msg, fields...)
}

func (l *writerLogger) Warn(msg string, fields ...Field) {
	l.Log(LogLevelWarn, msg, fields...)
}

func (l *writerLogger) Error(msg string, fields ...Field) {
	l.Log(LogLevelError, msg, fields...)
}

func (l *writerLogger) Fatal(msg string, fields ...Field) {
	l.Log(LogLevelFatal, msg, fields...)
	os.Exit(1)
}

func (l *writerLogger) Log(level LogLevel, msg string, fields ...Field) {
	if !l.gate.enabled(level) {
		return
	}
	l.sink.WriteLog(&LogEntry{
		Time:     time.Now(),
		Level:    level,
		Category: l.category,
		Message:  msg,
		Fields:   appendFields(l.fields, fields),
	})
}

func (l *writerLogger) WithFields(fields ...Field) Logger {
	return &writerLogger{
		category: l.category,
		fields:   appendFields(l.fields, fields),
		gate:     l.gate,
		sink:     l.sink,
	}
}

func (l *writerLogger) WithCategory(category string) Logger {
	return &writerLogger{
		category: category,
		fields:   l.fields,
		gate:     l.gate,
		sink:     l.sink,
	}
}

// ConsoleLoggerOptions 控制台日志选项
type ConsoleLoggerOptions struct {
	IncludeTimestamp bool
	TimestampFormat  string
	ColorOutput      bool
	Output           io.Writer
	// Json 为 true 时输出 JSON 行
	Json bool
}

// ConsoleLoggerProvider 控制台日志提供者
type ConsoleLoggerProvider struct {
	gate *levelGate
	sink *syncSink
}

func NewConsoleLoggerProvider(options ConsoleLoggerOptions) *ConsoleLoggerProvider {
	if options.Output == nil {
		options.Output = os.Stdout
	}
	var formatter Formatter = &TextFormatter{
		IncludeTimestamp: options.IncludeTimestamp,
		TimestampFormat:  options.TimestampFormat,
		ColorOutput:      options.ColorOutput,
	}
	if options.Json {
		formatter = NewJsonFormatter()
	}
	return &ConsoleLoggerProvider{
		gate: newLevelGate(LogLevelInfo),
		sink: &syncSink{writer: options.Output, formatter: formatter},
	}
}

func (p *ConsoleLoggerProvider) CreateLogger(category string) Logger {
	return &writerLogger{category: category, gate: p.gate, sink: p.sink}
}

func (p *ConsoleLoggerProvider) SetMinimumLevel(level LogLevel) {
	p.gate.set(level)
}

// FileLoggerOptions 文件日志选项
type FileLoggerOptions struct {
	Path       string
	BufferSize int  // 异步队列长度，默认 1024
	Json       bool // 为 true 时每行一条 JSON
}

// FileLoggerProvider 文件日志提供者，写入经由 AsyncWriter 异步完成
type FileLoggerProvider struct {
	options FileLoggerOptions
	gate    *levelGate

	mu     sync.Mutex
	file   *os.File
	writer *AsyncWriter
}

func NewFileLoggerProvider(options FileLoggerOptions) *FileLoggerProvider {
	if options.BufferSize <= 0 {
		options.BufferSize = 1024
	}
	return &FileLoggerProvider{
		options: options,
		gate:    newLevelGate(LogLevelInfo),
	}
}

func (p *FileLoggerProvider) CreateLogger(category string) Logger {
	p.mu.Lock()
	defer p.mu.Unlock()

	// 打开或创建文件
	if p.writer == nil {
		file, err := os.OpenFile(p.options.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logging: failed to open log file: %v\n", err)
			return &writerLogger{
				category: category,
				gate:     p.gate,
				sink:     &syncSink{writer: os.Stderr, formatter: NewTextFormatter()},
			}
		}
		var formatter Formatter = NewTextFormatter()
		if p.options.Json {
			formatter = NewJsonFormatter()
		}
		p.file = file
		p.writer = NewAsyncWriter(file, formatter, p.options.BufferSize)
	}

	return &writerLogger{category: category, gate: p.gate, sink: p.writer}
}

func (p *FileLoggerProvider) SetMinimumLevel(level LogLevel) {
	p.gate.set(level)
}

// Close 刷新队列并关闭文件
func (p *FileLoggerProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writer == nil {
		return nil
	}
	err := multierr.Append(p.writer.Close(), p.file.Close())
	p.writer = nil
	return err
}

// AsyncWriter 由单独的 goroutine 格式化并写出日志条目
type AsyncWriter struct {
	writer    io.Writer
	formatter Formatter
	queue     chan *LogEntry
	done      chan struct{}

	mu     sync.RWMutex
	closed bool
	errs   error
	onErr  func(error)
}

// NewAsyncWriter bufferSize 为队列长度，队列满时 WriteLog 阻塞
func NewAsyncWriter(writer io.Writer, formatter Formatter, bufferSize int) *AsyncWriter {
	w := &AsyncWriter{
		writer:    writer,
		formatter: formatter,
		queue:     make(chan *LogEntry, bufferSize),
		done:      make(chan struct{}),
	}
	go w.drain()
	return w
}

// WriteLog 关闭后写入的条目被丢弃
func (w *AsyncWriter) WriteLog(entry *LogEntry) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if !w.closed {
		w.queue <- entry
	}
}

// SetErrorHandler 写出失败时回调，未设置时错误累积到 Close 的返回值
func (w *AsyncWriter) SetErrorHandler(handler func(error)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onErr = handler
}

// Close 等待队列写完，返回期间未被处理的写出错误
func (w *AsyncWriter) Close() error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()
	<-w.done

	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.errs
}

func (w *AsyncWriter) drain() {
	defer close(w.done)
	for entry := range w.queue {
		data, err := w.formatter.Format(entry)
		if err == nil {
			_, err = w.writer.Write(withNewline(data))
		}
		if err != nil {
			w.fail(err)
		}
	}
}

func (w *AsyncWriter) fail(err error) {
	err = fmt.Errorf("logging: async writer: %w", err)
	w.mu.Lock()
	handler := w.onErr
	if handler == nil {
		w.errs = multierr.Append(w.errs, err)
	}
	w.mu.Unlock()
	if handler != nil {
		handler(err)
	}
}
