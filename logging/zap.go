package logging

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLoggerProvider 将日志转发到 zap
type ZapLoggerProvider struct {
	base *zap.Logger
	gate *levelGate
}

// NewZapLoggerProvider 包装已有的 zap.Logger
func NewZapLoggerProvider(logger *zap.Logger) *ZapLoggerProvider {
	return &ZapLoggerProvider{base: logger, gate: newLevelGate(LogLevelInfo)}
}

// NewZapJsonProvider 创建输出 JSON 行的 zap 提供者，out 为空时写 stdout
func NewZapJsonProvider(out io.Writer) *ZapLoggerProvider {
	if out == nil {
		out = os.Stdout
	}
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(out),
		zapcore.DebugLevel,
	)
	return NewZapLoggerProvider(zap.New(core))
}

func (p *ZapLoggerProvider) CreateLogger(category string) Logger {
	logger := p.base
	if category != "" {
		logger = logger.Named(category)
	}
	return &zapLogger{logger: logger, provider: p}
}

func (p *ZapLoggerProvider) SetMinimumLevel(level LogLevel) {
	p.gate.set(level)
}

// Close 刷新 zap 缓冲
func (p *ZapLoggerProvider) Close() error {
	err := p.base.Sync()
	// stdout/stderr 不支持 fsync，忽略这类错误
	if _, ok := err.(*os.PathError); ok {
		return nil
	}
	return err
}

// zapLevel Trace 并入 Debug；Fatal 用 DPanic 记录，退出由调用方决定
func zapLevel(level LogLevel) zapcore.Level {
	switch level {
	case LogLevelTrace, LogLevelDebug:
		return zapcore.DebugLevel
	case LogLevelInfo:
		return zapcore.InfoLevel
	case LogLevelWarn:
		return zapcore.WarnLevel
	case LogLevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.DPanicLevel
	}
}

func zapFields(fields []Field) []zap.Field {
	out := make([]zap.Field, len(fields))
	for i, f := range fields {
		if err, ok := f.Value.(error); ok {
			out[i] = zap.NamedError(f.Key, err)
			continue
		}
		out[i] = zap.Any(f.Key, f.Value)
	}
	return out
}

type zapLogger struct {
	logger   *zap.Logger
	provider *ZapLoggerProvider
}

func (l *zapLogger) Trace(msg string, fields ...Field) {
	l.Log(LogLevelTrace, msg, fields...)
}

func (l *zapLogger) Debug(msg string, fields ...Field) {
	l.Log(LogLevelDebug, msg, fields...)
}

func (l *zapLogger) Info(msg string, fields ...Field) {
	l.Log(LogLevelInfo, msg, fields...)
}

func (l *zapLogger) Warn(msg string, fields ...Field) {
	l.Log(LogLevelWarn, msg, fields...)
}

func (l *zapLogger) Error(msg string, fields ...Field) {
	l.Log(LogLevelError, msg, fields...)
}

func (l *zapLogger) Fatal(msg string, fields ...Field) {
	l.Log(LogLevelFatal, msg, fields...)
	_ = l.logger.Sync()
	os.Exit(1)
}

func (l *zapLogger) Log(level LogLevel, msg string, fields ...Field) {
	if !l.provider.gate.enabled(level) {
		return
	}
	if ce := l.logger.Check(zapLevel(level), msg); ce != nil {
		ce.Write(zapFields(fields)...)
	}
}

func (l *zapLogger) WithFields(fields ...Field) Logger {
	return &zapLogger{logger: l.logger.With(zapFields(fields)...), provider: l.provider}
}

func (l *zapLogger) WithCategory(category string) Logger {
	return l.provider.CreateLogger(category)
}
