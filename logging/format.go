package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
)

const defaultTimeLayout = "2006-01-02 15:04:05"

var bufferPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

const colorReset = "\033[0m"

var levelColors = [...]string{
	LogLevelTrace: "\033[90m",
	LogLevelDebug: "\033[36m",
	LogLevelInfo:  "\033[32m",
	LogLevelWarn:  "\033[33m",
	LogLevelError: "\033[31m",
	LogLevelFatal: "\033[35m",
}

// TextFormatter 输出形如 `2006-01-02 15:04:05 INFO [di] msg {k=v}` 的行
type TextFormatter struct {
	IncludeTimestamp bool
	TimestampFormat  string
	ColorOutput      bool
}

func NewTextFormatter() *TextFormatter {
	return &TextFormatter{IncludeTimestamp: true, TimestampFormat: defaultTimeLayout}
}

// Format 返回的切片不引用池中的 buffer
func (f *TextFormatter) Format(entry *LogEntry) ([]byte, error) {
	buf := bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		bufferPool.Put(buf)
	}()

	if f.IncludeTimestamp {
		layout := f.TimestampFormat
		if layout == "" {
			layout = defaultTimeLayout
		}
		buf.WriteString(entry.Time.Format(layout))
		buf.WriteByte(' ')
	}
	f.writeLevel(buf, entry.Level)
	if entry.Category != "" {
		fmt.Fprintf(buf, " [%s]", entry.Category)
	}
	buf.WriteByte(' ')
	buf.WriteString(entry.Message)

	for i, field := range entry.Fields {
		sep := ", "
		if i == 0 {
			sep = " {"
		}
		fmt.Fprintf(buf, "%s%s=%v", sep, field.Key, field.Value)
	}
	if len(entry.Fields) > 0 {
		buf.WriteByte('}')
	}
	buf.WriteByte('\n')
	return bytes.Clone(buf.Bytes()), nil
}

func (f *TextFormatter) writeLevel(buf *bytes.Buffer, level LogLevel) {
	name := level.String()
	if !f.ColorOutput || level < LogLevelTrace || int(level) >= len(levelColors) {
		buf.WriteString(name)
		return
	}
	buf.WriteString(levelColors[level])
	buf.WriteString(name)
	buf.WriteString(colorReset)
}

// JsonFormatter 每条日志输出一个 JSON 对象，附加字段放在 fields 下
type JsonFormatter struct {
	TimestampFormat string
}

func NewJsonFormatter() *JsonFormatter {
	return &JsonFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"}
}

type jsonEntry struct {
	Time     string         `json:"time"`
	Level    string         `json:"level"`
	Category string         `json:"category,omitempty"`
	Message  string         `json:"msg"`
	Fields   map[string]any `json:"fields,omitempty"`
}

func (f *JsonFormatter) Format(entry *LogEntry) ([]byte, error) {
	out := jsonEntry{
		Time:     entry.Time.Format(f.TimestampFormat),
		Level:    entry.Level.String(),
		Category: entry.Category,
		Message:  entry.Message,
	}
	if len(entry.Fields) > 0 {
		out.Fields = make(map[string]any, len(entry.Fields))
		for _, field := range entry.Fields {
			out.Fields[field.Key] = jsonValue(field.Value)
		}
	}
	return json.Marshal(out)
}

// jsonValue error 与 Stringer 输出其文本
func jsonValue(v any) any {
	switch v := v.(type) {
	case error:
		return v.Error()
	case fmt.Stringer:
		return v.String()
	default:
		return v
	}
}
