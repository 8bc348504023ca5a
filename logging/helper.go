package logging

// NewLogger 写 stdout 的默认 Logger
func NewLogger() Logger {
	return NewLoggingBuilder().AddConsole().Build().CreateLogger("default")
}

// NewNopLogger 丢弃所有输出
func NewNopLogger() Logger {
	return NewCompositeLogger(nil, LogLevelFatal+1)
}
