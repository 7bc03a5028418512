package logging

import (
	"io"
	"os"
	"sync"
	"time"
)

type Logger interface {
	Log(level LogLevel, component, action, msg string)
	Debug(component, action, msg string)
	Info(component, action, msg string)
	Warn(component, action, msg string)
	Error(component, action, msg string)
	WithFields(fields Fields) Logger
	WithError(err error) Logger
	WithTraceID(traceID string) Logger
}

type StandardLogger struct {
	mu        *sync.Mutex
	out       io.Writer
	formatter Formatter
	level     LogLevel
	fields    Fields
	traceID   string
	sanitize  bool
	errType   string
}

type LoggerConfig struct {
	Output    io.Writer
	Formatter Formatter
	Level     LogLevel
	Sanitize  bool
}

func NewLogger(cfg LoggerConfig) *StandardLogger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	formatter := cfg.Formatter
	if formatter == nil {
		formatter = NewHumanFormatter(out)
	}

	return &StandardLogger{
		mu:        &sync.Mutex{},
		out:       out,
		formatter: formatter,
		level:     cfg.Level,
		fields:    make(Fields),
		sanitize:  cfg.Sanitize,
	}
}

// Log writes one entry at the given level. Invalid levels are written as
// ERROR so nothing is silently dropped.
func (l *StandardLogger) Log(level LogLevel, component, action, msg string) {
	if !level.Valid() {
		level = ERROR
	}
	if !level.ShouldLog(l.level) {
		return
	}

	fields := l.fields
	if l.sanitize {
		fields = fields.Sanitize()
	}

	entry := LogEntry{
		Timestamp: time.Now(),
		Level:     level,
		Component: component,
		Action:    action,
		Message:   msg,
		Fields:    fields,
		TraceID:   l.traceID,
		ErrorType: l.errType,
	}

	if errStr, ok := l.fields["error"].(string); ok {
		entry.Error = errStr
	}

	data, err := l.formatter.Format(entry)
	if err != nil {
		return
	}

	// Derived loggers share the mutex so lines from one output never interleave.
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out.Write(data)
}

func (l *StandardLogger) Debug(component, action, msg string) {
	l.Log(DEBUG, component, action, msg)
}

func (l *StandardLogger) Info(component, action, msg string) {
	l.Log(INFO, component, action, msg)
}

func (l *StandardLogger) Warn(component, action, msg string) {
	l.Log(WARN, component, action, msg)
}

func (l *StandardLogger) Error(component, action, msg string) {
	l.Log(ERROR, component, action, msg)
}

func (l *StandardLogger) clone() *StandardLogger {
	c := *l
	return &c
}

func (l *StandardLogger) WithFields(fields Fields) Logger {
	merged := make(Fields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}

	c := l.clone()
	c.fields = merged
	return c
}

func (l *StandardLogger) WithError(err error) Logger {
	if err == nil {
		return l
	}
	c := l.WithFields(Fields{"error": err.Error()}).(*StandardLogger)
	c.errType = ErrorType(err)
	return c
}

func (l *StandardLogger) WithTraceID(traceID string) Logger {
	c := l.clone()
	c.traceID = traceID
	return c
}

type NopLogger struct{}

func (NopLogger) Log(level LogLevel, component, action, msg string) {}
func (NopLogger) Debug(component, action, msg string)                {}
func (NopLogger) Info(component, action, msg string)                 {}
func (NopLogger) Warn(component, action, msg string)                 {}
func (NopLogger) Error(component, action, msg string)                {}
func (n NopLogger) WithFields(fields Fields) Logger                  { return n }
func (n NopLogger) WithError(err error) Logger                       { return n }
func (n NopLogger) WithTraceID(traceID string) Logger                { return n }
