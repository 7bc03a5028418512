package devlogger

import (
	"context"
	"fmt"
	"os"

	"github.com/auditmos/devlogger/logging"
	"github.com/auditmos/devlogger/storage"
)

// DefaultChannel receives forwarded entries when no fallback channels are
// configured.
const DefaultChannel = "stderr"

// RecordStore persists log records. storage.SQLiteRecordRepo satisfies it.
type RecordStore interface {
	Insert(ctx context.Context, rec *storage.LogRecord) error
}

// Channel is a named log destination other than the store.
type Channel interface {
	Write(level logging.LogLevel, message string, fields logging.Fields) error
}

type ChannelFunc func(level logging.LogLevel, message string, fields logging.Fields) error

func (f ChannelFunc) Write(level logging.LogLevel, message string, fields logging.Fields) error {
	return f(level, message, fields)
}

// LoggerChannel writes entries through a structured logger.
type LoggerChannel struct {
	Logger    logging.Logger
	Component string
}

func (c LoggerChannel) Write(level logging.LogLevel, message string, fields logging.Fields) error {
	component := c.Component
	if component == "" {
		component = "app"
	}
	c.Logger.WithFields(fields).Log(level, component, "log", message)
	return nil
}

// DefaultChannels returns the built-in stdout and stderr channels using the
// named formatter ("human" or "json").
func DefaultChannels(format string) map[string]Channel {
	return map[string]Channel{
		"stdout": LoggerChannel{Logger: logging.NewLogger(logging.LoggerConfig{
			Output:    os.Stdout,
			Formatter: logging.NewFormatter(format, os.Stdout),
			Level:     logging.TRACE,
		})},
		"stderr": LoggerChannel{Logger: logging.NewLogger(logging.LoggerConfig{
			Output:    os.Stderr,
			Formatter: logging.NewFormatter(format, os.Stderr),
			Level:     logging.TRACE,
		})},
	}
}

type namedChannel struct {
	name string
	ch   Channel
}

// Dispatcher routes finished entries to the store or to log channels.
type Dispatcher struct {
	store    RecordStore
	channels []namedChannel
	logger   logging.Logger
}

// NewDispatcher resolves names against registry. No names means
// DefaultChannel. A nil store is allowed when Persist is never called.
func NewDispatcher(store RecordStore, registry map[string]Channel, names []string, logger logging.Logger) (*Dispatcher, error) {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	if len(names) == 0 {
		names = []string{DefaultChannel}
	}

	d := &Dispatcher{store: store, logger: logger}
	for _, name := range names {
		ch, ok := registry[name]
		if !ok || ch == nil {
			return nil, fmt.Errorf("unknown log channel %q", name)
		}
		d.channels = append(d.channels, namedChannel{name: name, ch: ch})
	}
	return d, nil
}

// Dispatch runs both sinks for one call: rec is persisted, then the entry
// is forwarded to every channel at its own level. A persist failure adds
// the fallback entry and does not stop the forward.
func (d *Dispatcher) Dispatch(ctx context.Context, rec *storage.LogRecord, fields logging.Fields) {
	d.Persist(ctx, rec)
	level, ok := logging.LookupLevel(rec.Level)
	if !ok {
		level = logging.ERROR
	}
	d.Forward(level, rec.Message, fields)
}

// Persist stores rec once. A failed or panicking insert is reported through
// the log channels together with the record that was lost; it is never
// returned.
func (d *Dispatcher) Persist(ctx context.Context, rec *storage.LogRecord) {
	err := safeInsert(ctx, d.store, rec)
	if err == nil {
		return
	}

	d.logger.WithError(err).WithFields(logging.WithField("level", rec.Level)).
		Warn("dispatcher", "persist", "Failed to persist log record")

	d.Forward(logging.ERROR, "Failed to persist log record",
		logging.WithError(err).Add("record", recordFields(rec)))
}

// Forward writes to every channel in order. A failing channel does not stop
// the ones after it.
func (d *Dispatcher) Forward(level logging.LogLevel, message string, fields logging.Fields) {
	for _, nc := range d.channels {
		if err := safeWrite(nc.ch, level, message, fields); err != nil {
			d.logger.WithError(err).WithFields(logging.WithField("channel", nc.name)).
				Warn("dispatcher", "forward", "Log channel write failed")
		}
	}
}

func safeInsert(ctx context.Context, store RecordStore, rec *storage.LogRecord) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("store panic: %v", r)
		}
	}()
	return store.Insert(ctx, rec)
}

func safeWrite(ch Channel, level logging.LogLevel, message string, fields logging.Fields) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("channel panic: %v", r)
		}
	}()
	return ch.Write(level, message, fields)
}

func recordFields(rec *storage.LogRecord) logging.Fields {
	f := logging.Fields{
		"level":   rec.Level,
		"message": rec.Message,
		"status":  string(rec.Status),
	}
	if len(rec.Context) > 0 {
		f["context"] = map[string]interface{}(rec.Context)
	}
	if rec.Queue != nil {
		f["queue"] = *rec.Queue
	}
	if len(rec.Tags) > 0 {
		f["tags"] = []string(rec.Tags)
	}
	if rec.FilePath != nil {
		f["file_path"] = *rec.FilePath
	}
	if rec.LineNumber != nil {
		f["line_number"] = *rec.LineNumber
	}
	if rec.ExceptionClass != nil {
		f["exception_class"] = *rec.ExceptionClass
	}
	if rec.RequestURL != nil {
		f["request_url"] = *rec.RequestURL
	}
	return f
}
