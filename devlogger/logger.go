// Package devlogger records application log entries in a database so they
// can be triaged later, falling back to ordinary log channels when the
// database is disabled or unavailable.
package devlogger

import (
	"context"
	"fmt"
	"time"

	"github.com/auditmos/devlogger/config"
	"github.com/auditmos/devlogger/logging"
	"github.com/auditmos/devlogger/storage"
)

type Options struct {
	// MinLevel drops calls below it before any work is done.
	MinLevel logging.LogLevel
	// Store is where records are persisted. Nil disables persistence and
	// every call is forwarded to the channels instead.
	Store RecordStore
	// Channels is the registry FallbackChannels are resolved against.
	// Nil means DefaultChannels("human").
	Channels         map[string]Channel
	FallbackChannels []string
	// ExcludedPaths are file substrings skipped by caller resolution.
	// Nil means DefaultExcludedPaths.
	ExcludedPaths []string
	// Logger reports problems inside devlogger itself.
	Logger logging.Logger
	Now    func() time.Time
}

// OptionsFromConfig maps loaded configuration onto Options. store is only
// used when database logging is enabled.
func OptionsFromConfig(cfg *config.Config, store RecordStore, logger logging.Logger) Options {
	opts := Options{
		MinLevel:         cfg.LogLevel,
		Channels:         DefaultChannels(cfg.LogFormat),
		FallbackChannels: cfg.FallbackChannels,
		ExcludedPaths:    cfg.ExcludedPaths,
		Logger:           logger,
	}
	if cfg.EnableDB {
		opts.Store = store
	}
	return opts
}

// Logger is safe for concurrent use and never changes after New. Per-call
// queue and tags live on Call values.
type Logger struct {
	minLevel   logging.LogLevel
	persist    bool
	dispatcher *Dispatcher
	excluded   []string
	logger     logging.Logger
	now        func() time.Time
}

func New(opts Options) (*Logger, error) {
	if opts.Logger == nil {
		opts.Logger = logging.NopLogger{}
	}
	if opts.Channels == nil {
		opts.Channels = DefaultChannels("human")
	}
	if opts.ExcludedPaths == nil {
		opts.ExcludedPaths = DefaultExcludedPaths
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if !opts.MinLevel.Valid() {
		return nil, fmt.Errorf("invalid minimum level %d", opts.MinLevel)
	}

	d, err := NewDispatcher(opts.Store, opts.Channels, opts.FallbackChannels, opts.Logger)
	if err != nil {
		return nil, err
	}

	return &Logger{
		minLevel:   opts.MinLevel,
		persist:    opts.Store != nil,
		dispatcher: d,
		excluded:   append([]string(nil), opts.ExcludedPaths...),
		logger:     opts.Logger,
		now:        opts.Now,
	}, nil
}

// Call carries options for a single log call. The first level method called
// on it consumes the queue and tags; calling it again logs without them.
// A Call must not be shared between goroutines.
type Call struct {
	logger *Logger
	queue  string
	tags   storage.Tags
}

func (l *Logger) call() *Call {
	return &Call{logger: l}
}

func (l *Logger) OnQueue(queue string) *Call {
	return l.call().OnQueue(queue)
}

func (l *Logger) WithTags(tags ...string) *Call {
	return l.call().WithTags(tags...)
}

// OnQueue replaces the queue tag.
func (c *Call) OnQueue(queue string) *Call {
	next := *c
	next.queue = queue
	return &next
}

// WithTags adds to the tags collected so far.
func (c *Call) WithTags(tags ...string) *Call {
	next := *c
	next.tags = c.tags.Add(tags...)
	return &next
}

func (l *Logger) Log(ctx context.Context, level logging.LogLevel, message string, fields logging.Fields) *Logger {
	return l.call().Log(ctx, level, message, fields)
}

func (l *Logger) LogString(ctx context.Context, level, message string, fields logging.Fields) *Logger {
	return l.call().LogString(ctx, level, message, fields)
}

func (l *Logger) Debug(ctx context.Context, message string, fields logging.Fields) *Logger {
	return l.call().Debug(ctx, message, fields)
}

func (l *Logger) Info(ctx context.Context, message string, fields logging.Fields) *Logger {
	return l.call().Info(ctx, message, fields)
}

func (l *Logger) Notice(ctx context.Context, message string, fields logging.Fields) *Logger {
	return l.call().Notice(ctx, message, fields)
}

func (l *Logger) Warning(ctx context.Context, message string, fields logging.Fields) *Logger {
	return l.call().Warning(ctx, message, fields)
}

func (l *Logger) Error(ctx context.Context, message string, fields logging.Fields) *Logger {
	return l.call().Error(ctx, message, fields)
}

func (l *Logger) Critical(ctx context.Context, message string, fields logging.Fields) *Logger {
	return l.call().Critical(ctx, message, fields)
}

func (l *Logger) Alert(ctx context.Context, message string, fields logging.Fields) *Logger {
	return l.call().Alert(ctx, message, fields)
}

func (l *Logger) Emergency(ctx context.Context, message string, fields logging.Fields) *Logger {
	return l.call().Emergency(ctx, message, fields)
}

func (l *Logger) LogException(ctx context.Context, err error, fields logging.Fields) *Logger {
	return l.call().LogException(ctx, err, fields)
}

// Log records message at level. A level outside the known range is
// recorded as error with the original value kept in original_level.
func (c *Call) Log(ctx context.Context, level logging.LogLevel, message string, fields logging.Fields) *Logger {
	if !level.Valid() {
		fields = withField(fields, "original_level", int(level))
		level = logging.ERROR
	}
	queue, tags := c.take()
	c.logger.write(ctx, entry{level: level, message: message, fields: fields, queue: queue, tags: tags})
	return c.logger
}

func (c *Call) take() (string, storage.Tags) {
	queue, tags := c.queue, c.tags
	c.queue, c.tags = "", nil
	return queue, tags
}

// LogString is Log with the level given by name.
func (c *Call) LogString(ctx context.Context, level, message string, fields logging.Fields) *Logger {
	l, ok := logging.LookupLevel(level)
	if !ok {
		fields = withField(fields, "original_level", level)
		l = logging.ERROR
	}
	return c.Log(ctx, l, message, fields)
}

func (c *Call) Debug(ctx context.Context, message string, fields logging.Fields) *Logger {
	return c.Log(ctx, logging.DEBUG, message, fields)
}

func (c *Call) Info(ctx context.Context, message string, fields logging.Fields) *Logger {
	return c.Log(ctx, logging.INFO, message, fields)
}

func (c *Call) Notice(ctx context.Context, message string, fields logging.Fields) *Logger {
	return c.Log(ctx, logging.NOTICE, message, fields)
}

func (c *Call) Warning(ctx context.Context, message string, fields logging.Fields) *Logger {
	return c.Log(ctx, logging.WARN, message, fields)
}

func (c *Call) Error(ctx context.Context, message string, fields logging.Fields) *Logger {
	return c.Log(ctx, logging.ERROR, message, fields)
}

func (c *Call) Critical(ctx context.Context, message string, fields logging.Fields) *Logger {
	return c.Log(ctx, logging.CRITICAL, message, fields)
}

func (c *Call) Alert(ctx context.Context, message string, fields logging.Fields) *Logger {
	return c.Log(ctx, logging.ALERT, message, fields)
}

func (c *Call) Emergency(ctx context.Context, message string, fields logging.Fields) *Logger {
	return c.Log(ctx, logging.EMERGENCY, message, fields)
}

// LogException records err at error level with its class and the current
// stack. A nil err is ignored.
func (c *Call) LogException(ctx context.Context, err error, fields logging.Fields) *Logger {
	if err == nil {
		return c.logger
	}
	queue, tags := c.take()
	c.logger.write(ctx, entry{
		level:   logging.ERROR,
		message: err.Error(),
		fields:  fields,
		queue:   queue,
		tags:    tags,
		err:     err,
	})
	return c.logger
}

type entry struct {
	level   logging.LogLevel
	message string
	fields  logging.Fields
	queue   string
	tags    storage.Tags
	err     error
}

func (l *Logger) write(ctx context.Context, e entry) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.WithFields(logging.Fields{"panic": fmt.Sprint(r), "level": e.level.String()}).
				Error("logger", "write", "Recovered panic while logging")
		}
	}()

	if !e.level.ShouldLog(l.minLevel) {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	message := Interpolate(e.message, e.fields)
	if !l.persist {
		l.dispatcher.Forward(e.level, message, forwardFields(e))
		return
	}

	frames := CaptureFrames(1)
	rec := l.buildRecord(ctx, e, message, frames)
	l.dispatcher.Dispatch(ctx, rec, forwardFields(e))
}

func (l *Logger) buildRecord(ctx context.Context, e entry, message string, frames []Frame) *storage.LogRecord {
	rec := &storage.LogRecord{
		Level:     e.level.String(),
		Message:   message,
		Context:   storage.JSONMap(e.fields),
		Status:    storage.StatusOpen,
		Tags:      e.tags,
		CreatedAt: l.now().UTC(),
	}
	if e.queue != "" {
		rec.Queue = strPtr(e.queue)
	}

	file, line := ResolveCaller(frames, l.excluded)
	rec.FilePath = strPtr(file)
	if line > 0 {
		rec.LineNumber = &line
	}

	if e.err != nil {
		rec.ExceptionClass = strPtr(logging.ErrorClass(e.err))
		rec.StackTrace = strPtr(FormatStack(TrimInternal(frames)))
	}

	if req, ok := RequestFromContext(ctx); ok {
		rec.RequestURL = optional(req.URL)
		rec.RequestMethod = optional(req.Method)
		rec.IPAddress = optional(req.IP)
		rec.UserAgent = optional(req.UserAgent)
		rec.UserID = req.UserID
	}
	return rec
}

// forwardFields adds queue, tags and the exception class to what goes to a
// log channel, without overwriting caller fields.
func forwardFields(e entry) logging.Fields {
	if e.queue == "" && len(e.tags) == 0 && e.err == nil {
		return e.fields
	}
	out := make(logging.Fields, len(e.fields)+3)
	if e.queue != "" {
		out.Add("queue", e.queue)
	}
	if len(e.tags) > 0 {
		out.Add("tags", []string(e.tags))
	}
	if e.err != nil {
		out.Add("exception_class", logging.ErrorClass(e.err))
	}
	return out.Merge(e.fields)
}

func withField(fields logging.Fields, key string, value interface{}) logging.Fields {
	return logging.WithFields(fields).Add(key, value)
}

func strPtr(s string) *string {
	return &s
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
