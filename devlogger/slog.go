package devlogger

import (
	"context"
	"log/slog"
	"strings"

	"github.com/auditmos/devlogger/logging"
)

// SlogHandler is a slog.Handler that records through a Logger, so code
// written against log/slog ends up in the same store.
type SlogHandler struct {
	logger *Logger
	fields logging.Fields
	groups []string
}

func NewSlogHandler(l *Logger) *SlogHandler {
	return &SlogHandler{logger: l}
}

func (h *SlogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return FromSlogLevel(level).ShouldLog(h.logger.minLevel)
}

func (h *SlogHandler) Handle(ctx context.Context, r slog.Record) error {
	fields := make(logging.Fields, len(h.fields)+r.NumAttrs())
	for k, v := range h.fields {
		fields[k] = v
	}
	prefix := h.prefix()
	r.Attrs(func(a slog.Attr) bool {
		addAttr(fields, prefix, a)
		return true
	})
	if len(fields) == 0 {
		fields = nil
	}

	h.logger.Log(ctx, FromSlogLevel(r.Level), r.Message, fields)
	return nil
}

func (h *SlogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	next := *h
	next.fields = make(logging.Fields, len(h.fields)+len(attrs))
	for k, v := range h.fields {
		next.fields[k] = v
	}
	prefix := h.prefix()
	for _, a := range attrs {
		addAttr(next.fields, prefix, a)
	}
	return &next
}

func (h *SlogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.groups = append(append([]string(nil), h.groups...), name)
	return &next
}

func (h *SlogHandler) prefix() string {
	if len(h.groups) == 0 {
		return ""
	}
	return strings.Join(h.groups, ".") + "."
}

// addAttr flattens groups into dotted keys.
func addAttr(fields logging.Fields, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		groupPrefix := prefix
		if a.Key != "" {
			groupPrefix = prefix + a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			addAttr(fields, groupPrefix, ga)
		}
		return
	}
	fields[prefix+a.Key] = a.Value.Any()
}

// FromSlogLevel maps slog's open-ended levels onto the nine severities.
// Steps of two between Info and Warn give notice; steps of four above
// Error give critical, alert and emergency.
func FromSlogLevel(l slog.Level) logging.LogLevel {
	switch {
	case l < slog.LevelDebug:
		return logging.TRACE
	case l < slog.LevelInfo:
		return logging.DEBUG
	case l < slog.LevelInfo+2:
		return logging.INFO
	case l < slog.LevelWarn:
		return logging.NOTICE
	case l < slog.LevelError:
		return logging.WARN
	case l < slog.LevelError+4:
		return logging.ERROR
	case l < slog.LevelError+8:
		return logging.CRITICAL
	case l < slog.LevelError+12:
		return logging.ALERT
	default:
		return logging.EMERGENCY
	}
}
