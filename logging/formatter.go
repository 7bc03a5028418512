package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
)

type Formatter interface {
	Format(entry LogEntry) ([]byte, error)
}

// NewFormatter picks a formatter by name. Anything but "json" gives the
// human formatter.
func NewFormatter(name string, w io.Writer) Formatter {
	if strings.EqualFold(strings.TrimSpace(name), "json") {
		return &JSONFormatter{}
	}
	return NewHumanFormatter(w)
}

type JSONFormatter struct{}

func (f *JSONFormatter) Format(entry LogEntry) ([]byte, error) {
	output := map[string]interface{}{
		"timestamp": entry.Timestamp.Format(time.RFC3339),
		"level":     entry.Level.String(),
		"component": entry.Component,
		"action":    entry.Action,
		"message":   entry.Message,
	}

	if len(entry.Fields) > 0 {
		output["fields"] = entry.Fields
	}

	if entry.Error != "" {
		output["error"] = entry.Error
	}

	if entry.ErrorType != "" {
		output["error_type"] = entry.ErrorType
	}

	if entry.TraceID != "" {
		output["trace_id"] = entry.TraceID
	}

	data, err := json.Marshal(output)
	if err != nil {
		return nil, fmt.Errorf("json marshal: %w", err)
	}
	return append(data, '\n'), nil
}

type HumanFormatter struct {
	colorEnabled bool
}

func NewHumanFormatter(w io.Writer) *HumanFormatter {
	colorEnabled := false
	if f, ok := w.(*os.File); ok {
		colorEnabled = isatty.IsTerminal(f.Fd())
	}
	return &HumanFormatter{colorEnabled: colorEnabled}
}

func (f *HumanFormatter) Format(entry LogEntry) ([]byte, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s [%s] %s: %s",
		entry.Timestamp.Format("15:04:05"), f.colorLevel(entry.Level),
		entry.Component, entry.Action, entry.Message)

	if len(entry.Fields) > 0 {
		b.WriteString(" ")
		b.WriteString(formatFields(entry.Fields))
	}

	if entry.Error != "" {
		fmt.Fprintf(&b, " error=%s", entry.Error)
	}

	if entry.ErrorType != "" {
		fmt.Fprintf(&b, " error_type=%s", entry.ErrorType)
	}

	if entry.TraceID != "" {
		fmt.Fprintf(&b, " trace_id=%s", entry.TraceID)
	}

	b.WriteString("\n")
	return []byte(b.String()), nil
}

func (f *HumanFormatter) colorLevel(l LogLevel) string {
	name := l.String()
	if !f.colorEnabled {
		return fmt.Sprintf("%-9s", name)
	}

	var color string
	switch l {
	case TRACE, DEBUG:
		color = "\033[36m" // cyan
	case INFO, NOTICE:
		color = "\033[32m" // green
	case WARN:
		color = "\033[33m" // yellow
	case ERROR:
		color = "\033[31m" // red
	case CRITICAL, ALERT, EMERGENCY:
		color = "\033[1;31m" // bold red
	}
	return fmt.Sprintf("%s%-9s\033[0m", color, name)
}

// formatFields renders fields sorted by key so output is stable.
func formatFields(f Fields) string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, f[k]))
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
