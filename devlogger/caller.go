package devlogger

import (
	"runtime"
	"strconv"
	"strings"
)

// Frame is one entry of a call stack, most recent first.
type Frame struct {
	File     string
	Line     int
	Function string
}

// UnknownFile is reported when no frame qualifies as the caller.
const UnknownFile = "unknown"

// DefaultExcludedPaths hides dependency and framework code from caller
// resolution.
var DefaultExcludedPaths = []string{"vendor/", "storage/framework/", "/pkg/mod/"}

const modulePath = "github.com/auditmos/devlogger"

// Functions under these prefixes belong to the logger itself.
var internalFunctions = []string{
	modulePath + "/devlogger.",
	modulePath + "/httpcapture.",
	"log/slog.",
	"runtime.",
}

// ResolveCaller returns the file and line of the first frame that is not
// logger or runtime code and whose file matches none of excluded.
func ResolveCaller(frames []Frame, excluded []string) (string, int) {
	for _, f := range frames {
		if f.File == "" || isInternal(f.Function) || isExcluded(f.File, excluded) {
			continue
		}
		return f.File, f.Line
	}
	return UnknownFile, 0
}

func isInternal(function string) bool {
	for _, prefix := range internalFunctions {
		if strings.HasPrefix(function, prefix) {
			return true
		}
	}
	return false
}

func isExcluded(file string, excluded []string) bool {
	for _, p := range excluded {
		if p != "" && strings.Contains(file, p) {
			return true
		}
	}
	return false
}

// CaptureFrames returns the current goroutine's stack. skip 0 starts at the
// function calling CaptureFrames.
func CaptureFrames(skip int) []Frame {
	pcs := make([]uintptr, 64)
	n := runtime.Callers(skip+2, pcs)
	if n == 0 {
		return nil
	}

	frames := runtime.CallersFrames(pcs[:n])
	out := make([]Frame, 0, n)
	for {
		f, more := frames.Next()
		out = append(out, Frame{File: f.File, Line: f.Line, Function: f.Function})
		if !more {
			break
		}
	}
	return out
}

// TrimInternal drops the logger's own frames from the top of the stack.
func TrimInternal(frames []Frame) []Frame {
	for i, f := range frames {
		if !isInternal(f.Function) {
			return frames[i:]
		}
	}
	return nil
}

// FormatStack renders frames one per line as "file:line function".
func FormatStack(frames []Frame) string {
	var b strings.Builder
	for i, f := range frames {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(f.File)
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(f.Line))
		if f.Function != "" {
			b.WriteByte(' ')
			b.WriteString(f.Function)
		}
	}
	return b.String()
}
