package logging

import "strings"

// LogLevel is a severity. The order is significant: a logger configured at a
// level drops everything below it.
type LogLevel int

const (
	TRACE LogLevel = iota
	DEBUG
	INFO
	NOTICE
	WARN
	ERROR
	CRITICAL
	ALERT
	EMERGENCY
)

var levelNames = [...]string{
	TRACE:     "trace",
	DEBUG:     "debug",
	INFO:      "info",
	NOTICE:    "notice",
	WARN:      "warning",
	ERROR:     "error",
	CRITICAL:  "critical",
	ALERT:     "alert",
	EMERGENCY: "emergency",
}

// Levels returns every recognized level, least severe first.
func Levels() []LogLevel {
	return []LogLevel{TRACE, DEBUG, INFO, NOTICE, WARN, ERROR, CRITICAL, ALERT, EMERGENCY}
}

func (l LogLevel) String() string {
	if !l.Valid() {
		return "unknown"
	}
	return levelNames[l]
}

func (l LogLevel) Valid() bool {
	return l >= TRACE && l <= EMERGENCY
}

func (l LogLevel) ShouldLog(min LogLevel) bool {
	return l >= min
}

// LookupLevel resolves a level name case-insensitively. "warn" is accepted
// as an alias of "warning".
func LookupLevel(s string) (LogLevel, bool) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "warn" {
		return WARN, true
	}
	for i, n := range levelNames {
		if n == name {
			return LogLevel(i), true
		}
	}
	return INFO, false
}

// ParseLevel is LookupLevel with INFO as the fallback for unknown names.
func ParseLevel(s string) LogLevel {
	l, _ := LookupLevel(s)
	return l
}
