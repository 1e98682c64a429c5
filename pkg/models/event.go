package models

import (
	"strconv"
	"strings"
	"time"
)

// Level is the severity of a record. Lower values are more severe.
type Level int

const (
	LevelLogAlways     Level = 0
	LevelCritical      Level = 1
	LevelError         Level = 2
	LevelWarning       Level = 3
	LevelInformational Level = 4
	LevelVerbose       Level = 5

	// LevelUnknown marks records the source could not classify.
	LevelUnknown Level = 99

	// Unbounded is the severity ceiling that disables level filtering.
	Unbounded Level = -1
)

var levelNames = map[Level]string{
	LevelLogAlways:     "LogAlways",
	LevelCritical:      "Critical",
	LevelError:         "Error",
	LevelWarning:       "Warning",
	LevelInformational: "Informational",
	LevelVerbose:       "Verbose",
	LevelUnknown:       "Unknown",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "Unknown"
}

// Admits reports whether a record of the given level passes l used as a ceiling.
func (l Level) Admits(level Level) bool {
	if l == Unbounded {
		return true
	}
	return level <= l
}

// ParseLevel accepts level names (case-insensitive, common aliases) and
// numeric values 0-5. Anything else is LevelUnknown.
func ParseLevel(s string) Level {
	s = strings.TrimSpace(strings.ToLower(s))
	if n, err := strconv.Atoi(s); err == nil {
		return LevelFromInt(int64(n))
	}

	switch s {
	case "logalways", "always":
		return LevelLogAlways
	case "critical", "crit", "fatal", "panic":
		return LevelCritical
	case "error", "err":
		return LevelError
	case "warning", "warn":
		return LevelWarning
	case "informational", "information", "info", "notice":
		return LevelInformational
	case "verbose", "debug", "trace":
		return LevelVerbose
	default:
		return LevelUnknown
	}
}

// LevelFromInt maps a numeric level to a Level, LevelUnknown when out of range.
func LevelFromInt(n int64) Level {
	if n < int64(LevelLogAlways) || n > int64(LevelVerbose) {
		return LevelUnknown
	}
	return Level(n)
}

// CeilingFromInt converts a configured max level into a ceiling.
// Zero or negative means Unbounded.
func CeilingFromInt(n int) Level {
	if n <= 0 {
		return Unbounded
	}
	if n > int(LevelVerbose) {
		return LevelVerbose
	}
	return Level(n)
}

// EventRecord is a single normalized log record.
type EventRecord struct {
	CreatedAt time.Time `json:"created_at"`
	Host      string    `json:"host,omitempty"`
	LogName   string    `json:"log_name"`
	ID        int64     `json:"id"`
	Provider  string    `json:"provider"`
	Level     Level     `json:"level"`
	Body      string    `json:"body"`
}

// CreatedAtOrNow returns t, or now when the source did not supply a timestamp.
func CreatedAtOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}

// RenderFailure is the body substituted for a record whose description
// could not be rendered.
func RenderFailure(err error) string {
	return "error reading record: " + err.Error()
}

// Target is one (host, log) pair queried in a cycle.
type Target struct {
	Host    string `json:"host"`
	LogName string `json:"log_name"`
}

// Window is the half-open time range (Start, End].
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return t.After(w.Start) && !t.After(w.End)
}

// LogList is the agent response for log name enumeration.
type LogList struct {
	Logs []string `json:"logs"`
}

// RecordPage is the agent response for a windowed query.
type RecordPage struct {
	LogName string        `json:"log_name"`
	Window  Window        `json:"window"`
	Records []EventRecord `json:"records"`
}
