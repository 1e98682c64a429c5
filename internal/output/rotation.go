package output

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Mode is the rotation discipline of the output file set.
type Mode int

const (
	ModeNone Mode = iota
	ModeSize
	ModeHourly
	ModeDaily
	ModeMonthly
)

var modeNames = map[Mode]string{
	ModeNone:    "none",
	ModeSize:    "size",
	ModeHourly:  "hourly",
	ModeDaily:   "daily",
	ModeMonthly: "monthly",
}

func (m Mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return "unknown"
}

// ParseMode parses a rotation setting. A bare positive integer selects
// ModeSize with that many kilobytes as threshold, returned as sizeBytes.
func ParseMode(s string) (mode Mode, sizeBytes int64, err error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "", "none":
		return ModeNone, 0, nil
	case "size":
		return ModeSize, 0, nil
	case "hourly":
		return ModeHourly, 0, nil
	case "daily":
		return ModeDaily, 0, nil
	case "monthly":
		return ModeMonthly, 0, nil
	}

	kb, convErr := strconv.ParseInt(s, 10, 64)
	if convErr != nil || kb <= 0 {
		return ModeNone, 0, fmt.Errorf("unknown rotation mode %q", s)
	}
	return ModeSize, kb * 1024, nil
}

// Dated reports whether the mode derives file names from record time.
func (m Mode) Dated() bool {
	return m == ModeHourly || m == ModeDaily || m == ModeMonthly
}

// suffixLayout is the time layout of the date suffix; zero-padded and
// fixed width so lexical order equals chronological order.
func (m Mode) suffixLayout() string {
	switch m {
	case ModeHourly:
		return "2006010215"
	case ModeDaily:
		return "20060102"
	case ModeMonthly:
		return "200601"
	default:
		return ""
	}
}

func (m Mode) suffixDigits() int {
	return len(m.suffixLayout())
}

// Policy decides which file a record belongs in.
type Policy struct {
	Mode     Mode
	Path     string
	MaxSize  int64
	Keep     int
	Location *time.Location
}

// TargetPath returns the output file for a record created at t.
func (p Policy) TargetPath(t time.Time) string {
	if !p.Mode.Dated() {
		return p.Path
	}

	loc := p.Location
	if loc == nil {
		loc = time.Local
	}
	base, ext := splitExt(p.Path)
	return base + t.In(loc).Format(p.Mode.suffixLayout()) + ext
}

func splitExt(path string) (base, ext string) {
	ext = filepath.Ext(path)
	return strings.TrimSuffix(path, ext), ext
}
