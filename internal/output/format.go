package output

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/oicur0t/logcollect/pkg/models"
)

// Format selects the row layout of the output file.
type Format int

const (
	FormatText Format = iota
	FormatCSV
)

// DefaultTimeLayout is used when no time_format is configured.
const DefaultTimeLayout = "2006-01-02 15:04:05"

// ParseFormat parses "text" or "csv".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text", "txt", "tab":
		return FormatText, nil
	case "csv":
		return FormatCSV, nil
	default:
		return FormatText, fmt.Errorf("unknown output format %q", s)
	}
}

func (f Format) String() string {
	if f == FormatCSV {
		return "csv"
	}
	return "text"
}

// DefaultPath is the output file used when none is configured.
func (f Format) DefaultPath() string {
	if f == FormatCSV {
		return "CollectedEvents.csv"
	}
	return "CollectedEvents.txt"
}

// Formatter renders header and record rows.
type Formatter struct {
	Format      Format
	IncludeHost bool
	Delimiter   string
	TimeLayout  string
}

func (f Formatter) columns() []string {
	cols := []string{"time created"}
	if f.IncludeHost {
		cols = append(cols, "host")
	}
	return append(cols, "log", "id", "provider", "level", "description")
}

// Header returns the header row including its line terminator.
func (f Formatter) Header() string {
	return f.row(f.columns())
}

// Record returns one formatted row including its line terminator.
func (f Formatter) Record(r models.EventRecord) string {
	layout := f.TimeLayout
	if layout == "" {
		layout = DefaultTimeLayout
	}

	fields := []string{r.CreatedAt.Local().Format(layout)}
	if f.IncludeHost {
		fields = append(fields, r.Host)
	}
	fields = append(fields,
		r.LogName,
		strconv.FormatInt(r.ID, 10),
		r.Provider,
		r.Level.String(),
		normalizeNewlines(r.Body),
	)
	return f.row(fields)
}

func (f Formatter) row(fields []string) string {
	var b strings.Builder

	if f.Format == FormatCSV {
		delim := f.Delimiter
		if delim == "" {
			delim = ";"
		}
		for i, field := range fields {
			if i > 0 {
				b.WriteString(delim)
			}
			b.WriteByte('"')
			b.WriteString(strings.ReplaceAll(field, `"`, `""`))
			b.WriteByte('"')
		}
		b.WriteByte('\n')
		return b.String()
	}

	for i, field := range fields {
		if i > 0 {
			b.WriteByte('\t')
		}
		b.WriteString(strings.ReplaceAll(field, "\n", "\n\t"))
	}
	b.WriteByte('\n')
	return b.String()
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.TrimRight(s, "\n")
}
