package output

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMode(t *testing.T) {
	cases := []struct {
		in   string
		mode Mode
		size int64
	}{
		{"", ModeNone, 0},
		{"none", ModeNone, 0},
		{"Size", ModeSize, 0},
		{"hourly", ModeHourly, 0},
		{"daily", ModeDaily, 0},
		{"MONTHLY", ModeMonthly, 0},
		{"512", ModeSize, 512 * 1024},
	}

	for _, tc := range cases {
		mode, size, err := ParseMode(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.mode, mode, tc.in)
		assert.Equal(t, tc.size, size, tc.in)
	}

	for _, bad := range []string{"weekly", "-5", "0"} {
		_, _, err := ParseMode(bad)
		assert.Error(t, err, bad)
	}
}

func TestTargetPath(t *testing.T) {
	ts := time.Date(2024, 3, 9, 7, 45, 0, 0, time.UTC)
	path := filepath.Join("out", "events.log")

	cases := map[Mode]string{
		ModeNone:    path,
		ModeSize:    path,
		ModeHourly:  filepath.Join("out", "events2024030907.log"),
		ModeDaily:   filepath.Join("out", "events20240309.log"),
		ModeMonthly: filepath.Join("out", "events202403.log"),
	}

	for mode, want := range cases {
		p := Policy{Mode: mode, Path: path, Location: time.UTC}
		assert.Equal(t, want, p.TargetPath(ts), mode.String())
	}
}

func TestTargetPathUsesPolicyLocation(t *testing.T) {
	ts := time.Date(2024, 3, 9, 23, 30, 0, 0, time.UTC)
	east := time.FixedZone("UTC+2", 2*60*60)

	p := Policy{Mode: ModeDaily, Path: "events.txt", Location: east}
	assert.Equal(t, "events20240310.txt", p.TargetPath(ts))
}

func TestNumberedPath(t *testing.T) {
	assert.Equal(t, filepath.Join("out", "base-3.log"), NumberedPath(filepath.Join("out", "base.log"), 3))
	assert.Equal(t, "noext-1", NumberedPath("noext", 1))
}
