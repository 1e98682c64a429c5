package source

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisplayHostStripsCredentials(t *testing.T) {
	assert.Equal(t, "web-01", DisplayHost("web-01"))
	assert.Equal(t, "mongodb://db:27017/logs", DisplayHost("mongodb://admin:pw@db:27017/logs"))
	assert.Equal(t, "sqlite:/var/events.db", DisplayHost("sqlite:/var/events.db"))
}

func TestParseTimeString(t *testing.T) {
	for _, s := range []string{
		"2024-05-01T12:00:00Z",
		"2024-05-01T14:00:00+02:00",
		"2024-05-01 12:00:00Z",
		"2024-05-01T12:00:00.000000000Z",
	} {
		got, err := parseTimeString(s)
		require.NoError(t, err, s)
		assert.True(t, got.Equal(t0), s)
	}

	_, err := parseTimeString("yesterday")
	assert.Error(t, err)
}

func TestUnixTime(t *testing.T) {
	assert.True(t, unixTime(float64(t0.Unix())).Equal(t0))
	assert.True(t, unixTime(float64(t0.UnixMilli())).Equal(t0))
	assert.True(t, unixTime(float64(t0.Unix())+0.25).Equal(t0.Add(250*time.Millisecond)))
}
