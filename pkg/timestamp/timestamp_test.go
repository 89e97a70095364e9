package timestamp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNowIsMilliseconds(t *testing.T) {
	now := Now()
	assert.Greater(t, now, int64(1e12), "Now() should be in milliseconds")
	assert.InDelta(t, time.Now().UnixMilli(), now, 1000)
}

func TestRoundTrip(t *testing.T) {
	orig := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	ms := ToUnixMs(orig)
	back := FromUnixMs(ms)
	assert.True(t, orig.Equal(back))
}

func TestZeroValues(t *testing.T) {
	assert.Equal(t, int64(0), ToUnixMs(time.Time{}))
	assert.True(t, FromUnixMs(0).IsZero())
	assert.Equal(t, "", Format(0))
	assert.Equal(t, time.Duration(0), Since(0))
}

func TestFormat(t *testing.T) {
	ms := ToUnixMs(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	assert.Equal(t, "2026-01-02T03:04:05Z", Format(ms))
}

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  int64
	}{
		{"nil", nil, 0},
		{"milliseconds int64", int64(1767315845000), 1767315845000},
		{"seconds int64 promoted", int64(1767315845), 1767315845000},
		{"seconds float", float64(1767315845), 1767315845000},
		{"milliseconds float", float64(1767315845000), 1767315845000},
		{"rfc3339 string", "2026-01-02T00:24:05Z", time.Date(2026, 1, 2, 0, 24, 5, 0, time.UTC).UnixMilli()},
		{"numeric string seconds", "1767315845", 1767315845000},
		{"garbage string", "not-a-time", 0},
		{"empty string", "", 0},
		{"unsupported type", struct{}{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Parse(tt.input))
		})
	}
}
