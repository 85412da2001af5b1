package humanfmt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBytes(t *testing.T) {
	tests := []struct {
		input int64
		want  string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.00 KiB"},
		{1536, "1.50 KiB"},
		{1572864, "1.50 MiB"},
		{1073741824, "1.00 GiB"},
		{-100, "-100 B"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Bytes(tt.input), "Bytes(%d)", tt.input)
	}
}

func TestDuration(t *testing.T) {
	tests := []struct {
		input time.Duration
		want  string
	}{
		{0, "0µs"},
		{500 * time.Microsecond, "500µs"},
		{1 * time.Millisecond, "1.0ms"},
		{500 * time.Millisecond, "500.0ms"},
		{1230 * time.Millisecond, "1.23s"},
		{60 * time.Second, "1m"},
		{90 * time.Second, "1m30s"},
		{3600 * time.Second, "1h"},
		{8100 * time.Second, "2h15m"},
		{-time.Second, "-1s"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Duration(tt.input), "Duration(%v)", tt.input)
	}
}

func TestCount(t *testing.T) {
	tests := []struct {
		input int64
		want  string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1.00K"},
		{1500000, "1.50M"},
		{2000000000, "2.00B"},
		{-5, "-5"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Count(tt.input), "Count(%d)", tt.input)
	}
}

func TestRate(t *testing.T) {
	assert.Equal(t, "∞", Rate(10, 0))
	assert.Equal(t, "10.0/s", Rate(10, time.Second))
	assert.Equal(t, "25.0/s", Rate(50, 2*time.Second))
	assert.Equal(t, "5.00K/s", Rate(5000, time.Second))
}
