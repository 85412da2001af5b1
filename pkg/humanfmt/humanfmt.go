// Package humanfmt formats byte sizes, durations, counts and rates for log companions.
package humanfmt

import (
	"fmt"
	"strconv"
	"time"
)

// Binary (IEC) units for bytes.
const (
	KiB = 1024
	MiB = 1024 * KiB
	GiB = 1024 * MiB
)

// Bytes formats a byte count like "1.23 MiB".
func Bytes(b int64) string {
	switch {
	case b < 0:
		return fmt.Sprintf("%d B", b)
	case b >= GiB:
		return fmt.Sprintf("%.2f GiB", float64(b)/GiB)
	case b >= MiB:
		return fmt.Sprintf("%.2f MiB", float64(b)/MiB)
	case b >= KiB:
		return fmt.Sprintf("%.2f KiB", float64(b)/KiB)
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// Duration formats d compactly: "2h15m", "1m30s", "1.23s", "45.6ms".
func Duration(d time.Duration) string {
	switch {
	case d < 0:
		return d.String()
	case d >= time.Hour:
		h := d / time.Hour
		if m := (d % time.Hour) / time.Minute; m != 0 {
			return fmt.Sprintf("%dh%dm", h, m)
		}
		return fmt.Sprintf("%dh", h)
	case d >= time.Minute:
		m := d / time.Minute
		if s := (d % time.Minute) / time.Second; s != 0 {
			return fmt.Sprintf("%dm%ds", m, s)
		}
		return fmt.Sprintf("%dm", m)
	case d >= time.Second:
		return fmt.Sprintf("%.2fs", d.Seconds())
	case d >= time.Millisecond:
		return fmt.Sprintf("%.1fms", float64(d)/float64(time.Millisecond))
	default:
		return fmt.Sprintf("%dµs", d.Microseconds())
	}
}

// Count formats n with K/M/B suffixes: "1.23M", "456", "2.00K".
func Count(n int64) string {
	const (
		thousand = 1000
		million  = 1000 * thousand
		billion  = 1000 * million
	)

	switch {
	case n < 0:
		return strconv.FormatInt(n, 10)
	case n >= billion:
		return fmt.Sprintf("%.2fB", float64(n)/billion)
	case n >= million:
		return fmt.Sprintf("%.2fM", float64(n)/million)
	case n >= thousand:
		return fmt.Sprintf("%.2fK", float64(n)/thousand)
	default:
		return strconv.FormatInt(n, 10)
	}
}

// Rate formats n items over d as "12.3K/s".
func Rate(n int64, d time.Duration) string {
	if d <= 0 {
		return "∞"
	}
	perSec := float64(n) / d.Seconds()
	if perSec < 1000 {
		return fmt.Sprintf("%.1f/s", perSec)
	}
	return Count(int64(perSec)) + "/s"
}
