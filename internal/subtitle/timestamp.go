// Package subtitle converts between millisecond offsets and SRT/WebVTT
// timestamp text, and builds or parses whole subtitle documents.
package subtitle

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Format selects the subtitle flavour
type Format string

const (
	FormatSRT Format = "srt"
	FormatVTT Format = "vtt"
)

const (
	msPerSecond = 1000
	msPerMinute = 60 * msPerSecond
	msPerHour   = 60 * msPerMinute
)

// FormatTimestamp renders ms as HH:MM:SS,mmm (SRT) or HH:MM:SS.mmm (VTT).
// Negative values are clamped to zero. Hours grow past two digits when needed.
func FormatTimestamp(ms int64, format Format) string {
	if ms < 0 {
		ms = 0
	}
	sep := ","
	if format == FormatVTT {
		sep = "."
	}

	hours := ms / msPerHour
	ms -= hours * msPerHour
	minutes := ms / msPerMinute
	ms -= minutes * msPerMinute
	seconds := ms / msPerSecond
	ms -= seconds * msPerSecond

	return fmt.Sprintf("%02d:%02d:%02d%s%03d", hours, minutes, seconds, sep, ms)
}

// FormatSRTTimestamp is FormatTimestamp with the SRT separator
func FormatSRTTimestamp(ms int64) string {
	return FormatTimestamp(ms, FormatSRT)
}

// FormatVTTTimestamp is FormatTimestamp with the VTT separator
func FormatVTTTimestamp(ms int64) string {
	return FormatTimestamp(ms, FormatVTT)
}

// ParseTimestamp parses SRT or VTT timestamp text into milliseconds.
// Both separators are accepted, as is the short VTT form MM:SS.mmm.
func ParseTimestamp(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, fmt.Errorf("empty timestamp")
	}

	value = strings.ReplaceAll(value, ",", ".")
	main, frac, ok := strings.Cut(value, ".")
	if !ok || len(frac) != 3 {
		return 0, fmt.Errorf("invalid timestamp %q", value)
	}

	parts := strings.Split(main, ":")
	if len(parts) == 2 {
		parts = append([]string{"0"}, parts...)
	}
	if len(parts) != 3 {
		return 0, fmt.Errorf("invalid timestamp %q", value)
	}

	hours, errH := parseField(parts[0], math.MaxInt64/msPerHour)
	minutes, errM := parseField(parts[1], 59)
	seconds, errS := parseField(parts[2], 59)
	millis, errMS := parseField(frac, 999)
	if errH != nil || errM != nil || errS != nil || errMS != nil {
		return 0, fmt.Errorf("invalid timestamp %q", value)
	}

	rest := minutes*msPerMinute + seconds*msPerSecond + millis
	if hours*msPerHour > math.MaxInt64-rest {
		return 0, fmt.Errorf("timestamp %q out of range", value)
	}
	return hours*msPerHour + rest, nil
}

func parseField(s string, max int64) (int64, error) {
	if s == "" || strings.ContainsAny(s, "+-") {
		return 0, fmt.Errorf("bad field %q", s)
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	if n > max {
		return 0, fmt.Errorf("field %q out of range", s)
	}
	return n, nil
}

// SecondsToMs converts fractional seconds to whole milliseconds, rounding to nearest.
func SecondsToMs(seconds float64) int64 {
	if seconds <= 0 || math.IsNaN(seconds) {
		return 0
	}
	return int64(math.Round(seconds * msPerSecond))
}

// MsToSeconds converts milliseconds to fractional seconds
func MsToSeconds(ms int64) float64 {
	return float64(ms) / msPerSecond
}
