// Package timeutil converts between wall-clock values, local calendar-day
// keys, and human-readable durations.
package timeutil

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

const minutesPerDay = 24 * 60

// DayKey renders the local calendar date of t as "YYYY-MM-DD". It uses the
// local date components directly so day boundaries near midnight are not
// shifted by timezone normalization.
func DayKey(t time.Time) string {
	return fmt.Sprintf("%04d-%02d-%02d", t.Year(), int(t.Month()), t.Day())
}

// FormatHM renders the local wall-clock time of t as zero-padded 24-hour "HH:MM".
func FormatHM(t time.Time) string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

// ParseHM parses a zero-padded or plain "HH:MM" 24-hour string.
func ParseHM(value string) (hour, minute int, err error) {
	m := hmPattern.FindStringSubmatch(value)
	if m == nil {
		return 0, 0, fmt.Errorf("invalid HH:MM value %q", value)
	}
	hour, _ = strconv.Atoi(m[1])
	minute, _ = strconv.Atoi(m[2])
	if hour > 23 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid HH:MM value %q", value)
	}
	return hour, minute, nil
}

// CombineDayTime returns day's local calendar date combined with the given
// hour and minute, seconds and sub-seconds zeroed.
func CombineDayTime(day time.Time, hour, minute int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, day.Location())
}

// ComputeSleepDuration returns the "<H>h <M>m" label for the wall-clock
// difference between two "HH:MM" values. An end earlier than the start is
// treated as crossing midnight and gains 24 hours before differencing.
func ComputeSleepDuration(startHM, endHM string) (string, error) {
	sh, sm, err := ParseHM(startHM)
	if err != nil {
		return "", err
	}
	eh, em, err := ParseHM(endHM)
	if err != nil {
		return "", err
	}

	start := sh*60 + sm
	end := eh*60 + em
	if end < start {
		end += minutesPerDay
	}
	return FormatDurationMinutes(end - start), nil
}

// FormatDurationMinutes renders a minute count as "<H>h <M>m".
func FormatDurationMinutes(minutes int) string {
	return fmt.Sprintf("%dh %dm", minutes/60, minutes%60)
}

var (
	hmPattern       = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)
	durationPattern = regexp.MustCompile(`(\d+)h\s*(\d+)m`)
)

// ParseDurationLabel parses a "<H>h <M>m" label back into minutes. The
// second return value reports whether the label matched.
func ParseDurationLabel(label string) (int, bool) {
	m := durationPattern.FindStringSubmatch(label)
	if m == nil {
		return 0, false
	}
	hours, _ := strconv.Atoi(m[1])
	minutes, _ := strconv.Atoi(m[2])
	return hours*60 + minutes, true
}
