// Package clock is the single source of "now" so tests can pin time.
package clock

import "time"

// DateTimeLayout matches the DATETIME columns in the database.
const DateTimeLayout = "2006-01-02 15:04:05"

var nowFunc = time.Now

// Now returns the current time in UTC.
func Now() time.Time {
	return nowFunc().UTC()
}

// NowUnix returns the current time as epoch seconds.
func NowUnix() int64 {
	return Now().Unix()
}

// NowDateTime returns the current time formatted for a DATETIME column.
func NowDateTime() string {
	return Now().Format(DateTimeLayout)
}

// Format renders t for a DATETIME column.
func Format(t time.Time) string {
	return t.UTC().Format(DateTimeLayout)
}

// Parse reads a DATETIME column value back into a time. It also accepts
// RFC 3339, which clients use for softban timestamps.
func Parse(s string) (time.Time, error) {
	for _, layout := range []string{DateTimeLayout, "2006-01-02T15:04:05", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Parse(time.RFC3339Nano, s)
}

// SetTest pins the clock for tests.
func SetTest(t time.Time) {
	nowFunc = func() time.Time { return t }
}

// Reset restores the wall clock.
func Reset() {
	nowFunc = time.Now
}
