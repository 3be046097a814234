// Package time holds the calendar arithmetic behind recurring reminders and the
// display-zone lookup used when rendering due times.
package time

import (
	"fmt"
	"time"
)

// Step advances t by one recurrence cycle.
type Step func(t time.Time) time.Time

// Daily advances by one calendar day, keeping the wall-clock time across DST changes.
func Daily(t time.Time) time.Time { return t.AddDate(0, 0, 1) }

// Weekly advances by seven calendar days.
func Weekly(t time.Time) time.Time { return t.AddDate(0, 0, 7) }

// EveryMinutes returns a Step of a fixed number of minutes.
func EveryMinutes(minutes int) (Step, error) {
	if minutes <= 0 {
		return nil, fmt.Errorf("interval must be a positive number of minutes, got %d", minutes)
	}
	d := time.Duration(minutes) * time.Minute
	return func(t time.Time) time.Time { return t.Add(d) }, nil
}

// NextAfter applies step to base at least once and keeps stepping until the result is
// strictly after now. A recurrence that was missed while the process was down is
// skipped rather than replayed.
func NextAfter(base time.Time, step Step, now time.Time) time.Time {
	next := step(base)
	if next.After(now) {
		return next
	}

	// Jump close to now in one go for fixed-length steps so a long outage does not
	// cost one iteration per missed cycle.
	period := next.Sub(base)
	if period > 0 {
		if skipped := now.Sub(next) / period; skipped > 1 {
			candidate := next.Add((skipped - 1) * period)
			sameClock := candidate.Hour() == next.Hour() && candidate.Minute() == next.Minute()
			if sameClock && step(candidate).Sub(candidate) == period {
				next = candidate
			}
		}
	}
	for !next.After(now) {
		next = step(next)
	}
	return next
}
