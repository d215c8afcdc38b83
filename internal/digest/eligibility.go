// Package digest implements the periodic digest-notification engine: walking
// user profiles in pages, deciding per user whether a notification is due,
// selecting fresh articles per subscribed discipline, delivering through the
// email gateway in fixed-size batches, and durably recording delivery state
// so that re-runs are safe.
//
// Data flows strictly forward (paginate, evaluate, select, deliver); the
// only durable side effect of a run is the bulk last-notified write at the
// very end, covering exactly the users whose batch send succeeded.
package digest

import (
	"time"

	"veille/internal/types"
)

// dailyToleranceHours lets a daily user notified at, say, 08:00 be picked up
// the next morning even when the scheduler fires slightly early relative to
// a strict one-calendar-day boundary. Deliberate tolerance, not a bug.
const dailyToleranceHours = 16

// IsDue reports whether enough time has passed since lastSent for a user on
// the given frequency, evaluated at now. Pure and total over the closed
// frequency enum: unknown frequencies are never due.
//
// Day arithmetic uses UTC calendar-day boundaries (midnight UTC), not local
// time and not raw 24-hour spans, so the decision cannot drift across
// timezones or daylight-saving transitions. Ties resolve to "due" at exactly
// N elapsed days and to "not due" below that.
//
// A nil lastSent means the user has never been notified and is always due.
func IsDue(freq types.Frequency, lastSent *time.Time, now time.Time) bool {
	rule := freq.Rule()
	if rule.MinDays == 0 {
		return false
	}
	if lastSent == nil {
		return true
	}

	daysSince := utcDaysBetween(*lastSent, now)

	if freq == types.FrequencyDaily {
		hoursSince := int(now.Sub(*lastSent).Hours())
		return daysSince >= rule.MinDays || hoursSince >= dailyToleranceHours
	}
	return daysSince >= rule.MinDays
}

// utcDaysBetween counts whole UTC calendar days between from and to,
// comparing midnight boundaries rather than elapsed durations.
func utcDaysBetween(from, to time.Time) int {
	return int(startOfUTCDay(to).Sub(startOfUTCDay(from)).Hours() / 24)
}

// startOfUTCDay truncates t to midnight UTC.
func startOfUTCDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
