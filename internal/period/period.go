// Package period resolves the calendar windows sessions are grouped into.
// All computation uses the host's local calendar day; no timezone
// normalization is performed. Week tags are assigned to sessions once, at
// creation time, so changing these rules only affects new sessions.
package period

import "time"

// DayStart truncates a timestamp to the start of its calendar day.
func DayStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// WeekStart returns the Sunday-aligned start of the week containing t,
// truncated to day granularity.
func WeekStart(t time.Time) time.Time {
	d := DayStart(t)
	return d.AddDate(0, 0, -int(d.Weekday()))
}

// WeekEnd returns the last day of the week (inclusive): weekStart + 6 days.
func WeekEnd(weekStart time.Time) time.Time {
	return weekStart.AddDate(0, 0, 6)
}

// MonthStart truncates a timestamp to the first day of its month.
func MonthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

// CurrentWeek returns the boundaries of the week containing now.
func CurrentWeek() (start, end time.Time) {
	start = WeekStart(time.Now())
	return start, WeekEnd(start)
}

// Key formats a period start as the canonical string used for redis keys
// and websocket subscriptions.
func Key(periodStart time.Time) string {
	return periodStart.Format("2006-01-02")
}
