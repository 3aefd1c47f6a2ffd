// Package billing derives monthly billing windows and enforces per-owner
// log quotas against them.
package billing

import (
	"time"
)

// Window is one monthly quota interval anchored at the owner's account
// creation day-of-month. All arithmetic is UTC.
type Window struct {
	Start     time.Time
	End       time.Time
	PeriodKey string
}

// ComputeWindow returns the window containing now for an owner created at
// userCreatedAt. The start falls on the anchor day of the current or
// previous month, clamped to the last day of months too short to hold it;
// the end is the anchor day one month later with the same clamping.
func ComputeWindow(userCreatedAt, now time.Time) Window {
	anchor := userCreatedAt.UTC().Day()
	n := now.UTC()

	start := anchoredDate(n.Year(), n.Month(), anchor)
	if start.After(n) {
		py, pm := prevMonth(n.Year(), n.Month())
		start = anchoredDate(py, pm, anchor)
	}

	ey, em := nextMonth(start.Year(), start.Month())
	end := anchoredDate(ey, em, anchor)

	return Window{
		Start:     start,
		End:       end,
		PeriodKey: start.Format("20060102"),
	}
}

func anchoredDate(year int, month time.Month, day int) time.Time {
	if last := daysInMonth(year, month); day > last {
		day = last
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func prevMonth(year int, month time.Month) (int, time.Month) {
	if month == time.January {
		return year - 1, time.December
	}
	return year, month - 1
}

func nextMonth(year int, month time.Month) (int, time.Month) {
	if month == time.December {
		return year + 1, time.January
	}
	return year, month + 1
}
