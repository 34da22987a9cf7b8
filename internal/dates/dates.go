// Package dates provides leap-year-safe calendar arithmetic for schedule
// computation. All functions are pure and operate on UTC-midnight dates.
package dates

import "time"

// New returns the UTC midnight date for the given components. Out-of-range
// days are clamped by SafeDate rather than normalized forward.
func New(year int, month time.Month, day int) time.Time {
	return SafeDate(year, month, day)
}

// Midnight truncates a time to its UTC calendar date.
func Midnight(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// IsLeapYear reports whether year is a Gregorian leap year.
func IsLeapYear(year int) bool {
	if year%400 == 0 {
		return true
	}
	if year%100 == 0 {
		return false
	}
	return year%4 == 0
}

// DaysIn returns the number of days in the given month.
func DaysIn(year int, month time.Month) int {
	// Day 0 of the next month is the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// SafeDate builds a date, clamping invalid days to the end of the month.
// Feb 29 in a non-leap year becomes Feb 28.
func SafeDate(year int, month time.Month, day int) time.Time {
	if day < 1 {
		day = 1
	}
	if max := DaysIn(year, month); day > max {
		day = max
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// MonthEnd returns the last day of the given month.
func MonthEnd(year int, month time.Month) time.Time {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC)
}

// IsMonthEnd reports whether the following day is the first of the next month.
func IsMonthEnd(t time.Time) bool {
	return t.AddDate(0, 0, 1).Day() == 1
}

// YearlyOccurrences realizes the anchor's month/day in every year touching
// [from, to] and returns the occurrences that fall inside the inclusive
// range, ascending. Feb 29 anchors realize as Feb 28 in non-leap years.
func YearlyOccurrences(anchor, from, to time.Time) []time.Time {
	from, to = Midnight(from), Midnight(to)
	if to.Before(from) {
		return nil
	}
	var out []time.Time
	for year := from.Year(); year <= to.Year(); year++ {
		occ := SafeDate(year, anchor.Month(), anchor.Day())
		if occ.Before(from) || occ.After(to) {
			continue
		}
		out = append(out, occ)
	}
	return out
}
