package dates

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsLeapYear(t *testing.T) {
	assert.True(t, IsLeapYear(2024))
	assert.True(t, IsLeapYear(2000))
	assert.False(t, IsLeapYear(2025))
	assert.False(t, IsLeapYear(1900))
	assert.False(t, IsLeapYear(2100))
}

func TestSafeDate(t *testing.T) {
	// Feb 29 in a leap year stands
	assert.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), SafeDate(2024, 2, 29))

	// Feb 29 in a non-leap year falls back to Feb 28
	assert.Equal(t, time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC), SafeDate(2025, 2, 29))

	// Day overflow clamps to month end
	assert.Equal(t, time.Date(2024, 4, 30, 0, 0, 0, 0, time.UTC), SafeDate(2024, 4, 31))

	// Day underflow clamps to the first
	assert.Equal(t, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), SafeDate(2024, 4, 0))
}

func TestDaysIn(t *testing.T) {
	assert.Equal(t, 29, DaysIn(2024, time.February))
	assert.Equal(t, 28, DaysIn(2025, time.February))
	assert.Equal(t, 31, DaysIn(2024, time.January))
	assert.Equal(t, 30, DaysIn(2024, time.September))
}

func TestIsMonthEnd(t *testing.T) {
	assert.True(t, IsMonthEnd(time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)))
	assert.False(t, IsMonthEnd(time.Date(2024, 2, 28, 0, 0, 0, 0, time.UTC)))
	assert.True(t, IsMonthEnd(time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC)))
	assert.True(t, IsMonthEnd(time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)))
	assert.False(t, IsMonthEnd(time.Date(2024, 12, 30, 0, 0, 0, 0, time.UTC)))
}

func TestMonthEnd(t *testing.T) {
	assert.Equal(t, time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC), MonthEnd(2024, time.March))
	assert.Equal(t, time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC), MonthEnd(2025, time.February))
}

func TestYearlyOccurrences(t *testing.T) {
	anchor := time.Date(1960, 6, 15, 0, 0, 0, 0, time.UTC)
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)

	occ := YearlyOccurrences(anchor, from, to)
	require.Len(t, occ, 2)
	assert.Equal(t, time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC), occ[0])
	assert.Equal(t, time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC), occ[1])
}

func TestYearlyOccurrencesLeapAnchor(t *testing.T) {
	anchor := time.Date(1960, 2, 29, 0, 0, 0, 0, time.UTC)
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)

	occ := YearlyOccurrences(anchor, from, to)
	require.Len(t, occ, 2)
	assert.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), occ[0], "leap year keeps Feb 29")
	assert.Equal(t, time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC), occ[1], "non-leap year falls back to Feb 28")
}

func TestYearlyOccurrencesBoundary(t *testing.T) {
	anchor := time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)

	// Occurrence exactly at the range edges is included.
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	occ := YearlyOccurrences(anchor, from, to)
	require.Len(t, occ, 2)

	// Occurrence before the range start is excluded.
	from = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	occ = YearlyOccurrences(anchor, from, to)
	require.Len(t, occ, 1)
	assert.Equal(t, 2025, occ[0].Year())
}

func TestYearlyOccurrencesInvertedRange(t *testing.T) {
	anchor := time.Date(1970, 6, 1, 0, 0, 0, 0, time.UTC)
	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Empty(t, YearlyOccurrences(anchor, from, to))
}
