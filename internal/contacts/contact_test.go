package contacts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestParseDateFlexible(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want time.Time
	}{
		{"iso", "1956-03-15", date(1956, 3, 15)},
		{"iso with time", "1956-03-15 10:30:00", date(1956, 3, 15)},
		{"rfc3339", "1956-03-15T10:30:00Z", date(1956, 3, 15)},
		{"us padded", "03/15/1956", date(1956, 3, 15)},
		{"us unpadded", "3/5/1956", date(1956, 3, 5)},
		{"us two-digit year", "03/15/56", date(1956, 3, 15)},
		{"us two-digit year low", "03/15/02", date(1902, 3, 15)},
		{"compact ymd", "19560315", date(1956, 3, 15)},
		{"compact mdy", "12311956", date(1956, 12, 31)},
		{"long month", "March 15, 1956", date(1956, 3, 15)},
		{"short month", "Mar 15, 1956", date(1956, 3, 15)},
		{"day first", "15 March 1956", date(1956, 3, 15)},
		{"padded input", "  1956-03-15  ", date(1956, 3, 15)},
		{"leap day", "2000-02-29", date(2000, 2, 29)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseDateFlexible(tt.in)
			require.NotNil(t, got)
			assert.Equal(t, tt.want, *got)
		})
	}
}

func TestParseDateFlexibleRejects(t *testing.T) {
	for _, in := range []string{"", "   ", "not a date", "13/45/1999", "1956-13-01", "99999999"} {
		assert.Nil(t, ParseDateFlexible(in), "input %q", in)
	}
}

func TestParseDateFlexibleTwoDigitYearsAreLastCentury(t *testing.T) {
	// Birth and policy dates never land in the future, so 2-digit years
	// resolve to the 1900s regardless of what the stdlib would pick.
	got := ParseDateFlexible("6/9/25")
	require.NotNil(t, got)
	assert.Equal(t, 1925, got.Year())
}

func TestNormalizeEmailType(t *testing.T) {
	assert.Equal(t, EmailEffectiveDate, NormalizeEmailType("anniversary"))
	assert.Equal(t, EmailEffectiveDate, NormalizeEmailType(" Anniversary "))
	assert.Equal(t, EmailBirthday, NormalizeEmailType("BIRTHDAY"))
	assert.Equal(t, EmailAEP, NormalizeEmailType("aep"))
	assert.Equal(t, "bogus", NormalizeEmailType("bogus"))
}

func TestKnownEmailType(t *testing.T) {
	for _, typ := range []string{"birthday", "effective_date", "aep", "post_window", "anniversary", "AEP"} {
		assert.True(t, KnownEmailType(typ), typ)
	}
	assert.False(t, KnownEmailType("newsletter"))
	assert.False(t, KnownEmailType(""))
	assert.False(t, KnownEmailType("all"))
}

func TestFullName(t *testing.T) {
	assert.Equal(t, "Jane Smith", Contact{FirstName: "Jane", LastName: "Smith"}.FullName())
	assert.Equal(t, "Jane", Contact{FirstName: " Jane "}.FullName())
	assert.Equal(t, "Smith", Contact{LastName: "Smith"}.FullName())
	assert.Equal(t, "", Contact{}.FullName())
}
