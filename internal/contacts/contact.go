// Package contacts models the people lifecycle emails go to and the messy
// shapes their records arrive in. Org databases are populated by outside
// importers, so column sets and date formats vary row to row.
package contacts

import (
	"strings"
	"time"

	"github.com/maxretain/lifecycle-mailer/internal/dates"
)

// Canonical email types. "anniversary" is accepted as an inbound alias for
// effective_date and normalized at the boundary.
const (
	EmailBirthday      = "birthday"
	EmailEffectiveDate = "effective_date"
	EmailAEP           = "aep"
	EmailPostWindow    = "post_window"
)

// Types lists the canonical email types in scheduling order.
func Types() []string {
	return []string{EmailBirthday, EmailEffectiveDate, EmailAEP, EmailPostWindow}
}

// NormalizeEmailType lowercases, trims, and maps aliases onto canonical
// email types.
func NormalizeEmailType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	if t == "anniversary" {
		return EmailEffectiveDate
	}
	return t
}

// KnownEmailType reports whether t normalizes to a canonical email type.
func KnownEmailType(t string) bool {
	switch NormalizeEmailType(t) {
	case EmailBirthday, EmailEffectiveDate, EmailAEP, EmailPostWindow:
		return true
	}
	return false
}

// Contact is one schedulable person. Anchor dates are nil when the source
// row had no value or one that would not parse.
type Contact struct {
	ID            string
	Email         string
	FirstName     string
	LastName      string
	State         string
	ZipCode       string
	BirthDate     *time.Time
	EffectiveDate *time.Time
}

// FullName joins the name parts, tolerating either being empty.
func (c Contact) FullName() string {
	return strings.TrimSpace(strings.TrimSpace(c.FirstName) + " " + strings.TrimSpace(c.LastName))
}

// Layouts tried in order by ParseDateFlexible. Unpadded layouts also
// accept their zero-padded forms.
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"1/2/2006",
	"20060102",
	"01022006",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
}

// ParseDateFlexible parses the date formats seen in imported contact data
// and returns midnight UTC, or nil when the value is empty or does not
// parse. Two-digit years always resolve to the 1900s: these are birth and
// policy dates, never future ones.
func ParseDateFlexible(raw string) *time.Time {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			d := dates.Midnight(t)
			return &d
		}
	}
	if t, err := time.Parse("1/2/06", s); err == nil {
		y := t.Year()
		if y >= 2000 {
			y -= 100
		}
		d := dates.New(y, t.Month(), t.Day())
		return &d
	}
	return nil
}
