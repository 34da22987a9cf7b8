// Package schedule turns contacts and state rules into per-contact email
// schedules. The engine is pure: no I/O, no clock reads beyond the
// injected one, identical inputs always produce identical output.
package schedule

import (
	"sort"
	"time"

	"github.com/maxretain/lifecycle-mailer/internal/contacts"
)

// TypeAll marks a skip entry covering every email type for a contact,
// e.g. year-round states or a processing failure.
const TypeAll = "all"

// ScheduledEmail is one planned send.
type ScheduledEmail struct {
	Type   string
	Date   time.Time
	Reason string
}

// SkippedEmail records a suppressed candidate and why. Date is zero for
// whole-contact entries.
type SkippedEmail struct {
	Type   string
	Date   time.Time
	Reason string
}

// Result is the scheduling outcome for one contact.
type Result struct {
	Contact contacts.Contact
	Emails  []ScheduledEmail
	Skipped []SkippedEmail
}

// typeRank fixes the order of same-date entries so output is stable.
func typeRank(t string) int {
	switch t {
	case TypeAll:
		return 0
	case contacts.EmailBirthday:
		return 1
	case contacts.EmailEffectiveDate:
		return 2
	case contacts.EmailAEP:
		return 3
	case contacts.EmailPostWindow:
		return 4
	}
	return 5
}

// finalizeEmails sorts ascending by date and drops duplicate (type, date)
// pairs, keeping the first occurrence.
func finalizeEmails(emails []ScheduledEmail) []ScheduledEmail {
	sort.SliceStable(emails, func(i, j int) bool {
		if !emails[i].Date.Equal(emails[j].Date) {
			return emails[i].Date.Before(emails[j].Date)
		}
		return typeRank(emails[i].Type) < typeRank(emails[j].Type)
	})
	var out []ScheduledEmail
	seen := make(map[string]bool, len(emails))
	for _, e := range emails {
		key := e.Type + "|" + e.Date.Format("2006-01-02")
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, e)
	}
	return out
}

func finalizeSkips(skips []SkippedEmail) []SkippedEmail {
	sort.SliceStable(skips, func(i, j int) bool {
		if !skips[i].Date.Equal(skips[j].Date) {
			return skips[i].Date.Before(skips[j].Date)
		}
		return typeRank(skips[i].Type) < typeRank(skips[j].Type)
	})
	return skips
}
