package logger

import (
	"regexp"
	"strings"
)

var emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

// Field names whose whole value is treated as an address even when it
// does not look like one.
var sensitiveKeys = []string{"email", "recipient", "to", "contact_email", "test_email"}

// redactValue masks addresses in a field value. Fields named after an
// address are masked wholesale; any other field only has embedded
// addresses replaced.
func redactValue(key, val string) string {
	lk := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if lk == s || strings.HasSuffix(lk, "_"+s) {
			return RedactEmail(val)
		}
	}
	return emailPattern.ReplaceAllStringFunc(val, RedactEmail)
}

// RedactEmail masks an address for safe logging:
// "rose.nguyen@example.com" becomes "ro***@example.com". Local parts of
// two characters or fewer are masked entirely.
func RedactEmail(email string) string {
	at := strings.LastIndexByte(email, '@')
	if at < 0 {
		return "***@***"
	}
	local, domain := email[:at], email[at+1:]
	if len(local) > 2 {
		return local[:2] + "***@" + domain
	}
	return "***@" + domain
}
