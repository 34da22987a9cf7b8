package templates

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/osteele/liquid"
)

// registerFilters installs the formatting filters the stock templates
// lean on. The date filter replaces Liquid's strftime-style built-in so
// every template formats dates the same way.
func registerFilters(engine *liquid.Engine) {
	// {{ birth_date | date }} -> "March 5, 1955"
	engine.RegisterFilter("date", func(value interface{}) string {
		switch v := value.(type) {
		case time.Time:
			return v.Format("January 2, 2006")
		case *time.Time:
			if v == nil {
				return ""
			}
			return v.Format("January 2, 2006")
		case string:
			for _, layout := range []string{"2006-01-02", time.RFC3339} {
				if t, err := time.Parse(layout, v); err == nil {
					return t.Format("January 2, 2006")
				}
			}
			return v
		case nil:
			return ""
		default:
			return fmt.Sprintf("%v", value)
		}
	})

	// {{ organization.phone | phone }} -> "(800) 555-0100"
	engine.RegisterFilter("phone", func(value interface{}) string {
		if value == nil {
			return ""
		}
		raw := fmt.Sprintf("%v", value)
		var digits strings.Builder
		for _, r := range raw {
			if r >= '0' && r <= '9' {
				digits.WriteRune(r)
			}
		}
		n := digits.String()
		switch {
		case len(n) == 10:
			return fmt.Sprintf("(%s) %s-%s", n[:3], n[3:6], n[6:])
		case len(n) == 11 && n[0] == '1':
			return fmt.Sprintf("(%s) %s-%s", n[1:4], n[4:7], n[7:])
		case len(n) == 7:
			return fmt.Sprintf("%s-%s", n[:3], n[3:])
		}
		return raw
	})

	// {{ premium | money }} -> "$1,234.56"
	engine.RegisterFilter("money", func(value interface{}) interface{} {
		var f float64
		switch v := value.(type) {
		case float64:
			f = v
		case float32:
			f = float64(v)
		case int:
			f = float64(v)
		case int64:
			f = float64(v)
		case string:
			parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return v
			}
			f = parsed
		default:
			return fmt.Sprintf("%v", value)
		}
		return "$" + groupThousands(fmt.Sprintf("%.2f", f))
	})
}

// groupThousands inserts commas into the integer part of a fixed-point
// decimal string.
func groupThousands(s string) string {
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	intPart, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, frac = s[:i], s[i:]
	}
	var b strings.Builder
	for i, c := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	out := b.String() + frac
	if neg {
		out = "-" + out
	}
	return out
}
