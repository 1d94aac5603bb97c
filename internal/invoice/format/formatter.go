// Package format renders invoice values for humans. Nothing here feeds back
// into stored amounts.
package format

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Amount renders a decimal with two places and thousands separators,
// e.g. 1499.5 -> "1,499.50".
func Amount(d decimal.Decimal) string {
	fixed := d.StringFixedBank(2)

	sign := ""
	if strings.HasPrefix(fixed, "-") {
		sign = "-"
		fixed = fixed[1:]
	}
	whole, frac, _ := strings.Cut(fixed, ".")

	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return sign + b.String() + "." + frac
}

// Rate renders a per-unit rate without trailing zeros but with at least two
// decimal places.
func Rate(d decimal.Decimal) string {
	if d.Exponent() >= -2 {
		return d.StringFixed(2)
	}
	s := d.String()
	if !strings.Contains(s, ".") {
		return d.StringFixed(2)
	}
	return s
}

// Period renders a half-open billing period as inclusive dates.
func Period(start, end time.Time) string {
	last := end.AddDate(0, 0, -1)
	if last.Before(start) {
		last = start
	}
	return fmt.Sprintf("%s to %s", start.UTC().Format("2006-01-02"), last.UTC().Format("2006-01-02"))
}
