package schema

import (
	"strings"
	"time"

	"github.com/guregu/null/v6"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// maxExponent bounds the decimal exponent of a parsed cell. Comparing or printing
// 1e2000000000 would materialize a two-billion-digit integer.
const maxExponent = 30

// dateLayouts are tried in order. Exchange files use 02-Jan-2006, nselib history uses ISO.
var dateLayouts = []string{
	"02-Jan-2006",
	"2-Jan-2006",
	DateLayout,
	"02/01/2006",
	"2006/01/02",
	"02-01-2006",
	"02 Jan 2006",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

// ParseDecimal coerces s to a decimal. Anything unusable yields null; it never fails.
// Thousands separators and a trailing percent sign are ignored. Values with an exponent
// beyond maxExponent are null.
func ParseDecimal(s string) decimal.NullDecimal {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "%")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	if exp := d.Exponent(); exp > maxExponent || exp < -maxExponent {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

// ParseDeliveryPercent is ParseDecimal restricted to [0, 100].
func ParseDeliveryPercent(s string) decimal.NullDecimal {
	d := ParseDecimal(s)
	if d.Valid && (d.Decimal.IsNegative() || d.Decimal.GreaterThan(hundred)) {
		return decimal.NullDecimal{}
	}
	return d
}

// ParsePrice is ParseDecimal restricted to non-negative values.
func ParsePrice(s string) decimal.NullDecimal {
	d := ParseDecimal(s)
	if d.Valid && d.Decimal.IsNegative() {
		return decimal.NullDecimal{}
	}
	return d
}

// ParseDate coerces s to a calendar date (UTC midnight). Unparseable input yields null.
func ParseDate(s string) null.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return null.Time{}
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return null.TimeFrom(truncateDay(t))
		}
	}
	return null.Time{}
}

// NormalizeSymbol folds case and surrounding whitespace.
func NormalizeSymbol(s string) string {
	s = strings.ReplaceAll(s, `"`, "")
	return strings.ToUpper(strings.TrimSpace(s))
}

func parseText(s string) null.String {
	s = strings.TrimSpace(s)
	return null.NewString(s, s != "")
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}
