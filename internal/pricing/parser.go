// Package pricing normalises heterogeneous marketplace price strings into
// canonical fixed-point decimals.
package pricing

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrNoDigits indicates no digit sequence could be extracted from the input.
	ErrNoDigits = errors.New("pricing: no digits in price")
	// ErrAmbiguous indicates the decimal separator could not be determined.
	ErrAmbiguous = errors.New("pricing: ambiguous decimal separator")
)

// ParsePrice converts a raw price field into a decimal value. It accepts both
// the comma-decimal convention ("R$ 1.234,56") and the dot-decimal convention
// ("$1,234.56" or "1234.56"), with or without a currency symbol. The rightmost
// separator followed by one or two digits is treated as the decimal point;
// a rightmost separator followed by three digits is treated as a thousands
// group. It never defaults to zero on unparseable input.
func ParsePrice(raw string) (decimal.Decimal, error) {
	var b strings.Builder
	for _, r := range raw {
		if (r >= '0' && r <= '9') || r == '.' || r == ',' {
			b.WriteRune(r)
		}
	}

	s := strings.Trim(b.String(), ".,")
	if !strings.ContainsAny(s, "0123456789") {
		return decimal.Decimal{}, ErrNoDigits
	}

	lastSep := strings.LastIndexAny(s, ".,")
	if lastSep < 0 {
		return fromCanonical(s)
	}

	trailing := len(s) - lastSep - 1
	switch {
	case trailing == 1 || trailing == 2:
		// Decimal point; every earlier separator is a grouping mark.
		intPart := stripSeparators(s[:lastSep])
		return fromCanonical(intPart + "." + s[lastSep+1:])
	case trailing == 3:
		return fromCanonical(stripSeparators(s))
	default:
		return decimal.Decimal{}, ErrAmbiguous
	}
}

func stripSeparators(s string) string {
	s = strings.ReplaceAll(s, ".", "")
	return strings.ReplaceAll(s, ",", "")
}

func fromCanonical(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, ErrAmbiguous
	}
	return d, nil
}
