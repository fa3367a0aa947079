package model

import (
	"math"
	"strconv"
	"strings"
)

// ParseAmount converts a decimal string amount into whole currency units (int64).
// WooCommerce REST returns totals as "145990.00" even for zero-decimal currencies
// such as CLP, so fractional parts are rounded away.
// Examples: "145990.00" → 145990, "5990" → 5990, "" → 0
func ParseAmount(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return int64(math.Round(f))
}

// FormatAmount renders a whole-unit amount the way the storefront displays prices:
// dot thousands separators and a leading currency sign, e.g. 145990 → "$145.990".
func FormatAmount(amount int64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}

	digits := strconv.FormatInt(amount, 10)
	var b strings.Builder
	for i, d := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(d)
	}
	return sign + "$" + b.String()
}
