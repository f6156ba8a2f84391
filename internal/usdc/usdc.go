// Package usdc converts between the three USDC representations the
// marketplace uses: decimal strings at the API boundary ("0.01"), integer
// cents in the agent directory (1), and base units at settlement (10000).
//
// USDC has 6 decimal places, so one cent is 10^4 base units.
package usdc

import (
	"math/big"
	"strings"
)

const Decimals = 6

// UnitsPerCent is the number of base units in one US cent.
const UnitsPerCent = 10_000

// Parse converts a decimal string (e.g. "1.50") to base units (1500000).
// Returns (nil, false) for empty, negative or malformed input. Digits past
// the sixth decimal are truncated.
func Parse(s string) (*big.Int, bool) {
	s = strings.TrimSpace(s)
	if s == "" || s == "." || strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") {
		return nil, false
	}

	whole, frac, _ := strings.Cut(s, ".")
	if strings.Contains(frac, ".") {
		return nil, false
	}
	for len(frac) < Decimals {
		frac += "0"
	}
	frac = frac[:Decimals]

	for _, r := range whole + frac {
		if r < '0' || r > '9' {
			return nil, false
		}
	}
	return new(big.Int).SetString(whole+frac, 10)
}

// ParseCents converts a decimal USDC string to whole cents, rounding half
// up: "0.01" is 1, "0.005" is 1, "0.0049" is 0.
func ParseCents(s string) (int64, bool) {
	units, ok := Parse(s)
	if !ok {
		return 0, false
	}
	cents := new(big.Int).Add(units, big.NewInt(UnitsPerCent/2))
	cents.Quo(cents, big.NewInt(UnitsPerCent))
	if !cents.IsInt64() {
		return 0, false
	}
	return cents.Int64(), true
}

// CentsToUnits converts cents to base units.
func CentsToUnits(cents int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(cents), big.NewInt(UnitsPerCent))
}

// Format converts base units to a decimal string with exactly 6 decimal
// places (e.g. "1.500000").
func Format(amount *big.Int) string {
	if amount == nil {
		return "0.000000"
	}
	neg := amount.Sign() < 0
	s := new(big.Int).Abs(amount).String()
	for len(s) < Decimals+1 {
		s = "0" + s
	}
	point := len(s) - Decimals
	out := s[:point] + "." + s[point:]
	if neg {
		out = "-" + out
	}
	return out
}

// FormatCents renders cents as a two-decimal dollar amount ("0.01").
func FormatCents(cents int64) string {
	s := Format(CentsToUnits(cents))
	return s[:len(s)-4]
}
