package adapter

import (
	"strconv"

	"github.com/shopspring/decimal"
)

// floatToDecimal converts a vendor float into a decimal.Decimal.
func floatToDecimal(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// floatToOptionalDecimal converts a vendor float into a *decimal.Decimal,
// treating 0 as "not reported" per spec's nil-for-missing-side contract.
func floatToOptionalDecimal(f float64) *decimal.Decimal {
	if f == 0 {
		return nil
	}
	d := decimal.NewFromFloat(f)
	return &d
}

// floatSliceToOptionalDecimal converts a [price, size] quote level (as HTX
// reports top-of-book) into an optional decimal price, nil when absent.
func floatSliceToOptionalDecimal(level []float64) *decimal.Decimal {
	if len(level) == 0 {
		return nil
	}
	return floatToOptionalDecimal(level[0])
}

// parseUnixMillisOrZero parses a vendor-supplied millisecond timestamp
// string, returning 0 when empty or malformed.
func parseUnixMillisOrZero(s string) int64 {
	if s == "" {
		return 0
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return ms
}

// parseDecimalOrZero parses a vendor-supplied numeric string, returning the
// zero value when the string is empty or malformed. Vendors occasionally
// send "" for fields that are simply unavailable for a given market.
func parseDecimalOrZero(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// parseOptionalDecimal parses a vendor-supplied numeric string into a
// pointer, returning nil when the string is empty, "0", or malformed --
// per spec, a missing bid/ask is represented as a nil field, not zero.
func parseOptionalDecimal(s string) *decimal.Decimal {
	if s == "" {
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil
	}
	if d.IsZero() {
		return nil
	}
	return &d
}
