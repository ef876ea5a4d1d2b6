package blockchain

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// ParseUnits converts a decimal string such as "0.02" into the token's
// smallest unit. Digits beyond the token's precision are rejected rather
// than rounded.
func ParseUnits(value string, decimals int32) (*big.Int, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return nil, fmt.Errorf("parsing amount %q: %w", value, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("amount %q must be non-negative", value)
	}
	scaled := d.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("amount %q has more than %d decimal places", value, decimals)
	}
	return scaled.BigInt(), nil
}

// FormatUnits renders a smallest-unit amount in whole-token units. A nil
// amount renders as "0".
func FormatUnits(amount *big.Int, decimals int32) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -decimals).String()
}
