package entity

import "github.com/shopspring/decimal"

// BorrowPlan is the amount the workflow will borrow, together with the
// values it was derived from.
type BorrowPlan struct {
	Amount            AssetAmount
	TargetValue       decimal.Decimal // reference currency, whole units
	Rate              decimal.Decimal // reference currency per debt asset unit
	UtilizationFactor decimal.Decimal
}

// IsZero reports whether there is nothing to borrow.
func (p BorrowPlan) IsZero() bool {
	return p.Amount.IsZero()
}
