package entity

import (
	"fmt"
	"math/big"
)

// AccountPosition is a point-in-time snapshot of getUserAccountData.
// Values are denominated in the reference currency's smallest unit
// (wei for the ETH-denominated Aave V2 market).
type AccountPosition struct {
	TotalCollateral             *big.Int
	TotalDebt                   *big.Int
	AvailableBorrows            *big.Int
	CurrentLiquidationThreshold *big.Int // basis points
	LTV                         *big.Int // basis points
	HealthFactor                *big.Int // 1e18 = 1.0
}

// NewAccountPosition creates an AccountPosition from the raw protocol values.
func NewAccountPosition(totalCollateral, totalDebt, availableBorrows, liquidationThreshold, ltv, healthFactor *big.Int) (*AccountPosition, error) {
	p := &AccountPosition{
		TotalCollateral:             totalCollateral,
		TotalDebt:                   totalDebt,
		AvailableBorrows:            availableBorrows,
		CurrentLiquidationThreshold: liquidationThreshold,
		LTV:                         ltv,
		HealthFactor:                healthFactor,
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *AccountPosition) validate() error {
	values := []struct {
		name  string
		value *big.Int
	}{
		{"totalCollateral", p.TotalCollateral},
		{"totalDebt", p.TotalDebt},
		{"availableBorrows", p.AvailableBorrows},
		{"currentLiquidationThreshold", p.CurrentLiquidationThreshold},
		{"ltv", p.LTV},
		{"healthFactor", p.HealthFactor},
	}
	for _, v := range values {
		if v.value == nil {
			return fmt.Errorf("%s must not be nil", v.name)
		}
		if v.value.Sign() < 0 {
			return fmt.Errorf("%s must be non-negative, got %s", v.name, v.value)
		}
	}
	return nil
}

// Equal reports whether two snapshots carry identical values.
func (p *AccountPosition) Equal(other *AccountPosition) bool {
	if p == nil || other == nil {
		return p == other
	}
	return p.TotalCollateral.Cmp(other.TotalCollateral) == 0 &&
		p.TotalDebt.Cmp(other.TotalDebt) == 0 &&
		p.AvailableBorrows.Cmp(other.AvailableBorrows) == 0 &&
		p.CurrentLiquidationThreshold.Cmp(other.CurrentLiquidationThreshold) == 0 &&
		p.LTV.Cmp(other.LTV) == 0 &&
		p.HealthFactor.Cmp(other.HealthFactor) == 0
}
