// Package borrow_planner sizes a borrow from the account's available
// borrowing capacity and an oracle price.
//
// All arithmetic is exact decimal arithmetic on the raw integer values; the
// final conversion to the debt asset's smallest unit truncates, so the plan
// never exceeds available × factor / rate.
package borrow_planner

import (
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/archon-research/aave-loan/internal/domain/entity"
)

// DefaultUtilizationFactor keeps the borrow just under the available capacity.
var DefaultUtilizationFactor = decimal.RequireFromString("0.95")

// Config holds configuration for the planner.
type Config struct {
	// DebtToken is the asset being borrowed.
	DebtToken common.Address

	// DebtDecimals is the debt token's decimal precision.
	DebtDecimals int32

	// ReferenceDecimals is the precision of AccountPosition values
	// (18 on the ETH-denominated Aave V2 market).
	ReferenceDecimals int32

	// Logger is the structured logger.
	Logger *slog.Logger
}

// Planner computes BorrowPlans.
type Planner struct {
	config Config
	logger *slog.Logger
}

// NewPlanner creates a Planner.
func NewPlanner(config Config) (*Planner, error) {
	if config.DebtDecimals < 0 {
		return nil, fmt.Errorf("debt decimals must be non-negative, got %d", config.DebtDecimals)
	}
	if config.ReferenceDecimals < 0 {
		return nil, fmt.Errorf("reference decimals must be non-negative, got %d", config.ReferenceDecimals)
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Planner{
		config: config,
		logger: config.Logger.With("component", "borrow-planner"),
	}, nil
}

// ParseUtilizationFactor parses s and checks it lies in (0, 1].
func ParseUtilizationFactor(s string) (decimal.Decimal, error) {
	f, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: utilization factor %q: %w", entity.ErrPlanning, s, err)
	}
	if err := ValidateUtilizationFactor(f); err != nil {
		return decimal.Zero, err
	}
	return f, nil
}

// ValidateUtilizationFactor checks that f lies in (0, 1].
func ValidateUtilizationFactor(f decimal.Decimal) error {
	if !f.IsPositive() || f.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: utilization factor must be in (0, 1], got %s", entity.ErrPlanning, f)
	}
	return nil
}

// Plan computes floor(available × factor / rate) in the debt asset's
// smallest unit. The rate is reference currency per whole debt token.
//
// In raw integers this is
//
//	floor(available × factor × 10^priceDecimals × 10^debtDecimals / (answer × 10^referenceDecimals))
//
// A zero available capacity yields a zero plan rather than an error.
func (p *Planner) Plan(position *entity.AccountPosition, price *entity.PriceReading, utilizationFactor decimal.Decimal) (entity.BorrowPlan, error) {
	if position == nil || position.AvailableBorrows == nil {
		return entity.BorrowPlan{}, fmt.Errorf("%w: account position is required", entity.ErrPlanning)
	}
	if position.AvailableBorrows.Sign() < 0 {
		return entity.BorrowPlan{}, fmt.Errorf("%w: available borrows must be non-negative, got %s", entity.ErrPlanning, position.AvailableBorrows)
	}
	if err := ValidateUtilizationFactor(utilizationFactor); err != nil {
		return entity.BorrowPlan{}, err
	}
	if price == nil || price.Answer == nil || price.Answer.Sign() <= 0 {
		return entity.BorrowPlan{}, fmt.Errorf("%w: price must be positive", entity.ErrPlanning)
	}

	rate := price.Rate()
	available := decimal.NewFromBigInt(position.AvailableBorrows, -p.config.ReferenceDecimals)
	target := available.Mul(utilizationFactor)

	numerator := decimal.NewFromBigInt(position.AvailableBorrows, 0).
		Mul(utilizationFactor).
		Shift(int32(price.Decimals) + p.config.DebtDecimals)
	denominator := decimal.NewFromBigInt(price.Answer, p.config.ReferenceDecimals)

	// Truncation is floor here because both operands are non-negative.
	quotient, _ := numerator.QuoRem(denominator, 0)

	amount, err := entity.NewAssetAmount(p.config.DebtToken, quotient.BigInt())
	if err != nil {
		return entity.BorrowPlan{}, fmt.Errorf("%w: %w", entity.ErrPlanning, err)
	}

	plan := entity.BorrowPlan{
		Amount:            amount,
		TargetValue:       target,
		Rate:              rate,
		UtilizationFactor: utilizationFactor,
	}

	p.logger.Debug("borrow planned",
		"available", available.String(),
		"target", target.String(),
		"rate", rate.String(),
		"factor", utilizationFactor.String(),
		"amount", amount.Amount.String(),
		"amountTokens", decimal.NewFromBigInt(amount.Amount, -p.config.DebtDecimals).String())
	return plan, nil
}
