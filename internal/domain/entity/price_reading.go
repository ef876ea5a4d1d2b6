package entity

import (
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// PricePair identifies the asset pair a feed publishes, e.g. DAI/ETH.
type PricePair struct {
	Base  string
	Quote string
}

func (p PricePair) String() string {
	return p.Base + "/" + p.Quote
}

// PriceReading is a single latestRoundData answer from an aggregator feed.
// Answer is the quote-currency price of one unit of the base asset, scaled by
// 10^Decimals.
type PriceReading struct {
	Pair      PricePair
	Answer    *big.Int
	Decimals  uint8
	RoundID   *big.Int
	UpdatedAt time.Time
}

// NewPriceReading creates a PriceReading with validation.
func NewPriceReading(pair PricePair, answer *big.Int, decimals uint8, roundID *big.Int, updatedAt time.Time) (*PriceReading, error) {
	pr := &PriceReading{
		Pair:      pair,
		Answer:    answer,
		Decimals:  decimals,
		RoundID:   roundID,
		UpdatedAt: updatedAt,
	}
	if err := pr.validate(); err != nil {
		return nil, err
	}
	return pr, nil
}

func (pr *PriceReading) validate() error {
	if pr.Answer == nil {
		return fmt.Errorf("answer must not be nil")
	}
	if pr.Answer.Sign() <= 0 {
		return fmt.Errorf("answer must be positive, got %s", pr.Answer)
	}
	if pr.Pair.Base == "" || pr.Pair.Quote == "" {
		return fmt.Errorf("pair must name both assets, got %q", pr.Pair.String())
	}
	return nil
}

// Rate returns the answer as an exact decimal in quote units per base unit.
func (pr *PriceReading) Rate() decimal.Decimal {
	if pr.Answer == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(pr.Answer, -int32(pr.Decimals))
}
