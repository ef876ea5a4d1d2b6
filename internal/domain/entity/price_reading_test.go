package entity

import (
	"math/big"
	"testing"
	"time"
)

func TestNewPriceReading(t *testing.T) {
	pair := PricePair{Base: "DAI", Quote: "ETH"}

	tests := []struct {
		name    string
		pair    PricePair
		answer  *big.Int
		wantErr bool
	}{
		{name: "valid", pair: pair, answer: big.NewInt(500_000_000_000_000)},
		{name: "nil answer", pair: pair, answer: nil, wantErr: true},
		{name: "zero answer", pair: pair, answer: big.NewInt(0), wantErr: true},
		{name: "negative answer", pair: pair, answer: big.NewInt(-1), wantErr: true},
		{name: "missing quote", pair: PricePair{Base: "DAI"}, answer: big.NewInt(1), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPriceReading(tt.pair, tt.answer, 18, big.NewInt(1), time.Unix(1700000000, 0))
			if (err != nil) != tt.wantErr {
				t.Errorf("NewPriceReading() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPriceReading_Rate(t *testing.T) {
	pr, err := NewPriceReading(PricePair{Base: "DAI", Quote: "ETH"}, big.NewInt(500_000_000_000_000), 18, big.NewInt(1), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := pr.Rate().String(); got != "0.0005" {
		t.Errorf("Rate() = %s, want 0.0005", got)
	}
	if pr.Pair.String() != "DAI/ETH" {
		t.Errorf("Pair.String() = %s, want DAI/ETH", pr.Pair.String())
	}
}
