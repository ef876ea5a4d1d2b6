package entity

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// AssetAmount is a token quantity expressed in the token's smallest unit.
type AssetAmount struct {
	Token  common.Address
	Amount *big.Int
}

// NewAssetAmount creates an AssetAmount with validation. The magnitude must be
// non-negative and fit in a uint256, the widest amount an ERC20 call accepts.
func NewAssetAmount(token common.Address, amount *big.Int) (AssetAmount, error) {
	a := AssetAmount{
		Token:  token,
		Amount: amount,
	}
	if err := a.validate(); err != nil {
		return AssetAmount{}, err
	}
	return AssetAmount{Token: token, Amount: new(big.Int).Set(amount)}, nil
}

// ZeroAmount returns an AssetAmount of zero for token.
func ZeroAmount(token common.Address) AssetAmount {
	return AssetAmount{Token: token, Amount: new(big.Int)}
}

func (a AssetAmount) validate() error {
	if a.Amount == nil {
		return fmt.Errorf("amount must not be nil")
	}
	if a.Amount.Sign() < 0 {
		return fmt.Errorf("amount must be non-negative, got %s", a.Amount)
	}
	if _, overflow := uint256.FromBig(a.Amount); overflow {
		return fmt.Errorf("amount %s overflows uint256", a.Amount)
	}
	return nil
}

// IsZero reports whether the magnitude is zero or unset.
func (a AssetAmount) IsZero() bool {
	return a.Amount == nil || a.Amount.Sign() == 0
}

// String renders the amount as "<amount>@<token>".
func (a AssetAmount) String() string {
	amount := "0"
	if a.Amount != nil {
		amount = a.Amount.String()
	}
	return fmt.Sprintf("%s@%s", amount, a.Token.Hex())
}
