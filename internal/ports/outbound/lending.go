package outbound

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/aave-loan/internal/domain/entity"
)

// TokenApprover grants a spender an ERC20 allowance.
type TokenApprover interface {
	// Approve submits approve(spender, amount) on token from account and blocks
	// until the transaction is confirmed. Failures match entity.ErrTransactionRejected.
	Approve(ctx context.Context, token, spender common.Address, amount *big.Int, account common.Address) (common.Hash, error)
}

// PriceOracle reads the latest answer of a price feed.
type PriceOracle interface {
	// LatestPrice returns the most recent reading for pair.
	// Failures match entity.ErrOracleUnavailable.
	LatestPrice(ctx context.Context, pair entity.PricePair) (*entity.PriceReading, error)
}

// LendingGateway is the typed facade over the lending pool entry points.
// State-changing calls block until confirmed; failures match entity.ErrProtocolRejected.
type LendingGateway interface {
	// Resolve looks up the live pool address through the addresses provider.
	// It must be called once per workflow run before any other method.
	Resolve(ctx context.Context) (common.Address, error)

	// PoolAddress returns the address found by the last Resolve.
	PoolAddress() common.Address

	Deposit(ctx context.Context, asset common.Address, amount *big.Int, onBehalfOf common.Address, referralCode uint16) (common.Hash, error)
	Borrow(ctx context.Context, asset common.Address, amount *big.Int, interestRateMode *big.Int, referralCode uint16, onBehalfOf common.Address) (common.Hash, error)
	Repay(ctx context.Context, asset common.Address, amount *big.Int, rateMode *big.Int, onBehalfOf common.Address) (common.Hash, error)

	// AccountPosition reads getUserAccountData for account. It never caches.
	AccountPosition(ctx context.Context, account common.Address) (*entity.AccountPosition, error)
}
