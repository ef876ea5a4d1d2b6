package ethereum

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/time/rate"

	"github.com/archon-research/aave-loan/internal/ports/outbound"
)

// Compile-time check that RateLimitedBackend implements outbound.ContractBackend
var _ outbound.ContractBackend = (*RateLimitedBackend)(nil)

// RateLimitedBackend waits on a token bucket before every RPC so receipt
// polling stays within a hosted node's request budget.
type RateLimitedBackend struct {
	next    outbound.ContractBackend
	limiter *rate.Limiter
}

// NewRateLimitedBackend wraps next with a limiter of limit requests per second.
// A non-positive limit disables limiting.
func NewRateLimitedBackend(next outbound.ContractBackend, limit rate.Limit, burst int) *RateLimitedBackend {
	if limit <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimitedBackend{
		next:    next,
		limiter: rate.NewLimiter(limit, burst),
	}
}

func (b *RateLimitedBackend) ChainID(ctx context.Context) (*big.Int, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return b.next.ChainID(ctx)
}

func (b *RateLimitedBackend) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return b.next.CallContract(ctx, msg, blockNumber)
}

func (b *RateLimitedBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	return b.next.PendingNonceAt(ctx, account)
}

func (b *RateLimitedBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return b.next.SuggestGasPrice(ctx)
}

func (b *RateLimitedBackend) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	return b.next.EstimateGas(ctx, msg)
}

func (b *RateLimitedBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}
	return b.next.SendTransaction(ctx, tx)
}

func (b *RateLimitedBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return b.next.TransactionReceipt(ctx, txHash)
}

func (b *RateLimitedBackend) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return b.next.HeaderByNumber(ctx, number)
}
