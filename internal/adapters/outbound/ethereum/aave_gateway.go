package ethereum

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/aave-loan/internal/domain/entity"
	"github.com/archon-research/aave-loan/internal/pkg/blockchain"
	"github.com/archon-research/aave-loan/internal/pkg/blockchain/abis"
	"github.com/archon-research/aave-loan/internal/ports/outbound"
)

// Compile-time check that AaveV2Gateway implements outbound.LendingGateway
var _ outbound.LendingGateway = (*AaveV2Gateway)(nil)

// AaveV2Gateway maps the LendingGateway port onto an Aave V2 LendingPool.
// The pool address is resolved through the LendingPoolAddressesProvider.
type AaveV2Gateway struct {
	tx           outbound.Transactor
	providerAddr common.Address
	providerABI  *abi.ABI
	poolABI      *abi.ABI
	logger       *slog.Logger

	mu   sync.RWMutex
	pool common.Address
}

// NewAaveV2Gateway creates a gateway for the market behind providerAddr.
func NewAaveV2Gateway(tx outbound.Transactor, providerAddr common.Address, logger *slog.Logger) (*AaveV2Gateway, error) {
	if tx == nil {
		return nil, fmt.Errorf("transactor cannot be nil")
	}
	if providerAddr == (common.Address{}) {
		return nil, fmt.Errorf("addresses provider is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	providerABI, err := abis.GetLendingPoolAddressesProviderABI()
	if err != nil {
		return nil, fmt.Errorf("loading LendingPoolAddressesProvider ABI: %w", err)
	}
	poolABI, err := abis.GetAaveV2LendingPoolABI()
	if err != nil {
		return nil, fmt.Errorf("loading LendingPool ABI: %w", err)
	}

	return &AaveV2Gateway{
		tx:           tx,
		providerAddr: providerAddr,
		providerABI:  providerABI,
		poolABI:      poolABI,
		logger:       logger.With("component", "aave-v2-gateway"),
	}, nil
}

// Resolve calls getLendingPool() on the addresses provider.
func (g *AaveV2Gateway) Resolve(ctx context.Context) (common.Address, error) {
	data, err := g.providerABI.Pack("getLendingPool")
	if err != nil {
		return common.Address{}, fmt.Errorf("packing getLendingPool: %w", err)
	}
	out, err := g.tx.Call(ctx, g.providerAddr, data)
	if err != nil {
		return common.Address{}, readError("getLendingPool", err)
	}
	unpacked, err := g.providerABI.Unpack("getLendingPool", out)
	if err != nil {
		return common.Address{}, fmt.Errorf("unpacking getLendingPool: %w", err)
	}
	pool, ok := unpacked[0].(common.Address)
	if !ok || pool == (common.Address{}) {
		return common.Address{}, &entity.ProtocolRejectedError{
			Op:     "getLendingPool",
			Reason: fmt.Sprintf("addresses provider %s returned no lending pool", g.providerAddr.Hex()),
		}
	}

	g.mu.Lock()
	g.pool = pool
	g.mu.Unlock()

	g.logger.Info("lending pool resolved", "provider", g.providerAddr.Hex(), "pool", pool.Hex())
	return pool, nil
}

// PoolAddress returns the pool found by the last Resolve.
func (g *AaveV2Gateway) PoolAddress() common.Address {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.pool
}

func (g *AaveV2Gateway) Deposit(ctx context.Context, asset common.Address, amount *big.Int, onBehalfOf common.Address, referralCode uint16) (common.Hash, error) {
	return g.transact(ctx, "deposit", asset, amount, onBehalfOf, referralCode)
}

func (g *AaveV2Gateway) Borrow(ctx context.Context, asset common.Address, amount *big.Int, interestRateMode *big.Int, referralCode uint16, onBehalfOf common.Address) (common.Hash, error) {
	return g.transact(ctx, "borrow", asset, amount, interestRateMode, referralCode, onBehalfOf)
}

func (g *AaveV2Gateway) Repay(ctx context.Context, asset common.Address, amount *big.Int, rateMode *big.Int, onBehalfOf common.Address) (common.Hash, error) {
	return g.transact(ctx, "repay", asset, amount, rateMode, onBehalfOf)
}

// AccountPosition reads getUserAccountData for account from the live pool.
func (g *AaveV2Gateway) AccountPosition(ctx context.Context, account common.Address) (*entity.AccountPosition, error) {
	pool, err := g.requirePool("getUserAccountData")
	if err != nil {
		return nil, err
	}

	data, err := g.poolABI.Pack("getUserAccountData", account)
	if err != nil {
		return nil, fmt.Errorf("packing getUserAccountData: %w", err)
	}
	out, err := g.tx.Call(ctx, pool, data)
	if err != nil {
		return nil, readError("getUserAccountData", err)
	}
	unpacked, err := g.poolABI.Unpack("getUserAccountData", out)
	if err != nil {
		return nil, fmt.Errorf("unpacking getUserAccountData: %w", err)
	}
	if len(unpacked) != 6 {
		return nil, fmt.Errorf("getUserAccountData returned %d values, want 6", len(unpacked))
	}

	values := make([]*big.Int, len(unpacked))
	for i, v := range unpacked {
		b, ok := v.(*big.Int)
		if !ok {
			return nil, fmt.Errorf("getUserAccountData value %d has type %T", i, v)
		}
		values[i] = b
	}

	position, err := entity.NewAccountPosition(values[0], values[1], values[2], values[3], values[4], values[5])
	if err != nil {
		return nil, fmt.Errorf("building account position: %w", err)
	}
	return position, nil
}

func (g *AaveV2Gateway) transact(ctx context.Context, method string, args ...interface{}) (common.Hash, error) {
	pool, err := g.requirePool(method)
	if err != nil {
		return common.Hash{}, err
	}

	data, err := g.poolABI.Pack(method, args...)
	if err != nil {
		return common.Hash{}, &entity.ProtocolRejectedError{Op: method, Reason: err.Error(), Err: err}
	}

	receipt, err := g.tx.Transact(ctx, pool, data)
	if err != nil {
		rejected := entity.NewProtocolRejected(method, err)
		reason := entity.RejectionReason(rejected)
		g.logger.Warn("pool call rejected",
			"method", method,
			"reason", reason,
			"code", blockchain.DescribeAaveError(reason))
		return common.Hash{}, rejected
	}

	g.logger.Info("pool call confirmed", "method", method, "tx", receipt.TxHash.Hex(), "block", receipt.BlockNumber)
	return receipt.TxHash, nil
}

func (g *AaveV2Gateway) requirePool(op string) (common.Address, error) {
	pool := g.PoolAddress()
	if pool == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%s: lending pool not resolved", op)
	}
	return pool, nil
}

// readError classifies a failed eth_call. Reverts are protocol rejections;
// anything else is a plain wrapped error that callers may retry.
func readError(op string, err error) error {
	if !blockchain.IsRevert(err) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return &entity.ProtocolRejectedError{
		Op:     op,
		Reason: blockchain.RevertReason(err),
		Err:    err,
	}
}
