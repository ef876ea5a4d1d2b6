package testutil

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/archon-research/aave-loan/internal/ports/outbound"
)

// Compile-time check that MockContractBackend implements outbound.ContractBackend
var _ outbound.ContractBackend = (*MockContractBackend)(nil)

// MockContractBackend implements outbound.ContractBackend for testing.
// Unset functions fall back to benign defaults so tests only mock what they assert on.
type MockContractBackend struct {
	mu sync.Mutex

	ChainIDValue         *big.Int
	CallContractFn       func(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGasFn        func(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransactionFn    func(ctx context.Context, tx *types.Transaction) error
	TransactionReceiptFn func(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	HeaderByNumberFn     func(ctx context.Context, number *big.Int) (*types.Header, error)

	SentTxs          []*types.Transaction
	CallContractArgs []ethereum.CallMsg
	ReceiptCalls     int
}

func NewMockContractBackend() *MockContractBackend {
	return &MockContractBackend{ChainIDValue: big.NewInt(1)}
}

func (m *MockContractBackend) ChainID(_ context.Context) (*big.Int, error) {
	if m.ChainIDValue == nil {
		return nil, errors.New("ChainID not mocked")
	}
	return m.ChainIDValue, nil
}

func (m *MockContractBackend) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	m.mu.Lock()
	m.CallContractArgs = append(m.CallContractArgs, msg)
	m.mu.Unlock()
	if m.CallContractFn != nil {
		return m.CallContractFn(ctx, msg, blockNumber)
	}
	return nil, errors.New("CallContract not mocked")
}

func (m *MockContractBackend) PendingNonceAt(_ context.Context, _ common.Address) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return uint64(len(m.SentTxs)), nil
}

func (m *MockContractBackend) SuggestGasPrice(_ context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (m *MockContractBackend) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	if m.EstimateGasFn != nil {
		return m.EstimateGasFn(ctx, msg)
	}
	return 100_000, nil
}

func (m *MockContractBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	m.mu.Lock()
	m.SentTxs = append(m.SentTxs, tx)
	m.mu.Unlock()
	if m.SendTransactionFn != nil {
		return m.SendTransactionFn(ctx, tx)
	}
	return nil
}

// TransactionReceipt returns a successful receipt in block 100 unless mocked.
func (m *MockContractBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	m.mu.Lock()
	m.ReceiptCalls++
	m.mu.Unlock()
	if m.TransactionReceiptFn != nil {
		return m.TransactionReceiptFn(ctx, txHash)
	}
	return &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      txHash,
		BlockNumber: big.NewInt(100),
		GasUsed:     50_000,
	}, nil
}

func (m *MockContractBackend) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	if m.HeaderByNumberFn != nil {
		return m.HeaderByNumberFn(ctx, number)
	}
	return &types.Header{Number: big.NewInt(100)}, nil
}
