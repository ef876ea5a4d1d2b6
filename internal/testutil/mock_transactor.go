package testutil

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/archon-research/aave-loan/internal/ports/outbound"
)

// Compile-time check that MockTransactor implements outbound.Transactor
var _ outbound.Transactor = (*MockTransactor)(nil)

// TransactCall records one Transact invocation.
type TransactCall struct {
	To   common.Address
	Data []byte
}

// MockTransactor implements outbound.Transactor for testing.
type MockTransactor struct {
	mu sync.Mutex

	AccountAddr common.Address
	CallFn      func(ctx context.Context, to common.Address, data []byte) ([]byte, error)
	TransactFn  func(ctx context.Context, to common.Address, data []byte) (*types.Receipt, error)

	Calls     []TransactCall
	Transacts []TransactCall
}

func NewMockTransactor(account common.Address) *MockTransactor {
	return &MockTransactor{AccountAddr: account}
}

func (m *MockTransactor) Account() common.Address {
	return m.AccountAddr
}

func (m *MockTransactor) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, TransactCall{To: to, Data: data})
	m.mu.Unlock()
	if m.CallFn != nil {
		return m.CallFn(ctx, to, data)
	}
	return nil, errors.New("Call not mocked")
}

// Transact returns a successful receipt whose hash is derived from the call
// unless TransactFn is set.
func (m *MockTransactor) Transact(ctx context.Context, to common.Address, data []byte) (*types.Receipt, error) {
	m.mu.Lock()
	m.Transacts = append(m.Transacts, TransactCall{To: to, Data: data})
	n := len(m.Transacts)
	m.mu.Unlock()
	if m.TransactFn != nil {
		return m.TransactFn(ctx, to, data)
	}
	return &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      crypto.Keccak256Hash(to.Bytes(), data, big.NewInt(int64(n)).Bytes()),
		BlockNumber: big.NewInt(int64(100 + n)),
	}, nil
}
