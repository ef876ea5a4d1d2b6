package ethereum

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/archon-research/aave-loan/internal/domain/entity"
	"github.com/archon-research/aave-loan/internal/pkg/retry"
	"github.com/archon-research/aave-loan/internal/testutil"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

var testTarget = common.HexToAddress("0x7d2768dE32b0b80b7a3454c06BdAc94A69DDc7A9")

func testAccount(t *testing.T) common.Address {
	t.Helper()
	key, err := crypto.HexToECDSA(testKey)
	if err != nil {
		t.Fatalf("HexToECDSA: %v", err)
	}
	return crypto.PubkeyToAddress(key.PublicKey)
}

func newTestTransactor(t *testing.T, backend *testutil.MockContractBackend, cfg TransactorConfig) *Transactor {
	t.Helper()
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Millisecond
	}
	tx, err := NewTransactor(context.Background(), backend, "0x"+testKey, cfg)
	if err != nil {
		t.Fatalf("NewTransactor() error = %v", err)
	}
	return tx
}

func requireRejected(t *testing.T, err error, op string) *entity.TransactionRejectedError {
	t.Helper()
	if !errors.Is(err, entity.ErrTransactionRejected) {
		t.Fatalf("error = %v, want ErrTransactionRejected", err)
	}
	var tre *entity.TransactionRejectedError
	if !errors.As(err, &tre) {
		t.Fatalf("error = %T, want *TransactionRejectedError", err)
	}
	if tre.Op != op {
		t.Errorf("op = %q, want %q", tre.Op, op)
	}
	return tre
}

func TestNewTransactor(t *testing.T) {
	tests := []struct {
		name        string
		backend     *testutil.MockContractBackend
		key         string
		errContains string
	}{
		{name: "valid", backend: testutil.NewMockContractBackend(), key: testKey},
		{name: "prefixed key", backend: testutil.NewMockContractBackend(), key: "0x" + testKey},
		{name: "invalid key", backend: testutil.NewMockContractBackend(), key: "zz", errContains: "parsing private key"},
		{name: "chain id unavailable", backend: &testutil.MockContractBackend{}, key: testKey, errContains: "reading chain ID"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx, err := NewTransactor(context.Background(), tt.backend, tt.key, TransactorConfig{})
			if tt.errContains != "" {
				if err == nil || !strings.Contains(err.Error(), tt.errContains) {
					t.Fatalf("error = %v, want containing %q", err, tt.errContains)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tx.Account() != testAccount(t) {
				t.Errorf("account = %s, want %s", tx.Account().Hex(), testAccount(t).Hex())
			}
			if tx.config.Confirmations != 1 || tx.config.GasBufferPercent != 20 {
				t.Errorf("defaults not applied: %+v", tx.config)
			}
		})
	}

	if _, err := NewTransactor(context.Background(), nil, testKey, TransactorConfig{}); err == nil {
		t.Error("expected error for nil backend")
	}
}

func TestTransact_SignsAndWaits(t *testing.T) {
	backend := testutil.NewMockContractBackend()
	tx := newTestTransactor(t, backend, TransactorConfig{})
	data := []byte{0xde, 0xad, 0xbe, 0xef}

	receipt, err := tx.Transact(context.Background(), testTarget, data)
	if err != nil {
		t.Fatalf("Transact() error = %v", err)
	}

	if len(backend.SentTxs) != 1 {
		t.Fatalf("sent %d transactions, want 1", len(backend.SentTxs))
	}
	sent := backend.SentTxs[0]
	if receipt.TxHash != sent.Hash() {
		t.Errorf("receipt hash = %s, want %s", receipt.TxHash.Hex(), sent.Hash().Hex())
	}
	if *sent.To() != testTarget {
		t.Errorf("to = %s, want %s", sent.To().Hex(), testTarget.Hex())
	}
	if string(sent.Data()) != string(data) {
		t.Errorf("data = %x, want %x", sent.Data(), data)
	}
	if sent.Gas() != 120_000 {
		t.Errorf("gas = %d, want estimate plus 20%%", sent.Gas())
	}
	if sent.ChainId().Int64() != 1 {
		t.Errorf("chain id = %s, want 1", sent.ChainId())
	}

	from, err := types.Sender(types.LatestSignerForChainID(big.NewInt(1)), sent)
	if err != nil {
		t.Fatalf("Sender() error = %v", err)
	}
	if from != testAccount(t) {
		t.Errorf("signer = %s, want %s", from.Hex(), testAccount(t).Hex())
	}
}

func TestTransact_PollsUntilMined(t *testing.T) {
	backend := testutil.NewMockContractBackend()
	calls := 0
	backend.TransactionReceiptFn = func(_ context.Context, hash common.Hash) (*types.Receipt, error) {
		calls++
		if calls < 3 {
			return nil, ethereum.NotFound
		}
		return &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: hash, BlockNumber: big.NewInt(7)}, nil
	}
	tx := newTestTransactor(t, backend, TransactorConfig{})

	receipt, err := tx.Transact(context.Background(), testTarget, []byte{1})
	if err != nil {
		t.Fatalf("Transact() error = %v", err)
	}
	if backend.ReceiptCalls != 3 {
		t.Errorf("receipt polls = %d, want 3", backend.ReceiptCalls)
	}
	if receipt.BlockNumber.Int64() != 7 {
		t.Errorf("block = %s, want 7", receipt.BlockNumber)
	}
}

func TestTransact_EstimateRevertIsNotSent(t *testing.T) {
	backend := testutil.NewMockContractBackend()
	backend.EstimateGasFn = func(context.Context, ethereum.CallMsg) (uint64, error) {
		return 0, errors.New("execution reverted: 11")
	}
	tx := newTestTransactor(t, backend, TransactorConfig{})

	_, err := tx.Transact(context.Background(), testTarget, []byte{1})
	tre := requireRejected(t, err, "estimate gas")
	if tre.Reason != "execution reverted: 11" {
		t.Errorf("reason = %q", tre.Reason)
	}
	if tre.TxHash != (common.Hash{}) {
		t.Errorf("tx hash = %s, want zero", tre.TxHash.Hex())
	}
	if len(backend.SentTxs) != 0 {
		t.Errorf("sent %d transactions, want 0", len(backend.SentTxs))
	}
}

func TestTransact_SendRejected(t *testing.T) {
	backend := testutil.NewMockContractBackend()
	backend.SendTransactionFn = func(context.Context, *types.Transaction) error {
		return errors.New("insufficient funds for gas * price + value")
	}
	tx := newTestTransactor(t, backend, TransactorConfig{})

	_, err := tx.Transact(context.Background(), testTarget, []byte{1})
	tre := requireRejected(t, err, "send")
	if !strings.Contains(tre.Reason, "insufficient funds") {
		t.Errorf("reason = %q", tre.Reason)
	}
	if backend.ReceiptCalls != 0 {
		t.Errorf("receipt polls = %d, want 0", backend.ReceiptCalls)
	}
}

func TestTransact_FailedReceiptReplaysForReason(t *testing.T) {
	backend := testutil.NewMockContractBackend()
	backend.TransactionReceiptFn = func(_ context.Context, hash common.Hash) (*types.Receipt, error) {
		return &types.Receipt{Status: types.ReceiptStatusFailed, TxHash: hash, BlockNumber: big.NewInt(100)}, nil
	}
	var replayBlock *big.Int
	backend.CallContractFn = func(_ context.Context, _ ethereum.CallMsg, block *big.Int) ([]byte, error) {
		replayBlock = block
		return nil, errors.New("execution reverted: 9")
	}
	tx := newTestTransactor(t, backend, TransactorConfig{})

	_, err := tx.Transact(context.Background(), testTarget, []byte{1})
	tre := requireRejected(t, err, "execute")
	if tre.Reason != "execution reverted: 9" {
		t.Errorf("reason = %q", tre.Reason)
	}
	if tre.TxHash != backend.SentTxs[0].Hash() {
		t.Errorf("tx hash = %s, want sent hash", tre.TxHash.Hex())
	}
	if replayBlock == nil || replayBlock.Int64() != 99 {
		t.Errorf("replayed at block %v, want 99", replayBlock)
	}
}

func TestTransact_WaitsForConfirmations(t *testing.T) {
	backend := testutil.NewMockContractBackend()
	head := int64(99)
	heads := 0
	backend.HeaderByNumberFn = func(context.Context, *big.Int) (*types.Header, error) {
		heads++
		head++
		return &types.Header{Number: big.NewInt(head)}, nil
	}
	tx := newTestTransactor(t, backend, TransactorConfig{Confirmations: 3})

	if _, err := tx.Transact(context.Background(), testTarget, []byte{1}); err != nil {
		t.Fatalf("Transact() error = %v", err)
	}
	// Receipt at block 100 needs head 102 for three confirmations.
	if head != 102 {
		t.Errorf("returned at head %d, want 102", head)
	}
	if heads != 3 {
		t.Errorf("head polls = %d, want 3", heads)
	}
}

func TestTransact_ReceiptTimeout(t *testing.T) {
	backend := testutil.NewMockContractBackend()
	backend.TransactionReceiptFn = func(context.Context, common.Hash) (*types.Receipt, error) {
		return nil, ethereum.NotFound
	}
	tx := newTestTransactor(t, backend, TransactorConfig{ReceiptTimeout: 20 * time.Millisecond})

	_, err := tx.Transact(context.Background(), testTarget, []byte{1})
	tre := requireRejected(t, err, "wait for receipt")
	if !errors.Is(err, retry.ErrPollTimeout) {
		t.Errorf("error = %v, want ErrPollTimeout", err)
	}
	if tre.TxHash == (common.Hash{}) {
		t.Error("tx hash missing on timeout")
	}
}

func TestCall_UsesLatestBlock(t *testing.T) {
	backend := testutil.NewMockContractBackend()
	var gotBlock *big.Int
	backend.CallContractFn = func(_ context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error) {
		gotBlock = block
		return []byte{0x01}, nil
	}
	tx := newTestTransactor(t, backend, TransactorConfig{})

	out, err := tx.Call(context.Background(), testTarget, []byte{0x02})
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if len(out) != 1 || out[0] != 0x01 {
		t.Errorf("out = %x", out)
	}
	if gotBlock != nil {
		t.Errorf("block = %s, want latest (nil)", gotBlock)
	}
	msg := backend.CallContractArgs[0]
	if msg.From != testAccount(t) || *msg.To != testTarget {
		t.Errorf("call msg = %+v", msg)
	}
}
