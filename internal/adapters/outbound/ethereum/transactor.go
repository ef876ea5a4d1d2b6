// Package ethereum implements the outbound ports against an EVM JSON-RPC node
// using go-ethereum: a signing transactor, the ERC20 approver, the Chainlink
// price feed and the Aave V2 lending pool gateway.
package ethereum

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/archon-research/aave-loan/internal/domain/entity"
	"github.com/archon-research/aave-loan/internal/pkg/blockchain"
	"github.com/archon-research/aave-loan/internal/pkg/retry"
	"github.com/archon-research/aave-loan/internal/ports/outbound"
)

// Compile-time check that Transactor implements outbound.Transactor
var _ outbound.Transactor = (*Transactor)(nil)

// TransactorConfig holds configuration for the Transactor.
type TransactorConfig struct {
	// Confirmations is the number of blocks (including the inclusion block)
	// a transaction needs before Transact returns.
	Confirmations uint64

	// PollInterval is how often receipts and the chain head are polled.
	PollInterval time.Duration

	// ReceiptTimeout bounds the wait for inclusion plus confirmations.
	ReceiptTimeout time.Duration

	// GasBufferPercent is added on top of the node's gas estimate.
	GasBufferPercent uint64

	// Logger is the structured logger.
	Logger *slog.Logger
}

// TransactorConfigDefaults returns a config with default values.
func TransactorConfigDefaults() TransactorConfig {
	return TransactorConfig{
		Confirmations:    1,
		PollInterval:     2 * time.Second,
		ReceiptTimeout:   5 * time.Minute,
		GasBufferPercent: 20,
		Logger:           slog.Default(),
	}
}

// Transactor signs legacy EIP-155 transactions with a local key and waits for
// them to confirm.
type Transactor struct {
	backend outbound.ContractBackend
	key     *ecdsa.PrivateKey
	account common.Address
	signer  types.Signer
	config  TransactorConfig
	logger  *slog.Logger
}

// NewTransactor creates a Transactor for the hex-encoded private key. The
// chain ID is read from the backend so signatures are replay-protected.
func NewTransactor(ctx context.Context, backend outbound.ContractBackend, hexKey string, config TransactorConfig) (*Transactor, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend cannot be nil")
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}

	defaults := TransactorConfigDefaults()
	if config.Confirmations == 0 {
		config.Confirmations = defaults.Confirmations
	}
	if config.PollInterval == 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.ReceiptTimeout == 0 {
		config.ReceiptTimeout = defaults.ReceiptTimeout
	}
	if config.GasBufferPercent == 0 {
		config.GasBufferPercent = defaults.GasBufferPercent
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading chain ID: %w", err)
	}

	account := crypto.PubkeyToAddress(key.PublicKey)
	return &Transactor{
		backend: backend,
		key:     key,
		account: account,
		signer:  types.LatestSignerForChainID(chainID),
		config:  config,
		logger:  config.Logger.With("component", "transactor", "account", account.Hex()),
	}, nil
}

// Account returns the signing address.
func (t *Transactor) Account() common.Address {
	return t.account
}

// Call performs an eth_call from the signing account against the latest block.
func (t *Transactor) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	return t.backend.CallContract(ctx, ethereum.CallMsg{From: t.account, To: &to, Data: data}, nil)
}

// Transact signs, sends and waits for a call to `to`.
func (t *Transactor) Transact(ctx context.Context, to common.Address, data []byte) (*types.Receipt, error) {
	msg := ethereum.CallMsg{From: t.account, To: &to, Data: data}

	gas, err := t.backend.EstimateGas(ctx, msg)
	if err != nil {
		return nil, t.rejected("estimate gas", common.Hash{}, blockchain.RevertReason(err), err)
	}
	gas += gas * t.config.GasBufferPercent / 100

	nonce, err := t.backend.PendingNonceAt(ctx, t.account)
	if err != nil {
		return nil, t.rejected("pending nonce", common.Hash{}, err.Error(), err)
	}

	gasPrice, err := t.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, t.rejected("suggest gas price", common.Hash{}, err.Error(), err)
	}

	tx, err := types.SignTx(types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	}), t.signer, t.key)
	if err != nil {
		return nil, t.rejected("sign", common.Hash{}, err.Error(), err)
	}

	if err := t.backend.SendTransaction(ctx, tx); err != nil {
		return nil, t.rejected("send", tx.Hash(), blockchain.RevertReason(err), err)
	}
	t.logger.Debug("transaction sent", "tx", tx.Hash().Hex(), "to", to.Hex(), "nonce", nonce, "gas", gas)

	receipt, err := t.waitMined(ctx, tx.Hash())
	if err != nil {
		return nil, t.rejected("wait for receipt", tx.Hash(), err.Error(), err)
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		reason := t.replayRevertReason(ctx, msg, receipt.BlockNumber)
		return nil, t.rejected("execute", tx.Hash(), reason, nil)
	}

	if err := t.waitConfirmations(ctx, receipt); err != nil {
		return nil, t.rejected("wait for confirmations", tx.Hash(), err.Error(), err)
	}

	t.logger.Debug("transaction confirmed",
		"tx", tx.Hash().Hex(),
		"block", receipt.BlockNumber,
		"gasUsed", receipt.GasUsed)
	return receipt, nil
}

func (t *Transactor) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	return retry.Until(ctx, t.config.PollInterval, t.config.ReceiptTimeout, func() (*types.Receipt, bool, error) {
		receipt, err := t.backend.TransactionReceipt(ctx, hash)
		if errors.Is(err, ethereum.NotFound) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, fmt.Errorf("fetching receipt: %w", err)
		}
		return receipt, receipt != nil, nil
	})
}

func (t *Transactor) waitConfirmations(ctx context.Context, receipt *types.Receipt) error {
	if t.config.Confirmations <= 1 {
		return nil
	}
	if receipt.BlockNumber == nil {
		return fmt.Errorf("receipt has no block number")
	}
	want := new(big.Int).SetUint64(t.config.Confirmations)

	_, err := retry.Until(ctx, t.config.PollInterval, t.config.ReceiptTimeout, func() (struct{}, bool, error) {
		head, err := t.backend.HeaderByNumber(ctx, nil)
		if err != nil {
			return struct{}{}, false, fmt.Errorf("fetching head: %w", err)
		}
		if head == nil || head.Number == nil {
			return struct{}{}, false, fmt.Errorf("head block metadata unavailable")
		}
		confirmed := new(big.Int).Sub(head.Number, receipt.BlockNumber)
		confirmed.Add(confirmed, big.NewInt(1))
		return struct{}{}, confirmed.Cmp(want) >= 0, nil
	})
	return err
}

// replayRevertReason re-executes a failed transaction as a call against the
// parent of its block to recover the revert reason.
func (t *Transactor) replayRevertReason(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) string {
	var at *big.Int
	if blockNumber != nil && blockNumber.Sign() > 0 {
		at = new(big.Int).Sub(blockNumber, big.NewInt(1))
	}
	if _, err := t.backend.CallContract(ctx, msg, at); err != nil {
		return blockchain.RevertReason(err)
	}
	return "transaction reverted"
}

func (t *Transactor) rejected(op string, hash common.Hash, reason string, err error) error {
	t.logger.Warn("transaction rejected", "op", op, "tx", hash.Hex(), "reason", reason)
	return &entity.TransactionRejectedError{
		Op:     op,
		TxHash: hash,
		Reason: reason,
		Err:    err,
	}
}
