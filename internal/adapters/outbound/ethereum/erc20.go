package ethereum

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/aave-loan/internal/domain/entity"
	"github.com/archon-research/aave-loan/internal/pkg/blockchain/abis"
	"github.com/archon-research/aave-loan/internal/ports/outbound"
)

// Compile-time check that ERC20 implements outbound.TokenApprover
var _ outbound.TokenApprover = (*ERC20)(nil)

// TokenMetadata is the subset of ERC20 metadata needed to scale amounts.
type TokenMetadata struct {
	Decimals int32
	Symbol   string
}

// ERC20 approves allowances and reads token metadata.
type ERC20 struct {
	tx     outbound.Transactor
	abi    *abi.ABI
	logger *slog.Logger
}

// NewERC20 creates an ERC20 client that sends approvals through tx.
func NewERC20(tx outbound.Transactor, logger *slog.Logger) (*ERC20, error) {
	if tx == nil {
		return nil, fmt.Errorf("transactor cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	erc20ABI, err := abis.GetERC20ABI()
	if err != nil {
		return nil, fmt.Errorf("loading ERC20 ABI: %w", err)
	}
	return &ERC20{
		tx:     tx,
		abi:    erc20ABI,
		logger: logger.With("component", "erc20"),
	}, nil
}

// Approve grants spender an allowance of amount on token and waits for the
// approval to confirm. account must be the transactor's signing account.
func (e *ERC20) Approve(ctx context.Context, token, spender common.Address, amount *big.Int, account common.Address) (common.Hash, error) {
	if account != e.tx.Account() {
		return common.Hash{}, &entity.TransactionRejectedError{
			Op:     "approve",
			Reason: fmt.Sprintf("account %s is not the signing account %s", account.Hex(), e.tx.Account().Hex()),
		}
	}
	if amount == nil || amount.Sign() <= 0 {
		return common.Hash{}, &entity.TransactionRejectedError{
			Op:     "approve",
			Reason: "zero approval amount",
		}
	}

	data, err := e.abi.Pack("approve", spender, amount)
	if err != nil {
		return common.Hash{}, &entity.TransactionRejectedError{Op: "approve", Reason: err.Error(), Err: err}
	}

	receipt, err := e.tx.Transact(ctx, token, data)
	if err != nil {
		return common.Hash{}, fmt.Errorf("approving %s on %s for %s: %w", amount, token.Hex(), spender.Hex(), err)
	}

	e.logger.Info("approved",
		"token", token.Hex(),
		"spender", spender.Hex(),
		"amount", amount.String(),
		"tx", receipt.TxHash.Hex())
	return receipt.TxHash, nil
}

// Metadata reads decimals() and symbol() of token.
func (e *ERC20) Metadata(ctx context.Context, token common.Address) (TokenMetadata, error) {
	decimalsOut, err := e.call(ctx, token, "decimals")
	if err != nil {
		return TokenMetadata{}, err
	}
	symbolOut, err := e.call(ctx, token, "symbol")
	if err != nil {
		return TokenMetadata{}, err
	}

	decimals, ok := decimalsOut[0].(uint8)
	if !ok {
		return TokenMetadata{}, fmt.Errorf("unexpected decimals type %T for %s", decimalsOut[0], token.Hex())
	}
	symbol, ok := symbolOut[0].(string)
	if !ok {
		return TokenMetadata{}, fmt.Errorf("unexpected symbol type %T for %s", symbolOut[0], token.Hex())
	}

	return TokenMetadata{Decimals: int32(decimals), Symbol: symbol}, nil
}

func (e *ERC20) call(ctx context.Context, token common.Address, method string) ([]interface{}, error) {
	data, err := e.abi.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("packing %s: %w", method, err)
	}
	out, err := e.tx.Call(ctx, token, data)
	if err != nil {
		return nil, fmt.Errorf("calling %s on %s: %w", method, token.Hex(), err)
	}
	unpacked, err := e.abi.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpacking %s on %s: %w", method, token.Hex(), err)
	}
	if len(unpacked) == 0 {
		return nil, fmt.Errorf("empty %s result from %s", method, token.Hex())
	}
	return unpacked, nil
}
