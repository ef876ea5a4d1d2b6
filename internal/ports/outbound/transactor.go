package outbound

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ContractBackend is the subset of ethclient.Client used to read contracts
// and submit signed transactions.
type ContractBackend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// ContractCaller performs read-only contract calls.
type ContractCaller interface {
	// Call performs an eth_call against the latest block.
	Call(ctx context.Context, to common.Address, data []byte) ([]byte, error)
}

// Transactor is the wallet/signing layer. It owns the acting account and
// submits calls on its behalf.
type Transactor interface {
	ContractCaller

	// Account returns the address transactions are sent from.
	Account() common.Address

	// Transact signs and sends a call to `to` and waits for the configured
	// confirmation depth. A reverted or unconfirmed transaction returns an
	// *entity.TransactionRejectedError.
	Transact(ctx context.Context, to common.Address, data []byte) (*types.Receipt, error)
}
