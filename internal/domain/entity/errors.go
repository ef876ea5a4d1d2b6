package entity

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Error kinds. Match with errors.Is.
var (
	ErrTransactionRejected = errors.New("transaction rejected")
	ErrProtocolRejected    = errors.New("protocol rejected")
	ErrOracleUnavailable   = errors.New("oracle unavailable")
	ErrPlanning            = errors.New("planning error")

	// ErrPriceRejected marks an oracle failure that repeating the read will
	// not fix: the feed answered, reverted, or is not configured. It is
	// always wrapped together with ErrOracleUnavailable.
	ErrPriceRejected = errors.New("price rejected")
)

// TransactionRejectedError is returned when a state-changing call reverts,
// is refused by the node, or does not confirm.
type TransactionRejectedError struct {
	Op     string
	TxHash common.Hash // zero if the transaction was never broadcast
	Reason string
	Err    error
}

func (e *TransactionRejectedError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, ErrTransactionRejected)
	if e.TxHash != (common.Hash{}) {
		msg += " (tx " + e.TxHash.Hex() + ")"
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *TransactionRejectedError) Unwrap() error { return e.Err }

func (e *TransactionRejectedError) Is(target error) bool {
	return target == ErrTransactionRejected
}

// ProtocolRejectedError is a rejection raised by a lending pool entry point.
// It also matches ErrTransactionRejected.
type ProtocolRejectedError struct {
	Op     string
	TxHash common.Hash
	Reason string
	Err    error
}

func (e *ProtocolRejectedError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, ErrProtocolRejected)
	if e.TxHash != (common.Hash{}) {
		msg += " (tx " + e.TxHash.Hex() + ")"
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *ProtocolRejectedError) Unwrap() error { return e.Err }

func (e *ProtocolRejectedError) Is(target error) bool {
	return target == ErrProtocolRejected || target == ErrTransactionRejected
}

// NewProtocolRejected converts err into a ProtocolRejectedError for op,
// keeping the tx hash and raw revert reason when err already carries them.
func NewProtocolRejected(op string, err error) error {
	if err == nil {
		return nil
	}
	var pre *ProtocolRejectedError
	if errors.As(err, &pre) {
		return err
	}
	out := &ProtocolRejectedError{Op: op, Reason: err.Error(), Err: err}
	var tre *TransactionRejectedError
	if errors.As(err, &tre) {
		out.TxHash = tre.TxHash
		out.Reason = tre.Reason
	}
	return out
}

// RejectionReason extracts the raw revert reason from err, or "" if none.
func RejectionReason(err error) string {
	var pre *ProtocolRejectedError
	if errors.As(err, &pre) {
		return pre.Reason
	}
	var tre *TransactionRejectedError
	if errors.As(err, &tre) {
		return tre.Reason
	}
	return ""
}
