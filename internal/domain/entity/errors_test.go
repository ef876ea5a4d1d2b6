package entity

import (
	"errors"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestProtocolRejectedError_MatchesBothKinds(t *testing.T) {
	err := fmt.Errorf("borrowing: %w", &ProtocolRejectedError{Op: "borrow", Reason: "11"})

	if !errors.Is(err, ErrProtocolRejected) {
		t.Error("expected errors.Is(err, ErrProtocolRejected)")
	}
	if !errors.Is(err, ErrTransactionRejected) {
		t.Error("expected errors.Is(err, ErrTransactionRejected)")
	}
	if errors.Is(err, ErrOracleUnavailable) {
		t.Error("did not expect ErrOracleUnavailable")
	}
}

func TestTransactionRejectedError_IsNotProtocolRejected(t *testing.T) {
	err := &TransactionRejectedError{Op: "approve", Reason: "insufficient balance"}
	if !errors.Is(err, ErrTransactionRejected) {
		t.Error("expected ErrTransactionRejected")
	}
	if errors.Is(err, ErrProtocolRejected) {
		t.Error("approval rejection must not match ErrProtocolRejected")
	}
}

func TestNewProtocolRejected(t *testing.T) {
	hash := common.HexToHash("0xabc")

	tests := []struct {
		name       string
		in         error
		wantReason string
		wantHash   common.Hash
	}{
		{
			name:       "from transaction rejection keeps reason and hash",
			in:         &TransactionRejectedError{Op: "send", TxHash: hash, Reason: "execution reverted: 11"},
			wantReason: "execution reverted: 11",
			wantHash:   hash,
		},
		{
			name:       "from plain error uses message",
			in:         errors.New("connection refused"),
			wantReason: "connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewProtocolRejected("deposit", tt.in)
			var pre *ProtocolRejectedError
			if !errors.As(err, &pre) {
				t.Fatalf("expected ProtocolRejectedError, got %T", err)
			}
			if pre.Reason != tt.wantReason {
				t.Errorf("Reason = %q, want %q", pre.Reason, tt.wantReason)
			}
			if pre.TxHash != tt.wantHash {
				t.Errorf("TxHash = %s, want %s", pre.TxHash, tt.wantHash)
			}
			if RejectionReason(err) != tt.wantReason {
				t.Errorf("RejectionReason = %q, want %q", RejectionReason(err), tt.wantReason)
			}
			if !errors.Is(err, tt.in) {
				t.Error("original error should stay in the chain")
			}
		})
	}

	if NewProtocolRejected("deposit", nil) != nil {
		t.Error("nil error should stay nil")
	}
}
