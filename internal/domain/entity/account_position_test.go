package entity

import (
	"math/big"
	"strings"
	"testing"
)

func TestNewAccountPosition(t *testing.T) {
	one := big.NewInt(1)

	tests := []struct {
		name        string
		values      [6]*big.Int
		wantErr     bool
		errContains string
	}{
		{
			name:   "valid",
			values: [6]*big.Int{big.NewInt(10), big.NewInt(0), big.NewInt(8), big.NewInt(8250), big.NewInt(8000), one},
		},
		{
			name:        "nil available borrows",
			values:      [6]*big.Int{one, one, nil, one, one, one},
			wantErr:     true,
			errContains: "availableBorrows must not be nil",
		},
		{
			name:        "negative debt",
			values:      [6]*big.Int{one, big.NewInt(-5), one, one, one, one},
			wantErr:     true,
			errContains: "totalDebt must be non-negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := tt.values
			_, err := NewAccountPosition(v[0], v[1], v[2], v[3], v[4], v[5])
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("error %q does not contain %q", err.Error(), tt.errContains)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestAccountPosition_Equal(t *testing.T) {
	mk := func(available int64) *AccountPosition {
		p, err := NewAccountPosition(big.NewInt(100), big.NewInt(0), big.NewInt(available), big.NewInt(8250), big.NewInt(8000), big.NewInt(1))
		if err != nil {
			t.Fatalf("NewAccountPosition: %v", err)
		}
		return p
	}

	if !mk(80).Equal(mk(80)) {
		t.Error("identical positions should be equal")
	}
	if mk(80).Equal(mk(79)) {
		t.Error("positions with different available borrows should differ")
	}
	if mk(80).Equal(nil) {
		t.Error("position should not equal nil")
	}
	var nilPos *AccountPosition
	if !nilPos.Equal(nil) {
		t.Error("nil should equal nil")
	}
}
