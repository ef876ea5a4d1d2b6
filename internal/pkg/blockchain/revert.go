package blockchain

import (
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// aaveV2ErrorCodes maps the numeric revert strings of Aave V2's ValidationLogic
// to their Errors.sol constant names.
var aaveV2ErrorCodes = map[string]string{
	"1":  "VL_INVALID_AMOUNT",
	"2":  "VL_NO_ACTIVE_RESERVE",
	"3":  "VL_RESERVE_FROZEN",
	"4":  "VL_CURRENT_AVAILABLE_LIQUIDITY_NOT_ENOUGH",
	"5":  "VL_NOT_ENOUGH_AVAILABLE_USER_BALANCE",
	"6":  "VL_TRANSFER_NOT_ALLOWED",
	"7":  "VL_BORROWING_NOT_ENABLED",
	"8":  "VL_INVALID_INTEREST_RATE_MODE_SELECTED",
	"9":  "VL_COLLATERAL_BALANCE_IS_0",
	"10": "VL_HEALTH_FACTOR_LOWER_THAN_LIQUIDATION_THRESHOLD",
	"11": "VL_COLLATERAL_CANNOT_COVER_NEW_BORROW",
	"12": "VL_STABLE_BORROWING_NOT_ENABLED",
	"13": "VL_COLLATERAL_SAME_AS_BORROWING_CURRENCY",
	"14": "VL_AMOUNT_BIGGER_THAN_MAX_LOAN_SIZE_STABLE",
	"15": "VL_NO_DEBT_OF_SELECTED_TYPE",
	"16": "VL_NO_EXPLICIT_AMOUNT_TO_REPAY_ON_BEHALF",
	"17": "VL_NO_STABLE_RATE_LOAN_IN_RESERVE",
	"18": "VL_NO_VARIABLE_RATE_LOAN_IN_RESERVE",
	"19": "VL_UNDERLYING_BALANCE_NOT_GREATER_THAN_0",
	"20": "VL_DEPOSIT_ALREADY_IN_USE",
}

// RevertReason extracts the revert reason carried by an RPC error. When the
// node returns Error(string) revert data it is ABI-decoded; otherwise the raw
// error message is returned unchanged.
func RevertReason(err error) string {
	if err == nil {
		return ""
	}
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if hexData, ok := dataErr.ErrorData().(string); ok {
			if data, decErr := hexutil.Decode(hexData); decErr == nil {
				if reason, unpackErr := abi.UnpackRevert(data); unpackErr == nil {
					return reason
				}
			}
		}
	}
	return err.Error()
}

// IsRevert reports whether err is an EVM revert rather than a transport
// failure: the node attached revert data, or the message says the execution
// reverted.
func IsRevert(err error) bool {
	if err == nil {
		return false
	}
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if hexData, ok := dataErr.ErrorData().(string); ok {
			if data, decErr := hexutil.Decode(hexData); decErr == nil && len(data) > 0 {
				return true
			}
		}
	}
	return strings.Contains(err.Error(), "execution reverted")
}

// DescribeAaveError returns the Errors.sol name for an Aave V2 numeric revert
// reason, or "" if the reason is not a known code.
func DescribeAaveError(reason string) string {
	code := strings.TrimSpace(strings.TrimPrefix(reason, "execution reverted:"))
	return aaveV2ErrorCodes[code]
}
