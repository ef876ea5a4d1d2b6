// Package abis holds the contract ABIs the loan workflow packs and unpacks.
//
// Each ABI is parsed once on first use and shared; *abi.ABI is read-only
// after parsing.
package abis

import (
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

var (
	erc20           = lazy("ERC20", erc20JSON)
	addressProvider = lazy("LendingPoolAddressesProvider", addressesProviderJSON)
	lendingPool     = lazy("LendingPool", lendingPoolJSON)
	aggregatorV3    = lazy("AggregatorV3", aggregatorV3JSON)
)

// GetERC20ABI returns approve, decimals and symbol.
func GetERC20ABI() (*abi.ABI, error) { return erc20() }

// GetLendingPoolAddressesProviderABI returns getLendingPool, which yields the
// live pool proxy.
func GetLendingPoolAddressesProviderABI() (*abi.ABI, error) { return addressProvider() }

// GetAaveV2LendingPoolABI returns deposit, borrow, repay and getUserAccountData.
func GetAaveV2LendingPoolABI() (*abi.ABI, error) { return lendingPool() }

// GetAggregatorV3ABI returns latestRoundData and decimals.
func GetAggregatorV3ABI() (*abi.ABI, error) { return aggregatorV3() }

func lazy(name, definition string) func() (*abi.ABI, error) {
	return sync.OnceValues(func() (*abi.ABI, error) {
		parsed, err := abi.JSON(strings.NewReader(definition))
		if err != nil {
			return nil, fmt.Errorf("parsing %s ABI: %w", name, err)
		}
		return &parsed, nil
	})
}
