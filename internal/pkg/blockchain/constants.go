package blockchain

import "github.com/ethereum/go-ethereum/common"

// Ethereum mainnet defaults for the Aave V2 market.
const (
	LendingPoolAddressesProviderAddress = "0xB53C1a33016B2DC2fF3653530bfF1848a515c8c5"
	WETHAddress                         = "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
	DAIAddress                          = "0x6B175474E89094C44Da98b954EedeAC495271d0F"
	DAIETHFeedAddress                   = "0x773616E4d11A78F511299002da57A0a94577F1f4"
)

var (
	LendingPoolAddressesProvider = common.HexToAddress(LendingPoolAddressesProviderAddress)
	WETH                         = common.HexToAddress(WETHAddress)
	DAI                          = common.HexToAddress(DAIAddress)
	DAIETHFeed                   = common.HexToAddress(DAIETHFeedAddress)
)

// Aave V2 interest rate modes.
const (
	InterestRateModeStable   = 1
	InterestRateModeVariable = 2
)

// ETHDecimals is the precision of values returned by getUserAccountData on
// the ETH-denominated Aave V2 market.
const ETHDecimals = 18
