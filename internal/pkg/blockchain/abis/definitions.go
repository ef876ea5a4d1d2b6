package abis

const erc20JSON = `[
  {"type":"function","name":"approve","stateMutability":"nonpayable",
   "inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"decimals","stateMutability":"view","inputs":[],
   "outputs":[{"name":"","type":"uint8"}]},
  {"type":"function","name":"symbol","stateMutability":"view","inputs":[],
   "outputs":[{"name":"","type":"string"}]}
]`

const addressesProviderJSON = `[
  {"type":"function","name":"getLendingPool","stateMutability":"view","inputs":[],
   "outputs":[{"name":"","type":"address"}]}
]`

const lendingPoolJSON = `[
  {"type":"function","name":"deposit","stateMutability":"nonpayable",
   "inputs":[
     {"name":"asset","type":"address"},
     {"name":"amount","type":"uint256"},
     {"name":"onBehalfOf","type":"address"},
     {"name":"referralCode","type":"uint16"}],
   "outputs":[]},
  {"type":"function","name":"borrow","stateMutability":"nonpayable",
   "inputs":[
     {"name":"asset","type":"address"},
     {"name":"amount","type":"uint256"},
     {"name":"interestRateMode","type":"uint256"},
     {"name":"referralCode","type":"uint16"},
     {"name":"onBehalfOf","type":"address"}],
   "outputs":[]},
  {"type":"function","name":"repay","stateMutability":"nonpayable",
   "inputs":[
     {"name":"asset","type":"address"},
     {"name":"amount","type":"uint256"},
     {"name":"rateMode","type":"uint256"},
     {"name":"onBehalfOf","type":"address"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"getUserAccountData","stateMutability":"view",
   "inputs":[{"name":"user","type":"address"}],
   "outputs":[
     {"name":"totalCollateralETH","type":"uint256"},
     {"name":"totalDebtETH","type":"uint256"},
     {"name":"availableBorrowsETH","type":"uint256"},
     {"name":"currentLiquidationThreshold","type":"uint256"},
     {"name":"ltv","type":"uint256"},
     {"name":"healthFactor","type":"uint256"}]}
]`

// latestRoundData's answer is signed; feeds may report zero or negative values.
const aggregatorV3JSON = `[
  {"type":"function","name":"latestRoundData","stateMutability":"view","inputs":[],
   "outputs":[
     {"name":"roundId","type":"uint80"},
     {"name":"answer","type":"int256"},
     {"name":"startedAt","type":"uint256"},
     {"name":"updatedAt","type":"uint256"},
     {"name":"answeredInRound","type":"uint80"}]},
  {"type":"function","name":"decimals","stateMutability":"view","inputs":[],
   "outputs":[{"name":"","type":"uint8"}]}
]`
