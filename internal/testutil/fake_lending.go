package testutil

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/archon-research/aave-loan/internal/domain/entity"
	"github.com/archon-research/aave-loan/internal/ports/outbound"
)

var (
	_ outbound.LendingGateway = (*FakeLendingPool)(nil)
	_ outbound.TokenApprover  = (*FakeApprover)(nil)
	_ outbound.PriceOracle    = (*FakeOracle)(nil)
)

var (
	wad        = big.NewInt(1_000_000_000_000_000_000)
	bpsDivisor = big.NewInt(10_000)
	maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

// CallLog records collaborator calls in the order they happen, across all
// fakes sharing it.
type CallLog struct {
	mu    sync.Mutex
	names []string
}

func (l *CallLog) Record(name string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.names = append(l.names, name)
}

// Names returns a copy of the recorded call names.
func (l *CallLog) Names() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.names))
	copy(out, l.names)
	return out
}

// Count returns how many times name was recorded.
func (l *CallLog) Count(name string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, v := range l.names {
		if v == name {
			n++
		}
	}
	return n
}

// FakeLendingPool is an in-memory lending pool with one collateral and one
// debt asset. Positions are derived from its state, so two reads with no
// state change in between return identical values. It rejects calls the way
// Aave V2 does: borrowing without confirmed collateral reverts with "9",
// borrowing beyond capacity with "11", repaying without debt with "15".
type FakeLendingPool struct {
	mu sync.Mutex

	Log      *CallLog
	PoolAddr common.Address

	// CollateralPrice and DebtPrice are reference-currency wei per whole token
	// (1e18 smallest units).
	CollateralPrice *big.Int
	DebtPrice       *big.Int

	// LTV and LiquidationThreshold are in basis points.
	LTV                  *big.Int
	LiquidationThreshold *big.Int

	// PendingDeposits leaves deposits unconfirmed: the call returns but the
	// collateral is never credited.
	PendingDeposits bool

	// Errors injected per operation name ("resolve", "deposit", "borrow",
	// "repay", "position").
	Errors map[string]error

	Deposits []entity.AssetAmount
	Borrows  []entity.AssetAmount
	Repays   []entity.AssetAmount

	resolved   bool
	collateral *big.Int
	debt       *big.Int
	nonce      int64
}

// NewFakeLendingPool returns a pool valuing collateral at 1 ETH per token and
// debt at 0.0005 ETH per token with an 80% LTV and 82.5% liquidation threshold.
func NewFakeLendingPool(log *CallLog) *FakeLendingPool {
	return &FakeLendingPool{
		Log:                  log,
		PoolAddr:             common.HexToAddress("0x7d2768dE32b0b80b7a3454c06BdAc94A69DDc7A9"),
		CollateralPrice:      new(big.Int).Set(wad),
		DebtPrice:            big.NewInt(500_000_000_000_000),
		LTV:                  big.NewInt(8000),
		LiquidationThreshold: big.NewInt(8250),
		Errors:               map[string]error{},
		collateral:           new(big.Int),
		debt:                 new(big.Int),
	}
}

func (p *FakeLendingPool) Resolve(_ context.Context) (common.Address, error) {
	p.Log.Record("resolve")
	if err := p.Errors["resolve"]; err != nil {
		return common.Address{}, err
	}
	p.mu.Lock()
	p.resolved = true
	p.mu.Unlock()
	return p.PoolAddr, nil
}

func (p *FakeLendingPool) PoolAddress() common.Address {
	return p.PoolAddr
}

func (p *FakeLendingPool) Deposit(_ context.Context, asset common.Address, amount *big.Int, _ common.Address, _ uint16) (common.Hash, error) {
	p.Log.Record("deposit")
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.precheck("deposit", amount); err != nil {
		return common.Hash{}, err
	}
	p.Deposits = append(p.Deposits, entity.AssetAmount{Token: asset, Amount: new(big.Int).Set(amount)})
	if !p.PendingDeposits {
		p.collateral.Add(p.collateral, amount)
	}
	return p.hash("deposit"), nil
}

func (p *FakeLendingPool) Borrow(_ context.Context, asset common.Address, amount *big.Int, _ *big.Int, _ uint16, _ common.Address) (common.Hash, error) {
	p.Log.Record("borrow")
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.precheck("borrow", amount); err != nil {
		return common.Hash{}, err
	}
	if p.collateral.Sign() == 0 {
		return common.Hash{}, &entity.ProtocolRejectedError{Op: "borrow", Reason: "9"}
	}
	if p.value(amount, p.DebtPrice).Cmp(p.available()) > 0 {
		return common.Hash{}, &entity.ProtocolRejectedError{Op: "borrow", Reason: "11"}
	}
	p.Borrows = append(p.Borrows, entity.AssetAmount{Token: asset, Amount: new(big.Int).Set(amount)})
	p.debt.Add(p.debt, amount)
	return p.hash("borrow"), nil
}

func (p *FakeLendingPool) Repay(_ context.Context, asset common.Address, amount *big.Int, _ *big.Int, _ common.Address) (common.Hash, error) {
	p.Log.Record("repay")
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.precheck("repay", amount); err != nil {
		return common.Hash{}, err
	}
	if p.debt.Sign() == 0 {
		return common.Hash{}, &entity.ProtocolRejectedError{Op: "repay", Reason: "15"}
	}
	paid := amount
	if paid.Cmp(p.debt) > 0 {
		paid = p.debt
	}
	p.Repays = append(p.Repays, entity.AssetAmount{Token: asset, Amount: new(big.Int).Set(paid)})
	p.debt.Sub(p.debt, paid)
	return p.hash("repay"), nil
}

func (p *FakeLendingPool) AccountPosition(_ context.Context, _ common.Address) (*entity.AccountPosition, error) {
	p.Log.Record("position")
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.resolved {
		return nil, errors.New("getUserAccountData: lending pool not resolved")
	}
	if err := p.Errors["position"]; err != nil {
		return nil, err
	}

	collateralValue := p.value(p.collateral, p.CollateralPrice)
	debtValue := p.value(p.debt, p.DebtPrice)
	health := new(big.Int).Set(maxUint256)
	if debtValue.Sign() > 0 {
		health = new(big.Int).Mul(collateralValue, p.LiquidationThreshold)
		health.Mul(health, wad)
		health.Quo(health, bpsDivisor)
		health.Quo(health, debtValue)
	}
	return entity.NewAccountPosition(
		collateralValue,
		debtValue,
		p.available(),
		new(big.Int).Set(p.LiquidationThreshold),
		new(big.Int).Set(p.LTV),
		health,
	)
}

// Debt returns the outstanding debt in smallest units.
func (p *FakeLendingPool) Debt() *big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return new(big.Int).Set(p.debt)
}

func (p *FakeLendingPool) precheck(op string, amount *big.Int) error {
	if !p.resolved {
		return errors.New(op + ": lending pool not resolved")
	}
	if err := p.Errors[op]; err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return &entity.ProtocolRejectedError{Op: op, Reason: "1"}
	}
	return nil
}

func (p *FakeLendingPool) available() *big.Int {
	capacity := p.value(p.collateral, p.CollateralPrice)
	capacity.Mul(capacity, p.LTV)
	capacity.Quo(capacity, bpsDivisor)
	capacity.Sub(capacity, p.value(p.debt, p.DebtPrice))
	if capacity.Sign() < 0 {
		return new(big.Int)
	}
	return capacity
}

func (p *FakeLendingPool) value(amount, price *big.Int) *big.Int {
	v := new(big.Int).Mul(amount, price)
	return v.Quo(v, wad)
}

func (p *FakeLendingPool) hash(op string) common.Hash {
	p.nonce++
	return crypto.Keccak256Hash([]byte(op), big.NewInt(p.nonce).Bytes())
}

// Approval records one FakeApprover call.
type Approval struct {
	Token   common.Address
	Spender common.Address
	Amount  *big.Int
}

// FakeApprover records approvals and fails for tokens listed in Errors.
type FakeApprover struct {
	mu        sync.Mutex
	Log       *CallLog
	Errors    map[common.Address]error
	Approvals []Approval
}

func NewFakeApprover(log *CallLog) *FakeApprover {
	return &FakeApprover{Log: log, Errors: map[common.Address]error{}}
}

func (a *FakeApprover) Approve(_ context.Context, token, spender common.Address, amount *big.Int, _ common.Address) (common.Hash, error) {
	a.Log.Record("approve")
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.Errors[token]; err != nil {
		return common.Hash{}, err
	}
	a.Approvals = append(a.Approvals, Approval{Token: token, Spender: spender, Amount: new(big.Int).Set(amount)})
	return crypto.Keccak256Hash([]byte("approve"), token.Bytes(), amount.Bytes()), nil
}

// FakeOracle returns a fixed reading.
type FakeOracle struct {
	Log     *CallLog
	Reading *entity.PriceReading
	Err     error
}

func (o *FakeOracle) LatestPrice(_ context.Context, _ entity.PricePair) (*entity.PriceReading, error) {
	o.Log.Record("price")
	if o.Err != nil {
		return nil, o.Err
	}
	return o.Reading, nil
}
