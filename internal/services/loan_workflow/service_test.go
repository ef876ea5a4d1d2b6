package loan_workflow

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/archon-research/aave-loan/internal/adapters/outbound/memory"
	"github.com/archon-research/aave-loan/internal/domain/entity"
	"github.com/archon-research/aave-loan/internal/ports/outbound"
	"github.com/archon-research/aave-loan/internal/services/borrow_planner"
	"github.com/archon-research/aave-loan/internal/testutil"
)

var (
	account    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	weth       = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	dai        = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
	daiEth     = entity.PricePair{Base: "DAI", Quote: "ETH"}
	tenEther   = new(big.Int).Mul(big.NewInt(10), big.NewInt(1_000_000_000_000_000_000))
	daiEthRate = big.NewInt(500_000_000_000_000)
)

// harness wires the service to in-memory collaborators sharing one call log.
type harness struct {
	log      *testutil.CallLog
	pool     *testutil.FakeLendingPool
	approver *testutil.FakeApprover
	oracle   *testutil.FakeOracle
	events   *memory.EventSink
	metrics  *testutil.MockMetricsRecorder
	planner  Planner
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := &testutil.CallLog{}
	reading, err := entity.NewPriceReading(daiEth, daiEthRate, 18, big.NewInt(1), time.Unix(1_700_000_000, 0))
	if err != nil {
		t.Fatalf("NewPriceReading() error = %v", err)
	}
	planner, err := borrow_planner.NewPlanner(borrow_planner.Config{
		DebtToken:         dai,
		DebtDecimals:      18,
		ReferenceDecimals: 18,
	})
	if err != nil {
		t.Fatalf("NewPlanner() error = %v", err)
	}
	return &harness{
		log:      log,
		pool:     testutil.NewFakeLendingPool(log),
		approver: testutil.NewFakeApprover(log),
		oracle:   &testutil.FakeOracle{Log: log, Reading: reading},
		events:   memory.NewEventSink(),
		metrics:  &testutil.MockMetricsRecorder{},
		planner:  planner,
	}
}

func (h *harness) service(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(Config{
		Account:           account,
		CollateralToken:   weth,
		CollateralAmount:  tenEther,
		DebtToken:         dai,
		Pair:              daiEth,
		UtilizationFactor: decimal.RequireFromString("0.95"),
	}, h.approver, h.pool, h.oracle, h.planner, h.events, h.metrics)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return svc
}

// stubPlanner always returns the same plan.
type stubPlanner struct {
	plan entity.BorrowPlan
}

func (p stubPlanner) Plan(*entity.AccountPosition, *entity.PriceReading, decimal.Decimal) (entity.BorrowPlan, error) {
	return p.plan, nil
}

// failingSink rejects every event.
type failingSink struct{}

func (failingSink) Publish(context.Context, outbound.WorkflowEvent) error {
	return errors.New("sink unavailable")
}

func (failingSink) Close() error { return nil }

func mustBig(t *testing.T, s string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		t.Fatalf("invalid integer %q", s)
	}
	return v
}

func requireStepError(t *testing.T, err error, state entity.WorkflowState) *StepError {
	t.Helper()
	var stepErr *StepError
	if !errors.As(err, &stepErr) {
		t.Fatalf("error = %v, want *StepError", err)
	}
	if stepErr.State != state {
		t.Errorf("StepError.State = %s, want %s", stepErr.State, state)
	}
	return stepErr
}

func TestNewService_Validation(t *testing.T) {
	h := newHarness(t)
	valid := Config{Account: account, CollateralToken: weth, CollateralAmount: tenEther, DebtToken: dai}

	tests := []struct {
		name        string
		mutate      func(c *Config)
		approver    outbound.TokenApprover
		errContains string
	}{
		{name: "valid", mutate: func(*Config) {}, approver: h.approver},
		{name: "nil approver", mutate: func(*Config) {}, approver: nil, errContains: "approver cannot be nil"},
		{name: "no account", mutate: func(c *Config) { c.Account = common.Address{} }, approver: h.approver, errContains: "account is required"},
		{name: "no collateral token", mutate: func(c *Config) { c.CollateralToken = common.Address{} }, approver: h.approver, errContains: "collateral token"},
		{name: "no debt token", mutate: func(c *Config) { c.DebtToken = common.Address{} }, approver: h.approver, errContains: "debt token"},
		{name: "zero collateral", mutate: func(c *Config) { c.CollateralAmount = new(big.Int) }, approver: h.approver, errContains: "collateral amount"},
		{name: "factor above one", mutate: func(c *Config) { c.UtilizationFactor = decimal.RequireFromString("1.5") }, approver: h.approver, errContains: "utilization factor"},
		{name: "negative factor", mutate: func(c *Config) { c.UtilizationFactor = decimal.RequireFromString("-0.1") }, approver: h.approver, errContains: "utilization factor"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			svc, err := NewService(cfg, tt.approver, h.pool, h.oracle, h.planner, nil, nil)
			if tt.errContains == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if svc.config.Pair != daiEth {
					t.Errorf("default pair = %s, want DAI/ETH", svc.config.Pair)
				}
				if !svc.config.UtilizationFactor.Equal(borrow_planner.DefaultUtilizationFactor) {
					t.Errorf("default factor = %s", svc.config.UtilizationFactor)
				}
				if svc.config.InterestRateMode.Int64() != 1 {
					t.Errorf("default interest rate mode = %s, want 1", svc.config.InterestRateMode)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.errContains) {
				t.Fatalf("error = %v, want containing %q", err, tt.errContains)
			}
		})
	}
}

func TestRun_HappyPath(t *testing.T) {
	h := newHarness(t)
	report, err := h.service(t).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if report.State != entity.StateDone || report.Reached != entity.StateDone {
		t.Errorf("state = %s reached = %s, want Done", report.State, report.Reached)
	}
	if report.SkippedBorrow {
		t.Error("SkippedBorrow = true, want false")
	}

	wantCalls := []string{"resolve", "approve", "deposit", "position", "price", "borrow", "position", "approve", "repay", "position"}
	if got := h.log.Names(); strings.Join(got, ",") != strings.Join(wantCalls, ",") {
		t.Errorf("calls = %v, want %v", got, wantCalls)
	}
	if len(h.pool.Deposits) != 1 || len(h.pool.Borrows) != 1 || len(h.pool.Repays) != 1 {
		t.Errorf("deposits/borrows/repays = %d/%d/%d, want 1/1/1", len(h.pool.Deposits), len(h.pool.Borrows), len(h.pool.Repays))
	}
	if got := h.log.Count("position"); got != 3 {
		t.Errorf("position reads = %d, want 3", got)
	}

	// 10 ETH × 80% LTV × 0.95 / 0.0005 = 15 200 DAI.
	wantBorrow := mustBig(t, "15200000000000000000000")
	if got := h.pool.Borrows[0].Amount; got.Cmp(wantBorrow) != 0 {
		t.Errorf("borrowed = %s, want %s", got, wantBorrow)
	}
	if got := h.pool.Repays[0].Amount; got.Cmp(wantBorrow) != 0 {
		t.Errorf("repaid = %s, want %s", got, wantBorrow)
	}
	if h.pool.Debt().Sign() != 0 {
		t.Errorf("debt after repay = %s, want 0", h.pool.Debt())
	}

	if len(h.approver.Approvals) != 2 {
		t.Fatalf("approvals = %d, want 2", len(h.approver.Approvals))
	}
	collateralApproval, debtApproval := h.approver.Approvals[0], h.approver.Approvals[1]
	if collateralApproval.Token != weth || collateralApproval.Spender != h.pool.PoolAddr || collateralApproval.Amount.Cmp(tenEther) != 0 {
		t.Errorf("collateral approval = %+v", collateralApproval)
	}
	if debtApproval.Token != dai || debtApproval.Amount.Cmp(wantBorrow) != 0 {
		t.Errorf("debt approval = %+v", debtApproval)
	}

	if len(report.Positions) != 3 {
		t.Fatalf("report positions = %d, want 3", len(report.Positions))
	}
	if report.Positions[1].TotalDebt.Sign() == 0 {
		t.Error("position after borrow shows no debt")
	}
	if report.Positions[2].TotalDebt.Sign() != 0 {
		t.Errorf("position after repay shows debt %s", report.Positions[2].TotalDebt)
	}
	for name, hash := range map[string]common.Hash{
		"collateral approval": report.CollateralApprovalTx,
		"deposit":             report.DepositTx,
		"borrow":              report.BorrowTx,
		"debt approval":       report.DebtApprovalTx,
		"repay":               report.RepayTx,
	} {
		if hash == (common.Hash{}) {
			t.Errorf("%s tx hash is empty", name)
		}
	}

	wantStates := []entity.WorkflowState{
		entity.StateDeposited, entity.StateQueried1, entity.StatePlanned, entity.StateBorrowed,
		entity.StateQueried2, entity.StateRepaid, entity.StateQueried3, entity.StateDone,
	}
	events := h.events.Run(report.RunID)
	if len(events) != len(wantStates) {
		t.Fatalf("events = %d, want %d", len(events), len(wantStates))
	}
	for i, want := range wantStates {
		if events[i].To != want {
			t.Errorf("event %d to = %s, want %s", i, events[i].To, want)
		}
	}
	if events[3].TxHash != report.BorrowTx.Hex() || events[3].Amount != wantBorrow.String() {
		t.Errorf("borrow event = %+v", events[3])
	}

	if len(h.metrics.Runs) != 1 || h.metrics.Runs[0] != entity.StateDone {
		t.Errorf("recorded runs = %v, want [Done]", h.metrics.Runs)
	}
	if len(h.metrics.Steps) != len(wantStates) {
		t.Errorf("recorded steps = %d, want %d", len(h.metrics.Steps), len(wantStates))
	}
}

func TestRun_ApprovalFailureStopsBeforeDeposit(t *testing.T) {
	h := newHarness(t)
	h.approver.Errors[weth] = &entity.TransactionRejectedError{Op: "approve", Reason: "insufficient funds for gas"}

	report, err := h.service(t).Run(context.Background())
	if !errors.Is(err, entity.ErrTransactionRejected) {
		t.Fatalf("error = %v, want ErrTransactionRejected", err)
	}
	stepErr := requireStepError(t, err, entity.StateIdle)
	if stepErr.Transition != "Idle -> Deposited" {
		t.Errorf("transition = %q", stepErr.Transition)
	}

	if report.State != entity.StateFailed || report.Reached != entity.StateIdle {
		t.Errorf("state = %s reached = %s, want Failed/Idle", report.State, report.Reached)
	}
	if got := h.log.Count("deposit"); got != 0 {
		t.Errorf("deposit calls = %d, want 0", got)
	}
	if report.Err != err {
		t.Errorf("report.Err = %v, want %v", report.Err, err)
	}

	events := h.events.Events()
	if len(events) != 1 || events[0].To != entity.StateFailed || events[0].Reason != "insufficient funds for gas" {
		t.Errorf("events = %+v, want one Failed event with the reason", events)
	}
	if len(h.metrics.Runs) != 1 || h.metrics.Runs[0] != entity.StateFailed {
		t.Errorf("recorded runs = %v, want [Failed]", h.metrics.Runs)
	}
}

func TestRun_ResolveFailure(t *testing.T) {
	h := newHarness(t)
	h.pool.Errors["resolve"] = &entity.ProtocolRejectedError{Op: "getLendingPool", Reason: "execution reverted"}

	report, err := h.service(t).Run(context.Background())
	if !errors.Is(err, entity.ErrProtocolRejected) {
		t.Fatalf("error = %v, want ErrProtocolRejected", err)
	}
	requireStepError(t, err, entity.StateIdle)
	if report.Pool != (common.Address{}) {
		t.Errorf("pool = %s, want zero", report.Pool.Hex())
	}
	if got := h.log.Count("approve"); got != 0 {
		t.Errorf("approve calls = %d, want 0", got)
	}
}

func TestRun_ZeroPlanSkipsBorrow(t *testing.T) {
	h := newHarness(t)
	h.pool.LTV = new(big.Int)

	report, err := h.service(t).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.State != entity.StateDone || !report.SkippedBorrow {
		t.Errorf("state = %s skipped = %v, want Done/true", report.State, report.SkippedBorrow)
	}
	if report.Plan == nil || !report.Plan.IsZero() {
		t.Errorf("plan = %+v, want zero plan", report.Plan)
	}
	for _, name := range []string{"borrow", "repay"} {
		if got := h.log.Count(name); got != 0 {
			t.Errorf("%s calls = %d, want 0", name, got)
		}
	}
	if got := h.log.Count("position"); got != 1 {
		t.Errorf("position reads = %d, want 1", got)
	}

	states := h.events.States()
	want := []entity.WorkflowState{entity.StateDeposited, entity.StateQueried1, entity.StateDone}
	if len(states) != len(want) {
		t.Fatalf("states = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("state %d = %s, want %s", i, states[i], want[i])
		}
	}
}

func TestRun_PositionReadsAreIdempotent(t *testing.T) {
	h := newHarness(t)
	h.pool.LTV = new(big.Int)

	report, err := h.service(t).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	again, err := h.pool.AccountPosition(context.Background(), account)
	if err != nil {
		t.Fatalf("AccountPosition() error = %v", err)
	}
	if !report.Positions[0].Equal(again) {
		t.Errorf("second read %+v differs from %+v", again, report.Positions[0])
	}
}

func TestRun_BorrowBeforeConfirmedDepositIsRejected(t *testing.T) {
	h := newHarness(t)
	h.pool.PendingDeposits = true
	amount, err := entity.NewAssetAmount(dai, big.NewInt(1_000))
	if err != nil {
		t.Fatalf("NewAssetAmount() error = %v", err)
	}
	h.planner = stubPlanner{plan: entity.BorrowPlan{Amount: amount}}

	report, err := h.service(t).Run(context.Background())
	if !errors.Is(err, entity.ErrProtocolRejected) {
		t.Fatalf("error = %v, want ErrProtocolRejected", err)
	}
	requireStepError(t, err, entity.StatePlanned)
	if got := entity.RejectionReason(err); got != "9" {
		t.Errorf("reason = %q, want 9", got)
	}
	if report.Reached != entity.StatePlanned {
		t.Errorf("reached = %s, want Planned", report.Reached)
	}
	if len(h.pool.Borrows) != 0 {
		t.Errorf("borrows = %d, want 0", len(h.pool.Borrows))
	}
}

func TestRun_OracleFailure(t *testing.T) {
	h := newHarness(t)
	h.oracle.Err = fmt.Errorf("%w: feed reverted", entity.ErrOracleUnavailable)

	report, err := h.service(t).Run(context.Background())
	if !errors.Is(err, entity.ErrOracleUnavailable) {
		t.Fatalf("error = %v, want ErrOracleUnavailable", err)
	}
	requireStepError(t, err, entity.StateQueried1)
	if report.Reached != entity.StateQueried1 {
		t.Errorf("reached = %s, want Queried1", report.Reached)
	}
	if len(h.pool.Deposits) != 1 {
		t.Errorf("deposits = %d, want 1 (no rollback)", len(h.pool.Deposits))
	}
	if got := h.log.Count("borrow"); got != 0 {
		t.Errorf("borrow calls = %d, want 0", got)
	}
}

func TestRun_RepayRejected(t *testing.T) {
	h := newHarness(t)
	h.pool.Errors["repay"] = &entity.ProtocolRejectedError{Op: "repay", Reason: "16"}

	report, err := h.service(t).Run(context.Background())
	if !errors.Is(err, entity.ErrProtocolRejected) {
		t.Fatalf("error = %v, want ErrProtocolRejected", err)
	}
	requireStepError(t, err, entity.StateQueried2)
	if report.BorrowTx == (common.Hash{}) || report.RepayTx != (common.Hash{}) {
		t.Errorf("borrow tx = %s repay tx = %s", report.BorrowTx.Hex(), report.RepayTx.Hex())
	}
	if h.pool.Debt().Sign() == 0 {
		t.Error("debt cleared despite rejected repay")
	}
}

func TestRun_EventSinkFailureDoesNotFailRun(t *testing.T) {
	h := newHarness(t)
	svc, err := NewService(Config{
		Account:          account,
		CollateralToken:  weth,
		CollateralAmount: tenEther,
		DebtToken:        dai,
	}, h.approver, h.pool, h.oracle, h.planner, failingSink{}, nil)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}

	report, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.State != entity.StateDone {
		t.Errorf("state = %s, want Done", report.State)
	}
}

func TestRun_CancelledContext(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := h.service(t).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if report.State != entity.StateFailed {
		t.Errorf("state = %s, want Failed", report.State)
	}
	if calls := h.log.Names(); len(calls) != 0 {
		t.Errorf("calls = %v, want none", calls)
	}
}

func TestRun_RunsAreIndependent(t *testing.T) {
	h := newHarness(t)
	svc := h.service(t)

	first, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	second, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if first.RunID == second.RunID {
		t.Error("runs share a run ID")
	}
	if got := h.log.Count("resolve"); got != 2 {
		t.Errorf("resolve calls = %d, want one per run", got)
	}
}
