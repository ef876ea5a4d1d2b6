// Package loan_workflow drives one collateralised borrow-and-repay cycle
// against a lending pool as an explicit state machine:
//
//	Idle → Deposited → Queried1 → Planned → Borrowed → Queried2 → Repaid → Queried3 → Done
//
// Any transition may fail into Failed. A zero borrow plan moves Queried1
// straight to Done. Every step blocks until its transaction confirms, and
// nothing is rolled back on failure.
package loan_workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/archon-research/aave-loan/internal/domain/entity"
	"github.com/archon-research/aave-loan/internal/pkg/blockchain"
	"github.com/archon-research/aave-loan/internal/ports/outbound"
	"github.com/archon-research/aave-loan/internal/services/borrow_planner"
)

const tracerName = "github.com/archon-research/aave-loan/internal/services/loan_workflow"

// Planner sizes the borrow from a position and a price.
type Planner interface {
	Plan(position *entity.AccountPosition, price *entity.PriceReading, utilizationFactor decimal.Decimal) (entity.BorrowPlan, error)
}

// Config holds configuration for a workflow run.
type Config struct {
	// Account is the acting address. It must be the signer behind the
	// approver and gateway.
	Account common.Address

	// CollateralToken and CollateralAmount describe the deposit.
	CollateralToken  common.Address
	CollateralAmount *big.Int

	// DebtToken is the asset borrowed and repaid.
	DebtToken common.Address

	// Pair is the oracle pair pricing the debt token in the reference currency.
	Pair entity.PricePair

	// UtilizationFactor is the share of available borrows to use, in (0, 1].
	UtilizationFactor decimal.Decimal

	// InterestRateMode is passed through to borrow and repay.
	InterestRateMode *big.Int

	// ReferralCode is passed through to deposit and borrow.
	ReferralCode uint16

	// Logger is the structured logger.
	Logger *slog.Logger
}

func configDefaults() Config {
	return Config{
		Pair:              entity.PricePair{Base: "DAI", Quote: "ETH"},
		UtilizationFactor: borrow_planner.DefaultUtilizationFactor,
		InterestRateMode:  big.NewInt(blockchain.InterestRateModeStable),
		Logger:            slog.Default(),
	}
}

// Service runs the loan workflow.
type Service struct {
	config   Config
	approver outbound.TokenApprover
	gateway  outbound.LendingGateway
	oracle   outbound.PriceOracle
	planner  Planner
	events   outbound.EventSink
	metrics  outbound.MetricsRecorder
	logger   *slog.Logger
}

// NewService creates a workflow service. events and metrics may be nil.
func NewService(
	config Config,
	approver outbound.TokenApprover,
	gateway outbound.LendingGateway,
	oracle outbound.PriceOracle,
	planner Planner,
	events outbound.EventSink,
	metrics outbound.MetricsRecorder,
) (*Service, error) {
	if approver == nil {
		return nil, fmt.Errorf("approver cannot be nil")
	}
	if gateway == nil {
		return nil, fmt.Errorf("gateway cannot be nil")
	}
	if oracle == nil {
		return nil, fmt.Errorf("oracle cannot be nil")
	}
	if planner == nil {
		return nil, fmt.Errorf("planner cannot be nil")
	}
	if config.Account == (common.Address{}) {
		return nil, fmt.Errorf("account is required")
	}
	if config.CollateralToken == (common.Address{}) {
		return nil, fmt.Errorf("collateral token is required")
	}
	if config.DebtToken == (common.Address{}) {
		return nil, fmt.Errorf("debt token is required")
	}
	if config.CollateralAmount == nil || config.CollateralAmount.Sign() <= 0 {
		return nil, fmt.Errorf("collateral amount must be positive")
	}

	defaults := configDefaults()
	if config.Pair == (entity.PricePair{}) {
		config.Pair = defaults.Pair
	}
	if config.UtilizationFactor.IsZero() {
		config.UtilizationFactor = defaults.UtilizationFactor
	}
	if err := borrow_planner.ValidateUtilizationFactor(config.UtilizationFactor); err != nil {
		return nil, err
	}
	if config.InterestRateMode == nil {
		config.InterestRateMode = defaults.InterestRateMode
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	return &Service{
		config:   config,
		approver: approver,
		gateway:  gateway,
		oracle:   oracle,
		planner:  planner,
		events:   events,
		metrics:  metrics,
		logger:   config.Logger.With("component", "loan-workflow"),
	}, nil
}

// Report summarises one run. It is returned for failed runs too, describing
// how far the run got.
type Report struct {
	RunID   string
	Account common.Address
	Pool    common.Address

	// State is Done or Failed.
	State entity.WorkflowState

	// Reached is the last state entered successfully.
	Reached entity.WorkflowState

	// SkippedBorrow is set when the plan was zero and the run ended after Queried1.
	SkippedBorrow bool

	Price *entity.PriceReading
	Plan  *entity.BorrowPlan

	// Positions holds the position reads in order: after deposit, after
	// borrow, after repay.
	Positions []*entity.AccountPosition

	CollateralApprovalTx common.Hash
	DepositTx            common.Hash
	BorrowTx             common.Hash
	DebtApprovalTx       common.Hash
	RepayTx              common.Hash

	StartedAt  time.Time
	FinishedAt time.Time
	Err        error
}

// StepError is returned by Run when a transition fails.
type StepError struct {
	// State is the state the run was in when the transition failed.
	State entity.WorkflowState

	// Transition names the transition attempted, e.g. "Idle -> Deposited".
	Transition string

	Err error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("loan workflow failed in %s during %s: %v", e.State, e.Transition, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// transitions lists the successful edges out of each non-terminal state.
var transitions = map[entity.WorkflowState]entity.WorkflowState{
	entity.StateIdle:      entity.StateDeposited,
	entity.StateDeposited: entity.StateQueried1,
	entity.StateQueried1:  entity.StatePlanned,
	entity.StatePlanned:   entity.StateBorrowed,
	entity.StateBorrowed:  entity.StateQueried2,
	entity.StateQueried2:  entity.StateRepaid,
	entity.StateRepaid:    entity.StateQueried3,
	entity.StateQueried3:  entity.StateDone,
}

// stepResult is what a transition produced.
type stepResult struct {
	next   entity.WorkflowState
	txHash common.Hash
	amount *big.Int
}

// Run executes the workflow once. The returned report is never nil; err is a
// *StepError when the run ends in Failed.
func (s *Service) Run(ctx context.Context) (*Report, error) {
	report := &Report{
		RunID:     uuid.NewString(),
		Account:   s.config.Account,
		State:     entity.StateIdle,
		Reached:   entity.StateIdle,
		StartedAt: time.Now(),
	}

	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "loan.run",
		trace.WithAttributes(
			attribute.String("run.id", report.RunID),
			attribute.String("account", s.config.Account.Hex()),
		))
	defer span.End()

	logger := s.logger.With("run", report.RunID)
	logger.Info("workflow started",
		"account", s.config.Account.Hex(),
		"collateral", s.config.CollateralToken.Hex(),
		"collateralAmount", s.config.CollateralAmount.String(),
		"debt", s.config.DebtToken.Hex())

	state := entity.StateIdle
	var runErr error
	for !state.IsTerminal() {
		next, err := s.step(ctx, logger, report, state)
		if err != nil {
			runErr = &StepError{
				State:      state,
				Transition: fmt.Sprintf("%s -> %s", state, transitions[state]),
				Err:        err,
			}
			state = entity.StateFailed
			break
		}
		state = next
		report.Reached = next
	}

	report.State = state
	report.FinishedAt = time.Now()
	report.Err = runErr

	duration := report.FinishedAt.Sub(report.StartedAt)
	if s.metrics != nil {
		s.metrics.RecordRun(ctx, state, duration)
	}
	span.SetAttributes(
		attribute.String("run.state", state.String()),
		attribute.String("run.reached", report.Reached.String()),
		attribute.Bool("run.skipped_borrow", report.SkippedBorrow),
	)

	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, "workflow failed")
		logger.Error("workflow failed",
			"reached", report.Reached,
			"reason", entity.RejectionReason(runErr),
			"error", runErr,
			"duration", duration)
		return report, runErr
	}

	logger.Info("workflow done", "skippedBorrow", report.SkippedBorrow, "duration", duration)
	return report, nil
}

// step performs the transition out of from, publishes its event and records
// its latency.
func (s *Service) step(ctx context.Context, logger *slog.Logger, report *Report, from entity.WorkflowState) (entity.WorkflowState, error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "loan.step", trace.WithAttributes(attribute.String("state.from", from.String())))
	defer span.End()

	start := time.Now()
	result, err := s.transition(ctx, logger, report, from)
	duration := time.Since(start)

	event := outbound.WorkflowEvent{
		RunID:      report.RunID,
		Account:    s.config.Account.Hex(),
		From:       from,
		OccurredAt: time.Now().UTC(),
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transition failed")
		event.To = entity.StateFailed
		event.Error = err.Error()
		event.Reason = entity.RejectionReason(err)
		s.recordStep(ctx, entity.StateFailed, duration, "error")
		s.publish(ctx, logger, event)
		return from, err
	}

	span.SetAttributes(attribute.String("state.to", result.next.String()))
	if result.txHash != (common.Hash{}) {
		span.SetAttributes(attribute.String("tx.hash", result.txHash.Hex()))
		event.TxHash = result.txHash.Hex()
	}
	if result.amount != nil {
		event.Amount = result.amount.String()
	}
	event.To = result.next
	s.recordStep(ctx, result.next, duration, "success")
	s.publish(ctx, logger, event)
	return result.next, nil
}

func (s *Service) transition(ctx context.Context, logger *slog.Logger, report *Report, from entity.WorkflowState) (stepResult, error) {
	if err := ctx.Err(); err != nil {
		return stepResult{}, err
	}

	switch from {
	case entity.StateIdle:
		return s.deposit(ctx, logger, report)
	case entity.StateDeposited, entity.StateBorrowed, entity.StateRepaid:
		return s.readPosition(ctx, logger, report, transitions[from])
	case entity.StateQueried1:
		return s.plan(ctx, logger, report)
	case entity.StatePlanned:
		return s.borrow(ctx, logger, report)
	case entity.StateQueried2:
		return s.repay(ctx, logger, report)
	case entity.StateQueried3:
		return stepResult{next: entity.StateDone}, nil
	default:
		return stepResult{}, fmt.Errorf("no transition out of state %s", from)
	}
}

// deposit resolves the pool for this run, approves the collateral and
// deposits it.
func (s *Service) deposit(ctx context.Context, logger *slog.Logger, report *Report) (stepResult, error) {
	pool, err := s.gateway.Resolve(ctx)
	if err != nil {
		return stepResult{}, fmt.Errorf("resolving lending pool: %w", err)
	}
	report.Pool = pool
	logger.Info("lending pool", "address", pool.Hex())

	amount := s.config.CollateralAmount
	approveTx, err := s.approver.Approve(ctx, s.config.CollateralToken, pool, amount, s.config.Account)
	if err != nil {
		return stepResult{}, fmt.Errorf("approving collateral: %w", err)
	}
	report.CollateralApprovalTx = approveTx
	logger.Info("collateral approved", "token", s.config.CollateralToken.Hex(), "amount", amount.String(), "tx", approveTx.Hex())

	depositTx, err := s.gateway.Deposit(ctx, s.config.CollateralToken, amount, s.config.Account, s.config.ReferralCode)
	if err != nil {
		return stepResult{}, fmt.Errorf("depositing collateral: %w", err)
	}
	report.DepositTx = depositTx
	logger.Info("collateral deposited", "amount", amount.String(), "tx", depositTx.Hex())

	return stepResult{next: entity.StateDeposited, txHash: depositTx, amount: amount}, nil
}

func (s *Service) readPosition(ctx context.Context, logger *slog.Logger, report *Report, next entity.WorkflowState) (stepResult, error) {
	position, err := s.gateway.AccountPosition(ctx, s.config.Account)
	if err != nil {
		return stepResult{}, fmt.Errorf("reading account position: %w", err)
	}
	report.Positions = append(report.Positions, position)
	logger.Info("account position",
		"state", next,
		"totalCollateral", formatReference(position.TotalCollateral),
		"totalDebt", formatReference(position.TotalDebt),
		"availableBorrows", formatReference(position.AvailableBorrows),
		"ltv", position.LTV.String(),
		"healthFactor", formatReference(position.HealthFactor))
	return stepResult{next: next}, nil
}

func (s *Service) plan(ctx context.Context, logger *slog.Logger, report *Report) (stepResult, error) {
	price, err := s.oracle.LatestPrice(ctx, s.config.Pair)
	if err != nil {
		return stepResult{}, fmt.Errorf("reading %s price: %w", s.config.Pair, err)
	}
	report.Price = price
	logger.Info("oracle price", "pair", price.Pair.String(), "rate", price.Rate().String(), "updatedAt", price.UpdatedAt)

	position := report.Positions[len(report.Positions)-1]
	plan, err := s.planner.Plan(position, price, s.config.UtilizationFactor)
	if err != nil {
		return stepResult{}, fmt.Errorf("planning borrow: %w", err)
	}
	report.Plan = &plan

	if plan.IsZero() {
		report.SkippedBorrow = true
		logger.Info("nothing to borrow", "availableBorrows", formatReference(position.AvailableBorrows))
		return stepResult{next: entity.StateDone}, nil
	}

	logger.Info("borrow planned", "amount", plan.Amount.Amount.String(), "target", plan.TargetValue.String())
	return stepResult{next: entity.StatePlanned, amount: plan.Amount.Amount}, nil
}

func (s *Service) borrow(ctx context.Context, logger *slog.Logger, report *Report) (stepResult, error) {
	if report.Plan == nil {
		return stepResult{}, errors.New("borrow attempted without a plan")
	}
	amount := report.Plan.Amount.Amount

	tx, err := s.gateway.Borrow(ctx, s.config.DebtToken, amount, s.config.InterestRateMode, s.config.ReferralCode, s.config.Account)
	if err != nil {
		return stepResult{}, fmt.Errorf("borrowing: %w", err)
	}
	report.BorrowTx = tx
	logger.Info("borrowed", "token", s.config.DebtToken.Hex(), "amount", amount.String(), "tx", tx.Hex())
	return stepResult{next: entity.StateBorrowed, txHash: tx, amount: amount}, nil
}

// repay approves exactly the borrowed amount and repays it.
func (s *Service) repay(ctx context.Context, logger *slog.Logger, report *Report) (stepResult, error) {
	if report.Plan == nil {
		return stepResult{}, errors.New("repay attempted without a plan")
	}
	amount := report.Plan.Amount.Amount

	approveTx, err := s.approver.Approve(ctx, s.config.DebtToken, report.Pool, amount, s.config.Account)
	if err != nil {
		return stepResult{}, fmt.Errorf("approving repayment: %w", err)
	}
	report.DebtApprovalTx = approveTx
	logger.Info("repayment approved", "token", s.config.DebtToken.Hex(), "amount", amount.String(), "tx", approveTx.Hex())

	tx, err := s.gateway.Repay(ctx, s.config.DebtToken, amount, s.config.InterestRateMode, s.config.Account)
	if err != nil {
		return stepResult{}, fmt.Errorf("repaying: %w", err)
	}
	report.RepayTx = tx
	logger.Info("repaid", "amount", amount.String(), "tx", tx.Hex())
	return stepResult{next: entity.StateRepaid, txHash: tx, amount: amount}, nil
}

func (s *Service) recordStep(ctx context.Context, to entity.WorkflowState, duration time.Duration, status string) {
	if s.metrics != nil {
		s.metrics.RecordStep(ctx, to, duration, status)
	}
}

// publish sends event to the sink. Notification failures are logged and do
// not fail the run.
func (s *Service) publish(ctx context.Context, logger *slog.Logger, event outbound.WorkflowEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, event); err != nil {
		logger.Warn("failed to publish workflow event", "from", event.From, "to", event.To, "error", err)
	}
}

func formatReference(v *big.Int) string {
	if v == nil {
		return ""
	}
	return blockchain.FormatUnits(v, blockchain.ETHDecimals)
}
