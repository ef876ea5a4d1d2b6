// Package main runs one Aave V2 loan cycle against a live chain: deposit
// collateral, borrow a share of the available capacity priced through a
// Chainlink feed, repay it, and report the account position after each step.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awssns "github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/archon-research/aave-loan/internal/adapters/outbound/ethereum"
	"github.com/archon-research/aave-loan/internal/adapters/outbound/memory"
	"github.com/archon-research/aave-loan/internal/adapters/outbound/sns"
	"github.com/archon-research/aave-loan/internal/adapters/outbound/telemetry"
	"github.com/archon-research/aave-loan/internal/domain/entity"
	"github.com/archon-research/aave-loan/internal/pkg/blockchain"
	"github.com/archon-research/aave-loan/internal/pkg/env"
	"github.com/archon-research/aave-loan/internal/pkg/retry"
	"github.com/archon-research/aave-loan/internal/ports/outbound"
	"github.com/archon-research/aave-loan/internal/services/borrow_planner"
	"github.com/archon-research/aave-loan/internal/services/loan_workflow"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
	slog.Info("completed successfully")
}

type cliConfig struct {
	rpcURL     string
	privateKey string

	provider        common.Address
	collateralToken common.Address
	debtToken       common.Address
	priceFeed       common.Address

	collateralAmount  string
	utilizationFactor decimal.Decimal
	interestRateMode  int64
	referralCode      uint16

	confirmations uint64
	oracleMaxAge  time.Duration
	rpcRateLimit  float64

	otlpEndpoint string
	traceStdout  bool
	snsTopicARN  string
	awsRegion    string
	environment  string
}

func parseFlags(args []string) (cliConfig, error) {
	fs := flag.NewFlagSet("aave-loan", flag.ContinueOnError)
	rpcURL := fs.String("rpc-url", env.Get("ETH_RPC_URL", ""), "Ethereum JSON-RPC endpoint")
	provider := fs.String("provider", env.Get("POOL_ADDRESSES_PROVIDER", blockchain.LendingPoolAddressesProvider.Hex()), "LendingPoolAddressesProvider address")
	collateralToken := fs.String("collateral-token", env.Get("COLLATERAL_TOKEN", blockchain.WETH.Hex()), "Collateral token address")
	debtToken := fs.String("debt-token", env.Get("DEBT_TOKEN", blockchain.DAI.Hex()), "Debt token address")
	priceFeed := fs.String("price-feed", env.Get("PRICE_FEED", blockchain.DAIETHFeed.Hex()), "Chainlink feed pricing the debt token in ETH")
	amount := fs.String("amount", env.Get("COLLATERAL_AMOUNT", "0.02"), "Collateral to deposit, in whole token units")
	factor := fs.String("utilization", env.Get("UTILIZATION_FACTOR", borrow_planner.DefaultUtilizationFactor.String()), "Share of available borrows to use, in (0, 1]")
	rateMode := fs.String("rate-mode", env.Get("INTEREST_RATE_MODE", "stable"), "Interest rate mode: stable (1) or variable (2)")
	referral := fs.Uint("referral-code", 0, "Aave referral code")
	confirmations := fs.String("confirmations", env.Get("CONFIRMATIONS", "1"), "Blocks to wait for after each transaction")
	maxAge := fs.String("oracle-max-age", env.Get("ORACLE_MAX_AGE", "0s"), "Reject prices older than this (0 disables)")
	rpcRateLimit := fs.String("rpc-rate-limit", env.Get("RPC_RATE_LIMIT", "0"), "Maximum RPC requests per second (0 disables)")
	otlpEndpoint := fs.String("otlp-endpoint", env.Get("OTEL_EXPORTER_OTLP_ENDPOINT", ""), "OTLP gRPC endpoint for traces and metrics")
	traceStdout := fs.Bool("trace-stdout", false, "Write spans to stderr")
	snsTopicARN := fs.String("sns-topic-arn", env.Get("SNS_TOPIC_ARN", ""), "SNS topic for workflow events (empty keeps events in memory)")
	awsRegion := fs.String("aws-region", env.Get("AWS_REGION", "us-east-1"), "AWS region for SNS")
	environment := fs.String("environment", env.Get("ENVIRONMENT", "development"), "Deployment environment reported in telemetry")
	if err := fs.Parse(args); err != nil {
		return cliConfig{}, err
	}

	cfg := cliConfig{
		rpcURL:           *rpcURL,
		privateKey:       env.Get("PRIVATE_KEY", ""),
		collateralAmount: *amount,
		otlpEndpoint:     *otlpEndpoint,
		traceStdout:      *traceStdout,
		snsTopicARN:      *snsTopicARN,
		awsRegion:        *awsRegion,
		environment:      *environment,
	}

	if cfg.rpcURL == "" {
		return cliConfig{}, fmt.Errorf("RPC URL not provided (use --rpc-url flag or ETH_RPC_URL env var)")
	}
	if cfg.privateKey == "" {
		return cliConfig{}, fmt.Errorf("PRIVATE_KEY env var is required")
	}

	var err error
	addresses := []struct {
		name string
		raw  string
		dst  *common.Address
	}{
		{"--provider", *provider, &cfg.provider},
		{"--collateral-token", *collateralToken, &cfg.collateralToken},
		{"--debt-token", *debtToken, &cfg.debtToken},
		{"--price-feed", *priceFeed, &cfg.priceFeed},
	}
	for _, a := range addresses {
		if *a.dst, err = parseAddress(a.raw); err != nil {
			return cliConfig{}, fmt.Errorf("%s: %w", a.name, err)
		}
	}

	if d, err := decimal.NewFromString(*amount); err != nil || !d.IsPositive() {
		return cliConfig{}, fmt.Errorf("--amount must be a positive decimal, got %q", *amount)
	}
	if cfg.utilizationFactor, err = borrow_planner.ParseUtilizationFactor(*factor); err != nil {
		return cliConfig{}, fmt.Errorf("--utilization: %w", err)
	}
	if cfg.interestRateMode, err = parseRateMode(*rateMode); err != nil {
		return cliConfig{}, fmt.Errorf("--rate-mode: %w", err)
	}
	if *referral > 0xffff {
		return cliConfig{}, fmt.Errorf("--referral-code must fit in 16 bits, got %d", *referral)
	}
	cfg.referralCode = uint16(*referral)
	if cfg.confirmations, err = strconv.ParseUint(*confirmations, 10, 64); err != nil || cfg.confirmations == 0 {
		return cliConfig{}, fmt.Errorf("--confirmations must be a positive integer, got %q", *confirmations)
	}
	if cfg.oracleMaxAge, err = time.ParseDuration(*maxAge); err != nil || cfg.oracleMaxAge < 0 {
		return cliConfig{}, fmt.Errorf("--oracle-max-age must be a non-negative duration, got %q", *maxAge)
	}
	if cfg.rpcRateLimit, err = strconv.ParseFloat(*rpcRateLimit, 64); err != nil || cfg.rpcRateLimit < 0 {
		return cliConfig{}, fmt.Errorf("--rpc-rate-limit must be a non-negative number, got %q", *rpcRateLimit)
	}

	return cfg, nil
}

func parseAddress(raw string) (common.Address, error) {
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("invalid address %q", raw)
	}
	addr := common.HexToAddress(raw)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("zero address")
	}
	return addr, nil
}

func parseRateMode(raw string) (int64, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "stable", "1":
		return blockchain.InterestRateModeStable, nil
	case "variable", "2":
		return blockchain.InterestRateModeVariable, nil
	default:
		return 0, fmt.Errorf("unknown interest rate mode %q", raw)
	}
}

func run(args []string) error {
	if err := env.LoadDotEnv(); err != nil {
		return err
	}

	cfg, err := parseFlags(args)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: env.ParseLogLevel(slog.LevelInfo),
	}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received signal, shutting down...", "signal", sig)
		cancel()
	}()

	shutdownTracer, err := telemetry.InitTracer(ctx, telemetry.TracerConfig{
		ServiceName:    telemetry.TracerConfigDefaults().ServiceName,
		ServiceVersion: Version,
		Environment:    cfg.environment,
		OTLPEndpoint:   cfg.otlpEndpoint,
		Stdout:         cfg.traceStdout,
		SampleRate:     1.0,
	})
	if err != nil {
		return fmt.Errorf("initializing tracer: %w", err)
	}
	defer flush(logger, "tracer", shutdownTracer)

	shutdownMeter, err := telemetry.InitMetrics(ctx, telemetry.MetricConfig{
		ServiceVersion: Version,
		Environment:    cfg.environment,
		OTLPEndpoint:   cfg.otlpEndpoint,
	})
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}
	defer flush(logger, "meter", shutdownMeter)

	metrics, err := telemetry.NewMetrics("github.com/archon-research/aave-loan")
	if err != nil {
		return fmt.Errorf("creating metrics: %w", err)
	}

	httpClient := &http.Client{
		Timeout: 60 * time.Second,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
	rpcClient, err := rpc.DialOptions(ctx, cfg.rpcURL, rpc.WithHTTPClient(httpClient))
	if err != nil {
		return fmt.Errorf("connecting to RPC: %w", err)
	}
	ethClient := ethclient.NewClient(rpcClient)
	defer ethClient.Close()

	backend := ethereum.NewRateLimitedBackend(ethClient, rate.Limit(cfg.rpcRateLimit), 1)

	txConfig := ethereum.TransactorConfigDefaults()
	txConfig.Confirmations = cfg.confirmations
	txConfig.Logger = logger
	transactor, err := ethereum.NewTransactor(ctx, backend, cfg.privateKey, txConfig)
	if err != nil {
		return fmt.Errorf("creating transactor: %w", err)
	}
	logger.Info("connected", "account", transactor.Account().Hex())

	erc20, err := ethereum.NewERC20(transactor, logger)
	if err != nil {
		return fmt.Errorf("creating token client: %w", err)
	}
	collateralMeta, err := erc20.Metadata(ctx, cfg.collateralToken)
	if err != nil {
		return fmt.Errorf("reading collateral token: %w", err)
	}
	debtMeta, err := erc20.Metadata(ctx, cfg.debtToken)
	if err != nil {
		return fmt.Errorf("reading debt token: %w", err)
	}
	collateralAmount, err := blockchain.ParseUnits(cfg.collateralAmount, collateralMeta.Decimals)
	if err != nil {
		return fmt.Errorf("parsing collateral amount: %w", err)
	}

	pair := entity.PricePair{Base: debtMeta.Symbol, Quote: "ETH"}
	oracle, err := ethereum.NewChainlinkOracle(transactor, ethereum.ChainlinkOracleConfig{
		Feed:   cfg.priceFeed,
		Pair:   pair,
		MaxAge: cfg.oracleMaxAge,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("creating oracle: %w", err)
	}

	gateway, err := ethereum.NewAaveV2Gateway(transactor, cfg.provider, logger)
	if err != nil {
		return fmt.Errorf("creating lending gateway: %w", err)
	}

	planner, err := borrow_planner.NewPlanner(borrow_planner.Config{
		DebtToken:         cfg.debtToken,
		DebtDecimals:      debtMeta.Decimals,
		ReferenceDecimals: blockchain.ETHDecimals,
		Logger:            logger,
	})
	if err != nil {
		return fmt.Errorf("creating planner: %w", err)
	}

	events, err := newEventSink(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := events.Close(); err != nil {
			logger.Warn("closing event sink", "error", err)
		}
	}()

	readRetry := retry.DefaultConfig()
	service, err := loan_workflow.NewService(
		loan_workflow.Config{
			Account:           transactor.Account(),
			CollateralToken:   cfg.collateralToken,
			CollateralAmount:  collateralAmount,
			DebtToken:         cfg.debtToken,
			Pair:              pair,
			UtilizationFactor: cfg.utilizationFactor,
			InterestRateMode:  big.NewInt(cfg.interestRateMode),
			ReferralCode:      cfg.referralCode,
			Logger:            logger,
		},
		erc20,
		newRetryingGateway(gateway, readRetry, logger),
		newRetryingOracle(oracle, readRetry, logger),
		planner,
		events,
		metrics,
	)
	if err != nil {
		return fmt.Errorf("creating workflow: %w", err)
	}

	logger.Info("starting loan workflow",
		"collateral", collateralMeta.Symbol,
		"amount", cfg.collateralAmount,
		"debt", debtMeta.Symbol,
		"utilization", cfg.utilizationFactor.String(),
		"rateMode", cfg.interestRateMode)

	report, runErr := service.Run(ctx)
	logSummary(logger, report, debtMeta)
	if recorded, ok := events.(*memory.EventSink); ok {
		logger.Debug("workflow events recorded", "count", recorded.Len(), "failures", len(recorded.Failures()))
	}
	return runErr
}

func newEventSink(ctx context.Context, cfg cliConfig, logger *slog.Logger) (outbound.EventSink, error) {
	if cfg.snsTopicARN == "" {
		return memory.NewEventSink(), nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.awsRegion))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	sinkConfig := sns.ConfigDefaults()
	sinkConfig.TopicARN = cfg.snsTopicARN
	sinkConfig.Logger = logger
	sink, err := sns.NewEventSink(awssns.NewFromConfig(awsCfg), sinkConfig)
	if err != nil {
		return nil, fmt.Errorf("creating SNS event sink: %w", err)
	}
	logger.Info("publishing workflow events", "topic", cfg.snsTopicARN)
	return sink, nil
}

func flush(logger *slog.Logger, name string, shutdown func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		logger.Warn("telemetry shutdown failed", "provider", name, "error", err)
	}
}

func logSummary(logger *slog.Logger, report *loan_workflow.Report, debt ethereum.TokenMetadata) {
	if report == nil {
		return
	}
	for i, p := range report.Positions {
		logger.Info("position",
			"read", i+1,
			"collateral", blockchain.FormatUnits(p.TotalCollateral, blockchain.ETHDecimals)+" ETH",
			"debt", blockchain.FormatUnits(p.TotalDebt, blockchain.ETHDecimals)+" ETH",
			"availableBorrows", blockchain.FormatUnits(p.AvailableBorrows, blockchain.ETHDecimals)+" ETH")
	}

	attrs := []any{
		"runId", report.RunID,
		"state", report.State,
		"reached", report.Reached,
		"pool", report.Pool.Hex(),
		"duration", report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond),
	}
	if report.Plan != nil {
		attrs = append(attrs,
			"borrow", blockchain.FormatUnits(report.Plan.Amount.Amount, debt.Decimals)+" "+debt.Symbol,
			"skippedBorrow", report.SkippedBorrow)
	}
	for _, tx := range []struct {
		key  string
		hash common.Hash
	}{
		{"collateralApprovalTx", report.CollateralApprovalTx},
		{"depositTx", report.DepositTx},
		{"borrowTx", report.BorrowTx},
		{"debtApprovalTx", report.DebtApprovalTx},
		{"repayTx", report.RepayTx},
	} {
		if tx.hash != (common.Hash{}) {
			attrs = append(attrs, tx.key, tx.hash.Hex())
		}
	}
	if report.Err != nil {
		attrs = append(attrs, "error", report.Err)
		if reason := entity.RejectionReason(report.Err); reason != "" {
			attrs = append(attrs, "reason", reason, "description", blockchain.DescribeAaveError(reason))
		}
		logger.Error("loan workflow failed", attrs...)
		return
	}
	logger.Info("loan workflow finished", attrs...)
}

// isTransientRead reports whether a failed read is worth retrying. Reverts,
// rejected price readings and cancellation are final.
func isTransientRead(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return !errors.Is(err, entity.ErrProtocolRejected) && !errors.Is(err, entity.ErrPriceRejected)
}
