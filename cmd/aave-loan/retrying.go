package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/aave-loan/internal/domain/entity"
	"github.com/archon-research/aave-loan/internal/pkg/retry"
	"github.com/archon-research/aave-loan/internal/ports/outbound"
)

// retryingOracle retries price reads that fail for transport reasons.
type retryingOracle struct {
	next   outbound.PriceOracle
	config retry.Config
	logger *slog.Logger
}

func newRetryingOracle(next outbound.PriceOracle, config retry.Config, logger *slog.Logger) *retryingOracle {
	return &retryingOracle{next: next, config: config, logger: logger}
}

func (o *retryingOracle) LatestPrice(ctx context.Context, pair entity.PricePair) (*entity.PriceReading, error) {
	return retry.Do(ctx, o.config, isTransientRead, logRetry(o.logger, "latest price"), func() (*entity.PriceReading, error) {
		return o.next.LatestPrice(ctx, pair)
	})
}

// retryingGateway retries position reads. State-changing calls are passed
// through untouched so a transaction is never submitted twice.
type retryingGateway struct {
	outbound.LendingGateway
	config retry.Config
	logger *slog.Logger
}

func newRetryingGateway(next outbound.LendingGateway, config retry.Config, logger *slog.Logger) *retryingGateway {
	return &retryingGateway{LendingGateway: next, config: config, logger: logger}
}

func (g *retryingGateway) AccountPosition(ctx context.Context, account common.Address) (*entity.AccountPosition, error) {
	return retry.Do(ctx, g.config, isTransientRead, logRetry(g.logger, "account position"), func() (*entity.AccountPosition, error) {
		return g.LendingGateway.AccountPosition(ctx, account)
	})
}

func logRetry(logger *slog.Logger, op string) retry.OnRetryFunc {
	return func(attempt int, err error, backoff time.Duration) {
		logger.Warn("retrying read", "op", op, "attempt", attempt, "backoff", backoff, "error", err)
	}
}
