package ethereum

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/aave-loan/internal/domain/entity"
	"github.com/archon-research/aave-loan/internal/pkg/blockchain"
	"github.com/archon-research/aave-loan/internal/pkg/blockchain/abis"
	"github.com/archon-research/aave-loan/internal/ports/outbound"
)

// Compile-time check that ChainlinkOracle implements outbound.PriceOracle
var _ outbound.PriceOracle = (*ChainlinkOracle)(nil)

// ChainlinkOracleConfig holds configuration for a single aggregator feed.
type ChainlinkOracleConfig struct {
	// Feed is the AggregatorV3 proxy address.
	Feed common.Address

	// Pair is the asset pair the feed publishes.
	Pair entity.PricePair

	// MaxAge rejects readings whose updatedAt is older than this.
	// Zero disables the check.
	MaxAge time.Duration

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time

	// Logger is the structured logger.
	Logger *slog.Logger
}

// ChainlinkOracle reads latestRoundData from an AggregatorV3 feed.
type ChainlinkOracle struct {
	caller outbound.ContractCaller
	abi    *abi.ABI
	config ChainlinkOracleConfig
	logger *slog.Logger
}

// NewChainlinkOracle creates an oracle client for config.Feed.
func NewChainlinkOracle(caller outbound.ContractCaller, config ChainlinkOracleConfig) (*ChainlinkOracle, error) {
	if caller == nil {
		return nil, fmt.Errorf("caller cannot be nil")
	}
	if config.Feed == (common.Address{}) {
		return nil, fmt.Errorf("feed address is required")
	}
	if config.Pair.Base == "" || config.Pair.Quote == "" {
		return nil, fmt.Errorf("feed pair is required")
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	feedABI, err := abis.GetAggregatorV3ABI()
	if err != nil {
		return nil, fmt.Errorf("loading AggregatorV3 ABI: %w", err)
	}

	return &ChainlinkOracle{
		caller: caller,
		abi:    feedABI,
		config: config,
		logger: config.Logger.With("component", "chainlink-oracle", "pair", config.Pair.String()),
	}, nil
}

// LatestPrice returns the feed's latest answer. No retry is attempted.
func (o *ChainlinkOracle) LatestPrice(ctx context.Context, pair entity.PricePair) (*entity.PriceReading, error) {
	if pair != o.config.Pair {
		return nil, rejectedPrice("no feed configured for %s", pair)
	}

	decimalsOut, err := o.call(ctx, "decimals")
	if err != nil {
		return nil, err
	}
	decimals, ok := decimalsOut[0].(uint8)
	if !ok {
		return nil, rejectedPrice("unexpected decimals type %T", decimalsOut[0])
	}

	roundOut, err := o.call(ctx, "latestRoundData")
	if err != nil {
		return nil, err
	}
	if len(roundOut) != 5 {
		return nil, rejectedPrice("latestRoundData returned %d values", len(roundOut))
	}
	roundID, _ := roundOut[0].(*big.Int)
	answer, _ := roundOut[1].(*big.Int)
	updatedAt, _ := roundOut[3].(*big.Int)
	if answer == nil || updatedAt == nil {
		return nil, rejectedPrice("malformed latestRoundData result")
	}

	updated := time.Unix(updatedAt.Int64(), 0).UTC()
	if o.config.MaxAge > 0 {
		if age := o.config.Now().Sub(updated); age > o.config.MaxAge {
			return nil, rejectedPrice("%s answer is %s old, max age %s",
				pair, age.Truncate(time.Second), o.config.MaxAge)
		}
	}

	reading, err := entity.NewPriceReading(pair, answer, decimals, roundID, updated)
	if err != nil {
		return nil, rejectedPrice("%w", err)
	}

	o.logger.Info("price read",
		"rate", reading.Rate().String(),
		"round", roundID,
		"updatedAt", updated)
	return reading, nil
}

func (o *ChainlinkOracle) call(ctx context.Context, method string) ([]interface{}, error) {
	data, err := o.abi.Pack(method)
	if err != nil {
		return nil, rejectedPrice("packing %s: %w", method, err)
	}
	out, err := o.caller.Call(ctx, o.config.Feed, data)
	if err != nil {
		if blockchain.IsRevert(err) {
			return nil, rejectedPrice("calling %s on %s: %w", method, o.config.Feed.Hex(), err)
		}
		return nil, fmt.Errorf("%w: calling %s on %s: %w", entity.ErrOracleUnavailable, method, o.config.Feed.Hex(), err)
	}
	unpacked, err := o.abi.Unpack(method, out)
	if err != nil {
		return nil, rejectedPrice("unpacking %s: %w", method, err)
	}
	if len(unpacked) == 0 {
		return nil, rejectedPrice("empty %s result", method)
	}
	return unpacked, nil
}

// rejectedPrice builds an ErrOracleUnavailable that retrying will not fix.
func rejectedPrice(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %w: %w", entity.ErrOracleUnavailable, entity.ErrPriceRejected, fmt.Errorf(format, args...))
}
