// Package stats derives trader and market aggregates from the stored
// trade log. Every rebuild recomputes from scratch, so running it twice
// over the same trades produces identical rows.
package stats

import (
	"context"
	"fmt"
	"math/big"

	"go.uber.org/zap"

	"delphiscope/internal/accounting"
	"delphiscope/internal/storage"
)

// Builder recomputes derived aggregates from trades.
type Builder struct {
	store  storage.Store
	logger *zap.Logger
}

func NewBuilder(store storage.Store, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{store: store, logger: logger}
}

// RebuildTraders recomputes and stores stats for the given traders.
func (b *Builder) RebuildTraders(ctx context.Context, traders []string) error {
	winners, err := b.store.MarketWinners(ctx)
	if err != nil {
		return fmt.Errorf("load market winners: %w", err)
	}
	for _, trader := range traders {
		if err := b.rebuildTrader(ctx, trader, winners); err != nil {
			return err
		}
	}
	return nil
}

// RebuildMarkets recomputes trade count and volume for the given markets.
func (b *Builder) RebuildMarkets(ctx context.Context, marketIDs []uint64) error {
	for _, marketID := range marketIDs {
		trades, err := b.store.TradesByMarket(ctx, marketID)
		if err != nil {
			return fmt.Errorf("trades for market %d: %w", marketID, err)
		}

		volume := new(big.Int)
		for _, t := range trades {
			delta, ok := new(big.Int).SetString(t.TokensDelta, 10)
			if !ok {
				return fmt.Errorf("market %d trade %s: bad tokens delta %q", marketID, t.ID, t.TokensDelta)
			}
			volume.Add(volume, delta.Abs(delta))
		}

		if err := b.store.SetMarketAggregates(ctx, marketID, uint64(len(trades)), volume.String()); err != nil {
			return fmt.Errorf("set aggregates for market %d: %w", marketID, err)
		}
	}
	return nil
}

// RebuildAll recomputes stats for every trader that has traded and
// aggregates for every market. It returns the number of traders rebuilt.
func (b *Builder) RebuildAll(ctx context.Context) (int, error) {
	traders, err := b.store.TradersWithTrades(ctx)
	if err != nil {
		return 0, fmt.Errorf("list traders: %w", err)
	}
	winners, err := b.store.MarketWinners(ctx)
	if err != nil {
		return 0, fmt.Errorf("load market winners: %w", err)
	}

	for _, trader := range traders {
		if err := b.rebuildTrader(ctx, trader, winners); err != nil {
			return 0, err
		}
	}

	markets, err := b.store.Markets(ctx)
	if err != nil {
		return 0, fmt.Errorf("list markets: %w", err)
	}
	marketIDs := make([]uint64, 0, len(markets))
	for _, m := range markets {
		marketIDs = append(marketIDs, m.MarketID)
	}
	if err := b.RebuildMarkets(ctx, marketIDs); err != nil {
		return 0, err
	}

	b.logger.Info("rebuild complete",
		zap.Int("traders", len(traders)), zap.Int("markets", len(marketIDs)))
	return len(traders), nil
}

func (b *Builder) rebuildTrader(ctx context.Context, trader string, winners map[uint64]uint64) error {
	trades, err := b.store.TradesByTrader(ctx, trader)
	if err != nil {
		return fmt.Errorf("trades for %s: %w", trader, err)
	}

	computed, err := accounting.ComputeTraderStats(trader, trades, winners)
	if err != nil {
		return fmt.Errorf("compute stats for %s: %w", trader, err)
	}
	if err := b.store.UpsertTraderStats(ctx, computed); err != nil {
		return fmt.Errorf("store stats for %s: %w", trader, err)
	}
	return nil
}
