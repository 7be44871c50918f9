// Package storage defines the durable store contract the indexer, stats
// builder, and API server share. Implementations must provide upsert-by-key
// semantics for markets and trades so that re-ingesting a block range is a
// no-op.
package storage

import (
	"context"
	"time"

	"delphiscope/internal/model"
)

// LeaderboardSort selects the ordering of leaderboard rows.
type LeaderboardSort string

const (
	SortByPnl    LeaderboardSort = "pnl"
	SortByVolume LeaderboardSort = "volume"
	SortByTrades LeaderboardSort = "trades"
)

// LeaderboardQuery is a paginated, sortable leaderboard request.
type LeaderboardQuery struct {
	Page   int
	Limit  int
	Sort   LeaderboardSort
	Search string
}

// GlobalCounts backs the global stats endpoint.
type GlobalCounts struct {
	TotalTrades    uint64
	TotalMarkets   uint64
	ActiveMarkets  uint64
	SettledMarkets uint64
	TotalTraders   uint64
}

// Store is the persistence contract. Markets upsert by market id, trades by
// (txHash, logIndex); trade range queries return block-then-log-index order.
type Store interface {
	// Markets.
	UpsertMarket(ctx context.Context, m model.Market) error
	EnsureMarket(ctx context.Context, marketID uint64, block uint64, blockTime time.Time) error
	SettleMarket(ctx context.Context, marketID, winningModelIdx uint64, settledAt time.Time) error
	SetMarketAggregates(ctx context.Context, marketID, totalTrades uint64, totalVolume string) error
	GetMarket(ctx context.Context, marketID uint64) (model.Market, bool, error)
	Markets(ctx context.Context) ([]model.Market, error)
	MarketWinners(ctx context.Context) (map[uint64]uint64, error)

	// Trades. UpsertTrades reports how many rows were newly inserted;
	// conflicts on the trade id leave the stored row untouched.
	UpsertTrades(ctx context.Context, trades []model.Trade) (int, error)
	TradesByTrader(ctx context.Context, trader string) ([]model.Trade, error)
	TradesByMarket(ctx context.Context, marketID uint64) ([]model.Trade, error)
	TradesSince(ctx context.Context, since time.Time) ([]model.Trade, error)
	TradersWithTrades(ctx context.Context) ([]string, error)

	// Price snapshots, append-only.
	InsertPriceSnapshots(ctx context.Context, snaps []model.PriceSnapshot) error
	PriceHistory(ctx context.Context, marketID uint64) ([]model.PriceSnapshot, error)
	LastPriceSnapshot(ctx context.Context, marketID, modelIdx uint64) (model.PriceSnapshot, bool, error)

	// Trader aggregates.
	UpsertTraderStats(ctx context.Context, stats model.TraderStats) error
	GetTraderStats(ctx context.Context, address string) (model.TraderStats, bool, error)
	Leaderboard(ctx context.Context, q LeaderboardQuery) ([]model.TraderStats, int, error)
	Counts(ctx context.Context) (GlobalCounts, error)

	// Indexer progress.
	LoadIndexerState(ctx context.Context, id string) (model.IndexerState, bool, error)
	SaveIndexerState(ctx context.Context, state model.IndexerState) error
}
