package storage

import (
	"context"
	"testing"
	"time"

	"delphiscope/internal/model"
)

func TestMemoryStoreTradeDedupe(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	trade := model.Trade{
		ID: model.TradeID("0xaaa", 3), TxHash: "0xaaa", LogIndex: 3,
		BlockNumber: 10, BlockTime: time.Now().UTC(),
		MarketID: 1, ModelIdx: 0, Trader: "0x1", IsBuy: true,
		TokensDelta: "100", SharesDelta: "10",
	}

	inserted, err := store.UpsertTrades(ctx, []model.Trade{trade})
	if err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if inserted != 1 {
		t.Fatalf("first insert count: %d", inserted)
	}

	inserted, err = store.UpsertTrades(ctx, []model.Trade{trade})
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}
	if inserted != 0 {
		t.Fatalf("duplicate insert count: %d", inserted)
	}

	trades, err := store.TradesByTrader(ctx, "0x1")
	if err != nil {
		t.Fatalf("trades: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("stored rows: %d", len(trades))
	}
}

func TestMemoryStoreSnapshotDedupe(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	snap := model.PriceSnapshot{
		MarketID: 1, ModelIdx: 0, Price: "500000000000000000",
		Probability: 50, BlockNumber: 100, Timestamp: time.Now().UTC(),
	}

	if err := store.InsertPriceSnapshots(ctx, []model.PriceSnapshot{snap}); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := store.InsertPriceSnapshots(ctx, []model.PriceSnapshot{snap}); err != nil {
		t.Fatalf("second insert: %v", err)
	}

	// A later sample at a new block is still appended.
	snap.BlockNumber = 150
	snap.Price = "600000000000000000"
	if err := store.InsertPriceSnapshots(ctx, []model.PriceSnapshot{snap}); err != nil {
		t.Fatalf("third insert: %v", err)
	}

	history, err := store.PriceHistory(ctx, 1)
	if err != nil {
		t.Fatalf("price history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("stored snapshots: got %d, want 2", len(history))
	}
	if history[0].BlockNumber != 100 || history[1].BlockNumber != 150 {
		t.Fatalf("snapshot blocks: %+v", history)
	}
}

func TestMemoryStoreMarketUpsertPreservesAggregates(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.EnsureMarket(ctx, 1, 100, time.Now().UTC()); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if err := store.SetMarketAggregates(ctx, 1, 7, "12345"); err != nil {
		t.Fatalf("aggregates: %v", err)
	}

	if err := store.UpsertMarket(ctx, model.Market{
		MarketID:  1,
		ConfigURI: "ipfs://QmX",
		Title:     "March forecasting",
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	m, found, err := store.GetMarket(ctx, 1)
	if err != nil || !found {
		t.Fatalf("lookup: found=%v err=%v", found, err)
	}
	if m.Title != "March forecasting" || m.ConfigURI != "ipfs://QmX" {
		t.Fatalf("metadata lost: %+v", m)
	}
	if m.TotalTrades != 7 || m.TotalVolume != "12345" {
		t.Fatalf("aggregates lost: trades=%d volume=%s", m.TotalTrades, m.TotalVolume)
	}
}

func TestMemoryStoreSettleAndWinners(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.EnsureMarket(ctx, 4, 10, time.Now().UTC()); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	settledAt := time.Now().UTC()
	if err := store.SettleMarket(ctx, 4, 2, settledAt); err != nil {
		t.Fatalf("settle: %v", err)
	}

	winners, err := store.MarketWinners(ctx)
	if err != nil {
		t.Fatalf("winners: %v", err)
	}
	if winners[4] != 2 {
		t.Fatalf("winners map: %v", winners)
	}

	m, _, err := store.GetMarket(ctx, 4)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if m.Status != model.MarketSettled || m.SettledAt == nil {
		t.Fatalf("settle state: %+v", m)
	}
}

func TestMemoryStoreCounts(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	store.EnsureMarket(ctx, 1, 10, now)
	store.EnsureMarket(ctx, 2, 20, now)
	store.SettleMarket(ctx, 2, 0, now)
	store.UpsertTrades(ctx, []model.Trade{{
		ID: "0xa:0", Trader: "0x1", MarketID: 1,
		TokensDelta: "10", SharesDelta: "1", BlockTime: now,
	}})
	store.UpsertTraderStats(ctx, model.TraderStats{Address: "0x1", TotalTrades: 1})

	counts, err := store.Counts(ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts.TotalMarkets != 2 || counts.ActiveMarkets != 1 || counts.SettledMarkets != 1 {
		t.Fatalf("market counts: %+v", counts)
	}
	if counts.TotalTrades != 1 || counts.TotalTraders != 1 {
		t.Fatalf("trade counts: %+v", counts)
	}
}

func TestMemoryStoreLeaderboardSearch(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for _, row := range []model.TraderStats{
		{Address: "0xAAA1", TotalTrades: 2, RealizedPnl: "100", TotalVolume: "10"},
		{Address: "0xBBB2", TotalTrades: 5, RealizedPnl: "-20", TotalVolume: "50"},
	} {
		if err := store.UpsertTraderStats(ctx, row); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	rows, total, err := store.Leaderboard(ctx, LeaderboardQuery{Search: "bbb"})
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if total != 1 || len(rows) != 1 || rows[0].Address != "0xBBB2" {
		t.Fatalf("search result: total=%d rows=%+v", total, rows)
	}

	rows, _, err = store.Leaderboard(ctx, LeaderboardQuery{Sort: SortByTrades})
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(rows) != 2 || rows[0].Address != "0xBBB2" {
		t.Fatalf("trade sort: %+v", rows)
	}
}
