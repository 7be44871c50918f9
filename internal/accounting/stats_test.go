package accounting

import (
	"reflect"
	"testing"
	"time"

	"delphiscope/internal/model"
)

func TestComputeTraderStatsVolumes(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	trades := []model.Trade{
		testTrade(1, 0, 1, 0, true, "100", "100"),
		testTrade(2, 0, 1, 0, true, "300", "100"),
		testTrade(3, 0, 2, 1, true, "50", "10"),
		testTrade(4, 0, 1, 0, false, "150", "100"),
	}
	for i := range trades {
		trades[i].BlockTime = base.Add(time.Duration(i) * time.Hour)
	}

	stats, err := ComputeTraderStats(trades[0].Trader, trades, nil)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}

	if stats.TotalTrades != 4 || stats.BuyCount != 3 || stats.SellCount != 1 {
		t.Fatalf("counts: %+v", stats)
	}
	if stats.TotalVolume != "600" || stats.BuyVolume != "450" || stats.SellVolume != "150" {
		t.Fatalf("volumes: total=%s buy=%s sell=%s", stats.TotalVolume, stats.BuyVolume, stats.SellVolume)
	}
	if stats.MarketsTraded != 2 || stats.ModelsTraded != 2 {
		t.Fatalf("breadth: markets=%d models=%d", stats.MarketsTraded, stats.ModelsTraded)
	}
	if stats.OpenPositions != 2 {
		t.Fatalf("open positions: got %d, want 2", stats.OpenPositions)
	}
	if stats.FirstTradeAt == nil || !stats.FirstTradeAt.Equal(base) {
		t.Fatalf("first trade at: %v", stats.FirstTradeAt)
	}
	if stats.LastTradeAt == nil || !stats.LastTradeAt.Equal(base.Add(3*time.Hour)) {
		t.Fatalf("last trade at: %v", stats.LastTradeAt)
	}
}

func TestComputeTraderStatsIdempotent(t *testing.T) {
	trades := []model.Trade{
		testTrade(1, 0, 1, 0, true, "100", "100"),
		testTrade(2, 0, 1, 0, false, "150", "50"),
		testTrade(3, 0, 5, 2, true, "700", "70"),
	}
	winners := map[uint64]uint64{5: 2}

	first, err := ComputeTraderStats("0xabc", trades, winners)
	if err != nil {
		t.Fatalf("first compute: %v", err)
	}
	second, err := ComputeTraderStats("0xabc", trades, winners)
	if err != nil {
		t.Fatalf("second compute: %v", err)
	}

	if !reflect.DeepEqual(first, second) {
		t.Fatalf("recompute differs:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestComputeTraderStatsEmpty(t *testing.T) {
	stats, err := ComputeTraderStats("0xabc", nil, nil)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if stats.TotalTrades != 0 || stats.TotalVolume != "0" || stats.RealizedPnl != "0" {
		t.Fatalf("empty stats: %+v", stats)
	}
	if stats.FirstTradeAt != nil || stats.LastTradeAt != nil {
		t.Fatalf("timestamps must be nil for no trades")
	}
}
