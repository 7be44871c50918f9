package accounting

import (
	"fmt"
	"math/big"
	"testing"

	"delphiscope/internal/model"
)

func TestAverageCostSell(t *testing.T) {
	pos := NewPosition()
	pos.ApplyBuy(big.NewInt(100), big.NewInt(100))
	pos.ApplyBuy(big.NewInt(100), big.NewInt(300))

	if pos.SharesHeld.Int64() != 200 || pos.CostBasis.Int64() != 400 {
		t.Fatalf("after buys: shares=%s cost=%s", pos.SharesHeld, pos.CostBasis)
	}

	pos.ApplySell(big.NewInt(100), big.NewInt(150))

	if pos.RealizedPnl.Int64() != -50 {
		t.Fatalf("realized pnl: got %s, want -50", pos.RealizedPnl)
	}
	if pos.SharesHeld.Int64() != 100 || pos.CostBasis.Int64() != 200 {
		t.Fatalf("after sell: shares=%s cost=%s", pos.SharesHeld, pos.CostBasis)
	}
}

func TestSellWithoutBasis(t *testing.T) {
	pos := NewPosition()
	pos.ApplySell(big.NewInt(10), big.NewInt(25))

	if pos.RealizedPnl.Int64() != 25 {
		t.Fatalf("realized pnl: got %s, want 25", pos.RealizedPnl)
	}
	if pos.CostBasis.Sign() != 0 || pos.SharesHeld.Sign() != 0 {
		t.Fatalf("basis must stay zero: shares=%s cost=%s", pos.SharesHeld, pos.CostBasis)
	}
}

func TestOversellClampsToZero(t *testing.T) {
	pos := NewPosition()
	pos.ApplyBuy(big.NewInt(10), big.NewInt(30))
	pos.ApplySell(big.NewInt(25), big.NewInt(100))

	if pos.SharesHeld.Sign() < 0 || pos.CostBasis.Sign() < 0 {
		t.Fatalf("negative state after oversell: shares=%s cost=%s", pos.SharesHeld, pos.CostBasis)
	}
}

func TestSettlementWin(t *testing.T) {
	positions := map[Key]*Position{
		{MarketID: 7, ModelIdx: 1}: {
			SharesHeld:  big.NewInt(50),
			CostBasis:   big.NewInt(40),
			RealizedPnl: big.NewInt(0),
		},
	}
	winners := map[uint64]uint64{7: 1}

	adjust := SettlementAdjust(positions, winners)
	if adjust.Int64() != 10 {
		t.Fatalf("settlement adjust: got %s, want 10", adjust)
	}
}

func TestSettlementLoss(t *testing.T) {
	positions := map[Key]*Position{
		{MarketID: 7, ModelIdx: 2}: {
			SharesHeld:  big.NewInt(50),
			CostBasis:   big.NewInt(40),
			RealizedPnl: big.NewInt(0),
		},
	}
	winners := map[uint64]uint64{7: 1}

	adjust := SettlementAdjust(positions, winners)
	if adjust.Int64() != -40 {
		t.Fatalf("settlement adjust: got %s, want -40", adjust)
	}
}

func TestSettlementAdjustIsDerivedNotAccumulated(t *testing.T) {
	positions := map[Key]*Position{
		{MarketID: 3, ModelIdx: 0}: {
			SharesHeld:  big.NewInt(100),
			CostBasis:   big.NewInt(60),
			RealizedPnl: big.NewInt(0),
		},
	}
	winners := map[uint64]uint64{3: 0}

	first := SettlementAdjust(positions, winners)
	second := SettlementAdjust(positions, winners)
	if first.Cmp(second) != 0 {
		t.Fatalf("repeated adjust differs: %s vs %s", first, second)
	}

	one := Summarize(positions, winners)
	two := Summarize(positions, winners)
	if one.RealizedPnl.Cmp(two.RealizedPnl) != 0 {
		t.Fatalf("repeated summarize differs: %s vs %s", one.RealizedPnl, two.RealizedPnl)
	}
}

func testTrade(block, logIndex uint64, marketID, modelIdx uint64, isBuy bool, tokens, shares string) model.Trade {
	return model.Trade{
		ID:          model.TradeID(fmt.Sprintf("0x%x", block), logIndex),
		LogIndex:    logIndex,
		BlockNumber: block,
		MarketID:    marketID,
		ModelIdx:    modelIdx,
		Trader:      "0x1111111111111111111111111111111111111111",
		IsBuy:       isBuy,
		TokensDelta: tokens,
		SharesDelta: shares,
	}
}

func TestFoldPositionsOrdersByBlockThenLogIndex(t *testing.T) {
	// Delivered out of order; the sell must land after both buys.
	trades := []model.Trade{
		testTrade(20, 0, 1, 0, false, "150", "100"),
		testTrade(10, 1, 1, 0, true, "300", "100"),
		testTrade(10, 0, 1, 0, true, "100", "100"),
	}

	positions, err := FoldPositions(trades)
	if err != nil {
		t.Fatalf("fold: %v", err)
	}

	pos := positions[Key{MarketID: 1, ModelIdx: 0}]
	if pos == nil {
		t.Fatalf("missing position")
	}
	if pos.RealizedPnl.Int64() != -50 {
		t.Fatalf("realized pnl: got %s, want -50", pos.RealizedPnl)
	}
	if pos.SharesHeld.Int64() != 100 || pos.CostBasis.Int64() != 200 {
		t.Fatalf("state: shares=%s cost=%s", pos.SharesHeld, pos.CostBasis)
	}
}

func TestIncrementalMatchesFullFold(t *testing.T) {
	trades := []model.Trade{
		testTrade(1, 0, 1, 0, true, "100", "100"),
		testTrade(2, 0, 1, 0, true, "300", "100"),
		testTrade(3, 0, 2, 1, true, "500", "50"),
		testTrade(4, 0, 1, 0, false, "150", "100"),
		testTrade(5, 0, 2, 1, false, "600", "25"),
	}

	full, err := FoldPositions(trades)
	if err != nil {
		t.Fatalf("full fold: %v", err)
	}

	incremental := make(map[Key]*Position)
	for _, trade := range trades {
		key := Key{MarketID: trade.MarketID, ModelIdx: trade.ModelIdx}
		pos := incremental[key]
		if pos == nil {
			pos = NewPosition()
			incremental[key] = pos
		}
		if err := pos.Apply(trade); err != nil {
			t.Fatalf("apply: %v", err)
		}
	}

	if len(full) != len(incremental) {
		t.Fatalf("position count: full=%d incremental=%d", len(full), len(incremental))
	}
	for key, want := range full {
		got := incremental[key]
		if got == nil {
			t.Fatalf("missing key %+v", key)
		}
		if got.SharesHeld.Cmp(want.SharesHeld) != 0 ||
			got.CostBasis.Cmp(want.CostBasis) != 0 ||
			got.RealizedPnl.Cmp(want.RealizedPnl) != 0 {
			t.Fatalf("key %+v: incremental %+v != full %+v", key, got, want)
		}
	}
}

func TestSummarizeCountsOnlyOpenUnsettled(t *testing.T) {
	positions := map[Key]*Position{
		// Open in an unsettled market.
		{MarketID: 1, ModelIdx: 0}: {
			SharesHeld:  big.NewInt(10),
			CostBasis:   big.NewInt(100),
			RealizedPnl: big.NewInt(5),
		},
		// Open in a settled market, winning side.
		{MarketID: 2, ModelIdx: 1}: {
			SharesHeld:  big.NewInt(50),
			CostBasis:   big.NewInt(40),
			RealizedPnl: big.NewInt(0),
		},
		// Fully closed.
		{MarketID: 3, ModelIdx: 0}: {
			SharesHeld:  big.NewInt(0),
			CostBasis:   big.NewInt(0),
			RealizedPnl: big.NewInt(-7),
		},
	}
	winners := map[uint64]uint64{2: 1}

	totals := Summarize(positions, winners)

	if totals.OpenPositions != 1 {
		t.Fatalf("open positions: got %d, want 1", totals.OpenPositions)
	}
	if totals.UnrealizedCostBasis.Int64() != 100 {
		t.Fatalf("unrealized cost basis: got %s, want 100", totals.UnrealizedCostBasis)
	}
	if totals.TotalCostBasis.Int64() != 140 {
		t.Fatalf("total cost basis: got %s, want 140", totals.TotalCostBasis)
	}
	// 5 + 0 + (-7) from positions, +10 settlement win.
	if totals.RealizedPnl.Int64() != 8 {
		t.Fatalf("realized pnl: got %s, want 8", totals.RealizedPnl)
	}
}
