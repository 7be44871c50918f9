package accounting

import (
	"math/big"
	"time"

	"delphiscope/internal/model"
)

// ComputeTraderStats derives the full stats row for one trader from their
// trade history and the settled-market winners. Running this twice over the
// same inputs yields the same row, and folding trades one at a time through
// the same Position methods agrees with it field for field.
func ComputeTraderStats(address string, trades []model.Trade, winners map[uint64]uint64) (model.TraderStats, error) {
	stats := model.TraderStats{Address: address}

	totalVolume := big.NewInt(0)
	buyVolume := big.NewInt(0)
	sellVolume := big.NewInt(0)
	marketsTraded := make(map[uint64]struct{})
	modelsTraded := make(map[Key]struct{})

	var firstTrade, lastTrade *time.Time
	for i := range trades {
		trade := trades[i]
		tokens, err := parseAmount(trade.TokensDelta)
		if err != nil {
			return model.TraderStats{}, err
		}

		totalVolume.Add(totalVolume, tokens)
		if trade.IsBuy {
			stats.BuyCount++
			buyVolume.Add(buyVolume, tokens)
		} else {
			stats.SellCount++
			sellVolume.Add(sellVolume, tokens)
		}

		marketsTraded[trade.MarketID] = struct{}{}
		modelsTraded[Key{MarketID: trade.MarketID, ModelIdx: trade.ModelIdx}] = struct{}{}

		blockTime := trade.BlockTime
		if firstTrade == nil || blockTime.Before(*firstTrade) {
			firstTrade = &blockTime
		}
		if lastTrade == nil || blockTime.After(*lastTrade) {
			lastTrade = &blockTime
		}
	}

	positions, err := FoldPositions(trades)
	if err != nil {
		return model.TraderStats{}, err
	}
	totals := Summarize(positions, winners)

	stats.TotalTrades = uint64(len(trades))
	stats.TotalVolume = totalVolume.String()
	stats.BuyVolume = buyVolume.String()
	stats.SellVolume = sellVolume.String()
	stats.RealizedPnl = totals.RealizedPnl.String()
	stats.TotalCostBasis = totals.TotalCostBasis.String()
	stats.UnrealizedCostBasis = totals.UnrealizedCostBasis.String()
	stats.MarketsTraded = uint64(len(marketsTraded))
	stats.ModelsTraded = uint64(len(modelsTraded))
	stats.OpenPositions = totals.OpenPositions
	stats.FirstTradeAt = firstTrade
	stats.LastTradeAt = lastTrade

	return stats, nil
}
