package model

import "time"

// TraderStats is the persisted aggregate row for one trader address. Every
// field is derived from the trader's trade set and the settled-market winners,
// so a full rebuild must reproduce it exactly.
type TraderStats struct {
	Address             string     `json:"address"`
	TotalTrades         uint64     `json:"total_trades"`
	TotalVolume         string     `json:"total_volume"`
	BuyVolume           string     `json:"buy_volume"`
	SellVolume          string     `json:"sell_volume"`
	BuyCount            uint64     `json:"buy_count"`
	SellCount           uint64     `json:"sell_count"`
	RealizedPnl         string     `json:"realized_pnl"`
	TotalCostBasis      string     `json:"total_cost_basis"`
	UnrealizedCostBasis string     `json:"unrealized_cost_basis"`
	MarketsTraded       uint64     `json:"markets_traded"`
	ModelsTraded        uint64     `json:"models_traded"`
	OpenPositions       uint64     `json:"open_positions"`
	FirstTradeAt        *time.Time `json:"first_trade_at,omitempty"`
	LastTradeAt         *time.Time `json:"last_trade_at,omitempty"`
}
