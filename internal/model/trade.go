package model

import (
	"fmt"
	"time"
)

// Trade is the immutable record of one TradeExecuted event. Integer amounts
// are stored as decimal strings in token/share base units.
type Trade struct {
	ID                 string    `json:"id"`
	TxHash             string    `json:"tx_hash"`
	LogIndex           uint64    `json:"log_index"`
	BlockNumber        uint64    `json:"block_number"`
	BlockTime          time.Time `json:"block_time"`
	MarketID           uint64    `json:"market_id"`
	ModelIdx           uint64    `json:"model_idx"`
	Trader             string    `json:"trader"`
	IsBuy              bool      `json:"is_buy"`
	TokensDelta        string    `json:"tokens_delta"`
	SharesDelta        string    `json:"shares_delta"`
	ModelNewPrice      string    `json:"model_new_price"`
	ModelNewSupply     string    `json:"model_new_supply"`
	MarketNewSupply    string    `json:"market_new_supply"`
	ImpliedProbability float64   `json:"implied_probability"`
}

// TradeID is the natural key for a trade: txHash plus logIndex. Re-ingesting
// a log with the same key must be a no-op.
func TradeID(txHash string, logIndex uint64) string {
	return fmt.Sprintf("%s:%d", txHash, logIndex)
}
