package model

import "time"

// PriceSnapshot is a periodic sample of a model's price, append-only.
type PriceSnapshot struct {
	MarketID    uint64    `json:"market_id"`
	ModelIdx    uint64    `json:"model_idx"`
	Price       string    `json:"price"`
	Probability float64   `json:"probability"`
	BlockNumber uint64    `json:"block_number"`
	Timestamp   time.Time `json:"timestamp"`
}
