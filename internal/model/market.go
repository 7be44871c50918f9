package model

import "time"

// MarketStatus is the lifecycle state of a market.
type MarketStatus int

const (
	MarketActive  MarketStatus = 0
	MarketPaused  MarketStatus = 1
	MarketSettled MarketStatus = 2
)

func (s MarketStatus) String() string {
	switch s {
	case MarketActive:
		return "active"
	case MarketPaused:
		return "paused"
	case MarketSettled:
		return "settled"
	default:
		return "unknown"
	}
}

// Market is one prediction market. winning_model_idx is set iff settled.
type Market struct {
	MarketID        uint64        `json:"market_id"`
	ConfigURI       string        `json:"config_uri"`
	ConfigURIHash   string        `json:"config_uri_hash"`
	Title           string        `json:"title,omitempty"`
	Description     string        `json:"description,omitempty"`
	Category        string        `json:"category,omitempty"`
	Status          MarketStatus  `json:"status"`
	CreatedAtBlock  uint64        `json:"created_at_block"`
	CreatedAtTime   time.Time     `json:"created_at_time"`
	EndTime         *time.Time    `json:"end_time,omitempty"`
	SettledAt       *time.Time    `json:"settled_at,omitempty"`
	WinningModelIdx *uint64       `json:"winning_model_idx,omitempty"`
	TotalTrades     uint64        `json:"total_trades"`
	TotalVolume     string        `json:"total_volume"`
	Models          []MarketModel `json:"models,omitempty"`
}

// MarketModel is one competing model within a market.
type MarketModel struct {
	Idx        uint64 `json:"idx"`
	FamilyName string `json:"family_name"`
	ModelName  string `json:"model_name"`
	CommitHash string `json:"commit_hash,omitempty"`
}

// MarketMetadata is the JSON document referenced by a market's config URI.
type MarketMetadata struct {
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Category    string        `json:"category"`
	EndTime     *time.Time    `json:"end_time,omitempty"`
	Models      []MarketModel `json:"models,omitempty"`
}
