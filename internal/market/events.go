package market

import "math/big"

// Event is a decoded contract event.
type Event interface {
	EventName() string
}

// MarketCreated corresponds to the NewMarket log.
type MarketCreated struct {
	MarketID      uint64
	ConfigURI     string
	ConfigURIHash string
}

func (MarketCreated) EventName() string { return "NewMarket" }

// TradeExecuted corresponds to the TradeExecuted log. Amounts are unsigned
// base-unit integers; direction is carried by IsBuy.
type TradeExecuted struct {
	MarketID        uint64
	ModelIdx        uint64
	Trader          string
	IsBuy           bool
	TokensDelta     *big.Int
	SharesDelta     *big.Int
	NewPrice        *big.Int
	NewModelSupply  *big.Int
	NewMarketSupply *big.Int
}

func (TradeExecuted) EventName() string { return "TradeExecuted" }

// MarketSettled corresponds to the WinnersSubmitted log.
type MarketSettled struct {
	MarketID        uint64
	WinningModelIdx uint64
}

func (MarketSettled) EventName() string { return "WinnersSubmitted" }

// ImpliedProbability converts a fixed-point price (1e18 = 100%) into a
// percentage. Display only; accounting never touches this value.
func ImpliedProbability(price *big.Int) float64 {
	if price == nil {
		return 0
	}
	f, _ := new(big.Float).Quo(
		new(big.Float).SetInt(price),
		big.NewFloat(1e16),
	).Float64()
	return f
}
