package accounting

import (
	"context"
	"math/big"
	"sort"
)

// OpenPosition is an open holding handed to a valuation strategy.
type OpenPosition struct {
	MarketID   uint64
	ModelIdx   uint64
	SharesHeld *big.Int
	CostBasis  *big.Int
}

// Valuer estimates the current token value of an open position. Valuation
// depends on live prices and is kept out of the deterministic fold above.
type Valuer interface {
	Value(ctx context.Context, pos OpenPosition) (*big.Int, error)
}

// SellQuoter quotes the proceeds of selling shares, typically via an on-chain
// view call.
type SellQuoter interface {
	QuoteSell(ctx context.Context, marketID, modelIdx uint64, shares *big.Int) (*big.Int, error)
}

// PriceSource provides the last observed fixed-point price for a model.
type PriceSource interface {
	LastPrice(ctx context.Context, marketID, modelIdx uint64) (*big.Int, bool, error)
}

// ExactQuote values a position by asking the contract what selling the whole
// holding would return.
type ExactQuote struct {
	Quoter SellQuoter
}

func (v *ExactQuote) Value(ctx context.Context, pos OpenPosition) (*big.Int, error) {
	return v.Quoter.QuoteSell(ctx, pos.MarketID, pos.ModelIdx, pos.SharesHeld)
}

// SpotEstimate values a position as shares times the last observed price.
// Cheaper than a quote but ignores slippage.
type SpotEstimate struct {
	Prices PriceSource
}

var priceScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

func (v *SpotEstimate) Value(ctx context.Context, pos OpenPosition) (*big.Int, error) {
	price, ok, err := v.Prices.LastPrice(ctx, pos.MarketID, pos.ModelIdx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	value := new(big.Int).Mul(pos.SharesHeld, price)
	return value.Quo(value, priceScale), nil
}

// TieredValuer quotes the TopN positions by cost basis exactly and falls back
// to the estimate for the rest, and for positions whose exact quote fails.
type TieredValuer struct {
	Exact    Valuer
	Fallback Valuer
	TopN     int
}

// ValueAll returns one value per input position, in input order.
func (v *TieredValuer) ValueAll(ctx context.Context, positions []OpenPosition) ([]*big.Int, error) {
	order := make([]int, len(positions))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return positions[order[a]].CostBasis.Cmp(positions[order[b]].CostBasis) > 0
	})

	values := make([]*big.Int, len(positions))
	for rank, idx := range order {
		pos := positions[idx]
		var value *big.Int
		var err error
		if v.Exact != nil && rank < v.TopN {
			value, err = v.Exact.Value(ctx, pos)
		}
		if value == nil || err != nil {
			value, err = v.Fallback.Value(ctx, pos)
			if err != nil {
				return nil, err
			}
		}
		values[idx] = value
	}
	return values, nil
}
