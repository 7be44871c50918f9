// Package accounting implements average-cost position accounting over ordered
// trade streams. It is the single source of truth for cost-basis and realized
// P&L math: the indexer, the stats builder, and every query path call into
// this package rather than carrying their own fold.
package accounting

import (
	"fmt"
	"math/big"
	"sort"

	"delphiscope/internal/model"
)

// Key identifies a position: one trader's holding in one (market, model) pair.
// The trader is implicit; folds operate on a single trader's trades.
type Key struct {
	MarketID uint64
	ModelIdx uint64
}

// Position is the running accounting state for one key. SharesHeld and
// CostBasis never go negative; truncation in the average-cost division is
// absorbed by clamping.
type Position struct {
	SharesHeld  *big.Int
	CostBasis   *big.Int
	RealizedPnl *big.Int
}

func NewPosition() *Position {
	return &Position{
		SharesHeld:  big.NewInt(0),
		CostBasis:   big.NewInt(0),
		RealizedPnl: big.NewInt(0),
	}
}

// ApplyBuy adds shares at a cost of tokens. No P&L is realized on a buy.
func (p *Position) ApplyBuy(shares, tokens *big.Int) {
	p.SharesHeld.Add(p.SharesHeld, shares)
	p.CostBasis.Add(p.CostBasis, tokens)
}

// ApplySell removes shares for proceeds of tokens using average-cost
// accounting. Selling with no tracked basis realizes the entire proceeds.
func (p *Position) ApplySell(shares, tokens *big.Int) {
	if p.SharesHeld.Sign() <= 0 {
		p.RealizedPnl.Add(p.RealizedPnl, tokens)
		return
	}

	avgCost := new(big.Int).Quo(p.CostBasis, p.SharesHeld)
	costRemoved := new(big.Int).Mul(avgCost, shares)

	pnl := new(big.Int).Sub(tokens, costRemoved)
	p.RealizedPnl.Add(p.RealizedPnl, pnl)

	p.SharesHeld.Sub(p.SharesHeld, shares)
	if p.SharesHeld.Sign() < 0 {
		p.SharesHeld.SetInt64(0)
	}

	p.CostBasis.Sub(p.CostBasis, costRemoved)
	if p.CostBasis.Sign() < 0 {
		p.CostBasis.SetInt64(0)
	}
}

// Apply folds one trade into the position.
func (p *Position) Apply(trade model.Trade) error {
	tokens, err := parseAmount(trade.TokensDelta)
	if err != nil {
		return fmt.Errorf("trade %s: tokens delta: %w", trade.ID, err)
	}
	shares, err := parseAmount(trade.SharesDelta)
	if err != nil {
		return fmt.Errorf("trade %s: shares delta: %w", trade.ID, err)
	}

	if trade.IsBuy {
		p.ApplyBuy(shares, tokens)
	} else {
		p.ApplySell(shares, tokens)
	}
	return nil
}

// FoldPositions replays a single trader's trades into positions. Trades are
// applied in block-number-then-log-index order regardless of input order, so
// the result is deterministic for any permutation of the same history.
func FoldPositions(trades []model.Trade) (map[Key]*Position, error) {
	ordered := make([]model.Trade, len(trades))
	copy(ordered, trades)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].BlockNumber != ordered[j].BlockNumber {
			return ordered[i].BlockNumber < ordered[j].BlockNumber
		}
		return ordered[i].LogIndex < ordered[j].LogIndex
	})

	positions := make(map[Key]*Position)
	for _, trade := range ordered {
		key := Key{MarketID: trade.MarketID, ModelIdx: trade.ModelIdx}
		pos := positions[key]
		if pos == nil {
			pos = NewPosition()
			positions[key] = pos
		}
		if err := pos.Apply(trade); err != nil {
			return nil, err
		}
	}
	return positions, nil
}

// SettlementAdjust returns the realized P&L delta from settling every open
// position whose market has a winner: winning shares redeem 1:1 net of basis,
// losing shares forfeit the full basis. The adjustment is derived fresh from
// (positions, winners) on every call and never written back into a position,
// so recomputing can never double-count a settlement.
func SettlementAdjust(positions map[Key]*Position, winners map[uint64]uint64) *big.Int {
	adjust := big.NewInt(0)
	for key, pos := range positions {
		if pos.SharesHeld.Sign() <= 0 {
			continue
		}
		winningIdx, settled := winners[key.MarketID]
		if !settled {
			continue
		}
		if key.ModelIdx == winningIdx {
			adjust.Add(adjust, pos.SharesHeld)
			adjust.Sub(adjust, pos.CostBasis)
		} else {
			adjust.Sub(adjust, pos.CostBasis)
		}
	}
	return adjust
}

// Totals summarizes a trader's positions against the settled-market winners.
type Totals struct {
	RealizedPnl         *big.Int
	TotalCostBasis      *big.Int
	UnrealizedCostBasis *big.Int
	OpenPositions       uint64
}

// Summarize aggregates per-position state. RealizedPnl includes the derived
// settlement adjustment; OpenPositions and UnrealizedCostBasis count only
// positions still open in markets without a winner.
func Summarize(positions map[Key]*Position, winners map[uint64]uint64) Totals {
	totals := Totals{
		RealizedPnl:         big.NewInt(0),
		TotalCostBasis:      big.NewInt(0),
		UnrealizedCostBasis: big.NewInt(0),
	}

	for key, pos := range positions {
		totals.RealizedPnl.Add(totals.RealizedPnl, pos.RealizedPnl)
		if pos.SharesHeld.Sign() <= 0 {
			continue
		}
		totals.TotalCostBasis.Add(totals.TotalCostBasis, pos.CostBasis)
		if _, settled := winners[key.MarketID]; !settled {
			totals.OpenPositions++
			totals.UnrealizedCostBasis.Add(totals.UnrealizedCostBasis, pos.CostBasis)
		}
	}

	totals.RealizedPnl.Add(totals.RealizedPnl, SettlementAdjust(positions, winners))
	return totals
}

func parseAmount(value string) (*big.Int, error) {
	if value == "" {
		return big.NewInt(0), nil
	}
	parsed, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("invalid int: %s", value)
	}
	return new(big.Int).Abs(parsed), nil
}
