package server

import (
	"context"
	"fmt"
	"math/big"

	"delphiscope/internal/accounting"
	"delphiscope/internal/storage"
)

// snapshotPriceSource serves last observed prices from stored snapshots.
type snapshotPriceSource struct {
	store storage.Store
}

func (p snapshotPriceSource) LastPrice(ctx context.Context, marketID, modelIdx uint64) (*big.Int, bool, error) {
	snap, found, err := p.store.LastPriceSnapshot(ctx, marketID, modelIdx)
	if err != nil || !found {
		return nil, false, err
	}
	price, ok := new(big.Int).SetString(snap.Price, 10)
	if !ok {
		return nil, false, fmt.Errorf("market %d model %d: bad snapshot price %q", marketID, modelIdx, snap.Price)
	}
	return price, true, nil
}

// NewValuer builds the tiered valuation used by the pnl endpoint. The
// top positions by cost basis are quoted on chain when quoter is
// non-nil; everything else falls back to a spot estimate from the last
// price snapshot.
func NewValuer(store storage.Store, quoter accounting.SellQuoter, topN int) *accounting.TieredValuer {
	v := &accounting.TieredValuer{
		Fallback: &accounting.SpotEstimate{Prices: snapshotPriceSource{store: store}},
		TopN:     topN,
	}
	if quoter != nil {
		v.Exact = &accounting.ExactQuote{Quoter: quoter}
	}
	return v
}
