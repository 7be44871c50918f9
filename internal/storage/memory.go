package storage

import (
	"context"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"delphiscope/internal/model"
)

// MemoryStore is an in-memory Store for tests and local runs.
type MemoryStore struct {
	mu        sync.RWMutex
	markets   map[uint64]model.Market
	trades    map[string]model.Trade
	snapshots []model.PriceSnapshot
	snapSeen  map[snapshotKey]struct{}
	stats     map[string]model.TraderStats
	states    map[string]model.IndexerState
}

type snapshotKey struct {
	marketID    uint64
	modelIdx    uint64
	blockNumber uint64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		markets:  make(map[uint64]model.Market),
		trades:   make(map[string]model.Trade),
		snapSeen: make(map[snapshotKey]struct{}),
		stats:    make(map[string]model.TraderStats),
		states:   make(map[string]model.IndexerState),
	}
}

func (s *MemoryStore) UpsertMarket(_ context.Context, m model.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.markets[m.MarketID]
	if !ok {
		if m.TotalVolume == "" {
			m.TotalVolume = "0"
		}
		s.markets[m.MarketID] = m
		return nil
	}

	existing.ConfigURI = m.ConfigURI
	existing.ConfigURIHash = m.ConfigURIHash
	if m.Title != "" {
		existing.Title = m.Title
	}
	if m.Description != "" {
		existing.Description = m.Description
	}
	if m.Category != "" {
		existing.Category = m.Category
	}
	if m.EndTime != nil {
		existing.EndTime = m.EndTime
	}
	if len(m.Models) > 0 {
		existing.Models = m.Models
	}
	s.markets[m.MarketID] = existing
	return nil
}

func (s *MemoryStore) EnsureMarket(_ context.Context, marketID, block uint64, blockTime time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.markets[marketID]; ok {
		return nil
	}
	s.markets[marketID] = model.Market{
		MarketID:       marketID,
		Status:         model.MarketActive,
		CreatedAtBlock: block,
		CreatedAtTime:  blockTime.UTC(),
		TotalVolume:    "0",
	}
	return nil
}

func (s *MemoryStore) SettleMarket(_ context.Context, marketID, winningModelIdx uint64, settledAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[marketID]
	if !ok {
		m = model.Market{MarketID: marketID, TotalVolume: "0"}
	}
	winner := winningModelIdx
	settled := settledAt.UTC()
	m.Status = model.MarketSettled
	m.WinningModelIdx = &winner
	m.SettledAt = &settled
	s.markets[marketID] = m
	return nil
}

func (s *MemoryStore) SetMarketAggregates(_ context.Context, marketID, totalTrades uint64, totalVolume string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[marketID]
	if !ok {
		m = model.Market{MarketID: marketID, Status: model.MarketActive}
	}
	m.TotalTrades = totalTrades
	m.TotalVolume = totalVolume
	s.markets[marketID] = m
	return nil
}

func (s *MemoryStore) GetMarket(_ context.Context, marketID uint64) (model.Market, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.markets[marketID]
	return m, ok, nil
}

func (s *MemoryStore) Markets(_ context.Context) ([]model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	markets := make([]model.Market, 0, len(s.markets))
	for _, m := range s.markets {
		markets = append(markets, m)
	}
	sort.Slice(markets, func(i, j int) bool {
		return markets[i].MarketID < markets[j].MarketID
	})
	return markets, nil
}

func (s *MemoryStore) MarketWinners(_ context.Context) (map[uint64]uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	winners := make(map[uint64]uint64)
	for id, m := range s.markets {
		if m.WinningModelIdx != nil {
			winners[id] = *m.WinningModelIdx
		}
	}
	return winners, nil
}

func (s *MemoryStore) UpsertTrades(_ context.Context, trades []model.Trade) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inserted := 0
	for _, trade := range trades {
		if _, ok := s.trades[trade.ID]; ok {
			continue
		}
		s.trades[trade.ID] = trade
		inserted++
	}
	return inserted, nil
}

func (s *MemoryStore) tradesWhere(match func(model.Trade) bool) []model.Trade {
	out := make([]model.Trade, 0)
	for _, trade := range s.trades {
		if match(trade) {
			out = append(out, trade)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BlockNumber != out[j].BlockNumber {
			return out[i].BlockNumber < out[j].BlockNumber
		}
		return out[i].LogIndex < out[j].LogIndex
	})
	return out
}

func (s *MemoryStore) TradesByTrader(_ context.Context, trader string) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tradesWhere(func(t model.Trade) bool { return t.Trader == trader }), nil
}

func (s *MemoryStore) TradesByMarket(_ context.Context, marketID uint64) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tradesWhere(func(t model.Trade) bool { return t.MarketID == marketID }), nil
}

func (s *MemoryStore) TradesSince(_ context.Context, since time.Time) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tradesWhere(func(t model.Trade) bool { return !t.BlockTime.Before(since) }), nil
}

func (s *MemoryStore) TradersWithTrades(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, trade := range s.trades {
		seen[trade.Trader] = struct{}{}
	}
	traders := make([]string, 0, len(seen))
	for trader := range seen {
		traders = append(traders, trader)
	}
	sort.Strings(traders)
	return traders, nil
}

func (s *MemoryStore) InsertPriceSnapshots(_ context.Context, snaps []model.PriceSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, snap := range snaps {
		key := snapshotKey{snap.MarketID, snap.ModelIdx, snap.BlockNumber}
		if _, ok := s.snapSeen[key]; ok {
			continue
		}
		s.snapSeen[key] = struct{}{}
		s.snapshots = append(s.snapshots, snap)
	}
	return nil
}

func (s *MemoryStore) PriceHistory(_ context.Context, marketID uint64) ([]model.PriceSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.PriceSnapshot, 0)
	for _, snap := range s.snapshots {
		if snap.MarketID == marketID {
			out = append(out, snap)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].BlockNumber < out[j].BlockNumber
	})
	return out, nil
}

func (s *MemoryStore) LastPriceSnapshot(_ context.Context, marketID, modelIdx uint64) (model.PriceSnapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var last model.PriceSnapshot
	found := false
	for _, snap := range s.snapshots {
		if snap.MarketID != marketID || snap.ModelIdx != modelIdx {
			continue
		}
		if !found || snap.BlockNumber >= last.BlockNumber {
			last = snap
			found = true
		}
	}
	return last, found, nil
}

func (s *MemoryStore) UpsertTraderStats(_ context.Context, stats model.TraderStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats[stats.Address] = stats
	return nil
}

func (s *MemoryStore) GetTraderStats(_ context.Context, address string) (model.TraderStats, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats, ok := s.stats[address]
	return stats, ok, nil
}

func (s *MemoryStore) Leaderboard(_ context.Context, q LeaderboardQuery) ([]model.TraderStats, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := make([]model.TraderStats, 0, len(s.stats))
	search := strings.ToLower(q.Search)
	for _, stats := range s.stats {
		if stats.TotalTrades == 0 {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(stats.Address), search) {
			continue
		}
		rows = append(rows, stats)
	}

	sortStats(rows, q.Sort)

	total := len(rows)
	page := q.Page
	if page < 1 {
		page = 1
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := (page - 1) * limit
	if offset >= total {
		return []model.TraderStats{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return rows[offset:end], total, nil
}

func sortStats(rows []model.TraderStats, order LeaderboardSort) {
	switch order {
	case SortByVolume:
		sort.SliceStable(rows, func(i, j int) bool {
			return bigFromString(rows[i].TotalVolume).Cmp(bigFromString(rows[j].TotalVolume)) > 0
		})
	case SortByTrades:
		sort.SliceStable(rows, func(i, j int) bool {
			return rows[i].TotalTrades > rows[j].TotalTrades
		})
	default:
		sort.SliceStable(rows, func(i, j int) bool {
			return bigFromString(rows[i].RealizedPnl).Cmp(bigFromString(rows[j].RealizedPnl)) > 0
		})
	}
}

func bigFromString(value string) *big.Int {
	parsed, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return big.NewInt(0)
	}
	return parsed
}

func (s *MemoryStore) Counts(_ context.Context) (GlobalCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := GlobalCounts{
		TotalTrades:  uint64(len(s.trades)),
		TotalMarkets: uint64(len(s.markets)),
	}
	for _, m := range s.markets {
		switch m.Status {
		case model.MarketActive:
			counts.ActiveMarkets++
		case model.MarketSettled:
			counts.SettledMarkets++
		}
	}
	for _, stats := range s.stats {
		if stats.TotalTrades > 0 {
			counts.TotalTraders++
		}
	}
	return counts, nil
}

func (s *MemoryStore) LoadIndexerState(_ context.Context, id string) (model.IndexerState, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[id]
	return state, ok, nil
}

func (s *MemoryStore) SaveIndexerState(_ context.Context, state model.IndexerState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state.UpdatedAt = time.Now().UTC()
	s.states[state.ID] = state
	return nil
}
