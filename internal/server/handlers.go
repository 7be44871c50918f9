package server

import (
	"errors"
	"math/big"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"delphiscope/internal/accounting"
	"delphiscope/internal/indexer"
	"delphiscope/internal/market"
	"delphiscope/internal/model"
	"delphiscope/internal/storage"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	state, _, err := s.store.LoadIndexerState(r.Context(), indexer.StateID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"lastBlock": state.LastBlock,
		"lastError": state.LastError,
	})
}

func (s *Server) handleCron(w http.ResponseWriter, r *http.Request) {
	if s.cfg.CronSecret != "" {
		secret := r.URL.Query().Get("secret")
		if secret == "" {
			secret = r.Header.Get("x-cron-secret")
		}
		if secret != s.cfg.CronSecret {
			s.writeError(w, http.StatusUnauthorized, "invalid cron secret")
			return
		}
	}
	if s.runner == nil {
		s.writeError(w, http.StatusInternalServerError, "indexer not configured")
		return
	}

	result, err := s.runner.Run(r.Context())
	if err != nil {
		if errors.Is(err, indexer.ErrAlreadyRunning) {
			s.writeError(w, http.StatusConflict, "indexer run already in progress")
			return
		}
		s.logger.Error("cron run failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if result.Indexed > 0 {
		s.cache.Invalidate()
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"indexed":    result.Indexed,
		"lastBlock":  result.LastBlock,
		"durationMs": result.Duration.Milliseconds(),
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	counts, err := s.store.Counts(ctx)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	since := time.Now().UTC().Add(-24 * time.Hour)
	recent, err := s.store.TradesSince(ctx, since)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	volume24h := new(big.Int)
	for _, t := range recent {
		delta, ok := new(big.Int).SetString(t.TokensDelta, 10)
		if ok {
			volume24h.Add(volume24h, delta.Abs(delta))
		}
	}

	state, _, err := s.store.LoadIndexerState(ctx, indexer.StateID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"totalTrades":    counts.TotalTrades,
		"totalMarkets":   counts.TotalMarkets,
		"activeMarkets":  counts.ActiveMarkets,
		"settledMarkets": counts.SettledMarkets,
		"totalTraders":   counts.TotalTraders,
		"trades24h":      len(recent),
		"volume24h":      volume24h.String(),
		"lastBlock":      state.LastBlock,
		"lastBlockTime":  state.LastBlockTime,
	})
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	sortBy := r.URL.Query().Get("sortBy")
	if sortBy == "" {
		sortBy = r.URL.Query().Get("sort")
	}
	q := storage.LeaderboardQuery{
		Page:   intParam(r, "page", 1),
		Limit:  intParam(r, "limit", 50),
		Sort:   storage.LeaderboardSort(sortBy),
		Search: r.URL.Query().Get("search"),
	}
	if q.Limit > maxPageLimit {
		q.Limit = maxPageLimit
	}
	if q.Sort == "" {
		q.Sort = storage.SortByPnl
	}

	cacheKey := "leaderboard?" + r.URL.RawQuery
	if cached, ok := s.cache.Get(cacheKey); ok {
		s.writeJSON(w, http.StatusOK, cached)
		return
	}

	rows, total, err := s.store.Leaderboard(r.Context(), q)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	response := map[string]any{
		"traders": rows,
		"total":   total,
		"page":    q.Page,
		"limit":   q.Limit,
	}
	s.cache.Set(cacheKey, response)
	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := s.store.Markets(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"markets": markets})
}

func (s *Server) handleMarket(w http.ResponseWriter, r *http.Request) {
	marketID, err := strconv.ParseUint(mux.Vars(r)["marketId"], 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	m, found, err := s.store.GetMarket(r.Context(), marketID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !found {
		s.writeError(w, http.StatusNotFound, "market not found")
		return
	}

	history, err := s.store.PriceHistory(r.Context(), marketID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"market":       m,
		"priceHistory": history,
	})
}

func (s *Server) handleAddressStats(w http.ResponseWriter, r *http.Request) {
	address, ok := s.normalizedAddress(w, r)
	if !ok {
		return
	}

	stats, found, err := s.store.GetTraderStats(r.Context(), address)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !found {
		stats = emptyTraderStats(address)
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleAddressPnl(w http.ResponseWriter, r *http.Request) {
	address, ok := s.normalizedAddress(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	trades, err := s.store.TradesByTrader(ctx, address)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	winners, err := s.store.MarketWinners(ctx)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	positions, err := accounting.FoldPositions(trades)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	totals := accounting.Summarize(positions, winners)

	open := openPositions(positions, winners)
	values := make([]*big.Int, len(open))
	if s.valuer != nil && len(open) > 0 {
		values, err = s.valuer.ValueAll(ctx, open)
		if err != nil {
			s.logger.Warn("position valuation failed",
				zap.String("address", address), zap.Error(err))
			values = make([]*big.Int, len(open))
		}
	}

	totalValue := new(big.Int)
	rows := make([]map[string]any, 0, len(open))
	for i, pos := range open {
		row := map[string]any{
			"marketId":   pos.MarketID,
			"modelIdx":   pos.ModelIdx,
			"sharesHeld": pos.SharesHeld.String(),
			"costBasis":  pos.CostBasis.String(),
		}
		if values[i] != nil {
			row["estimatedValue"] = values[i].String()
			row["unrealizedPnl"] = new(big.Int).Sub(values[i], pos.CostBasis).String()
			totalValue.Add(totalValue, values[i])
		}
		rows = append(rows, row)
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"address":             address,
		"realizedPnl":         totals.RealizedPnl.String(),
		"totalCostBasis":      totals.TotalCostBasis.String(),
		"unrealizedCostBasis": totals.UnrealizedCostBasis.String(),
		"openPositions":       totals.OpenPositions,
		"estimatedValue":      totalValue.String(),
		"positions":           rows,
	})
}

func (s *Server) handleAddressTrades(w http.ResponseWriter, r *http.Request) {
	address, ok := s.normalizedAddress(w, r)
	if !ok {
		return
	}

	trades, err := s.store.TradesByTrader(r.Context(), address)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// Trade history is served newest-first.
	for i, j := 0, len(trades)-1; i < j; i, j = i+1, j-1 {
		trades[i], trades[j] = trades[j], trades[i]
	}

	page := intParam(r, "page", 1)
	limit := intParam(r, "limit", 100)
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	start := (page - 1) * limit
	if start > len(trades) {
		start = len(trades)
	}
	end := start + limit
	if end > len(trades) {
		end = len(trades)
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"address": address,
		"trades":  trades[start:end],
		"total":   len(trades),
		"page":    page,
		"limit":   limit,
	})
}

// normalizedAddress validates and normalizes the address path variable,
// writing a 400 response on failure.
func (s *Server) normalizedAddress(w http.ResponseWriter, r *http.Request) (string, bool) {
	address, err := market.NormalizeAddress(mux.Vars(r)["address"])
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return address, true
}

// openPositions returns the still-open holdings in unsettled markets,
// ordered by market then model for stable responses.
func openPositions(positions map[accounting.Key]*accounting.Position, winners map[uint64]uint64) []accounting.OpenPosition {
	open := make([]accounting.OpenPosition, 0, len(positions))
	for key, pos := range positions {
		if pos.SharesHeld.Sign() <= 0 {
			continue
		}
		if _, settled := winners[key.MarketID]; settled {
			continue
		}
		open = append(open, accounting.OpenPosition{
			MarketID:   key.MarketID,
			ModelIdx:   key.ModelIdx,
			SharesHeld: pos.SharesHeld,
			CostBasis:  pos.CostBasis,
		})
	}
	sort.Slice(open, func(a, b int) bool {
		if open[a].MarketID != open[b].MarketID {
			return open[a].MarketID < open[b].MarketID
		}
		return open[a].ModelIdx < open[b].ModelIdx
	})
	return open
}

func emptyTraderStats(address string) model.TraderStats {
	return model.TraderStats{
		Address:             address,
		TotalVolume:         "0",
		BuyVolume:           "0",
		SellVolume:          "0",
		RealizedPnl:         "0",
		TotalCostBasis:      "0",
		UnrealizedCostBasis: "0",
	}
}

// maxPageLimit bounds the page size a client can request.
const maxPageLimit = 100

func intParam(r *http.Request, name string, fallback int) int {
	value := r.URL.Query().Get(name)
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
