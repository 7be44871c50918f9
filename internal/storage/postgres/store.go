// Package postgres implements the storage.Store contract on pgx. All writes
// are keyed upserts so a retried indexer batch is safe to reapply.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"delphiscope/internal/model"
	"delphiscope/internal/storage"
)

// Store provides Postgres persistence for markets, trades, and aggregates.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Store) UpsertMarket(ctx context.Context, m model.Market) error {
	modelsJSON, err := marshalModels(m.Models)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO markets (
			market_id, config_uri, config_uri_hash, title, description, category,
			status, created_at_block, created_at_time, end_time, models_json,
			total_trades, total_volume, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,0,'0',now(),now())
		ON CONFLICT (market_id)
		DO UPDATE SET
			config_uri = EXCLUDED.config_uri,
			config_uri_hash = EXCLUDED.config_uri_hash,
			title = COALESCE(NULLIF(EXCLUDED.title, ''), markets.title),
			description = COALESCE(NULLIF(EXCLUDED.description, ''), markets.description),
			category = COALESCE(NULLIF(EXCLUDED.category, ''), markets.category),
			end_time = COALESCE(EXCLUDED.end_time, markets.end_time),
			models_json = COALESCE(EXCLUDED.models_json, markets.models_json),
			updated_at = now()
	`,
		int64(m.MarketID),
		m.ConfigURI,
		m.ConfigURIHash,
		m.Title,
		m.Description,
		m.Category,
		int(m.Status),
		int64(m.CreatedAtBlock),
		m.CreatedAtTime,
		m.EndTime,
		modelsJSON,
	)
	return err
}

func (s *Store) EnsureMarket(ctx context.Context, marketID, block uint64, blockTime time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO markets (
			market_id, status, created_at_block, created_at_time,
			total_trades, total_volume, created_at, updated_at
		) VALUES ($1, $2, $3, $4, 0, '0', now(), now())
		ON CONFLICT (market_id) DO NOTHING
	`, int64(marketID), int(model.MarketActive), int64(block), blockTime)
	return err
}

func (s *Store) SettleMarket(ctx context.Context, marketID, winningModelIdx uint64, settledAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO markets (
			market_id, status, winning_model_idx, settled_at,
			total_trades, total_volume, created_at, updated_at
		) VALUES ($1, $2, $3, $4, 0, '0', now(), now())
		ON CONFLICT (market_id)
		DO UPDATE SET
			status = EXCLUDED.status,
			winning_model_idx = EXCLUDED.winning_model_idx,
			settled_at = EXCLUDED.settled_at,
			updated_at = now()
	`, int64(marketID), int(model.MarketSettled), int64(winningModelIdx), settledAt)
	return err
}

func (s *Store) SetMarketAggregates(ctx context.Context, marketID, totalTrades uint64, totalVolume string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE markets
		SET total_trades = $2, total_volume = $3, updated_at = now()
		WHERE market_id = $1
	`, int64(marketID), int64(totalTrades), totalVolume)
	return err
}

const marketColumns = `
	market_id, config_uri, config_uri_hash, COALESCE(title, ''), COALESCE(description, ''),
	COALESCE(category, ''), status, created_at_block, created_at_time, end_time,
	settled_at, winning_model_idx, total_trades, total_volume, models_json
`

func (s *Store) GetMarket(ctx context.Context, marketID uint64) (model.Market, bool, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketColumns+` FROM markets WHERE market_id = $1`, int64(marketID))
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Market{}, false, nil
		}
		return model.Market{}, false, err
	}
	return m, true, nil
}

func (s *Store) Markets(ctx context.Context) ([]model.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketColumns+` FROM markets ORDER BY market_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	markets := make([]model.Market, 0)
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, m)
	}
	return markets, rows.Err()
}

func (s *Store) MarketWinners(ctx context.Context) (map[uint64]uint64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT market_id, winning_model_idx FROM markets WHERE winning_model_idx IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	winners := make(map[uint64]uint64)
	for rows.Next() {
		var marketID, winningIdx int64
		if err := rows.Scan(&marketID, &winningIdx); err != nil {
			return nil, err
		}
		winners[uint64(marketID)] = uint64(winningIdx)
	}
	return winners, rows.Err()
}

func (s *Store) UpsertTrades(ctx context.Context, trades []model.Trade) (int, error) {
	if len(trades) == 0 {
		return 0, nil
	}
	batch := &pgx.Batch{}
	for _, t := range trades {
		batch.Queue(`
			INSERT INTO trades (
				id, tx_hash, log_index, block_number, block_time, market_id, model_idx,
				trader, is_buy, tokens_delta, shares_delta, model_new_price,
				model_new_supply, market_new_supply, implied_probability, created_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,now())
			ON CONFLICT (id) DO NOTHING
		`,
			t.ID,
			t.TxHash,
			int64(t.LogIndex),
			int64(t.BlockNumber),
			t.BlockTime,
			int64(t.MarketID),
			int64(t.ModelIdx),
			t.Trader,
			t.IsBuy,
			t.TokensDelta,
			t.SharesDelta,
			t.ModelNewPrice,
			t.ModelNewSupply,
			t.MarketNewSupply,
			t.ImpliedProbability,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	inserted := 0
	for range trades {
		tag, err := br.Exec()
		if err != nil {
			return inserted, err
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

const tradeColumns = `
	id, tx_hash, log_index, block_number, block_time, market_id, model_idx,
	trader, is_buy, tokens_delta, shares_delta, model_new_price,
	model_new_supply, market_new_supply, implied_probability
`

func (s *Store) TradesByTrader(ctx context.Context, trader string) ([]model.Trade, error) {
	return s.queryTrades(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE trader = $1 ORDER BY block_number, log_index`, trader)
}

func (s *Store) TradesByMarket(ctx context.Context, marketID uint64) ([]model.Trade, error) {
	return s.queryTrades(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE market_id = $1 ORDER BY block_number, log_index`, int64(marketID))
}

func (s *Store) TradesSince(ctx context.Context, since time.Time) ([]model.Trade, error) {
	return s.queryTrades(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE block_time >= $1 ORDER BY block_number, log_index`, since)
}

func (s *Store) queryTrades(ctx context.Context, query string, args ...any) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	trades := make([]model.Trade, 0)
	for rows.Next() {
		var t model.Trade
		var logIndex, blockNumber, marketID, modelIdx int64
		if err := rows.Scan(
			&t.ID, &t.TxHash, &logIndex, &blockNumber, &t.BlockTime, &marketID, &modelIdx,
			&t.Trader, &t.IsBuy, &t.TokensDelta, &t.SharesDelta, &t.ModelNewPrice,
			&t.ModelNewSupply, &t.MarketNewSupply, &t.ImpliedProbability,
		); err != nil {
			return nil, err
		}
		t.LogIndex = uint64(logIndex)
		t.BlockNumber = uint64(blockNumber)
		t.MarketID = uint64(marketID)
		t.ModelIdx = uint64(modelIdx)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func (s *Store) TradersWithTrades(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT trader FROM trades ORDER BY trader`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	traders := make([]string, 0)
	for rows.Next() {
		var trader string
		if err := rows.Scan(&trader); err != nil {
			return nil, err
		}
		traders = append(traders, trader)
	}
	return traders, rows.Err()
}

func (s *Store) InsertPriceSnapshots(ctx context.Context, snaps []model.PriceSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, snap := range snaps {
		batch.Queue(`
			INSERT INTO price_snapshots (market_id, model_idx, price, probability, block_number, ts)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (market_id, model_idx, block_number) DO NOTHING
		`,
			int64(snap.MarketID),
			int64(snap.ModelIdx),
			snap.Price,
			snap.Probability,
			int64(snap.BlockNumber),
			snap.Timestamp,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range snaps {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) PriceHistory(ctx context.Context, marketID uint64) ([]model.PriceSnapshot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT market_id, model_idx, price, probability, block_number, ts
		FROM price_snapshots WHERE market_id = $1 ORDER BY block_number
	`, int64(marketID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	snaps := make([]model.PriceSnapshot, 0)
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

func (s *Store) LastPriceSnapshot(ctx context.Context, marketID, modelIdx uint64) (model.PriceSnapshot, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT market_id, model_idx, price, probability, block_number, ts
		FROM price_snapshots
		WHERE market_id = $1 AND model_idx = $2
		ORDER BY block_number DESC LIMIT 1
	`, int64(marketID), int64(modelIdx))
	snap, err := scanSnapshot(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.PriceSnapshot{}, false, nil
		}
		return model.PriceSnapshot{}, false, err
	}
	return snap, true, nil
}

func (s *Store) UpsertTraderStats(ctx context.Context, stats model.TraderStats) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO trader_stats (
			address, total_trades, total_volume, buy_volume, sell_volume,
			buy_count, sell_count, realized_pnl, total_cost_basis, unrealized_cost_basis,
			markets_traded, models_traded, open_positions, first_trade_at, last_trade_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,now())
		ON CONFLICT (address)
		DO UPDATE SET
			total_trades = EXCLUDED.total_trades,
			total_volume = EXCLUDED.total_volume,
			buy_volume = EXCLUDED.buy_volume,
			sell_volume = EXCLUDED.sell_volume,
			buy_count = EXCLUDED.buy_count,
			sell_count = EXCLUDED.sell_count,
			realized_pnl = EXCLUDED.realized_pnl,
			total_cost_basis = EXCLUDED.total_cost_basis,
			unrealized_cost_basis = EXCLUDED.unrealized_cost_basis,
			markets_traded = EXCLUDED.markets_traded,
			models_traded = EXCLUDED.models_traded,
			open_positions = EXCLUDED.open_positions,
			first_trade_at = EXCLUDED.first_trade_at,
			last_trade_at = EXCLUDED.last_trade_at,
			updated_at = now()
	`,
		stats.Address,
		int64(stats.TotalTrades),
		stats.TotalVolume,
		stats.BuyVolume,
		stats.SellVolume,
		int64(stats.BuyCount),
		int64(stats.SellCount),
		stats.RealizedPnl,
		stats.TotalCostBasis,
		stats.UnrealizedCostBasis,
		int64(stats.MarketsTraded),
		int64(stats.ModelsTraded),
		int64(stats.OpenPositions),
		stats.FirstTradeAt,
		stats.LastTradeAt,
	)
	return err
}

const statsColumns = `
	address, total_trades, total_volume, buy_volume, sell_volume,
	buy_count, sell_count, realized_pnl, total_cost_basis, unrealized_cost_basis,
	markets_traded, models_traded, open_positions, first_trade_at, last_trade_at
`

func (s *Store) GetTraderStats(ctx context.Context, address string) (model.TraderStats, bool, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+statsColumns+` FROM trader_stats WHERE address = $1`, address)
	stats, err := scanStats(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.TraderStats{}, false, nil
		}
		return model.TraderStats{}, false, err
	}
	return stats, true, nil
}

func (s *Store) Leaderboard(ctx context.Context, q storage.LeaderboardQuery) ([]model.TraderStats, int, error) {
	orderBy := "realized_pnl::numeric DESC"
	switch q.Sort {
	case storage.SortByVolume:
		orderBy = "total_volume::numeric DESC"
	case storage.SortByTrades:
		orderBy = "total_trades DESC"
	}

	where := "total_trades > 0"
	args := []any{}
	if q.Search != "" {
		where += " AND address ILIKE $1"
		args = append(args, "%"+q.Search+"%")
	}

	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM trader_stats WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page := q.Page
	if page < 1 {
		page = 1
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, (page-1)*limit)
	query := fmt.Sprintf(
		`SELECT %s FROM trader_stats WHERE %s ORDER BY %s LIMIT $%d OFFSET $%d`,
		statsColumns, where, orderBy, len(args)-1, len(args),
	)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := make([]model.TraderStats, 0, limit)
	for rows.Next() {
		stats, err := scanStats(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, stats)
	}
	return out, total, rows.Err()
}

func (s *Store) Counts(ctx context.Context) (storage.GlobalCounts, error) {
	var counts storage.GlobalCounts
	row := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM trades),
			(SELECT count(*) FROM markets),
			(SELECT count(*) FROM markets WHERE status = 0),
			(SELECT count(*) FROM markets WHERE status = 2),
			(SELECT count(*) FROM trader_stats WHERE total_trades > 0)
	`)
	var trades, markets, active, settled, traders int64
	if err := row.Scan(&trades, &markets, &active, &settled, &traders); err != nil {
		return storage.GlobalCounts{}, err
	}
	counts.TotalTrades = uint64(trades)
	counts.TotalMarkets = uint64(markets)
	counts.ActiveMarkets = uint64(active)
	counts.SettledMarkets = uint64(settled)
	counts.TotalTraders = uint64(traders)
	return counts, nil
}

func (s *Store) LoadIndexerState(ctx context.Context, id string) (model.IndexerState, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, last_block, last_block_time, is_running, last_error, updated_at
		FROM indexer_state WHERE id = $1
	`, id)

	var state model.IndexerState
	var lastBlock int64
	if err := row.Scan(&state.ID, &lastBlock, &state.LastBlockTime, &state.IsRunning, &state.LastError, &state.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.IndexerState{}, false, nil
		}
		return model.IndexerState{}, false, err
	}
	state.LastBlock = uint64(lastBlock)
	return state, true, nil
}

func (s *Store) SaveIndexerState(ctx context.Context, state model.IndexerState) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO indexer_state (id, last_block, last_block_time, is_running, last_error, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (id)
		DO UPDATE SET
			last_block = EXCLUDED.last_block,
			last_block_time = EXCLUDED.last_block_time,
			is_running = EXCLUDED.is_running,
			last_error = EXCLUDED.last_error,
			updated_at = now()
	`, state.ID, int64(state.LastBlock), state.LastBlockTime, state.IsRunning, state.LastError)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMarket(row rowScanner) (model.Market, error) {
	var m model.Market
	var marketID, createdAtBlock, totalTrades int64
	var status int
	var winningIdx *int64
	var modelsJSON []byte
	if err := row.Scan(
		&marketID, &m.ConfigURI, &m.ConfigURIHash, &m.Title, &m.Description,
		&m.Category, &status, &createdAtBlock, &m.CreatedAtTime, &m.EndTime,
		&m.SettledAt, &winningIdx, &totalTrades, &m.TotalVolume, &modelsJSON,
	); err != nil {
		return model.Market{}, err
	}
	m.MarketID = uint64(marketID)
	m.Status = model.MarketStatus(status)
	m.CreatedAtBlock = uint64(createdAtBlock)
	m.TotalTrades = uint64(totalTrades)
	if winningIdx != nil {
		idx := uint64(*winningIdx)
		m.WinningModelIdx = &idx
	}
	if len(modelsJSON) > 0 {
		if err := json.Unmarshal(modelsJSON, &m.Models); err != nil {
			return model.Market{}, fmt.Errorf("market %d: parse models: %w", m.MarketID, err)
		}
	}
	return m, nil
}

func scanSnapshot(row rowScanner) (model.PriceSnapshot, error) {
	var snap model.PriceSnapshot
	var marketID, modelIdx, blockNumber int64
	if err := row.Scan(&marketID, &modelIdx, &snap.Price, &snap.Probability, &blockNumber, &snap.Timestamp); err != nil {
		return model.PriceSnapshot{}, err
	}
	snap.MarketID = uint64(marketID)
	snap.ModelIdx = uint64(modelIdx)
	snap.BlockNumber = uint64(blockNumber)
	return snap, nil
}

func scanStats(row rowScanner) (model.TraderStats, error) {
	var stats model.TraderStats
	var totalTrades, buyCount, sellCount, marketsTraded, modelsTraded, openPositions int64
	if err := row.Scan(
		&stats.Address, &totalTrades, &stats.TotalVolume, &stats.BuyVolume, &stats.SellVolume,
		&buyCount, &sellCount, &stats.RealizedPnl, &stats.TotalCostBasis, &stats.UnrealizedCostBasis,
		&marketsTraded, &modelsTraded, &openPositions, &stats.FirstTradeAt, &stats.LastTradeAt,
	); err != nil {
		return model.TraderStats{}, err
	}
	stats.TotalTrades = uint64(totalTrades)
	stats.BuyCount = uint64(buyCount)
	stats.SellCount = uint64(sellCount)
	stats.MarketsTraded = uint64(marketsTraded)
	stats.ModelsTraded = uint64(modelsTraded)
	stats.OpenPositions = uint64(openPositions)
	return stats, nil
}

func marshalModels(models []model.MarketModel) ([]byte, error) {
	if len(models) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(models)
	if err != nil {
		return nil, fmt.Errorf("marshal models: %w", err)
	}
	return data, nil
}

var _ storage.Store = (*Store)(nil)
