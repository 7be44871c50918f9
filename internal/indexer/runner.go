package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"delphiscope/internal/market"
	"delphiscope/internal/model"
	"delphiscope/internal/storage"
)

// StateID is the row key under which the indexer cursor is persisted.
const StateID = "delphiscope"

// ErrAlreadyRunning is returned when Run is invoked while a previous
// invocation is still in flight.
var ErrAlreadyRunning = errors.New("indexer run already in progress")

// LogSource is the chain surface the runner needs. *chain.Client
// satisfies it.
type LogSource interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64, address common.Address, topic0 []common.Hash) ([]types.Log, error)
	BlockTimestamp(ctx context.Context, blockNumber uint64) (uint64, error)
}

// StatsRebuilder recomputes derived aggregates for the traders and
// markets touched by a batch.
type StatsRebuilder interface {
	RebuildTraders(ctx context.Context, traders []string) error
	RebuildMarkets(ctx context.Context, marketIDs []uint64) error
}

// RunConfig holds runtime settings for the indexer.
type RunConfig struct {
	Contract         common.Address
	GenesisBlock     uint64
	Confirmations    uint64
	BatchSize        uint64
	SnapshotInterval uint64
	MaxRetries       int
	RetryDelay       time.Duration
}

// Result summarizes one completed Run.
type Result struct {
	Indexed   int           `json:"indexed"`
	LastBlock uint64        `json:"lastBlock"`
	Duration  time.Duration `json:"-"`
}

// Runner streams contract logs from the chain, decodes them, and applies
// them to storage. A Runner is safe for concurrent use; overlapping Run
// calls beyond the first fail with ErrAlreadyRunning.
type Runner struct {
	cfg      RunConfig
	source   LogSource
	store    storage.Store
	decoder  *market.Decoder
	metadata market.MetadataFetcher
	stats    StatsRebuilder
	logger   *zap.Logger
	running  atomic.Bool
}

// NewRunner builds a Runner. metadata and stats may be nil, in which
// case market metadata is not fetched and aggregates are not rebuilt.
func NewRunner(cfg RunConfig, source LogSource, store storage.Store, metadata market.MetadataFetcher, stats StatsRebuilder, logger *zap.Logger) (*Runner, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	decoder, err := market.NewDecoder()
	if err != nil {
		return nil, fmt.Errorf("build decoder: %w", err)
	}
	return &Runner{
		cfg:      cfg,
		source:   source,
		store:    store,
		decoder:  decoder,
		metadata: metadata,
		stats:    stats,
		logger:   logger,
	}, nil
}

// Run advances the indexer from its persisted cursor to the latest
// confirmed block. The cursor moves only after a batch has been fully
// applied, so an interrupted run resumes without losing events.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	if r.source == nil {
		return Result{}, fmt.Errorf("log source is nil")
	}
	if r.store == nil {
		return Result{}, fmt.Errorf("store is nil")
	}
	if r.cfg.BatchSize == 0 {
		return Result{}, fmt.Errorf("batch size must be greater than zero")
	}
	if !r.running.CompareAndSwap(false, true) {
		return Result{}, ErrAlreadyRunning
	}
	defer r.running.Store(false)

	started := time.Now()

	state, ok, err := r.store.LoadIndexerState(ctx, StateID)
	if err != nil {
		return Result{}, fmt.Errorf("load indexer state: %w", err)
	}
	if !ok {
		state = model.IndexerState{ID: StateID}
	}

	from := r.cfg.GenesisBlock
	if state.LastBlock >= from {
		from = state.LastBlock + 1
	}

	head, err := r.latestBlockWithRetry(ctx)
	if err != nil {
		r.recordFailure(state, err)
		return Result{}, fmt.Errorf("get latest block: %w", err)
	}
	if head < r.cfg.Confirmations {
		return Result{LastBlock: state.LastBlock, Duration: time.Since(started)}, nil
	}
	target := head - r.cfg.Confirmations

	if from > target {
		r.logger.Debug("nothing to sync",
			zap.Uint64("from", from), zap.Uint64("target", target))
		return Result{LastBlock: state.LastBlock, Duration: time.Since(started)}, nil
	}

	ranges, err := SplitRange(from, target, r.cfg.BatchSize)
	if err != nil {
		return Result{}, err
	}

	state.IsRunning = true
	state.LastError = nil
	if err := r.store.SaveIndexerState(ctx, state); err != nil {
		return Result{}, fmt.Errorf("save indexer state: %w", err)
	}

	indexed := 0
	for _, blockRange := range ranges {
		select {
		case <-ctx.Done():
			r.recordFailure(state, ctx.Err())
			return Result{Indexed: indexed, LastBlock: state.LastBlock}, ctx.Err()
		default:
		}

		n, batchTime, err := r.applyRange(ctx, blockRange)
		if err != nil {
			r.recordFailure(state, err)
			return Result{Indexed: indexed, LastBlock: state.LastBlock},
				fmt.Errorf("blocks %d-%d: %w", blockRange.From, blockRange.To, err)
		}
		indexed += n

		state.LastBlock = blockRange.To
		state.LastBlockTime = batchTime
		state.LastError = nil
		if err := r.store.SaveIndexerState(ctx, state); err != nil {
			return Result{Indexed: indexed, LastBlock: state.LastBlock},
				fmt.Errorf("save indexer state: %w", err)
		}

		r.logger.Info("batch complete",
			zap.Uint64("from", blockRange.From),
			zap.Uint64("to", blockRange.To),
			zap.Int("trades", n))
	}

	state.IsRunning = false
	if err := r.store.SaveIndexerState(ctx, state); err != nil {
		return Result{Indexed: indexed, LastBlock: state.LastBlock},
			fmt.Errorf("save indexer state: %w", err)
	}

	return Result{Indexed: indexed, LastBlock: state.LastBlock, Duration: time.Since(started)}, nil
}

// applyRange fetches and applies one block range. It returns the number
// of newly stored trades and the timestamp of the last event in the
// range, if any.
func (r *Runner) applyRange(ctx context.Context, blockRange BlockRange) (int, *time.Time, error) {
	logs, err := r.filterLogsWithRetry(ctx, blockRange.From, blockRange.To)
	if err != nil {
		return 0, nil, fmt.Errorf("filter logs: %w", err)
	}

	var (
		trades        []model.Trade
		snapshots     []model.PriceSnapshot
		lastEventTime *time.Time
		touchedTrader = make(map[string]struct{})
		touchedMarket = make(map[uint64]struct{})
	)

	for _, log := range logs {
		event, err := r.decoder.Decode(log)
		if err != nil {
			return 0, nil, fmt.Errorf("decode log %s:%d: %w", log.TxHash.Hex(), log.Index, err)
		}
		if event == nil {
			continue
		}

		ts, err := r.blockTimestampWithRetry(ctx, log.BlockNumber)
		if err != nil {
			return 0, nil, fmt.Errorf("block timestamp %d: %w", log.BlockNumber, err)
		}
		blockTime := time.Unix(int64(ts), 0).UTC()
		lastEventTime = &blockTime

		switch ev := event.(type) {
		case market.MarketCreated:
			if err := r.applyMarketCreated(ctx, ev, log.BlockNumber, blockTime); err != nil {
				return 0, nil, err
			}

		case market.TradeExecuted:
			if err := r.store.EnsureMarket(ctx, ev.MarketID, log.BlockNumber, blockTime); err != nil {
				return 0, nil, fmt.Errorf("ensure market %d: %w", ev.MarketID, err)
			}
			trades = append(trades, buildTrade(ev, log, blockTime))
			touchedTrader[ev.Trader] = struct{}{}
			touchedMarket[ev.MarketID] = struct{}{}

			if r.cfg.SnapshotInterval > 0 && log.BlockNumber%r.cfg.SnapshotInterval == 0 {
				snapshots = append(snapshots, model.PriceSnapshot{
					MarketID:    ev.MarketID,
					ModelIdx:    ev.ModelIdx,
					Price:       ev.NewPrice.String(),
					Probability: market.ImpliedProbability(ev.NewPrice),
					BlockNumber: log.BlockNumber,
					Timestamp:   blockTime,
				})
			}

		case market.MarketSettled:
			if err := r.store.SettleMarket(ctx, ev.MarketID, ev.WinningModelIdx, blockTime); err != nil {
				return 0, nil, fmt.Errorf("settle market %d: %w", ev.MarketID, err)
			}
			// Settlement changes realized pnl for every holder in the
			// market, so all of them need a stats rebuild.
			holders, err := r.store.TradesByMarket(ctx, ev.MarketID)
			if err != nil {
				return 0, nil, fmt.Errorf("trades for market %d: %w", ev.MarketID, err)
			}
			for _, t := range holders {
				touchedTrader[t.Trader] = struct{}{}
			}
			touchedMarket[ev.MarketID] = struct{}{}
		}
	}

	inserted := 0
	if len(trades) > 0 {
		inserted, err = r.store.UpsertTrades(ctx, trades)
		if err != nil {
			return 0, nil, fmt.Errorf("store trades: %w", err)
		}
	}
	if len(snapshots) > 0 {
		if err := r.store.InsertPriceSnapshots(ctx, snapshots); err != nil {
			return 0, nil, fmt.Errorf("store price snapshots: %w", err)
		}
	}

	if r.stats != nil && (len(touchedTrader) > 0 || len(touchedMarket) > 0) {
		traders := make([]string, 0, len(touchedTrader))
		for trader := range touchedTrader {
			traders = append(traders, trader)
		}
		marketIDs := make([]uint64, 0, len(touchedMarket))
		for id := range touchedMarket {
			marketIDs = append(marketIDs, id)
		}
		if err := r.stats.RebuildTraders(ctx, traders); err != nil {
			return 0, nil, fmt.Errorf("rebuild trader stats: %w", err)
		}
		if err := r.stats.RebuildMarkets(ctx, marketIDs); err != nil {
			return 0, nil, fmt.Errorf("rebuild market aggregates: %w", err)
		}
	}

	return inserted, lastEventTime, nil
}

func (r *Runner) applyMarketCreated(ctx context.Context, ev market.MarketCreated, blockNumber uint64, blockTime time.Time) error {
	m := model.Market{
		MarketID:       ev.MarketID,
		ConfigURI:      ev.ConfigURI,
		ConfigURIHash:  ev.ConfigURIHash,
		Status:         model.MarketActive,
		CreatedAtBlock: blockNumber,
		CreatedAtTime:  blockTime,
	}

	if r.metadata != nil && ev.ConfigURI != "" {
		meta, err := r.metadata.Fetch(ctx, ev.ConfigURI)
		if err != nil {
			// Metadata lives off-chain and may be slow or gone. The
			// market row is still written; a later recompute can fill
			// the gap.
			r.logger.Warn("metadata fetch failed",
				zap.Uint64("market_id", ev.MarketID),
				zap.String("config_uri", ev.ConfigURI),
				zap.Error(err))
		} else {
			m.Title = meta.Title
			m.Description = meta.Description
			m.Category = meta.Category
			m.EndTime = meta.EndTime
			m.Models = meta.Models
		}
	}

	if err := r.store.UpsertMarket(ctx, m); err != nil {
		return fmt.Errorf("upsert market %d: %w", ev.MarketID, err)
	}
	return nil
}

// recordFailure persists the failure reason without advancing the
// cursor. The save runs on a fresh context so it still lands when the
// run was cancelled; save errors here are logged and swallowed so the
// original failure propagates.
func (r *Runner) recordFailure(state model.IndexerState, cause error) {
	msg := cause.Error()
	state.IsRunning = false
	state.LastError = &msg

	saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.store.SaveIndexerState(saveCtx, state); err != nil {
		r.logger.Warn("save indexer state after failure", zap.Error(err))
	}
}

func (r *Runner) latestBlockWithRetry(ctx context.Context) (uint64, error) {
	var head uint64
	err := withRetry(ctx, r.cfg.MaxRetries, r.cfg.RetryDelay, func(ctx context.Context) error {
		var err error
		head, err = r.source.LatestBlockNumber(ctx)
		if err != nil {
			r.logger.Warn("latest block fetch failed", zap.Error(err))
		}
		return err
	})
	return head, err
}

func (r *Runner) filterLogsWithRetry(ctx context.Context, fromBlock, toBlock uint64) ([]types.Log, error) {
	var logs []types.Log
	err := withRetry(ctx, r.cfg.MaxRetries, r.cfg.RetryDelay, func(ctx context.Context) error {
		var err error
		logs, err = r.source.FilterLogs(ctx, fromBlock, toBlock, r.cfg.Contract, r.decoder.Topic0())
		if err != nil {
			r.logger.Warn("filter logs failed", zap.Error(err),
				zap.Uint64("from", fromBlock), zap.Uint64("to", toBlock))
		}
		return err
	})
	return logs, err
}

func (r *Runner) blockTimestampWithRetry(ctx context.Context, blockNumber uint64) (uint64, error) {
	var ts uint64
	err := withRetry(ctx, r.cfg.MaxRetries, r.cfg.RetryDelay, func(ctx context.Context) error {
		var err error
		ts, err = r.source.BlockTimestamp(ctx, blockNumber)
		if err != nil {
			r.logger.Warn("block timestamp fetch failed", zap.Error(err),
				zap.Uint64("block_number", blockNumber))
		}
		return err
	})
	return ts, err
}

func buildTrade(ev market.TradeExecuted, log types.Log, blockTime time.Time) model.Trade {
	return model.Trade{
		ID:                 model.TradeID(log.TxHash.Hex(), uint64(log.Index)),
		TxHash:             log.TxHash.Hex(),
		LogIndex:           uint64(log.Index),
		BlockNumber:        log.BlockNumber,
		BlockTime:          blockTime,
		MarketID:           ev.MarketID,
		ModelIdx:           ev.ModelIdx,
		Trader:             ev.Trader,
		IsBuy:              ev.IsBuy,
		TokensDelta:        ev.TokensDelta.String(),
		SharesDelta:        ev.SharesDelta.String(),
		ModelNewPrice:      ev.NewPrice.String(),
		ModelNewSupply:     ev.NewModelSupply.String(),
		MarketNewSupply:    ev.NewMarketSupply.String(),
		ImpliedProbability: market.ImpliedProbability(ev.NewPrice),
	}
}
