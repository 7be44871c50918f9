// Package server exposes the indexed data over HTTP and hosts the cron
// endpoint that drives the indexer.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"delphiscope/internal/accounting"
	"delphiscope/internal/indexer"
	"delphiscope/internal/storage"
)

// IndexRunner triggers one indexing pass. *indexer.Runner satisfies it.
type IndexRunner interface {
	Run(ctx context.Context) (indexer.Result, error)
}

// Config holds the server's runtime settings.
type Config struct {
	Addr       string
	CronSecret string
	CacheTTL   time.Duration
}

// Server serves the REST API over the store.
type Server struct {
	cfg    Config
	store  storage.Store
	runner IndexRunner
	valuer *accounting.TieredValuer
	cache  *Cache
	router *mux.Router
	logger *zap.Logger
}

// NewServer builds the server and its routes. runner and valuer may be
// nil; without a runner the cron endpoint reports failure, and without
// a valuer open positions are not valued.
func NewServer(cfg Config, store storage.Store, runner IndexRunner, valuer *accounting.TieredValuer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	s := &Server{
		cfg:    cfg,
		store:  store,
		runner: runner,
		valuer: valuer,
		cache:  NewCache(ttl),
		router: mux.NewRouter(),
		logger: logger,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/api/cron", s.handleCron).Methods("GET", "POST")
	s.router.HandleFunc("/api/stats", s.handleStats).Methods("GET")
	s.router.HandleFunc("/api/leaderboard", s.handleLeaderboard).Methods("GET")
	s.router.HandleFunc("/api/markets", s.handleMarkets).Methods("GET")
	s.router.HandleFunc("/api/markets/{marketId}", s.handleMarket).Methods("GET")
	s.router.HandleFunc("/api/address/{address}/stats", s.handleAddressStats).Methods("GET")
	s.router.HandleFunc("/api/address/{address}/pnl", s.handleAddressPnl).Methods("GET")
	s.router.HandleFunc("/api/address/{address}/trades", s.handleAddressTrades).Methods("GET")
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// InvalidateCache drops all cached responses. Called when new trades
// land outside the request path.
func (s *Server) InvalidateCache() {
	s.cache.Invalidate()
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", s.cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
