// Package main runs the staking ledger daemon:
// - JSON API for pools, positions and stake/claim/unstake
// - Websocket feed of committed ledger events (/ws)
// - Prometheus metrics (/metrics), health and status
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"staking-ledger/internal/api"
	"staking-ledger/internal/config"
	"staking-ledger/internal/custody"
	"staking-ledger/internal/feed"
	"staking-ledger/internal/observability"
	"staking-ledger/internal/staking"
	"staking-ledger/internal/storage"
	chstore "staking-ledger/internal/storage/clickhouse"
	"staking-ledger/internal/storage/memory"
	"staking-ledger/internal/storage/migrations"
	pgstore "staking-ledger/internal/storage/postgres"
)

// Server holds all components of the daemon.
type Server struct {
	cfg     *config.Config
	stores  *allStores
	engine  *staking.Engine
	hub     *feed.Hub
	logger  *log.Logger
	started time.Time

	mu       sync.Mutex
	draining bool
}

// allStores holds all storage implementations.
type allStores struct {
	backend string
	ledger  storage.LedgerStore
	custody custody.Ledger
	events  storage.EventStore // nil when the journal is disabled
}

func main() {
	// Load .env file if exists
	if err := config.LoadEnvFile(".env"); err != nil {
		log.Fatalf("load .env: %v", err)
	}

	// Parse flags (env vars as defaults)
	flags := config.RegisterFlags(flag.CommandLine)
	flag.Parse()

	// Setup logger
	logger := log.New(os.Stdout, "[stakingd] ", log.LstdFlags|log.Lshortfile)

	cfg, err := flags.Config()
	if err != nil {
		logger.Fatal(err)
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Create stores
	stores, cleanup, err := createStores(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	hub := feed.NewHub(feed.Options{
		Logger: log.New(os.Stdout, "[feed] ", log.LstdFlags|log.Lshortfile),
	})

	engine, err := staking.New(staking.Options{
		ProgramID: cfg.ProgramID,
		Ledger:    stores.ledger,
		Custody:   stores.custody,
		Events:    stores.events,
		Publisher: hub,
		Logger:    log.New(os.Stdout, "[engine] ", log.LstdFlags|log.Lshortfile),
	})
	if err != nil {
		logger.Fatalf("Failed to create engine: %v", err)
	}

	if cfg.PoolsFile != "" {
		seed, err := config.LoadSeed(cfg.PoolsFile)
		if err != nil {
			logger.Fatalf("Failed to load pools file: %v", err)
		}
		if err := seed.Apply(ctx, engine, stores.custody, logger); err != nil {
			logger.Fatalf("Failed to apply pools file: %v", err)
		}
		logger.Printf("Applied %d pools and %d balances from %s", len(seed.Pools), len(seed.Balances), cfg.PoolsFile)
	}

	server := &Server{
		cfg:     cfg,
		stores:  stores,
		engine:  engine,
		hub:     hub,
		logger:  logger,
		started: time.Now(),
	}

	// Channel to signal completion
	done := make(chan struct{})

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		// Wait for second signal for immediate shutdown
		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(cfg.ShutdownTimeout + 5*time.Second):
			logger.Println("Graceful shutdown timed out, forcing exit")
			os.Exit(1)
		case <-done:
			// Normal shutdown completed
		}
	}()

	err = server.Run(ctx)
	close(done)

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("Server error: %v", err)
	}

	logger.Println("Shutdown complete")
}

func createStores(ctx context.Context, cfg *config.Config, logger *log.Logger) (*allStores, func(), error) {
	if cfg.UseMemory {
		logger.Println("Using in-memory storage; state is lost on exit")
		stores := &allStores{
			backend: "memory",
			ledger:  memory.NewLedgerStore(),
			custody: memory.NewBalanceStore(),
			events:  memory.NewEventStore(),
		}
		return stores, func() {}, nil
	}

	ledgerPool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}

	applied, err := migrations.RunPostgresMigrations(ctx, ledgerPool)
	if err != nil {
		ledgerPool.Close()
		return nil, nil, fmt.Errorf("postgres migrations: %w", err)
	}
	if len(applied) > 0 {
		logger.Printf("Applied postgres migrations: %v", applied)
	}

	// Transfers run inside ledger transactions and need their own connections.
	custodyPool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		ledgerPool.Close()
		return nil, nil, fmt.Errorf("connect to postgres (custody): %w", err)
	}

	stores := &allStores{
		backend: "postgres",
		ledger:  pgstore.NewLedgerStore(ledgerPool),
		custody: pgstore.NewBalanceStore(custodyPool),
	}

	var chConn *chstore.Conn
	if cfg.ClickHouseDSN != "" {
		chConn, err = migrations.RunClickhouseMigrations(ctx, cfg.ClickHouseDSN)
		if err != nil {
			custodyPool.Close()
			ledgerPool.Close()
			return nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
		}
		stores.backend = "postgres+clickhouse"
		stores.events = chstore.NewEventStore(chConn)
	} else {
		logger.Println("No --clickhouse-dsn; event journal disabled")
	}

	cleanup := func() {
		if chConn != nil {
			chConn.Close()
		}
		custodyPool.Close()
		ledgerPool.Close()
	}

	return stores, cleanup, nil
}

// Run serves HTTP until ctx is cancelled, then drains connections.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()

	apiServer, err := api.New(api.Options{
		Engine: s.engine,
		Events: s.stores.events,
		Logger: log.New(os.Stdout, "[api] ", log.LstdFlags|log.Lshortfile),
	})
	if err != nil {
		return err
	}
	apiServer.Register(mux)

	mux.Handle("GET /ws", s.hub)
	mux.Handle("GET /metrics", observability.Handler())
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)

	httpServer := &http.Server{
		Addr:              s.cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Printf("Starting HTTP server on %s (storage: %s)", s.cfg.HTTPAddr, s.stores.backend)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.mu.Lock()
	s.draining = true
	s.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	// Hijacked websocket connections are not tracked by Shutdown.
	s.hub.Close()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return ctx.Err()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	draining := s.draining
	s.mu.Unlock()

	if draining {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("draining"))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Status      string    `json:"status"`
	Uptime      string    `json:"uptime"`
	Started     time.Time `json:"started"`
	Storage     string    `json:"storage"`
	Journal     bool      `json:"journal"`
	ProgramID   string    `json:"program_id"`
	Pools       int       `json:"pools"`
	FeedClients int       `json:"feed_clients"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	pools, err := s.engine.ListPools(r.Context())
	if err != nil {
		s.logger.Printf("ERROR status: %v", err)
		http.Error(w, "ledger unavailable", http.StatusServiceUnavailable)
		return
	}

	resp := StatusResponse{
		Status:      "running",
		Uptime:      time.Since(s.started).Round(time.Second).String(),
		Started:     s.started,
		Storage:     s.stores.backend,
		Journal:     s.stores.events != nil,
		ProgramID:   s.cfg.ProgramID.String(),
		Pools:       len(pools),
		FeedClients: s.hub.Clients(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
