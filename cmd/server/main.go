// Package main runs the token battle service: the price feed client,
// the match engine, and the Prometheus endpoint, backed by PostgreSQL
// and ClickHouse (or in-memory stores for development).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"token-battles/internal/config"
	"token-battles/internal/engine"
	"token-battles/internal/feed"
	"token-battles/internal/observability"
	"token-battles/internal/storage"
	chstore "token-battles/internal/storage/clickhouse"
	"token-battles/internal/storage/memory"
	"token-battles/internal/storage/migrations"
	pgstore "token-battles/internal/storage/postgres"
)

// battleStores holds all storage implementations.
type battleStores struct {
	matchStore  storage.MatchStore
	sampleStore storage.ScoreSampleStore
	tickStore   storage.TickHistoryStore
}

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "Path to YAML config file (optional)")
	feedEndpoint := flag.String("feed-endpoint", "", "WebSocket market-data endpoint (overrides config)")
	postgresDSN := flag.String("postgres-dsn", "", "PostgreSQL connection string (overrides config)")
	clickhouseDSN := flag.String("clickhouse-dsn", "", "ClickHouse connection string (overrides config)")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL/ClickHouse")
	metricsAddr := flag.String("metrics-addr", "", "Prometheus metrics HTTP address (overrides config)")

	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lshortfile)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	if *feedEndpoint != "" {
		cfg.Feed.Endpoint = *feedEndpoint
	}
	if *postgresDSN != "" {
		cfg.Storage.PostgresDSN = *postgresDSN
	}
	if *clickhouseDSN != "" {
		cfg.Storage.ClickhouseDSN = *clickhouseDSN
	}
	if *useMemory {
		cfg.Storage.UseMemory = true
	}
	if *metricsAddr != "" {
		cfg.Metrics.Addr = *metricsAddr
	}

	ctx, cancel := context.WithCancel(context.Background())

	metrics := observability.NewMetrics("")

	stores, cleanup, err := createStores(ctx, cfg, metrics)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	feedClient := feed.NewClient(feed.ClientConfig{
		Endpoint:          cfg.Feed.Endpoint,
		ReconnectDelay:    time.Duration(cfg.Feed.ReconnectDelayMs) * time.Millisecond,
		MaxReconnectDelay: time.Duration(cfg.Feed.MaxReconnectDelayMs) * time.Millisecond,
		PingInterval:      time.Duration(cfg.Feed.PingIntervalSec) * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		HandshakeTimeout:  10 * time.Second,
		EventBuffer:       cfg.Feed.EventBuffer,
	})

	eng, err := engine.New(engine.Options{
		MatchStore:        stores.matchStore,
		SampleStore:       stores.sampleStore,
		TickStore:         stores.tickStore,
		Feed:              feedClient,
		Policy:            cfg.Settlement,
		Metrics:           metrics,
		Logger:            log.New(os.Stdout, "[engine] ", log.LstdFlags),
		SampleInterval:    cfg.SampleInterval(),
		CheckInterval:     cfg.CheckInterval(),
		ReadinessTimeout:  cfg.ReadinessTimeout(),
		TickFlushSize:     cfg.Engine.TickFlushSize,
		TickFlushInterval: cfg.TickFlushInterval(),
	})
	if err != nil {
		logger.Fatalf("Failed to create engine: %v", err)
	}

	// Matches left in progress by a previous run cannot be resumed;
	// cancel them before accepting new work.
	if err := eng.Recover(ctx); err != nil {
		logger.Fatalf("Recovery failed: %v", err)
	}

	if cfg.Metrics.Addr != "" {
		go startMetricsServer(logger, cfg.Metrics.Addr)
	}

	eng.Start(ctx)
	logger.Printf("Engine started: feed=%s memory=%v", cfg.Feed.Endpoint, cfg.Storage.UseMemory)

	// Feed subscriber stats on a slow cadence.
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := feedClient.Stats()
				metrics.SubscribedSymbols.Set(float64(stats.SubscribedSymbols))
				logger.Printf("feed: %d subscribed, %d connected, %d ticks, %d malformed, %d reconnects",
					stats.SubscribedSymbols, stats.ConnectedSymbols, stats.TicksDelivered,
					stats.MalformedDropped, stats.Reconnects)
			}
		}
	}()

	// Drain lifecycle events so the log carries a record of every
	// match outcome.
	go func() {
		for ev := range eng.Events() {
			if ev.Result != nil {
				logger.Printf("match %s %s: result=%s shares=(%.2f, %.2f)",
					ev.MatchID, ev.Type, ev.Result.Result, ev.Result.WinnerShare, ev.Result.LoserShare)
				continue
			}
			logger.Printf("match %s %s", ev.MatchID, ev.Type)
		}
	}()
	go func() {
		for range eng.ScoreUpdates() {
			// Consumed by an API layer in a full deployment; drained
			// here so the engine never observes a stuck stream.
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
	cancel()

	done := make(chan struct{})
	go func() {
		eng.Close()
		feedClient.Close()
		close(done)
	}()
	select {
	case <-done:
	case sig := <-sigCh:
		logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
		os.Exit(1)
	case <-time.After(30 * time.Second):
		logger.Println("Graceful shutdown timed out after 30s, forcing exit")
		os.Exit(1)
	}

	logger.Println("Shutdown complete")
}

// createStores creates all required stores, running migrations for the
// SQL-backed ones and hooking query metrics into each connection.
func createStores(ctx context.Context, cfg *config.Config, metrics *observability.Metrics) (*battleStores, func(), error) {
	if cfg.Storage.UseMemory {
		stores := &battleStores{
			matchStore:  memory.NewMatchStore(),
			sampleStore: memory.NewScoreSampleStore(),
			tickStore:   memory.NewTickHistoryStore(),
		}
		return stores, func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	pool.Observer = func(operation string, seconds float64, err error) {
		metrics.RecordDBQuery("postgres", operation, seconds, err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres migrations: %w", err)
	}

	chConn, err := migrations.RunClickhouseMigrations(ctx, cfg.Storage.ClickhouseDSN)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
	}
	chConn.Observer = func(operation string, seconds float64, err error) {
		metrics.RecordDBQuery("clickhouse", operation, seconds, err)
	}

	stores := &battleStores{
		matchStore:  pgstore.NewMatchStore(pool),
		sampleStore: pgstore.NewScoreSampleStore(pool),
		tickStore:   chstore.NewTickHistoryStore(chConn),
	}
	cleanup := func() {
		pool.Close()
		chConn.Close()
	}
	return stores, cleanup, nil
}

func startMetricsServer(logger *log.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	logger.Printf("Starting metrics server on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		logger.Printf("Metrics server error: %v", err)
	}
}
