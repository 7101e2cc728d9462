// Package main runs the streaming-payment service: the protocol engine
// behind a JSON API, a websocket event feed, Prometheus metrics, and
// persistent storage in PostgreSQL (streams, fees) and ClickHouse (event
// archive).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/CoinDrip-finance/protocol-v2/internal/certificate"
	"github.com/CoinDrip-finance/protocol-v2/internal/domain"
	"github.com/CoinDrip-finance/protocol-v2/internal/events"
	"github.com/CoinDrip-finance/protocol-v2/internal/observability"
	"github.com/CoinDrip-finance/protocol-v2/internal/payment"
	"github.com/CoinDrip-finance/protocol-v2/internal/protocol"
	"github.com/CoinDrip-finance/protocol-v2/internal/storage"
	chstore "github.com/CoinDrip-finance/protocol-v2/internal/storage/clickhouse"
	"github.com/CoinDrip-finance/protocol-v2/internal/storage/memory"
	"github.com/CoinDrip-finance/protocol-v2/internal/storage/migrations"
	pgstore "github.com/CoinDrip-finance/protocol-v2/internal/storage/postgres"
)

// allStores holds the storage implementations behind the engine.
type allStores struct {
	streamStore storage.StreamStore
	feeStore    storage.FeeStore
	eventStore  storage.EventArchiveStore
}

func main() {
	// Load .env file if exists
	loadEnvFile()

	// Parse flags (env vars as defaults)
	listenAddr := flag.String("listen-addr", envOr("LISTEN_ADDR", ":8080"), "HTTP API listen address")
	metricsAddr := flag.String("metrics-addr", envOr("METRICS_ADDR", ":9090"), "Prometheus metrics HTTP address")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL/ClickHouse")
	protocolAccount := flag.String("protocol-account", os.Getenv("PROTOCOL_ACCOUNT"), "Protocol's own account address")
	treasury := flag.String("treasury", os.Getenv("TREASURY_ACCOUNT"), "Treasury address receiving protocol fees")

	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lshortfile)

	if !*useMemory && (*postgresDSN == "" || *clickhouseDSN == "") {
		logger.Fatal("--postgres-dsn and --clickhouse-dsn are required (use --use-memory for in-memory storage)")
	}
	protocolAddr, err := domain.ParseAddress(*protocolAccount)
	if err != nil {
		logger.Fatalf("--protocol-account: %v", err)
	}
	treasuryAddr, err := domain.ParseAddress(*treasury)
	if err != nil {
		logger.Fatalf("--treasury: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stores, cleanup, err := createStores(ctx, *postgresDSN, *clickhouseDSN, *useMemory)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	// Event fan-out: persistent archive plus the live websocket feed.
	broadcaster := events.NewBroadcaster(nil, log.New(os.Stdout, "[events] ", log.LstdFlags))
	defer broadcaster.Close()
	sink := events.MultiSink{
		events.NewArchiveSink(stores.eventStore),
		broadcaster,
	}

	ledger := payment.NewMemoryLedger()
	engine := protocol.New(protocol.Config{
		Streams:         stores.streamStore,
		Fees:            stores.feeStore,
		Certificates:    certificate.NewMemoryRegistry(),
		Ledger:          ledger,
		Router:          payment.NewPassthroughRouter(ledger),
		Sink:            sink,
		ProtocolAccount: protocolAddr,
		Treasury:        treasuryAddr,
		Logger:          log.New(os.Stdout, "[protocol] ", log.LstdFlags),
	})

	api := newAPI(engine, stores.eventStore, log.New(os.Stdout, "[api] ", log.LstdFlags|log.Lshortfile))

	apiServer := &http.Server{
		Addr:         *listenAddr,
		Handler:      api.routes(broadcaster),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	// Metrics and health on a dedicated mux.
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", observability.Handler())
	metricsMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	metricsServer := &http.Server{Addr: *metricsAddr, Handler: metricsMux}

	errCh := make(chan error, 2)
	go func() {
		logger.Printf("API listening on %s", *listenAddr)
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()
	go func() {
		logger.Printf("Metrics listening on %s", *metricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
	case err := <-errCh:
		logger.Printf("Server error: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("API shutdown: %v", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("Metrics shutdown: %v", err)
	}

	logger.Println("Shutdown complete")
}

// createStores creates all required stores, running migrations for the
// database-backed pair.
func createStores(ctx context.Context, postgresDSN, clickhouseDSN string, useMemory bool) (*allStores, func(), error) {
	if useMemory {
		stores := &allStores{
			streamStore: memory.NewStreamStore(),
			feeStore:    memory.NewFeeStore(),
			eventStore:  memory.NewEventStore(),
		}
		return stores, func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, postgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("migrate postgres: %w", err)
	}

	chConn, err := migrations.RunClickhouseMigrations(ctx, clickhouseDSN)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("migrate clickhouse: %w", err)
	}

	stores := &allStores{
		streamStore: pgstore.NewStreamStore(pool),
		feeStore:    pgstore.NewFeeStore(pool),
		eventStore:  chstore.NewEventStore(chConn),
	}

	cleanup := func() {
		chConn.Close()
		pool.Close()
	}
	return stores, cleanup, nil
}

// envOr returns the environment value or a fallback when unset.
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// loadEnvFile loads environment variables from .env file if it exists.
func loadEnvFile() {
	data, err := os.ReadFile(".env")
	if err != nil {
		return // File doesn't exist, use system env vars
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Don't override existing env vars
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}
