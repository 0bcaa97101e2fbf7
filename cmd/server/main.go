/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the banking ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present), then config (file + LEDGER_* env)
  2. Build the zap logger
  3. Open the store (sqlite, postgres or memory)
  4. Build gate, engine, books and event publisher
  5. Optionally load the demo scenarios
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Path to a YAML config file (optional)
  -port    HTTP server port, overrides server.port
  -seed    Open demo accounts and replay the demo scenarios

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close publisher and database
  4. Exit

EXAMPLES:
  LEDGER_AUTH_JWT_SECRET=dev ./server -seed
  LEDGER_STORE_DRIVER=postgres LEDGER_STORE_DSN=postgres://... ./server
  ./server -config=./configs/ledger.yaml

SEE ALSO:
  - config/config.go: Keys and defaults
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/warp/banking-ledger/api"
	"github.com/warp/banking-ledger/config"
	"github.com/warp/banking-ledger/events"
	"github.com/warp/banking-ledger/events/kafka"
	"github.com/warp/banking-ledger/ledger"
	"github.com/warp/banking-ledger/ledger/store"
	"github.com/warp/banking-ledger/logging"
	"github.com/warp/banking-ledger/store/postgres"
	"github.com/warp/banking-ledger/store/sqlite"
)

func main() {
	// Flags
	configPath := flag.String("config", "", "YAML config file")
	port := flag.Int("port", 0, "HTTP server port (overrides server.port)")
	seed := flag.Bool("seed", false, "Load demo accounts and scenarios")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, *seed, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg config.Config, seed bool, logger *zap.Logger) error {
	ctx := context.Background()

	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	gate, err := cfg.PolicyTable()
	if err != nil {
		return err
	}
	engine := ledger.NewEngine(st, gate,
		ledger.WithLogger(logger.Named("engine")),
		ledger.WithRetry(cfg.Ledger.MaxAttempts, cfg.Ledger.Backoff))
	books := ledger.NewBooks(st, gate)

	var publisher events.Publisher = events.Nop{}
	if len(cfg.Events.Brokers) > 0 {
		publisher = kafka.NewPublisher(cfg.Events.Brokers, cfg.Events.Topic)
		logger.Info("publishing events to kafka",
			zap.Strings("brokers", cfg.Events.Brokers),
			zap.String("topic", cfg.Events.Topic))
	}
	defer publisher.Close()

	if seed {
		if _, err := api.LoadDemo(ctx, engine, books, logger.Named("demo")); err != nil {
			return fmt.Errorf("failed to load demo: %w", err)
		}
	}

	handler := api.NewHandler(engine, books, publisher, logger.Named("api"))
	auth := api.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.Audience, logger.Named("auth"))
	router := api.NewRouter(handler, auth, nil)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening",
			zap.String("addr", server.Addr),
			zap.String("store", cfg.Store.Driver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	}

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

// openStore returns the configured store and its close function.
func openStore(ctx context.Context, cfg config.Config) (ledger.Store, func() error, error) {
	switch cfg.Store.Driver {
	case "memory":
		return store.NewMemory(), func() error { return nil }, nil

	case "postgres":
		pg, err := postgres.New(ctx, cfg.Store.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize postgres: %w", err)
		}
		return pg, pg.Close, nil

	default:
		if cfg.Store.DSN != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.Store.DSN), 0o755); err != nil {
				return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
			}
		}
		lite, err := sqlite.New(cfg.Store.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize sqlite: %w", err)
		}
		return lite, lite.Close, nil
	}
}
