package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/copytrade-orders/internal/server"
	"github.com/Sternrassler/copytrade-orders/pkg/config"
	"github.com/Sternrassler/copytrade-orders/pkg/hoststatus"
	"github.com/Sternrassler/copytrade-orders/pkg/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		log.Fatal().Err(err).Msg("orders-proxy failed")
	}
}

// run serves until ctx is cancelled, then shuts down gracefully.
func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("orders-proxy", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a YAML config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	logging.Setup(logging.FromSettings(cfg.Logging.Level, cfg.Logging.Pretty))
	logger := logging.NewLogger("main")

	tracker, closeTracker, err := openTracker(ctx, cfg.Redis.URL)
	if err != nil {
		return err
	}
	defer closeTracker()

	srv, err := server.FromConfig(cfg, tracker)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(":" + cfg.Server.Port)
	}()

	logger.Info().
		Str("port", cfg.Server.Port).
		Str("primary", cfg.Upstream.PrimaryBase).
		Bool("fallback", cfg.Upstream.ProxyBase != "").
		Bool("host_status", tracker != nil).
		Bool("api_key", cfg.Server.APIKey != "").
		Msg("Starting orders proxy")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

// openTracker connects host diagnostics when url is set. A nil tracker
// disables them.
func openTracker(ctx context.Context, url string) (*hoststatus.Tracker, func(), error) {
	if url == "" {
		return nil, func() {}, nil
	}
	rdb, err := hoststatus.Connect(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("host status: %w", err)
	}
	tracker := hoststatus.NewTracker(rdb, logging.NewLogger("hoststatus"))
	return tracker, func() {
		if err := rdb.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close Redis client")
		}
	}, nil
}
