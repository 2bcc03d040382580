package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lirashield/internal/api"
	"lirashield/internal/config"
	"lirashield/internal/logging"
	"lirashield/pkg/lirashield"
)

var getppid = os.Getppid
var sleep = time.Sleep
var exit = os.Exit

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()
	if err := run(ctx, os.Args[1:], nil); err != nil {
		slog.Error("server failed", "err", err)
		stop()
		exit(1)
	}
}

// run serves the API until ctx is cancelled. When ready is non-nil it receives the bound address.
func run(ctx context.Context, args []string, ready chan<- string) error {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	var o config.Overrides
	fs.StringVar(&o.DataDir, "data-dir", "", "Directory for storing database and application data")
	fs.StringVar(&o.DBPath, "db", "", "SQLite database path (overrides data-dir)")
	fs.StringVar(&o.ConfigPath, "config", "", "Path to the JSON user config")
	fs.StringVar(&o.Host, "host", "", "Host to bind the server to (default 127.0.0.1)")
	fs.IntVar(&o.Port, "port", 0, "Port to run the server on (default 8000)")
	fs.StringVar(&o.LogLevel, "log-level", "", "debug, info, warn or error")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(o)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, writer, err := logging.NewLogger(cfg.LogDir(), logging.Options{
		Level:         cfg.LogLevel,
		Format:        cfg.LogFormat,
		RetentionDays: cfg.LogRetentionDays,
	})
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer func() {
		if err := writer.Close(); err != nil {
			logger.Error("failed to close log writer", "err", err)
		}
	}()

	core, err := lirashield.OpenWithOptions(coreOptions(cfg, logger))
	if err != nil {
		return fmt.Errorf("initialize core: %w", err)
	}
	defer func() {
		if err := core.Close(); err != nil {
			logger.Error("failed to close core", "err", err)
		}
	}()

	if os.Getenv("LIRASHIELD_PARENT_WATCH") == "1" {
		go watchParent(logger)
	}

	handler := api.NewRouter(core, api.Options{
		Logger:    logger,
		AutoFetch: cfg.AutoFetchRates,
		RateLimit: cfg.APIRateLimit,
	})
	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	listener, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Addr(), err)
	}
	addr := listener.Addr().String()
	logger.Info("server starting", "addr", addr, "db_path", cfg.DBPath, "auto_fetch", cfg.AutoFetchRates)
	if ready != nil {
		ready <- addr
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve(listener)
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "err", err)
	}
	return nil
}

func coreOptions(cfg config.Config, logger *slog.Logger) lirashield.Options {
	return lirashield.Options{
		DBPath:             cfg.DBPath,
		Logger:             logger,
		FetchCacheTTL:      cfg.FetchCacheTTL,
		FetchRatePerSecond: cfg.FetchRatePerSecond,
		FetchBurst:         cfg.FetchBurst,
		HTTPTimeout:        cfg.HTTPTimeout,
		AI: lirashield.AISettings{
			Provider: cfg.AI.Provider,
			Model:    cfg.AI.Model,
			APIKey:   cfg.AI.APIKey,
			BaseURL:  cfg.AI.BaseURL,
		},
	}
}

func watchParent(logger *slog.Logger) {
	for {
		sleep(1 * time.Second)
		if getppid() == 1 {
			logger.Info("parent process exited; shutting down")
			exit(0)
		}
	}
}
