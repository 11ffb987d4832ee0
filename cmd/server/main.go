package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/coviewhq/coview/internal/api"
	"github.com/coviewhq/coview/internal/app"
	"github.com/coviewhq/coview/internal/collab"
	"github.com/coviewhq/coview/internal/realtime"
	"github.com/coviewhq/coview/internal/relay"
	"github.com/coviewhq/coview/pkg/logger"
)

const shutdownTimeout = 15 * time.Second

// forwarder is the executor shape the server wires into the router.
type forwarder interface {
	Forward(action string, data json.RawMessage)
	Close() error
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("coview-server", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	var configPath string
	fs.StringVar(&configPath, "config", "", "Path to configuration directory or file")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadApplicationConfig(configPath)
	if err != nil {
		return err
	}

	if err := app.ConfigureLogging(cfg.Server.LogLevel); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer logger.Sync() // best effort

	log := logger.WithComponent("bootstrap")

	fwd, err := buildForwarder(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := fwd.Close(); closeErr != nil {
			log.Warn("relay close failed", zap.Error(closeErr))
		}
	}()

	store := collab.NewStore(collab.WithDefaultMaxParticipants(cfg.Collab.MaxParticipants))
	registry := collab.NewRegistry()
	cursorLimiter := collab.NewSlidingWindowLimiter(cfg.Collab.CursorRateWindow, cfg.Collab.CursorRateLimit)
	commandLimiter := collab.NewSlidingWindowLimiter(cfg.Collab.CommandRateWindow, cfg.Collab.CommandRateLimit)

	coordinator := collab.NewRouter(store, registry, cursorLimiter, commandLimiter, fwd)
	hub := realtime.NewHub(coordinator)

	reaper := collab.NewReaper(store,
		[]*collab.SlidingWindowLimiter{cursorLimiter, commandLimiter},
		collab.WithReaperInterval(cfg.Collab.ReaperInterval),
		collab.WithInactivityThreshold(cfg.Collab.InactivityThreshold),
	)
	if err := reaper.Start(); err != nil {
		return fmt.Errorf("start reaper: %w", err)
	}
	defer reaper.Stop()

	router, err := api.NewRouter(hub, store)
	if err != nil {
		return fmt.Errorf("build api router: %w", err)
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs error
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errs = multierr.Append(errs, fmt.Errorf("graceful shutdown: %w", err))
	}

	if err, ok := <-serverErr; ok && err != nil {
		errs = multierr.Append(errs, fmt.Errorf("server error: %w", err))
	}

	if errs != nil {
		return errs
	}

	log.Info("server stopped gracefully")
	return nil
}

func buildForwarder(cfg *app.Config) (forwarder, error) {
	if !cfg.Relay.Playwright.Enabled {
		return relay.NewLogForwarder(), nil
	}

	executor, err := relay.NewPlaywrightExecutor(relay.PlaywrightOptions{
		Headless: cfg.Relay.Playwright.Headless,
		Timeout:  cfg.Relay.Playwright.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("initialise playwright relay: %w", err)
	}
	return executor, nil
}

func loadApplicationConfig(path string) (*app.Config, error) {
	switch {
	case strings.TrimSpace(path) == "":
		return app.LoadConfig()
	default:
		info, err := os.Stat(path)
		if err == nil {
			if info.IsDir() {
				return app.LoadConfig(path)
			}
			return app.LoadConfig(filepath.Dir(path))
		}
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config path %q does not exist", path)
		}
		return nil, fmt.Errorf("stat config path: %w", err)
	}
}
