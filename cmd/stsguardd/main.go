package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/httpsfirst/stsguard/internal/sts/common/clock"
	"github.com/httpsfirst/stsguard/internal/sts/common/log"
	"github.com/httpsfirst/stsguard/internal/sts/gateways/httpctl"
	"github.com/httpsfirst/stsguard/internal/sts/infra/config"
	"github.com/httpsfirst/stsguard/internal/sts/repos/policystore"
	"github.com/httpsfirst/stsguard/internal/sts/repos/secbackend"
	"github.com/httpsfirst/stsguard/internal/sts/services/engine"
)

const (
	version = "0.1.0-dev"
	appName = "stsguardd"
)

// Application holds all the components of the enforcement daemon.
type Application struct {
	config  *config.AppConfig
	store   *policystore.Store
	engine  *engine.Engine
	control *httpctl.Server
}

func main() {
	// Load configuration from environment
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	// Configure global logging
	err = log.Configure(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Logging configuration error: %v\n", err)
		os.Exit(1)
	}

	log.Info(map[string]any{
		"version":    version,
		"env":        cfg.Env,
		"log_level":  cfg.LogLevel,
		"port":       cfg.Port,
		"db_path":    cfg.DBPath,
		"cache_size": cfg.BackendCacheSize,
		"max_age":    cfg.MaxAge,
	}, "Starting stsguard enforcement daemon")

	app, err := buildApplication(cfg)
	if err != nil {
		log.Fatal(map[string]any{"error": err}, "Failed to build application")
	}

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Info(map[string]any{"signal": sig.String()}, "Shutdown signal received")
		cancel()
	}()

	if err := app.Run(ctx); err != nil {
		log.Fatal(map[string]any{"error": err}, "Daemon failed")
	}

	log.Info(nil, "stsguard stopped gracefully")
}

// buildApplication constructs all components and wires them together.
func buildApplication(cfg *config.AppConfig) (*Application, error) {
	logger := log.GetLogger()
	clk := clock.RealClock{}

	store, err := policystore.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open policy store: %w", err)
	}

	cacheSize := cfg.BackendCacheSize
	if cacheSize > uint(^uint(0)>>1) {
		_ = store.Close()
		return nil, fmt.Errorf("backend cache size too large: %d", cacheSize)
	}
	backend, err := secbackend.New(int(cacheSize), clk)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to create security backend: %w", err)
	}

	eng := engine.New(engine.Options{
		Store:   store,
		Backend: backend,
		Logger:  logger,
		MaxAge:  cfg.MaxAge,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	control := httpctl.New(addr, eng, backend, logger)

	log.Info(map[string]any{
		"address": addr,
		"entries": store.Len(),
	}, "Enforcement engine configured")

	return &Application{
		config:  cfg,
		store:   store,
		engine:  eng,
		control: control,
	}, nil
}

// Run seeds the backend from the store, then serves the control API until
// the context is cancelled.
func (app *Application) Run(ctx context.Context) error {
	defer func() {
		if err := app.store.Close(); err != nil {
			log.Warn(map[string]any{"error": err.Error()}, "Error closing policy store")
		}
	}()

	// The backend's enforcement caches do not survive restarts, so replay
	// every user declaration before accepting traffic.
	if err := app.engine.EnsureSTS(); err != nil {
		return fmt.Errorf("failed to replay policy store: %w", err)
	}

	if err := app.control.Start(ctx); err != nil {
		return fmt.Errorf("failed to start control server: %w", err)
	}

	<-ctx.Done()

	log.Info(nil, "Shutdown initiated")

	if err := app.control.Stop(); err != nil {
		log.Warn(map[string]any{"error": err.Error()}, "Error during control server shutdown")
	}
	return nil
}
