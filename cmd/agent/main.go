package main

import (
	"context"
	"encoding/hex"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"authcore/internal/connectivity"
	"authcore/internal/coordinator"
	"authcore/internal/errclass"
	"authcore/internal/metrics"
	"authcore/internal/platform/config"
	"authcore/internal/platform/logger"
	"authcore/internal/provider"
	"authcore/internal/tokenstore"
	httptransport "authcore/internal/transport/http"
)

// main wires high-level dependencies, exposes the control endpoints, and
// keeps the agent lifecycle small. Lifecycle logic lives in the internal
// packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	log.Info("initializing authcore agent",
		"addr", cfg.Addr,
		"provider_url", cfg.ProviderBaseURL,
	)

	registry := prometheus.NewRegistry()
	collectors := metrics.New(registry)

	store := buildStore(cfg, log)
	credentials := provider.NewHTTPClient(cfg.ProviderBaseURL)
	prober := connectivity.NewProber(cfg.ProbeURL, connectivity.WithProbeLogger(log))

	coord, err := coordinator.New(coordinator.Deps{
		Provider: credentials,
		Store:    store,
		Observer: prober,
	},
		coordinator.WithLogger(log),
		coordinator.WithMetrics(collectors),
		coordinator.WithConfig(coordinator.Config{
			Language:             errclass.Language(cfg.Language),
			SessionTimeout:       cfg.SessionTimeout,
			WarningThreshold:     cfg.WarningThreshold,
			RefreshInterval:      cfg.RefreshInterval,
			RefreshThreshold:     cfg.RefreshThreshold,
			OfflineMode:          cfg.OfflineMode,
			OfflineTokenValidity: cfg.OfflineTokenValidity,
		}),
	)
	if err != nil {
		log.Error("coordinator init failed", "error", err)
		os.Exit(1)
	}

	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	if err := coord.Start(runCtx); err != nil {
		log.Error("coordinator start failed", "error", err)
		os.Exit(1)
	}

	if _, err := coord.RestoreSession(runCtx); err != nil {
		log.Info("no session restored", "reason", err.Error())
	}

	handler := httptransport.NewHandler(coord, log)
	router := httptransport.NewRouter(handler, registry, log)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Info("starting control server", "addr", cfg.Addr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown on SIGINT
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	log.Info("shutting down agent gracefully")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
	coord.Stop()

	log.Info("agent stopped")
}

// buildStore prefers the encrypted file store; without a key it falls back
// to memory, which loses tokens on restart.
func buildStore(cfg config.Agent, log *slog.Logger) tokenstore.Store {
	rawKey := os.Getenv("AUTHCORE_STORE_KEY")
	if rawKey == "" {
		log.Warn("AUTHCORE_STORE_KEY not set, using in-memory token store")
		return tokenstore.NewInMemoryStore()
	}
	decoded, err := hex.DecodeString(rawKey)
	if err != nil || len(decoded) != 32 {
		log.Warn("AUTHCORE_STORE_KEY must be 32 hex-encoded bytes, using in-memory token store")
		return tokenstore.NewInMemoryStore()
	}
	var key [32]byte
	copy(key[:], decoded)
	return tokenstore.NewFileStore(cfg.TokenPath, key)
}
