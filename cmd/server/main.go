// Kinograph - Personalized Film Discovery and Taste Profiling
// Copyright 2026 Kinograph Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kinograph/kinograph

// Command server runs the Kinograph recommendation service: the HTTP
// API, the feedback event bus, and the store maintenance loop, all
// under a suture supervision tree.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kinograph/kinograph/internal/api"
	"github.com/kinograph/kinograph/internal/config"
	"github.com/kinograph/kinograph/internal/discovery"
	"github.com/kinograph/kinograph/internal/events"
	"github.com/kinograph/kinograph/internal/logging"
	"github.com/kinograph/kinograph/internal/store"
	"github.com/kinograph/kinograph/internal/supervisor"
	"github.com/kinograph/kinograph/internal/supervisor/services"
	"github.com/kinograph/kinograph/internal/taste"
	"github.com/kinograph/kinograph/internal/taste/reranking"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("kinograph", version)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("configuration load failed")
	}

	logging.Init(cfg.Logging)
	logging.Info().Str("version", version).Msg("kinograph starting")

	db, err := store.Open(store.Options{
		Path:     cfg.Store.Path,
		InMemory: cfg.Store.InMemory,
	}, logging.Logger())
	if err != nil {
		logging.Fatal().Err(err).Str("path", cfg.Store.Path).Msg("store open failed")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("store close failed")
		}
	}()

	catalog := discovery.NewClient(cfg.Catalog, logging.Logger())

	engine, err := taste.NewEngine(&cfg.Taste, taste.EngineDeps{
		History:   db,
		Discovery: catalog,
		Store:     db,
		Reranker:  reranking.NewMMR(cfg.Taste.Diversity.Lambda),
		Logger:    logging.Logger(),
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("engine construction failed")
	}

	bus, err := events.NewBus(cfg.Events, logging.Logger())
	if err != nil {
		logging.Fatal().Err(err).Msg("event bus construction failed")
	}
	bus.RegisterApplier(engine)

	busReady := func() bool {
		select {
		case <-bus.Running():
			return true
		default:
			return false
		}
	}

	handler := api.NewHandler(engine, db, bus, busReady, logging.Logger())
	router := api.NewRouter(cfg.Server, handler, logging.Logger())

	server := &http.Server{
		Addr:              router.ListenAddr(),
		Handler:           router.Setup(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddMessagingService(services.NewBusService(bus))
	tree.AddMessagingService(services.NewGCService(db, 10*time.Minute, logging.Logger()))
	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("shutdown signal received")
		cancel()
	}()

	logging.Info().Str("addr", server.Addr).Msg("starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("supervisor tree error during shutdown")
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("supervisor tree error")
		}
		cancel()
	}

	if unstopped, err := tree.UnstoppedServiceReport(); err == nil && len(unstopped) > 0 {
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("service failed to stop within timeout")
		}
	}

	logging.Info().Msg("kinograph stopped")
}
