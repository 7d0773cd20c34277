// Soilsense - Geolocated Sensor Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/soilsense

package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/soilsense/internal/api"
	"github.com/tomtom215/soilsense/internal/config"
	"github.com/tomtom215/soilsense/internal/logging"
	"github.com/tomtom215/soilsense/internal/supervisor"
	"github.com/tomtom215/soilsense/internal/supervisor/services"
	"github.com/tomtom215/soilsense/internal/sync"
	ws "github.com/tomtom215/soilsense/internal/websocket"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("driver", cfg.Database.Driver).
		Bool("datahub_enabled", cfg.Datahub.Enabled).
		Bool("influxdb_enabled", cfg.InfluxDB.Enabled).
		Str("addr", cfg.Server.Addr()).
		Msg("Starting Soilsense")

	if err := run(cfg); err != nil {
		logging.Fatal().Err(err).Msg("Soilsense stopped with error")
	}
	logging.Info().Msg("Application stopped gracefully")
}

func run(cfg *config.Config) error {
	store, gc, err := openStore(&cfg.Database)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing location store")
		}
	}()
	logging.Info().Str("driver", cfg.Database.Driver).Msg("Location store opened")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		FailureThreshold: 5,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  shutdownTimeout,
	})
	if err != nil {
		return err
	}

	if gc != nil {
		tree.AddDataService(services.NewStoreGCService(gc, cfg.Database.BadgerGCInterval))
	}

	hub := ws.NewHub()
	tree.AddMessagingService(services.NewWebSocketHubService(hub))

	ingestor := sync.NewIngestor(store)
	ingestor.SetPublisher(hub)

	if cfg.InfluxDB.Enabled {
		mirror := sync.NewInfluxMirror(&cfg.InfluxDB)
		defer mirror.Close()
		if err := mirror.Health(ctx); err != nil {
			logging.Warn().Err(err).Msg("InfluxDB mirror not reachable, failed writes will be dropped")
		}
		tree.AddMessagingService(services.NewRunnerService("influx-mirror", mirror))
		ingestor.SetMirror(mirror)
	}

	// A typed-nil *FeedSubscriber would make the health check report a
	// disabled feed as present.
	var feedMonitor api.FeedMonitor
	if cfg.Datahub.Enabled {
		auth := sync.NewCircuitBreakerAuthenticator(sync.NewLoginClient(&cfg.Datahub), sync.DefaultBreakerSettings())
		tokens := sync.NewTokenCache(auth, cfg.Datahub.TokenTTL)
		feed := sync.NewFeedSubscriber(&cfg.Datahub, tokens, ingestor.HandleFrame)
		tree.AddMessagingService(feed)
		feedMonitor = feed
	} else {
		logging.Info().Msg("Datahub feed disabled, serving stored data only")
	}

	handler := api.NewHandler(store, hub, feedMonitor, cfg)
	router := api.NewRouter(handler, api.ChiMiddlewareConfigFromSecurity(cfg.Security))

	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router.SetupChi(),
		ReadTimeout:       cfg.Server.Timeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.Timeout,
		IdleTimeout:       60 * time.Second,
	}
	tree.AddAPIService(services.NewHTTPServerService(server, server.Addr, shutdownTimeout))

	logging.Info().Msg("Starting supervisor tree")
	err = <-tree.ServeBackground(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervisor tree error")
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	if ctx.Err() == nil {
		// The tree stopped without a signal.
		return err
	}
	return nil
}
