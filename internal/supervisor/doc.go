// Soilsense - Geolocated Sensor Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/soilsense

/*
Package supervisor runs Soilsense's long-lived components under suture v4.

# Tree

	soilsense
	├── data-layer
	│   └── store-gc          (Badger driver only)
	├── messaging-layer
	│   ├── websocket-hub
	│   ├── influx-mirror     (when influxdb.enabled)
	│   └── datahub-feed      (when datahub.enabled)
	└── api-layer
	    └── http-server

Each layer counts failures independently, so a datahub outage that keeps the
feed subscriber restarting never backs off the HTTP server.

# Usage

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
	    return err
	}
	tree.AddMessagingService(services.NewWebSocketHubService(hub))
	tree.AddMessagingService(feed)
	tree.AddAPIService(services.NewHTTPServerService(srv, cfg.Server.Addr(), 10*time.Second))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	err = tree.Serve(ctx)

# Service contract

A service returns ctx.Err() when asked to stop and a non-nil error when it
crashed. Returning nil means "done, do not restart".

The location store itself is not supervised. DuckDB and Badger are embedded
libraries opened once in main and closed after the tree returns.
*/
package supervisor
