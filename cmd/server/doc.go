// Soilsense - Geolocated Sensor Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/soilsense

/*
Command server runs Soilsense.

Soilsense subscribes to a WISE-PaaS DataHub real-time feed, groups the
readings of each frame by timestamp into sensor records, and appends each
record to the location whose coordinates it carries. Stored locations are
served over a small REST API, and every stored record is pushed to live
WebSocket subscribers.

# Process tree

	soilsense
	├── data-layer
	│   └── store-gc          Badger value-log GC (database.driver=badger)
	├── messaging-layer
	│   ├── websocket-hub     live reading broadcast
	│   ├── influx-mirror     queued InfluxDB writes (influxdb.enabled)
	│   └── datahub-feed      upstream subscriber (datahub.enabled)
	└── api-layer
	    └── http-server

# Configuration

Settings come from built-in defaults, an optional config.yaml (CONFIG_PATH),
a .env file and environment variables, highest priority last. The datahub
credentials have no defaults:

	export DATAHUB_ENABLED=true
	export DATAHUB_API_URL=https://portal-datahub.example.com/api/v1
	export DATAHUB_WS_URL=wss://portal-datahub.example.com/api/v1/RealData/ws
	export DATAHUB_USERNAME=...
	export DATAHUB_PASSWORD=...
	export DATAHUB_NODE_ID=...
	export DATAHUB_DEVICE_ID=...
	./soilsense

Select the embedded Badger store instead of DuckDB with DB_DRIVER=badger.

# Signals

SIGINT and SIGTERM cancel the tree. The HTTP server drains for up to ten
seconds, the feed connection is closed, and the store is closed last.
*/
package main
