// Soilsense - Geolocated Sensor Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/soilsense

/*
Package websocket streams stored sensor readings to browser clients.

The Hub owns the set of connected clients and a bounded broadcast queue. The
ingestor calls PublishReading after every successful upsert; the hub fans the
message out in connection order:

	{"type":"reading","data":{"latitude":10.77,"longitude":106.70,"record":{...}}}

Each Client runs a read pump (pings, disconnect detection) and a write pump
(messages plus keepalive pings). A client whose send buffer fills up is
disconnected rather than allowed to stall the hub.

The hub runs under the supervisor as a messaging-layer service:

	hub := websocket.NewHub()
	tree.AddMessagingService(services.NewWebSocketHubService(hub))
	ingestor.SetPublisher(hub)
*/
package websocket
