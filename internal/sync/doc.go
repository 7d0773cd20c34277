// Soilsense - Geolocated Sensor Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/soilsense

/*
Package sync ingests the WISE-PaaS DataHub real-time feed into the location
store.

Pipeline:

 1. LoginClient exchanges configured credentials for a session token (resty).
 2. CircuitBreakerAuthenticator stops hammering the datahub after repeated
    rejected logins (gobreaker).
 3. TokenCache reuses the token until it is older than the TTL.
 4. FeedSubscriber dials the RealData WebSocket, subscribes to every
    configured tag of one device and hands each frame to the Ingestor.
    Any failure returns it to DISCONNECTED and it retries after a fixed delay.
 5. Ingestor decodes {"message":[...]}, groups readings by timestamp with
    Aggregate, drops records without both coordinates and upserts the rest
    oldest first.
 6. Every stored record is published to live subscribers and, when enabled,
    mirrored to InfluxDB.

Readings are grouped by their timestamp normalized to UTC milliseconds, so
"2025-11-04T15:30:00+07:00" and 1762245000000 describe the same record.

Frames are processed one at a time on the feed's read goroutine; a slow store
slows the feed rather than reordering records.
*/
package sync
