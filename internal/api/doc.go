// Soilsense - Geolocated Sensor Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/soilsense

/*
Package api serves the Soilsense REST API on a chi router.

Routes:

	GET  /api/sensordata                              all locations (optional ?date=YYYY-MM-DD)
	POST /api/sensordata                              store one reading, 201 + location document
	GET  /api/sensordata/ws                           live stream of stored readings
	GET  /api/sensordata/{latitude}/{longitude}       one location (optional ?date=)
	GET  /api/sensordata/{latitude}/{longitude}/{date}
	GET  /api/v1/health, /api/v1/health/live, /api/v1/health/ready
	GET  /metrics

Data endpoints answer with the bare documents the dashboard consumes. Errors
use the envelope written by ResponseWriter:

	{"success":false,"error":{"code":"VALIDATION_FAILED","message":"..."},"meta":{...}}

Global middleware: request IDs wired into the logging context, real IP,
panic recovery and CORS (go-chi/cors). Data routes add httprate limiting,
security headers and Prometheus request metrics.
*/
package api
