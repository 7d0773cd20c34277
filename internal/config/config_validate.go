// Soilsense - Geolocated Sensor Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/soilsense

package config

import (
	"fmt"
	"strings"
	"time"
)

// Validate checks that required configuration is present and valid
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}

	if err := c.validateDatabase(); err != nil {
		return err
	}

	if err := c.validateDatahub(); err != nil {
		return err
	}

	if err := c.validateInfluxDB(); err != nil {
		return err
	}

	if err := c.validateSecurity(); err != nil {
		return err
	}

	return c.validateLogging()
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535")
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be positive")
	}
	return nil
}

// IsProduction reports whether ENVIRONMENT is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Server.Environment, "production")
}

func (c *Config) validateDatabase() error {
	switch c.Database.Driver {
	case DriverDuckDB:
		if c.Database.Path == "" {
			return fmt.Errorf("DUCKDB_PATH is required when DB_DRIVER=duckdb")
		}
		if c.Database.Threads < 0 {
			return fmt.Errorf("DUCKDB_THREADS must not be negative")
		}
	case DriverBadger:
		if c.Database.BadgerPath == "" {
			return fmt.Errorf("BADGER_PATH is required when DB_DRIVER=badger")
		}
		if c.Database.BadgerGCInterval <= 0 {
			return fmt.Errorf("BADGER_GC_INTERVAL must be positive")
		}
	default:
		return fmt.Errorf("DB_DRIVER must be one of: %s, %s", DriverDuckDB, DriverBadger)
	}
	return nil
}

// validateDatahub only applies when the feed is enabled; the API can run on its own.
func (c *Config) validateDatahub() error {
	d := c.Datahub
	if !d.Enabled {
		return nil
	}

	if err := validateWebSocketURL(d.WSURL, "DATAHUB_WS_URL"); err != nil {
		return err
	}
	if err := validateHTTPURL(d.APIURL, "DATAHUB_API_URL"); err != nil {
		return err
	}
	if d.Username == "" || d.Password == "" {
		return fmt.Errorf("DATAHUB_USERNAME and DATAHUB_PASSWORD are required when DATAHUB_ENABLED=true")
	}
	if d.NodeID == "" || d.DeviceID == "" {
		return fmt.Errorf("DATAHUB_NODE_ID and DATAHUB_DEVICE_ID are required when DATAHUB_ENABLED=true")
	}
	if len(d.Tags) == 0 {
		return fmt.Errorf("DATAHUB_TAGS must name at least one tag")
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"DATAHUB_TOKEN_TTL", d.TokenTTL},
		{"DATAHUB_RECONNECT_DELAY", d.ReconnectDelay},
		{"DATAHUB_HANDSHAKE_TIMEOUT", d.HandshakeTimeout},
		{"DATAHUB_LOGIN_TIMEOUT", d.LoginTimeout},
	}
	for _, dur := range durations {
		if dur.value <= 0 {
			return fmt.Errorf("%s must be positive", dur.name)
		}
	}
	return nil
}

func (c *Config) validateInfluxDB() error {
	i := c.InfluxDB
	if !i.Enabled {
		return nil
	}
	if err := validateHTTPURL(i.URL, "INFLUXDB_URL"); err != nil {
		return err
	}
	if i.Token == "" || i.Org == "" || i.Bucket == "" {
		return fmt.Errorf("INFLUXDB_TOKEN, INFLUXDB_ORG and INFLUXDB_BUCKET are required when INFLUXDB_ENABLED=true")
	}
	if i.WriteTimeout <= 0 {
		return fmt.Errorf("INFLUXDB_WRITE_TIMEOUT must be positive")
	}
	if i.QueueSize < 1 {
		return fmt.Errorf("INFLUXDB_QUEUE_SIZE must be at least 1")
	}
	return nil
}

// Rate limit constants
const (
	minRateLimitRequests = 1
	maxRateLimitRequests = 100000
	minRateLimitWindow   = time.Second
	maxRateLimitWindow   = time.Hour
)

func (c *Config) validateSecurity() error {
	if len(c.Security.CORSOrigins) == 0 {
		return fmt.Errorf("CORS_ORIGINS must contain at least one origin (use * to allow all)")
	}
	if c.Security.RateLimitDisabled {
		return nil
	}
	if c.Security.RateLimitReqs < minRateLimitRequests || c.Security.RateLimitReqs > maxRateLimitRequests {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be between %d and %d", minRateLimitRequests, maxRateLimitRequests)
	}
	if c.Security.RateLimitWindow < minRateLimitWindow || c.Security.RateLimitWindow > maxRateLimitWindow {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be between %v and %v", minRateLimitWindow, maxRateLimitWindow)
	}
	return nil
}

var validLogLevels = map[string]bool{
	"trace": true,
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLogFormats = map[string]bool{
	"json":    true,
	"console": true,
}

func (c *Config) validateLogging() error {
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("LOG_LEVEL must be one of: trace, debug, info, warn, error")
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, console")
	}
	return nil
}
