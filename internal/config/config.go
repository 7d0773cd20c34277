// Soilsense - Geolocated Sensor Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/soilsense

// Package config loads Soilsense configuration from defaults, an optional YAML
// file, a .env file and environment variables, then validates the result.
package config

import (
	"net"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Datahub  DatahubConfig  `koanf:"datahub"`
	InfluxDB InfluxDBConfig `koanf:"influxdb"`
	Security SecurityConfig `koanf:"security"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port        int           `koanf:"port"`
	Host        string        `koanf:"host"`
	Timeout     time.Duration `koanf:"timeout"`
	Environment string        `koanf:"environment"` // development, staging, production
}

// Storage backends accepted by DatabaseConfig.Driver.
const (
	DriverDuckDB = "duckdb"
	DriverBadger = "badger"
)

// DatabaseConfig selects and tunes the location store.
type DatabaseConfig struct {
	Driver    string `koanf:"driver"`
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads"` // 0 = use NumCPU

	BadgerPath       string        `koanf:"badger_path"`
	BadgerSyncWrites bool          `koanf:"badger_sync_writes"`
	BadgerGCInterval time.Duration `koanf:"badger_gc_interval"`
}

// DatahubConfig describes the upstream WISE-PaaS DataHub feed.
type DatahubConfig struct {
	Enabled          bool          `koanf:"enabled"`
	WSURL            string        `koanf:"ws_url"`
	APIURL           string        `koanf:"api_url"`
	Username         string        `koanf:"username"`
	Password         string        `koanf:"password"`
	NodeID           string        `koanf:"node_id"`
	DeviceID         string        `koanf:"device_id"`
	Tags             []string      `koanf:"tags"`
	TokenTTL         time.Duration `koanf:"token_ttl"`
	ReconnectDelay   time.Duration `koanf:"reconnect_delay"`
	HandshakeTimeout time.Duration `koanf:"handshake_timeout"`
	LoginTimeout     time.Duration `koanf:"login_timeout"`
}

// InfluxDBConfig configures the optional time-series mirror of ingested readings.
type InfluxDBConfig struct {
	Enabled     bool   `koanf:"enabled"`
	URL         string `koanf:"url"`
	Token       string `koanf:"token"`
	Org         string `koanf:"org"`
	Bucket      string `koanf:"bucket"`
	Measurement string `koanf:"measurement"`

	WriteTimeout time.Duration `koanf:"write_timeout"` // per-point bound for the background writer
	QueueSize    int           `koanf:"queue_size"`    // readings buffered before new ones are dropped
}

// SecurityConfig holds CORS and rate limiting settings
type SecurityConfig struct {
	CORSOrigins       []string      `koanf:"cors_origins"`
	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Addr returns the host:port the HTTP server listens on.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// Load reads configuration from all layers. See LoadWithKoanf.
func Load() (*Config, error) {
	return LoadWithKoanf()
}
