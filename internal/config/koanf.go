// Soilsense - Geolocated Sensor Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/soilsense

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order of priority.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/soilsense/config.yaml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// DotEnvPath is the dotenv file read before the environment layer. Existing
// environment variables always win over its entries.
var DotEnvPath = ".env"

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        3000,
			Host:        "0.0.0.0",
			Timeout:     30 * time.Second,
			Environment: "production",
		},
		Database: DatabaseConfig{
			Driver:           DriverDuckDB,
			Path:             "/data/soilsense.duckdb",
			MaxMemory:        "1GB",
			Threads:          0,
			BadgerPath:       "/data/badger",
			BadgerSyncWrites: true,
			BadgerGCInterval: 10 * time.Minute,
		},
		Datahub: DatahubConfig{
			Enabled:          true,
			WSURL:            "wss://portal-datahub-24vn-ews.education.wise-paas.com/v1/RealData/ws",
			APIURL:           "https://portal-datahub-24vn-ews.education.wise-paas.com/api/v1",
			NodeID:           "ab52c7dd-e9e7-4c96-9290-277521359e0c",
			DeviceID:         "01",
			Tags:             []string{"Latitude", "Longitude", "humidity", "conductivity", "temperature"},
			TokenTTL:         50 * time.Minute,
			ReconnectDelay:   10 * time.Second,
			HandshakeTimeout: 10 * time.Second,
			LoginTimeout:     15 * time.Second,
		},
		InfluxDB: InfluxDBConfig{
			Enabled:      false,
			Measurement:  "sensor_data",
			WriteTimeout: 2 * time.Second,
			QueueSize:    1024,
		},
		Security: SecurityConfig{
			CORSOrigins:       []string{"*"},
			RateLimitReqs:     100,
			RateLimitWindow:   time.Minute,
			RateLimitDisabled: false,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// LoadWithKoanf loads configuration using Koanf v2 with layered sources:
//  1. Defaults
//  2. Optional YAML config file
//  3. .env file (only fills variables not already set)
//  4. Environment variables
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := loadDotEnv(DotEnvPath); err != nil {
		return nil, err
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadDotEnv copies entries of a dotenv file into the process environment.
// A missing file is not an error.
func loadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// sliceConfigPaths are parsed as comma-separated lists when they arrive as strings.
var sliceConfigPaths = []string{
	"security.cors_origins",
	"datahub.tags",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}

		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) == 0 {
			continue
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps lower-cased environment variable names to koanf paths.
// Unmapped variables are ignored.
var envMappings = map[string]string{
	// Server
	"port":         "server.port",
	"http_port":    "server.port",
	"http_host":    "server.host",
	"http_timeout": "server.timeout",
	"environment":  "server.environment",

	// Database
	"db_driver":          "database.driver",
	"database_url":       "database.path",
	"duckdb_path":        "database.path",
	"duckdb_max_memory":  "database.max_memory",
	"duckdb_threads":     "database.threads",
	"badger_path":        "database.badger_path",
	"badger_sync_writes": "database.badger_sync_writes",
	"badger_gc_interval": "database.badger_gc_interval",

	// Datahub feed
	"datahub_enabled":           "datahub.enabled",
	"datahub_ws_url":            "datahub.ws_url",
	"datahub_api_url":           "datahub.api_url",
	"datahub_username":          "datahub.username",
	"datahub_password":          "datahub.password",
	"datahub_node_id":           "datahub.node_id",
	"datahub_device_id":         "datahub.device_id",
	"datahub_tags":              "datahub.tags",
	"datahub_token_ttl":         "datahub.token_ttl",
	"datahub_reconnect_delay":   "datahub.reconnect_delay",
	"datahub_handshake_timeout": "datahub.handshake_timeout",
	"datahub_login_timeout":     "datahub.login_timeout",

	// InfluxDB mirror
	"influxdb_enabled":       "influxdb.enabled",
	"influxdb_url":           "influxdb.url",
	"influxdb_token":         "influxdb.token",
	"influxdb_org":           "influxdb.org",
	"influxdb_bucket":        "influxdb.bucket",
	"influxdb_measurement":   "influxdb.measurement",
	"influxdb_write_timeout": "influxdb.write_timeout",
	"influxdb_queue_size":    "influxdb.queue_size",

	// Security
	"cors_origins":        "security.cors_origins",
	"rate_limit_requests": "security.rate_limit_reqs",
	"rate_limit_window":   "security.rate_limit_window",
	"rate_limit_disabled": "security.rate_limit_disabled",

	// Logging
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc transforms environment variable names to koanf config paths,
// e.g. DATAHUB_WS_URL -> datahub.ws_url and PORT -> server.port.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
