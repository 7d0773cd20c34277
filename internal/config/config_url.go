// Soilsense - Geolocated Sensor Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/soilsense

package config

import (
	"fmt"
	"net/url"
	"slices"
)

// parseEndpoint parses rawURL and requires one of schemes and a host.
func parseEndpoint(rawURL, fieldName string, schemes ...string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid URL: %w", fieldName, err)
	}
	if !slices.Contains(schemes, u.Scheme) {
		return nil, fmt.Errorf("%s: scheme %q not allowed, want one of %v", fieldName, u.Scheme, schemes)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%s: host is required", fieldName)
	}
	return u, nil
}

// validateHTTPURL accepts http(s) base URLs. A path is fine (the datahub API
// lives under /api/v1); a query string is not, since paths are appended to it.
func validateHTTPURL(rawURL, fieldName string) error {
	u, err := parseEndpoint(rawURL, fieldName, "http", "https")
	if err != nil {
		return err
	}
	if u.RawQuery != "" {
		return fmt.Errorf("%s: query parameters are not allowed (?%s)", fieldName, u.RawQuery)
	}
	return nil
}

// validateWebSocketURL accepts ws and wss URLs.
func validateWebSocketURL(rawURL, fieldName string) error {
	_, err := parseEndpoint(rawURL, fieldName, "ws", "wss")
	return err
}
