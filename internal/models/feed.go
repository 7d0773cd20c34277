// Soilsense - Geolocated Sensor Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/soilsense

package models

import (
	"github.com/goccy/go-json"
)

// RealDataTopic is the datahub topic used to request raw real-time data.
const RealDataTopic = "/realdata/raw/req"

// SubscribeRequest is sent once after the feed connection opens.
//
//	{"topic":"/realdata/raw/req","message":[{"nodeId":"...","deviceId":"01","tagName":"Latitude"}]}
type SubscribeRequest struct {
	Topic   string            `json:"topic"`
	Message []TagSubscription `json:"message"`
}

// TagSubscription names one tag on one device of one node.
type TagSubscription struct {
	NodeID   string `json:"nodeId"`
	DeviceID string `json:"deviceId"`
	TagName  string `json:"tagName"`
}

// FeedMessage is an inbound frame. Message is kept raw because the upstream
// sometimes sends a non-array payload, which is ignored rather than rejected.
type FeedMessage struct {
	Message json.RawMessage `json:"message"`
}

// FeedReading is a single tag/value/timestamp triple. Value and Ts arrive as
// either JSON numbers or strings.
type FeedReading struct {
	TagName string          `json:"tagName"`
	Value   json.RawMessage `json:"value"`
	Ts      json.RawMessage `json:"ts"`
}
