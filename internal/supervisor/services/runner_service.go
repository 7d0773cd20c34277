// Soilsense - Geolocated Sensor Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/soilsense

package services

import (
	"context"
)

// ContextRunner is a component whose run loop already honours context
// cancellation, such as *websocket.Hub.
type ContextRunner interface {
	RunWithContext(ctx context.Context) error
}

// RunnerService adapts a ContextRunner to suture.Service and gives it a name
// for supervisor logs.
type RunnerService struct {
	runner ContextRunner
	name   string
}

// NewRunnerService wraps runner under name.
func NewRunnerService(name string, runner ContextRunner) *RunnerService {
	return &RunnerService{runner: runner, name: name}
}

// NewWebSocketHubService wraps the live reading hub.
//
//	tree.AddMessagingService(services.NewWebSocketHubService(hub))
func NewWebSocketHubService(hub ContextRunner) *RunnerService {
	return NewRunnerService("websocket-hub", hub)
}

// Serve implements suture.Service.
func (s *RunnerService) Serve(ctx context.Context) error {
	return s.runner.RunWithContext(ctx)
}

// String implements fmt.Stringer for suture logs.
func (s *RunnerService) String() string {
	return s.name
}
