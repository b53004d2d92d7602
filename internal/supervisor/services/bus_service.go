// Kinograph - Personalized Film Discovery and Taste Profiling
// Copyright 2026 Kinograph Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kinograph/kinograph

package services

import (
	"context"
)

// MessageBus matches the event bus lifecycle.
type MessageBus interface {
	Run(ctx context.Context) error
}

// BusService runs the feedback event bus under supervision.
type BusService struct {
	bus MessageBus
}

// NewBusService creates the wrapper.
func NewBusService(bus MessageBus) *BusService {
	return &BusService{bus: bus}
}

// Serve implements suture.Service. Run blocks until the context is
// canceled; a router crash returns the error and suture restarts us.
func (b *BusService) Serve(ctx context.Context) error {
	return b.bus.Run(ctx)
}

// String identifies the service in supervisor logs.
func (b *BusService) String() string {
	return "feedback-bus"
}
