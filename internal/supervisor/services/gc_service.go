// Kinograph - Personalized Film Discovery and Taste Profiling
// Copyright 2026 Kinograph Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kinograph/kinograph

package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// GarbageCollector matches the store's value-log GC entry point.
type GarbageCollector interface {
	RunGC() error
}

// GCService runs periodic BadgerDB value-log garbage collection.
type GCService struct {
	store    GarbageCollector
	interval time.Duration
	logger   zerolog.Logger
}

// NewGCService creates the wrapper. Default interval: 10 minutes.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewGCService(store GarbageCollector, interval time.Duration, logger zerolog.Logger) *GCService {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &GCService{
		store:    store,
		interval: interval,
		logger:   logger.With().Str("component", "store-gc").Logger(),
	}
}

// Serve implements suture.Service.
func (g *GCService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := g.store.RunGC(); err != nil {
				g.logger.Warn().Err(err).Msg("value-log gc failed")
			}
		}
	}
}

// String identifies the service in supervisor logs.
func (g *GCService) String() string {
	return "store-gc"
}
