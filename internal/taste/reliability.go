// Kinograph - Personalized Film Discovery and Taste Profiling
// Copyright 2026 Kinograph Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kinograph/kinograph

package taste

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// PriorSource supplies persisted reliability counters for a user.
// Implemented by the store package.
type PriorSource interface {
	// ReliabilityPriors returns all hit/miss counters for a user.
	ReliabilityPriors(ctx context.Context, userID int) ([]SourceReliabilityPrior, error)
}

// ReliabilityWeighter converts per-source feedback outcomes into a
// bounded score multiplier.
//
// Each (user, source, consensus level) carries a Beta-style hit/miss
// counter read with Laplace smoothing (hits+1)/(hits+misses+2), which
// regresses sparse sources toward the neutral 0.5 and never divides by
// a raw zero count. When a candidate is attributed to two or more
// sources, their smoothed reliabilities are blended by consensus level
// and the result is clamped to the configured band.
//
// Computed multipliers are cached per user for a short TTL; the
// underlying statistics change slowly. A cache miss recomputes inline,
// never blocking longer than a single recomputation.
type ReliabilityWeighter struct {
	cfg    ReliabilityConfig
	priors PriorSource
	logger zerolog.Logger

	mu    sync.Mutex
	cache map[string]cachedMultiplier
}

// cachedMultiplier is one TTL cache entry.
type cachedMultiplier struct {
	multiplier float64
	reason     string
	expiresAt  time.Time
}

// NewReliabilityWeighter creates a reliability weighter.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewReliabilityWeighter(cfg ReliabilityConfig, priors PriorSource, logger zerolog.Logger) *ReliabilityWeighter {
	return &ReliabilityWeighter{
		cfg:    cfg,
		priors: priors,
		logger: logger.With().Str("component", "reliability").Logger(),
		cache:  make(map[string]cachedMultiplier),
	}
}

// Multiplier returns the bounded multiplier for a candidate attributed
// to the given sources at the given consensus level, plus a short
// reason string. A failure to read priors falls back to neutral (1.0)
// rather than raising.
func (r *ReliabilityWeighter) Multiplier(ctx context.Context, userID int, sources []string, level ConsensusLevel) (float64, string) {
	if len(sources) == 0 {
		return 1.0, "neutral (no sources)"
	}

	key := r.cacheKey(userID, sources, level)

	r.mu.Lock()
	if entry, ok := r.cache[key]; ok && time.Now().Before(entry.expiresAt) {
		r.mu.Unlock()
		return entry.multiplier, entry.reason
	}
	r.mu.Unlock()

	mult, reason := r.compute(ctx, userID, sources, level)

	r.mu.Lock()
	r.cache[key] = cachedMultiplier{
		multiplier: mult,
		reason:     reason,
		expiresAt:  time.Now().Add(r.cfg.CacheTTL),
	}
	r.mu.Unlock()

	return mult, reason
}

// compute derives the multiplier from persisted counters.
func (r *ReliabilityWeighter) compute(ctx context.Context, userID int, sources []string, level ConsensusLevel) (float64, string) {
	priors, err := r.priors.ReliabilityPriors(ctx, userID)
	if err != nil {
		r.logger.Warn().Err(err).Int("user_id", userID).Msg("reading reliability priors failed, using neutral")
		return 1.0, "neutral (priors unavailable)"
	}

	indexed := make(map[string]SourceReliabilityPrior, len(priors))
	for _, p := range priors {
		indexed[p.Source+"|"+p.Consensus.String()] = p
	}

	var sum float64
	observed := 0
	for _, src := range sources {
		p, ok := indexed[src+"|"+level.String()]
		if !ok {
			p = SourceReliabilityPrior{UserID: userID, Source: src, Consensus: level}
		} else {
			observed++
		}
		sum += p.SmoothedRate()
	}
	rate := sum / float64(len(sources))

	// Map the smoothed rate (0.5 neutral) into the clamp band. Multi-
	// source consensus scales the deviation by the level's blend weight.
	deviation := (rate - 0.5) * 2.0
	if len(sources) >= 2 {
		deviation *= r.cfg.consensusWeight(level)
	}

	band := r.cfg.MaxMultiplier - 1.0
	if deviation < 0 {
		band = 1.0 - r.cfg.MinMultiplier
	}
	mult := clamp(1.0+deviation*band, r.cfg.MinMultiplier, r.cfg.MaxMultiplier)

	reason := r.describe(mult, observed, len(sources), level)
	return mult, reason
}

// describe builds the short reason string for a computed multiplier.
func (r *ReliabilityWeighter) describe(mult float64, observed, total int, level ConsensusLevel) string {
	switch {
	case observed == 0:
		return "neutral (no feedback history)"
	case mult > 1.0:
		return fmt.Sprintf("%d/%d sources reliable at %s consensus (+%.0f%%)", observed, total, level, (mult-1.0)*100)
	case mult < 1.0:
		return fmt.Sprintf("%d/%d sources unreliable at %s consensus (-%.0f%%)", observed, total, level, (1.0-mult)*100)
	default:
		return "neutral"
	}
}

// Invalidate drops all cached multipliers for a user. Called after
// feedback updates the underlying counters.
func (r *ReliabilityWeighter) Invalidate(userID int) {
	prefix := fmt.Sprintf("%d|", userID)

	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.cache {
		if strings.HasPrefix(key, prefix) {
			delete(r.cache, key)
		}
	}
}

// cacheKey builds a deterministic cache key for a lookup.
func (r *ReliabilityWeighter) cacheKey(userID int, sources []string, level ConsensusLevel) string {
	sorted := make([]string, len(sources))
	copy(sorted, sources)
	sort.Strings(sorted)
	return fmt.Sprintf("%d|%s|%s", userID, level, strings.Join(sorted, ","))
}

// clamp bounds v to [lo, hi].
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
