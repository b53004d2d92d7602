// Kinograph - Personalized Film Discovery and Taste Profiling
// Copyright 2026 Kinograph Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kinograph/kinograph

package taste

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// FeedbackStore persists feedback events, reliability counters, and
// per-feature counters. Implemented by the store package. All writes
// are idempotent upserts keyed by the record's composite key with
// last-write-wins semantics.
type FeedbackStore interface {
	// UpsertFeedback stores the active feedback event for a
	// (user, candidate) pair, overwriting any previous one.
	UpsertFeedback(ctx context.Context, ev FeedbackEvent) error

	// GetFeedback returns the active event for a pair, or nil.
	GetFeedback(ctx context.Context, userID, candidateID int) (*FeedbackEvent, error)

	// DeleteFeedback removes the active event for a pair.
	DeleteFeedback(ctx context.Context, userID, candidateID int) error

	// FeedbackForUser returns all active events for a user.
	FeedbackForUser(ctx context.Context, userID int) ([]FeedbackEvent, error)

	// UpsertReliabilityPrior stores a hit/miss counter.
	UpsertReliabilityPrior(ctx context.Context, p SourceReliabilityPrior) error

	// ReliabilityPriors returns all counters for a user.
	ReliabilityPriors(ctx context.Context, userID int) ([]SourceReliabilityPrior, error)

	// UpsertFeatureStat stores a per-feature pos/neg counter.
	UpsertFeatureStat(ctx context.Context, s FeatureStat) error

	// FeatureStats returns all per-feature counters for a user.
	FeatureStats(ctx context.Context, userID int) ([]FeatureStat, error)
}

// FeedbackLearner consumes user actions and updates the persisted
// statistics the profile builder and reliability weighter read on the
// next run.
//
// A soft dismissal dampens a title for future sessions without
// excluding it; a hard block removes the candidate from future pools
// until undone. Both are reversible: undo reverses the exact counter
// increments the event contributed, restoring the pre-feedback scoring
// state bit for bit on the next run.
//
// The suggestion state machine per (user, candidate) pair is
// shown -> {dismissed-soft | blocked-hard} -> [undo] -> shown. There is
// no terminal state; any dismissal remains undoable until superseded by
// new feedback on the same pair.
type FeedbackLearner struct {
	cfg    LearnerConfig
	store  FeedbackStore
	logger zerolog.Logger
}

// NewFeedbackLearner creates a feedback learner.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewFeedbackLearner(cfg LearnerConfig, store FeedbackStore, logger zerolog.Logger) *FeedbackLearner {
	return &FeedbackLearner{
		cfg:    cfg,
		store:  store,
		logger: logger.With().Str("component", "feedback").Logger(),
	}
}

// Apply records a feedback event and updates reliability and feature
// counters. Re-applying feedback for the same (user, candidate) pair
// first reverses the previous event's contributions, so the pair always
// carries exactly one active event and duplicate submissions are
// idempotent.
func (l *FeedbackLearner) Apply(ctx context.Context, ev FeedbackEvent, cand *Candidate) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	prev, err := l.store.GetFeedback(ctx, ev.UserID, ev.CandidateID)
	if err != nil {
		return fmt.Errorf("read previous feedback: %w", err)
	}
	if prev != nil {
		if err := l.adjustCounters(ctx, prev, cand, -1); err != nil {
			return fmt.Errorf("reverse previous feedback: %w", err)
		}
	}

	if err := l.store.UpsertFeedback(ctx, ev); err != nil {
		return fmt.Errorf("upsert feedback: %w", err)
	}
	if err := l.adjustCounters(ctx, &ev, cand, +1); err != nil {
		return fmt.Errorf("apply feedback counters: %w", err)
	}

	l.logger.Debug().
		Int("user_id", ev.UserID).
		Int("candidate_id", ev.CandidateID).
		Str("kind", ev.Kind.String()).
		Msg("feedback applied")

	return nil
}

// Undo removes the active feedback for a pair and reverses its counter
// contributions. A missing event is a no-op, never an error.
func (l *FeedbackLearner) Undo(ctx context.Context, userID, candidateID int, cand *Candidate) error {
	prev, err := l.store.GetFeedback(ctx, userID, candidateID)
	if err != nil {
		return fmt.Errorf("read feedback: %w", err)
	}
	if prev == nil {
		return nil
	}

	if err := l.adjustCounters(ctx, prev, cand, -1); err != nil {
		return fmt.Errorf("reverse feedback counters: %w", err)
	}
	if err := l.store.DeleteFeedback(ctx, userID, candidateID); err != nil {
		return fmt.Errorf("delete feedback: %w", err)
	}

	l.logger.Debug().
		Int("user_id", userID).
		Int("candidate_id", candidateID).
		Str("kind", prev.Kind.String()).
		Msg("feedback undone")

	return nil
}

// adjustCounters applies a feedback event's reliability and feature
// counter increments with the given sign.
func (l *FeedbackLearner) adjustCounters(ctx context.Context, ev *FeedbackEvent, cand *Candidate, sign int) error {
	hit := !ev.Kind.Negative()

	if err := l.adjustPriors(ctx, ev, hit, sign); err != nil {
		return err
	}
	if cand != nil {
		if err := l.adjustFeatureStats(ctx, ev, cand, hit, sign); err != nil {
			return err
		}
	}
	return nil
}

// adjustPriors moves hit/miss counters for every attributed source.
func (l *FeedbackLearner) adjustPriors(ctx context.Context, ev *FeedbackEvent, hit bool, sign int) error {
	if len(ev.Sources) == 0 {
		return nil
	}

	priors, err := l.store.ReliabilityPriors(ctx, ev.UserID)
	if err != nil {
		return fmt.Errorf("read priors: %w", err)
	}
	indexed := make(map[string]SourceReliabilityPrior, len(priors))
	for _, p := range priors {
		indexed[p.Source+"|"+p.Consensus.String()] = p
	}

	for _, src := range ev.Sources {
		p, ok := indexed[src+"|"+ev.Consensus.String()]
		if !ok {
			p = SourceReliabilityPrior{UserID: ev.UserID, Source: src, Consensus: ev.Consensus}
		}
		if hit {
			p.Hits = nonNegative(p.Hits + sign)
		} else {
			p.Misses = nonNegative(p.Misses + sign)
		}
		if err := l.store.UpsertReliabilityPrior(ctx, p); err != nil {
			return fmt.Errorf("upsert prior %s: %w", src, err)
		}
	}
	return nil
}

// adjustFeatureStats moves pos/neg counters for every candidate feature.
func (l *FeedbackLearner) adjustFeatureStats(ctx context.Context, ev *FeedbackEvent, cand *Candidate, hit bool, sign int) error {
	stats, err := l.store.FeatureStats(ctx, ev.UserID)
	if err != nil {
		return fmt.Errorf("read feature stats: %w", err)
	}
	indexed := make(map[Feature]FeatureStat, len(stats))
	for _, s := range stats {
		indexed[Feature{Type: s.Type, Name: s.Name}] = s
	}

	for _, ft := range FeatureTypes {
		for _, raw := range candFeatures(cand, ft) {
			f := Feature{Type: ft, Name: canonical(raw)}
			stat, ok := indexed[f]
			if !ok {
				stat = FeatureStat{UserID: ev.UserID, Type: f.Type, Name: f.Name}
			}
			if hit {
				stat.Pos = nonNegative(stat.Pos + sign)
			} else {
				stat.Neg = nonNegative(stat.Neg + sign)
			}
			stat.Updated = ev.Timestamp
			indexed[f] = stat
			if err := l.store.UpsertFeatureStat(ctx, stat); err != nil {
				return fmt.Errorf("upsert feature stat %s: %w", f.Key(), err)
			}
		}
	}
	return nil
}

// BlockedCandidates returns the ids with an active hard block, for
// exclusion from candidate pools.
func (l *FeedbackLearner) BlockedCandidates(ctx context.Context, userID int) (map[int]struct{}, error) {
	events, err := l.store.FeedbackForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("read feedback: %w", err)
	}

	blocked := make(map[int]struct{})
	for i := range events {
		if events[i].Kind == FeedbackNegativeHard {
			blocked[events[i].CandidateID] = struct{}{}
		}
	}
	return blocked, nil
}

// SoftPenalties returns per-candidate dampening penalties for active
// soft dismissals. Dampening only; the candidates stay in the pool.
func (l *FeedbackLearner) SoftPenalties(ctx context.Context, userID int) (map[int]float64, error) {
	events, err := l.store.FeedbackForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("read feedback: %w", err)
	}

	penalties := make(map[int]float64)
	for i := range events {
		if events[i].Kind == FeedbackNegativeSoft {
			penalties[events[i].CandidateID] = l.cfg.SoftAvoidWeight
		}
	}
	return penalties, nil
}

// AvoidWeights derives per-feature avoid weights from the win-rate
// estimator over explicit pos/neg counters. Win rate, not a running
// sum: one strong negative cannot arithmetically erase many weak
// positives.
func (l *FeedbackLearner) AvoidWeights(ctx context.Context, userID int) (map[Feature]float64, error) {
	stats, err := l.store.FeatureStats(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("read feature stats: %w", err)
	}

	weights := make(map[Feature]float64)
	for i := range stats {
		rate := stats[i].WinRate()
		if rate >= 0.5 {
			continue
		}
		weights[Feature{Type: stats[i].Type, Name: stats[i].Name}] = (0.5 - rate) * 2 * l.cfg.SoftAvoidWeight
	}
	return weights, nil
}

// State returns the suggestion state for a (user, candidate) pair.
func (l *FeedbackLearner) State(ctx context.Context, userID, candidateID int) (SuggestionState, error) {
	ev, err := l.store.GetFeedback(ctx, userID, candidateID)
	if err != nil {
		return StateShown, fmt.Errorf("read feedback: %w", err)
	}
	return StateOf(ev), nil
}

// candFeatures returns a candidate's features for a type.
func candFeatures(c *Candidate, ft FeatureType) []string {
	return c.features(ft)
}

// nonNegative floors a counter at zero.
func nonNegative(v int) int {
	if v < 0 {
		return 0
	}
	return v
}
