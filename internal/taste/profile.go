// Kinograph - Personalized Film Discovery and Taste Profiling
// Copyright 2026 Kinograph Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kinograph/kinograph

package taste

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ProfileBuilder aggregates a user's watch, rating, and feedback history
// into a weighted TasteProfile.
//
// The per-film weight is:
//
//	weight = baseRatingWeight(rating) * likedMultiplier * rewatchMultiplier * recencyDecay(lastWatched)
//
// accumulated into every feature the film carries. After accumulation a
// concave dampening transform (log1p of the sample count) keeps a
// binge-watched franchise from dominating a feature's rank through
// repetition alone. Low ratings and negative feedback accumulate into
// mirrored avoid-lists with the same machinery inverted. Watchlist
// entries feed a separate, weaker intent signal decayed over a longer
// horizon.
//
// Build is pure: it holds no state between runs and rebuilds the profile
// from source events plus feedback deltas every time.
type ProfileBuilder struct {
	cfg     ProfileConfig
	learner LearnerConfig
	logger  zerolog.Logger
}

// NewProfileBuilder creates a profile builder.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewProfileBuilder(cfg ProfileConfig, learner LearnerConfig, logger zerolog.Logger) *ProfileBuilder {
	return &ProfileBuilder{
		cfg:     cfg,
		learner: learner,
		logger:  logger.With().Str("component", "profile").Logger(),
	}
}

// BuildInput carries everything a profile rebuild reads.
type BuildInput struct {
	// Events is the user's watch history, including watchlist entries.
	Events []WatchEvent

	// Metadata resolves candidate ids to film metadata.
	Metadata map[int]Candidate

	// Feedback is the user's active feedback history.
	Feedback []FeedbackEvent

	// Stats are the learner's per-feature pos/neg counters.
	Stats []FeatureStat

	// Now anchors recency decay; the zero value means time.Now().
	Now time.Time
}

// featureAccum accumulates weight for one feature before dampening.
type featureAccum struct {
	sum      float64
	count    int
	lastSeen time.Time
	films    []string
}

// accumSet is one accumulator map per feature type.
type accumSet map[FeatureType]map[string]*featureAccum

func newAccumSet() accumSet {
	s := make(accumSet, len(FeatureTypes))
	for _, ft := range FeatureTypes {
		s[ft] = make(map[string]*featureAccum)
	}
	return s
}

// add accumulates weight into every feature the film carries.
func (s accumSet) add(cand *Candidate, weight float64, seen time.Time, evidenceCap int) {
	for _, ft := range FeatureTypes {
		for _, name := range cand.features(ft) {
			name = canonical(name)
			if name == "" {
				continue
			}
			acc := s[ft][name]
			if acc == nil {
				acc = &featureAccum{}
				s[ft][name] = acc
			}
			acc.sum += weight
			acc.count++
			if seen.After(acc.lastSeen) {
				acc.lastSeen = seen
			}
			if cand.Title != "" && len(acc.films) < evidenceCap && !containsString(acc.films, cand.Title) {
				acc.films = append(acc.films, cand.Title)
			}
		}
	}
}

// Build constructs a TasteProfile from the input. Zero history yields an
// empty profile; callers fall back to popularity-only ranking.
func (b *ProfileBuilder) Build(in BuildInput) *TasteProfile {
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}

	positive := newAccumSet()
	avoid := newAccumSet()
	intent := newAccumSet()

	for i := range in.Events {
		b.accumulateEvent(&in.Events[i], in.Metadata, positive, avoid, intent, now)
	}

	for i := range in.Feedback {
		b.accumulateFeedback(&in.Feedback[i], in.Metadata, positive, avoid, now)
	}

	stats := indexStats(in.Stats)

	profile := &TasteProfile{
		TopGenres:    b.finalize(positive[FeatureGenre], FeatureGenre, stats, now),
		TopKeywords:  b.finalize(positive[FeatureKeyword], FeatureKeyword, stats, now),
		TopDirectors: b.finalize(positive[FeatureDirector], FeatureDirector, stats, now),
		TopActors:    b.finalize(positive[FeatureActor], FeatureActor, stats, now),
		TopStudios:   b.finalize(positive[FeatureStudio], FeatureStudio, stats, now),
		TopDecades:   b.finalize(positive[FeatureDecade], FeatureDecade, stats, now),

		AvoidGenres:    b.finalize(avoid[FeatureGenre], FeatureGenre, nil, now),
		AvoidKeywords:  b.finalize(avoid[FeatureKeyword], FeatureKeyword, nil, now),
		AvoidDirectors: b.finalize(avoid[FeatureDirector], FeatureDirector, nil, now),

		WatchlistGenres:    b.finalize(intent[FeatureGenre], FeatureGenre, nil, now),
		WatchlistKeywords:  b.finalize(intent[FeatureKeyword], FeatureKeyword, nil, now),
		WatchlistDirectors: b.finalize(intent[FeatureDirector], FeatureDirector, nil, now),
	}

	b.logger.Debug().
		Int("events", len(in.Events)).
		Int("feedback", len(in.Feedback)).
		Int("top_genres", len(profile.TopGenres)).
		Msg("profile rebuilt")

	return profile
}

// accumulateEvent routes one watch event into the positive, avoid, or
// intent accumulators.
func (b *ProfileBuilder) accumulateEvent(ev *WatchEvent, meta map[int]Candidate, positive, avoid, intent accumSet, now time.Time) {
	cand, ok := meta[ev.CandidateID]
	if !ok {
		// Unresolvable metadata contributes nothing; never an error.
		return
	}

	if ev.OnWatchlist {
		b.accumulateIntent(ev, &cand, intent, now)
	}

	if !ev.Watched() {
		return
	}

	decay := halfLifeDecay(now.Sub(ev.LastWatchedAt), b.cfg.HalfLifeDays)

	if ev.Rating > 0 && ev.Rating <= b.cfg.AvoidRatingCeiling {
		// Disliked: mirrored accumulation with the weighting inverted.
		weight := (1 - ev.Rating/5.0) * decay
		avoid.add(&cand, weight, ev.LastWatchedAt, b.cfg.MaxEvidencePerFeature)
		return
	}

	weight := b.baseRatingWeight(ev.Rating)
	if ev.Liked {
		weight *= b.cfg.LikedMultiplier
	}
	if ev.Rewatch || ev.WatchCount > 1 {
		weight *= b.cfg.RewatchMultiplier
	}
	weight *= decay

	positive.add(&cand, weight, ev.LastWatchedAt, b.cfg.MaxEvidencePerFeature)
}

// accumulateIntent feeds the weaker watchlist signal set.
func (b *ProfileBuilder) accumulateIntent(ev *WatchEvent, cand *Candidate, intent accumSet, now time.Time) {
	added := ev.WatchlistAddedAt
	if added.IsZero() {
		added = now
	}
	weight := b.cfg.WatchlistScale * halfLifeDecay(now.Sub(added), b.cfg.WatchlistHalfLifeDays)
	intent.add(cand, weight, added, b.cfg.MaxEvidencePerFeature)
}

// accumulateFeedback applies explicit feedback deltas to the accumulators.
func (b *ProfileBuilder) accumulateFeedback(ev *FeedbackEvent, meta map[int]Candidate, positive, avoid accumSet, now time.Time) {
	cand, ok := meta[ev.CandidateID]
	if !ok {
		return
	}

	decay := halfLifeDecay(now.Sub(ev.Timestamp), b.cfg.HalfLifeDays)

	switch ev.Kind {
	case FeedbackPositive, FeedbackPairwiseWin:
		positive.add(&cand, b.learner.PositiveBoostWeight*decay, ev.Timestamp, b.cfg.MaxEvidencePerFeature)
	case FeedbackNegativeSoft, FeedbackPairwiseLoss:
		avoid.add(&cand, b.learner.SoftAvoidWeight*decay, ev.Timestamp, b.cfg.MaxEvidencePerFeature)
	case FeedbackNegativeHard:
		avoid.add(&cand, b.learner.HardAvoidWeight*decay, ev.Timestamp, b.cfg.MaxEvidencePerFeature)
	}
}

// baseRatingWeight maps a star rating to a base weight.
func (b *ProfileBuilder) baseRatingWeight(rating float64) float64 {
	if rating <= 0 {
		return b.cfg.UnratedWeight
	}
	return rating / 5.0
}

// finalize dampens, borrows, sorts, and truncates one accumulator map.
func (b *ProfileBuilder) finalize(accums map[string]*featureAccum, ft FeatureType, stats map[Feature]FeatureStat, now time.Time) []FeatureWeight {
	if len(accums) == 0 {
		return nil
	}

	out := make([]FeatureWeight, 0, len(accums))
	for name, acc := range accums {
		// Concave dampening: average contribution scaled by log1p of the
		// sample count, so repetition grows rank sublinearly.
		weight := (acc.sum / float64(acc.count)) * math.Log1p(float64(acc.count))

		if stats != nil {
			weight *= b.statScale(stats, Feature{Type: ft, Name: name}, now)
		}

		if weight <= 0 {
			continue
		}

		out = append(out, FeatureWeight{
			Type:        ft,
			Name:        name,
			Weight:      weight,
			SampleCount: acc.count,
			LastSeenAt:  acc.lastSeen,
			Films:       acc.films,
		})
	}

	b.borrowAdjacent(out, accums)

	sort.Slice(out, func(i, j int) bool {
		if out[i].Weight != out[j].Weight {
			return out[i].Weight > out[j].Weight
		}
		return out[i].Name < out[j].Name
	})

	if len(out) > b.cfg.TopN {
		out = out[:b.cfg.TopN]
	}
	return out
}

// statScale converts a learner win-rate into a multiplicative scale
// around 1.0. The deviation decays with counter staleness so borrowed
// and learned adjustments fade if never reinforced.
func (b *ProfileBuilder) statScale(stats map[Feature]FeatureStat, f Feature, now time.Time) float64 {
	stat, ok := stats[f]
	if !ok {
		return 1.0
	}
	// WinRate is Laplace-smoothed: 0.5 is neutral.
	scale := 0.5 + stat.WinRate()
	if !stat.Updated.IsZero() {
		age := halfLifeDecay(now.Sub(stat.Updated), b.learner.StatHalfLifeDays)
		scale = 1.0 + (scale-1.0)*age
	}
	return scale
}

// borrowAdjacent lets sparse features inherit a small weight from the
// strongest well-evidenced feature of the same type that co-occurs in
// the same films. Rebuilt from decayed sources every run, the borrowed
// weight decays automatically if never reinforced.
func (b *ProfileBuilder) borrowAdjacent(entries []FeatureWeight, accums map[string]*featureAccum) {
	if b.cfg.BorrowFraction <= 0 {
		return
	}

	for i := range entries {
		if entries[i].SampleCount >= b.cfg.BorrowMinSamples {
			continue
		}

		best := 0.0
		for j := range entries {
			if i == j || entries[j].SampleCount < b.cfg.BorrowMinSamples {
				continue
			}
			if entries[j].Weight > best && sharesFilm(accums[entries[i].Name], accums[entries[j].Name]) {
				best = entries[j].Weight
			}
		}

		entries[i].Weight += b.cfg.BorrowFraction * best
	}
}

// sharesFilm reports whether two accumulators share a contributing film.
func sharesFilm(a, b *featureAccum) bool {
	if a == nil || b == nil {
		return false
	}
	for _, f := range a.films {
		if containsString(b.films, f) {
			return true
		}
	}
	return false
}

// halfLifeDecay is a smooth half-life decay over age. It approaches but
// never reaches zero, so old signals always count a little.
func halfLifeDecay(age time.Duration, halfLifeDays float64) float64 {
	if age <= 0 {
		return 1.0
	}
	days := age.Hours() / 24.0
	return math.Exp2(-days / halfLifeDays)
}

// indexStats indexes learner counters by feature for lookup.
func indexStats(stats []FeatureStat) map[Feature]FeatureStat {
	if len(stats) == 0 {
		return nil
	}
	out := make(map[Feature]FeatureStat, len(stats))
	for _, s := range stats {
		out[Feature{Type: s.Type, Name: canonical(s.Name)}] = s
	}
	return out
}

// canonical lowercases and trims a feature name.
func canonical(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// containsString reports whether a slice contains a string.
func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
