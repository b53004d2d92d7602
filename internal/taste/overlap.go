// Kinograph - Personalized Film Discovery and Taste Profiling
// Copyright 2026 Kinograph Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kinograph/kinograph

package taste

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"
)

// OverlapScorer scores candidates against the full taste profile.
//
// For each candidate the per-feature-type contributions are summed:
// every matching genre/keyword/director/actor/studio/decade contributes
// profileWeight * featureTypeGlobalWeight, avoided features subtract a
// penalty of the same shape, a vote-quality term nudges toward
// well-reviewed candidates without overwhelming personalization, and
// watchlist-intent matches add a bonus. The bounded source reliability
// multiplier is applied last.
//
// Scoring is pure, synchronous computation: given identical inputs the
// scores and ordering are stable. Ties break by higher vote quality,
// then by lower popularity to favor novelty among equals.
type OverlapScorer struct {
	cfg      OverlapConfig
	weighter *ReliabilityWeighter
	logger   zerolog.Logger
}

// NewOverlapScorer creates an overlap scorer.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewOverlapScorer(cfg OverlapConfig, weighter *ReliabilityWeighter, logger zerolog.Logger) *OverlapScorer {
	return &OverlapScorer{
		cfg:      cfg,
		weighter: weighter,
		logger:   logger.With().Str("component", "overlap").Logger(),
	}
}

// ScoreRequest carries one scoring run's inputs. The candidate pool is
// assumed deduplicated and filtered of watched/blocked ids already.
type ScoreRequest struct {
	// UserID scopes reliability lookups.
	UserID int

	// Profile is the rebuilt taste profile. An empty profile triggers
	// the popularity-only fallback, never an error.
	Profile *TasteProfile

	// Candidates is the pool to score.
	Candidates []Candidate

	// Sources maps candidate ids to the discovery channels that
	// surfaced them.
	Sources map[int][]string

	// AvoidWeights are per-feature dampening weights from feedback.
	AvoidWeights map[Feature]float64

	// SoftPenalties are per-candidate dampening penalties from active
	// soft dismissals of the same title.
	SoftPenalties map[int]float64

	// Session optionally biases scoring toward a tone.
	Session *SessionContext
}

// Score ranks the candidate pool. Missing metadata categories
// contribute zero; a candidate is downranked, never discarded, when
// completeness falls below the floor unless high consensus overrides.
func (s *OverlapScorer) Score(ctx context.Context, req ScoreRequest) []ScoredCandidate {
	out := make([]ScoredCandidate, 0, len(req.Candidates))

	for i := range req.Candidates {
		out = append(out, s.scoreOne(ctx, &req, &req.Candidates[i]))
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].Candidate.VoteAverage != out[j].Candidate.VoteAverage {
			return out[i].Candidate.VoteAverage > out[j].Candidate.VoteAverage
		}
		if out[i].Candidate.Popularity != out[j].Candidate.Popularity {
			return out[i].Candidate.Popularity < out[j].Candidate.Popularity
		}
		return out[i].Candidate.ID < out[j].Candidate.ID
	})

	return out
}

// scoreOne scores a single candidate.
func (s *OverlapScorer) scoreOne(ctx context.Context, req *ScoreRequest, cand *Candidate) ScoredCandidate {
	sources := req.Sources[cand.ID]
	consensus := ConsensusFromSources(sources)

	sc := ScoredCandidate{
		Candidate: *cand,
		Sources:   sources,
		Consensus: consensus,
	}

	if req.Profile == nil || req.Profile.IsEmpty() {
		sc.Score = s.popularityScore(cand)
		sc.Reasons = append(sc.Reasons, "popular with audiences")
	} else {
		s.scorePersonalized(req, cand, &sc)
	}

	if penalty, ok := req.SoftPenalties[cand.ID]; ok && penalty > 0 {
		sc.Score -= penalty
		sc.Reasons = append(sc.Reasons, "previously dismissed")
	}

	if cand.MetadataCompleteness() < s.cfg.MetadataFloor && consensus != ConsensusHigh && sc.Score > 0 {
		sc.Score *= s.cfg.SparseMetadataFactor
		sc.Reasons = append(sc.Reasons, "limited metadata")
	}

	// Reliability weighting is applied last so the bounded band caps
	// the final adjustment, not an intermediate term.
	mult, reason := s.weighter.Multiplier(ctx, req.UserID, sources, consensus)
	sc.ReliabilityMultiplier = mult
	if sc.Score > 0 && mult != 1.0 {
		sc.Score *= mult
		sc.Reasons = append(sc.Reasons, reason)
	}

	return sc
}

// scorePersonalized sums the per-feature-type profile contributions.
func (s *OverlapScorer) scorePersonalized(req *ScoreRequest, cand *Candidate, sc *ScoredCandidate) {
	profile := req.Profile

	for _, ft := range FeatureTypes {
		typeWeight := s.cfg.TypeWeights.Of(ft)
		if typeWeight == 0 {
			continue
		}

		topList := profile.topList(ft)
		avoidList := profile.avoidList(ft)
		intentList := profile.watchlistList(ft)

		for _, raw := range cand.features(ft) {
			name := canonical(raw)
			feature := Feature{Type: ft, Name: name}

			if fw, ok := lookupWeight(topList, name); ok {
				sc.Score += fw.Weight * typeWeight
				s.addEvidence(sc, feature, fw.Films)
				sc.Reasons = append(sc.Reasons, fmt.Sprintf("matches favorite %s %s", ft, name))
			}

			if fw, ok := lookupWeight(avoidList, name); ok {
				sc.Score -= fw.Weight * typeWeight * s.cfg.AvoidPenaltyScale
				sc.Reasons = append(sc.Reasons, fmt.Sprintf("avoided %s %s", ft, name))
			}

			if w, ok := req.AvoidWeights[feature]; ok && w > 0 {
				sc.Score -= w * typeWeight * s.cfg.AvoidPenaltyScale
			}

			if fw, ok := lookupWeight(intentList, name); ok {
				sc.Score += fw.Weight * typeWeight * s.cfg.WatchlistBonusScale
				sc.Reasons = append(sc.Reasons, fmt.Sprintf("watchlist interest in %s %s", ft, name))
			}
		}
	}

	sc.Score += s.voteQuality(cand)

	if req.Session != nil {
		sc.Score += s.toneBias(req.Session.Tone, cand, sc)
	}
}

// addEvidence records contributing films for a matched feature, capped.
func (s *OverlapScorer) addEvidence(sc *ScoredCandidate, feature Feature, films []string) {
	if len(films) == 0 {
		return
	}
	if sc.ContributingFilms == nil {
		sc.ContributingFilms = make(map[string][]string)
	}
	key := feature.Key()
	for _, f := range films {
		if len(sc.ContributingFilms[key]) >= s.cfg.MaxEvidencePerFeature {
			break
		}
		sc.ContributingFilms[key] = append(sc.ContributingFilms[key], f)
	}
}

// voteQuality nudges toward well-reviewed candidates. Bounded so it
// cannot overwhelm personalization terms.
func (s *OverlapScorer) voteQuality(cand *Candidate) float64 {
	if cand.VoteCount <= 0 || cand.VoteAverage <= 0 {
		return 0
	}
	confidence := math.Log1p(float64(cand.VoteCount)) / math.Log1p(10000)
	if confidence > 1 {
		confidence = 1
	}
	return s.cfg.VoteQualityWeight * (cand.VoteAverage / 10.0) * confidence
}

// popularityScore is the empty-profile fallback ranking signal.
func (s *OverlapScorer) popularityScore(cand *Candidate) float64 {
	score := s.voteQuality(cand)
	if cand.Popularity > 0 {
		score += 0.5 * math.Log1p(cand.Popularity) / math.Log1p(1000)
	}
	return score
}

// toneBias applies small directional session adjustments.
func (s *OverlapScorer) toneBias(tone string, cand *Candidate, sc *ScoredCandidate) float64 {
	w := s.cfg.ToneBiasWeight

	switch tone {
	case ToneShort:
		switch {
		case cand.RuntimeMinutes > 0 && cand.RuntimeMinutes <= 100:
			sc.Reasons = append(sc.Reasons, "fits a short session")
			return w
		case cand.RuntimeMinutes >= 150:
			return -w
		}
	case ToneWeeknight:
		if cand.RuntimeMinutes > 0 && cand.RuntimeMinutes <= 130 && cand.VoteAverage >= 7.0 {
			sc.Reasons = append(sc.Reasons, "easy weeknight pick")
			return w / 2
		}
	case ToneFamily:
		for _, g := range cand.Genres {
			switch canonical(g) {
			case "horror", "war", "crime":
				return -w
			}
		}
	}

	return 0
}
