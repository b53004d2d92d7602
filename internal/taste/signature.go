// Kinograph - Personalized Film Discovery and Taste Profiling
// Copyright 2026 Kinograph Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kinograph/kinograph

package taste

import (
	"fmt"
	"math"
	"sort"
)

// SignatureScorer scores a film's niche value against a taste profile.
//
// Seed selection for downstream discovery uses these scores so that
// depth of personal taste beats mainstream popularity: a 5-star niche
// multi-genre match outranks a 5-star mainstream single-genre mismatch
// even though both are equally "liked". Contributions, in order:
//
//  1. personal-rating/liked bonus
//  2. niche bonus, inversely related to log popularity ("hidden gem")
//  3. additive per-genre overlap with the profile's top genres
//  4. decade-match bonus
type SignatureScorer struct {
	cfg SignatureConfig
}

// NewSignatureScorer creates a signature scorer.
func NewSignatureScorer(cfg SignatureConfig) *SignatureScorer {
	return &SignatureScorer{cfg: cfg}
}

// SignatureInput is the film-side input to signature scoring.
type SignatureInput struct {
	CandidateID int
	Title       string
	Rating      float64
	Liked       bool
	Popularity  float64
	Genres      []string
	Year        int
}

// SignatureResult is a signature score with its explanations.
type SignatureResult struct {
	CandidateID int      `json:"candidate_id"`
	Title       string   `json:"title"`
	Score       float64  `json:"score"`
	Reasons     []string `json:"reasons,omitempty"`
}

// Score computes the signature score of one film against a profile.
func (s *SignatureScorer) Score(in SignatureInput, profile *TasteProfile) SignatureResult {
	res := SignatureResult{CandidateID: in.CandidateID, Title: in.Title}

	if in.Rating > 0 {
		res.Score += s.cfg.RatingWeight * (in.Rating / 5.0)
		res.Reasons = append(res.Reasons, fmt.Sprintf("rated %.1f stars", in.Rating))
	}
	if in.Liked {
		res.Score += s.cfg.LikedBonus
		res.Reasons = append(res.Reasons, "liked")
	}

	if niche := s.nicheBonus(in.Popularity); niche > 0 {
		res.Score += niche
		if in.Popularity > 0 && niche > s.cfg.NicheWeight/2 {
			res.Reasons = append(res.Reasons, fmt.Sprintf("hidden gem (popularity %.1f)", in.Popularity))
		}
	}

	for _, g := range in.Genres {
		if _, ok := lookupWeight(profile.TopGenres, canonical(g)); ok {
			res.Score += s.cfg.GenreMatchBonus
			res.Reasons = append(res.Reasons, fmt.Sprintf("favorite genre %s", canonical(g)))
		}
	}

	if decade := DecadeOf(in.Year); decade != "" {
		if _, ok := lookupWeight(profile.TopDecades, decade); ok {
			res.Score += s.cfg.DecadeMatchBonus
			res.Reasons = append(res.Reasons, fmt.Sprintf("preferred decade %s", decade))
		}
	}

	return res
}

// nicheBonus rewards low popularity on a logarithmic scale. It is
// monotonically non-increasing in popularity and reaches zero at the
// configured ceiling.
func (s *SignatureScorer) nicheBonus(popularity float64) float64 {
	if popularity < 0 {
		popularity = 0
	}
	frac := 1.0 - math.Log1p(popularity)/math.Log1p(s.cfg.NichePopularityCeiling)
	if frac < 0 {
		frac = 0
	}
	return s.cfg.NicheWeight * frac
}

// Rank scores all films and returns them in descending signature order.
// Ties are broken by lower popularity, then by title for determinism.
func (s *SignatureScorer) Rank(films []SignatureInput, profile *TasteProfile) []SignatureResult {
	results := make([]SignatureResult, len(films))
	pops := make(map[int]float64, len(films))
	for i, f := range films {
		results[i] = s.Score(f, profile)
		pops[f.CandidateID] = f.Popularity
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if pops[results[i].CandidateID] != pops[results[j].CandidateID] {
			return pops[results[i].CandidateID] < pops[results[j].CandidateID]
		}
		return results[i].Title < results[j].Title
	})

	return results
}
