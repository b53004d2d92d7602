// Kinograph - Personalized Film Discovery and Taste Profiling
// Copyright 2026 Kinograph Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kinograph/kinograph

// Package reranking implements post-processing for recommendation diversity.
package reranking

import (
	"strings"

	"github.com/kinograph/kinograph/internal/taste"
)

// maxRerankSize limits slice allocations to prevent excessive memory usage.
const maxRerankSize = 10000

// MMR implements Maximal Marginal Relevance reranking over a
// relevance-ranked candidate list:
//
//	MMR = argmax[lambda * relevance(c) - (1-lambda) * max(sim(c, s)) for s in selected]
//
// Lambda lives in [0, 0.5]: lower favors diversity, 0.5 favors pure
// relevance. Similarity is a Jaccard measure over the union of genre,
// decade, and director sets, bounded [0, 1]. When all pairwise
// similarities are zero the selection reduces exactly to the top-K by
// relevance. Ties break by higher relevance, then by lower popularity.
//
// Reference:
// Carbonell, J., & Goldstein, J. (1998). "The Use of MMR, Diversity-Based
// Reranking for Reordering Documents and Producing Summaries." SIGIR 1998.
type MMR struct {
	lambda float64
}

// NewMMR creates an MMR reranker with lambda clamped to [0, 0.5].
func NewMMR(lambda float64) *MMR {
	if lambda < 0 {
		lambda = 0
	}
	if lambda > 0.5 {
		lambda = 0.5
	}
	return &MMR{lambda: lambda}
}

// Name returns the reranker identifier.
func (m *MMR) Name() string {
	return "mmr"
}

// Lambda returns the configured balance parameter.
func (m *MMR) Lambda() float64 {
	return m.lambda
}

// WithLambda returns a reranker with a different balance parameter,
// clamped the same way. Used for per-session diversity controls.
func (m *MMR) WithLambda(lambda float64) taste.Reranker {
	return NewMMR(lambda)
}

// Rerank greedily selects up to k items balancing relevance against
// similarity to already-selected items. The input must be sorted by
// descending relevance. Returns fewer than k items when the pool is
// exhausted; that is never an error.
//
//nolint:gocritic // rangeValCopy: ScoredCandidate passed by value in range, acceptable for clarity
func (m *MMR) Rerank(items []taste.ScoredCandidate, k int) []taste.ScoredCandidate {
	if len(items) == 0 || k <= 0 {
		return nil
	}

	if k > maxRerankSize {
		k = maxRerankSize
	}
	if k > len(items) {
		k = len(items)
	}

	similarities := buildSimilarityMatrix(items)

	selected := make([]taste.ScoredCandidate, 0, k)
	selectedIndices := make(map[int]struct{}, k)

	for len(selected) < k {
		bestIdx := -1
		bestMMR := 0.0

		// Items are iterated in relevance order, so on exact MMR ties
		// the more relevant candidate wins; a popularity comparison
		// settles candidates that also tie on relevance.
		for i := range items {
			if _, ok := selectedIndices[i]; ok {
				continue
			}

			maxSim := 0.0
			for j := range selectedIndices {
				if sim := similarities[i][j]; sim > maxSim {
					maxSim = sim
				}
			}

			mmrScore := m.lambda*items[i].Score - (1-m.lambda)*maxSim

			if bestIdx < 0 || mmrScore > bestMMR {
				bestMMR = mmrScore
				bestIdx = i
				continue
			}
			if mmrScore == bestMMR && items[i].Score == items[bestIdx].Score &&
				items[i].Candidate.Popularity < items[bestIdx].Candidate.Popularity {
				bestIdx = i
			}
		}

		if bestIdx < 0 {
			break
		}

		selected = append(selected, items[bestIdx])
		selectedIndices[bestIdx] = struct{}{}
	}

	return selected
}

// buildSimilarityMatrix computes pairwise feature-set similarity.
func buildSimilarityMatrix(items []taste.ScoredCandidate) [][]float64 {
	n := len(items)
	similarities := make([][]float64, n)
	for i := range similarities {
		similarities[i] = make([]float64, n)
	}

	sets := make([]map[string]struct{}, n)
	for i := range items {
		sets[i] = featureSet(&items[i].Candidate)
	}

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			sim := jaccard(sets[i], sets[j])
			similarities[i][j] = sim
			similarities[j][i] = sim
		}
	}

	return similarities
}

// featureSet builds the similarity feature set for a candidate: genres,
// release decade, and directors, namespaced to avoid cross-type collisions.
func featureSet(c *taste.Candidate) map[string]struct{} {
	set := make(map[string]struct{}, len(c.Genres)+len(c.Directors)+1)
	for _, g := range c.Genres {
		set["g:"+strings.ToLower(g)] = struct{}{}
	}
	for _, d := range c.Directors {
		set["d:"+strings.ToLower(d)] = struct{}{}
	}
	if decade := taste.DecadeOf(c.Year); decade != "" {
		set["y:"+decade] = struct{}{}
	}
	return set
}

// jaccard computes intersection-over-union of two string sets.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}

	intersection := 0
	for k := range a {
		if _, ok := b[k]; ok {
			intersection++
		}
	}

	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}

	return float64(intersection) / float64(union)
}
