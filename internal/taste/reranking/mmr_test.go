// Kinograph - Personalized Film Discovery and Taste Profiling
// Copyright 2026 Kinograph Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kinograph/kinograph

package reranking

import (
	"testing"

	"github.com/kinograph/kinograph/internal/taste"
)

func scored(id int, score float64, genres []string, director string, year int) taste.ScoredCandidate {
	c := taste.Candidate{ID: id, Title: "Film", Genres: genres, Year: year}
	if director != "" {
		c.Directors = []string{director}
	}
	return taste.ScoredCandidate{Candidate: c, Score: score}
}

// disjointPool builds a relevance-sorted pool with zero pairwise
// similarity: unique genres, directors, and decades.
func disjointPool(n int) []taste.ScoredCandidate {
	genres := []string{"Horror", "Comedy", "Drama", "Sci-Fi", "Western", "Noir", "Romance", "War"}
	items := make([]taste.ScoredCandidate, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, scored(
			i+1,
			float64(n-i),
			[]string{genres[i%len(genres)] + string(rune('A'+i))},
			"Director "+string(rune('A'+i)),
			1920+i*10,
		))
	}
	return items
}

func TestNewMMRClampsLambda(t *testing.T) {
	tests := []struct {
		name string
		in   float64
		want float64
	}{
		{"negative", -1, 0},
		{"zero", 0, 0},
		{"mid", 0.35, 0.35},
		{"max", 0.5, 0.5},
		{"above max", 0.9, 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewMMR(tt.in).Lambda(); got != tt.want {
				t.Errorf("NewMMR(%v).Lambda() = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestWithLambdaReturnsClampedCopy(t *testing.T) {
	base := NewMMR(0.35)
	swapped := base.WithLambda(0.9)

	mmr, ok := swapped.(*MMR)
	if !ok {
		t.Fatalf("WithLambda returned %T, want *MMR", swapped)
	}
	if mmr.Lambda() != 0.5 {
		t.Errorf("WithLambda(0.9).Lambda() = %v, want 0.5", mmr.Lambda())
	}
	if base.Lambda() != 0.35 {
		t.Error("WithLambda must not mutate the original")
	}
}

func TestRerankDegeneratesToTopK(t *testing.T) {
	// With zero pairwise similarity and lambda at the relevance end, the
	// selection is exactly the top-K by relevance, in order.
	items := disjointPool(8)
	out := NewMMR(0.5).Rerank(items, 4)

	if len(out) != 4 {
		t.Fatalf("selected %d items, want 4", len(out))
	}
	for i := range out {
		if out[i].Candidate.ID != items[i].Candidate.ID {
			t.Errorf("position %d = id %d, want id %d (relevance order)",
				i, out[i].Candidate.ID, items[i].Candidate.ID)
		}
	}
}

func TestRerankNoDuplicatesAndAtMostK(t *testing.T) {
	items := disjointPool(6)
	out := NewMMR(0.2).Rerank(items, 10)

	if len(out) > 6 {
		t.Fatalf("selected %d items from a pool of 6", len(out))
	}
	seen := make(map[int]struct{}, len(out))
	for _, sc := range out {
		if _, dup := seen[sc.Candidate.ID]; dup {
			t.Fatalf("candidate %d selected twice", sc.Candidate.ID)
		}
		seen[sc.Candidate.ID] = struct{}{}
	}
}

func TestRerankPrefersDiversityAtLowLambda(t *testing.T) {
	// Three near-identical Carpenter horrors lead on relevance; a fully
	// dissimilar comedy trails. At lambda 0 the second pick must be the
	// dissimilar one.
	items := []taste.ScoredCandidate{
		scored(1, 10, []string{"Horror"}, "John Carpenter", 1980),
		scored(2, 9, []string{"Horror"}, "John Carpenter", 1981),
		scored(3, 8, []string{"Horror"}, "John Carpenter", 1982),
		scored(4, 2, []string{"Comedy"}, "Elaine May", 2005),
	}

	out := NewMMR(0).Rerank(items, 2)
	if len(out) != 2 {
		t.Fatalf("selected %d items, want 2", len(out))
	}
	if out[0].Candidate.ID != 1 {
		t.Errorf("first pick = %d, want the most relevant", out[0].Candidate.ID)
	}
	if out[1].Candidate.ID != 4 {
		t.Errorf("second pick = %d, want the dissimilar comedy", out[1].Candidate.ID)
	}
}

func TestRerankTieBreaksByLowerPopularity(t *testing.T) {
	a := scored(1, 5, []string{"Horror"}, "A", 1980)
	a.Candidate.Popularity = 900
	b := scored(2, 5, []string{"Comedy"}, "B", 1990)
	b.Candidate.Popularity = 3

	out := NewMMR(0.5).Rerank([]taste.ScoredCandidate{a, b}, 1)
	if len(out) != 1 || out[0].Candidate.ID != 2 {
		t.Errorf("tie pick = %v, want the lower-popularity candidate", out)
	}
}

func TestRerankEdgeCases(t *testing.T) {
	if out := NewMMR(0.3).Rerank(nil, 5); out != nil {
		t.Errorf("Rerank(nil) = %v, want nil", out)
	}
	if out := NewMMR(0.3).Rerank(disjointPool(3), 0); out != nil {
		t.Errorf("Rerank(k=0) = %v, want nil", out)
	}
}
