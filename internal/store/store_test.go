// Kinograph - Personalized Film Discovery and Taste Profiling
// Copyright 2026 Kinograph Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kinograph/kinograph

package store

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/kinograph/kinograph/internal/taste"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Options{InMemory: true}, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return s
}

func TestWatchEventRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	ev := taste.WatchEvent{
		URI:           "letterboxd/diary/1",
		CandidateID:   603,
		Rating:        4.5,
		Liked:         true,
		WatchCount:    2,
		LastWatchedAt: time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := s.UpsertWatchEvent(ctx, 1, ev); err != nil {
		t.Fatalf("UpsertWatchEvent: %v", err)
	}

	// Same URI overwrites; a second URI adds.
	ev.Rating = 5.0
	if err := s.UpsertWatchEvent(ctx, 1, ev); err != nil {
		t.Fatalf("re-UpsertWatchEvent: %v", err)
	}
	other := taste.WatchEvent{URI: "letterboxd/diary/2", CandidateID: 604, OnWatchlist: true}
	if err := s.UpsertWatchEvent(ctx, 1, other); err != nil {
		t.Fatalf("UpsertWatchEvent second: %v", err)
	}

	events, err := s.WatchEvents(ctx, 1)
	if err != nil {
		t.Fatalf("WatchEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2 (upsert by uri)", len(events))
	}
	for _, got := range events {
		if got.URI == ev.URI && got.Rating != 5.0 {
			t.Errorf("rating = %v, want the overwritten 5.0", got.Rating)
		}
	}

	// Other users see nothing.
	none, err := s.WatchEvents(ctx, 2)
	if err != nil {
		t.Fatalf("WatchEvents other user: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("user 2 events = %d, want 0", len(none))
	}
}

func TestWatchEventRequiresURI(t *testing.T) {
	s := testStore(t)
	if err := s.UpsertWatchEvent(context.Background(), 1, taste.WatchEvent{CandidateID: 1}); err == nil {
		t.Error("UpsertWatchEvent without uri should fail")
	}
}

func TestFilmMetadataMissingIDsAbsent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	film := taste.Candidate{
		ID: 603, Title: "The Matrix",
		Genres:    []string{"Science Fiction", "Action"},
		Directors: []string{"Lana Wachowski", "Lilly Wachowski"},
		Year:      1999, RuntimeMinutes: 136,
		Popularity: 80, VoteAverage: 8.2, VoteCount: 24000,
	}
	if err := s.UpsertFilm(ctx, film); err != nil {
		t.Fatalf("UpsertFilm: %v", err)
	}

	got, err := s.FilmMetadata(ctx, []int{603, 999})
	if err != nil {
		t.Fatalf("FilmMetadata: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("metadata entries = %d, want 1 (missing id absent, not an error)", len(got))
	}
	if got[603].Title != film.Title || got[603].Year != film.Year {
		t.Errorf("round-trip mismatch: %+v", got[603])
	}

	if err := s.UpsertFilm(ctx, taste.Candidate{Title: "No ID"}); err == nil {
		t.Error("UpsertFilm without id should fail")
	}
}

func TestFeedbackLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	absent, err := s.GetFeedback(ctx, 1, 42)
	if err != nil {
		t.Fatalf("GetFeedback: %v", err)
	}
	if absent != nil {
		t.Fatal("feedback for untouched pair should be nil")
	}

	ev := taste.FeedbackEvent{
		UserID: 1, CandidateID: 42,
		Kind:      taste.FeedbackNegativeSoft,
		Consensus: taste.ConsensusMedium,
		Sources:   []string{"similar", "keyword"},
		Timestamp: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := s.UpsertFeedback(ctx, ev); err != nil {
		t.Fatalf("UpsertFeedback: %v", err)
	}

	// Upsert replaces the active event for the pair.
	ev.Kind = taste.FeedbackNegativeHard
	if err := s.UpsertFeedback(ctx, ev); err != nil {
		t.Fatalf("re-UpsertFeedback: %v", err)
	}

	got, err := s.GetFeedback(ctx, 1, 42)
	if err != nil {
		t.Fatalf("GetFeedback: %v", err)
	}
	if got == nil || got.Kind != taste.FeedbackNegativeHard {
		t.Fatalf("feedback = %+v, want the superseding hard block", got)
	}

	all, err := s.FeedbackForUser(ctx, 1)
	if err != nil {
		t.Fatalf("FeedbackForUser: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("active events = %d, want exactly 1 per pair", len(all))
	}

	if err := s.DeleteFeedback(ctx, 1, 42); err != nil {
		t.Fatalf("DeleteFeedback: %v", err)
	}
	gone, err := s.GetFeedback(ctx, 1, 42)
	if err != nil {
		t.Fatalf("GetFeedback after delete: %v", err)
	}
	if gone != nil {
		t.Error("feedback should be gone after delete")
	}

	// Deleting again is a no-op.
	if err := s.DeleteFeedback(ctx, 1, 42); err != nil {
		t.Errorf("second DeleteFeedback: %v", err)
	}
}

func TestReliabilityPriorRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	priors := []taste.SourceReliabilityPrior{
		{UserID: 1, Source: "similar", Consensus: taste.ConsensusHigh, Hits: 4, Misses: 1},
		{UserID: 1, Source: "similar", Consensus: taste.ConsensusLow, Hits: 1, Misses: 2},
		{UserID: 2, Source: "keyword", Consensus: taste.ConsensusLow, Hits: 7},
	}
	for _, p := range priors {
		if err := s.UpsertReliabilityPrior(ctx, p); err != nil {
			t.Fatalf("UpsertReliabilityPrior: %v", err)
		}
	}

	got, err := s.ReliabilityPriors(ctx, 1)
	if err != nil {
		t.Fatalf("ReliabilityPriors: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("priors = %d, want 2 (consensus levels keyed separately, users isolated)", len(got))
	}
	for _, p := range got {
		if p.UserID != 1 || p.Source != "similar" {
			t.Errorf("unexpected prior %+v", p)
		}
	}
}

func TestFeatureStatRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	stat := taste.FeatureStat{
		UserID: 1, Type: taste.FeatureGenre, Name: "horror",
		Pos: 3, Neg: 1,
		Updated: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := s.UpsertFeatureStat(ctx, stat); err != nil {
		t.Fatalf("UpsertFeatureStat: %v", err)
	}

	stat.Pos = 4
	if err := s.UpsertFeatureStat(ctx, stat); err != nil {
		t.Fatalf("re-UpsertFeatureStat: %v", err)
	}

	got, err := s.FeatureStats(ctx, 1)
	if err != nil {
		t.Fatalf("FeatureStats: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("stats = %d, want 1", len(got))
	}
	if got[0].Pos != 4 || got[0].Neg != 1 {
		t.Errorf("counters = %d/%d, want 4/1 after upsert", got[0].Pos, got[0].Neg)
	}
}

func TestRunGCInMemory(t *testing.T) {
	s := testStore(t)
	// In-memory databases have no value log to rewrite; the no-op path
	// must still report success.
	if err := s.RunGC(); err != nil {
		t.Errorf("RunGC: %v", err)
	}
}
