// Kinograph - Personalized Film Discovery and Taste Profiling
// Copyright 2026 Kinograph Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kinograph/kinograph

package taste

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testProfileBuilder() *ProfileBuilder {
	cfg := DefaultConfig()
	return NewProfileBuilder(cfg.Profile, cfg.Learner, zerolog.Nop())
}

func testMetadata() map[int]Candidate {
	return map[int]Candidate{
		1: {ID: 1, Title: "The Haunting", Genres: []string{"Horror"}, Directors: []string{"Jan de Bont"}, Year: 1999},
		2: {ID: 2, Title: "Candyman", Genres: []string{"Horror"}, Directors: []string{"Bernard Rose"}, Year: 1992},
		3: {ID: 3, Title: "You've Got Mail", Genres: []string{"Romance", "Comedy"}, Year: 1998},
		4: {ID: 4, Title: "Session 9", Genres: []string{"Horror"}, Keywords: []string{"asylum"}, Year: 2001},
	}
}

func TestBuildEmptyHistory(t *testing.T) {
	profile := testProfileBuilder().Build(BuildInput{})
	if !profile.IsEmpty() {
		t.Error("profile from zero history should be empty")
	}
}

func TestBuildAccumulatesPositiveSignals(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	events := []WatchEvent{
		{URI: "a", CandidateID: 1, Rating: 4.5, LastWatchedAt: now.AddDate(0, 0, -10)},
		{URI: "b", CandidateID: 2, Rating: 5.0, Liked: true, LastWatchedAt: now.AddDate(0, 0, -20)},
		{URI: "c", CandidateID: 3, Rating: 3.0, LastWatchedAt: now.AddDate(0, 0, -30)},
	}

	profile := testProfileBuilder().Build(BuildInput{
		Events:   events,
		Metadata: testMetadata(),
		Now:      now,
	})

	if profile.IsEmpty() {
		t.Fatal("profile should not be empty")
	}
	if len(profile.TopGenres) == 0 || profile.TopGenres[0].Name != "horror" {
		t.Errorf("top genre = %+v, want horror first", profile.TopGenres)
	}

	horror, ok := lookupWeight(profile.TopGenres, "horror")
	if !ok {
		t.Fatal("horror missing from top genres")
	}
	romance, ok := lookupWeight(profile.TopGenres, "romance")
	if !ok {
		t.Fatal("romance missing from top genres")
	}
	if horror.Weight <= romance.Weight {
		t.Errorf("horror weight %v should exceed romance weight %v", horror.Weight, romance.Weight)
	}
	if horror.SampleCount != 2 {
		t.Errorf("horror sample count = %d, want 2", horror.SampleCount)
	}
}

func TestBuildDampeningIsSublinear(t *testing.T) {
	// Ten mediocre watches of one franchise must not bury two loved
	// films of another genre.
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	meta := map[int]Candidate{}
	var events []WatchEvent

	for i := 0; i < 10; i++ {
		id := 100 + i
		meta[id] = Candidate{ID: id, Title: "Franchise Entry", Genres: []string{"Action"}}
		events = append(events, WatchEvent{
			URI: "f" + string(rune('a'+i)), CandidateID: id,
			Rating: 3.0, LastWatchedAt: now.AddDate(0, 0, -5),
		})
	}
	meta[1] = Candidate{ID: 1, Title: "Loved One", Genres: []string{"Horror"}}
	meta[2] = Candidate{ID: 2, Title: "Loved Two", Genres: []string{"Horror"}}
	events = append(events,
		WatchEvent{URI: "x", CandidateID: 1, Rating: 5.0, Liked: true, LastWatchedAt: now.AddDate(0, 0, -5)},
		WatchEvent{URI: "y", CandidateID: 2, Rating: 5.0, Liked: true, LastWatchedAt: now.AddDate(0, 0, -5)},
	)

	profile := testProfileBuilder().Build(BuildInput{Events: events, Metadata: meta, Now: now})

	action, _ := lookupWeight(profile.TopGenres, "action")
	horror, _ := lookupWeight(profile.TopGenres, "horror")
	if action.Weight >= 2*horror.Weight {
		t.Errorf("action %v should not dominate horror %v through repetition alone", action.Weight, horror.Weight)
	}
}

func TestBuildLowRatingsFeedAvoidLists(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	events := []WatchEvent{
		{URI: "a", CandidateID: 3, Rating: 1.5, LastWatchedAt: now.AddDate(0, 0, -5)},
	}

	profile := testProfileBuilder().Build(BuildInput{
		Events:   events,
		Metadata: testMetadata(),
		Now:      now,
	})

	if _, ok := lookupWeight(profile.AvoidGenres, "romance"); !ok {
		t.Error("romance should be on the avoid list after a 1.5-star rating")
	}
	if _, ok := lookupWeight(profile.TopGenres, "romance"); ok {
		t.Error("romance should not be on the top list")
	}
}

func TestBuildRecencyDecayNeverZero(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	events := []WatchEvent{
		{URI: "old", CandidateID: 1, Rating: 5.0, LastWatchedAt: now.AddDate(-20, 0, 0)},
	}

	profile := testProfileBuilder().Build(BuildInput{
		Events:   events,
		Metadata: testMetadata(),
		Now:      now,
	})

	horror, ok := lookupWeight(profile.TopGenres, "horror")
	if !ok {
		t.Fatal("a twenty-year-old five-star watch should still register")
	}
	if horror.Weight <= 0 {
		t.Errorf("decayed weight = %v, want > 0", horror.Weight)
	}
}

func TestBuildWatchlistIntentIsWeaker(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	events := []WatchEvent{
		{URI: "w", CandidateID: 1, OnWatchlist: true, WatchlistAddedAt: now.AddDate(0, 0, -5)},
		{URI: "v", CandidateID: 2, Rating: 4.0, LastWatchedAt: now.AddDate(0, 0, -5)},
	}

	profile := testProfileBuilder().Build(BuildInput{
		Events:   events,
		Metadata: testMetadata(),
		Now:      now,
	})

	intent, ok := lookupWeight(profile.WatchlistGenres, "horror")
	if !ok {
		t.Fatal("watchlist entry should feed intent signals")
	}
	watched, ok := lookupWeight(profile.TopGenres, "horror")
	if !ok {
		t.Fatal("watched entry should feed top signals")
	}
	if intent.Weight >= watched.Weight {
		t.Errorf("intent weight %v should be weaker than watched weight %v", intent.Weight, watched.Weight)
	}
}

func TestBuildFeedbackAdjustsProfile(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	events := []WatchEvent{
		{URI: "a", CandidateID: 1, Rating: 4.0, LastWatchedAt: now.AddDate(0, 0, -5)},
	}
	feedback := []FeedbackEvent{
		{CandidateID: 4, Kind: FeedbackNegativeHard, Timestamp: now.AddDate(0, 0, -1)},
	}

	profile := testProfileBuilder().Build(BuildInput{
		Events:   events,
		Metadata: testMetadata(),
		Feedback: feedback,
		Now:      now,
	})

	if _, ok := lookupWeight(profile.AvoidKeywords, "asylum"); !ok {
		t.Error("hard block on Session 9 should add its keyword to the avoid list")
	}
}

func TestBuildMissingMetadataIgnored(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	events := []WatchEvent{
		{URI: "a", CandidateID: 999, Rating: 5.0, LastWatchedAt: now.AddDate(0, 0, -5)},
	}

	profile := testProfileBuilder().Build(BuildInput{
		Events:   events,
		Metadata: testMetadata(),
		Now:      now,
	})

	if !profile.IsEmpty() {
		t.Error("events with unresolvable metadata should contribute nothing")
	}
}

func TestHalfLifeDecay(t *testing.T) {
	halfLife := 120.0

	if got := halfLifeDecay(0, halfLife); got != 1.0 {
		t.Errorf("decay at age 0 = %v, want 1.0", got)
	}

	at := halfLifeDecay(120*24*time.Hour, halfLife)
	if at < 0.49 || at > 0.51 {
		t.Errorf("decay at one half-life = %v, want ~0.5", at)
	}

	old := halfLifeDecay(10*365*24*time.Hour, halfLife)
	if old <= 0 {
		t.Errorf("decay for very old signal = %v, want > 0", old)
	}
}
