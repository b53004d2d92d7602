// Kinograph - Personalized Film Discovery and Taste Profiling
// Copyright 2026 Kinograph Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kinograph/kinograph

package taste

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeHistory serves canned watch events and metadata.
type fakeHistory struct {
	events   []WatchEvent
	metadata map[int]Candidate
}

func (f *fakeHistory) WatchEvents(_ context.Context, _ int) ([]WatchEvent, error) {
	return f.events, nil
}

func (f *fakeHistory) FilmMetadata(_ context.Context, ids []int) (map[int]Candidate, error) {
	out := make(map[int]Candidate, len(ids))
	for _, id := range ids {
		if c, ok := f.metadata[id]; ok {
			out[id] = c
		}
	}
	return out, nil
}

func (f *fakeHistory) UpsertFilm(_ context.Context, c Candidate) error {
	if f.metadata == nil {
		f.metadata = make(map[int]Candidate)
	}
	f.metadata[c.ID] = c
	return nil
}

// fakeDiscovery serves canned hits and per-candidate details.
type fakeDiscovery struct {
	hits       []DiscoveryHit
	details    map[int]*Candidate
	detailsErr error

	// onDiscover, when set, runs inside Discover to simulate concurrent
	// activity mid-pipeline.
	onDiscover func()
}

func (f *fakeDiscovery) Discover(_ context.Context, _ []SignatureResult, _ int) ([]DiscoveryHit, error) {
	if f.onDiscover != nil {
		f.onDiscover()
	}
	return f.hits, nil
}

func (f *fakeDiscovery) Details(_ context.Context, candidateID int) (*Candidate, error) {
	if f.detailsErr != nil {
		return nil, f.detailsErr
	}
	return f.details[candidateID], nil
}

// topKReranker passes the relevance order through.
type topKReranker struct{}

func (topKReranker) Rerank(items []ScoredCandidate, k int) []ScoredCandidate {
	if k > len(items) {
		k = len(items)
	}
	return items[:k]
}

func (topKReranker) Name() string { return "topk" }

func testEngineHistory() *fakeHistory {
	now := time.Now()
	return &fakeHistory{
		events: []WatchEvent{
			{URI: "a", CandidateID: 1, Rating: 4.5, LastWatchedAt: now.AddDate(0, 0, -10)},
			{URI: "b", CandidateID: 2, Rating: 5.0, Liked: true, LastWatchedAt: now.AddDate(0, 0, -20)},
		},
		metadata: map[int]Candidate{
			1: {ID: 1, Title: "The Haunting", Genres: []string{"Horror"}, Popularity: 12, Year: 1999},
			2: {ID: 2, Title: "Candyman", Genres: []string{"Horror"}, Popularity: 8, Year: 1992},
		},
	}
}

func testEngineDiscovery() *fakeDiscovery {
	stub := func(id int, title string) DiscoveryHit {
		return DiscoveryHit{
			Candidate: Candidate{ID: id, Title: title},
			Sources:   []string{"similar"},
		}
	}
	return &fakeDiscovery{
		hits: []DiscoveryHit{
			stub(10, "The Fog"),
			stub(11, "Hereditary"),
			stub(12, "The Wicker Man"),
			{Candidate: Candidate{ID: 1, Title: "The Haunting"}, Sources: []string{"similar"}},
		},
		details: map[int]*Candidate{
			10: {ID: 10, Title: "The Fog", Genres: []string{"Horror"}, Directors: []string{"John Carpenter"}, Year: 1980, VoteAverage: 6.8, VoteCount: 2000},
			11: {ID: 11, Title: "Hereditary", Genres: []string{"Horror"}, Directors: []string{"Ari Aster"}, Year: 2018, VoteAverage: 8.0, VoteCount: 9000},
			12: {ID: 12, Title: "The Wicker Man", Genres: []string{"Horror"}, Directors: []string{"Robin Hardy"}, Year: 1973, VoteAverage: 7.5, VoteCount: 3000},
		},
	}
}

func newTestEngine(t *testing.T, history HistorySource, disc Discovery, store FeedbackStore) *Engine {
	t.Helper()
	e, err := NewEngine(DefaultConfig(), EngineDeps{
		History:   history,
		Discovery: disc,
		Store:     store,
		Reranker:  topKReranker{},
		Logger:    zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func TestRecommendEndToEnd(t *testing.T) {
	e := newTestEngine(t, testEngineHistory(), testEngineDiscovery(), newMemStore())

	resp, err := e.Recommend(context.Background(), Request{UserID: 1, K: 3})
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}

	if resp.GenerationID == "" {
		t.Error("response missing generation id")
	}
	if len(resp.Items) == 0 || len(resp.Items) > 3 {
		t.Fatalf("items = %d, want 1..3", len(resp.Items))
	}
	for _, item := range resp.Items {
		if item.Candidate.ID == 1 || item.Candidate.ID == 2 {
			t.Errorf("watched film %d leaked into recommendations", item.Candidate.ID)
		}
	}

	md := resp.Metadata
	if md.ProfileEmpty {
		t.Error("profile should not be empty with rated history")
	}
	if md.SeedCount == 0 {
		t.Error("seed count should be positive")
	}
	if md.PoolSize != 3 {
		t.Errorf("pool size = %d, want 3 (watched hit filtered)", md.PoolSize)
	}
	if md.Reranker != "topk" {
		t.Errorf("reranker = %q", md.Reranker)
	}
	if md.CacheHit {
		t.Error("first generation must not report a cache hit")
	}
	if md.FetchFailures != 0 {
		t.Errorf("fetch failures = %d, want 0", md.FetchFailures)
	}
}

func TestRecommendExcludesHardBlocked(t *testing.T) {
	store := newMemStore()
	e := newTestEngine(t, testEngineHistory(), testEngineDiscovery(), store)
	ctx := context.Background()

	block := FeedbackEvent{UserID: 1, CandidateID: 11, Kind: FeedbackNegativeHard, Timestamp: time.Now()}
	if err := e.ApplyFeedback(ctx, block, nil); err != nil {
		t.Fatalf("ApplyFeedback: %v", err)
	}

	resp, err := e.Recommend(ctx, Request{UserID: 1, K: 5})
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	for _, item := range resp.Items {
		if item.Candidate.ID == 11 {
			t.Error("hard-blocked candidate leaked into recommendations")
		}
	}
}

func TestRecommendCacheHit(t *testing.T) {
	e := newTestEngine(t, testEngineHistory(), testEngineDiscovery(), newMemStore())
	ctx := context.Background()

	first, err := e.Recommend(ctx, Request{UserID: 1, K: 3})
	if err != nil {
		t.Fatalf("first Recommend: %v", err)
	}
	second, err := e.Recommend(ctx, Request{UserID: 1, K: 3})
	if err != nil {
		t.Fatalf("second Recommend: %v", err)
	}

	if !second.Metadata.CacheHit {
		t.Error("second identical request should be served from cache")
	}
	if second.GenerationID != first.GenerationID {
		t.Error("cached response should carry the original generation id")
	}
	if first.Metadata.CacheHit {
		t.Error("cache hit flag must not leak back into the cached entry")
	}

	// A different K is a different cache key.
	third, err := e.Recommend(ctx, Request{UserID: 1, K: 2})
	if err != nil {
		t.Fatalf("third Recommend: %v", err)
	}
	if third.Metadata.CacheHit {
		t.Error("different K should miss the cache")
	}
}

func TestFeedbackInvalidatesCache(t *testing.T) {
	e := newTestEngine(t, testEngineHistory(), testEngineDiscovery(), newMemStore())
	ctx := context.Background()

	if _, err := e.Recommend(ctx, Request{UserID: 1, K: 3}); err != nil {
		t.Fatalf("Recommend: %v", err)
	}

	ev := FeedbackEvent{UserID: 1, CandidateID: 10, Kind: FeedbackNegativeSoft, Timestamp: time.Now()}
	if err := e.ApplyFeedback(ctx, ev, nil); err != nil {
		t.Fatalf("ApplyFeedback: %v", err)
	}

	resp, err := e.Recommend(ctx, Request{UserID: 1, K: 3})
	if err != nil {
		t.Fatalf("Recommend after feedback: %v", err)
	}
	if resp.Metadata.CacheHit {
		t.Error("feedback must invalidate the cached response")
	}
}

func TestUndoWithoutCandidateReversesFeatureStats(t *testing.T) {
	// The HTTP DELETE path carries no candidate payload. The engine must
	// resolve the stored metadata so undo reverses the same feature
	// counters apply incremented, leaving no residual avoid weight.
	ctx := context.Background()
	store := newMemStore()
	e := newTestEngine(t, testEngineHistory(), testEngineDiscovery(), store)

	ev := testDismissal(FeedbackNegativeSoft)
	if err := e.ApplyFeedback(ctx, ev, testFeedbackCandidate()); err != nil {
		t.Fatalf("ApplyFeedback: %v", err)
	}
	if len(store.stats) == 0 {
		t.Fatal("apply with candidate metadata should write feature stats")
	}

	if err := e.UndoFeedback(ctx, ev.UserID, ev.CandidateID, nil); err != nil {
		t.Fatalf("UndoFeedback: %v", err)
	}

	for _, s := range store.stats {
		if s.Pos != 0 || s.Neg != 0 {
			t.Errorf("feature stat %s/%s = pos %d neg %d after undo, want zeroed", s.Type, s.Name, s.Pos, s.Neg)
		}
	}
	weights, err := e.learner.AvoidWeights(ctx, ev.UserID)
	if err != nil {
		t.Fatalf("AvoidWeights: %v", err)
	}
	if len(weights) != 0 {
		t.Errorf("avoid weights after undo = %v, want none", weights)
	}
}

func TestRecommendSupersededMidRun(t *testing.T) {
	store := newMemStore()
	history := testEngineHistory()
	disc := testEngineDiscovery()
	e := newTestEngine(t, history, disc, store)
	ctx := context.Background()

	// Feedback arriving while the pipeline runs starts a fresh generation;
	// the stale result must be discarded, never served or cached.
	disc.onDiscover = func() {
		ev := FeedbackEvent{UserID: 1, CandidateID: 12, Kind: FeedbackNegativeSoft, Timestamp: time.Now()}
		if err := e.ApplyFeedback(ctx, ev, nil); err != nil {
			t.Errorf("ApplyFeedback: %v", err)
		}
	}

	if _, err := e.Recommend(ctx, Request{UserID: 1, K: 3}); !errors.Is(err, ErrSuperseded) {
		t.Fatalf("Recommend = %v, want ErrSuperseded", err)
	}

	disc.onDiscover = nil
	resp, err := e.Recommend(ctx, Request{UserID: 1, K: 3})
	if err != nil {
		t.Fatalf("Recommend after supersession: %v", err)
	}
	if resp.Metadata.CacheHit {
		t.Error("superseded run must not have populated the cache")
	}
}

func TestRecommendFetchFailureKeepsStub(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Limits.FetchRetries = 0
	cfg.Limits.FetchRetryBaseDelay = time.Millisecond

	disc := testEngineDiscovery()
	disc.detailsErr = errors.New("catalog down")

	e, err := NewEngine(cfg, EngineDeps{
		History:   testEngineHistory(),
		Discovery: disc,
		Store:     newMemStore(),
		Reranker:  topKReranker{},
		Logger:    zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	resp, err := e.Recommend(context.Background(), Request{UserID: 1, K: 3})
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}

	if resp.Metadata.FetchFailures != 3 {
		t.Errorf("fetch failures = %d, want 3 (every pool candidate)", resp.Metadata.FetchFailures)
	}
	if len(resp.Items) == 0 {
		t.Error("stub candidates should still be scored and returned")
	}
}

func TestRecommendEmptyHistoryFallsBack(t *testing.T) {
	history := &fakeHistory{metadata: map[int]Candidate{}}
	e := newTestEngine(t, history, testEngineDiscovery(), newMemStore())

	resp, err := e.Recommend(context.Background(), Request{UserID: 1})
	if err != nil {
		t.Fatalf("Recommend with empty history: %v", err)
	}
	if !resp.Metadata.ProfileEmpty {
		t.Error("empty history should report the popularity-only fallback")
	}
	if len(resp.Items) == 0 {
		t.Error("fallback should still produce a ranking")
	}
}

func TestRecommendKDefaultsAndClamps(t *testing.T) {
	disc := &fakeDiscovery{details: map[int]*Candidate{}}
	for i := 0; i < 40; i++ {
		id := 100 + i
		disc.hits = append(disc.hits, DiscoveryHit{
			Candidate: Candidate{ID: id, Title: "Candidate", Popularity: float64(i)},
			Sources:   []string{"similar"},
		})
		disc.details[id] = &Candidate{ID: id, Title: "Candidate", Genres: []string{"Horror"}, Year: 2000, Popularity: float64(i)}
	}

	e := newTestEngine(t, testEngineHistory(), disc, newMemStore())

	resp, err := e.Recommend(context.Background(), Request{UserID: 1, K: 0})
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if want := DefaultConfig().Limits.DefaultK; len(resp.Items) != want {
		t.Errorf("items with K=0 = %d, want default %d", len(resp.Items), want)
	}
}

func TestEffectiveLambdaClamps(t *testing.T) {
	e := newTestEngine(t, testEngineHistory(), testEngineDiscovery(), newMemStore())

	tests := []struct {
		name    string
		session *SessionContext
		want    float64
	}{
		{"nil session uses default", nil, DefaultConfig().Diversity.Lambda},
		{"zero uses default", &SessionContext{}, DefaultConfig().Diversity.Lambda},
		{"explicit value", &SessionContext{Lambda: 0.2}, 0.2},
		{"above max clamped", &SessionContext{Lambda: 0.9}, DefaultConfig().Diversity.MaxLambda},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.effectiveLambda(tt.session); got != tt.want {
				t.Errorf("effectiveLambda = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewEngineRejectsMissingDeps(t *testing.T) {
	_, err := NewEngine(DefaultConfig(), EngineDeps{Logger: zerolog.Nop()})
	if err == nil {
		t.Error("NewEngine without collaborators should fail")
	}

	bad := DefaultConfig()
	bad.Limits.DefaultK = 0
	_, err = NewEngine(bad, EngineDeps{
		History:   testEngineHistory(),
		Discovery: testEngineDiscovery(),
		Store:     newMemStore(),
		Logger:    zerolog.Nop(),
	})
	if err == nil {
		t.Error("NewEngine with invalid config should fail")
	}
}
