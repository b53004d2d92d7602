// Kinograph - Personalized Film Discovery and Taste Profiling
// Copyright 2026 Kinograph Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kinograph/kinograph

package taste

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kinograph/kinograph/internal/metrics"
)

// ErrSuperseded is returned when a newer generation for the same user
// started while this one was still running. The caller should retry or
// simply wait for the newer generation's result.
var ErrSuperseded = errors.New("recommendation generation superseded")

// HistorySource supplies a user's watch history and the metadata of the
// films in it. Implemented by the store package.
type HistorySource interface {
	// WatchEvents returns all history entries for a user.
	WatchEvents(ctx context.Context, userID int) ([]WatchEvent, error)

	// FilmMetadata returns candidate metadata for the given catalog ids.
	// Missing ids are simply absent from the map, never an error.
	FilmMetadata(ctx context.Context, ids []int) (map[int]Candidate, error)
}

// DiscoveryHit is one candidate surfaced by discovery, with the
// channels that surfaced it. The candidate may be a stub; the engine
// fetches full metadata afterward.
type DiscoveryHit struct {
	Candidate Candidate `json:"candidate"`

	// Sources lists the discovery channels ("similar", "director",
	// "keyword", ...) that independently surfaced this candidate.
	// Duplicate hits across channels must be merged by the implementation.
	Sources []string `json:"sources"`
}

// Discovery supplies recommendation candidates for seed films and
// fetches per-candidate metadata. Implemented by the discovery package.
type Discovery interface {
	// Discover returns merged candidate hits for the seed films.
	Discover(ctx context.Context, seeds []SignatureResult, limit int) ([]DiscoveryHit, error)

	// Details fetches full metadata for one candidate. A not-found
	// result returns (nil, nil); transport errors return an error.
	Details(ctx context.Context, candidateID int) (*Candidate, error)
}

// Reranker reorders a relevance-ranked list for presentation.
type Reranker interface {
	// Rerank selects up to k items from a descending-relevance list.
	Rerank(items []ScoredCandidate, k int) []ScoredCandidate

	// Name identifies the reranker in response metadata.
	Name() string
}

// Request is one recommendation request.
type Request struct {
	// UserID identifies the user.
	UserID int `json:"user_id"`

	// K is the number of recommendations wanted (0 = configured default).
	K int `json:"k"`

	// Session optionally carries tone and diversity controls.
	Session *SessionContext `json:"session,omitempty"`
}

// ResponseMetadata describes how a response was produced.
type ResponseMetadata struct {
	// ProfileEmpty indicates the popularity-only fallback was used.
	ProfileEmpty bool `json:"profile_empty"`

	// SeedCount is the number of signature seeds passed to discovery.
	SeedCount int `json:"seed_count"`

	// PoolSize is the candidate pool size after filtering.
	PoolSize int `json:"pool_size"`

	// FetchFailures counts candidates whose metadata fetch failed after
	// retries; they are scored from the discovery stub instead.
	FetchFailures int `json:"fetch_failures"`

	// Reranker names the applied reranking strategy.
	Reranker string `json:"reranker"`

	// Lambda is the effective relevance/diversity balance.
	Lambda float64 `json:"lambda"`

	// CacheHit indicates the response was served from cache.
	CacheHit bool `json:"cache_hit"`

	// GeneratedAt is when the pipeline finished.
	GeneratedAt time.Time `json:"generated_at"`

	// ElapsedMS is the pipeline wall time in milliseconds.
	ElapsedMS int64 `json:"elapsed_ms"`
}

// Response is one recommendation response.
type Response struct {
	// GenerationID is the unique id of this pipeline run. A run whose
	// id was superseded before it finished is discarded, never served.
	GenerationID string `json:"generation_id"`

	// UserID identifies the user.
	UserID int `json:"user_id"`

	// Items are the final recommendations, at most K.
	Items []ScoredCandidate `json:"items"`

	// Metadata describes how the response was produced.
	Metadata ResponseMetadata `json:"metadata"`
}

// Engine orchestrates the recommendation pipeline: rebuild the taste
// profile, rank signature seeds, discover candidates, fetch metadata
// under bounded concurrency, score, apply reliability weighting, and
// rerank for diversity.
//
// Each run gets a generation id; starting a new run for the same user
// supersedes any in-flight one, whose result is discarded on arrival.
// The pipeline holds no lock while running, so a slow discovery call
// never blocks feedback writes or other users' requests.
type Engine struct {
	cfg *Config

	profiles   *ProfileBuilder
	signatures *SignatureScorer
	overlap    *OverlapScorer
	weighter   *ReliabilityWeighter
	learner    *FeedbackLearner
	reranker   Reranker

	history   HistorySource
	discovery Discovery
	store     FeedbackStore

	logger zerolog.Logger

	mu          sync.Mutex
	generations map[int]string
	cache       map[string]cachedResponse
}

// cachedResponse is one response cache entry.
type cachedResponse struct {
	response  *Response
	expiresAt time.Time
}

// EngineDeps bundles the engine's collaborators.
type EngineDeps struct {
	History   HistorySource
	Discovery Discovery
	Store     FeedbackStore
	Reranker  Reranker
	Logger    zerolog.Logger
}

// NewEngine creates a recommendation engine from a validated config.
func NewEngine(cfg *Config, deps EngineDeps) (*Engine, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if deps.History == nil || deps.Discovery == nil || deps.Store == nil {
		return nil, errors.New("history, discovery, and store are required")
	}

	logger := deps.Logger.With().Str("component", "engine").Logger()

	weighter := NewReliabilityWeighter(cfg.Reliability, deps.Store, deps.Logger)

	e := &Engine{
		cfg:         cfg,
		profiles:    NewProfileBuilder(cfg.Profile, cfg.Learner, deps.Logger),
		signatures:  NewSignatureScorer(cfg.Signature),
		overlap:     NewOverlapScorer(cfg.Overlap, weighter, deps.Logger),
		weighter:    weighter,
		learner:     NewFeedbackLearner(cfg.Learner, deps.Store, deps.Logger),
		reranker:    deps.Reranker,
		history:     deps.History,
		discovery:   deps.Discovery,
		store:       deps.Store,
		logger:      logger,
		generations: make(map[int]string),
		cache:       make(map[string]cachedResponse),
	}
	return e, nil
}

// Learner exposes the feedback learner for transports that record
// feedback directly.
func (e *Engine) Learner() *FeedbackLearner {
	return e.learner
}

// Profile rebuilds and returns the user's current taste profile
// without running discovery. Used by the profile inspection endpoint.
func (e *Engine) Profile(ctx context.Context, userID int) (*TasteProfile, error) {
	events, err := e.history.WatchEvents(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load watch history: %w", err)
	}

	ids := make([]int, 0, len(events))
	for i := range events {
		if events[i].CandidateID > 0 {
			ids = append(ids, events[i].CandidateID)
		}
	}
	metadata, err := e.history.FilmMetadata(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load film metadata: %w", err)
	}

	feedback, err := e.store.FeedbackForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load feedback: %w", err)
	}
	stats, err := e.store.FeatureStats(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load feature stats: %w", err)
	}

	return e.profiles.Build(BuildInput{
		Events:   events,
		Metadata: metadata,
		Feedback: feedback,
		Stats:    stats,
		Now:      time.Now(),
	}), nil
}

// SuggestionState returns the lifecycle state for a (user, candidate) pair.
func (e *Engine) SuggestionState(ctx context.Context, userID, candidateID int) (SuggestionState, error) {
	return e.learner.State(ctx, userID, candidateID)
}

// Recommend runs the full pipeline for one request.
func (e *Engine) Recommend(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	k := req.K
	if k <= 0 {
		k = e.cfg.Limits.DefaultK
	}
	if k > e.cfg.Limits.MaxK {
		k = e.cfg.Limits.MaxK
	}

	cacheKey := e.cacheKey(req.UserID, k, req.Session)
	if cached := e.cachedResponse(cacheKey); cached != nil {
		metrics.ResponseCacheHits.Inc()
		cached.Metadata.CacheHit = true
		return cached, nil
	}
	metrics.ResponseCacheMisses.Inc()

	generation := e.beginGeneration(req.UserID)

	resp, err := e.run(ctx, req.UserID, k, req.Session, generation)
	if err != nil {
		metrics.RecordGeneration("error", time.Since(start), 0)
		return nil, err
	}

	// A run that was superseded mid-flight is stale: a feedback write or
	// newer request started a fresh generation whose inputs differ.
	if !e.generationCurrent(req.UserID, generation) {
		metrics.RecordGeneration("superseded", time.Since(start), 0)
		return nil, ErrSuperseded
	}

	resp.Metadata.GeneratedAt = time.Now()
	resp.Metadata.ElapsedMS = time.Since(start).Milliseconds()
	metrics.RecordGeneration("ok", time.Since(start), resp.Metadata.PoolSize)

	e.storeResponse(cacheKey, resp)

	e.logger.Info().
		Int("user_id", req.UserID).
		Int("k", k).
		Int("pool_size", resp.Metadata.PoolSize).
		Int("fetch_failures", resp.Metadata.FetchFailures).
		Bool("profile_empty", resp.Metadata.ProfileEmpty).
		Int64("elapsed_ms", resp.Metadata.ElapsedMS).
		Msg("recommendations generated")

	return resp, nil
}

// run executes the pipeline stages for one generation.
func (e *Engine) run(ctx context.Context, userID, k int, session *SessionContext, generation string) (*Response, error) {
	events, err := e.history.WatchEvents(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load watch history: %w", err)
	}

	watchedIDs := make([]int, 0, len(events))
	watched := make(map[int]struct{}, len(events))
	for i := range events {
		if events[i].CandidateID > 0 {
			watchedIDs = append(watchedIDs, events[i].CandidateID)
			if events[i].Watched() {
				watched[events[i].CandidateID] = struct{}{}
			}
		}
	}

	metadata, err := e.history.FilmMetadata(ctx, watchedIDs)
	if err != nil {
		return nil, fmt.Errorf("load film metadata: %w", err)
	}

	feedback, err := e.store.FeedbackForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load feedback: %w", err)
	}
	stats, err := e.store.FeatureStats(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load feature stats: %w", err)
	}

	profile := e.profiles.Build(BuildInput{
		Events:   events,
		Metadata: metadata,
		Feedback: feedback,
		Stats:    stats,
		Now:      time.Now(),
	})

	seeds := e.selectSeeds(events, metadata, profile)

	hits, err := e.discovery.Discover(ctx, seeds, e.cfg.Limits.MaxCandidates)
	if err != nil {
		return nil, fmt.Errorf("discover candidates: %w", err)
	}

	blocked, err := e.learner.BlockedCandidates(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load blocked candidates: %w", err)
	}

	pool, sources := e.filterPool(hits, watched, blocked)

	candidates, failures := e.fetchDetails(ctx, pool, generation, userID)

	softPenalties, err := e.learner.SoftPenalties(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load soft penalties: %w", err)
	}
	avoidWeights, err := e.learner.AvoidWeights(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load avoid weights: %w", err)
	}

	scored := e.overlap.Score(ctx, ScoreRequest{
		UserID:        userID,
		Profile:       profile,
		Candidates:    candidates,
		Sources:       sources,
		AvoidWeights:  avoidWeights,
		SoftPenalties: softPenalties,
		Session:       session,
	})

	lambda := e.effectiveLambda(session)
	items, rerankerName := e.rerank(scored, k, lambda)

	return &Response{
		GenerationID: generation,
		UserID:       userID,
		Items:        items,
		Metadata: ResponseMetadata{
			ProfileEmpty:  profile.IsEmpty(),
			SeedCount:     len(seeds),
			PoolSize:      len(candidates),
			FetchFailures: failures,
			Reranker:      rerankerName,
			Lambda:        lambda,
		},
	}, nil
}

// selectSeeds picks the top signature-scored watched films as discovery
// seeds. Depth of taste beats popularity here: a beloved obscure film
// seeds better discovery than a beloved blockbuster.
func (e *Engine) selectSeeds(events []WatchEvent, metadata map[int]Candidate, profile *TasteProfile) []SignatureResult {
	inputs := make([]SignatureInput, 0, len(events))
	for i := range events {
		ev := &events[i]
		if !ev.Watched() {
			continue
		}
		cand, ok := metadata[ev.CandidateID]
		if !ok {
			continue
		}
		inputs = append(inputs, SignatureInput{
			CandidateID: cand.ID,
			Title:       cand.Title,
			Rating:      ev.Rating,
			Liked:       ev.Liked,
			Popularity:  cand.Popularity,
			Genres:      cand.Genres,
			Year:        cand.Year,
		})
	}

	ranked := e.signatures.Rank(inputs, profile)
	if len(ranked) > e.cfg.Limits.SeedCount {
		ranked = ranked[:e.cfg.Limits.SeedCount]
	}
	return ranked
}

// filterPool drops watched and hard-blocked candidates, dedupes by id,
// and caps the pool size.
func (e *Engine) filterPool(hits []DiscoveryHit, watched, blocked map[int]struct{}) ([]Candidate, map[int][]string) {
	pool := make([]Candidate, 0, len(hits))
	sources := make(map[int][]string, len(hits))
	seen := make(map[int]struct{}, len(hits))

	for i := range hits {
		id := hits[i].Candidate.ID
		if id <= 0 {
			continue
		}
		if _, ok := watched[id]; ok {
			continue
		}
		if _, ok := blocked[id]; ok {
			continue
		}
		if _, ok := seen[id]; ok {
			sources[id] = mergeSources(sources[id], hits[i].Sources)
			continue
		}
		seen[id] = struct{}{}
		pool = append(pool, hits[i].Candidate)
		sources[id] = mergeSources(nil, hits[i].Sources)

		if len(pool) >= e.cfg.Limits.MaxCandidates {
			break
		}
	}

	return pool, sources
}

// fetchDetails resolves full metadata for the pool under bounded
// concurrency with per-candidate retries. A candidate whose fetch fails
// after the retry budget keeps its discovery stub and is scored with
// whatever metadata the stub carries; one flaky fetch never fails the
// whole run.
func (e *Engine) fetchDetails(ctx context.Context, pool []Candidate, generation string, userID int) ([]Candidate, int) {
	if len(pool) == 0 {
		return pool, 0
	}

	out := make([]Candidate, len(pool))
	copy(out, pool)

	var failures int64
	var failMu sync.Mutex

	jobs := make(chan int)
	var wg sync.WaitGroup

	workers := e.cfg.Limits.FetchWorkers
	if workers > len(pool) {
		workers = len(pool)
	}

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				detail, err := e.fetchOne(ctx, out[idx].ID)
				if err != nil {
					failMu.Lock()
					failures++
					failMu.Unlock()
					metrics.MetadataFetchFailures.Inc()
					e.logger.Debug().Err(err).
						Int("candidate_id", out[idx].ID).
						Str("generation", generation).
						Int("user_id", userID).
						Msg("metadata fetch failed, scoring from stub")
					continue
				}
				if detail != nil {
					out[idx] = *detail
				}
			}
		}()
	}

feed:
	for i := range out {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	return out, int(failures)
}

// fetchOne fetches one candidate's metadata with exponential backoff.
func (e *Engine) fetchOne(ctx context.Context, candidateID int) (*Candidate, error) {
	var lastErr error
	delay := e.cfg.Limits.FetchRetryBaseDelay

	for attempt := 0; attempt <= e.cfg.Limits.FetchRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			delay *= 2
		}

		detail, err := e.discovery.Details(ctx, candidateID)
		if err == nil {
			return detail, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("fetch candidate %d: %w", candidateID, lastErr)
}

// effectiveLambda resolves the MMR balance for a session.
func (e *Engine) effectiveLambda(session *SessionContext) float64 {
	lambda := e.cfg.Diversity.Lambda
	if session != nil && session.Lambda > 0 {
		lambda = session.Lambda
	}
	if lambda > e.cfg.Diversity.MaxLambda {
		lambda = e.cfg.Diversity.MaxLambda
	}
	if lambda < 0 {
		lambda = 0
	}
	return lambda
}

// rerank applies diversity reranking over the top relevance pool.
func (e *Engine) rerank(scored []ScoredCandidate, k int, lambda float64) ([]ScoredCandidate, string) {
	if e.reranker == nil {
		if len(scored) > k {
			scored = scored[:k]
		}
		return scored, "none"
	}

	poolSize := k * e.cfg.Diversity.PoolMultiple
	if poolSize > len(scored) {
		poolSize = len(scored)
	}

	reranker := e.reranker
	if dynamic, ok := reranker.(interface{ WithLambda(float64) Reranker }); ok {
		reranker = dynamic.WithLambda(lambda)
	}

	return reranker.Rerank(scored[:poolSize], k), reranker.Name()
}

// ApplyFeedback records feedback and invalidates every cache the
// counters feed, then supersedes any in-flight generation so the next
// response reflects the new state. Caller-supplied candidate metadata
// is persisted so a later undo without it reverses the same feature
// counters.
func (e *Engine) ApplyFeedback(ctx context.Context, ev FeedbackEvent, cand *Candidate) error {
	if cand == nil {
		cand = e.lookupCandidate(ctx, ev.CandidateID)
	} else {
		e.keepCandidate(ctx, cand)
	}
	if err := e.learner.Apply(ctx, ev, cand); err != nil {
		return err
	}
	e.invalidateUser(ev.UserID)
	return nil
}

// UndoFeedback reverses feedback and invalidates like ApplyFeedback.
// Undo must reverse the exact feature counters apply incremented, so a
// caller without the candidate gets it resolved from the store.
func (e *Engine) UndoFeedback(ctx context.Context, userID, candidateID int, cand *Candidate) error {
	if cand == nil {
		cand = e.lookupCandidate(ctx, candidateID)
	}
	if err := e.learner.Undo(ctx, userID, candidateID, cand); err != nil {
		return err
	}
	e.invalidateUser(userID)
	return nil
}

// lookupCandidate fetches candidate metadata for feedback counter
// adjustment. Best effort: a record that was never stored leaves the
// feature counters untouched, matching an apply that carried no
// metadata either.
func (e *Engine) lookupCandidate(ctx context.Context, candidateID int) *Candidate {
	metadata, err := e.history.FilmMetadata(ctx, []int{candidateID})
	if err != nil {
		e.logger.Warn().Err(err).
			Int("candidate_id", candidateID).
			Msg("candidate lookup for feedback failed")
		return nil
	}
	if c, ok := metadata[candidateID]; ok {
		return &c
	}
	return nil
}

// keepCandidate persists caller-supplied candidate metadata when the
// history source can store it.
func (e *Engine) keepCandidate(ctx context.Context, cand *Candidate) {
	sink, ok := e.history.(interface {
		UpsertFilm(ctx context.Context, c Candidate) error
	})
	if !ok {
		return
	}
	if err := sink.UpsertFilm(ctx, *cand); err != nil {
		e.logger.Warn().Err(err).
			Int("candidate_id", cand.ID).
			Msg("candidate metadata upsert failed")
	}
}

// invalidateUser drops cached responses and reliability multipliers for
// a user and supersedes any in-flight generation.
func (e *Engine) invalidateUser(userID int) {
	e.weighter.Invalidate(userID)

	prefix := fmt.Sprintf("%d|", userID)

	e.mu.Lock()
	defer e.mu.Unlock()
	for key := range e.cache {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			delete(e.cache, key)
		}
	}
	e.generations[userID] = uuid.NewString()
}

// beginGeneration registers a new generation id for a user, superseding
// any in-flight one.
func (e *Engine) beginGeneration(userID int) string {
	generation := uuid.NewString()
	e.mu.Lock()
	e.generations[userID] = generation
	e.mu.Unlock()
	return generation
}

// generationCurrent reports whether a generation id is still the
// newest for its user.
func (e *Engine) generationCurrent(userID int, generation string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.generations[userID] == generation
}

// cacheKey builds a deterministic response cache key.
func (e *Engine) cacheKey(userID, k int, session *SessionContext) string {
	tone := ""
	lambda := 0.0
	if session != nil {
		tone = session.Tone
		lambda = session.Lambda
	}
	return fmt.Sprintf("%d|%d|%s|%.3f", userID, k, tone, lambda)
}

// cachedResponse returns a fresh cached response, or nil.
func (e *Engine) cachedResponse(key string) *Response {
	if !e.cfg.Cache.Enabled {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	entry, ok := e.cache[key]
	if !ok || time.Now().After(entry.expiresAt) {
		delete(e.cache, key)
		return nil
	}

	// Shallow copy so the caller's CacheHit flag never mutates the entry.
	resp := *entry.response
	return &resp
}

// storeResponse caches a response, evicting expired entries first and
// an arbitrary entry when still full.
func (e *Engine) storeResponse(key string, resp *Response) {
	if !e.cfg.Cache.Enabled {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	for k, entry := range e.cache {
		if now.After(entry.expiresAt) {
			delete(e.cache, k)
		}
	}
	if len(e.cache) >= e.cfg.Cache.MaxEntries {
		for k := range e.cache {
			delete(e.cache, k)
			break
		}
	}

	e.cache[key] = cachedResponse{
		response:  resp,
		expiresAt: now.Add(e.cfg.Cache.TTL),
	}
}

// mergeSources appends new sources, deduplicated, preserving order.
func mergeSources(existing, incoming []string) []string {
	for _, src := range incoming {
		found := false
		for _, have := range existing {
			if have == src {
				found = true
				break
			}
		}
		if !found {
			existing = append(existing, src)
		}
	}
	return existing
}
