// Kinograph - Personalized Film Discovery and Taste Profiling
// Copyright 2026 Kinograph Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kinograph/kinograph

// Package discovery fetches recommendation candidates from an external
// film catalog API.
//
// The client wraps every request with a circuit breaker and a token
// bucket rate limiter. HTTP 429 and 5xx responses are transient and
// retried by the caller; 404 is "no data" and never an error; any other
// 4xx is fatal for that request. Malformed payload fields are dropped,
// never guessed: a candidate with an unparseable id is discarded.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/kinograph/kinograph/internal/metrics"
	"github.com/kinograph/kinograph/internal/taste"
)

// maxErrorBodySize limits the response body read for error reporting.
const maxErrorBodySize = 64 * 1024

// Discovery channels. Each seed film is expanded through every channel;
// a candidate surfaced by several channels gains consensus.
const (
	ChannelSimilar  = "similar"
	ChannelKeyword  = "keyword"
	ChannelDirector = "director"
)

// ErrNoData marks a clean "catalog has nothing for this request".
var ErrNoData = errors.New("discovery: no data")

// errTransient marks retryable transport or upstream failures.
var errTransient = errors.New("discovery: transient upstream failure")

// IsTransient reports whether an error is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, errTransient) ||
		errors.Is(err, gobreaker.ErrOpenState) ||
		errors.Is(err, gobreaker.ErrTooManyRequests)
}

// Config contains catalog client settings.
type Config struct {
	// BaseURL is the catalog API root.
	BaseURL string `json:"base_url"`

	// APIKey authenticates catalog requests.
	APIKey string `json:"api_key"`

	// Timeout is the per-request HTTP timeout. Default: 10s.
	Timeout time.Duration `json:"timeout"`

	// RequestsPerSecond is the rate limit toward the catalog. Default: 8.
	RequestsPerSecond float64 `json:"requests_per_second"`

	// Burst is the rate limiter burst size. Default: 4.
	Burst int `json:"burst"`

	// PerSeedLimit caps candidates fetched per seed per channel. Default: 20.
	PerSeedLimit int `json:"per_seed_limit"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:           10 * time.Second,
		RequestsPerSecond: 8,
		Burst:             4,
		PerSeedLimit:      20,
	}
}

// Client is a catalog API client implementing the engine's Discovery
// collaborator.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	cb      *gobreaker.CircuitBreaker[[]byte]
	logger  zerolog.Logger
}

// NewClient creates a catalog client.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewClient(cfg Config, logger zerolog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 8
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 4
	}
	if cfg.PerSeedLimit <= 0 {
		cfg.PerSeedLimit = 20
	}

	clog := logger.With().Str("component", "discovery").Logger()

	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "catalog-api",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			clog.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state transition")
		},
	})

	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		cb:      cb,
		logger:  clog,
	}
}

// listPayload is the catalog's paged list response shape.
type listPayload struct {
	Results []stubPayload `json:"results"`
}

// stubPayload is one list entry: id, title, and coarse signals only.
type stubPayload struct {
	ID          int      `json:"id"`
	Title       string   `json:"title"`
	GenreIDs    []int    `json:"genre_ids"`
	ReleaseDate string   `json:"release_date"`
	Popularity  float64  `json:"popularity"`
	VoteAverage float64  `json:"vote_average"`
	VoteCount   int      `json:"vote_count"`
	Directors   []string `json:"directors"`
}

// detailPayload is the catalog's full film detail response shape.
type detailPayload struct {
	ID          int     `json:"id"`
	Title       string  `json:"title"`
	ReleaseDate string  `json:"release_date"`
	Runtime     int     `json:"runtime"`
	Popularity  float64 `json:"popularity"`
	VoteAverage float64 `json:"vote_average"`
	VoteCount   int     `json:"vote_count"`

	Genres []struct {
		Name string `json:"name"`
	} `json:"genres"`

	Keywords struct {
		Keywords []struct {
			Name string `json:"name"`
		} `json:"keywords"`
	} `json:"keywords"`

	Credits struct {
		Cast []struct {
			Name  string `json:"name"`
			Order int    `json:"order"`
		} `json:"cast"`
		Crew []struct {
			Name string `json:"name"`
			Job  string `json:"job"`
		} `json:"crew"`
	} `json:"credits"`

	ProductionCompanies []struct {
		Name string `json:"name"`
	} `json:"production_companies"`
}

// topBilledCast is how many cast members count as actor features.
const topBilledCast = 8

// Discover expands the seed films through every channel and merges the
// hits by candidate id. A channel that fails or returns nothing for one
// seed is skipped; discovery fails only when every request fails.
func (c *Client) Discover(ctx context.Context, seeds []taste.SignatureResult, limit int) ([]taste.DiscoveryHit, error) {
	merged := make(map[int]*taste.DiscoveryHit)
	order := make([]int, 0, limit)
	attempts, failures := 0, 0

	for _, seed := range seeds {
		for _, channel := range []string{ChannelSimilar, ChannelKeyword, ChannelDirector} {
			attempts++
			stubs, err := c.channelCandidates(ctx, seed.CandidateID, channel)
			if err != nil {
				failures++
				metrics.DiscoveryRequests.WithLabelValues(channel, "error").Inc()
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return nil, err
				}
				c.logger.Debug().Err(err).
					Int("seed_id", seed.CandidateID).
					Str("channel", channel).
					Msg("discovery channel failed, skipping")
				continue
			}
			if len(stubs) == 0 {
				metrics.DiscoveryRequests.WithLabelValues(channel, "no_data").Inc()
			} else {
				metrics.DiscoveryRequests.WithLabelValues(channel, "ok").Inc()
			}

			for i := range stubs {
				cand, ok := coerceStub(&stubs[i])
				if !ok {
					continue
				}
				if hit, seen := merged[cand.ID]; seen {
					hit.Sources = appendSource(hit.Sources, channel)
					continue
				}
				merged[cand.ID] = &taste.DiscoveryHit{
					Candidate: cand,
					Sources:   []string{channel},
				}
				order = append(order, cand.ID)
			}
		}
	}

	if attempts > 0 && failures == attempts {
		return nil, fmt.Errorf("all %d discovery requests failed: %w", attempts, errTransient)
	}

	hits := make([]taste.DiscoveryHit, 0, len(order))
	for _, id := range order {
		hits = append(hits, *merged[id])
		if len(hits) >= limit {
			break
		}
	}
	return hits, nil
}

// channelCandidates fetches one seed's candidates through one channel.
func (c *Client) channelCandidates(ctx context.Context, seedID int, channel string) ([]stubPayload, error) {
	var path string
	switch channel {
	case ChannelSimilar:
		path = fmt.Sprintf("/movie/%d/similar", seedID)
	case ChannelKeyword:
		path = fmt.Sprintf("/movie/%d/recommendations", seedID)
	case ChannelDirector:
		path = fmt.Sprintf("/movie/%d/credits/director/filmography", seedID)
	default:
		return nil, fmt.Errorf("unknown discovery channel %q", channel)
	}

	var payload listPayload
	err := c.getJSON(ctx, path, url.Values{}, &payload)
	if errors.Is(err, ErrNoData) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if len(payload.Results) > c.cfg.PerSeedLimit {
		payload.Results = payload.Results[:c.cfg.PerSeedLimit]
	}
	return payload.Results, nil
}

// Details fetches full metadata for one candidate. Returns (nil, nil)
// when the catalog has no record.
func (c *Client) Details(ctx context.Context, candidateID int) (*taste.Candidate, error) {
	query := url.Values{}
	query.Set("append_to_response", "keywords,credits")

	var payload detailPayload
	err := c.getJSON(ctx, fmt.Sprintf("/movie/%d", candidateID), query, &payload)
	if errors.Is(err, ErrNoData) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	cand := coerceDetail(&payload)
	if cand == nil {
		return nil, fmt.Errorf("candidate %d payload missing id or title", candidateID)
	}
	return cand, nil
}

// getJSON performs one rate-limited, breaker-guarded GET.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	query.Set("api_key", c.cfg.APIKey)
	reqURL := c.cfg.BaseURL + path + "?" + query.Encode()

	body, err := c.cb.Execute(func() ([]byte, error) {
		return c.doGet(ctx, reqURL)
	})
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// doGet executes the HTTP request and classifies the status code.
func (c *Client) doGet(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errTransient, err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	switch {
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("%w: read body: %v", errTransient, err)
		}
		return body, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNoData
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", errTransient, resp.StatusCode)
	default:
		body := readBodyForError(resp.Body)
		return nil, fmt.Errorf("catalog returned status %d: %s", resp.StatusCode, body)
	}
}

// readBodyForError reads a bounded amount of the body for diagnostics.
func readBodyForError(r io.Reader) []byte {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	if err != nil {
		return []byte("(failed to read response body)")
	}
	return body
}

// stubGenreNames maps the catalog's numeric movie genre ids to names.
// List endpoints return ids only; detail responses carry full names.
var stubGenreNames = map[int]string{
	28:    "action",
	12:    "adventure",
	16:    "animation",
	35:    "comedy",
	80:    "crime",
	99:    "documentary",
	18:    "drama",
	10751: "family",
	14:    "fantasy",
	36:    "history",
	27:    "horror",
	10402: "music",
	9648:  "mystery",
	10749: "romance",
	878:   "science fiction",
	10770: "tv movie",
	53:    "thriller",
	10752: "war",
	37:    "western",
}

// coerceStub converts a list entry into a candidate stub. Fail closed:
// an entry without a positive id and a title is dropped, and an unknown
// genre id is skipped rather than guessed.
func coerceStub(p *stubPayload) (taste.Candidate, bool) {
	if p.ID <= 0 || p.Title == "" {
		return taste.Candidate{}, false
	}
	cand := taste.Candidate{
		ID:          p.ID,
		Title:       p.Title,
		Year:        yearOf(p.ReleaseDate),
		Popularity:  p.Popularity,
		VoteAverage: p.VoteAverage,
		VoteCount:   p.VoteCount,
		Directors:   canonicalAll(p.Directors),
	}
	for _, id := range p.GenreIDs {
		if name, ok := stubGenreNames[id]; ok {
			cand.Genres = append(cand.Genres, name)
		}
	}
	return cand, true
}

// coerceDetail converts a detail payload into a full candidate.
func coerceDetail(p *detailPayload) *taste.Candidate {
	if p.ID <= 0 || p.Title == "" {
		return nil
	}

	cand := &taste.Candidate{
		ID:             p.ID,
		Title:          p.Title,
		Year:           yearOf(p.ReleaseDate),
		RuntimeMinutes: p.Runtime,
		Popularity:     p.Popularity,
		VoteAverage:    p.VoteAverage,
		VoteCount:      p.VoteCount,
	}

	for _, g := range p.Genres {
		if g.Name != "" {
			cand.Genres = append(cand.Genres, canonicalName(g.Name))
		}
	}
	for _, k := range p.Keywords.Keywords {
		if k.Name != "" {
			cand.Keywords = append(cand.Keywords, canonicalName(k.Name))
		}
	}
	for _, crew := range p.Credits.Crew {
		if crew.Job == "Director" && crew.Name != "" {
			cand.Directors = append(cand.Directors, canonicalName(crew.Name))
		}
	}
	for _, cast := range p.Credits.Cast {
		if cast.Order < topBilledCast && cast.Name != "" {
			cand.Actors = append(cand.Actors, canonicalName(cast.Name))
		}
	}
	for _, pc := range p.ProductionCompanies {
		if pc.Name != "" {
			cand.Studios = append(cand.Studios, canonicalName(pc.Name))
		}
	}

	return cand
}

// yearOf parses the year from a "YYYY-MM-DD" release date. Fail closed:
// anything unparseable is an unknown year, never a guess.
func yearOf(releaseDate string) int {
	if len(releaseDate) < 4 {
		return 0
	}
	year, err := strconv.Atoi(releaseDate[:4])
	if err != nil || year < 1880 {
		return 0
	}
	return year
}

// canonicalName lowercases and trims a feature name.
func canonicalName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// canonicalAll canonicalizes a name list, dropping empties.
func canonicalAll(in []string) []string {
	var out []string
	for _, s := range in {
		if name := canonicalName(s); name != "" {
			out = append(out, name)
		}
	}
	return out
}

// appendSource appends a source if not already present.
func appendSource(sources []string, src string) []string {
	for _, have := range sources {
		if have == src {
			return sources
		}
	}
	return append(sources, src)
}
