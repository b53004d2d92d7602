// Kinograph - Personalized Film Discovery and Taste Profiling
// Copyright 2026 Kinograph Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kinograph/kinograph

// Package taste implements the personalized recommendation pipeline:
// taste profile building from watch history, signature scoring for seed
// selection, candidate overlap scoring, bounded source reliability
// weighting, and feedback learning. The Engine orchestrates the stages
// over pluggable history, discovery, and persistence collaborators.
package taste

import (
	"fmt"
	"time"
)

// FeatureType classifies the metadata dimensions a taste profile is built from.
type FeatureType string

const (
	// FeatureGenre is a film genre (horror, thriller, ...).
	FeatureGenre FeatureType = "genre"
	// FeatureKeyword is a plot/theme keyword.
	FeatureKeyword FeatureType = "keyword"
	// FeatureDirector is a credited director.
	FeatureDirector FeatureType = "director"
	// FeatureActor is a top-billed cast member.
	FeatureActor FeatureType = "actor"
	// FeatureStudio is a production studio.
	FeatureStudio FeatureType = "studio"
	// FeatureDecade is a release decade ("1990s").
	FeatureDecade FeatureType = "decade"
)

// FeatureTypes lists all feature types in scoring order.
var FeatureTypes = []FeatureType{
	FeatureGenre, FeatureKeyword, FeatureDirector,
	FeatureActor, FeatureStudio, FeatureDecade,
}

// Feature identifies a single profile feature.
type Feature struct {
	Type FeatureType `json:"type"`
	Name string      `json:"name"`
}

// Key returns the canonical "type:name" form used in evidence maps.
func (f Feature) Key() string {
	return string(f.Type) + ":" + f.Name
}

// DecadeOf returns the decade feature name for a release year ("1990s").
// Returns the empty string for unknown years.
func DecadeOf(year int) string {
	if year < 1880 {
		return ""
	}
	return fmt.Sprintf("%ds", (year/10)*10)
}

// FeatureWeight is one weighted entry in a taste profile.
// Entries are never partially updated in place; the profile builder
// recomputes them from source events plus feedback deltas on every run.
type FeatureWeight struct {
	// Type is the feature dimension.
	Type FeatureType `json:"type"`

	// Name is the canonical lowercase feature name.
	Name string `json:"name"`

	// Weight is the accumulated, dampened preference weight (>= 0).
	Weight float64 `json:"weight"`

	// SampleCount is the number of films that contributed to this entry.
	SampleCount int `json:"sample_count"`

	// LastSeenAt is the most recent watch date among contributing films.
	LastSeenAt time.Time `json:"last_seen_at"`

	// Films holds up to a bounded number of contributing film titles,
	// used as evidence in scoring explanations.
	Films []string `json:"films,omitempty"`
}

// TasteProfile is a user's weighted feature preference summary.
// It is rebuilt per scoring session and never persisted; only its
// inputs (watch events, feedback, priors) are stored.
type TasteProfile struct {
	TopGenres    []FeatureWeight `json:"top_genres"`
	TopKeywords  []FeatureWeight `json:"top_keywords"`
	TopDirectors []FeatureWeight `json:"top_directors"`
	TopActors    []FeatureWeight `json:"top_actors"`
	TopStudios   []FeatureWeight `json:"top_studios"`
	TopDecades   []FeatureWeight `json:"top_decades"`

	AvoidGenres    []FeatureWeight `json:"avoid_genres"`
	AvoidKeywords  []FeatureWeight `json:"avoid_keywords"`
	AvoidDirectors []FeatureWeight `json:"avoid_directors"`

	// Watchlist-derived intent signals. Explicitly weaker than watched
	// signals and decayed over a longer horizon.
	WatchlistGenres    []FeatureWeight `json:"watchlist_genres"`
	WatchlistKeywords  []FeatureWeight `json:"watchlist_keywords"`
	WatchlistDirectors []FeatureWeight `json:"watchlist_directors"`
}

// IsEmpty reports whether the profile carries no positive signals.
// Downstream scorers treat an empty profile as "fall back to
// popularity-only ranking", never as an error.
func (p *TasteProfile) IsEmpty() bool {
	return len(p.TopGenres) == 0 && len(p.TopKeywords) == 0 &&
		len(p.TopDirectors) == 0 && len(p.TopActors) == 0 &&
		len(p.TopStudios) == 0 && len(p.TopDecades) == 0
}

// topList returns the top-list for a feature type.
func (p *TasteProfile) topList(ft FeatureType) []FeatureWeight {
	switch ft {
	case FeatureGenre:
		return p.TopGenres
	case FeatureKeyword:
		return p.TopKeywords
	case FeatureDirector:
		return p.TopDirectors
	case FeatureActor:
		return p.TopActors
	case FeatureStudio:
		return p.TopStudios
	case FeatureDecade:
		return p.TopDecades
	default:
		return nil
	}
}

// avoidList returns the avoid-list for a feature type, if one exists.
func (p *TasteProfile) avoidList(ft FeatureType) []FeatureWeight {
	switch ft {
	case FeatureGenre:
		return p.AvoidGenres
	case FeatureKeyword:
		return p.AvoidKeywords
	case FeatureDirector:
		return p.AvoidDirectors
	default:
		return nil
	}
}

// watchlistList returns the watchlist intent list for a feature type.
func (p *TasteProfile) watchlistList(ft FeatureType) []FeatureWeight {
	switch ft {
	case FeatureGenre:
		return p.WatchlistGenres
	case FeatureKeyword:
		return p.WatchlistKeywords
	case FeatureDirector:
		return p.WatchlistDirectors
	default:
		return nil
	}
}

// lookupWeight finds a feature weight entry by name in a list.
func lookupWeight(list []FeatureWeight, name string) (FeatureWeight, bool) {
	for i := range list {
		if list[i].Name == name {
			return list[i], true
		}
	}
	return FeatureWeight{}, false
}

// WatchEvent is one entry in a user's watch history, created on
// import/sync and upserted by URI.
type WatchEvent struct {
	// URI is the stable per-user identifier of the diary entry.
	URI string `json:"uri"`

	// CandidateID is the external catalog id of the film.
	CandidateID int `json:"candidate_id"`

	// Rating is the star rating in 0.5 increments (0 = unrated).
	Rating float64 `json:"rating,omitempty"`

	// Liked indicates an explicit like.
	Liked bool `json:"liked"`

	// Rewatch indicates the entry is a rewatch.
	Rewatch bool `json:"rewatch"`

	// WatchCount is the total number of watches.
	WatchCount int `json:"watch_count"`

	// LastWatchedAt is the most recent watch date.
	LastWatchedAt time.Time `json:"last_watched_at"`

	// OnWatchlist indicates the film currently sits on the watchlist.
	OnWatchlist bool `json:"on_watchlist"`

	// WatchlistAddedAt is when the film was added to the watchlist.
	WatchlistAddedAt time.Time `json:"watchlist_added_at,omitempty"`
}

// Watched reports whether the event represents an actual watch rather
// than a watchlist-only entry.
func (w *WatchEvent) Watched() bool {
	return !w.LastWatchedAt.IsZero() || w.WatchCount > 0
}

// ValidRating reports whether a star rating is 0 (unrated) or within
// 0.5..5.0 in half-star increments.
func ValidRating(r float64) bool {
	if r == 0 {
		return true
	}
	if r < 0.5 || r > 5.0 {
		return false
	}
	doubled := r * 2
	return doubled == float64(int(doubled))
}

// Candidate is a film supplied by the discovery collaborator.
// Feature names are canonicalized (lowercase) on ingress; missing
// metadata is represented by empty slices, never by nil-pointer errors.
type Candidate struct {
	// ID is the external catalog id.
	ID int `json:"id"`

	// Title is the film title.
	Title string `json:"title"`

	Genres    []string `json:"genres,omitempty"`
	Keywords  []string `json:"keywords,omitempty"`
	Directors []string `json:"directors,omitempty"`
	Actors    []string `json:"actors,omitempty"`
	Studios   []string `json:"studios,omitempty"`

	// Year is the release year (0 = unknown).
	Year int `json:"year,omitempty"`

	// RuntimeMinutes is the runtime (0 = unknown).
	RuntimeMinutes int `json:"runtime_minutes,omitempty"`

	// Popularity is the catalog popularity metric.
	Popularity float64 `json:"popularity,omitempty"`

	// VoteAverage is the mean audience vote (0-10).
	VoteAverage float64 `json:"vote_average,omitempty"`

	// VoteCount is the number of audience votes.
	VoteCount int `json:"vote_count,omitempty"`
}

// features returns the candidate's features for a given type.
func (c *Candidate) features(ft FeatureType) []string {
	switch ft {
	case FeatureGenre:
		return c.Genres
	case FeatureKeyword:
		return c.Keywords
	case FeatureDirector:
		return c.Directors
	case FeatureActor:
		return c.Actors
	case FeatureStudio:
		return c.Studios
	case FeatureDecade:
		if d := DecadeOf(c.Year); d != "" {
			return []string{d}
		}
		return nil
	default:
		return nil
	}
}

// MetadataCompleteness returns the fraction of feature categories
// (plus vote data) present on the candidate, in [0, 1].
func (c *Candidate) MetadataCompleteness() float64 {
	present := 0
	total := len(FeatureTypes) + 1
	for _, ft := range FeatureTypes {
		if len(c.features(ft)) > 0 {
			present++
		}
	}
	if c.VoteCount > 0 {
		present++
	}
	return float64(present) / float64(total)
}

// ConsensusLevel is the agreement strength among discovery sources
// that surfaced a candidate.
type ConsensusLevel int

const (
	// ConsensusLow indicates a single weak source.
	ConsensusLow ConsensusLevel = iota
	// ConsensusMedium indicates two agreeing sources.
	ConsensusMedium
	// ConsensusHigh indicates three or more agreeing sources.
	ConsensusHigh
)

// String returns a human-readable consensus level name.
func (c ConsensusLevel) String() string {
	switch c {
	case ConsensusLow:
		return "low"
	case ConsensusMedium:
		return "medium"
	case ConsensusHigh:
		return "high"
	default:
		return "unknown"
	}
}

// ParseConsensusLevel converts a string to a ConsensusLevel.
func ParseConsensusLevel(s string) (ConsensusLevel, error) {
	switch s {
	case "low":
		return ConsensusLow, nil
	case "medium":
		return ConsensusMedium, nil
	case "high":
		return ConsensusHigh, nil
	default:
		return ConsensusLow, fmt.Errorf("unknown consensus level %q", s)
	}
}

// ConsensusFromSources derives the consensus level from the number of
// independent discovery sources that surfaced a candidate.
func ConsensusFromSources(sources []string) ConsensusLevel {
	switch {
	case len(sources) >= 3:
		return ConsensusHigh
	case len(sources) == 2:
		return ConsensusMedium
	default:
		return ConsensusLow
	}
}

// ScoredCandidate is a candidate with its relevance score and the
// evidence behind it.
type ScoredCandidate struct {
	// Candidate is the scored film.
	Candidate Candidate `json:"candidate"`

	// Score is the final relevance score (higher is better).
	Score float64 `json:"score"`

	// Reasons is an ordered list of human-readable match explanations.
	Reasons []string `json:"reasons,omitempty"`

	// ContributingFilms maps "featureType:name" to the historical films
	// that justified the match, capped per feature.
	ContributingFilms map[string][]string `json:"contributing_films,omitempty"`

	// Sources lists the discovery channels that surfaced the candidate.
	Sources []string `json:"sources,omitempty"`

	// Consensus is the cross-source agreement level.
	Consensus ConsensusLevel `json:"consensus"`

	// ReliabilityMultiplier is the bounded per-user source adjustment
	// that was applied last, in [0.88, 1.12].
	ReliabilityMultiplier float64 `json:"reliability_multiplier"`
}

// FeedbackKind classifies explicit user feedback on a suggestion.
type FeedbackKind int

const (
	// FeedbackPositive marks an accepted or praised suggestion.
	FeedbackPositive FeedbackKind = iota
	// FeedbackNegativeSoft is the common "not interested" action.
	// It dampens a title for future sessions without excluding it.
	FeedbackNegativeSoft
	// FeedbackNegativeHard is an explicit block. The candidate is
	// excluded from future pools until the block is undone.
	FeedbackNegativeHard
	// FeedbackPairwiseWin marks the preferred side of an A/B choice.
	FeedbackPairwiseWin
	// FeedbackPairwiseLoss marks the rejected side of an A/B choice.
	FeedbackPairwiseLoss
)

// String returns a human-readable feedback kind name.
func (k FeedbackKind) String() string {
	switch k {
	case FeedbackPositive:
		return "positive"
	case FeedbackNegativeSoft:
		return "negative-soft"
	case FeedbackNegativeHard:
		return "negative-hard"
	case FeedbackPairwiseWin:
		return "pairwise-win"
	case FeedbackPairwiseLoss:
		return "pairwise-loss"
	default:
		return "unknown"
	}
}

// ParseFeedbackKind converts a string to a FeedbackKind.
func ParseFeedbackKind(s string) (FeedbackKind, error) {
	switch s {
	case "positive":
		return FeedbackPositive, nil
	case "negative-soft":
		return FeedbackNegativeSoft, nil
	case "negative-hard":
		return FeedbackNegativeHard, nil
	case "pairwise-win":
		return FeedbackPairwiseWin, nil
	case "pairwise-loss":
		return FeedbackPairwiseLoss, nil
	default:
		return FeedbackPositive, fmt.Errorf("unknown feedback kind %q", s)
	}
}

// Negative reports whether the kind is a negative signal.
func (k FeedbackKind) Negative() bool {
	return k == FeedbackNegativeSoft || k == FeedbackNegativeHard || k == FeedbackPairwiseLoss
}

// FeedbackEvent records one explicit user action on a candidate.
// At most one active event exists per (user, candidate) pair; new
// feedback for the same pair overwrites the previous (last-write-wins).
type FeedbackEvent struct {
	UserID      int            `json:"user_id"`
	CandidateID int            `json:"candidate_id"`
	Kind        FeedbackKind   `json:"kind"`
	Reasons     []string       `json:"reasons,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	Consensus   ConsensusLevel `json:"consensus"`

	// Sources lists the discovery channels the suggestion was attributed
	// to when the feedback was given; reliability counters are credited
	// or debited against these.
	Sources []string `json:"sources,omitempty"`
}

// SourceReliabilityPrior is a Beta-style hit/miss counter per
// (user, source, consensus level). Read with Laplace smoothing.
type SourceReliabilityPrior struct {
	UserID    int            `json:"user_id"`
	Source    string         `json:"source"`
	Consensus ConsensusLevel `json:"consensus"`
	Hits      int            `json:"hits"`
	Misses    int            `json:"misses"`
}

// SmoothedRate returns the Laplace-smoothed hit rate (hits+1)/(hits+misses+2).
// Sparse sources regress toward the neutral 0.5.
func (p *SourceReliabilityPrior) SmoothedRate() float64 {
	return float64(p.Hits+1) / float64(p.Hits+p.Misses+2)
}

// FeatureStat is an explicit per-feature positive/negative counter pair
// maintained by the feedback learner. Counts are tracked, not netted,
// so one strong negative cannot arithmetically erase many weak positives.
type FeatureStat struct {
	UserID  int         `json:"user_id"`
	Type    FeatureType `json:"type"`
	Name    string      `json:"name"`
	Pos     int         `json:"pos"`
	Neg     int         `json:"neg"`
	Updated time.Time   `json:"updated"`
}

// WinRate returns the Laplace-smoothed positive rate for the feature.
func (s *FeatureStat) WinRate() float64 {
	return float64(s.Pos+1) / float64(s.Pos+s.Neg+2)
}

// Session tones supported by the overlap scorer.
const (
	// ToneShort favors shorter runtimes for a quick session.
	ToneShort = "short"
	// ToneWeeknight favors moderate runtime, well-reviewed picks.
	ToneWeeknight = "weeknight"
	// ToneFamily steers away from intense genres.
	ToneFamily = "family"
)

// SessionContext carries the presentation layer's per-session controls.
type SessionContext struct {
	// Tone is an optional directional bias: short, weeknight, family.
	Tone string `json:"tone,omitempty"`

	// Lambda is the MMR relevance/diversity balance in [0, 0.5].
	// Zero means "use the configured default".
	Lambda float64 `json:"lambda,omitempty"`
}

// SuggestionState is the lifecycle state of a suggestion for a
// (user, candidate) pair. There is no terminal state; any dismissal
// remains undoable until superseded by new feedback on the same pair.
type SuggestionState int

const (
	// StateShown means the suggestion is eligible for display.
	StateShown SuggestionState = iota
	// StateDismissedSoft means the suggestion is downranked but not excluded.
	StateDismissedSoft
	// StateBlockedHard means the suggestion is excluded from pools.
	StateBlockedHard
)

// String returns a human-readable state name.
func (s SuggestionState) String() string {
	switch s {
	case StateShown:
		return "shown"
	case StateDismissedSoft:
		return "dismissed-soft"
	case StateBlockedHard:
		return "blocked-hard"
	default:
		return "unknown"
	}
}

// StateOf derives the suggestion state from the active feedback event,
// if any.
func StateOf(ev *FeedbackEvent) SuggestionState {
	if ev == nil {
		return StateShown
	}
	switch ev.Kind {
	case FeedbackNegativeSoft:
		return StateDismissedSoft
	case FeedbackNegativeHard:
		return StateBlockedHard
	default:
		return StateShown
	}
}
