// Kinograph - Personalized Film Discovery and Taste Profiling
// Copyright 2026 Kinograph Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kinograph/kinograph

package taste

import (
	"fmt"
	"time"
)

// Config contains all configuration for the taste pipeline.
type Config struct {
	// Profile contains taste profile builder parameters.
	Profile ProfileConfig `json:"profile"`

	// Signature contains signature (seed selection) scoring parameters.
	Signature SignatureConfig `json:"signature"`

	// Overlap contains overlap scorer parameters.
	Overlap OverlapConfig `json:"overlap"`

	// Reliability contains source reliability weighting parameters.
	Reliability ReliabilityConfig `json:"reliability"`

	// Diversity contains MMR reranking parameters.
	Diversity DiversityConfig `json:"diversity"`

	// Learner contains feedback learner parameters.
	Learner LearnerConfig `json:"learner"`

	// Limits contains operational limits.
	Limits LimitsConfig `json:"limits"`

	// Cache contains response caching parameters.
	Cache CacheConfig `json:"cache"`
}

// ProfileConfig contains parameters for the taste profile builder.
type ProfileConfig struct {
	// TopN is the number of entries retained per feature-type list.
	// Default: 10.
	TopN int `json:"top_n"`

	// HalfLifeDays is the recency half-life for watched signals.
	// Older signals count less but never reach zero.
	// Default: 120.
	HalfLifeDays float64 `json:"half_life_days"`

	// WatchlistHalfLifeDays is the longer staleness horizon for
	// watchlist intent signals.
	// Default: 365.
	WatchlistHalfLifeDays float64 `json:"watchlist_half_life_days"`

	// WatchlistScale scales watchlist intent below watched signals.
	// Default: 0.4.
	WatchlistScale float64 `json:"watchlist_scale"`

	// LikedMultiplier boosts explicitly liked films.
	// Default: 1.3.
	LikedMultiplier float64 `json:"liked_multiplier"`

	// RewatchMultiplier boosts rewatched films.
	// Default: 1.25.
	RewatchMultiplier float64 `json:"rewatch_multiplier"`

	// UnratedWeight is the base weight for watched-but-unrated films.
	// Default: 0.6.
	UnratedWeight float64 `json:"unrated_weight"`

	// AvoidRatingCeiling is the star rating at or below which a film
	// accumulates into the avoid-lists.
	// Default: 2.5.
	AvoidRatingCeiling float64 `json:"avoid_rating_ceiling"`

	// MaxEvidencePerFeature caps contributing film titles per entry.
	// Default: 3.
	MaxEvidencePerFeature int `json:"max_evidence_per_feature"`

	// BorrowFraction is the weight fraction a sparse feature inherits
	// from the strongest co-occurring feature of the same type.
	// Default: 0.1.
	BorrowFraction float64 `json:"borrow_fraction"`

	// BorrowMinSamples is the sample count below which a feature is
	// eligible for adjacent-weight borrowing.
	// Default: 2.
	BorrowMinSamples int `json:"borrow_min_samples"`
}

// SignatureConfig contains parameters for signature (niche) scoring.
type SignatureConfig struct {
	// RatingWeight scales the personal-rating contribution.
	// Default: 3.0.
	RatingWeight float64 `json:"rating_weight"`

	// LikedBonus is added for explicitly liked films.
	// Default: 0.5.
	LikedBonus float64 `json:"liked_bonus"`

	// NicheWeight scales the inverse-log-popularity bonus.
	// Default: 2.0.
	NicheWeight float64 `json:"niche_weight"`

	// NichePopularityCeiling is the popularity at which the niche
	// bonus reaches zero on the log scale.
	// Default: 1000.
	NichePopularityCeiling float64 `json:"niche_popularity_ceiling"`

	// GenreMatchBonus is added per genre overlapping the top genres.
	// Default: 1.0.
	GenreMatchBonus float64 `json:"genre_match_bonus"`

	// DecadeMatchBonus is added when the release decade is a top decade.
	// Default: 0.5.
	DecadeMatchBonus float64 `json:"decade_match_bonus"`
}

// OverlapConfig contains parameters for the overlap scorer.
type OverlapConfig struct {
	// TypeWeights are the global per-feature-type match weights.
	TypeWeights TypeWeights `json:"type_weights"`

	// AvoidPenaltyScale scales avoid-list penalties relative to
	// positive match weights.
	// Default: 1.1.
	AvoidPenaltyScale float64 `json:"avoid_penalty_scale"`

	// VoteQualityWeight scales the well-reviewed nudge so it cannot
	// overwhelm personalization.
	// Default: 0.5.
	VoteQualityWeight float64 `json:"vote_quality_weight"`

	// WatchlistBonusScale scales watchlist-intent match bonuses.
	// Default: 0.35.
	WatchlistBonusScale float64 `json:"watchlist_bonus_scale"`

	// ToneBiasWeight scales session tone adjustments.
	// Default: 0.3.
	ToneBiasWeight float64 `json:"tone_bias_weight"`

	// MetadataFloor is the completeness fraction below which a
	// candidate is downranked (never discarded) unless strong
	// multi-source consensus overrides the floor.
	// Default: 0.3.
	MetadataFloor float64 `json:"metadata_floor"`

	// SparseMetadataFactor multiplies the score of candidates below
	// the metadata floor.
	// Default: 0.8.
	SparseMetadataFactor float64 `json:"sparse_metadata_factor"`

	// MaxEvidencePerFeature caps historical titles per evidence entry.
	// Default: 3.
	MaxEvidencePerFeature int `json:"max_evidence_per_feature"`
}

// TypeWeights are the global per-feature-type match weights.
type TypeWeights struct {
	// Genre is the genre match weight. Default: 1.0.
	Genre float64 `json:"genre"`
	// Keyword is the keyword match weight. Default: 0.8.
	Keyword float64 `json:"keyword"`
	// Director is the director match weight. Default: 1.2.
	Director float64 `json:"director"`
	// Actor is the actor match weight. Default: 0.6.
	Actor float64 `json:"actor"`
	// Studio is the studio match weight. Default: 0.4.
	Studio float64 `json:"studio"`
	// Decade is the decade match weight. Default: 0.5.
	Decade float64 `json:"decade"`
}

// Of returns the weight for a feature type.
//
//nolint:gocritic // value receiver is intentional for immutable semantics
func (w TypeWeights) Of(ft FeatureType) float64 {
	switch ft {
	case FeatureGenre:
		return w.Genre
	case FeatureKeyword:
		return w.Keyword
	case FeatureDirector:
		return w.Director
	case FeatureActor:
		return w.Actor
	case FeatureStudio:
		return w.Studio
	case FeatureDecade:
		return w.Decade
	default:
		return 0
	}
}

// ReliabilityConfig contains parameters for source reliability weighting.
type ReliabilityConfig struct {
	// MinMultiplier is the lower clamp bound. Default: 0.88.
	MinMultiplier float64 `json:"min_multiplier"`

	// MaxMultiplier is the upper clamp bound. Default: 1.12.
	MaxMultiplier float64 `json:"max_multiplier"`

	// CacheTTL is how long a computed multiplier is cached per user.
	// The underlying statistics change slowly; minutes, not seconds.
	// Default: 5m.
	CacheTTL time.Duration `json:"cache_ttl"`

	// HighWeight, MediumWeight, LowWeight are the consensus blend
	// weights applied when multiple sources agree.
	// Defaults: 1.0 / 0.6 / 0.3.
	HighWeight   float64 `json:"high_weight"`
	MediumWeight float64 `json:"medium_weight"`
	LowWeight    float64 `json:"low_weight"`
}

// consensusWeight returns the blend weight for a consensus level.
func (c *ReliabilityConfig) consensusWeight(level ConsensusLevel) float64 {
	switch level {
	case ConsensusHigh:
		return c.HighWeight
	case ConsensusMedium:
		return c.MediumWeight
	default:
		return c.LowWeight
	}
}

// DiversityConfig contains parameters for MMR diversity reranking.
type DiversityConfig struct {
	// Lambda is the default relevance/diversity balance in [0, 0.5].
	// Lower favors diversity; at 0.5 the reranker degenerates toward
	// a plain top-K by relevance.
	// Default: 0.35.
	Lambda float64 `json:"lambda"`

	// MaxLambda is the upper bound for session-supplied lambdas.
	// Default: 0.5.
	MaxLambda float64 `json:"max_lambda"`

	// PoolMultiple is the recommended pool size as a multiple of the
	// desired output count.
	// Default: 3.
	PoolMultiple int `json:"pool_multiple"`
}

// LearnerConfig contains parameters for the feedback learner.
type LearnerConfig struct {
	// SoftAvoidWeight is the per-feature avoid weight contributed by a
	// soft dismissal. A dampening signal, never a block.
	// Default: 0.5.
	SoftAvoidWeight float64 `json:"soft_avoid_weight"`

	// HardAvoidWeight is the per-feature avoid weight contributed by a
	// hard block, on top of the pool exclusion.
	// Default: 1.0.
	HardAvoidWeight float64 `json:"hard_avoid_weight"`

	// PositiveBoostWeight is the per-feature boost from positive feedback.
	// Default: 0.6.
	PositiveBoostWeight float64 `json:"positive_boost_weight"`

	// StatHalfLifeDays decays per-feature counters' influence; borrowed
	// weights that are never reinforced fade out with the same horizon.
	// Default: 180.
	StatHalfLifeDays float64 `json:"stat_half_life_days"`
}

// LimitsConfig contains operational limits.
type LimitsConfig struct {
	// DefaultK is the default number of recommendations. Default: 20.
	DefaultK int `json:"default_k"`

	// MaxK is the maximum allowed K. Default: 100.
	MaxK int `json:"max_k"`

	// MaxCandidates is the maximum candidate pool size. Default: 500.
	MaxCandidates int `json:"max_candidates"`

	// SeedCount is the number of signature-scored seed films passed to
	// discovery. Default: 5.
	SeedCount int `json:"seed_count"`

	// FetchWorkers is the bounded concurrency for metadata fetches.
	// Default: 6.
	FetchWorkers int `json:"fetch_workers"`

	// FetchRetries is the retry budget per candidate fetch. Default: 3.
	FetchRetries int `json:"fetch_retries"`

	// FetchRetryBaseDelay is the initial backoff delay. Default: 200ms.
	FetchRetryBaseDelay time.Duration `json:"fetch_retry_base_delay"`
}

// CacheConfig contains response caching parameters.
type CacheConfig struct {
	// Enabled controls whether response caching is active. Default: true.
	Enabled bool `json:"enabled"`

	// TTL is the cache entry time-to-live. Default: 5m.
	TTL time.Duration `json:"ttl"`

	// MaxEntries is the maximum number of cached responses. Default: 1000.
	MaxEntries int `json:"max_entries"`
}

// DefaultConfig returns a Config with production defaults.
func DefaultConfig() *Config {
	return &Config{
		Profile: ProfileConfig{
			TopN:                  10,
			HalfLifeDays:          120,
			WatchlistHalfLifeDays: 365,
			WatchlistScale:        0.4,
			LikedMultiplier:       1.3,
			RewatchMultiplier:     1.25,
			UnratedWeight:         0.6,
			AvoidRatingCeiling:    2.5,
			MaxEvidencePerFeature: 3,
			BorrowFraction:        0.1,
			BorrowMinSamples:      2,
		},
		Signature: SignatureConfig{
			RatingWeight:           3.0,
			LikedBonus:             0.5,
			NicheWeight:            2.0,
			NichePopularityCeiling: 1000,
			GenreMatchBonus:        1.0,
			DecadeMatchBonus:       0.5,
		},
		Overlap: OverlapConfig{
			TypeWeights: TypeWeights{
				Genre:    1.0,
				Keyword:  0.8,
				Director: 1.2,
				Actor:    0.6,
				Studio:   0.4,
				Decade:   0.5,
			},
			AvoidPenaltyScale:     1.1,
			VoteQualityWeight:     0.5,
			WatchlistBonusScale:   0.35,
			ToneBiasWeight:        0.3,
			MetadataFloor:         0.3,
			SparseMetadataFactor:  0.8,
			MaxEvidencePerFeature: 3,
		},
		Reliability: ReliabilityConfig{
			MinMultiplier: 0.88,
			MaxMultiplier: 1.12,
			CacheTTL:      5 * time.Minute,
			HighWeight:    1.0,
			MediumWeight:  0.6,
			LowWeight:     0.3,
		},
		Diversity: DiversityConfig{
			Lambda:       0.35,
			MaxLambda:    0.5,
			PoolMultiple: 3,
		},
		Learner: LearnerConfig{
			SoftAvoidWeight:     0.5,
			HardAvoidWeight:     1.0,
			PositiveBoostWeight: 0.6,
			StatHalfLifeDays:    180,
		},
		Limits: LimitsConfig{
			DefaultK:            20,
			MaxK:                100,
			MaxCandidates:       500,
			SeedCount:           5,
			FetchWorkers:        6,
			FetchRetries:        3,
			FetchRetryBaseDelay: 200 * time.Millisecond,
		},
		Cache: CacheConfig{
			Enabled:    true,
			TTL:        5 * time.Minute,
			MaxEntries: 1000,
		},
	}
}

// Validate checks the configuration for errors.
//
//nolint:gocyclo // validation needs to check many fields
func (c *Config) Validate() error {
	if c.Profile.TopN < 1 {
		return fmt.Errorf("profile.top_n must be positive, got %d", c.Profile.TopN)
	}
	if c.Profile.HalfLifeDays <= 0 {
		return fmt.Errorf("profile.half_life_days must be positive, got %f", c.Profile.HalfLifeDays)
	}
	if c.Profile.WatchlistHalfLifeDays < c.Profile.HalfLifeDays {
		return fmt.Errorf("profile.watchlist_half_life_days must be >= profile.half_life_days, got %f < %f",
			c.Profile.WatchlistHalfLifeDays, c.Profile.HalfLifeDays)
	}
	if c.Profile.WatchlistScale <= 0 || c.Profile.WatchlistScale >= 1 {
		return fmt.Errorf("profile.watchlist_scale must be in (0, 1), got %f", c.Profile.WatchlistScale)
	}
	if c.Profile.MaxEvidencePerFeature < 1 {
		return fmt.Errorf("profile.max_evidence_per_feature must be positive, got %d", c.Profile.MaxEvidencePerFeature)
	}

	if c.Signature.NichePopularityCeiling <= 1 {
		return fmt.Errorf("signature.niche_popularity_ceiling must be > 1, got %f", c.Signature.NichePopularityCeiling)
	}

	if c.Overlap.MetadataFloor < 0 || c.Overlap.MetadataFloor > 1 {
		return fmt.Errorf("overlap.metadata_floor must be in [0, 1], got %f", c.Overlap.MetadataFloor)
	}
	if c.Overlap.SparseMetadataFactor <= 0 || c.Overlap.SparseMetadataFactor > 1 {
		return fmt.Errorf("overlap.sparse_metadata_factor must be in (0, 1], got %f", c.Overlap.SparseMetadataFactor)
	}

	if c.Reliability.MinMultiplier >= 1 || c.Reliability.MaxMultiplier <= 1 {
		return fmt.Errorf("reliability multiplier bounds must straddle 1.0, got [%f, %f]",
			c.Reliability.MinMultiplier, c.Reliability.MaxMultiplier)
	}
	if c.Reliability.CacheTTL <= 0 {
		return fmt.Errorf("reliability.cache_ttl must be positive, got %v", c.Reliability.CacheTTL)
	}

	if c.Diversity.Lambda < 0 || c.Diversity.Lambda > c.Diversity.MaxLambda {
		return fmt.Errorf("diversity.lambda must be in [0, %f], got %f", c.Diversity.MaxLambda, c.Diversity.Lambda)
	}
	if c.Diversity.MaxLambda <= 0 || c.Diversity.MaxLambda > 0.5 {
		return fmt.Errorf("diversity.max_lambda must be in (0, 0.5], got %f", c.Diversity.MaxLambda)
	}
	if c.Diversity.PoolMultiple < 1 {
		return fmt.Errorf("diversity.pool_multiple must be positive, got %d", c.Diversity.PoolMultiple)
	}

	if c.Limits.DefaultK < 1 {
		return fmt.Errorf("limits.default_k must be positive, got %d", c.Limits.DefaultK)
	}
	if c.Limits.MaxK < c.Limits.DefaultK {
		return fmt.Errorf("limits.max_k must be >= limits.default_k, got %d < %d", c.Limits.MaxK, c.Limits.DefaultK)
	}
	if c.Limits.MaxCandidates < 1 {
		return fmt.Errorf("limits.max_candidates must be positive, got %d", c.Limits.MaxCandidates)
	}
	if c.Limits.FetchWorkers < 1 {
		return fmt.Errorf("limits.fetch_workers must be positive, got %d", c.Limits.FetchWorkers)
	}

	return nil
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	// Direct field copy - all nested structs contain only value types
	out := *c
	return &out
}
