// Kinograph - Personalized Film Discovery and Taste Profiling
// Copyright 2026 Kinograph Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kinograph/kinograph

// Package store persists watch history, film metadata, feedback events,
// and the learner's counters in BadgerDB.
//
// Key layout (all segments colon-separated):
//
//	w:{userID}:{uri}                  watch event
//	m:{candidateID}                   film metadata
//	f:{userID}:{candidateID}          active feedback event
//	r:{userID}:{source}:{consensus}   reliability hit/miss counter
//	s:{userID}:{type}:{name}          per-feature pos/neg counter
//
// All writes are idempotent upserts with last-write-wins semantics;
// every record embeds its own key fields so prefix scans rebuild typed
// slices without parsing keys.
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/kinograph/kinograph/internal/taste"
)

// Key prefixes for BadgerDB storage.
const (
	watchKeyPrefix    = "w:"
	metadataKeyPrefix = "m:"
	feedbackKeyPrefix = "f:"
	priorKeyPrefix    = "r:"
	statKeyPrefix     = "s:"
)

// ErrNotFound is returned when a keyed record does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is a BadgerDB-backed implementation of the taste pipeline's
// persistence interfaces (HistorySource, FeedbackStore, PriorSource).
type Store struct {
	db     *badger.DB
	logger zerolog.Logger
}

// Options controls how the store is opened.
type Options struct {
	// Path is the on-disk database directory. Ignored when InMemory.
	Path string

	// InMemory opens an ephemeral database. Used in tests.
	InMemory bool
}

// Open opens or creates the database.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func Open(opts Options, logger zerolog.Logger) (*Store, error) {
	badgerOpts := badger.DefaultOptions(opts.Path).
		WithInMemory(opts.InMemory).
		WithLogger(nil)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", opts.Path, err)
	}

	return &Store{
		db:     db,
		logger: logger.With().Str("component", "store").Logger(),
	}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RunGC runs one round of Badger value-log garbage collection.
// ErrNoRewrite is normal and reported as a clean no-op, as is running
// against an in-memory database, which has no value log.
func (s *Store) RunGC() error {
	err := s.db.RunValueLogGC(0.5)
	if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrGCInMemoryMode) {
		return nil
	}
	return err
}

// put marshals and stores one record.
func (s *Store) put(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

// get unmarshals one record into out. Returns ErrNotFound when absent.
func (s *Store) get(key string, out any) error {
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get %s: %w", key, err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, out)
		})
	})
}

// scanPrefix streams every value under a prefix to fn.
func (s *Store) scanPrefix(prefix string, fn func(val []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			if err := it.Item().Value(fn); err != nil {
				return err
			}
		}
		return nil
	})
}

// delete removes one record. A missing key is not an error.
func (s *Store) delete(key string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

// UpsertWatchEvent stores one watch history entry, keyed by its URI.
func (s *Store) UpsertWatchEvent(ctx context.Context, userID int, ev taste.WatchEvent) error {
	if ev.URI == "" {
		return errors.New("watch event requires a uri")
	}
	return s.put(watchKey(userID, ev.URI), ev)
}

// WatchEvents returns all history entries for a user.
func (s *Store) WatchEvents(ctx context.Context, userID int) ([]taste.WatchEvent, error) {
	var out []taste.WatchEvent
	err := s.scanPrefix(watchKeyPrefix+strconv.Itoa(userID)+":", func(val []byte) error {
		var ev taste.WatchEvent
		if err := json.Unmarshal(val, &ev); err != nil {
			return fmt.Errorf("unmarshal watch event: %w", err)
		}
		out = append(out, ev)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpsertFilm caches candidate metadata by catalog id.
func (s *Store) UpsertFilm(ctx context.Context, c taste.Candidate) error {
	if c.ID <= 0 {
		return errors.New("film requires a positive id")
	}
	return s.put(metadataKeyPrefix+strconv.Itoa(c.ID), c)
}

// FilmMetadata returns cached metadata for the given ids. Missing ids
// are absent from the map, never an error.
func (s *Store) FilmMetadata(ctx context.Context, ids []int) (map[int]taste.Candidate, error) {
	out := make(map[int]taste.Candidate, len(ids))
	for _, id := range ids {
		var c taste.Candidate
		err := s.get(metadataKeyPrefix+strconv.Itoa(id), &c)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[id] = c
	}
	return out, nil
}

// UpsertFeedback stores the active feedback event for a pair.
func (s *Store) UpsertFeedback(ctx context.Context, ev taste.FeedbackEvent) error {
	return s.put(feedbackKey(ev.UserID, ev.CandidateID), ev)
}

// GetFeedback returns the active event for a pair, or nil when absent.
func (s *Store) GetFeedback(ctx context.Context, userID, candidateID int) (*taste.FeedbackEvent, error) {
	var ev taste.FeedbackEvent
	err := s.get(feedbackKey(userID, candidateID), &ev)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

// DeleteFeedback removes the active event for a pair.
func (s *Store) DeleteFeedback(ctx context.Context, userID, candidateID int) error {
	return s.delete(feedbackKey(userID, candidateID))
}

// FeedbackForUser returns all active events for a user.
func (s *Store) FeedbackForUser(ctx context.Context, userID int) ([]taste.FeedbackEvent, error) {
	var out []taste.FeedbackEvent
	err := s.scanPrefix(feedbackKeyPrefix+strconv.Itoa(userID)+":", func(val []byte) error {
		var ev taste.FeedbackEvent
		if err := json.Unmarshal(val, &ev); err != nil {
			return fmt.Errorf("unmarshal feedback event: %w", err)
		}
		out = append(out, ev)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpsertReliabilityPrior stores a hit/miss counter.
func (s *Store) UpsertReliabilityPrior(ctx context.Context, p taste.SourceReliabilityPrior) error {
	return s.put(priorKey(p.UserID, p.Source, p.Consensus), p)
}

// ReliabilityPriors returns all counters for a user.
func (s *Store) ReliabilityPriors(ctx context.Context, userID int) ([]taste.SourceReliabilityPrior, error) {
	var out []taste.SourceReliabilityPrior
	err := s.scanPrefix(priorKeyPrefix+strconv.Itoa(userID)+":", func(val []byte) error {
		var p taste.SourceReliabilityPrior
		if err := json.Unmarshal(val, &p); err != nil {
			return fmt.Errorf("unmarshal reliability prior: %w", err)
		}
		out = append(out, p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpsertFeatureStat stores a per-feature pos/neg counter.
func (s *Store) UpsertFeatureStat(ctx context.Context, st taste.FeatureStat) error {
	return s.put(statKey(st.UserID, st.Type, st.Name), st)
}

// FeatureStats returns all per-feature counters for a user.
func (s *Store) FeatureStats(ctx context.Context, userID int) ([]taste.FeatureStat, error) {
	var out []taste.FeatureStat
	err := s.scanPrefix(statKeyPrefix+strconv.Itoa(userID)+":", func(val []byte) error {
		var st taste.FeatureStat
		if err := json.Unmarshal(val, &st); err != nil {
			return fmt.Errorf("unmarshal feature stat: %w", err)
		}
		out = append(out, st)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func watchKey(userID int, uri string) string {
	return watchKeyPrefix + strconv.Itoa(userID) + ":" + uri
}

func feedbackKey(userID, candidateID int) string {
	return feedbackKeyPrefix + strconv.Itoa(userID) + ":" + strconv.Itoa(candidateID)
}

func priorKey(userID int, source string, level taste.ConsensusLevel) string {
	return priorKeyPrefix + strconv.Itoa(userID) + ":" + source + ":" + level.String()
}

func statKey(userID int, ft taste.FeatureType, name string) string {
	return statKeyPrefix + strconv.Itoa(userID) + ":" + string(ft) + ":" + name
}
