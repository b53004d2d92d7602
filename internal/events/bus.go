// Kinograph - Personalized Film Discovery and Taste Profiling
// Copyright 2026 Kinograph Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kinograph/kinograph

// Package events carries feedback events from the HTTP surface to the
// learner over an in-process Watermill bus, decoupling request latency
// from counter writes.
package events

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/message/router/plugin"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kinograph/kinograph/internal/taste"
)

// Topics.
const (
	// TopicFeedback carries applied feedback events.
	TopicFeedback = "feedback.apply"

	// TopicFeedbackUndo carries feedback undo requests.
	TopicFeedbackUndo = "feedback.undo"
)

// FeedbackMessage is the wire payload for feedback topics. Candidate
// metadata rides along so the learner can update feature counters
// without a second catalog fetch.
type FeedbackMessage struct {
	Event     taste.FeedbackEvent `json:"event"`
	Candidate *taste.Candidate    `json:"candidate,omitempty"`
}

// Applier handles feedback messages. Implemented by the engine.
type Applier interface {
	ApplyFeedback(ctx context.Context, ev taste.FeedbackEvent, cand *taste.Candidate) error
	UndoFeedback(ctx context.Context, userID, candidateID int, cand *taste.Candidate) error
}

// Config holds bus settings.
type Config struct {
	// BufferSize is the per-topic channel buffer. Default: 256.
	BufferSize int64 `json:"buffer_size"`

	// CloseTimeout is how long handlers get to finish on shutdown.
	// Default: 30s.
	CloseTimeout time.Duration `json:"close_timeout"`

	// RetryMaxRetries is the handler retry budget. Default: 5.
	RetryMaxRetries int `json:"retry_max_retries"`

	// RetryInitialInterval is the first retry delay. Default: 1s.
	RetryInitialInterval time.Duration `json:"retry_initial_interval"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		BufferSize:           256,
		CloseTimeout:         30 * time.Second,
		RetryMaxRetries:      5,
		RetryInitialInterval: time.Second,
	}
}

// Bus is an in-process pub/sub bus with automatic ack/nack, panic
// recovery, and exponential-backoff retry on the consuming side.
type Bus struct {
	cfg    Config
	pubsub *gochannel.GoChannel
	router *message.Router
	logger zerolog.Logger
}

// NewBus creates the bus and its router.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewBus(cfg Config, logger zerolog.Logger) (*Bus, error) {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = 30 * time.Second
	}
	if cfg.RetryMaxRetries <= 0 {
		cfg.RetryMaxRetries = 5
	}
	if cfg.RetryInitialInterval <= 0 {
		cfg.RetryInitialInterval = time.Second
	}

	blog := logger.With().Str("component", "events").Logger()
	wmLogger := newWatermillAdapter(blog)

	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: cfg.BufferSize,
	}, wmLogger)

	router, err := message.NewRouter(message.RouterConfig{
		CloseTimeout: cfg.CloseTimeout,
	}, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("create router: %w", err)
	}

	router.AddPlugin(plugin.SignalsHandler)
	router.AddMiddleware(
		middleware.Recoverer,
		middleware.Retry{
			MaxRetries:      cfg.RetryMaxRetries,
			InitialInterval: cfg.RetryInitialInterval,
			Multiplier:      2.0,
			Logger:          wmLogger,
		}.Middleware,
	)

	return &Bus{
		cfg:    cfg,
		pubsub: pubsub,
		router: router,
		logger: blog,
	}, nil
}

// RegisterApplier wires the feedback topics to an applier.
func (b *Bus) RegisterApplier(applier Applier) {
	b.router.AddNoPublisherHandler(
		"feedback-applier",
		TopicFeedback,
		b.pubsub,
		func(msg *message.Message) error {
			var payload FeedbackMessage
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				// Malformed payloads never become valid on retry.
				b.logger.Error().Err(err).Str("message_id", msg.UUID).Msg("dropping malformed feedback message")
				return nil
			}
			return applier.ApplyFeedback(msg.Context(), payload.Event, payload.Candidate)
		},
	)

	b.router.AddNoPublisherHandler(
		"feedback-undoer",
		TopicFeedbackUndo,
		b.pubsub,
		func(msg *message.Message) error {
			var payload FeedbackMessage
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				b.logger.Error().Err(err).Str("message_id", msg.UUID).Msg("dropping malformed undo message")
				return nil
			}
			return applier.UndoFeedback(msg.Context(), payload.Event.UserID, payload.Event.CandidateID, payload.Candidate)
		},
	)
}

// PublishFeedback publishes a feedback event for asynchronous apply.
func (b *Bus) PublishFeedback(ev taste.FeedbackEvent, cand *taste.Candidate) error {
	return b.publish(TopicFeedback, FeedbackMessage{Event: ev, Candidate: cand})
}

// PublishUndo publishes a feedback undo request.
func (b *Bus) PublishUndo(userID, candidateID int, cand *taste.Candidate) error {
	return b.publish(TopicFeedbackUndo, FeedbackMessage{
		Event:     taste.FeedbackEvent{UserID: userID, CandidateID: candidateID},
		Candidate: cand,
	})
}

// publish marshals and sends one message.
func (b *Bus) publish(topic string, payload FeedbackMessage) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", topic, err)
	}
	msg := message.NewMessage(uuid.NewString(), data)
	if err := b.pubsub.Publish(topic, msg); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Run starts the router and blocks until the context is canceled.
func (b *Bus) Run(ctx context.Context) error {
	return b.router.Run(ctx)
}

// Running returns a channel closed once the router is consuming.
func (b *Bus) Running() <-chan struct{} {
	return b.router.Running()
}

// Close shuts down the router and the pub/sub channels.
func (b *Bus) Close() error {
	if err := b.router.Close(); err != nil {
		return fmt.Errorf("close router: %w", err)
	}
	return b.pubsub.Close()
}

// watermillAdapter bridges Watermill's logger to zerolog.
type watermillAdapter struct {
	logger zerolog.Logger
}

func newWatermillAdapter(logger zerolog.Logger) watermill.LoggerAdapter {
	return &watermillAdapter{logger: logger}
}

func (a *watermillAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.event(a.logger.Error().Err(err), fields).Msg(msg)
}

func (a *watermillAdapter) Info(msg string, fields watermill.LogFields) {
	a.event(a.logger.Info(), fields).Msg(msg)
}

func (a *watermillAdapter) Debug(msg string, fields watermill.LogFields) {
	a.event(a.logger.Debug(), fields).Msg(msg)
}

func (a *watermillAdapter) Trace(msg string, fields watermill.LogFields) {
	a.event(a.logger.Trace(), fields).Msg(msg)
}

func (a *watermillAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	ctx := a.logger.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &watermillAdapter{logger: ctx.Logger()}
}

func (a *watermillAdapter) event(ev *zerolog.Event, fields watermill.LogFields) *zerolog.Event {
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	return ev
}
