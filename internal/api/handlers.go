// Kinograph - Personalized Film Discovery and Taste Profiling
// Copyright 2026 Kinograph Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kinograph/kinograph

package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/kinograph/kinograph/internal/metrics"
	"github.com/kinograph/kinograph/internal/taste"
)

// maxRequestBody bounds request body reads.
const maxRequestBody = 1 << 20

var validate = validator.New()

// Engine is the recommendation engine surface the handlers need.
type Engine interface {
	Recommend(ctx context.Context, req taste.Request) (*taste.Response, error)
	Profile(ctx context.Context, userID int) (*taste.TasteProfile, error)
	ApplyFeedback(ctx context.Context, ev taste.FeedbackEvent, cand *taste.Candidate) error
	UndoFeedback(ctx context.Context, userID, candidateID int, cand *taste.Candidate) error
	SuggestionState(ctx context.Context, userID, candidateID int) (taste.SuggestionState, error)
}

// HistoryStore receives imported watch history.
type HistoryStore interface {
	UpsertWatchEvent(ctx context.Context, userID int, ev taste.WatchEvent) error
	UpsertFilm(ctx context.Context, c taste.Candidate) error
}

// FeedbackPublisher hands feedback to the event bus for asynchronous
// application. Nil publisher means feedback is applied synchronously.
type FeedbackPublisher interface {
	PublishFeedback(ev taste.FeedbackEvent, cand *taste.Candidate) error
	PublishUndo(userID, candidateID int, cand *taste.Candidate) error
}

// Handler implements the HTTP endpoints.
type Handler struct {
	engine    Engine
	history   HistoryStore
	publisher FeedbackPublisher
	logger    zerolog.Logger

	// ready reports readiness for the readiness probe.
	ready func() bool
}

// NewHandler creates the endpoint handler.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewHandler(engine Engine, history HistoryStore, publisher FeedbackPublisher, ready func() bool, logger zerolog.Logger) *Handler {
	if ready == nil {
		ready = func() bool { return true }
	}
	return &Handler{
		engine:    engine,
		history:   history,
		publisher: publisher,
		logger:    logger.With().Str("component", "handlers").Logger(),
		ready:     ready,
	}
}

// HealthLive responds once the process is up.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HealthReady responds once dependencies are serving.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	if !h.ready() {
		writeError(w, http.StatusServiceUnavailable, "not ready")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Recommendations serves GET /api/v1/users/{userID}/recommendations.
//
// Query parameters: k (count), tone (short|weeknight|family), lambda
// (relevance/diversity balance, clamped server-side).
func (h *Handler) Recommendations(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathInt(w, r, "userID")
	if !ok {
		return
	}

	req := taste.Request{UserID: userID}

	if raw := r.URL.Query().Get("k"); raw != "" {
		k, err := strconv.Atoi(raw)
		if err != nil || k < 1 {
			writeError(w, http.StatusBadRequest, "k must be a positive integer")
			return
		}
		req.K = k
	}

	session := taste.SessionContext{}
	hasSession := false
	if tone := r.URL.Query().Get("tone"); tone != "" {
		switch tone {
		case taste.ToneShort, taste.ToneWeeknight, taste.ToneFamily:
			session.Tone = tone
			hasSession = true
		default:
			writeError(w, http.StatusBadRequest, "tone must be one of: short, weeknight, family")
			return
		}
	}
	if raw := r.URL.Query().Get("lambda"); raw != "" {
		lambda, err := strconv.ParseFloat(raw, 64)
		if err != nil || lambda < 0 {
			writeError(w, http.StatusBadRequest, "lambda must be a non-negative number")
			return
		}
		session.Lambda = lambda
		hasSession = true
	}
	if hasSession {
		req.Session = &session
	}

	resp, err := h.engine.Recommend(r.Context(), req)
	if errors.Is(err, taste.ErrSuperseded) {
		writeError(w, http.StatusConflict, "a newer request superseded this one")
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Int("user_id", userID).Msg("recommendation pipeline failed")
		writeError(w, http.StatusBadGateway, "recommendation generation failed")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Profile serves GET /api/v1/users/{userID}/profile.
func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathInt(w, r, "userID")
	if !ok {
		return
	}

	profile, err := h.engine.Profile(r.Context(), userID)
	if err != nil {
		h.logger.Error().Err(err).Int("user_id", userID).Msg("profile build failed")
		writeError(w, http.StatusInternalServerError, "profile build failed")
		return
	}

	writeJSON(w, http.StatusOK, profile)
}

// importRequest is the POST /history payload.
type importRequest struct {
	Events []taste.WatchEvent `json:"events" validate:"required,min=1,dive"`
	Films  []taste.Candidate  `json:"films" validate:"dive"`
}

// ImportHistory serves POST /api/v1/users/{userID}/history. Events are
// upserted by URI; re-importing the same diary is idempotent.
func (h *Handler) ImportHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathInt(w, r, "userID")
	if !ok {
		return
	}

	var req importRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	for i := range req.Events {
		ev := &req.Events[i]
		if ev.URI == "" {
			writeError(w, http.StatusBadRequest, "every event requires a uri")
			return
		}
		if !taste.ValidRating(ev.Rating) {
			writeError(w, http.StatusBadRequest, "ratings must be 0 or 0.5-5.0 in half-star steps")
			return
		}
	}

	for i := range req.Films {
		if err := h.history.UpsertFilm(r.Context(), req.Films[i]); err != nil {
			h.logger.Error().Err(err).Int("film_id", req.Films[i].ID).Msg("film upsert failed")
			writeError(w, http.StatusInternalServerError, "film upsert failed")
			return
		}
	}
	for i := range req.Events {
		if err := h.history.UpsertWatchEvent(r.Context(), userID, req.Events[i]); err != nil {
			h.logger.Error().Err(err).Str("uri", req.Events[i].URI).Msg("watch event upsert failed")
			writeError(w, http.StatusInternalServerError, "watch event upsert failed")
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]int{
		"events_imported": len(req.Events),
		"films_imported":  len(req.Films),
	})
}

// feedbackRequest is the POST /feedback payload.
type feedbackRequest struct {
	CandidateID int              `json:"candidate_id" validate:"required,gt=0"`
	Kind        string           `json:"kind" validate:"required,oneof=positive negative-soft negative-hard pairwise-win pairwise-loss"`
	Reasons     []string         `json:"reasons,omitempty"`
	Sources     []string         `json:"sources,omitempty"`
	Candidate   *taste.Candidate `json:"candidate,omitempty"`
}

// PostFeedback serves POST /api/v1/users/{userID}/feedback. With an
// event bus the write is asynchronous (202); without one it is applied
// inline (200).
func (h *Handler) PostFeedback(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathInt(w, r, "userID")
	if !ok {
		return
	}

	var req feedbackRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid feedback: "+err.Error())
		return
	}

	kind, err := taste.ParseFeedbackKind(req.Kind)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ev := taste.FeedbackEvent{
		UserID:      userID,
		CandidateID: req.CandidateID,
		Kind:        kind,
		Reasons:     req.Reasons,
		Sources:     req.Sources,
		Consensus:   taste.ConsensusFromSources(req.Sources),
	}

	metrics.FeedbackEvents.WithLabelValues(kind.String()).Inc()

	if h.publisher != nil {
		if err := h.publisher.PublishFeedback(ev, req.Candidate); err != nil {
			h.logger.Error().Err(err).Int("user_id", userID).Msg("feedback publish failed")
			writeError(w, http.StatusInternalServerError, "feedback could not be queued")
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
		return
	}

	if err := h.engine.ApplyFeedback(r.Context(), ev, req.Candidate); err != nil {
		h.logger.Error().Err(err).Int("user_id", userID).Msg("feedback apply failed")
		writeError(w, http.StatusInternalServerError, "feedback apply failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "applied"})
}

// DeleteFeedback serves DELETE /api/v1/users/{userID}/feedback/{candidateID},
// undoing the active feedback for the pair.
func (h *Handler) DeleteFeedback(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathInt(w, r, "userID")
	if !ok {
		return
	}
	candidateID, ok := pathInt(w, r, "candidateID")
	if !ok {
		return
	}

	metrics.FeedbackUndos.Inc()

	if h.publisher != nil {
		if err := h.publisher.PublishUndo(userID, candidateID, nil); err != nil {
			h.logger.Error().Err(err).Int("user_id", userID).Msg("undo publish failed")
			writeError(w, http.StatusInternalServerError, "undo could not be queued")
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
		return
	}

	if err := h.engine.UndoFeedback(r.Context(), userID, candidateID, nil); err != nil {
		h.logger.Error().Err(err).Int("user_id", userID).Msg("feedback undo failed")
		writeError(w, http.StatusInternalServerError, "feedback undo failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "undone"})
}

// SuggestionState serves GET /api/v1/users/{userID}/suggestions/{candidateID}/state.
func (h *Handler) SuggestionState(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathInt(w, r, "userID")
	if !ok {
		return
	}
	candidateID, ok := pathInt(w, r, "candidateID")
	if !ok {
		return
	}

	state, err := h.engine.SuggestionState(r.Context(), userID, candidateID)
	if err != nil {
		h.logger.Error().Err(err).Int("user_id", userID).Msg("state lookup failed")
		writeError(w, http.StatusInternalServerError, "state lookup failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"state": state.String()})
}

// pathInt extracts a positive integer path parameter, writing a 400 on
// failure.
func pathInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	v, err := strconv.Atoi(chi.URLParam(r, name))
	if err != nil || v <= 0 {
		writeError(w, http.StatusBadRequest, name+" must be a positive integer")
		return 0, false
	}
	return v, true
}

// decodeJSON decodes a bounded request body, writing a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, out any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}
