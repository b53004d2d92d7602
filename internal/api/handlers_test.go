// Kinograph - Personalized Film Discovery and Taste Profiling
// Copyright 2026 Kinograph Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kinograph/kinograph

package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/kinograph/kinograph/internal/taste"
)

// fakeEngine records calls and serves canned results.
type fakeEngine struct {
	recommendErr error
	lastRequest  taste.Request

	applied []taste.FeedbackEvent
	undone  []int
	state   taste.SuggestionState
}

func (f *fakeEngine) Recommend(_ context.Context, req taste.Request) (*taste.Response, error) {
	f.lastRequest = req
	if f.recommendErr != nil {
		return nil, f.recommendErr
	}
	return &taste.Response{
		GenerationID: "gen-1",
		UserID:       req.UserID,
		Items: []taste.ScoredCandidate{
			{Candidate: taste.Candidate{ID: 10, Title: "The Fog"}, Score: 2.5},
		},
	}, nil
}

func (f *fakeEngine) Profile(_ context.Context, _ int) (*taste.TasteProfile, error) {
	return &taste.TasteProfile{
		TopGenres: []taste.FeatureWeight{{Name: "horror", Weight: 2.0}},
	}, nil
}

func (f *fakeEngine) ApplyFeedback(_ context.Context, ev taste.FeedbackEvent, _ *taste.Candidate) error {
	f.applied = append(f.applied, ev)
	return nil
}

func (f *fakeEngine) UndoFeedback(_ context.Context, _, candidateID int, _ *taste.Candidate) error {
	f.undone = append(f.undone, candidateID)
	return nil
}

func (f *fakeEngine) SuggestionState(_ context.Context, _, _ int) (taste.SuggestionState, error) {
	return f.state, nil
}

// fakeHistoryStore records imported records.
type fakeHistoryStore struct {
	events []taste.WatchEvent
	films  []taste.Candidate
}

func (f *fakeHistoryStore) UpsertWatchEvent(_ context.Context, _ int, ev taste.WatchEvent) error {
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeHistoryStore) UpsertFilm(_ context.Context, c taste.Candidate) error {
	f.films = append(f.films, c)
	return nil
}

// fakePublisher records queued feedback.
type fakePublisher struct {
	published []taste.FeedbackEvent
	undos     []int
}

func (f *fakePublisher) PublishFeedback(ev taste.FeedbackEvent, _ *taste.Candidate) error {
	f.published = append(f.published, ev)
	return nil
}

func (f *fakePublisher) PublishUndo(_, candidateID int, _ *taste.Candidate) error {
	f.undos = append(f.undos, candidateID)
	return nil
}

func serveTest(engine Engine, history HistoryStore, publisher FeedbackPublisher, req *http.Request) *httptest.ResponseRecorder {
	handler := NewHandler(engine, history, publisher, nil, zerolog.Nop())
	router := NewRouter(DefaultConfig(), handler, zerolog.Nop())
	rec := httptest.NewRecorder()
	router.Setup().ServeHTTP(rec, req)
	return rec
}

func TestRecommendationsQueryParams(t *testing.T) {
	tests := []struct {
		name       string
		target     string
		wantStatus int
	}{
		{"plain", "/api/v1/users/1/recommendations", http.StatusOK},
		{"with k", "/api/v1/users/1/recommendations?k=5", http.StatusOK},
		{"with tone and lambda", "/api/v1/users/1/recommendations?tone=short&lambda=0.2", http.StatusOK},
		{"zero k", "/api/v1/users/1/recommendations?k=0", http.StatusBadRequest},
		{"bad k", "/api/v1/users/1/recommendations?k=lots", http.StatusBadRequest},
		{"bad tone", "/api/v1/users/1/recommendations?tone=spooky", http.StatusBadRequest},
		{"negative lambda", "/api/v1/users/1/recommendations?lambda=-1", http.StatusBadRequest},
		{"bad user id", "/api/v1/users/zero/recommendations", http.StatusBadRequest},
		{"negative user id", "/api/v1/users/-3/recommendations", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serveTest(&fakeEngine{}, &fakeHistoryStore{}, nil,
				httptest.NewRequest(http.MethodGet, tt.target, nil))
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}
}

func TestRecommendationsSessionPassthrough(t *testing.T) {
	engine := &fakeEngine{}
	rec := serveTest(engine, &fakeHistoryStore{}, nil,
		httptest.NewRequest(http.MethodGet, "/api/v1/users/7/recommendations?k=5&tone=family&lambda=0.4", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	got := engine.lastRequest
	if got.UserID != 7 || got.K != 5 {
		t.Errorf("request = %+v", got)
	}
	if got.Session == nil || got.Session.Tone != taste.ToneFamily || got.Session.Lambda != 0.4 {
		t.Errorf("session = %+v", got.Session)
	}
}

func TestRecommendationsErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"superseded", taste.ErrSuperseded, http.StatusConflict},
		{"pipeline failure", errors.New("catalog down"), http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serveTest(&fakeEngine{recommendErr: tt.err}, &fakeHistoryStore{}, nil,
				httptest.NewRequest(http.MethodGet, "/api/v1/users/1/recommendations", nil))
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestImportHistory(t *testing.T) {
	store := &fakeHistoryStore{}
	body := `{
		"events": [
			{"uri": "diary/1", "candidate_id": 603, "rating": 4.5},
			{"uri": "diary/2", "candidate_id": 604, "on_watchlist": true}
		],
		"films": [{"id": 603, "title": "The Matrix"}]
	}`

	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/1/history", strings.NewReader(body))
	rec := serveTest(&fakeEngine{}, store, nil, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if len(store.events) != 2 || len(store.films) != 1 {
		t.Errorf("imported %d events / %d films, want 2/1", len(store.events), len(store.films))
	}
}

func TestImportHistoryValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `{{`},
		{"missing uri", `{"events":[{"candidate_id":1,"rating":3}]}`},
		{"off-grid rating", `{"events":[{"uri":"d/1","candidate_id":1,"rating":3.7}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/users/1/history", strings.NewReader(tt.body))
			rec := serveTest(&fakeEngine{}, &fakeHistoryStore{}, nil, req)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400 (body %s)", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestPostFeedbackQueuedWithPublisher(t *testing.T) {
	publisher := &fakePublisher{}
	engine := &fakeEngine{}
	body := `{"candidate_id": 42, "kind": "negative-soft", "sources": ["similar", "keyword"]}`

	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/1/feedback", strings.NewReader(body))
	rec := serveTest(engine, &fakeHistoryStore{}, publisher, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 (body %s)", rec.Code, rec.Body.String())
	}
	if len(publisher.published) != 1 {
		t.Fatalf("published = %d events, want 1", len(publisher.published))
	}
	if len(engine.applied) != 0 {
		t.Error("feedback must not be applied inline when a publisher is wired")
	}

	ev := publisher.published[0]
	if ev.UserID != 1 || ev.CandidateID != 42 || ev.Kind != taste.FeedbackNegativeSoft {
		t.Errorf("event = %+v", ev)
	}
	if ev.Consensus != taste.ConsensusMedium {
		t.Errorf("consensus = %v, want medium from two sources", ev.Consensus)
	}
}

func TestPostFeedbackAppliedWithoutPublisher(t *testing.T) {
	engine := &fakeEngine{}
	body := `{"candidate_id": 42, "kind": "positive"}`

	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/1/feedback", strings.NewReader(body))
	rec := serveTest(engine, &fakeHistoryStore{}, nil, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	if len(engine.applied) != 1 {
		t.Fatalf("applied = %d events, want 1", len(engine.applied))
	}
}

func TestPostFeedbackValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing candidate", `{"kind": "positive"}`},
		{"unknown kind", `{"candidate_id": 1, "kind": "meh"}`},
		{"negative candidate", `{"candidate_id": -1, "kind": "positive"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/users/1/feedback", strings.NewReader(tt.body))
			rec := serveTest(&fakeEngine{}, &fakeHistoryStore{}, nil, req)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400 (body %s)", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestDeleteFeedback(t *testing.T) {
	engine := &fakeEngine{}
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/users/1/feedback/42", nil)
	rec := serveTest(engine, &fakeHistoryStore{}, nil, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(engine.undone) != 1 || engine.undone[0] != 42 {
		t.Errorf("undone = %v, want [42]", engine.undone)
	}

	publisher := &fakePublisher{}
	rec = serveTest(&fakeEngine{}, &fakeHistoryStore{}, publisher,
		httptest.NewRequest(http.MethodDelete, "/api/v1/users/1/feedback/42", nil))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status with publisher = %d, want 202", rec.Code)
	}
	if len(publisher.undos) != 1 {
		t.Errorf("queued undos = %d, want 1", len(publisher.undos))
	}
}

func TestSuggestionStateEndpoint(t *testing.T) {
	engine := &fakeEngine{state: taste.StateDismissedSoft}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/1/suggestions/42/state", nil)
	rec := serveTest(engine, &fakeHistoryStore{}, nil, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["state"] != "dismissed-soft" {
		t.Errorf("state = %q, want dismissed-soft", body["state"])
	}
}

func TestHealthEndpoints(t *testing.T) {
	rec := serveTest(&fakeEngine{}, &fakeHistoryStore{}, nil,
		httptest.NewRequest(http.MethodGet, "/api/v1/health/live", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("live status = %d", rec.Code)
	}

	notReady := NewHandler(&fakeEngine{}, &fakeHistoryStore{}, nil, func() bool { return false }, zerolog.Nop())
	router := NewRouter(DefaultConfig(), notReady, zerolog.Nop())
	rec = httptest.NewRecorder()
	router.Setup().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("not-ready status = %d, want 503", rec.Code)
	}
}
