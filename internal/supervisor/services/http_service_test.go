// Kinograph - Personalized Film Discovery and Taste Profiling
// Copyright 2026 Kinograph Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kinograph/kinograph

package services

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"
)

// mockHTTPServer simulates http.Server's blocking lifecycle.
type mockHTTPServer struct {
	serveErr    error
	shutdownErr error

	started  chan struct{}
	release  chan struct{}
	shutdown atomic.Bool
}

func newMockHTTPServer() *mockHTTPServer {
	return &mockHTTPServer{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (m *mockHTTPServer) ListenAndServe() error {
	close(m.started)
	if m.serveErr != nil {
		return m.serveErr
	}
	<-m.release
	return http.ErrServerClosed
}

func (m *mockHTTPServer) Shutdown(_ context.Context) error {
	m.shutdown.Store(true)
	close(m.release)
	return m.shutdownErr
}

func TestHTTPServerServiceGracefulShutdown(t *testing.T) {
	server := newMockHTTPServer()
	svc := NewHTTPServerService(server, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	select {
	case <-server.started:
	case <-time.After(time.Second):
		t.Fatal("server never started")
	}

	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}

	if !server.shutdown.Load() {
		t.Error("graceful Shutdown was never called")
	}
}

func TestHTTPServerServiceListenFailure(t *testing.T) {
	server := newMockHTTPServer()
	server.serveErr = errors.New("address already in use")
	svc := NewHTTPServerService(server, time.Second)

	err := svc.Serve(context.Background())
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		t.Errorf("Serve = %v, want the listen failure surfaced", err)
	}
}

func TestHTTPServerServiceString(t *testing.T) {
	if got := NewHTTPServerService(newMockHTTPServer(), 0).String(); got != "http-server" {
		t.Errorf("String() = %q", got)
	}
}
