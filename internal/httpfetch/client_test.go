package httpfetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func noSleep(context.Context, time.Duration) error { return nil }

func TestClientGetSucceedsOnFirstTry(t *testing.T) {
	t.Parallel()

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.Header.Get("X-Api-Key") != "secret" {
			t.Errorf("missing base header, got headers %v", r.Header)
		}
		w.Write([]byte(`[{"id":1}]`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseHeaders: map[string]string{"X-Api-Key": "secret"}})
	c.policy.Sleep = noSleep

	body, _, err := c.Get(context.Background(), srv.URL, nil)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(body) != `[{"id":1}]` {
		t.Fatalf("body = %q", body)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestClientGetRetriesOn500ThenSucceeds(t *testing.T) {
	t.Parallel()

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient(Config{MaxAttempts: 5, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond})
	c.policy.Sleep = noSleep

	_, _, err := c.Get(context.Background(), srv.URL, nil)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestClientGetDoesNotRetry404(t *testing.T) {
	t.Parallel()

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(Config{MaxAttempts: 5, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond})
	c.policy.Sleep = noSleep

	_, _, err := c.Get(context.Background(), srv.URL, nil)
	if err == nil {
		t.Fatalf("Get() error = nil, want error for 404")
	}
	fe, ok := err.(*FetchError)
	if !ok {
		t.Fatalf("error type = %T, want *FetchError", err)
	}
	if fe.Retryable {
		t.Fatalf("FetchError.Retryable = true, want false for 404")
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (non-retryable status should not retry)", calls)
	}
}

func TestClientGetExhaustsRetriesOn429(t *testing.T) {
	t.Parallel()

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond})
	c.policy.Sleep = noSleep

	_, _, err := c.Get(context.Background(), srv.URL, nil)
	if err == nil {
		t.Fatalf("Get() error = nil, want error after exhausting retries")
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestClientGetPerRequestHeadersOverrideBase(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Token"); got != "override" {
			t.Errorf("X-Token = %q, want override", got)
		}
	}))
	defer srv.Close()

	c := NewClient(Config{BaseHeaders: map[string]string{"X-Token": "base"}})
	c.policy.Sleep = noSleep

	_, _, err := c.Get(context.Background(), srv.URL, map[string]string{"X-Token": "override"})
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
}
