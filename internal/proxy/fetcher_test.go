package proxy

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestFetcher(retries int, timeout time.Duration) *Fetcher {
	return NewFetcher(FetcherOptions{
		UserAgent:    "test-agent",
		Timeout:      timeout,
		MaxRetries:   retries,
		RetryWaitMin: time.Millisecond,
		RetryWaitMax: 5 * time.Millisecond,
	})
}

func TestFetcher_headers(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		io.WriteString(w, "ok")
	}))
	defer srv.Close()

	resp, err := newTestFetcher(0, time.Second).Fetch(context.Background(), UpstreamRequest{
		URL:     srv.URL + "/seg.ts",
		Referer: "https://site.test/page",
		Range:   "bytes=0-1",
	})
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	want := map[string]string{
		"User-Agent": "test-agent",
		"Accept":     "*/*",
		"Referer":    "https://site.test/page",
		"Origin":     "https://site.test",
		"Range":      "bytes=0-1",
	}
	for k, v := range want {
		if got.Get(k) != v {
			t.Errorf("%s = %q, want %q", k, got.Get(k), v)
		}
	}
}

func TestFetcher_status_error_not_retried(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := newTestFetcher(3, time.Second).Fetch(context.Background(), UpstreamRequest{URL: srv.URL})

	var statusErr *UpstreamStatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 status error, got %v", err)
	}
	if hits.Load() != 1 {
		t.Errorf("4xx must not be retried, got %d attempts", hits.Load())
	}
}

func TestFetcher_retries_5xx(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, "recovered")
	}))
	defer srv.Close()

	resp, err := newTestFetcher(1, time.Second).Fetch(context.Background(), UpstreamRequest{URL: srv.URL})
	if err != nil {
		t.Fatalf("expected recovery after retry, got %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "recovered" {
		t.Errorf("body = %q", body)
	}
	if hits.Load() != 2 {
		t.Errorf("expected 2 attempts, got %d", hits.Load())
	}
}

func TestFetcher_retries_exhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestFetcher(1, time.Second).Fetch(context.Background(), UpstreamRequest{URL: srv.URL})
	var statusErr *UpstreamStatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusBadGateway {
		t.Errorf("expected 502 status error, got %v", err)
	}
}

func TestFetcher_timeout(t *testing.T) {
	done := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-done:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(done)

	start := time.Now()
	_, err := newTestFetcher(2, 50*time.Millisecond).Fetch(context.Background(), UpstreamRequest{URL: srv.URL})
	if !errors.Is(err, ErrUpstreamTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if fetchOutcome(err) != "timeout" {
		t.Errorf("outcome = %q", fetchOutcome(err))
	}
	if time.Since(start) > 2*time.Second {
		t.Error("timeouts must not be retried")
	}
}

func TestFetcher_body_outlives_timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		time.Sleep(100 * time.Millisecond)
		io.WriteString(w, "late bytes")
	}))
	defer srv.Close()

	resp, err := newTestFetcher(0, 50*time.Millisecond).Fetch(context.Background(), UpstreamRequest{URL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil || string(body) != "late bytes" {
		t.Errorf("streaming past the header timeout failed: %q %v", body, err)
	}
}

func TestFetcher_connection_refused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	_, err := newTestFetcher(0, time.Second).Fetch(context.Background(), UpstreamRequest{URL: addr})
	if err == nil {
		t.Fatal("expected an error")
	}
	if fetchOutcome(err) != "network" {
		t.Errorf("outcome = %q", fetchOutcome(err))
	}
	if status, _ := errorResponse(err, false); status != http.StatusInternalServerError {
		t.Errorf("status = %d", status)
	}
}
