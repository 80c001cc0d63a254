package sitesync

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestFetcher(retries int) (*Fetcher, *[]time.Duration) {
	var sleeps []time.Duration
	f := &Fetcher{
		http:    &http.Client{Timeout: 2 * time.Second},
		retries: retries,
		logger:  testLogger(),
		sleep:   func(d time.Duration) { sleeps = append(sleeps, d) },
	}
	return f, &sleeps
}

func TestFetchReturnsItemsOnSuccess(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		w.Write([]byte(`[{"id":"1"},{"id":"2"}]`))
	}))
	defer srv.Close()

	f, _ := newTestFetcher(3)
	items, err := f.Fetch(context.Background(), "site_a", srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected 1 request, got %d", got)
	}
}

func TestFetchDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	f, sleeps := newTestFetcher(3)
	_, err := f.Fetch(context.Background(), "site_a", srv.URL)
	if err == nil {
		t.Fatal("expected error")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected 1 request for a 4xx response, got %d", got)
	}
	if len(*sleeps) != 0 {
		t.Fatalf("expected no backoff sleeps, got %v", *sleeps)
	}
}

func TestFetchDoesNotRetryNonArrayBody(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`{"items":[]}`))
	}))
	defer srv.Close()

	f, _ := newTestFetcher(3)
	_, err := f.Fetch(context.Background(), "site_a", srv.URL)
	if err == nil {
		t.Fatal("expected error for non-array body")
	}
	if !strings.Contains(err.Error(), "expected JSON array") {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected 1 request, got %d", got)
	}
}

func TestFetchDoesNotRetryNullBody(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`null`))
	}))
	defer srv.Close()

	f, sleeps := newTestFetcher(3)
	items, err := f.Fetch(context.Background(), "site_a", srv.URL)
	if err == nil {
		t.Fatalf("expected error for null body, got %d items", len(items))
	}
	if !strings.Contains(err.Error(), "expected JSON array") {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected 1 request, got %d", got)
	}
	if len(*sleeps) != 0 {
		t.Fatalf("expected no backoff sleeps, got %v", *sleeps)
	}
}

func TestFetchRetriesServerErrorsWithBackoff(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	f, sleeps := newTestFetcher(3)
	_, err := f.Fetch(context.Background(), "site_a", srv.URL)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "after 3 attempts") {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
	want := []time.Duration{1 * time.Second, 2 * time.Second}
	if len(*sleeps) != len(want) {
		t.Fatalf("expected sleeps %v, got %v", want, *sleeps)
	}
	for i, d := range want {
		if (*sleeps)[i] != d {
			t.Fatalf("expected sleeps %v, got %v", want, *sleeps)
		}
	}
}

func TestFetchRecoversAfterServerError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, "boom", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`[{"id":"1"}]`))
	}))
	defer srv.Close()

	f, sleeps := newTestFetcher(3)
	items, err := f.Fetch(context.Background(), "site_a", srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected 2 attempts, got %d", got)
	}
	if len(*sleeps) != 1 || (*sleeps)[0] != 1*time.Second {
		t.Fatalf("expected one 1s backoff, got %v", *sleeps)
	}
}

func TestFetchStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f, _ := newTestFetcher(3)
	_, err := f.Fetch(ctx, "site_a", "http://127.0.0.1:0")
	if err == nil {
		t.Fatal("expected error")
	}
	if err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRetryBackoffDoubles(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
	}
	for _, c := range cases {
		if got := retryBackoff(c.attempt); got != c.want {
			t.Fatalf("attempt %d: expected %v, got %v", c.attempt, c.want, got)
		}
	}
}
