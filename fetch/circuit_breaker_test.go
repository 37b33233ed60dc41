package fetch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestCircuitBreakerFetch_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("test content"))
	}))
	defer server.Close()

	cbf := NewCircuitBreakerFetcher(NewFetcher())

	doc, err := cbf.Fetch(context.Background(), server.URL+"/3/s/syn")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	defer func() { _ = doc.Body.Close() }()

	body, _ := io.ReadAll(doc.Body)
	if string(body) != "test content" {
		t.Errorf("expected 'test content', got %q", string(body))
	}
}

func TestCircuitBreakerGetAndHead(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"dl":"x"}`))
	}))
	defer server.Close()

	cbf := NewCircuitBreakerFetcher(NewFetcher())

	data, err := cbf.Get(context.Background(), server.URL+"/config.json", 1024)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(data) != `{"dl":"x"}` {
		t.Errorf("data = %q", data)
	}

	_, contentType, err := cbf.Head(context.Background(), server.URL+"/config.json")
	if err != nil {
		t.Fatalf("Head failed: %v", err)
	}
	if contentType != "application/json" {
		t.Errorf("contentType = %q", contentType)
	}
}

func TestHostOf(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		expected string
	}{
		{"sparse index", "https://index.crates.io/se/rd/serde", "index.crates.io"},
		{"mirror", "https://mirror.example.com/1/a", "mirror.example.com"},
		{"invalid URL", "not-a-valid-url", "not-a-valid-url"},
		{"with port", "https://example.com:8080/path", "example.com:8080"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := hostOf(tt.url); got != tt.expected {
				t.Errorf("hostOf(%q) = %q, want %q", tt.url, got, tt.expected)
			}
		})
	}
}

func TestBreakerStates(t *testing.T) {
	server1 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("one"))
	}))
	defer server1.Close()
	server2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("two"))
	}))
	defer server2.Close()

	cbf := NewCircuitBreakerFetcher(NewFetcher())
	if len(cbf.BreakerStates()) != 0 {
		t.Error("expected no breakers before the first request")
	}

	for _, u := range []string{server1.URL, server2.URL} {
		if _, err := cbf.Get(context.Background(), u+"/1/a", 0); err != nil {
			t.Fatalf("Get %s failed: %v", u, err)
		}
	}

	states := cbf.BreakerStates()
	if len(states) != 2 {
		t.Errorf("expected 2 breaker states, got %d", len(states))
	}
	for host, state := range states {
		if state != "closed" {
			t.Errorf("%s: state = %s, want closed", host, state)
		}
	}
}

func TestCircuitBreakerOpensOnFailures(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cbf := NewCircuitBreakerFetcher(NewFetcher(WithMaxRetries(0), WithBaseDelay(0)))

	var lastErr error
	for range 10 {
		_, lastErr = cbf.Get(context.Background(), server.URL+"/1/a", 0)
	}

	if !errors.Is(lastErr, ErrUpstreamDown) {
		t.Errorf("last error = %v, want ErrUpstreamDown", lastErr)
	}
	if requests.Load() >= 10 {
		t.Errorf("breaker never opened: %d requests reached the server", requests.Load())
	}
	for _, state := range cbf.BreakerStates() {
		if state != "open" {
			t.Errorf("state = %s, want open", state)
		}
	}
}

func TestCircuitBreakerIgnoresNotFound(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	cbf := NewCircuitBreakerFetcher(NewFetcher())

	for range 10 {
		_, err := cbf.Get(context.Background(), server.URL+"/no/pe/nope", 0)
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("Get = %v, want ErrNotFound", err)
		}
	}
	if requests.Load() != 10 {
		t.Errorf("requests = %d, want 10", requests.Load())
	}
	for _, state := range cbf.BreakerStates() {
		if state != "closed" {
			t.Errorf("state = %s, want closed", state)
		}
	}
}
