package apiclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eva-ai/platform/pkg/logger"
)

type fakeCreds struct {
	mu      sync.Mutex
	token   string
	cleared bool
}

func (c *fakeCreds) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *fakeCreds) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

func (c *fakeCreds) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
	c.cleared = true
}

func (c *fakeCreds) wasCleared() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cleared
}

type fakeRefresher struct {
	fn    func(ctx context.Context) (string, error)
	calls int32
}

func (r *fakeRefresher) Refresh(ctx context.Context) (string, error) {
	atomic.AddInt32(&r.calls, 1)
	return r.fn(ctx)
}

// failingTransport fails every request at the connection level.
type failingTransport struct {
	attempts int32
}

func (t *failingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	atomic.AddInt32(&t.attempts, 1)
	return nil, errors.New("dial tcp: connection refused")
}

func newTestClient(t *testing.T, baseURL string, creds Credentials, refresher TokenRefresher, opts ...Option) *Client {
	t.Helper()
	c := NewClient(Config{
		BaseURL:        baseURL,
		Timeout:        2 * time.Second,
		MaxRetries:     3,
		RetryBaseDelay: 10 * time.Millisecond,
	}, creds, refresher, logger.NewNop(), opts...)
	// Skip real sleeps in tests.
	c.wait = func(ctx context.Context, d time.Duration) error { return nil }
	return c
}

func TestRetryExhaustion(t *testing.T) {
	transport := &failingTransport{}
	c := newTestClient(t, "http://backend", &fakeCreds{}, nil,
		WithHTTPClient(&http.Client{Transport: transport}))

	res := c.Get(context.Background(), "/customers", nil)

	if res.Success {
		t.Fatal("expected failure result")
	}
	if got := atomic.LoadInt32(&transport.attempts); got != 4 {
		t.Errorf("expected 4 attempts (1 initial + 3 retries), got %d", got)
	}
	var netErr *NetworkError
	if !errors.As(res.Err, &netErr) {
		t.Fatalf("expected NetworkError, got %T: %v", res.Err, res.Err)
	}
	if res.Status != 0 {
		t.Errorf("expected status 0, got %d", res.Status)
	}
	if !c.IsOffline() {
		t.Error("expected client to be flagged offline")
	}
}

func TestBackoffGrowthAndResetAfterSuccess(t *testing.T) {
	transport := &failingTransport{}
	c := newTestClient(t, "http://backend", &fakeCreds{}, nil,
		WithHTTPClient(&http.Client{Transport: transport}))

	var delays []time.Duration
	c.wait = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	c.Get(context.Background(), "/customers", nil)

	base := 10 * time.Millisecond
	want := []time.Duration{base, 2 * base, 4 * base}
	if len(delays) != len(want) {
		t.Fatalf("expected %d delays, got %d", len(want), len(delays))
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("delay %d: expected %v, got %v", i, want[i], delays[i])
		}
	}

	// A later chain in the same outage starts from the persisted delay.
	delays = nil
	c.Get(context.Background(), "/customers", nil)
	if delays[0] != 4*base {
		t.Errorf("expected episode delay carried forward (%v), got %v", 4*base, delays[0])
	}

	// Any success heals the episode; the next outage starts from base.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	c.http = &http.Client{}
	c.baseURL = server.URL
	if res := c.Get(context.Background(), "/ping", nil); !res.Success {
		t.Fatalf("expected success, got %v", res.Err)
	}
	if c.IsOffline() {
		t.Error("expected offline flag cleared after success")
	}

	delays = nil
	c.http = &http.Client{Transport: &failingTransport{}}
	c.Get(context.Background(), "/customers", nil)
	if delays[0] != base {
		t.Errorf("expected backoff reset to base %v after success, got %v", base, delays[0])
	}
}

func TestAuthRefreshAndRetry(t *testing.T) {
	var requests int32
	var retriedAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&requests, 1)
		if n == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		retriedAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	creds := &fakeCreds{token: "stale-token"}
	refresher := &fakeRefresher{fn: func(ctx context.Context) (string, error) {
		return "fresh-token", nil
	}}
	c := newTestClient(t, server.URL, creds, refresher)

	res := c.Get(context.Background(), "/portfolio", nil)

	if !res.Success {
		t.Fatalf("expected success after refresh, got %v", res.Err)
	}
	if got := atomic.LoadInt32(&requests); got != 2 {
		t.Errorf("expected exactly 2 requests (original + retry), got %d", got)
	}
	if got := atomic.LoadInt32(&refresher.calls); got != 1 {
		t.Errorf("expected exactly 1 refresh, got %d", got)
	}
	if retriedAuth != "Bearer fresh-token" {
		t.Errorf("expected retried request to carry the new token, got %q", retriedAuth)
	}
	if creds.Token() != "fresh-token" {
		t.Errorf("expected new token persisted, got %q", creds.Token())
	}
}

func TestSecond401DoesNotRefreshAgain(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	creds := &fakeCreds{token: "stale-token"}
	refresher := &fakeRefresher{fn: func(ctx context.Context) (string, error) {
		return "fresh-token", nil
	}}

	authFailed := make(chan struct{}, 1)
	c := newTestClient(t, server.URL, creds, refresher,
		WithAuthFailureHandler(func() { authFailed <- struct{}{} }))

	res := c.Get(context.Background(), "/portfolio", nil)

	if res.Success {
		t.Fatal("expected failure result")
	}
	if got := atomic.LoadInt32(&refresher.calls); got != 1 {
		t.Errorf("expected exactly 1 refresh, got %d", got)
	}
	var authErr *AuthError
	if !errors.As(res.Err, &authErr) {
		t.Fatalf("expected AuthError, got %T", res.Err)
	}
	if res.Status != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", res.Status)
	}
	if !creds.wasCleared() {
		t.Error("expected credentials cleared")
	}

	select {
	case <-authFailed:
	case <-time.After(time.Second):
		t.Error("expected auth failure handler to fire")
	}
}

func TestRefreshFailureSurfacesAuthError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	creds := &fakeCreds{token: "stale-token"}
	refresher := &fakeRefresher{fn: func(ctx context.Context) (string, error) {
		return "", errors.New("refresh rejected")
	}}
	c := newTestClient(t, server.URL, creds, refresher)

	res := c.Get(context.Background(), "/portfolio", nil)

	if res.Success {
		t.Fatal("expected failure result")
	}
	var authErr *AuthError
	if !errors.As(res.Err, &authErr) {
		t.Fatalf("expected AuthError, got %T", res.Err)
	}
	if !creds.wasCleared() {
		t.Error("expected credentials cleared after failed refresh")
	}
}

func TestConcurrent401sShareOneRefresh(t *testing.T) {
	const callers = 5

	var unauthorized int32
	allRejected := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer fresh-token" {
			w.Write([]byte(`{"ok":true}`))
			return
		}
		if atomic.AddInt32(&unauthorized, 1) == callers {
			close(allRejected)
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	creds := &fakeCreds{token: "stale-token"}
	refresher := &fakeRefresher{fn: func(ctx context.Context) (string, error) {
		// Hold the refresh until every caller has hit its 401 so all of
		// them are waiting on the same in-flight refresh.
		select {
		case <-allRejected:
		case <-time.After(2 * time.Second):
		}
		// Give the last rejected caller time to join the flight.
		time.Sleep(100 * time.Millisecond)
		return "fresh-token", nil
	}}
	c := newTestClient(t, server.URL, creds, refresher)

	var wg sync.WaitGroup
	results := make([]Result, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = c.Get(context.Background(), "/portfolio", nil)
		}(i)
	}
	wg.Wait()

	for i, res := range results {
		if !res.Success {
			t.Errorf("caller %d: expected success, got %v", i, res.Err)
		}
	}
	if got := atomic.LoadInt32(&refresher.calls); got != 1 {
		t.Errorf("expected one coalesced refresh, got %d", got)
	}
}

func TestNeverPanicsAlwaysReturnsResult(t *testing.T) {
	c := newTestClient(t, "http://backend", &fakeCreds{}, nil,
		WithHTTPClient(&http.Client{Transport: &failingTransport{}}))

	// Invalid method characters make request construction fail.
	res := c.execute(context.Background(), &call{method: "GET\n", path: "/x"})
	if res.Success {
		t.Fatal("expected failure result")
	}
	if res.Err == nil || res.Err.Error() != "an unexpected error occurred" {
		t.Errorf("expected generic error, got %v", res.Err)
	}

	// Unmarshalable bodies are caught, not panicked.
	res = c.Post(context.Background(), "/x", make(chan int))
	if res.Success || res.Err == nil {
		t.Fatal("expected failure result for unmarshalable body")
	}
}

func TestServerAndClientErrorClassification(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/boom":
			http.Error(w, "internal", http.StatusInternalServerError)
		case "/nope":
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnprocessableEntity)
			w.Write([]byte(`{"message":"customer ID is required"}`))
		}
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, &fakeCreds{}, nil)

	res := c.Get(context.Background(), "/boom", nil)
	var apiErr *APIError
	if !errors.As(res.Err, &apiErr) {
		t.Fatalf("expected APIError, got %T", res.Err)
	}
	if apiErr.Status != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", apiErr.Status)
	}

	res = c.Get(context.Background(), "/nope", nil)
	if !errors.As(res.Err, &apiErr) {
		t.Fatalf("expected APIError, got %T", res.Err)
	}
	if apiErr.Message != "customer ID is required" {
		t.Errorf("expected extracted message, got %q", apiErr.Message)
	}
	if res.Status != http.StatusUnprocessableEntity {
		t.Errorf("expected status 422, got %d", res.Status)
	}
}

func TestRequestHeadersAndPendingTracking(t *testing.T) {
	var gotAuth, gotRequestID string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotRequestID = r.Header.Get("X-Request-ID")
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, &fakeCreds{token: "abc"}, nil)

	res := c.Get(context.Background(), "/customers", nil)
	if !res.Success {
		t.Fatalf("expected success, got %v", res.Err)
	}
	if gotAuth != "Bearer abc" {
		t.Errorf("expected bearer token header, got %q", gotAuth)
	}
	if gotRequestID == "" {
		t.Error("expected X-Request-ID header")
	}
	if n := c.PendingRequests(); n != 0 {
		t.Errorf("expected no pending requests after completion, got %d", n)
	}
}
