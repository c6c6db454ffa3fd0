// Package apiclient wraps HTTP access to the upstream backend with
// request tracking, auth injection, retry with backoff on network
// failure, and transparent token-refresh-and-retry on 401.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/eva-ai/platform/pkg/logger"
	"github.com/eva-ai/platform/pkg/metrics"
)

const authFailureDelay = 100 * time.Millisecond

var errBuildRequest = errors.New("failed to build request")

// Credentials supplies and persists the auth token.
type Credentials interface {
	Token() string
	SetToken(token string)
	Clear()
}

// TokenRefresher exchanges expired credentials for a fresh token.
type TokenRefresher interface {
	Refresh(ctx context.Context) (string, error)
}

// Config holds client construction parameters.
type Config struct {
	BaseURL        string
	Timeout        time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
	DefaultHeaders map[string]string
}

// Result is the uniform outcome of a client call. Exactly one of Data
// and Err is meaningful, discriminated by Success. Client methods never
// return a Go error; every failure is funneled into the Result.
type Result struct {
	Data    json.RawMessage
	Status  int
	Success bool
	Err     error
}

// DecodeInto unmarshals the response data into v. It returns the call's
// error when the call failed.
func (r Result) DecodeInto(v any) error {
	if !r.Success {
		return r.Err
	}
	if len(r.Data) == 0 {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}

// pendingRequest tracks an in-flight call for observability.
type pendingRequest struct {
	URL    string
	Method string
	Start  time.Time
}

// call carries per-request retry state through the pipeline. Each
// logical request owns its call, so retry counters never interfere
// across concurrent requests.
type call struct {
	method      string
	path        string
	query       url.Values
	body        []byte
	retryCount  int
	isRetryAuth bool
	token       string // set after a refresh, overrides the stored token
	episodeBase time.Duration
}

// Client is the backend HTTP client. All mutable state is instance
// scoped so independent clients (tests included) do not interfere.
type Client struct {
	http      *http.Client
	baseURL   string
	headers   map[string]string
	creds     Credentials
	refresher TokenRefresher
	logger    *logger.Logger

	maxRetries    int
	baseDelay     time.Duration
	onAuthFailure func()

	refreshGroup singleflight.Group

	mu           sync.Mutex
	pending      map[string]pendingRequest
	networkIssue bool
	episodeDelay time.Duration

	// test seams
	wait      func(ctx context.Context, d time.Duration) error
	nowMillis func() int64
}

// Option configures a Client.
type Option func(*Client)

// WithAuthFailureHandler sets the callback invoked (after a short delay)
// when authentication cannot be recovered.
func WithAuthFailureHandler(fn func()) Option {
	return func(c *Client) {
		c.onAuthFailure = fn
	}
}

// WithHTTPClient replaces the underlying transport.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.http = h
	}
}

// NewClient creates a backend client.
func NewClient(cfg Config, creds Credentials, refresher TokenRefresher, log *logger.Logger, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	baseDelay := cfg.RetryBaseDelay
	if baseDelay <= 0 {
		baseDelay = time.Second
	}

	c := &Client{
		http:         &http.Client{Timeout: timeout},
		baseURL:      cfg.BaseURL,
		headers:      cfg.DefaultHeaders,
		creds:        creds,
		refresher:    refresher,
		logger:       log,
		maxRetries:   maxRetries,
		baseDelay:    baseDelay,
		episodeDelay: baseDelay,
		pending:      make(map[string]pendingRequest),
		wait:         defaultWait,
		nowMillis:    func() int64 { return time.Now().UnixMilli() },
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Get issues a GET request.
func (c *Client) Get(ctx context.Context, path string, params url.Values) Result {
	return c.execute(ctx, &call{method: http.MethodGet, path: path, query: params})
}

// Post issues a POST request with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body any) Result {
	return c.send(ctx, http.MethodPost, path, body)
}

// Put issues a PUT request with a JSON body.
func (c *Client) Put(ctx context.Context, path string, body any) Result {
	return c.send(ctx, http.MethodPut, path, body)
}

// Patch issues a PATCH request with a JSON body.
func (c *Client) Patch(ctx context.Context, path string, body any) Result {
	return c.send(ctx, http.MethodPatch, path, body)
}

// Delete issues a DELETE request.
func (c *Client) Delete(ctx context.Context, path string) Result {
	return c.execute(ctx, &call{method: http.MethodDelete, path: path})
}

// CheckHealth probes the backend health endpoint.
func (c *Client) CheckHealth(ctx context.Context) bool {
	return c.Get(ctx, "/health", nil).Success
}

// IsOffline reports whether the last transport outcome was a network
// failure that has not yet healed.
func (c *Client) IsOffline() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.networkIssue
}

// PendingRequests returns the number of in-flight requests.
func (c *Client) PendingRequests() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Client) send(ctx context.Context, method, path string, body any) Result {
	cl := &call{method: method, path: path}
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return Result{Err: errors.New("an unexpected error occurred")}
		}
		cl.body = raw
	}
	return c.execute(ctx, cl)
}

// execute runs the request pipeline and funnels every outcome into a
// Result. It never panics out to the caller.
func (c *Client) execute(ctx context.Context, cl *call) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("request pipeline panic",
				zap.String("method", cl.method),
				zap.String("path", cl.path),
				zap.Any("panic", r),
			)
			res = Result{Err: errors.New("an unexpected error occurred")}
		}
	}()

	status, body, err := c.do(ctx, cl)
	if err != nil {
		var netErr *NetworkError
		var apiErr *APIError
		var authErr *AuthError
		if !errors.As(err, &netErr) && !errors.As(err, &apiErr) && !errors.As(err, &authErr) {
			return Result{Err: errors.New("an unexpected error occurred")}
		}

		st := 0
		if sc, ok := err.(statusCoder); ok {
			st = sc.StatusCode()
		}
		return Result{Status: st, Err: err}
	}

	return Result{Data: body, Status: status, Success: true}
}

// do drives the retry and refresh loop for one logical request.
func (c *Client) do(ctx context.Context, cl *call) (int, []byte, error) {
	for {
		status, body, reqErr := c.roundTrip(ctx, cl)
		if reqErr != nil {
			if errors.Is(reqErr, errBuildRequest) {
				return 0, nil, reqErr
			}

			// Connection-level failure, no response received.
			c.noteNetworkIssue(cl)
			if cl.retryCount < c.maxRetries {
				delay := c.nextRetryDelay(cl)
				cl.retryCount++
				metrics.BackendRetriesTotal.Inc()
				c.logger.Debug("retrying after network failure",
					zap.String("method", cl.method),
					zap.String("path", cl.path),
					zap.Int("attempt", cl.retryCount),
					zap.Duration("delay", delay),
				)
				if err := c.wait(ctx, delay); err != nil {
					return 0, nil, &NetworkError{
						Message: "Network connectivity issue. Please check your connection.",
						cause:   err,
					}
				}
				continue
			}
			return 0, nil, &NetworkError{
				Message: "Network connectivity issue. Please check your connection.",
				cause:   reqErr,
			}
		}

		switch {
		case status >= 200 && status < 300:
			c.clearNetworkIssue()
			return status, body, nil

		case status == http.StatusUnauthorized:
			if !cl.isRetryAuth {
				cl.isRetryAuth = true
				token, err := c.refreshToken(ctx)
				if err != nil {
					c.handleAuthFailure()
					return status, body, &AuthError{
						Message: "Your session has expired. Please log in again.",
						Status:  status,
					}
				}
				if c.creds != nil {
					c.creds.SetToken(token)
				}
				cl.token = token
				continue
			}
			c.handleAuthFailure()
			return status, body, &AuthError{
				Message: "Authentication failed. Please log in again.",
				Status:  status,
			}

		case status >= 500:
			return status, body, &APIError{
				Message: "Server error. Please try again later.",
				Status:  status,
				Body:    body,
			}

		default:
			return status, body, &APIError{
				Message: messageFromBody(body, status),
				Status:  status,
				Body:    body,
			}
		}
	}
}

// roundTrip performs a single HTTP exchange.
func (c *Client) roundTrip(ctx context.Context, cl *call) (int, []byte, error) {
	requestID := fmt.Sprintf("%s-%s-%d", cl.method, cl.path, c.nowMillis())
	start := time.Now()

	c.mu.Lock()
	c.pending[requestID] = pendingRequest{URL: cl.path, Method: cl.method, Start: start}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, requestID)
		c.mu.Unlock()
	}()

	target := c.baseURL + cl.path
	if len(cl.query) > 0 {
		target += "?" + cl.query.Encode()
	}

	var bodyReader io.Reader
	if cl.body != nil {
		bodyReader = bytes.NewReader(cl.body)
	}

	req, err := http.NewRequestWithContext(ctx, cl.method, target, bodyReader)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", errBuildRequest, err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("X-Request-ID", requestID)

	token := cl.token
	if token == "" && c.creds != nil {
		token = c.creds.Token()
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	c.logger.Debug("backend request",
		zap.String("method", cl.method),
		zap.String("url", target),
		zap.String("request_id", requestID),
	)

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.RecordBackendRequest(cl.method, "network_error", time.Since(start).Seconds())
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.RecordBackendRequest(cl.method, "network_error", time.Since(start).Seconds())
		return 0, nil, err
	}

	duration := time.Since(start)
	metrics.RecordBackendRequest(cl.method, fmt.Sprintf("%d", resp.StatusCode), duration.Seconds())
	c.logger.Debug("backend response",
		zap.String("method", cl.method),
		zap.String("url", target),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", duration),
	)

	return resp.StatusCode, body, nil
}

// refreshToken coalesces concurrent refresh attempts into one in-flight
// call; every waiter receives the same token or error.
func (c *Client) refreshToken(ctx context.Context) (string, error) {
	if c.refresher == nil {
		return "", errors.New("no token refresher configured")
	}

	v, err, _ := c.refreshGroup.Do("token", func() (any, error) {
		return c.refresher.Refresh(ctx)
	})
	if err != nil {
		metrics.TokenRefreshesTotal.WithLabelValues("failure").Inc()
		return "", err
	}
	metrics.TokenRefreshesTotal.WithLabelValues("success").Inc()
	return v.(string), nil
}

func (c *Client) handleAuthFailure() {
	if c.creds != nil {
		c.creds.Clear()
	}
	if c.onAuthFailure != nil {
		// Deferred so the failing caller unwinds before any redirect.
		time.AfterFunc(authFailureDelay, c.onAuthFailure)
	}
}

func (c *Client) noteNetworkIssue(cl *call) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.networkIssue = true
	if cl.episodeBase == 0 {
		cl.episodeBase = c.episodeDelay
	}
	metrics.SetBackendOffline(true)
}

func (c *Client) clearNetworkIssue() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.networkIssue {
		c.networkIssue = false
		c.episodeDelay = c.baseDelay
		metrics.SetBackendOffline(false)
	}
}

// nextRetryDelay doubles the delay on each retry of a request chain and
// carries the grown value forward as the starting delay for requests
// that fail later in the same outage.
func (c *Client) nextRetryDelay(cl *call) time.Duration {
	delay := cl.episodeBase * (1 << cl.retryCount)

	c.mu.Lock()
	c.episodeDelay = delay
	c.mu.Unlock()

	return delay
}

func defaultWait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
