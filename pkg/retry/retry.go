// Package retry wraps outbound HTTP calls with a per-attempt deadline and
// exponential backoff for transient failures.
//
// Throttling (429) and other 4xx answers are returned immediately. Server
// errors (5xx) and network failures are retried up to MaxRetries times.
// An attempt that exceeds its own deadline reports ErrTimeout; a caller that
// cancels or whose deadline passes reports ErrCancelled. Neither is retried.
package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

var (
	// ErrThrottled is returned when the upstream answers 429
	ErrThrottled = errors.New("upstream throttled the request")
	// ErrTimeout is returned when a single attempt exceeds its deadline
	ErrTimeout = errors.New("upstream request timed out")
	// ErrCancelled is returned when the caller's context ends
	ErrCancelled = errors.New("upstream request cancelled")
	// ErrUpstreamUnavailable is returned once transient failures exhaust the retry budget
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

// StatusError carries a non-success HTTP status from the upstream
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.StatusCode)
}

// Response is a fully read upstream response
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Config holds retry policy settings
type Config struct {
	Timeout      time.Duration
	MaxRetries   int
	InitialDelay time.Duration
	Multiplier   float64
	MaxBodyBytes int64
}

// Sleeper waits for d or until ctx ends
type Sleeper func(ctx context.Context, d time.Duration) error

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithSleeper overrides how backoff delays are waited out
func WithSleeper(s Sleeper) Option {
	return func(c *Client) {
		c.sleep = s
	}
}

// Client executes requests with the retry policy
type Client struct {
	http   *http.Client
	config Config
	sleep  Sleeper
}

// New creates a retrying client, filling unset policy fields with defaults
func New(cfg Config, opts ...Option) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 500 * time.Millisecond
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 1.5
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 4 << 20
	}

	c := &Client{
		http:   &http.Client{},
		config: cfg,
		sleep:  sleepContext,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Do runs build and the request it returns, retrying transient failures.
// build is called once per attempt with that attempt's context.
func (c *Client) Do(ctx context.Context, build func(ctx context.Context) (*http.Request, error)) (*Response, error) {
	delay := c.config.InitialDelay

	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCancelled, err)
		}

		resp, err := c.attempt(ctx, build)
		if err == nil {
			return resp, nil
		}
		if !retryable(err) {
			return nil, err
		}

		lastErr = err
		if attempt >= c.config.MaxRetries {
			break
		}

		if err := c.sleep(ctx, delay); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCancelled, err)
		}
		delay = time.Duration(float64(delay) * c.config.Multiplier)
	}

	return nil, fmt.Errorf("%w after %d attempts: %w", ErrUpstreamUnavailable, c.config.MaxRetries+1, lastErr)
}

func (c *Client) attempt(ctx context.Context, build func(ctx context.Context) (*http.Request, error)) (*Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := build(attemptCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.classifyContextError(ctx, attemptCtx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.config.MaxBodyBytes))
	if err != nil {
		return nil, c.classifyContextError(ctx, attemptCtx, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, ErrThrottled
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: body}
	case resp.StatusCode >= 500:
		return nil, &transientError{cause: &StatusError{StatusCode: resp.StatusCode, Body: body}}
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

// classifyContextError separates caller cancellation, attempt timeout and plain network failures
func (c *Client) classifyContextError(parent, attemptCtx context.Context, err error) error {
	if parentErr := parent.Err(); parentErr != nil {
		return fmt.Errorf("%w: %v", ErrCancelled, parentErr)
	}
	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", ErrTimeout, c.config.Timeout)
	}
	return &transientError{cause: err}
}

// transientError marks failures worth retrying
type transientError struct {
	cause error
}

func (e *transientError) Error() string { return e.cause.Error() }

func (e *transientError) Unwrap() error { return e.cause }

func retryable(err error) bool {
	var t *transientError
	return errors.As(err, &t)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
