// Package backend is the HTTP client for the platform backend that stores
// feedback rows and the model-version registry.
package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
)

var (
	// ErrUnavailable covers network failures, timeouts, 5xx responses and an
	// open circuit.
	ErrUnavailable = errors.New("backend unavailable")
	// ErrRejected is a reachable backend answering success=false or 4xx.
	ErrRejected = errors.New("backend rejected request")
	ErrNotFound = errors.New("not found")
)

const apiPrefix = "/api/emotion"

// BreakerConfig configures the circuit breaker around backend calls.
type BreakerConfig struct {
	Enabled          bool
	FailureThreshold uint32
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
}

// Config holds backend client settings.
type Config struct {
	URL     string
	Timeout time.Duration
	Breaker BreakerConfig
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithBreakerObserver is called on every breaker state transition.
func WithBreakerObserver(fn func(name, from, to string)) Option {
	return func(c *Client) { c.onState = fn }
}

// WithRequestObserver is called after every call with the endpoint name and
// one of "success", "failure" or "rejected".
func WithRequestObserver(fn func(endpoint, result string)) Option {
	return func(c *Client) { c.onRequest = fn }
}

// Client talks to the backend. Calls are never retried.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
	cb      *gobreaker.CircuitBreaker[[]byte]
	logger  *slog.Logger

	onState   func(name, from, to string)
	onRequest func(endpoint, result string)
}

// New creates a Client.
func New(cfg Config, logger *slog.Logger, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	c := &Client{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		timeout: timeout,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}

	if cfg.Breaker.Enabled {
		c.cb = newBreaker(cfg.Breaker, logger, c.onState)
	}

	return c
}

func newBreaker(cfg BreakerConfig, logger *slog.Logger, observe func(name, from, to string)) *gobreaker.CircuitBreaker[[]byte] {
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	maxRequests := cfg.MaxRequests
	if maxRequests == 0 {
		maxRequests = 1
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = time.Minute
	}

	return gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "backend",
		MaxRequests: maxRequests,
		Interval:    cfg.Interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// a reachable backend saying no is not an outage
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrRejected) || errors.Is(err, ErrNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("backend circuit breaker state changed",
				"name", name,
				"from", from.String(),
				"to", to.String(),
			)
			if observe != nil {
				observe(name, from.String(), to.String())
			}
		},
	})
}

// BreakerState reports the circuit state, or "disabled".
func (c *Client) BreakerState() string {
	if c.cb == nil {
		return "disabled"
	}
	return c.cb.State().String()
}

// FetchTrainingFeedback returns unused feedback.
func (c *Client) FetchTrainingFeedback(ctx context.Context) (*TrainingFeedback, error) {
	data, err := c.call(ctx, "feedback.training-data", http.MethodGet, "/feedback/training-data", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch training feedback: %w", err)
	}

	var fb TrainingFeedback
	if err := json.Unmarshal(data, &fb); err != nil {
		return nil, fmt.Errorf("failed to decode training feedback: %w: %v", ErrUnavailable, err)
	}
	return &fb, nil
}

// MarkFeedbackUsed flags all fetched feedback as consumed.
func (c *Client) MarkFeedbackUsed(ctx context.Context) error {
	if _, err := c.call(ctx, "feedback.mark-as-used", http.MethodPost, "/feedback/mark-as-used", nil); err != nil {
		return fmt.Errorf("failed to mark feedback used: %w", err)
	}
	return nil
}

// RollbackCandidates lists versions that can be rolled back to.
func (c *Client) RollbackCandidates(ctx context.Context) ([]ModelVersion, error) {
	data, err := c.call(ctx, "model-version.rollback-candidates", http.MethodGet, "/model-version/rollback-candidates", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list rollback candidates: %w", err)
	}

	var versions []ModelVersion
	if err := json.Unmarshal(data, &versions); err != nil {
		return nil, fmt.Errorf("failed to decode rollback candidates: %w: %v", ErrUnavailable, err)
	}
	return versions, nil
}

// GetVersion fetches one registry row.
func (c *Client) GetVersion(ctx context.Context, id int64) (*ModelVersion, error) {
	data, err := c.call(ctx, "model-version.get", http.MethodGet, fmt.Sprintf("/model-version/%d", id), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get model version %d: %w", id, err)
	}

	var v ModelVersion
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("failed to decode model version: %w: %v", ErrUnavailable, err)
	}
	return &v, nil
}

// UpdatePerformance stores evaluation results on a version.
func (c *Client) UpdatePerformance(ctx context.Context, id int64, update PerformanceUpdate) error {
	if _, err := c.call(ctx, "model-version.patch", http.MethodPatch, fmt.Sprintf("/model-version/%d", id), update); err != nil {
		return fmt.Errorf("failed to update performance of version %d: %w", id, err)
	}
	return nil
}

// ActivateVersion tells the registry that id is now the active version.
func (c *Client) ActivateVersion(ctx context.Context, id int64, reason string) error {
	body := rollbackRequest{VersionID: id, Reason: reason}
	if _, err := c.call(ctx, "model-version.rollback", http.MethodPost, "/model-version/rollback", body); err != nil {
		return fmt.Errorf("failed to activate version %d: %w", id, err)
	}
	return nil
}

func (c *Client) call(ctx context.Context, endpoint, method, path string, body any) ([]byte, error) {
	do := func() ([]byte, error) {
		return c.do(ctx, method, path, body)
	}

	var (
		data []byte
		err  error
	)
	if c.cb != nil {
		data, err = c.cb.Execute(do)
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			c.observe(endpoint, "rejected")
			return nil, fmt.Errorf("%w: circuit %s", ErrUnavailable, c.cb.State().String())
		}
	} else {
		data, err = do()
	}

	if err != nil {
		c.observe(endpoint, "failure")
		c.logger.Warn("backend call failed", "endpoint", endpoint, "error", err)
		return nil, err
	}

	c.observe(endpoint, "success")
	return data, nil
}

func (c *Client) observe(endpoint, result string) {
	if c.onRequest != nil {
		c.onRequest(endpoint, result)
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+apiPrefix+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s %s", ErrNotFound, method, path)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: malformed response: %v", ErrUnavailable, err)
	}
	if !env.Success {
		return nil, fmt.Errorf("%w: %s", ErrRejected, env.Message)
	}

	return env.Data, nil
}
