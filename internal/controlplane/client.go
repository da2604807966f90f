package controlplane

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/leadmify/agent/internal/metrics"
	"github.com/leadmify/agent/internal/retry"
	"github.com/leadmify/agent/internal/token"
)

// probePath is the lightweight endpoint used for health probes
const probePath = "/api/campaigns"

// maxErrorBody bounds how much of an error response is kept for diagnostics
const maxErrorBody = 512

// Options configures a Client. Zero values take the defaults noted per field.
type Options struct {
	BaseURL string
	Tokens  token.Source

	Timeout             time.Duration // per request, 30s
	HealthCheckInterval time.Duration // 5s
	ProbeTimeout        time.Duration // 5s
	ReconnectBudget     time.Duration // 300s
	MaxAttempts         int           // 5
	FailureThreshold    int           // 10
	Backoff             retry.Backoff // retry.DefaultBackoff()
	DefaultRetryAfter   time.Duration // 60s

	HTTPClient *http.Client
	Logger     *slog.Logger

	// Test hooks
	Sleep retry.SleepFunc
	Now   func() time.Time
}

// Client is the authenticated control-plane HTTP client
type Client struct {
	opts    Options
	baseURL string
	http    *http.Client
	health  connectionHealth
	logger  *slog.Logger
}

// NewClient creates a new control-plane client
func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.HealthCheckInterval <= 0 {
		opts.HealthCheckInterval = 5 * time.Second
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 5 * time.Second
	}
	if opts.ReconnectBudget <= 0 {
		opts.ReconnectBudget = 300 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = 10
	}
	if opts.Backoff == (retry.Backoff{}) {
		opts.Backoff = retry.DefaultBackoff()
	}
	if opts.DefaultRetryAfter <= 0 {
		opts.DefaultRetryAfter = 60 * time.Second
	}
	if opts.Tokens == nil {
		opts.Tokens = token.Static("")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Sleep == nil {
		opts.Sleep = retry.Sleep
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}

	return &Client{
		opts:    opts,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		http:    httpClient,
		logger:  opts.Logger.With("component", "controlplane"),
	}
}

// Health returns the current connection health
func (c *Client) Health() Health {
	return c.health.snapshot()
}

// Do performs an authenticated JSON request and decodes the response into result.
//
// It returns ErrTokenExpired on 401, ErrConnectionLost once the reconnect
// budget is spent, and an error wrapping ErrNoResponse for every other
// failure. 429 and 5xx responses and transport errors are retried.
func (c *Client) Do(ctx context.Context, method, endpoint string, body, result any) error {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		payload = data
	}

	logger := c.logger.With("method", method, "endpoint", endpoint)
	var lastErr error

	for attempt := 0; attempt < c.opts.MaxAttempts; attempt++ {
		if err := c.ensureConnected(ctx); err != nil {
			return err
		}

		resp, err := c.roundTrip(ctx, method, endpoint, payload, c.opts.Timeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			failures := c.health.recordFailure()
			logger.Warn("control plane request failed", "attempt", attempt+1, "failures", failures, "error", err)

			if failures >= c.opts.FailureThreshold {
				if err := c.waitForReconnect(ctx); err != nil {
					return err
				}
				continue
			}
			if attempt < c.opts.MaxAttempts-1 {
				if err := c.opts.Sleep(ctx, c.opts.Backoff.Delay(attempt)); err != nil {
					return err
				}
			}
			continue
		}

		status := resp.StatusCode
		switch {
		case status == http.StatusUnauthorized:
			drain(resp)
			logger.Error("control plane rejected token")
			return ErrTokenExpired

		case status == http.StatusTooManyRequests:
			wait := c.retryAfter(resp.Header.Get("Retry-After"))
			drain(resp)
			lastErr = &StatusError{Code: status}
			logger.Warn("rate limited by control plane", "retry_after", wait)
			if err := c.opts.Sleep(ctx, wait); err != nil {
				return err
			}

		case status >= 200 && status < 300:
			c.health.recordSuccess(c.opts.Now())
			if err := decode(resp, result); err != nil {
				return fmt.Errorf("%w: decode %s: %v", ErrNoResponse, endpoint, err)
			}
			return nil

		case status < 500:
			se := &StatusError{Code: status, Body: readBody(resp)}
			logger.Warn("control plane refused request", "status", status)
			return fmt.Errorf("%w: %w", ErrNoResponse, se)

		default:
			lastErr = &StatusError{Code: status, Body: readBody(resp)}
			logger.Warn("control plane server error", "status", status, "attempt", attempt+1)
			if attempt < c.opts.MaxAttempts-1 {
				if err := c.opts.Sleep(ctx, c.opts.Backoff.Delay(attempt)); err != nil {
					return err
				}
			}
		}
	}

	if lastErr != nil {
		return fmt.Errorf("%w after %d attempts: %w", ErrNoResponse, c.opts.MaxAttempts, lastErr)
	}
	return ErrNoResponse
}

// roundTrip sends one request and records its metrics. The caller owns resp.Body.
func (c *Client) roundTrip(ctx context.Context, method, endpoint string, payload []byte, timeout time.Duration) (*http.Response, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	// The deadline must cover reading the body, so it is cancelled by the body's Close.
	reqCtx, cancel := context.WithTimeout(ctx, timeout)

	req, err := http.NewRequestWithContext(reqCtx, method, c.baseURL+endpoint, reqBody)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.opts.Tokens.Token())
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	route := metrics.RouteLabel(endpoint)
	if err != nil {
		cancel()
		metrics.ObserveAPIRequest(method, route, "error", time.Since(start))
		return nil, err
	}
	metrics.ObserveAPIRequest(method, route, strconv.Itoa(resp.StatusCode), time.Since(start))

	resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// ensureConnected probes the control plane when health is stale
func (c *Client) ensureConnected(ctx context.Context) error {
	if !c.health.due(c.opts.Now(), c.opts.HealthCheckInterval) {
		return nil
	}

	err := c.probe(ctx)
	switch {
	case err == nil:
		c.health.recordSuccess(c.opts.Now())
		return nil
	case errors.Is(err, ErrTokenExpired):
		return err
	case ctx.Err() != nil:
		return ctx.Err()
	}

	c.logger.Warn("control plane health probe failed", "error", err)
	return c.waitForReconnect(ctx)
}

// probe returns nil for any response below 500 other than 401
func (c *Client) probe(ctx context.Context) error {
	resp, err := c.roundTrip(ctx, http.MethodGet, probePath, nil, c.opts.ProbeTimeout)
	if err != nil {
		return err
	}
	drain(resp)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrTokenExpired
	case resp.StatusCode < 500:
		return nil
	default:
		return &StatusError{Code: resp.StatusCode}
	}
}

// WaitForConnection blocks until a health probe succeeds or the reconnect
// budget runs out, in which case it returns ErrConnectionLost.
func (c *Client) WaitForConnection(ctx context.Context) error {
	err := c.probe(ctx)
	switch {
	case err == nil:
		c.health.recordSuccess(c.opts.Now())
		return nil
	case errors.Is(err, ErrTokenExpired):
		return err
	case ctx.Err() != nil:
		return ctx.Err()
	}
	return c.waitForReconnect(ctx)
}

// waitForReconnect re-probes with backoff until the probe succeeds or the
// reconnect budget runs out.
func (c *Client) waitForReconnect(ctx context.Context) error {
	start := c.opts.Now()
	c.logger.Warn("waiting for control plane connection", "budget", c.opts.ReconnectBudget)

	for attempt := 0; ; attempt++ {
		if c.opts.Now().Sub(start) >= c.opts.ReconnectBudget {
			metrics.IncAPIReconnects("lost")
			c.logger.Error("control plane connection lost", "waited", c.opts.Now().Sub(start))
			return ErrConnectionLost
		}

		if err := c.opts.Sleep(ctx, c.opts.Backoff.Delay(attempt)); err != nil {
			return err
		}

		err := c.probe(ctx)
		switch {
		case err == nil:
			c.health.recordSuccess(c.opts.Now())
			metrics.IncAPIReconnects("restored")
			c.logger.Info("control plane connection restored", "attempts", attempt+1)
			return nil
		case errors.Is(err, ErrTokenExpired):
			return err
		case ctx.Err() != nil:
			return ctx.Err()
		}
		c.logger.Debug("reconnect probe failed", "attempt", attempt+1, "error", err)
	}
}

// retryAfter parses a Retry-After header given in seconds or as an HTTP date
func (c *Client) retryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return c.opts.DefaultRetryAfter
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil && secs >= 0 {
		return time.Duration(secs * float64(time.Second))
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(c.opts.Now()); d > 0 {
			return d
		}
		return 0
	}
	return c.opts.DefaultRetryAfter
}

type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

func decode(resp *http.Response, result any) error {
	defer resp.Body.Close()
	if result == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	err := json.NewDecoder(resp.Body).Decode(result)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func readBody(resp *http.Response) string {
	defer resp.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return strings.TrimSpace(string(data))
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()
}
