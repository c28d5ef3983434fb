// Package webhook is the signed HTTP client the post-call orchestrator uses
// to deliver job, call, and emergency-alert payloads to the dispatcher's
// webhook receiver (spec.md §4.6 step 7, §6.2).
//
// Built in the teacher's HTTP-client idiom (functional options, shared
// *http.Client — pkg/provider/llm/openai/openai.go) composed with a bounded
// exponential-backoff retry loop adapted from
// internal/session/reconnect.go's attemptReconnect (reconnect-forever
// becomes retry-N-times-then-give-up, since a webhook POST either lands or
// the call is marked unsynced for a later run — there is no persistent
// connection to keep alive), plus a single internal/resilience.CircuitBreaker
// (the same primitive internal/toolclient.Client wraps its backend calls
// with) around the per-attempt POST: a receiver that is down doesn't just
// fail one call's retries, it fails every call's, so tripping the breaker
// after repeated failures across calls fails fast instead of burning the
// full backoff budget against a receiver already known to be unreachable.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/rbaset5/calllock-server-sub001/internal/resilience"
)

const (
	defaultMaxRetries = 3
	defaultBackoff    = 500 * time.Millisecond
	defaultMaxBackoff = 5 * time.Second
	defaultTimeout    = 10 * time.Second
)

// Endpoint names the three receiver paths (spec.md §6.2), in the delivery
// order spec.md §4.6 step 7 requires.
const (
	EndpointJobs    = "/webhook/jobs"
	EndpointCalls   = "/webhook/calls"
	EndpointAlerts  = "/webhook/emergency-alerts"
	signatureHeader = "X-Webhook-Signature"
)

// config holds a Client's optional settings, built from functional options.
type config struct {
	httpClient  *http.Client
	timeout     time.Duration
	maxRetries  int
	backoff     time.Duration
	maxBackoff  time.Duration
	log         *slog.Logger
	maxFailures int
}

// Option configures a Client.
type Option func(*config)

// WithHTTPClient overrides the shared *http.Client a Client uses.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithRetries overrides the bounded retry budget and initial/max backoff.
func WithRetries(maxRetries int, backoff, maxBackoff time.Duration) Option {
	return func(c *config) {
		c.maxRetries = maxRetries
		c.backoff = backoff
		c.maxBackoff = maxBackoff
	}
}

// WithLogger overrides the logger used for delivery failures.
func WithLogger(log *slog.Logger) Option {
	return func(c *config) { c.log = log }
}

// WithCircuitBreakerMaxFailures overrides the breaker's trip threshold.
func WithCircuitBreakerMaxFailures(n int) Option {
	return func(c *config) { c.maxFailures = n }
}

// Client signs and delivers JSON payloads to the webhook receiver, retrying
// transient failures with exponential backoff before giving up.
type Client struct {
	baseURL    string
	secret     []byte
	http       *http.Client
	timeout    time.Duration
	maxRetries int
	backoff    time.Duration
	maxBackoff time.Duration
	log        *slog.Logger
	breaker    *resilience.CircuitBreaker
}

// New constructs a Client. baseURL and secret come from
// internal/config.WebhookConfig.
func New(baseURL, secret string, opts ...Option) *Client {
	cfg := &config{
		httpClient:  &http.Client{},
		timeout:     defaultTimeout,
		maxRetries:  defaultMaxRetries,
		backoff:     defaultBackoff,
		maxBackoff:  defaultMaxBackoff,
		log:         slog.Default(),
		maxFailures: 5,
	}
	for _, o := range opts {
		o(cfg)
	}
	return &Client{
		baseURL:    baseURL,
		secret:     []byte(secret),
		http:       cfg.httpClient,
		timeout:    cfg.timeout,
		maxRetries: cfg.maxRetries,
		backoff:    cfg.backoff,
		maxBackoff: cfg.maxBackoff,
		log:        cfg.log,
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:        "webhook-receiver",
			MaxFailures: cfg.maxFailures,
		}),
	}
}

// Sign computes the hex-encoded HMAC-SHA256 signature of body under the
// client's configured secret (spec.md §6.2's X-Webhook-Signature contract).
func (c *Client) Sign(body []byte) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Deliver POSTs body to endpoint, signing it and retrying bounded-N times
// with exponential backoff on failure (network error or HTTP >= 500; an
// HTTP 4xx is logged with the response body and NOT retried, since a
// validation failure will not resolve itself on a retry per spec.md §4.6
// step 7's "log the status code and response body for debugging"
// guidance). Every attempt runs through the client's circuit breaker, so a
// receiver that has already tripped it across prior calls fails this
// delivery immediately instead of spending the full retry-and-backoff
// budget against a receiver known to be down.
func (c *Client) Deliver(ctx context.Context, endpoint string, body []byte) error {
	currentBackoff := c.backoff

	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		var status int
		var respBody []byte
		err := c.breaker.Execute(func() error {
			var postErr error
			status, respBody, postErr = c.post(ctx, endpoint, body)
			if postErr != nil {
				return postErr
			}
			if status >= 500 {
				return fmt.Errorf("webhook: %s: server status %d", endpoint, status)
			}
			return nil
		})
		if err == nil && status >= 200 && status < 300 {
			return nil
		}

		if errors.Is(err, resilience.ErrCircuitOpen) {
			c.log.Warn("webhook delivery skipped, circuit open",
				"endpoint", endpoint, "attempt", attempt)
			return fmt.Errorf("webhook: %s: %w", endpoint, err)
		}

		if err == nil && status >= 400 && status < 500 {
			c.log.Error("webhook delivery rejected by receiver",
				"endpoint", endpoint, "status", status, "response", string(respBody))
			return fmt.Errorf("webhook: %s: rejected with status %d: %s", endpoint, status, respBody)
		}

		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("webhook: %s: unexpected status %d: %s", endpoint, status, respBody)
		}

		c.log.Warn("webhook delivery attempt failed",
			"endpoint", endpoint, "attempt", attempt, "max_retries", c.maxRetries, "error", lastErr)

		if attempt == c.maxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(currentBackoff):
		}
		currentBackoff *= 2
		if currentBackoff > c.maxBackoff {
			currentBackoff = c.maxBackoff
		}
	}

	return fmt.Errorf("webhook: %s: giving up after %d attempts: %w", endpoint, c.maxRetries, lastErr)
}

func (c *Client) post(ctx context.Context, endpoint string, body []byte) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(signatureHeader, c.Sign(body))

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("webhook: %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("webhook: %s: read response: %w", endpoint, err)
	}
	return resp.StatusCode, respBody, nil
}
