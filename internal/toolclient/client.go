// Package toolclient is the HTTP client for the four backend operations the
// state machine invokes: lookup_caller, book_service, create_callback, and
// send_sales_lead_alert (spec.md §3.3/§6.1).
package toolclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rbaset5/calllock-server-sub001/internal/fsm"
	"github.com/rbaset5/calllock-server-sub001/internal/resilience"
)

// config holds a Client's optional settings, built from functional options —
// grounded on pkg/provider/llm/openai/openai.go's Option/config pattern.
type config struct {
	httpClient  *http.Client
	timeout     time.Duration
	maxFailures int
}

// Option configures a Client.
type Option func(*config)

// WithHTTPClient overrides the shared *http.Client a Client uses.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) { c.httpClient = hc }
}

// WithTimeout sets a per-call timeout applied via context if the caller's
// context has no earlier deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithCircuitBreakerMaxFailures overrides the breaker's trip threshold.
func WithCircuitBreakerMaxFailures(n int) Option {
	return func(c *config) { c.maxFailures = n }
}

// Client calls the external booking/lookup backend over HTTP, wrapped by a
// single circuit breaker named "tool-backend" shared across all four
// operations — a flapping backend degrades every call uniformly, exactly as
// spec.md §7 prescribes ("tool timeout ... transitions to callback").
type Client struct {
	baseURL   string
	authToken string
	http      *http.Client
	timeout   time.Duration
	breaker   *resilience.CircuitBreaker
}

// New constructs a Client. baseURL and authToken come from
// internal/config.ToolAPIConfig; authToken is sent as a bearer token.
func New(baseURL, authToken string, opts ...Option) *Client {
	cfg := &config{
		httpClient:  &http.Client{},
		timeout:     10 * time.Second,
		maxFailures: 5,
	}
	for _, o := range opts {
		o(cfg)
	}

	return &Client{
		baseURL:   baseURL,
		authToken: authToken,
		http:      cfg.httpClient,
		timeout:   cfg.timeout,
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:        "tool-backend",
			MaxFailures: cfg.maxFailures,
		}),
	}
}

// callEnvelope is the outer request shape shared by all four operations
// (spec.md §6.1): {call: {...}, args: {...}}.
type callEnvelope struct {
	Call struct {
		CallID      string `json:"call_id"`
		PhoneNumber string `json:"phone_number"`
	} `json:"call"`
	Args map[string]any `json:"args"`
}

// do POSTs path with body and decodes the JSON response into out. A
// non-2xx response or a context deadline is surfaced as an error; the
// circuit breaker records every outcome.
func (c *Client) do(ctx context.Context, path, callID, phoneNumber string, args map[string]any, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	env := callEnvelope{Args: args}
	env.Call.CallID = callID
	env.Call.PhoneNumber = phoneNumber

	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("toolclient: marshal request: %w", err)
	}

	return c.breaker.Execute(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("toolclient: build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.authToken != "" {
			req.Header.Set("Authorization", "Bearer "+c.authToken)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("toolclient: %s: %w", path, err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("toolclient: %s: read response: %w", path, err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("toolclient: %s: unexpected status %d: %s", path, resp.StatusCode, respBody)
		}
		if out != nil {
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("toolclient: %s: decode response: %w", path, err)
			}
		}
		return nil
	})
}

// LookupCaller calls POST /lookup-caller.
func (c *Client) LookupCaller(ctx context.Context, callID, phoneNumber string) fsm.ToolResult {
	var resp lookupCallerResponse
	args := map[string]any{"phone": phoneNumber}
	if err := c.do(ctx, "/lookup-caller", callID, phoneNumber, args, &resp); err != nil {
		return fsm.ToolResult{Name: fsm.ToolLookupCaller, Err: err}
	}
	return fsm.ToolResult{Name: fsm.ToolLookupCaller, LookupCaller: resp.toResult()}
}

// BookService calls POST /book-service.
func (c *Client) BookService(ctx context.Context, callID, phoneNumber string, args map[string]any) fsm.ToolResult {
	var resp bookServiceResponse
	if err := c.do(ctx, "/book-service", callID, phoneNumber, args, &resp); err != nil {
		return fsm.ToolResult{Name: fsm.ToolBookService, Err: err}
	}
	return fsm.ToolResult{Name: fsm.ToolBookService, BookService: resp.toResult()}
}

// CreateCallback calls POST /create-callback.
func (c *Client) CreateCallback(ctx context.Context, callID, phoneNumber string, args map[string]any) fsm.ToolResult {
	var resp createCallbackResponse
	if err := c.do(ctx, "/create-callback", callID, phoneNumber, args, &resp); err != nil {
		return fsm.ToolResult{Name: fsm.ToolCreateCallback, Err: err}
	}
	return fsm.ToolResult{Name: fsm.ToolCreateCallback, CreateCallback: &fsm.CreateCallbackResult{
		Success: resp.Success,
		Error:   resp.Error,
	}}
}

// SendSalesLeadAlert calls POST /send-sales-lead-alert.
func (c *Client) SendSalesLeadAlert(ctx context.Context, callID, phoneNumber string, args map[string]any) fsm.ToolResult {
	var resp sendSalesLeadAlertResponse
	if err := c.do(ctx, "/send-sales-lead-alert", callID, phoneNumber, args, &resp); err != nil {
		return fsm.ToolResult{Name: fsm.ToolSendSalesLeadAlert, Err: err}
	}
	return fsm.ToolResult{Name: fsm.ToolSendSalesLeadAlert, SendSalesLeadAlert: &fsm.SendSalesLeadAlertResult{
		Success: resp.Success,
	}}
}
