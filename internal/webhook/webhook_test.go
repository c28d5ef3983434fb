package webhook_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rbaset5/calllock-server-sub001/internal/webhook"
)

func TestDeliver_SignsBodyCorrectly(t *testing.T) {
	t.Parallel()
	const secret = "shh"
	var gotSig, gotBody string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Webhook-Signature")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := webhook.New(srv.URL, secret)
	body, _ := json.Marshal(map[string]any{"job_id": "j-1"})
	if err := c.Deliver(t.Context(), webhook.EndpointJobs, body); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	if gotSig != want {
		t.Errorf("signature: got %q, want %q", gotSig, want)
	}
	if gotBody != string(body) {
		t.Errorf("body: got %q, want %q", gotBody, string(body))
	}
}

func TestDeliver_RetriesOnServerErrorThenSucceeds(t *testing.T) {
	t.Parallel()
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := webhook.New(srv.URL, "secret", webhook.WithRetries(3, time.Millisecond, 5*time.Millisecond))
	if err := c.Deliver(t.Context(), webhook.EndpointCalls, []byte(`{}`)); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if attempts.Load() != 3 {
		t.Errorf("attempts: got %d, want 3", attempts.Load())
	}
}

func TestDeliver_DoesNotRetryOnClientError(t *testing.T) {
	t.Parallel()
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"missing field"}`))
	}))
	defer srv.Close()

	c := webhook.New(srv.URL, "secret", webhook.WithRetries(3, time.Millisecond, 5*time.Millisecond))
	if err := c.Deliver(t.Context(), webhook.EndpointAlerts, []byte(`{}`)); err == nil {
		t.Fatal("expected an error for a 4xx response")
	}
	if attempts.Load() != 1 {
		t.Errorf("attempts: got %d, want 1 (4xx must not be retried)", attempts.Load())
	}
}

func TestDeliver_GivesUpAfterExhaustingRetries(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := webhook.New(srv.URL, "secret", webhook.WithRetries(2, time.Millisecond, 2*time.Millisecond))
	if err := c.Deliver(t.Context(), webhook.EndpointJobs, []byte(`{}`)); err == nil {
		t.Fatal("expected an error after exhausting retries")
	}
}

func TestDeliver_CircuitBreakerTripsAcrossCalls(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := webhook.New(srv.URL, "secret",
		webhook.WithRetries(1, time.Millisecond, time.Millisecond),
		webhook.WithCircuitBreakerMaxFailures(2))

	// Two single-attempt deliveries, both failing, trip the breaker.
	for i := 0; i < 2; i++ {
		if err := c.Deliver(t.Context(), webhook.EndpointJobs, []byte(`{}`)); err == nil {
			t.Fatalf("delivery %d: expected an error", i)
		}
	}
	if got := hits.Load(); got != 2 {
		t.Fatalf("hits before trip: got %d, want 2", got)
	}

	// A third delivery should fail fast on the open breaker without hitting
	// the server again.
	if err := c.Deliver(t.Context(), webhook.EndpointJobs, []byte(`{}`)); err == nil {
		t.Fatal("expected an error once the circuit breaker is open")
	}
	if got := hits.Load(); got != 2 {
		t.Errorf("hits after trip: got %d, want still 2 (no request should reach the server)", got)
	}
}
