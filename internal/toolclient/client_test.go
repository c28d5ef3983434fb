package toolclient_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rbaset5/calllock-server-sub001/internal/toolclient"
)

func TestLookupCaller_ParsesFullResponse(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/lookup-caller" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-token" {
			t.Errorf("Authorization header: got %q", auth)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"known":            true,
			"name":             "Jonas",
			"zip_code":         "78701",
			"has_appointment":  true,
			"appointment_date": "2026-08-10",
			"appointment_time": "09:00",
			"callback_promise": map[string]any{"date": "2026-08-01", "issue": "no hot water"},
		})
	}))
	defer srv.Close()

	c := toolclient.New(srv.URL, "test-token")
	result := c.LookupCaller(t.Context(), "call-1", "+17875551234")

	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}
	if !result.LookupCaller.Known || result.LookupCaller.Name != "Jonas" {
		t.Errorf("unexpected result: %+v", result.LookupCaller)
	}
	if result.LookupCaller.CallbackPromise == nil || result.LookupCaller.CallbackPromise.Issue != "no hot water" {
		t.Errorf("expected callback promise to be parsed, got %+v", result.LookupCaller.CallbackPromise)
	}
}

func TestBookService_AcceptsBookedAliasAlone(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"booked":              true,
			"appointment_time":    "2026-08-06T09:00:00-05:00",
			"confirmationMessage": "You're booked.",
		})
	}))
	defer srv.Close()

	c := toolclient.New(srv.URL, "")
	result := c.BookService(t.Context(), "call-1", "", map[string]any{})

	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}
	if !result.BookService.BookingConfirmed {
		t.Error("expected booking_confirmed true from the booked-only alias")
	}
}

func TestBookService_AcceptsBookingConfirmedAlone(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"booking_confirmed": false})
	}))
	defer srv.Close()

	c := toolclient.New(srv.URL, "")
	result := c.BookService(t.Context(), "call-1", "", map[string]any{})

	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}
	if result.BookService.BookingConfirmed {
		t.Error("expected booking_confirmed false")
	}
}

func TestDo_NonTwoXXStatusIsAnError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"boom"}`))
	}))
	defer srv.Close()

	c := toolclient.New(srv.URL, "", toolclient.WithCircuitBreakerMaxFailures(10))
	result := c.CreateCallback(t.Context(), "call-1", "", map[string]any{})

	if result.Err == nil {
		t.Fatal("expected an error for a 500 response")
	}
}

func TestDo_TimeoutSurfacesAsError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		json.NewEncoder(w).Encode(map[string]any{"success": true})
	}))
	defer srv.Close()

	c := toolclient.New(srv.URL, "", toolclient.WithTimeout(5*time.Millisecond), toolclient.WithCircuitBreakerMaxFailures(10))
	result := c.SendSalesLeadAlert(t.Context(), "call-1", "", map[string]any{})

	if result.Err == nil {
		t.Fatal("expected a timeout error")
	}
}
