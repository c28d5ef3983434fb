package postcall

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/rbaset5/calllock-server-sub001/internal/fsm"
	"github.com/rbaset5/calllock-server-sub001/internal/session"
)

func TestUrgencyToSeverity(t *testing.T) {
	cases := map[string]string{
		session.UrgencyRoutine:   "low",
		session.UrgencyUrgent:    "high",
		session.UrgencyEmergency: "emergency",
		"same_day":               "high",
		"estimate":               "low",
		"":                       "low",
	}
	for in, want := range cases {
		if got := urgencyToSeverity(in); got != want {
			t.Errorf("urgencyToSeverity(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestBuildJobPayload_OmitsZeroFieldsInWireForm(t *testing.T) {
	s := session.New("c1", "+15555550100", time.Now())
	s.State = fsm.StateDone

	p := buildJobPayload(s, time.Now(), "", Drift{}, Classification{Failed: true})
	b, err := marshalPayload(p)
	if err != nil {
		t.Fatalf("marshalPayload: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, field := range []string{"customer_name", "zip_code", "job_id", "lead_id", "ai_summary", "tags"} {
		if _, present := m[field]; present {
			t.Errorf("expected zero-valued field %q to be omitted, got present", field)
		}
	}
	if _, present := m["call_id"]; !present {
		t.Errorf("expected call_id to always be present")
	}
}

func TestBuildJobPayload_IncludesClassificationWhenSuccessful(t *testing.T) {
	s := session.New("c1", "+15555550100", time.Now())
	cls := Classification{
		AISummary: "summary", CallType: "booking",
		Tags: map[string]bool{"plumbing": true},
	}
	p := buildJobPayload(s, time.Now(), "", Drift{}, cls)
	if p.AISummary != "summary" {
		t.Errorf("expected classification fields copied through")
	}
	if len(p.Tags) != 1 || p.Tags[0] != "plumbing" {
		t.Errorf("tags: got %v", p.Tags)
	}
}

func TestBuildJobPayload_CarriesJobIDFromAppointment(t *testing.T) {
	s := session.New("c1", "+15555550100", time.Now())
	s.AppointmentID = "appt-42"
	p := buildJobPayload(s, time.Now(), "", Drift{}, Classification{Failed: true})
	if p.JobID != "appt-42" {
		t.Errorf("JobID: got %q, want appt-42", p.JobID)
	}
}

func TestQualityScore_IncreasesWithEachSignal(t *testing.T) {
	s := session.New("c1", "+15555550100", time.Now())
	base := qualityScore(s, Classification{Failed: true})

	s.CustomerName = "Jo"
	withName := qualityScore(s, Classification{Failed: true})
	if withName <= base {
		t.Errorf("expected score to increase once a name is captured")
	}

	s.BookingConfirmed = true
	withBooking := qualityScore(s, Classification{Failed: true})
	if withBooking <= withName {
		t.Errorf("expected score to increase once booking confirmed")
	}

	withClassification := qualityScore(s, Classification{})
	if withClassification <= withBooking {
		t.Errorf("expected score to increase with a successful classification")
	}
}
