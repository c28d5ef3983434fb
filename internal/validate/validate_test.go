package validate_test

import (
	"testing"
	"time"

	"github.com/rbaset5/calllock-server-sub001/internal/validate"
)

func TestZIP(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"literal digits", "78701", "78701"},
		{"spelled digits", "seven eight seven zero one", "78701"},
		{"mixed literal and spelled", "787 zero one", "78701"},
		{"too short", "787", ""},
		{"too long", "787011", ""},
		{"non-numeric junk", "not sure", ""},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := validate.ZIP(tt.in); got != tt.want {
				t.Errorf("ZIP(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestName(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"valid name", "Jane Doe", "Jane Doe"},
		{"not provided sentinel", "not provided", ""},
		{"n/a sentinel", "N/A", ""},
		{"unknown sentinel", "unknown", ""},
		{"no sentinel", "no", ""},
		{"pure digits", "12345", ""},
		{"phone number", "787-555-1234", ""},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := validate.Name(tt.in); got != tt.want {
				t.Errorf("Name(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestAddress(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain address", "123 Main St", "123 Main St"},
		{"number-word normalization", "53 Eleven Maple St", "5311 Maple St"},
		{"contains or is rejected", "123 Main St or 456 Oak Ave", ""},
		{"sentinel", "not provided", ""},
		{"no letters", "12345", ""},
		{"too short", "St", ""},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := validate.Address(tt.in); got != tt.want {
				t.Errorf("Address(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestServiceArea(t *testing.T) {
	t.Parallel()
	prefixes := []string{"787"}
	if !validate.ServiceArea("78701", prefixes) {
		t.Error("expected 78701 to be in service area")
	}
	if validate.ServiceArea("10001", prefixes) {
		t.Error("expected 10001 to be out of service area")
	}
}

func TestMatchAnyKeyword(t *testing.T) {
	t.Parallel()
	set := []string{"leak", "fire", "gas"}
	if !validate.MatchAnyKeyword("there's a gas leak in the kitchen", set) {
		t.Error("expected match for 'gas' and 'leak'")
	}
	if validate.MatchAnyKeyword("the ceiling is fine", set) {
		t.Error("expected no substring match for 'fire' inside unrelated text")
	}
}

func TestResolveBookingTime(t *testing.T) {
	t.Parallel()
	loc, err := time.LoadLocation("America/Chicago")
	if err != nil {
		t.Fatalf("failed to load location: %v", err)
	}
	// Wednesday 2026-08-05 10:00 local.
	now := time.Date(2026, 8, 5, 10, 0, 0, 0, loc)

	tests := []struct {
		name     string
		freeText string
		want     string
	}{
		{"asap within business hours", "asap", now.Add(2 * time.Hour).Truncate(time.Hour).Format(time.RFC3339)},
		{"tomorrow", "can you come tomorrow", time.Date(2026, 8, 6, 9, 0, 0, 0, loc).Format(time.RFC3339)},
		{"afternoon before 2pm", "this afternoon works", time.Date(2026, 8, 5, 14, 0, 0, 0, loc).Format(time.RFC3339)},
		{"unknown falls to next day morning", "whenever is fine", time.Date(2026, 8, 6, 9, 0, 0, 0, loc).Format(time.RFC3339)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := validate.ResolveBookingTime(tt.freeText, now, loc)
			if got != tt.want {
				t.Errorf("ResolveBookingTime(%q) = %q, want %q", tt.freeText, got, tt.want)
			}
		})
	}
}

func TestResolveBookingTime_LateEveningASAPRollsToNextBusinessDay(t *testing.T) {
	t.Parallel()
	loc, _ := time.LoadLocation("America/Chicago")
	// Friday 2026-08-07 17:00 local: +2h = 19:00, hour >= 18 so it should roll.
	now := time.Date(2026, 8, 7, 17, 0, 0, 0, loc)

	got := validate.ResolveBookingTime("right away", now, loc)
	// Friday + 1 = Saturday, skip weekend -> Monday 2026-08-10 09:00.
	want := time.Date(2026, 8, 10, 9, 0, 0, 0, loc).Format(time.RFC3339)
	if got != want {
		t.Errorf("ResolveBookingTime(late ASAP) = %q, want %q", got, want)
	}
}

func TestResolveBookingTime_AfternoonAfter2PMRollsToNextDay(t *testing.T) {
	t.Parallel()
	loc, _ := time.LoadLocation("America/Chicago")
	now := time.Date(2026, 8, 5, 15, 0, 0, 0, loc)

	got := validate.ResolveBookingTime("sometime this afternoon", now, loc)
	want := time.Date(2026, 8, 6, 14, 0, 0, 0, loc).Format(time.RFC3339)
	if got != want {
		t.Errorf("ResolveBookingTime(afternoon after 2pm) = %q, want %q", got, want)
	}
}
