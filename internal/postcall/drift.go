package postcall

import "github.com/rbaset5/calllock-server-sub001/internal/session"

// Drift carries the two consistency checks spec.md §4.6 step 4 requires,
// parsed from the session's own bookkeeping rather than re-walking
// TranscriptLog's tool entries — book_service's result is already folded
// into Session.BookedTime/BookingConfirmed by internal/fsm's
// onBookService, and UrgencyAtBooking is snapshotted at the moment
// confirmHandler issues the tool call (see DESIGN.md's Open Question
// resolution for why these two fields exist).
type Drift struct {
	SlotChanged       bool   `json:"slot_changed"`
	UrgencyMismatch   bool   `json:"urgency_mismatch"`
	RequestedTime     string `json:"booking_requested_time"`
	BookedSlot        string `json:"booking_booked_slot"`
	UrgencyTransition string `json:"booking_urgency_transition,omitempty"`
}

// analyzeDrift implements spec.md §4.6 step 4.
func analyzeDrift(s *session.Session) Drift {
	d := Drift{
		RequestedTime: s.PreferredTime,
		BookedSlot:    s.BookedTime,
	}
	if s.BookingConfirmed && s.PreferredTime != "" && s.BookedTime != "" {
		d.SlotChanged = s.PreferredTime != s.BookedTime
	}
	if s.UrgencyAtBooking != "" && s.UrgencyAtBooking != s.UrgencyTier {
		d.UrgencyMismatch = true
		d.UrgencyTransition = s.UrgencyAtBooking + " -> " + s.UrgencyTier
	}
	return d
}
