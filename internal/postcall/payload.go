package postcall

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rbaset5/calllock-server-sub001/internal/session"
)

// urgencyToSeverity maps a Session.UrgencyTier (and the two additional inputs
// spec.md §4.6 step 5 names that no internal/fsm handler currently produces —
// "same_day" and "estimate" — kept here for forward compatibility with a
// richer urgency model) onto the three-value severity spec.md's job payload
// expects.
func urgencyToSeverity(urgency string) string {
	switch urgency {
	case session.UrgencyEmergency:
		return "emergency"
	case session.UrgencyUrgent, "same_day":
		return "high"
	case session.UrgencyRoutine, "estimate":
		return "low"
	default:
		return "low"
	}
}

// JobPayload is the body posted to webhook.EndpointJobs (spec.md §4.6 step 6,
// §6.2). Fields tagged omitempty are left out of the wire body entirely when
// zero-valued, per spec.md §6.2's "fields with null values must be omitted
// rather than emitted as null."
type JobPayload struct {
	CallID      string    `json:"call_id"`
	PhoneNumber string    `json:"phone_number"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	DurationSec float64   `json:"duration_seconds"`
	TurnCount   int       `json:"turn_count"`
	EndState    string    `json:"end_state"`

	CustomerName   string `json:"customer_name,omitempty"`
	ZipCode        string `json:"zip_code,omitempty"`
	ServiceAddress string `json:"service_address,omitempty"`
	CallerKnown    bool   `json:"caller_known"`

	ProblemDescription string `json:"problem_description,omitempty"`
	EquipmentType      string `json:"equipment_type,omitempty"`
	ProblemDuration    string `json:"problem_duration,omitempty"`
	PreferredTime      string `json:"preferred_time,omitempty"`

	UrgencyTier string `json:"urgency_tier"`
	Severity    string `json:"severity"`
	LeadType    string `json:"lead_type,omitempty"`

	HasAppointment  bool   `json:"has_appointment,omitempty"`
	AppointmentDate string `json:"appointment_date,omitempty"`
	AppointmentTime string `json:"appointment_time,omitempty"`

	BookingAttempted    bool   `json:"booking_attempted"`
	BookingConfirmed    bool   `json:"booking_confirmed"`
	BookedTime          string `json:"booked_time,omitempty"`
	ConfirmationMessage string `json:"confirmation_message,omitempty"`
	JobID               string `json:"job_id,omitempty"`
	LeadID              string `json:"lead_id,omitempty"`

	CallbackType    string `json:"callback_type,omitempty"`
	CallbackCreated bool   `json:"callback_created,omitempty"`

	SlotChanged              bool   `json:"slot_changed,omitempty"`
	UrgencyMismatch          bool   `json:"urgency_mismatch,omitempty"`
	BookingRequestedTime     string `json:"booking_requested_time,omitempty"`
	BookingBookedSlot        string `json:"booking_booked_slot,omitempty"`
	BookingUrgencyTransition string `json:"booking_urgency_transition,omitempty"`

	AISummary      string   `json:"ai_summary,omitempty"`
	CardHeadline   string   `json:"card_headline,omitempty"`
	CardSummary    string   `json:"card_summary,omitempty"`
	CallType       string   `json:"call_type,omitempty"`
	CallSubtype    string   `json:"call_subtype,omitempty"`
	SentimentScore float64  `json:"sentiment_score,omitempty"`
	Tags           []string `json:"tags,omitempty"`
	PriorityColor  string   `json:"priority_color,omitempty"`
	RevenueTier    string   `json:"revenue_tier,omitempty"`

	TranscriptText string `json:"transcript_text,omitempty"`
}

// CallPayload is the body posted to webhook.EndpointCalls: the call-record
// view of the same data, keyed for the dispatcher's call log rather than its
// job queue.
type CallPayload struct {
	CallID         string          `json:"call_id"`
	PhoneNumber    string          `json:"phone_number"`
	StartTime      time.Time       `json:"start_time"`
	EndTime        time.Time       `json:"end_time"`
	DurationSec    float64         `json:"duration_seconds"`
	EndState       string          `json:"end_state"`
	TranscriptText string          `json:"transcript_text,omitempty"`
	TranscriptJSON json.RawMessage `json:"transcript_json,omitempty"`
	Classification *Classification `json:"classification,omitempty"`
	QualityScore   float64         `json:"quality_score"`
}

// AlertPayload is the body posted to webhook.EndpointAlerts, sent only when
// the call ended via the safety_exit state (spec.md §4.6 step 7).
type AlertPayload struct {
	CallID         string    `json:"call_id"`
	PhoneNumber    string    `json:"phone_number"`
	Reason         string    `json:"reason"`
	TranscriptText string    `json:"transcript_text,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// buildJobPayload assembles the job payload from a cloned session and its
// derived transcript, drift, and classification data (spec.md §4.6 step 6).
func buildJobPayload(s *session.Session, end time.Time, plain string, d Drift, cls Classification) JobPayload {
	p := JobPayload{
		CallID:      s.CallID,
		PhoneNumber: s.PhoneNumber,
		StartTime:   s.StartTime,
		EndTime:     end,
		DurationSec: end.Sub(s.StartTime).Seconds(),
		TurnCount:   s.TurnCount,
		EndState:    string(s.State),

		CustomerName:   s.CustomerName,
		ZipCode:        s.ZipCode,
		ServiceAddress: s.ServiceAddress,
		CallerKnown:    s.CallerKnown,

		ProblemDescription: s.ProblemDescription,
		EquipmentType:      s.EquipmentType,
		ProblemDuration:    s.ProblemDuration,
		PreferredTime:      s.PreferredTime,

		UrgencyTier: s.UrgencyTier,
		Severity:    urgencyToSeverity(s.UrgencyTier),
		LeadType:    s.LeadType,

		HasAppointment:  s.HasAppointment,
		AppointmentDate: s.AppointmentDate,
		AppointmentTime: s.AppointmentTime,

		BookingAttempted:    s.BookingAttempted,
		BookingConfirmed:    s.BookingConfirmed,
		BookedTime:          s.BookedTime,
		ConfirmationMessage: s.ConfirmationMessage,
		JobID:               s.AppointmentID,

		CallbackType:    s.CallbackType,
		CallbackCreated: s.CallbackCreated,

		SlotChanged:              d.SlotChanged,
		UrgencyMismatch:          d.UrgencyMismatch,
		BookingRequestedTime:     d.RequestedTime,
		BookingBookedSlot:        d.BookedSlot,
		BookingUrgencyTransition: d.UrgencyTransition,

		TranscriptText: plain,
	}

	if !cls.Failed {
		p.AISummary = cls.AISummary
		p.CardHeadline = cls.CardHeadline
		p.CardSummary = cls.CardSummary
		p.CallType = cls.CallType
		p.CallSubtype = cls.CallSubtype
		p.SentimentScore = cls.SentimentScore
		p.Tags = cls.activeTags()
		p.PriorityColor = cls.PriorityColor
		p.RevenueTier = cls.RevenueTier
	}
	return p
}

// buildCallPayload assembles the call-record payload.
func buildCallPayload(s *session.Session, end time.Time, plain string, jsonTx []byte, cls Classification) CallPayload {
	p := CallPayload{
		CallID:         s.CallID,
		PhoneNumber:    s.PhoneNumber,
		StartTime:      s.StartTime,
		EndTime:        end,
		DurationSec:    end.Sub(s.StartTime).Seconds(),
		EndState:       string(s.State),
		TranscriptText: plain,
		TranscriptJSON: json.RawMessage(jsonTx),
		QualityScore:   qualityScore(s, cls),
	}
	if !cls.Failed {
		p.Classification = &cls
	}
	return p
}

// buildAlertPayload assembles the emergency-alert payload, sent only when
// the call ended in the safety_exit state.
func buildAlertPayload(s *session.Session, end time.Time, plain string) AlertPayload {
	return AlertPayload{
		CallID:         s.CallID,
		PhoneNumber:    s.PhoneNumber,
		Reason:         string(s.State),
		TranscriptText: plain,
		Timestamp:      end,
	}
}

// qualityScore is a simple 0.0-1.0 heuristic scorecard signal — spec.md names
// a "quality_score" field in the call payload without defining its formula, so
// this counts how many of the call's expected outcomes were actually reached:
// a name captured, a booking confirmed or a callback created, and a
// successful (non-failed) classification.
func qualityScore(s *session.Session, cls Classification) float64 {
	total := 3.0
	got := 0.0
	if s.CustomerName != "" {
		got++
	}
	if s.BookingConfirmed || s.CallbackCreated {
		got++
	}
	if !cls.Failed {
		got++
	}
	return got / total
}

func marshalPayload(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("postcall: marshal payload: %w", err)
	}
	return b, nil
}
