// Package fsm implements the ten-vertex dispatch state machine: the
// deterministic core that decides, for each caller utterance or tool
// result, what the agent says next, whether the LLM should be consulted,
// which tool (if any) to invoke, and which state follows.
package fsm

import (
	"context"

	"github.com/rbaset5/calllock-server-sub001/internal/session"
)

// The ten canonical states (spec.md §4.2). The extended 12-state variant
// (splitting confirm into confirm/urgency/urgency_callback) is not built;
// see DESIGN.md's Open Question resolution.
const (
	StateWelcome     session.State = "welcome"
	StateLookup      session.State = "lookup"
	StateSafety      session.State = "safety"
	StateSafetyExit  session.State = "safety_exit"
	StateServiceArea session.State = "service_area"
	StateDiscovery   session.State = "discovery"
	StateConfirm     session.State = "confirm"
	StateBooking     session.State = "booking"
	StateDone        session.State = "done"
	StateCallback    session.State = "callback"
)

// Tool names, matching the backend operation names in spec.md §3.3/§6.1.
const (
	ToolLookupCaller       = "lookup_caller"
	ToolBookService        = "book_service"
	ToolCreateCallback     = "create_callback"
	ToolSendSalesLeadAlert = "send_sales_lead_alert"
)

// Callback reasons, recorded on session.CallbackType when transitioning
// into the callback terminal state.
const (
	CallbackReasonOutOfArea     = "out_of_area"
	CallbackReasonReschedule    = "reschedule"
	CallbackReasonBookingFailed = "booking_failed"
	CallbackReasonRequested     = "requested"
)

// ToolCall names a backend operation and its arguments.
type ToolCall struct {
	Name      string
	Arguments map[string]any
}

// Action is returned by a handler for each input. It is a plain struct by
// design (spec.md §9 flags the teacher's map-of-interface{} action
// representation as an anti-pattern to avoid repeating).
type Action struct {
	Speak     string
	NeedsLLM  bool
	Tool      *ToolCall
	EndCall   bool
	NextState session.State
}

// Handler drives a decision or action state's response to one caller
// utterance. lookup and booking have no Handler entry — they are reached
// and exited solely through their ToolResultHandler.
type Handler func(ctx context.Context, s *session.Session, userText string) Action

// ToolResultHandler drives a session's response to a completed tool call.
// It returns an Action rather than a bare next state (the SPEC_FULL.md
// draft originally specified the latter) because the callback state's
// contract chains two tool calls — send_sales_lead_alert then
// create_callback — and only a full Action can carry that follow-up Tool
// call; see DESIGN.md.
type ToolResultHandler func(s *session.Session, result ToolResult) Action

// ToolResult is the outcome of one completed tool call, pure data handed to
// the ToolResultHandler keyed by Name. Exactly one of the typed result
// fields is populated on success; Err is set instead on failure (HTTP
// error, timeout, or malformed response), which the handler treats per
// spec.md §7's fault taxonomy (e.g. a failed book_service is treated as
// booking_confirmed=false, not specially).
type ToolResult struct {
	Name string
	Err  error

	LookupCaller       *LookupCallerResult
	BookService        *BookServiceResult
	CreateCallback      *CreateCallbackResult
	SendSalesLeadAlert *SendSalesLeadAlertResult
}

// LookupCallerResult is lookup_caller's response payload (spec.md §3.3).
type LookupCallerResult struct {
	Known           bool
	Name            string
	ZipCode         string
	ServiceAddress  string
	HasAppointment  bool
	AppointmentDate string
	AppointmentTime string
	CallbackPromise *session.CallbackPromise
}

// BookServiceResult is book_service's response payload. BookingConfirmed is
// canonical; Booked is an accepted alias ingested by internal/toolclient's
// custom UnmarshalJSON before this struct is built.
type BookServiceResult struct {
	BookingConfirmed     bool
	Booked               bool
	AppointmentTime      string
	ConfirmationMessage string
	AppointmentID        string
	Error                string
}

// CreateCallbackResult is create_callback's response payload.
type CreateCallbackResult struct {
	Success bool
	Error   string
}

// SendSalesLeadAlertResult is send_sales_lead_alert's response payload.
type SendSalesLeadAlertResult struct {
	Success bool
}
