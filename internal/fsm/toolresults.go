package fsm

import (
	"github.com/rbaset5/calllock-server-sub001/internal/session"
	"github.com/rbaset5/calllock-server-sub001/internal/validate"
)

// onLookupCaller implements spec.md §4.2.1: writes caller_known and the
// lookup-owned fields, filling customer_name/zip_code only if currently
// empty and valid, and always transitions lookup -> safety regardless of
// whether the caller was recognized.
func (m *Machine) onLookupCaller(s *session.Session, result ToolResult) Action {
	if result.Err != nil || result.LookupCaller == nil {
		s.TransitionTo(StateSafety)
		return Action{}
	}

	r := result.LookupCaller
	s.CallerKnown = r.Known
	if s.CustomerName == "" {
		if name := validate.Name(r.Name); name != "" {
			s.CustomerName = name
		}
	}
	if s.ZipCode == "" {
		if zip := validate.ZIP(r.ZipCode); zip != "" {
			s.ZipCode = zip
		}
	}
	s.ServiceAddress = r.ServiceAddress
	s.HasAppointment = r.HasAppointment
	s.AppointmentDate = r.AppointmentDate
	s.AppointmentTime = r.AppointmentTime
	s.CallbackPromise = r.CallbackPromise

	s.TransitionTo(StateSafety)
	return Action{}
}

// onBookService implements spec.md §4.2.1: booking_confirmed is the OR of
// the two accepted keys (the OR itself happens upstream in
// internal/toolclient's UnmarshalJSON; BookingConfirmed and Booked are both
// carried here so the handler can still apply the OR defensively). A
// failed or unconfirmed booking is not a distinct error path — it routes
// to callback exactly like any other callback-bound exit.
func (m *Machine) onBookService(s *session.Session, result ToolResult) Action {
	confirmed := false
	var appointmentTime, confirmationMessage, appointmentID string
	if result.Err == nil && result.BookService != nil {
		r := result.BookService
		confirmed = r.BookingConfirmed || r.Booked
		appointmentTime = r.AppointmentTime
		confirmationMessage = r.ConfirmationMessage
		appointmentID = r.AppointmentID
	}

	s.BookingConfirmed = confirmed
	if confirmed {
		if appointmentTime != "" {
			s.BookedTime = appointmentTime
		}
		s.ConfirmationMessage = confirmationMessage
		s.AppointmentID = appointmentID
		s.TransitionTo(StateDone)
		return Action{Speak: s.ConfirmationMessage, EndCall: false}
	}

	s.CallbackType = CallbackReasonBookingFailed
	s.TransitionTo(StateCallback)
	return Action{}
}

// onCreateCallback implements spec.md §4.2.1: records whether the callback
// was created and does not transition (the callback state is terminal). It
// speaks the canned callback closing line and ends the call, whether or not
// the backend reported success.
func (m *Machine) onCreateCallback(s *session.Session, result ToolResult) Action {
	success := result.Err == nil && result.CreateCallback != nil && result.CreateCallback.Success
	s.CallbackCreated = success
	return Action{Speak: cannedCallbackClosing, EndCall: true}
}

// onSendSalesLeadAlert has no session field of its own to write (spec.md
// §3.3 defines its result as {success} only); it exists purely to chain the
// callback state's high-ticket path into create_callback, matching the
// "invoke send_sales_lead_alert if lead_type==high_ticket, then
// create_callback" ordering in spec.md §4.2.
func (m *Machine) onSendSalesLeadAlert(s *session.Session, result ToolResult) Action {
	return Action{
		Tool: &ToolCall{
			Name:      ToolCreateCallback,
			Arguments: createCallbackArgs(s),
		},
	}
}
