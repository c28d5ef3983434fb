package fsm

import (
	"context"

	"github.com/rbaset5/calllock-server-sub001/internal/session"
	"github.com/rbaset5/calllock-server-sub001/internal/validate"
)

// Canned utterances, emitted directly (needs_llm=false) rather than routed
// through the LLM, matching spec.md §4.2's representative contracts.
const (
	cannedLookingUp       = "One second, pulling that up."
	cannedSafetyApology   = "Please hang up and call 911 if this is an emergency. I'm ending this call so you can reach them right away."
	cannedOutOfArea       = "I'm sorry, we don't currently service that area. I'll pass your information to someone who can help."
	cannedDiscoveryBridge = "Got it. How urgent is this — need someone today, or this week works?"
	cannedCheckingSchedule = "Checking the schedule now."
	cannedCallbackClosing = "Thanks for your patience. Someone from our team will follow up with you shortly."
)

func (m *Machine) welcomeHandler(ctx context.Context, s *session.Session, userText string) Action {
	if s.PhoneNumber != "" {
		s.TransitionTo(StateLookup)
		return Action{
			Speak:    cannedLookingUp,
			NeedsLLM: false,
			Tool: &ToolCall{
				Name:      ToolLookupCaller,
				Arguments: map[string]any{"phone": s.PhoneNumber},
			},
		}
	}
	s.TransitionTo(StateSafety)
	return Action{NeedsLLM: true}
}

func (m *Machine) safetyHandler(ctx context.Context, s *session.Session, userText string) Action {
	if detectSafetyEmergency(userText) {
		s.TransitionTo(StateSafetyExit)
		return Action{Speak: cannedSafetyApology, EndCall: true}
	}
	if validate.MatchAnyKeyword(userText, safetyDeclineKeywords) {
		s.TransitionTo(StateServiceArea)
		return Action{NeedsLLM: true}
	}
	return Action{NeedsLLM: true}
}

// safetyExitHandler re-affirms the call end for any caller utterance that
// arrives during the safety-exit grace window (spec.md §4.3.6) — the apology
// and EndCall were already issued on the safety→safety_exit transition, so
// there is no first-reply/second-reply dance like done's; the call ends
// regardless of what the caller says next.
func (m *Machine) safetyExitHandler(ctx context.Context, s *session.Session, userText string) Action {
	return Action{EndCall: true}
}

func (m *Machine) serviceAreaHandler(ctx context.Context, s *session.Session, userText string) Action {
	zip := validate.ZIP(userText)
	if zip == "" {
		return Action{NeedsLLM: true}
	}
	if validate.ServiceArea(zip, m.serviceAreaPrefixes) {
		s.ZipCode = zip
		s.TransitionTo(StateDiscovery)
		return Action{NeedsLLM: true}
	}
	s.ZipCode = zip
	s.CallbackType = CallbackReasonOutOfArea
	s.TransitionTo(StateCallback)
	return Action{Speak: cannedOutOfArea, NeedsLLM: false}
}

func (m *Machine) discoveryHandler(ctx context.Context, s *session.Session, userText string) Action {
	// One utterance fills at most one missing field, in the order name,
	// address, problem description.
	claimed := false
	if s.CustomerName == "" {
		if name := validate.Name(userText); name != "" {
			s.CustomerName = name
			claimed = true
		}
	}
	if !claimed && s.ServiceAddress == "" {
		if addr := validate.Address(userText); addr != "" {
			s.ServiceAddress = addr
			claimed = true
		}
	}
	if !claimed && s.ProblemDescription == "" && userText != "" {
		s.ProblemDescription = userText
	}

	if s.CustomerName != "" && s.ProblemDescription != "" && s.ServiceAddress != "" {
		speak := cannedDiscoveryBridge
		if s.CallbackPromise != nil {
			speak = "By the way, we still owe you a callback about " + s.CallbackPromise.Issue + ". " + speak
		}
		s.TransitionTo(StateConfirm)
		return Action{Speak: speak, NeedsLLM: false}
	}
	return Action{NeedsLLM: true}
}

func (m *Machine) confirmHandler(ctx context.Context, s *session.Session, userText string) Action {
	if validate.MatchAnyKeyword(userText, rescheduleKeywords) && s.HasAppointment {
		s.CallbackType = CallbackReasonReschedule
		s.TransitionTo(StateCallback)
		return Action{NeedsLLM: true}
	}

	if detectHighTicket(userText, s.ProblemDescription) || validate.MatchAnyKeyword(userText, callbackRequestKeywords) {
		if detectHighTicket(userText, s.ProblemDescription) {
			s.LeadType = session.LeadHighTicket
		}
		s.CallbackType = CallbackReasonRequested
		s.TransitionTo(StateCallback)
		return Action{NeedsLLM: true}
	}

	if validate.MatchAnyKeyword(userText, urgencySignalKeywords) {
		if validate.MatchAnyKeyword(userText, emergencyUrgencyKeywords) {
			s.UrgencyTier = session.UrgencyEmergency
		} else {
			s.UrgencyTier = session.UrgencyUrgent
		}
	}

	if s.PreferredTime == "" && validate.MatchAnyKeyword(userText, timePatternKeywords) {
		s.PreferredTime = userText
	}

	if validate.MatchAnyKeyword(userText, affirmativeConsentKeywords) && s.PreferredTime != "" {
		s.BookingAttempted = true
		s.UrgencyAtBooking = s.UrgencyTier
		bookedAt := validate.ResolveBookingTime(s.PreferredTime, m.now(), m.loc)
		s.TransitionTo(StateBooking)
		return Action{
			Speak:    cannedCheckingSchedule,
			NeedsLLM: false,
			Tool: &ToolCall{
				Name: ToolBookService,
				Arguments: map[string]any{
					"customer_name":       s.CustomerName,
					"customer_phone":      s.PhoneNumber,
					"problem_description": s.ProblemDescription,
					"service_address":     s.ServiceAddress,
					"date_time":           bookedAt,
				},
			},
		}
	}

	return Action{NeedsLLM: true}
}

func (m *Machine) doneHandler(ctx context.Context, s *session.Session, userText string) Action {
	if !s.TerminalReplyUsed {
		s.TerminalReplyUsed = true
		return Action{NeedsLLM: true}
	}
	return Action{EndCall: true}
}

func (m *Machine) callbackHandler(ctx context.Context, s *session.Session, userText string) Action {
	if s.TerminalReplyUsed {
		return Action{}
	}
	s.TerminalReplyUsed = true

	if s.LeadType == session.LeadHighTicket {
		return Action{
			Tool: &ToolCall{
				Name:      ToolSendSalesLeadAlert,
				Arguments: salesLeadArgs(s),
			},
		}
	}
	return Action{
		Tool: &ToolCall{
			Name:      ToolCreateCallback,
			Arguments: createCallbackArgs(s),
		},
	}
}

func salesLeadArgs(s *session.Session) map[string]any {
	return map[string]any{
		"customer_name":       s.CustomerName,
		"customer_phone":      s.PhoneNumber,
		"service_address":     s.ServiceAddress,
		"problem_description": s.ProblemDescription,
		"callback_reason":     s.CallbackType,
	}
}

func createCallbackArgs(s *session.Session) map[string]any {
	return map[string]any{
		"customer_name":       s.CustomerName,
		"customer_phone":      s.PhoneNumber,
		"service_address":     s.ServiceAddress,
		"problem_description": s.ProblemDescription,
		"callback_reason":     s.CallbackType,
	}
}
