package fsm

import "github.com/rbaset5/calllock-server-sub001/internal/validate"

// Keyword sets driving the decision-state routing in spec.md §4.2. spec.md
// names detect_safety_emergency and detect_high_ticket but leaves their
// exact vocabularies to the implementation; these lists are a judgment
// call recorded in DESIGN.md.

var safetyEmergencyKeywords = []string{
	"smell gas", "gas leak", "smells like gas", "carbon monoxide",
	"smoke", "on fire", "sparking", "sparks", "electrical fire",
	"flooding", "water everywhere", "burning smell",
}

var safetyDeclineKeywords = []string{"no", "none", "nope", "nothing", "all good"}

var rescheduleKeywords = []string{
	"reschedule", "cancel", "move my appointment", "change my appointment",
}

var callbackRequestKeywords = []string{
	"call me back", "have someone call me", "talk to a person",
	"speak to someone", "talk to a human",
}

var highTicketKeywords = []string{
	"whole house", "full system replacement", "new install",
	"replace the entire", "remodel", "renovation", "multiple units",
	"commercial property", "rewire the whole house", "new hvac system",
}

var urgencySignalKeywords = []string{
	"asap", "today", "right away", "soonest", "right now", "emergency",
}

var emergencyUrgencyKeywords = []string{"emergency"}

var timePatternKeywords = []string{
	"tomorrow", "monday", "tuesday", "wednesday", "thursday", "friday",
	"saturday", "sunday", "morning", "afternoon", "evening", "following",
	"next day",
}

var affirmativeConsentKeywords = []string{
	"yes", "yeah", "sure", "go ahead", "sounds good", "book it", "please do",
}

func detectSafetyEmergency(text string) bool {
	return validate.MatchAnyKeyword(text, safetyEmergencyKeywords)
}

// detectHighTicket checks both the caller's most recent utterance and the
// accumulated problem description, since a high-ticket signal ("whole
// house rewire") may have surfaced earlier in discovery rather than in the
// confirm-state utterance itself.
func detectHighTicket(userText, problemDescription string) bool {
	return validate.MatchAnyKeyword(userText, highTicketKeywords) ||
		validate.MatchAnyKeyword(problemDescription, highTicketKeywords)
}
