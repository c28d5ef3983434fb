// Package prompt composes the system prompt handed to the LLM for any
// state-machine turn with needs_llm=true. It is deterministic and pure: the
// same session always produces the same prompt string.
package prompt

import (
	"fmt"
	"strings"

	"github.com/rbaset5/calllock-server-sub001/internal/fsm"
	"github.com/rbaset5/calllock-server-sub001/internal/session"
)

// persona is the fixed opening paragraph, present in every prompt
// regardless of state — grounded on the teacher's FormatSystemPrompt
// opening line, generalized from "You are <npc name>. <personality>" to a
// fixed dispatcher persona since this domain has exactly one voice, not one
// per NPC.
const persona = "You are a calm, efficient dispatch assistant for a home-services " +
	"company. Keep every reply to one or two short sentences. Never mention " +
	"that you are an AI, a language model, or a script. Do not quote prices, " +
	"do not promise an exact arrival window, and do not use the words " +
	"\"unfortunately\" or \"error.\""

// statePromptText holds the current state's objective, rendered under its
// own section only when non-empty — mirrors the teacher's pattern of
// omitting empty sections entirely rather than printing an empty header.
// Action and terminal states that never reach an LLM turn in steady state
// (lookup, safety_exit, booking) have no entry.
var statePromptText = map[session.State]string{
	fsm.StateWelcome:     "Greet the caller briefly and ask how you can help today.",
	fsm.StateSafety:      "Check whether the caller mentioned anything urgent like a gas smell, smoke, or flooding. If not, ask if there's any safety concern before moving on.",
	fsm.StateServiceArea: "Ask for the caller's ZIP code so we can confirm we service their area.",
	fsm.StateDiscovery:   "Collect the caller's name, a short description of the problem, and their service address, one at a time. Don't ask for anything you already know.",
	fsm.StateConfirm:     "Confirm the caller wants to schedule service, determine how urgent it is and when they'd like someone to come, and get clear consent before booking.",
	fsm.StateDone:        "Answer any quick final question, then wrap up the call politely.",
	fsm.StateCallback:    "Let the caller know their information has been passed along and someone will follow up.",
}

// BuildSystemPrompt composes the three-part system prompt (spec.md §4.5):
// the fixed persona, the current state's objective, and a dynamic KNOWN
// INFO section built from session fields currently set.
func BuildSystemPrompt(s *session.Session) string {
	var sb strings.Builder
	sb.WriteString(persona)

	if objective, ok := statePromptText[s.State]; ok && objective != "" {
		sb.WriteString("\n\n## Current objective\n")
		sb.WriteString(objective)
	}

	if known := formatKnownInfo(s); known != "" {
		sb.WriteString("\n\n## KNOWN INFO\n")
		sb.WriteString(known)
	}

	return sb.String()
}

// formatKnownInfo renders the subset of session fields the LLM is allowed
// to see. service_address is never included here — it is passthrough data,
// stored on the session purely for tool calls, per spec.md §4.5's explicit
// exclusion.
func formatKnownInfo(s *session.Session) string {
	var lines []string

	if s.CustomerName != "" {
		lines = append(lines, "customer_name: "+s.CustomerName)
	}
	if s.ZipCode != "" {
		lines = append(lines, "zip_code: "+s.ZipCode)
	}
	if s.ProblemDescription != "" {
		lines = append(lines, "problem_description: "+s.ProblemDescription)
	}
	if s.PreferredTime != "" {
		lines = append(lines, "preferred_time: "+s.PreferredTime)
	}

	// appointment_date/time is scoped to the lookup state per spec.md §4.5;
	// in the canonical 10-state shape that state never itself reaches an
	// LLM turn, so this is a no-op today and kept for parity with the spec
	// text and for any future state that needs it.
	if s.State == fsm.StateLookup {
		if s.AppointmentDate != "" {
			lines = append(lines, "appointment_date: "+s.AppointmentDate)
		}
		if s.AppointmentTime != "" {
			lines = append(lines, "appointment_time: "+s.AppointmentTime)
		}
	}

	// callback_promise is scoped to safety, the first LLM-visible state
	// reached after lookup in the canonical 10-state shape (spec.md §4.5
	// names the "urgency/confirm-bridge state" from the extended 12-state
	// shape, which safety plays the equivalent role of here).
	if s.State == fsm.StateSafety && s.CallbackPromise != nil {
		lines = append(lines, fmt.Sprintf(
			"callback_promise: we told this caller we'd follow up on %s about \"%s\"",
			s.CallbackPromise.Date, s.CallbackPromise.Issue))
	}

	// confirmation_message is scoped to done rather than confirm: it is
	// only ever set by the book_service tool-result handler, which
	// transitions the session into done, so confirm itself can never carry
	// a non-empty confirmation_message (see DESIGN.md).
	if s.State == fsm.StateDone && s.ConfirmationMessage != "" {
		lines = append(lines, "confirmation_message: "+s.ConfirmationMessage)
	}

	return strings.Join(lines, "\n")
}
