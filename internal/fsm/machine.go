package fsm

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/rbaset5/calllock-server-sub001/internal/session"
)

// StateTools is the structural tool-availability table from spec.md §4.2:
// decision states expose no tools, action states expose exactly the one
// tool they execute, and only terminal states may end the call. Machine
// enforces it against every Action a handler produces, in both Handle and
// HandleToolResult, so a state handler that somehow requests a tool its
// state does not own is a programmer error returned to the caller as an
// error rather than silently passed through.
var StateTools = map[session.State][]string{
	StateWelcome:     {},
	StateLookup:      {ToolLookupCaller},
	StateSafety:      {},
	StateSafetyExit:  {},
	StateServiceArea: {},
	StateDiscovery:   {},
	StateConfirm:     {},
	StateBooking:     {ToolBookService},
	StateDone:        {},
	StateCallback:    {ToolCreateCallback, ToolSendSalesLeadAlert},
}

// terminalStates are the only states whose Action may set EndCall.
var terminalStates = map[session.State]bool{
	StateSafetyExit: true,
	StateDone:       true,
	StateCallback:   true,
}

// decisionStatesExpectingConversation is consulted by the post-tool LLM
// handoff rule (spec.md §4.2.1): only these states expect the caller to
// keep talking after a tool result lands there. Terminal states (done,
// callback, safety_exit) drive their own first reply from the next caller
// utterance and must not be forced into an LLM turn here.
var decisionStatesExpectingConversation = map[session.State]bool{
	StateWelcome:     true,
	StateSafety:      true,
	StateServiceArea: true,
	StateDiscovery:   true,
	StateConfirm:     true,
}

// ExpectsConversation reports whether state is one the post-tool debounce
// buffer (internal/frameproc) should wait on for the caller's next reply
// instead of pushing straight to the LLM — the same set that gates the
// needs_llm handoff in HandleToolResult above (spec.md §4.2.1/§4.3.5).
func ExpectsConversation(state session.State) bool {
	return decisionStatesExpectingConversation[state]
}

// MachineConfig parameterizes a Machine with the deployment's service area
// and timezone, so the same code is used in tests against a controlled
// clock and in production against time.Now.
type MachineConfig struct {
	ServiceAreaPrefixes []string
	Location            *time.Location
	Now                 func() time.Time
}

// Machine wires together the per-state handlers and tool-result handlers
// once at construction, mirroring the teacher's AddressDetector.nameIndex
// build-once-reuse pattern rather than rebuilding dispatch tables per call.
type Machine struct {
	handlers           map[session.State]Handler
	toolResultHandlers map[string]ToolResultHandler
	serviceAreaPrefixes []string
	loc                 *time.Location
	now                 func() time.Time
}

// NewMachine builds a Machine. cfg.Location and cfg.Now default to UTC and
// time.Now respectively when left zero.
func NewMachine(cfg MachineConfig) *Machine {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	m := &Machine{
		serviceAreaPrefixes: cfg.ServiceAreaPrefixes,
		loc:                 loc,
		now:                 now,
	}

	m.handlers = map[session.State]Handler{
		StateWelcome:     m.welcomeHandler,
		StateSafety:      m.safetyHandler,
		StateSafetyExit:  m.safetyExitHandler,
		StateServiceArea: m.serviceAreaHandler,
		StateDiscovery:   m.discoveryHandler,
		StateConfirm:     m.confirmHandler,
		StateDone:        m.doneHandler,
		StateCallback:    m.callbackHandler,
	}

	m.toolResultHandlers = map[string]ToolResultHandler{
		ToolLookupCaller:       m.onLookupCaller,
		ToolBookService:        m.onBookService,
		ToolCreateCallback:     m.onCreateCallback,
		ToolSendSalesLeadAlert: m.onSendSalesLeadAlert,
	}

	return m
}

// HasHandler reports whether state has a text handler at all. lookup and
// booking deliberately have none: they are action states reached and left
// solely through their ToolResultHandler (spec.md §4.2's "no user-text
// handler path" note).
func (m *Machine) HasHandler(state session.State) bool {
	_, ok := m.handlers[state]
	return ok
}

// Handle drives state from one caller utterance, enforcing the structural
// tool-availability and end-call rules before returning the Action to the
// caller (internal/frameproc).
func (m *Machine) Handle(ctx context.Context, s *session.Session, userText string) (Action, error) {
	origin := s.State
	handler, ok := m.handlers[origin]
	if !ok {
		return Action{}, fmt.Errorf("fsm: state %q has no text handler", origin)
	}

	action := handler(ctx, s, userText)
	if err := m.checkStructuralRules(s.State, action); err != nil {
		return Action{}, err
	}
	action.NextState = s.State
	return action, nil
}

// HandleToolResult drives state from a completed tool call, applying the
// post-tool LLM handoff rule (spec.md §4.2.1): when the tool result moves
// the session into a decision state that expects conversation, needs_llm
// is forced true even if the tool-result handler said otherwise, so the
// agent never goes silent after a fast tool return.
func (m *Machine) HandleToolResult(s *session.Session, result ToolResult) (Action, error) {
	origin := s.State
	handler, ok := m.toolResultHandlers[result.Name]
	if !ok {
		return Action{}, fmt.Errorf("fsm: no tool-result handler registered for %q", result.Name)
	}
	if !slices.Contains(StateTools[origin], result.Name) {
		return Action{}, fmt.Errorf("fsm: state %q is not permitted to invoke tool %q", origin, result.Name)
	}

	action := handler(s, result)
	if err := m.checkStructuralRules(s.State, action); err != nil {
		return Action{}, err
	}

	if s.State != origin && decisionStatesExpectingConversation[s.State] {
		action.NeedsLLM = true
	}
	action.NextState = s.State
	return action, nil
}

// checkStructuralRules enforces spec.md §4.2's structural invariant. A
// requested Tool is attributed to the state the session has just landed in
// — the action state about to execute it, e.g. welcome's handler requests
// lookup_caller while transitioning into lookup, which is the state that
// actually owns that tool — not the state the handler was invoked for.
// EndCall may only be set once the session has landed in a terminal state.
func (m *Machine) checkStructuralRules(current session.State, action Action) error {
	if action.Tool != nil {
		allowed, ok := StateTools[current]
		if !ok || !slices.Contains(allowed, action.Tool.Name) {
			return fmt.Errorf("fsm: state %q is not permitted to invoke tool %q", current, action.Tool.Name)
		}
	}
	if action.EndCall && !terminalStates[current] {
		return fmt.Errorf("fsm: state %q is not a terminal state and may not end the call", current)
	}
	return nil
}
