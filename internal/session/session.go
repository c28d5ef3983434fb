// Package session defines the per-call Session record — the single mutable
// record the frame processor, state machine, and extraction task all read
// and write over the lifetime of one telephone call.
package session

import (
	"sync"
	"time"
)

// State is a vertex of the dispatch state machine. Defined here (rather than
// in internal/fsm) so Session has no import dependency on the package that
// drives it — fsm imports session, not the reverse.
type State string

// Urgency tiers, defaulting to Routine when unset.
const (
	UrgencyRoutine   = "routine"
	UrgencyUrgent    = "urgent"
	UrgencyEmergency = "emergency"
)

// Lead types surfaced to the sales-lead webhook.
const (
	LeadStandard   = "standard"
	LeadHighTicket = "high_ticket"
)

// Conversation roles used by both ConversationMessage and TranscriptEntry.
const (
	RoleUser  = "user"
	RoleAgent = "agent"
	RoleTool  = "tool"
)

// CallbackPromise records a callback a caller was told to expect, surfaced by
// the lookup tool when an earlier agent (human or automated) made one.
type CallbackPromise struct {
	Date  string
	Issue string
}

// ConversationMessage is one turn in the LLM-facing conversation history.
type ConversationMessage struct {
	Role    string
	Content string
}

// TranscriptEntry is one line of the full call transcript, richer than
// ConversationMessage: it carries a timestamp, the state the call was in,
// and — for tool entries — the tool name and its result.
type TranscriptEntry struct {
	Role      string
	Content   string
	Timestamp time.Time
	State     State
	Name      string // tool name, set only when Role == RoleTool
	Result    any    // tool result payload, set only when Role == RoleTool
}

// Session is the single record for one phone call. It is created when the
// pipeline opens the call and is mutated only by the frame processor's
// per-call event loop (including via state-machine actions) and, at the
// very end of the call, by the post-call orchestrator acting on a [Clone].
//
// A Session is not safe for unsynchronized concurrent access from multiple
// goroutines performing control-plane operations (e.g. an admin inspection
// endpoint) that race the owning event loop — mu guards exactly that case;
// the event loop itself does not need to take it on its own writes because
// there is exactly one such goroutine per call.
type Session struct {
	mu sync.Mutex

	// Identity
	CallID      string
	PhoneNumber string
	StartTime   time.Time

	// Lookup outcome — written only by the lookup tool-result handler.
	CallerKnown      bool
	HasAppointment   bool
	AppointmentDate  string
	AppointmentTime  string
	CallbackPromise  *CallbackPromise

	// Handler-owned collected fields — set only by validation inside state
	// handlers. The extraction task must never write these.
	CustomerName   string
	ZipCode        string
	ServiceAddress string

	// Extraction-owned soft fields — set by a handler when the caller said
	// it unambiguously, or by the background extraction task otherwise.
	// Writers must only set these when currently empty.
	ProblemDescription string
	EquipmentType      string
	ProblemDuration    string
	PreferredTime      string

	// Urgency / lead
	UrgencyTier string
	LeadType    string

	// Booking outcome
	BookingAttempted    bool
	BookingConfirmed    bool
	BookedTime          string
	ConfirmationMessage string
	AppointmentID       string

	// UrgencyAtBooking snapshots UrgencyTier at the moment book_service is
	// invoked (confirm -> booking), for the post-call orchestrator's drift
	// analysis against UrgencyTier's value at call end (spec.md §4.6 step 4).
	UrgencyAtBooking string

	// Callback outcome
	CallbackType    string
	CallbackCreated bool

	// Synced marks that the post-call orchestrator has successfully
	// delivered the job webhook for this call, gating spec.md §4.6 step 1's
	// idempotency check against duplicate post-call runs.
	Synced bool

	// Conversation bookkeeping
	ConversationHistory []ConversationMessage
	TranscriptLog       []TranscriptEntry

	// Counters and gates
	TurnCount         int
	StateTurnCount    int
	AgentHasResponded bool
	TerminalReplyUsed bool
	ConfirmExtended   bool

	// State
	State          State
	LastAgentState State
}

// New creates a Session for a freshly opened call with the invariant
// defaults spec.md requires: urgency_tier defaults to "routine".
func New(callID, phoneNumber string, startTime time.Time) *Session {
	return &Session{
		CallID:      callID,
		PhoneNumber: phoneNumber,
		StartTime:   startTime,
		UrgencyTier: UrgencyRoutine,
	}
}

// Lock and Unlock expose the session's mutex to control-plane callers (e.g.
// an inspection endpoint) that must read a consistent snapshot while the
// frame processor's event loop may be concurrently mutating it. The event
// loop itself does not need to take the lock for its own sequential work.
func (s *Session) Lock()   { s.mu.Lock() }
func (s *Session) Unlock() { s.mu.Unlock() }

// Clone returns a deep copy of the session suitable for handing to the
// post-call orchestrator: the orchestrator can read and serialize it at
// leisure without racing a concurrently-arriving final frame that might
// still be mutating the live Session. Grounded on the teacher's
// UtteranceBuffer "copy out, never hand out the live slice" idiom.
func (s *Session) Clone() Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *s
	clone.mu = sync.Mutex{}

	if s.CallbackPromise != nil {
		cp := *s.CallbackPromise
		clone.CallbackPromise = &cp
	}
	clone.ConversationHistory = append([]ConversationMessage(nil), s.ConversationHistory...)
	clone.TranscriptLog = append([]TranscriptEntry(nil), s.TranscriptLog...)

	return clone
}

// AppendTranscript records one transcript line, stamping it with now and the
// session's current state.
func (s *Session) AppendTranscript(role, content string, now time.Time, name string, result any) {
	s.TranscriptLog = append(s.TranscriptLog, TranscriptEntry{
		Role:      role,
		Content:   content,
		Timestamp: now,
		State:     s.State,
		Name:      name,
		Result:    result,
	})
}

// AppendConversation records one LLM-facing conversation turn.
func (s *Session) AppendConversation(role, content string) {
	s.ConversationHistory = append(s.ConversationHistory, ConversationMessage{Role: role, Content: content})
}

// TransitionTo moves the session to next, resetting the per-state turn
// counter and response gate per spec.md's transition invariant.
//
// ConfirmExtended also resets here rather than per scheduled close window:
// it tracks whether this terminal-state visit has already spent its one
// cancellation allowance (spec.md §4.3.6/§4.2), so it must persist across
// every close attempt made during a single visit to done/callback/
// safety_exit and only clear when the session actually (re-)enters a
// terminal state.
func (s *Session) TransitionTo(next State) {
	s.LastAgentState = s.State
	s.State = next
	s.StateTurnCount = 0
	s.AgentHasResponded = false
	s.ConfirmExtended = false
}
