// Package frameproc implements the frame processor (spec.md §4.3), the
// subsystem between STT output and the LLM input: a single-goroutine event
// loop per call that drives the state machine, debounces fragmented caller
// speech after a tool call, and schedules a cancellable delayed call end.
//
// Grounded on the teacher's internal/agent/orchestrator/utterance_buffer.go
// (a buffer with max-size/max-age eviction, generalized here into the
// post-tool debounce buffer) and internal/session/reconnect.go (a single
// stored, cancellable timer handle, generalized here into the delayed-end
// task). Timers are read directly via their channels inside Run's select
// loop rather than via time.AfterFunc callbacks, so there is exactly one
// goroutine touching Processor state and the "single-threaded cooperative"
// scheduling model spec.md §4.3 requires needs no additional locking beyond
// what Session itself already provides for the concurrent extraction task.
package frameproc

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rbaset5/calllock-server-sub001/internal/fsm"
	"github.com/rbaset5/calllock-server-sub001/internal/observe"
	"github.com/rbaset5/calllock-server-sub001/internal/session"
	"github.com/rbaset5/calllock-server-sub001/pkg/callpipeline"
)

// Default timing knobs, used when a Config leaves the corresponding Timing
// field at its zero value. These mirror internal/config.DispatchConfig's
// defaults so a Processor built with a zero-value Timing behaves exactly
// like one wired from a fully-populated config file.
const (
	defaultMaxTurnCount      = 30
	defaultMaxStateTurnCount = 5

	defaultDebounceDelay = 1500 * time.Millisecond
	defaultMaxBufferAge  = 5000 * time.Millisecond

	defaultOrdinaryGoodbyeDelay  = 3000 * time.Millisecond
	defaultTerminalResponseDelay = 4000 * time.Millisecond
)

const (
	cannedGlobalTurnLimit = "This has gone on a while — let me have someone follow up."
	cannedStateTurnLimit  = "Let me have someone call you back."
)

// Timing holds the tunable delays and turn-count ceilings spec.md §4.3 and
// §8's configuration table name. Threaded from internal/config.DispatchConfig
// at wiring time; a zero-value Timing falls back to the spec's defaults.
type Timing struct {
	MaxTurnCount      int
	MaxStateTurnCount int

	DebounceDelay time.Duration
	MaxBufferAge  time.Duration

	OrdinaryGoodbyeDelay  time.Duration
	TerminalResponseDelay time.Duration
}

// withDefaults fills zero-valued fields with the package defaults.
func (t Timing) withDefaults() Timing {
	if t.MaxTurnCount == 0 {
		t.MaxTurnCount = defaultMaxTurnCount
	}
	if t.MaxStateTurnCount == 0 {
		t.MaxStateTurnCount = defaultMaxStateTurnCount
	}
	if t.DebounceDelay == 0 {
		t.DebounceDelay = defaultDebounceDelay
	}
	if t.MaxBufferAge == 0 {
		t.MaxBufferAge = defaultMaxBufferAge
	}
	if t.OrdinaryGoodbyeDelay == 0 {
		t.OrdinaryGoodbyeDelay = defaultOrdinaryGoodbyeDelay
	}
	if t.TerminalResponseDelay == 0 {
		t.TerminalResponseDelay = defaultTerminalResponseDelay
	}
	return t
}

// ToolCaller is the subset of internal/toolclient.Client the frame processor
// needs, narrowed so tests can supply a fake instead of a live HTTP client.
type ToolCaller interface {
	LookupCaller(ctx context.Context, callID, phoneNumber string) fsm.ToolResult
	BookService(ctx context.Context, callID, phoneNumber string, args map[string]any) fsm.ToolResult
	CreateCallback(ctx context.Context, callID, phoneNumber string, args map[string]any) fsm.ToolResult
	SendSalesLeadAlert(ctx context.Context, callID, phoneNumber string, args map[string]any) fsm.ToolResult
}

// Extractor is the subset of internal/extraction.Extractor the frame
// processor needs to launch the fire-and-forget background task.
type Extractor interface {
	Run(ctx context.Context, s *session.Session, bufferMode bool)
}

// Config constructs a Processor.
type Config struct {
	Session    *session.Session
	Machine    *fsm.Machine
	Tools      ToolCaller
	Extractor  Extractor
	Downstream callpipeline.Downstream

	// Log defaults to slog.Default() when nil.
	Log *slog.Logger
	// Now defaults to time.Now when nil; tests supply a fixed clock.
	Now func() time.Time
	// Metrics defaults to observe.DefaultMetrics() when nil.
	Metrics *observe.Metrics
	// Timing holds the buffer/turn-limit/goodbye-delay knobs; a zero value
	// falls back to spec.md §8's defaults.
	Timing Timing
}

// Processor drives one call's frame-processing event loop. Not safe for
// concurrent use — exactly one goroutine (Run) must own it; the session it
// wraps may additionally be read and written by the background extraction
// task, which is why Session guards its own fields with a mutex.
type Processor struct {
	session    *session.Session
	machine    *fsm.Machine
	tools      ToolCaller
	extractor  Extractor
	downstream callpipeline.Downstream
	log        *slog.Logger
	now        func() time.Time
	metrics    *observe.Metrics
	timing     Timing

	bufferMode  bool
	bufferTexts []string

	debounceTimer *time.Timer
	maxTimer      *time.Timer
	pendingEnd    *time.Timer
}

// New constructs a Processor from cfg.
func New(cfg Config) *Processor {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Processor{
		session:    cfg.Session,
		machine:    cfg.Machine,
		tools:      cfg.Tools,
		extractor:  cfg.Extractor,
		downstream: cfg.Downstream,
		log:        log,
		now:        now,
		metrics:    metrics,
		timing:     cfg.Timing.withDefaults(),
	}
}

// Run is the event loop: it multiplexes incoming transcription frames,
// agent-response notifications, and the processor's own timers (debounce,
// buffer hard-cap, delayed end) onto a single goroutine. It returns when
// frames closes, the context is cancelled, or a handler returns an error.
func (p *Processor) Run(ctx context.Context, frames <-chan callpipeline.TranscriptionFrame, aggregator callpipeline.ContextAggregator) error {
	var agentMsgs <-chan callpipeline.AgentMessage
	if aggregator != nil {
		agentMsgs = aggregator.AgentMessages()
	}

	for {
		var debounceC, maxC, pendingEndC <-chan time.Time
		if p.debounceTimer != nil {
			debounceC = p.debounceTimer.C
		}
		if p.maxTimer != nil {
			maxC = p.maxTimer.C
		}
		if p.pendingEnd != nil {
			pendingEndC = p.pendingEnd.C
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case frame, ok := <-frames:
			if !ok {
				return nil
			}
			if err := p.HandleTranscription(ctx, frame); err != nil {
				return err
			}

		case msg, ok := <-agentMsgs:
			if !ok {
				agentMsgs = nil
				continue
			}
			p.HandleAgentMessage(msg)

		case <-debounceC:
			if err := p.flush(ctx); err != nil {
				return err
			}

		case <-maxC:
			if err := p.flush(ctx); err != nil {
				return err
			}

		case <-pendingEndC:
			if err := p.fireEnd(ctx); err != nil {
				return err
			}
		}
	}
}

// HandleTranscription implements spec.md §4.3.1 steps 1-10 for one finalized
// transcription fragment.
func (p *Processor) HandleTranscription(ctx context.Context, frame callpipeline.TranscriptionFrame) error {
	text := frame.Text
	now := p.now()

	// Step 1: cancel any pending delayed end.
	p.cancelPendingEnd()

	// Step 2: record the utterance.
	p.session.AppendTranscript(session.RoleUser, text, now, "", nil)
	p.session.AppendConversation(session.RoleUser, text)

	// Step 3: global turn-count escalation.
	p.session.TurnCount++
	if p.session.TurnCount > p.timing.MaxTurnCount {
		p.metrics.RecordTurnLimitEscalation(ctx, "global")
		return p.escalate(ctx, cannedGlobalTurnLimit)
	}

	// Step 4: exchange-based per-state turn counting and escalation.
	if p.session.AgentHasResponded {
		p.session.StateTurnCount++
		p.session.AgentHasResponded = false
	}
	if p.session.StateTurnCount > p.timing.MaxStateTurnCount {
		p.metrics.RecordTurnLimitEscalation(ctx, "per_state")
		return p.escalate(ctx, cannedStateTurnLimit)
	}

	// Step 5: buffer mode swallows the fragment entirely.
	if p.bufferMode {
		p.bufferAppend(text)
		return nil
	}

	return p.handleNonBuffered(ctx, text)
}

// HandleAgentMessage implements spec.md §4.3.2: a new assistant message
// surfaced by the context aggregator is logged and marks the session as
// having responded, for the exchange-based turn counter in step 4 above.
func (p *Processor) HandleAgentMessage(msg callpipeline.AgentMessage) {
	p.session.AppendTranscript(session.RoleAgent, msg.Text, p.now(), "", nil)
	p.session.AgentHasResponded = true
}

// escalate implements spec.md §4.3.7: force a transition to callback, speak
// a canned line, and start the terminal flow. Escalations do not re-trigger
// extraction and do not set agent_has_responded — both are satisfied simply
// by not calling triggerExtraction or touching that field here.
func (p *Processor) escalate(ctx context.Context, message string) error {
	p.session.TransitionTo(fsm.StateCallback)
	p.log.Warn("turn limit escalation",
		"call_id", p.session.CallID,
		"turn_count", p.session.TurnCount,
		"state_turn_count", p.session.StateTurnCount,
	)
	if err := p.speak(ctx, message); err != nil {
		return err
	}
	p.scheduleDelayedEnd(p.endCallDelay())
	return nil
}

// handleNonBuffered runs spec.md §4.3.1 steps 6-10 for text that is not
// going into the debounce buffer.
func (p *Processor) handleNonBuffered(ctx context.Context, text string) error {
	action, buffered, err := p.runTick(ctx, text)
	if err != nil {
		return err
	}

	if buffered {
		if action.Speak != "" {
			if err := p.speak(ctx, action.Speak); err != nil {
				return err
			}
		}
		if action.EndCall {
			p.scheduleDelayedEnd(p.endCallDelay())
		}
		p.triggerExtraction()
		return nil
	}

	if err := p.deliver(ctx, action); err != nil {
		return err
	}
	p.triggerExtraction()
	return nil
}

// runTick runs the state machine once on text: the handler for the current
// state (step 6), then — if it requested a tool — the tool call chain and
// its result handler(s) (step 7), stopping at the first tool-result action
// that does not itself request another tool (onSendSalesLeadAlert chains
// into create_callback this way). It reports whether the tool chain left
// the session in a state expecting more conversation, in which case the
// caller must enter buffer mode rather than deliver the action normally.
func (p *Processor) runTick(ctx context.Context, text string) (fsm.Action, bool, error) {
	before := p.session.State
	action, err := p.machine.Handle(ctx, p.session, text)
	if err != nil {
		return fsm.Action{}, false, err
	}
	p.recordTransition(ctx, before)

	if action.Tool == nil {
		return action, false, nil
	}

	if action.Speak != "" {
		if err := p.speak(ctx, action.Speak); err != nil {
			return fsm.Action{}, false, err
		}
	}

	before = p.session.State
	final, err := p.runTool(ctx, action.Tool)
	if err != nil {
		return fsm.Action{}, false, err
	}
	p.recordTransition(ctx, before)

	if fsm.ExpectsConversation(p.session.State) {
		p.enterBufferMode()
		return final, true, nil
	}
	return final, false, nil
}

// recordTransition emits a state-transition metric when the tick just run
// moved the session out of before into a different state.
func (p *Processor) recordTransition(ctx context.Context, before session.State) {
	if p.session.State != before {
		p.metrics.RecordStateTransition(ctx, string(before), string(p.session.State))
	}
}

// runTool executes call and every tool a tool-result handler chains into
// (spec.md §4.2.1's send_sales_lead_alert -> create_callback sequencing),
// returning the last action produced.
func (p *Processor) runTool(ctx context.Context, call *fsm.ToolCall) (fsm.Action, error) {
	var action fsm.Action
	for call != nil {
		result := p.dispatchTool(ctx, call)
		p.session.AppendTranscript(session.RoleTool, "", p.now(), result.Name, result)

		var err error
		action, err = p.machine.HandleToolResult(p.session, result)
		if err != nil {
			return fsm.Action{}, err
		}
		call = action.Tool
	}
	return action, nil
}

func (p *Processor) dispatchTool(ctx context.Context, call *fsm.ToolCall) fsm.ToolResult {
	callID, phone := p.session.CallID, p.session.PhoneNumber
	var result fsm.ToolResult
	switch call.Name {
	case fsm.ToolLookupCaller:
		result = p.tools.LookupCaller(ctx, callID, phone)
	case fsm.ToolBookService:
		result = p.tools.BookService(ctx, callID, phone, call.Arguments)
	case fsm.ToolCreateCallback:
		result = p.tools.CreateCallback(ctx, callID, phone, call.Arguments)
	case fsm.ToolSendSalesLeadAlert:
		result = p.tools.SendSalesLeadAlert(ctx, callID, phone, call.Arguments)
	default:
		result = fsm.ToolResult{Name: call.Name, Err: fmt.Errorf("frameproc: unknown tool %q", call.Name)}
	}
	status := "ok"
	if result.Err != nil {
		status = "error"
	}
	p.metrics.RecordToolCall(ctx, call.Name, status)
	return result
}

// deliver runs spec.md §4.3.1 steps 8-10 against a single, already-final
// action: speak, push to the LLM, and/or schedule a delayed end.
func (p *Processor) deliver(ctx context.Context, action fsm.Action) error {
	if action.Speak != "" {
		if err := p.speak(ctx, action.Speak); err != nil {
			return err
		}
	}
	if action.NeedsLLM {
		if err := p.downstream.TriggerLLM(ctx); err != nil {
			return err
		}
	}
	if action.EndCall {
		p.scheduleDelayedEnd(p.endCallDelay())
	}
	return nil
}

// speak sanitizes text once (spec.md §4.3.4) before handing it to the
// downstream TTS boundary.
func (p *Processor) speak(ctx context.Context, text string) error {
	return p.downstream.Speak(ctx, sanitizeText(text))
}

// triggerExtraction launches the background extraction task (spec.md §4.4)
// after a completed, non-buffered state-machine tick. It is a fire-and-
// forget goroutine: Extractor.Run already swallows its own failures.
func (p *Processor) triggerExtraction() {
	if p.extractor == nil || p.bufferMode {
		return
	}
	go p.extractor.Run(context.Background(), p.session, false)
}

// endCallDelay picks the delay for a newly scheduled call end (spec.md
// §4.3.6): 3.0s for the safety_exit "ordinary goodbye" (an emergency
// referral, already said everything that needs saying), 4.0s for every
// other terminal state, which just delivered a longer confirmation or
// closing line and benefits from a slightly longer tail.
func (p *Processor) endCallDelay() time.Duration {
	if p.session.State == fsm.StateSafetyExit {
		return p.timing.OrdinaryGoodbyeDelay
	}
	return p.timing.TerminalResponseDelay
}

// cancelPendingEnd implements spec.md §4.3.6's cancellation gate: the first
// cancellation in a close window is allowed and sets confirm_extended,
// giving the caller one more turn; a second is not permitted and the
// pending end is left running so the call ends regardless.
func (p *Processor) cancelPendingEnd() {
	if p.pendingEnd == nil {
		return
	}
	if p.session.ConfirmExtended {
		return
	}
	stopTimer(p.pendingEnd)
	p.pendingEnd = nil
	p.session.ConfirmExtended = true
	p.log.Info("pending call end cancelled, caller granted one more turn", "call_id", p.session.CallID)
}

// scheduleDelayedEnd starts (or replaces) the single pending-end timer.
// It does not touch ConfirmExtended: that flag is scoped to one visit to a
// terminal state (reset in [session.Session.TransitionTo]), not to each
// individual close attempt within that visit — a caller who has already
// spent their one cancellation must not get a fresh one just by triggering
// another close attempt in the same terminal-state visit (spec.md §4.3.6).
func (p *Processor) scheduleDelayedEnd(delay time.Duration) {
	stopTimer(p.pendingEnd)
	p.pendingEnd = time.NewTimer(delay)
}

// fireEnd is invoked from Run when the pending-end timer fires.
func (p *Processor) fireEnd(ctx context.Context) error {
	p.pendingEnd = nil
	return p.downstream.End(ctx)
}

// enterBufferMode starts the post-tool debounce buffer (spec.md §4.3.5).
func (p *Processor) enterBufferMode() {
	p.bufferMode = true
	p.bufferTexts = nil
	p.debounceTimer = time.NewTimer(p.timing.DebounceDelay)
	p.maxTimer = time.NewTimer(p.timing.MaxBufferAge)
}

// bufferAppend appends text to the buffer and restarts the debounce timer.
// The hard-cap maxTimer is left untouched; it fires 5.0s after buffer entry
// regardless of how many fragments arrive.
func (p *Processor) bufferAppend(text string) {
	p.bufferTexts = append(p.bufferTexts, text)
	stopTimer(p.debounceTimer)
	p.debounceTimer.Reset(p.timing.DebounceDelay)
}

// exitBufferMode stops both buffer timers and clears the accumulated text.
func (p *Processor) exitBufferMode() {
	p.bufferMode = false
	stopTimer(p.debounceTimer)
	stopTimer(p.maxTimer)
	p.debounceTimer = nil
	p.maxTimer = nil
	p.bufferTexts = nil
}

// flush implements spec.md §4.3.5's flush contract: exit buffer mode,
// consolidate the buffered fragments into one LLM-facing message, run the
// state machine once on the concatenated text, apply extraction and any
// tool dispatch it produced, then push a single frame downstream to
// trigger the LLM — unconditionally, unless the tick itself re-entered
// buffer mode (the one tool chain capable of that, welcome -> lookup ->
// safety, cannot recur mid-call, but the check costs nothing).
func (p *Processor) flush(ctx context.Context) error {
	text := strings.Join(p.bufferTexts, " ")
	p.exitBufferMode()
	p.session.AppendConversation(session.RoleUser, text)

	action, buffered, err := p.runTick(ctx, text)
	if err != nil {
		return err
	}

	if action.Speak != "" {
		if err := p.speak(ctx, action.Speak); err != nil {
			return err
		}
	}
	if action.EndCall {
		p.scheduleDelayedEnd(p.endCallDelay())
	}
	p.triggerExtraction()

	if buffered {
		return nil
	}
	return p.downstream.TriggerLLM(ctx)
}

// stopTimer stops t, draining an already-fired-but-unread channel so the
// value cannot be read later by a select that then misfires. Safe on nil.
func stopTimer(t *time.Timer) {
	if t == nil {
		return
	}
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}
