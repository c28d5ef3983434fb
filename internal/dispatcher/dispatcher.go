// Package dispatcher glues the deterministic conversation core's
// independently-built subsystems (internal/fsm, internal/frameproc,
// internal/toolclient, internal/extraction, internal/postcall,
// internal/webhook) into the one thing an external telephony/STT/TTS
// pipeline actually calls: "here is a new call and its frame channel, drive
// it, and tell me when the post-call delivery is done."
//
// Grounded on the teacher's internal/app/session_manager.go shape (a
// long-lived registry that hands out one per-call worker and owns its
// lifecycle) with the NPC-loading/voice-channel-connect concerns stripped,
// since telephony transport is an external collaborator here (spec.md §1).
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rbaset5/calllock-server-sub001/internal/extraction"
	"github.com/rbaset5/calllock-server-sub001/internal/fsm"
	"github.com/rbaset5/calllock-server-sub001/internal/frameproc"
	"github.com/rbaset5/calllock-server-sub001/internal/observe"
	"github.com/rbaset5/calllock-server-sub001/internal/postcall"
	"github.com/rbaset5/calllock-server-sub001/internal/session"
	"github.com/rbaset5/calllock-server-sub001/pkg/callpipeline"
)

// Service holds every dependency shared across all calls: the state
// machine (stateless once built), the tool/extraction/classification
// clients, and the post-call orchestrator. One Service is constructed at
// startup and hands out a *Call per inbound telephone call.
type Service struct {
	machine      *fsm.Machine
	tools        frameproc.ToolCaller
	extractor    frameproc.Extractor
	orchestrator *postcall.Orchestrator
	metrics      *observe.Metrics
	log          *slog.Logger
	timing       frameproc.Timing
	now          func() time.Time
}

// Config constructs a Service.
type Config struct {
	Machine      *fsm.Machine
	Tools        frameproc.ToolCaller
	Extractor    frameproc.Extractor
	Orchestrator *postcall.Orchestrator
	Metrics      *observe.Metrics
	Log          *slog.Logger
	Timing       frameproc.Timing
	// Now defaults to time.Now when nil; tests supply a fixed clock.
	Now func() time.Time
}

// New constructs a Service from cfg.
func New(cfg Config) *Service {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		machine:      cfg.Machine,
		tools:        cfg.Tools,
		extractor:    cfg.Extractor,
		orchestrator: cfg.Orchestrator,
		metrics:      metrics,
		log:          log,
		timing:       cfg.Timing,
		now:          now,
	}
}

// Call is one live telephone call: a Session, the frame processor driving
// it, and the machinery to run the post-call orchestrator once the
// pipeline ends it.
type Call struct {
	svc       *Service
	session   *session.Session
	processor *frameproc.Processor
}

// NewCallID generates a call identifier for telephony providers that don't
// hand one back when a call starts.
func NewCallID() string {
	return uuid.NewString()
}

// NewCall creates a Session for callID/phoneNumber and wires a Processor to
// drive it against downstream, the caller-supplied telephony/TTS boundary
// (pkg/callpipeline.Downstream). callID should come from the telephony
// provider; if it is empty, NewCall generates one with NewCallID.
func (s *Service) NewCall(callID, phoneNumber string, downstream callpipeline.Downstream) *Call {
	if callID == "" {
		callID = NewCallID()
	}
	sess := session.New(callID, phoneNumber, s.now())
	s.metrics.ActiveCalls.Add(context.Background(), 1)

	proc := frameproc.New(frameproc.Config{
		Session:    sess,
		Machine:    s.machine,
		Tools:      s.tools,
		Extractor:  s.extractor,
		Downstream: downstream,
		Log:        s.log,
		Now:        s.now,
		Metrics:    s.metrics,
		Timing:     s.timing,
	})

	return &Call{svc: s, session: sess, processor: proc}
}

// Run drives the call's frame-processing event loop until frames closes,
// ctx is cancelled, or a handler errors. It does not run the post-call
// orchestrator — call Close after Run returns, once the pipeline has
// finished tearing down the telephony leg.
func (c *Call) Run(ctx context.Context, frames <-chan callpipeline.TranscriptionFrame, aggregator callpipeline.ContextAggregator) error {
	return c.processor.Run(ctx, frames, aggregator)
}

// Close runs the nine-step post-call orchestrator (spec.md §4.6) against
// this call's session and decrements the active-call gauge. It should be
// called exactly once, after Run has returned, regardless of whether Run
// returned an error — a call that ended abnormally still has a transcript
// worth delivering.
func (c *Call) Close(ctx context.Context) error {
	defer c.svc.metrics.ActiveCalls.Add(context.Background(), -1)

	end := c.svc.now()
	if err := c.svc.orchestrator.Run(ctx, c.session, end); err != nil {
		return fmt.Errorf("dispatcher: post-call orchestrator for call %s: %w", c.session.CallID, err)
	}
	return nil
}

// Session returns the call's underlying session, primarily for tests and
// diagnostics; production code should not need to reach past the Call API.
func (c *Call) Session() *session.Session {
	return c.session
}
