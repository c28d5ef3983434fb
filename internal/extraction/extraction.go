// Package extraction runs the background, best-effort LLM call that fills in
// the "soft" conversational fields (problem_description, equipment_type,
// problem_duration, preferred_time) a caller may have mentioned in passing
// without a state handler ever parsing them directly.
//
// It is launched as a fire-and-forget goroutine after a state-machine tick
// (spec.md §4.4) and must never block, panic, or write to a field a state
// handler owns. Grounded on the teacher's internal/transcript/llmcorrect
// package: same shape (small LLM call, strict JSON-only system prompt,
// markdown-fence stripping, graceful degradation on a parse failure).
package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rbaset5/calllock-server-sub001/internal/fsm"
	"github.com/rbaset5/calllock-server-sub001/internal/session"
	"github.com/rbaset5/calllock-server-sub001/pkg/provider/llm"
	"github.com/rbaset5/calllock-server-sub001/pkg/types"
)

// EligibleStates lists the states in which extraction may run (spec.md
// §4.4). welcome, safety, lookup, booking, and the terminal states never
// trigger it — there's nothing new to extract before discovery starts, and
// nothing safe to change once booking logic is already underway.
var EligibleStates = map[session.State]bool{
	fsm.StateServiceArea: true,
	fsm.StateDiscovery:   true,
	fsm.StateConfirm:     true,
}

const defaultTemperature = 0.1

const systemPrompt = `You are a silent data-extraction assistant for a home-services phone dispatcher.

Read the conversation below and pull out any of these facts the caller has mentioned, even in passing:
- problem_description: a short phrase describing what's wrong (e.g. "water heater not heating")
- equipment_type: the kind of equipment involved, if named (e.g. "furnace", "water heater", "AC unit")
- problem_duration: how long the problem has been happening, if mentioned (e.g. "since yesterday", "a few weeks")
- preferred_time: any day or time the caller said they'd want service, if mentioned (e.g. "Friday afternoon")

Rules:
- Only report a fact the caller actually said. Never guess or infer beyond the text.
- Leave a field as an empty string if it was not mentioned.
- Never include the caller's name, address, or ZIP code in any field.

Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{"problem_description": "", "equipment_type": "", "problem_duration": "", "preferred_time": ""}`

// Fields is the set of soft facts a single extraction call may produce.
// An empty string means "not mentioned", not "known to be empty".
type Fields struct {
	ProblemDescription string `json:"problem_description"`
	EquipmentType      string `json:"equipment_type"`
	ProblemDuration    string `json:"problem_duration"`
	PreferredTime      string `json:"preferred_time"`
}

func (f Fields) empty() bool {
	return f.ProblemDescription == "" && f.EquipmentType == "" &&
		f.ProblemDuration == "" && f.PreferredTime == ""
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithTemperature overrides the default sampling temperature (0.1).
func WithTemperature(temp float64) Option {
	return func(e *Extractor) { e.temperature = temp }
}

// Extractor runs the extraction LLM call. Safe for concurrent use — each
// call to Run or Extract is independent.
type Extractor struct {
	llm         llm.Provider
	temperature float64
	log         *slog.Logger
}

// New returns an Extractor backed by provider. log may be nil, in which
// case slog.Default() is used.
func New(provider llm.Provider, log *slog.Logger, opts ...Option) *Extractor {
	if log == nil {
		log = slog.Default()
	}
	e := &Extractor{llm: provider, temperature: defaultTemperature, log: log}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Extract sends the recent conversation history to the LLM and parses its
// JSON reply into Fields. A context error or transport failure is returned;
// an unparseable model response is not an error — it yields a zero Fields.
func (e *Extractor) Extract(ctx context.Context, history []session.ConversationMessage) (Fields, error) {
	messages := make([]types.Message, 0, len(history))
	for _, m := range history {
		messages = append(messages, types.Message{Role: m.Role, Content: m.Content})
	}
	if len(messages) == 0 {
		return Fields{}, nil
	}

	req := llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		Temperature:  e.temperature,
		Messages:     messages,
	}

	resp, err := e.llm.Complete(ctx, req)
	if err != nil {
		return Fields{}, fmt.Errorf("extraction: complete: %w", err)
	}

	fields, parseErr := parseResponse(resp.Content)
	if parseErr != nil {
		return Fields{}, nil
	}
	return fields, nil
}

// Run is the fire-and-forget entry point: launched with `go extraction.Run(...)`
// after a state-machine tick. It never panics or propagates an error into the
// caller — failures are logged and swallowed, exactly as spec.md §4.4
// requires ("wrapped in a failure-swallowing adapter that logs but never
// raises into the pipeline").
//
// Run takes its own snapshot of the conversation history under the
// session's lock so it never races the event loop's concurrent writes, and
// re-acquires the lock only to apply fields that are still empty.
func (e *Extractor) Run(ctx context.Context, s *session.Session, bufferMode bool) {
	if bufferMode {
		return
	}

	s.Lock()
	state := s.State
	history := append([]session.ConversationMessage(nil), s.ConversationHistory...)
	s.Unlock()

	if !EligibleStates[state] {
		return
	}

	fields, err := e.Extract(ctx, history)
	if err != nil {
		e.log.Warn("extraction: call failed", "call_id", s.CallID, "error", err)
		return
	}
	if fields.empty() {
		return
	}

	Apply(s, fields)
}

// Apply writes fields into s, but only into fields that are currently
// empty (spec.md §4.4: "if field is empty: field := extracted; never
// overwrites"). It never touches customer_name, zip_code, or
// service_address — those are handler-owned and not part of Fields.
func Apply(s *session.Session, fields Fields) {
	s.Lock()
	defer s.Unlock()

	if s.ProblemDescription == "" {
		s.ProblemDescription = fields.ProblemDescription
	}
	if s.EquipmentType == "" {
		s.EquipmentType = fields.EquipmentType
	}
	if s.ProblemDuration == "" {
		s.ProblemDuration = fields.ProblemDuration
	}
	if s.PreferredTime == "" {
		s.PreferredTime = fields.PreferredTime
	}
}

// parseResponse unmarshals the model's JSON reply, stripping the markdown
// code fences some providers wrap JSON output in.
func parseResponse(content string) (Fields, error) {
	cleaned := stripMarkdown(content)
	var f Fields
	if err := json.Unmarshal([]byte(cleaned), &f); err != nil {
		return Fields{}, fmt.Errorf("extraction: parse response: %w", err)
	}
	return f, nil
}

func stripMarkdown(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}
