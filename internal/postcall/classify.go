package postcall

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rbaset5/calllock-server-sub001/pkg/provider/llm"
	"github.com/rbaset5/calllock-server-sub001/pkg/types"
)

const classifyTemperature = 0.2

// tagCategories are the nine fixed tag keys a classification call reports
// on (spec.md §4.6 step 3's "tags{9 categories}"). The exact vocabulary is
// an implementation choice (spec.md leaves it unspecified) — chosen to
// match the dispatcher domain's own triage vocabulary (emergency/plumbing/
// electrical/hvac keywords already drive internal/fsm's safety and urgency
// detection); see DESIGN.md.
var tagCategories = []string{
	"emergency",
	"plumbing",
	"electrical",
	"hvac",
	"appliance_repair",
	"high_value_lead",
	"follow_up_required",
	"schedule_conflict",
	"upsell_opportunity",
}

const classifySystemPrompt = `You are a call classification assistant for a home-services phone dispatcher.

Read the call transcript below and produce a JSON object with exactly these fields:
{
  "ai_summary": "one or two sentence summary of the call",
  "card_headline": "a short headline (under 8 words) for a dashboard card",
  "card_summary": "a one-sentence dashboard card summary",
  "call_type": "the general category of call, e.g. \"booking\", \"callback\", \"emergency\"",
  "call_subtype": "a more specific subtype, e.g. \"hvac_no_cool\", \"plumbing_leak\"",
  "sentiment_score": a number from -1.0 (very negative) to 1.0 (very positive),
  "tags": {"emergency": bool, "plumbing": bool, "electrical": bool, "hvac": bool, "appliance_repair": bool, "high_value_lead": bool, "follow_up_required": bool, "schedule_conflict": bool, "upsell_opportunity": bool},
  "priority_color": "one of \"red\", \"yellow\", \"green\"",
  "revenue_tier": "one of \"low\", \"medium\", \"high\""
}

Respond with ONLY the JSON object (no markdown, no prose).`

// Classification is the structured output of one classification call
// (spec.md §4.6 step 3). A zero-value Classification (Failed=true) is used
// when the call fails or the model's reply cannot be parsed — classifying
// a call never blocks payload emission.
type Classification struct {
	AISummary      string          `json:"ai_summary"`
	CardHeadline   string          `json:"card_headline"`
	CardSummary    string          `json:"card_summary"`
	CallType       string          `json:"call_type"`
	CallSubtype    string          `json:"call_subtype"`
	SentimentScore float64         `json:"sentiment_score"`
	Tags           map[string]bool `json:"tags"`
	PriorityColor  string          `json:"priority_color"`
	RevenueTier    string          `json:"revenue_tier"`
	Failed         bool            `json:"-"`
}

// activeTags returns the subset of Tags that are true, sorted is not
// required here since callers only need the count and names for the
// scorecard log.
func (c Classification) activeTags() []string {
	var out []string
	for _, key := range tagCategories {
		if c.Tags[key] {
			out = append(out, key)
		}
	}
	return out
}

// Classifier runs the classification LLM call. Grounded on
// internal/extraction's Extractor: same small-call, strict-JSON-system-
// prompt, graceful-degradation shape, reused here for a different result
// type and a synchronous (not fire-and-forget) call site.
type Classifier struct {
	llm llm.Provider
}

// NewClassifier returns a Classifier backed by provider.
func NewClassifier(provider llm.Provider) *Classifier {
	return &Classifier{llm: provider}
}

// Classify sends plainText (the call's plain-text transcript) to the LLM
// and parses its JSON reply. On any failure — transport error or an
// unparseable reply — it returns a zero Classification with Failed set,
// never an error, so the caller can proceed straight to payload assembly
// per spec.md §4.6 step 3's "classification never blocks payload emission."
func (c *Classifier) Classify(ctx context.Context, plainText string) Classification {
	if strings.TrimSpace(plainText) == "" {
		return Classification{Failed: true}
	}

	req := llm.CompletionRequest{
		SystemPrompt: classifySystemPrompt,
		Temperature:  classifyTemperature,
		Messages:     []types.Message{{Role: "user", Content: plainText}},
	}

	resp, err := c.llm.Complete(ctx, req)
	if err != nil {
		return Classification{Failed: true}
	}

	cls, err := parseClassification(resp.Content)
	if err != nil {
		return Classification{Failed: true}
	}
	return cls
}

func parseClassification(content string) (Classification, error) {
	cleaned := stripMarkdown(content)
	var c Classification
	if err := json.Unmarshal([]byte(cleaned), &c); err != nil {
		return Classification{}, fmt.Errorf("postcall: parse classification: %w", err)
	}
	return c, nil
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
