package postcall

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/rbaset5/calllock-server-sub001/internal/session"
)

func entries() []session.TranscriptEntry {
	base := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	return []session.TranscriptEntry{
		{Role: session.RoleAgent, Content: "hello", Timestamp: base, State: "welcome"},
		{Role: session.RoleUser, Content: "hi there", Timestamp: base.Add(2 * time.Second), State: "welcome"},
		{Role: session.RoleTool, Content: "", Name: "lookup_caller", Timestamp: base.Add(3 * time.Second), Result: map[string]any{"ok": true}},
	}
}

func TestPlainTranscript_FiltersToolEntries(t *testing.T) {
	got := plainTranscript(entries())
	if strings.Contains(got, "lookup_caller") {
		t.Fatalf("plain transcript should exclude tool entries, got %q", got)
	}
	if !strings.Contains(got, "Agent: hello") || !strings.Contains(got, "User: hi there") {
		t.Fatalf("missing expected lines: %q", got)
	}
}

func TestJSONTranscript_FiltersToTurnsOnly(t *testing.T) {
	b, err := jsonTranscript(entries())
	if err != nil {
		t.Fatalf("jsonTranscript: %v", err)
	}
	var turns []jsonTurn
	if err := json.Unmarshal(b, &turns); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("got %d turns, want 2 (tool entry excluded)", len(turns))
	}
}

func TestDumpLines_SplitsOnByteBudget(t *testing.T) {
	base := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	var many []session.TranscriptEntry
	for i := 0; i < 500; i++ {
		many = append(many, session.TranscriptEntry{
			Role:      session.RoleUser,
			Content:   strings.Repeat("x", 50),
			Timestamp: base.Add(time.Duration(i) * time.Second),
			State:     "discovery",
		})
	}
	lines, err := dumpLines(many, base)
	if err != nil {
		t.Fatalf("dumpLines: %v", err)
	}
	if len(lines) < 2 {
		t.Fatalf("expected the dump to split across multiple lines, got %d", len(lines))
	}
	for _, l := range lines {
		if len(l) > maxDumpChunkBytes+100 {
			t.Fatalf("line exceeds budget by a wide margin: %d bytes", len(l))
		}
		if !strings.HasPrefix(l, "TRANSCRIPT_DUMP|") {
			t.Fatalf("line missing TRANSCRIPT_DUMP prefix: %q", l[:20])
		}
	}
}

func TestDumpLines_EmptyInputProducesNoLines(t *testing.T) {
	lines, err := dumpLines(nil, time.Now())
	if err != nil {
		t.Fatalf("dumpLines: %v", err)
	}
	if len(lines) != 0 {
		t.Fatalf("expected no lines for an empty transcript, got %d", len(lines))
	}
}
