package postcall

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rbaset5/calllock-server-sub001/internal/session"
)

// maxDumpChunkBytes bounds the JSON array body of each TRANSCRIPT_DUMP log
// line (spec.md §4.6 step 2's "~3.5 KB" chunk size); the line's prefix is
// not counted.
const maxDumpChunkBytes = 3500

// plainTranscript renders the call as "Role: content\n" lines ordered by
// timestamp, with tool entries filtered out — the human-readable form
// attached to the call payload (spec.md §4.6 step 2a).
func plainTranscript(entries []session.TranscriptEntry) string {
	var b strings.Builder
	for _, e := range ordered(entries) {
		if e.Role == session.RoleTool {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", capitalize(e.Role), e.Content)
	}
	return b.String()
}

// jsonTurn is one entry of the JSON transcript array (spec.md §4.6 step 2b).
type jsonTurn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// jsonTranscript renders the call as a JSON array filtered to agent/user
// turns only (spec.md §4.6 step 2b).
func jsonTranscript(entries []session.TranscriptEntry) ([]byte, error) {
	turns := make([]jsonTurn, 0, len(entries))
	for _, e := range ordered(entries) {
		if e.Role != session.RoleAgent && e.Role != session.RoleUser {
			continue
		}
		turns = append(turns, jsonTurn{Role: e.Role, Content: e.Content, Timestamp: e.Timestamp})
	}
	b, err := json.Marshal(turns)
	if err != nil {
		return nil, fmt.Errorf("postcall: marshal json transcript: %w", err)
	}
	return b, nil
}

// dumpEntry is one line of the timestamped structured dump (spec.md §4.6
// step 2c): every entry, including tool calls, with t relative to call
// start rather than a wall-clock timestamp.
type dumpEntry struct {
	T       float64       `json:"t"`
	State   session.State `json:"state"`
	Role    string        `json:"role"`
	Content string        `json:"content,omitempty"`
	Name    string        `json:"name,omitempty"`
	Result  any           `json:"result,omitempty"`
}

// dumpLines renders entries as one or more "TRANSCRIPT_DUMP|i/n|{...}" log
// lines (spec.md §4.6 step 2c), each a JSON array of dumpEntry values, split
// so that no chunk's JSON array exceeds maxDumpChunkBytes; the
// "TRANSCRIPT_DUMP|i/n|" prefix comes on top of that. A chunk always holds
// whole entries — it never splits one entry's JSON across a boundary — so a
// single entry larger than the bound gets a chunk of its own that exceeds it.
func dumpLines(entries []session.TranscriptEntry, start time.Time) ([]string, error) {
	all := ordered(entries)
	var chunks [][]dumpEntry
	var current []dumpEntry
	currentSize := 2 // "[]"

	for _, e := range all {
		de := dumpEntry{
			T:       e.Timestamp.Sub(start).Seconds(),
			State:   e.State,
			Role:    e.Role,
			Content: e.Content,
			Name:    e.Name,
			Result:  e.Result,
		}
		encoded, err := json.Marshal(de)
		if err != nil {
			return nil, fmt.Errorf("postcall: marshal dump entry: %w", err)
		}
		entrySize := len(encoded) + 1 // trailing comma/bracket slack

		if len(current) > 0 && currentSize+entrySize > maxDumpChunkBytes {
			chunks = append(chunks, current)
			current = nil
			currentSize = 2
		}
		current = append(current, de)
		currentSize += entrySize
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}

	lines := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		body, err := json.Marshal(chunk)
		if err != nil {
			return nil, fmt.Errorf("postcall: marshal dump chunk: %w", err)
		}
		lines = append(lines, fmt.Sprintf("TRANSCRIPT_DUMP|%d/%d|%s", i+1, len(chunks), body))
	}
	return lines, nil
}

// capitalize upper-cases the first rune of a role name ("user" -> "User").
func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// ordered returns a copy of entries sorted by Timestamp; TranscriptLog is
// already append-ordered in practice, but sorting makes the assembly
// functions correct even if a caller hands in an out-of-order slice (e.g.
// a merged multi-source log in a future extension).
func ordered(entries []session.TranscriptEntry) []session.TranscriptEntry {
	out := append([]session.TranscriptEntry(nil), entries...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}
