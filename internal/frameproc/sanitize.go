package frameproc

import "strings"

// sanitizeText replaces em dash (U+2014) and en dash (U+2013) with a plain
// hyphen. Spec.md §4.3.4 requires this to happen exactly once, here, in the
// wrapper around the TTS call — not scattered at every call site that
// produces text — to avoid UTF-8 chunk-boundary crashes in streaming TTS.
func sanitizeText(s string) string {
	s = strings.ReplaceAll(s, "—", "-")
	s = strings.ReplaceAll(s, "–", "-")
	return s
}
