package frameproc

import "testing"

func TestSanitizeText_ReplacesEmAndEnDash(t *testing.T) {
	t.Parallel()
	got := sanitizeText("This has gone on a while — let's wrap up–ok?")
	if got != "This has gone on a while - let's wrap up-ok?" {
		t.Errorf("unexpected sanitized text: %q", got)
	}
}

func TestSanitizeText_LeavesPlainHyphensAlone(t *testing.T) {
	t.Parallel()
	got := sanitizeText("a well-known issue")
	if got != "a well-known issue" {
		t.Errorf("expected plain hyphens to pass through unchanged, got %q", got)
	}
}
