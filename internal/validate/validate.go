// Package validate holds the pure, idempotent validation and normalization
// helpers state handlers use to decide whether a caller's utterance
// satisfies a field, or whether the handler should ask again.
//
// None of these functions perform I/O and none return error: a validation
// miss is "ask again", not a fault, so every function signals failure with
// an empty string or false rather than a raised error — unlike
// internal/entity/validate.go's errors.Join composition in the teacher,
// which validates records that are either well-formed or rejected outright.
package validate

import (
	"regexp"
	"strings"
	"time"
)

// digitWords maps a spoken digit (and a handful of common teen numbers
// callers use when reciting a street number, e.g. "eleven") to its numeral
// string. The specification calls this the "single-digit word table"; the
// teen entries are included because resolve_address's worked example
// ("53 Eleven Maple St" → "5311 Maple St") requires them.
var digitWords = map[string]string{
	"zero": "0", "oh": "0",
	"one": "1", "two": "2", "three": "3", "four": "4", "five": "5",
	"six": "6", "seven": "7", "eight": "8", "nine": "9",
	"ten": "10", "eleven": "11", "twelve": "12", "thirteen": "13",
	"fourteen": "14", "fifteen": "15", "sixteen": "16", "seventeen": "17",
	"eighteen": "18", "nineteen": "19",
}

var sentinelPhrases = []string{"not provided", "n/a", "na", "unknown", "no", "none"}

var allDigits = regexp.MustCompile(`^\d+$`)
var hasLetter = regexp.MustCompile(`[a-zA-Z]`)
var phonePattern = regexp.MustCompile(`^\+?1?[\s.-]?\(?\d{3}\)?[\s.-]?\d{3}[\s.-]?\d{4}$`)

// ZIP validates and normalizes a 5-digit ZIP code. It accepts either
// literal digits or spelled-out single digits ("seven eight seven zero
// one"), concatenated and length-checked. Returns "" if no 5-digit ZIP can
// be extracted.
func ZIP(text string) string {
	var b strings.Builder
	for _, tok := range strings.Fields(text) {
		tok = strings.ToLower(strings.Trim(tok, ".,"))
		switch {
		case allDigits.MatchString(tok):
			b.WriteString(tok)
		default:
			if d, ok := digitWords[tok]; ok {
				b.WriteString(d)
			}
		}
	}
	zip := b.String()
	if len(zip) != 5 || !allDigits.MatchString(zip) {
		return ""
	}
	return zip
}

// Name validates and trims a caller-supplied name. Rejects sentinel
// non-answers ("not provided", "n/a", "unknown", "no", ...), pure-digit
// strings, and strings that look like a phone number.
func Name(text string) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ""
	}
	lower := strings.ToLower(trimmed)
	for _, s := range sentinelPhrases {
		if lower == s {
			return ""
		}
	}
	if allDigits.MatchString(strings.ReplaceAll(trimmed, " ", "")) {
		return ""
	}
	if phonePattern.MatchString(trimmed) {
		return ""
	}
	return trimmed
}

var wordOr = regexp.MustCompile(`(?i)\bor\b`)

// Address validates and normalizes a service address. Rejects sentinels,
// rejects strings containing the word "or" (a caller reciting two
// candidate addresses is not a usable answer), normalizes a leading run of
// number-words into digits (so "53 Eleven Maple St" becomes
// "5311 Maple St"), rejects results with no letters, and rejects results
// shorter than 5 characters.
func Address(text string) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ""
	}
	lower := strings.ToLower(trimmed)
	for _, s := range sentinelPhrases {
		if lower == s {
			return ""
		}
	}
	if wordOr.MatchString(trimmed) {
		return ""
	}

	fields := strings.Fields(trimmed)
	var numeralRun strings.Builder
	rest := fields
	for len(rest) > 0 {
		tok := rest[0]
		lowTok := strings.ToLower(strings.Trim(tok, ".,"))
		if allDigits.MatchString(tok) {
			numeralRun.WriteString(tok)
			rest = rest[1:]
			continue
		}
		if d, ok := digitWords[lowTok]; ok {
			numeralRun.WriteString(d)
			rest = rest[1:]
			continue
		}
		break
	}

	var normalized string
	if numeralRun.Len() > 0 {
		normalized = strings.TrimSpace(numeralRun.String() + " " + strings.Join(rest, " "))
	} else {
		normalized = trimmed
	}

	if !hasLetter.MatchString(normalized) {
		return ""
	}
	if len(normalized) < 5 {
		return ""
	}
	return normalized
}

// ServiceArea reports whether zip5 falls within the configured service
// area, defined by a set of allowed ZIP-code prefixes (production default
// is {"787"}; callers supply the configured set so this stays a pure
// function of its inputs).
func ServiceArea(zip5 string, allowedPrefixes []string) bool {
	for _, prefix := range allowedPrefixes {
		if prefix != "" && strings.HasPrefix(zip5, prefix) {
			return true
		}
	}
	return false
}

// MatchAnyKeyword reports whether text contains any keyword in set as a
// whole word, case-insensitively. Never matches as a substring — "ceiling"
// does not match "eil".
func MatchAnyKeyword(text string, set []string) bool {
	for _, kw := range set {
		if kw == "" {
			continue
		}
		pattern := `(?i)\b` + regexp.QuoteMeta(kw) + `\b`
		if regexp.MustCompile(pattern).MatchString(text) {
			return true
		}
	}
	return false
}

var urgentTimeframeKeywords = []string{
	"asap", "today", "right away", "soonest", "right now",
	"as soon as possible", "same day", "morning",
}

// ResolveBookingTime deterministically maps free-text timing language to an
// ISO-8601 local time string in loc, anchored at now.
//
//   - Urgent-timeframe keywords: now + 2h, truncated to the hour; if the
//     resulting hour is >= 18 or < 9, the next business day at 09:00.
//   - Contains "tomorrow": the next calendar day at 09:00.
//   - Contains "afternoon": today at 14:00 if the current hour is before
//     14:00, else the next calendar day at 14:00.
//   - Otherwise ("this week", "whenever", empty, or anything unrecognised):
//     the next calendar day at 09:00.
func ResolveBookingTime(freeText string, now time.Time, loc *time.Location) string {
	now = now.In(loc)
	lower := strings.ToLower(freeText)

	if MatchAnyKeyword(lower, urgentTimeframeKeywords) {
		candidate := now.Add(2 * time.Hour).Truncate(time.Hour)
		if candidate.Hour() >= 18 || candidate.Hour() < 9 {
			return atHour(nextBusinessDay(now), 9).Format(time.RFC3339)
		}
		return candidate.Format(time.RFC3339)
	}

	if strings.Contains(lower, "tomorrow") {
		return atHour(nextDay(now), 9).Format(time.RFC3339)
	}

	if strings.Contains(lower, "afternoon") {
		if now.Hour() < 14 {
			return atHour(now, 14).Format(time.RFC3339)
		}
		return atHour(nextDay(now), 14).Format(time.RFC3339)
	}

	return atHour(nextDay(now), 9).Format(time.RFC3339)
}

func atHour(t time.Time, hour int) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), hour, 0, 0, 0, t.Location())
}

func nextDay(t time.Time) time.Time {
	return t.AddDate(0, 0, 1)
}

// nextBusinessDay advances t by one calendar day, then skips forward past
// any weekend so the returned day is a Monday-through-Friday.
func nextBusinessDay(t time.Time) time.Time {
	d := nextDay(t)
	for d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
		d = d.AddDate(0, 0, 1)
	}
	return d
}
