package moderation

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	// Bare domains only count with a trailing path so "v2.0" or "3.14" pass.
	urlPattern = regexp.MustCompile(`(?i)(https?://\S+|www\.\S+|\S+\.(com|net|org|io|co|xyz|info|biz|ru|cn|tk|ml|ga|cf)/\S*)`)

	// +1-555-123-4567, (555) 123-4567, 555.123.4567; anchored on whitespace
	// so short numbers inside sentences are ignored.
	phonePattern = regexp.MustCompile(`(?:^|\s)(\+?\d{1,3}[-.\s]?)?\(?\d{2,4}\)?[-.\s]?\d{3,4}[-.\s]?\d{3,4}(?:\s|$)`)
)

// Flood thresholds.
const (
	charFloodRun = 5
	wordFloodRun = 3
)

// Verdict is the outcome of screening a message body.
type Verdict struct {
	Flagged bool   `json:"flagged"`
	Rule    string `json:"rule,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

type spamRule struct {
	name   string
	reason string
	match  func(string) bool
}

// First match wins.
var spamRules = []spamRule{
	{"url", "links are not allowed", urlPattern.MatchString},
	{"phone", "phone numbers are not allowed", phonePattern.MatchString},
	{"char_flood", "character flooding", hasCharFlood},
	{"word_flood", "repeated word flooding", hasWordFlood},
}

// Screen checks a message body against the spam heuristics. Flagged messages
// are still delivered; the caller files a report for moderator review.
func Screen(text string) Verdict {
	for _, r := range spamRules {
		if r.match(text) {
			return Verdict{Flagged: true, Rule: r.name, Reason: r.reason}
		}
	}
	return Verdict{}
}

// hasCharFlood looks for a run of identical characters. RE2 has no
// backreferences, hence the scan.
func hasCharFlood(text string) bool {
	run := 0
	var prev rune = -1
	for _, r := range text {
		if r != prev {
			prev, run = r, 0
		}
		run++
		if run >= charFloodRun {
			return true
		}
	}
	return false
}

// hasWordFlood looks for the same whitespace-delimited word repeated
// back to back, ignoring case.
func hasWordFlood(text string) bool {
	words := strings.FieldsFunc(text, unicode.IsSpace)
	run := 0
	prev := ""
	for _, w := range words {
		w = strings.ToLower(w)
		if w != prev {
			prev, run = w, 0
		}
		run++
		if run >= wordFloodRun {
			return true
		}
	}
	return false
}
