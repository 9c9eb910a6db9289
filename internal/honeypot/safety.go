package honeypot

import "strings"

// DefaultBlockedPhrases are substrings whose presence in an outbound reply
// would assert a completed payment or disclose a passcode.
var DefaultBlockedPhrases = []string{
	"sent money",
	"payment done",
	"paid successfully",
	"transaction successful",
	"upi pin",
	"otp is",
	"i have paid",
	"i sent",
}

const stallReply = "i am trying but something not working on my phone 😕"

// SafetyFilter is the last gate before a reply is surfaced or persisted.
// Matching is case-insensitive, unanchored substring containment. On any hit
// the whole reply is replaced; partial redaction of a money claim could
// still read as a confirmation.
type SafetyFilter struct {
	phrases []string
}

// NewSafetyFilter builds a filter over the given denylist; an empty list
// selects DefaultBlockedPhrases.
func NewSafetyFilter(phrases []string) *SafetyFilter {
	if len(phrases) == 0 {
		phrases = DefaultBlockedPhrases
	}
	lowered := make([]string, 0, len(phrases))
	for _, p := range phrases {
		lowered = append(lowered, strings.ToLower(p))
	}
	return &SafetyFilter{phrases: lowered}
}

// Sanitize returns the reply unchanged, or the neutral stalling phrase when
// any blocked phrase occurs in it.
func (f *SafetyFilter) Sanitize(reply string) string {
	lower := strings.ToLower(reply)
	for _, p := range f.phrases {
		if strings.Contains(lower, p) {
			return stallReply
		}
	}
	return reply
}
