package honeypot

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Fallback texts. These are written so they can never trip the safety
// denylist themselves.
const (
	fillerReply  = "one small doubt..."
	failureReply = "Wait, my phone is acting up..."
)

var (
	replyRe     = regexp.MustCompile(`(?i)"reply"\s*:\s*"([^"]+)"`)
	scamRe      = regexp.MustCompile(`(?i)"is_scam"\s*:\s*(true|false)`)
	confRe      = regexp.MustCompile(`(?i)"confidence"\s*:\s*([0-9.]+)`)
	extractedRe = regexp.MustCompile(`(?is)"extracted"\s*:\s*(\{.*?\})`)
)

// parseTier attempts one strategy; ok=false means try the next tier.
type parseTier func(raw string) (TurnResult, bool)

// Normalizer turns raw generator output into a TurnResult. The fallible
// tiers run in order; when every one declines, the field extractor builds a
// result from whatever it can salvage, so Normalize itself never fails.
type Normalizer struct {
	tiers    []parseTier
	fallback func(raw string) TurnResult
}

func NewNormalizer() *Normalizer {
	return &Normalizer{
		tiers:    []parseTier{strictParse},
		fallback: fieldExtract,
	}
}

func (n *Normalizer) Normalize(raw string) TurnResult {
	raw = stripFences(strings.TrimSpace(raw))
	for _, tier := range n.tiers {
		if res, ok := tier(raw); ok {
			return res
		}
	}
	return n.fallback(raw)
}

// FallbackResult is the safe default for a failed generator invocation. It
// must not carry any scam signal: the session's prior state stays untouched.
func FallbackResult() TurnResult {
	return TurnResult{
		Reply:      failureReply,
		IsScam:     false,
		Confidence: 0.0,
		Extracted:  EmptyExtracted(),
	}
}

// stripFences removes a markdown code fence wrapper if the whole payload is
// inside one. Models add these despite the prompt saying JSON only.
func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	body := strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(body, '\n'); i >= 0 {
		body = body[i+1:]
	}
	body = strings.TrimSuffix(strings.TrimSpace(body), "```")
	return strings.TrimSpace(body)
}

type wireResult struct {
	Reply      *string    `json:"reply"`
	IsScam     *bool      `json:"is_scam"`
	Confidence *float64   `json:"confidence"`
	Extracted  *Extracted `json:"extracted"`
}

// strictParse accepts only a well-formed document with every required field
// present at its declared type.
func strictParse(raw string) (TurnResult, bool) {
	var w wireResult
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return TurnResult{}, false
	}
	if w.Reply == nil || w.IsScam == nil || w.Confidence == nil {
		return TurnResult{}, false
	}
	res := TurnResult{
		Reply:      *w.Reply,
		IsScam:     *w.IsScam,
		Confidence: clampConfidence(*w.Confidence),
		Extracted:  EmptyExtracted(),
	}
	if w.Extracted != nil {
		res.Extracted = ensureLists(*w.Extracted)
	}
	return res, true
}

// fieldExtract pulls each field out of arbitrary noise independently.
// Missing fields take their documented defaults, so even pure garbage
// yields a speakable result.
func fieldExtract(raw string) TurnResult {
	res := TurnResult{
		Reply:     fillerReply,
		Extracted: EmptyExtracted(),
	}
	if m := replyRe.FindStringSubmatch(raw); m != nil {
		res.Reply = m[1]
	}
	if m := scamRe.FindStringSubmatch(raw); m != nil {
		res.IsScam = strings.EqualFold(m[1], "true")
	}
	if m := confRe.FindStringSubmatch(raw); m != nil {
		if f, err := strconv.ParseFloat(m[1], 64); err == nil {
			res.Confidence = clampConfidence(f)
		}
	}
	if m := extractedRe.FindStringSubmatch(raw); m != nil {
		var e Extracted
		// tolerate single-quoted keys/values
		repaired := strings.ReplaceAll(m[1], "'", `"`)
		if err := json.Unmarshal([]byte(repaired), &e); err == nil {
			res.Extracted = ensureLists(e)
		}
	}
	return res
}

func clampConfidence(f float64) float64 {
	if math.IsNaN(f) || f < 0 {
		return 0.0
	}
	if f > 1 {
		return 1.0
	}
	return f
}

func ensureLists(e Extracted) Extracted {
	if e.UPI == nil {
		e.UPI = []string{}
	}
	if e.Phones == nil {
		e.Phones = []string{}
	}
	if e.Emails == nil {
		e.Emails = []string{}
	}
	if e.Links == nil {
		e.Links = []string{}
	}
	if e.PaymentRequests == nil {
		e.PaymentRequests = []string{}
	}
	return e
}
