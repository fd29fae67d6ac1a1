// Package challenge inspects fetched content for anti-bot interstitials.
package challenge

import (
	"bytes"
	"strings"
)

// Verdict is the typed outcome of a page inspection.
type Verdict string

// Inspection outcomes.
const (
	VerdictClear    Verdict = "clear"
	VerdictDetected Verdict = "challenge_detected"
)

// DefaultIndicators are the phrases that mark a challenge page. Matching is
// case-insensitive substring over both content and title.
var DefaultIndicators = []string{
	"checking your browser",
	"captcha",
	"ddos protection",
	"just a moment",
	"cloudflare",
	"challenge-running",
	"verify you are human",
	"human verification",
}

// Detector decides whether content is real or still an interstitial.
type Detector interface {
	Inspect(html, title string) Verdict
}

// KeywordDetector implements Detector with a fixed phrase list.
type KeywordDetector struct {
	indicators [][]byte
}

// NewKeywordDetector builds a detector; empty indicators fall back to
// DefaultIndicators.
func NewKeywordDetector(indicators []string) *KeywordDetector {
	if len(indicators) == 0 {
		indicators = DefaultIndicators
	}
	lowered := make([][]byte, 0, len(indicators))
	for _, phrase := range indicators {
		phrase = strings.TrimSpace(phrase)
		if phrase == "" {
			continue
		}
		lowered = append(lowered, bytes.ToLower([]byte(phrase)))
	}
	return &KeywordDetector{indicators: lowered}
}

// Inspect scans the page body and title for challenge indicator phrases.
func (d *KeywordDetector) Inspect(html, title string) Verdict {
	if d == nil || len(d.indicators) == 0 {
		return VerdictClear
	}
	body := bytes.ToLower([]byte(html))
	head := bytes.ToLower([]byte(title))
	for _, phrase := range d.indicators {
		if bytes.Contains(body, phrase) || bytes.Contains(head, phrase) {
			return VerdictDetected
		}
	}
	return VerdictClear
}
