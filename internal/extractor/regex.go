// Package extractor turns a sealed transcript into structured appointment
// fields using a two-stage cascade: a primary AI call and a deterministic
// regex fallback, merged per field with ai > regex > absent precedence.
package extractor

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// regexFields is the deterministic extraction floor. It always runs,
// regardless of the AI stage's outcome.
type regexFields struct {
	Name              string
	Email             string
	Phone             string
	AppointmentDate   string
	AppointmentTime   string
	AppointmentReason string
}

var (
	namePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:I'm|I am|This is|My name is)\s+([A-Z][a-z]+(?:\s+[A-Z][a-z]+)+)`),
		regexp.MustCompile(`([A-Z][a-z]+\s+[A-Z][a-z]+)(?:\s+calling|\s+here)`),
	}

	emailPattern = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)

	phonePatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b\d{3}[-.]?\d{3}[-.]?\d{4}\b`),
		regexp.MustCompile(`\(\d{3}\)\s*\d{3}[-.]?\d{4}`),
		regexp.MustCompile(`\b\d{10}\b`),
	}

	datePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:next\s+)?(?:monday|tuesday|wednesday|thursday|friday|saturday|sunday)`),
		regexp.MustCompile(`(?i)(?:tomorrow|today)`),
		regexp.MustCompile(`\b\d{1,2}[/-]\d{1,2}[/-]\d{2,4}\b`),
		regexp.MustCompile(`(?i)\b(?:january|february|march|april|may|june|july|august|september|october|november|december)\s+\d{1,2}(?:st|nd|rd|th)?`),
	}

	timePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b\d{1,2}:\d{2}\s*(?:am|pm)\b`),
		regexp.MustCompile(`(?i)\b\d{1,2}\s*(?:am|pm)\b`),
	}

	reasonKeywords = []string{
		"back pain", "headache", "checkup", "follow up", "consultation",
		"symptoms", "pain", "injury", "illness", "medical", "health",
		"chest pain", "fever", "cough", "cold", "flu",
	}
)

// extractWithRegex applies the pattern rules to the transcript text.
func extractWithRegex(transcript string) regexFields {
	var out regexFields

	for _, p := range namePatterns {
		if m := p.FindStringSubmatch(transcript); m != nil {
			out.Name = strings.TrimSpace(m[1])
			break
		}
	}

	if m := emailPattern.FindString(transcript); m != "" {
		out.Email = m
	}

	for _, p := range phonePatterns {
		if m := p.FindString(transcript); m != "" {
			out.Phone = m
			break
		}
	}

	for _, p := range datePatterns {
		if m := p.FindString(transcript); m != "" {
			out.AppointmentDate = m
			break
		}
	}

	for _, p := range timePatterns {
		if m := p.FindString(transcript); m != "" {
			out.AppointmentTime = m
			break
		}
	}

	// Reason: first keyword hit with surrounding context.
	lower := strings.ToLower(transcript)
	for _, kw := range reasonKeywords {
		if idx := strings.Index(lower, kw); idx >= 0 {
			start := idx - 50
			if start < 0 {
				start = 0
			}
			end := idx + len(kw) + 50
			if end > len(transcript) {
				end = len(transcript)
			}
			// Align the window to rune boundaries so the slice cannot
			// split a multi-byte character.
			for start > 0 && !utf8.RuneStart(transcript[start]) {
				start--
			}
			for end < len(transcript) && !utf8.RuneStart(transcript[end]) {
				end++
			}
			out.AppointmentReason = strings.TrimSpace(transcript[start:end])
			break
		}
	}

	return out
}
