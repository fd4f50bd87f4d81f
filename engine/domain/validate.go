package domain

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Client ids come from the transport layer (device or account handles):
// 1-64 chars of letters, digits, and common separator punctuation.
var clientIDRegex = regexp.MustCompile(`^[A-Za-z0-9_.:@-]{1,64}$`)

const (
	minProblemLength = 3
	maxProblemLength = 2000
)

// ValidateClientID checks a session key before any store access.
func ValidateClientID(id string) error {
	if !clientIDRegex.MatchString(id) {
		return NewValidationError("client_id", id, ErrInvalidClientID)
	}
	return nil
}

// ValidateProblemText checks the free-text problem description used as the
// search query for an assessment.
func ValidateProblemText(text string) error {
	trimmed := strings.TrimSpace(text)
	if utf8.RuneCountInString(trimmed) < minProblemLength {
		return NewValidationError("problem_category", trimmed, ErrProblemTooShort)
	}
	if utf8.RuneCountInString(trimmed) > maxProblemLength {
		return NewValidationError("problem_category", trimmed[:32]+"...", ErrProblemTooLong)
	}
	return nil
}

// crisisTerms are phrases that indicate the user may need immediate support
// rather than a self-guided assessment. Matching is substring-based on the
// lowercased text; the chat surface uses this to show crisis resources first.
var crisisTerms = []string{
	"suicide", "suicidal", "kill myself", "end my life", "self harm",
	"self-harm", "hurt myself", "don't want to live", "overdose",
}

// ContainsCrisisLanguage reports whether the text mentions acute-risk terms.
func ContainsCrisisLanguage(text string) bool {
	lower := strings.ToLower(text)
	for _, term := range crisisTerms {
		if strings.Contains(lower, term) {
			return true
		}
	}
	return false
}
