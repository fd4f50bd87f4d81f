package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the assessment and retrieval paths.
var (
	// ErrVectorUnavailable marks a failed vector-store round trip. Fatal for
	// the call; retries belong to the transport layer, not this engine.
	ErrVectorUnavailable = errors.New("vector store unavailable")
	// ErrEmbedding marks a model load or inference failure.
	ErrEmbedding = errors.New("embedding failed")
	// ErrNoQuestions means the question search came back empty and no
	// assessment can start.
	ErrNoQuestions = errors.New("no assessment questions found")
	// ErrSessionNotFound means the client has no live session.
	ErrSessionNotFound = errors.New("no active session")
	// ErrQuestionMismatch means an answer was submitted against a question
	// that is not the session's current one (stale or out of order).
	ErrQuestionMismatch = errors.New("answer does not match the current question")
	// ErrRecommendation marks a failed suggestion lookup. Non-fatal: the
	// assessment still completes with empty recommendations.
	ErrRecommendation = errors.New("recommendations unavailable")
)

// Validation sentinels.
var (
	ErrInvalidClientID = errors.New("invalid client id")
	ErrProblemTooShort = errors.New("problem description too short")
	ErrProblemTooLong  = errors.New("problem description too long")
)

// SessionError wraps a sentinel with the client and operation it occurred in.
type SessionError struct {
	ClientID string
	Op       string
	Wrapped  error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("assessment: %s: client %q: %v", e.Op, e.ClientID, e.Wrapped)
}

func (e *SessionError) Unwrap() error { return e.Wrapped }

// NewSessionError creates a SessionError.
func NewSessionError(clientID, op string, wrapped error) *SessionError {
	return &SessionError{ClientID: clientID, Op: op, Wrapped: wrapped}
}

// ValidationError wraps a validation sentinel with field context.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}

// UserMessage maps an engine error to text safe to show the end user. The
// transport layer sends this alongside the HTTP status.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoQuestions):
		return "We couldn't find assessment questions for that concern yet. Try describing it differently."
	case errors.Is(err, ErrSessionNotFound):
		return "There's no assessment in progress. Start a new one to continue."
	case errors.Is(err, ErrQuestionMismatch):
		return "That answer doesn't match the current question. Please answer the question shown."
	case errors.Is(err, ErrEmbedding), errors.Is(err, ErrVectorUnavailable):
		return "We're having trouble reaching the assessment service. Please try again in a moment."
	case errors.Is(err, ErrRecommendation):
		return "Your assessment is complete, but recommendations are temporarily unavailable."
	case errors.Is(err, ErrInvalidClientID), errors.Is(err, ErrProblemTooShort), errors.Is(err, ErrProblemTooLong):
		return "That request looks invalid. Please check your input and try again."
	default:
		return "Something went wrong on our side. Please try again."
	}
}
