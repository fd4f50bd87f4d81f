package assessment

import (
	"time"

	"github.com/SolaceWell/solace-mvp/engine/domain"
)

// State names a session's position in its lifecycle. Only InProgress
// sessions live in the store; terminal states appear on snapshots and
// events.
type State string

const (
	StateInProgress State = "in_progress"
	StateCompleted  State = "completed"
	StateCancelled  State = "cancelled"
)

// Session is one in-flight assessment for a single client. Sessions are
// ephemeral: completing, cancelling, or idling out removes them from the
// store.
type Session struct {
	ClientID        string
	ProblemCategory string
	SubCategoryID   string
	State           State
	AllQuestions    []domain.Question
	Current         domain.Question
	Answered        []domain.Question
	Responses       []Response
	Progress        Progress
	StartedAt       time.Time
	LastActivity    time.Time
}

// Response is one recorded answer. The raw text is kept as given; scoring
// decides later whether it is numeric.
type Response struct {
	QuestionID   string
	Answer       string
	ResponseType domain.ResponseType
	AnsweredAt   time.Time
}

// Progress tracks how far through the question pool a session is.
type Progress struct {
	CurrentStep    int `json:"current_step"`
	Completed      int `json:"completed_questions"`
	TotalEstimated int `json:"total_estimated"`
}

// Step is what Start and SubmitAnswer hand back: either the next question
// to ask or, once the pool is exhausted, the completion summary.
type Step struct {
	Question   *domain.Question `json:"question,omitempty"`
	Progress   Progress         `json:"progress"`
	Completion *Summary         `json:"completion,omitempty"`
}

// Summary is the completion payload for a finished assessment.
type Summary struct {
	ClientID        string    `json:"client_id"`
	ProblemCategory string    `json:"problem_category"`
	AverageScore    float64   `json:"average_score"`
	Analysis        string    `json:"analysis"`
	Insights        []string  `json:"insights"`
	Recommendations []string  `json:"recommendations"`
	QuestionsAsked  int       `json:"questions_asked"`
	DurationSeconds float64   `json:"duration_seconds"`
	CompletedAt     time.Time `json:"completed_at"`
}

// Status is a read-only snapshot of a client's session, or an explicit
// inactive marker when none exists. Raw answers are not part of the
// snapshot.
type Status struct {
	ClientID        string           `json:"client_id"`
	Active          bool             `json:"active"`
	State           State            `json:"state,omitempty"`
	ProblemCategory string           `json:"problem_category,omitempty"`
	CurrentQuestion *domain.Question `json:"current_question,omitempty"`
	Progress        *Progress        `json:"progress,omitempty"`
	StartedAt       *time.Time       `json:"started_at,omitempty"`
	LastActivity    *time.Time       `json:"last_activity,omitempty"`
}
