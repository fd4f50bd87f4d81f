// Package domain defines the core types, constants, and validation for the
// Solace assessment engine. Retrieval decodes vector-store payloads into
// these views exactly once; everything downstream works with typed records.
package domain

// ResponseType classifies how a question expects to be answered.
type ResponseType string

const (
	ResponseScale          ResponseType = "scale"
	ResponseText           ResponseType = "text"
	ResponseMultipleChoice ResponseType = "multiple_choice"
	ResponseBoolean        ResponseType = "boolean"
)

// ValidResponseTypes is the set of recognised response types.
var ValidResponseTypes = map[ResponseType]bool{
	ResponseScale: true, ResponseText: true,
	ResponseMultipleChoice: true, ResponseBoolean: true,
}

// NormalizeResponseType maps a raw payload value to a known ResponseType,
// defaulting to free text for anything unrecognised.
func NormalizeResponseType(s string) ResponseType {
	rt := ResponseType(s)
	if ValidResponseTypes[rt] {
		return rt
	}
	return ResponseText
}

// Problem is the problems-collection view: a known problem category a user
// description can be matched against.
type Problem struct {
	ID            string  `json:"problem_id"`
	Category      string  `json:"category"`
	SubCategoryID string  `json:"sub_category_id,omitempty"`
	Description   string  `json:"description"`
	Domain        string  `json:"domain,omitempty"`
	Score         float32 `json:"score"`
}

// Question is the assessments-collection view. NextStep, when set, points at
// the question_id that should follow this one, overriding default ordering.
type Question struct {
	ID            string       `json:"question_id"`
	SubCategoryID string       `json:"sub_category_id,omitempty"`
	BatchID       string       `json:"batch_id,omitempty"`
	Text          string       `json:"text"`
	ResponseType  ResponseType `json:"response_type"`
	NextStep      string       `json:"next_step,omitempty"`
	Clusters      []string     `json:"clusters,omitempty"`
	Domain        string       `json:"domain,omitempty"`
	Score         float32      `json:"score"`
}

// Suggestion is the suggestions-collection view: a therapeutic
// recommendation surfaced after a completed assessment.
type Suggestion struct {
	ID       string  `json:"suggestion_id"`
	Text     string  `json:"text"`
	Category string  `json:"category,omitempty"`
	Stage    string  `json:"stage,omitempty"`
	Score    float32 `json:"score"`
}

// FeedbackPrompt is the feedback-collection view: a follow-up prompt used
// to check in on the user after recommendations were given.
type FeedbackPrompt struct {
	ID    string  `json:"feedback_id"`
	Text  string  `json:"text"`
	Stage string  `json:"stage,omitempty"`
	Score float32 `json:"score"`
}

// TrainingExample is the training-collection view: a labelled utterance used
// to ground intent classification.
type TrainingExample struct {
	ID     string  `json:"example_id"`
	Text   string  `json:"text"`
	Intent string  `json:"intent,omitempty"`
	Score  float32 `json:"score"`
}
