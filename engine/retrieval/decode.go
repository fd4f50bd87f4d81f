package retrieval

import (
	"github.com/SolaceWell/solace-mvp/engine/domain"
	"github.com/SolaceWell/solace-mvp/engine/vecstore"
)

// Payload decoding happens here and nowhere else. Records carry their
// logical id in the payload (question_id etc.); the point id is a fallback
// for records indexed without one.

func str(p map[string]any, key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}

func strs(p map[string]any, key string) []string {
	switch v := p[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func idOr(p map[string]any, key, fallback string) string {
	if v := str(p, key); v != "" {
		return v
	}
	return fallback
}

func decodeProblem(r vecstore.Result) domain.Problem {
	return domain.Problem{
		ID:            idOr(r.Payload, "problem_id", r.ID),
		Category:      str(r.Payload, "category"),
		SubCategoryID: str(r.Payload, "sub_category_id"),
		Description:   str(r.Payload, "description"),
		Domain:        str(r.Payload, "domain"),
		Score:         r.Score,
	}
}

func decodeQuestion(r vecstore.Result) domain.Question {
	return domain.Question{
		ID:            idOr(r.Payload, "question_id", r.ID),
		SubCategoryID: str(r.Payload, "sub_category_id"),
		BatchID:       str(r.Payload, "batch_id"),
		Text:          str(r.Payload, "text"),
		ResponseType:  domain.NormalizeResponseType(str(r.Payload, "response_type")),
		NextStep:      str(r.Payload, "next_step"),
		Clusters:      strs(r.Payload, "clusters"),
		Domain:        str(r.Payload, "domain"),
		Score:         r.Score,
	}
}

func decodeSuggestion(r vecstore.Result) domain.Suggestion {
	return domain.Suggestion{
		ID:       idOr(r.Payload, "suggestion_id", r.ID),
		Text:     str(r.Payload, "text"),
		Category: str(r.Payload, "category"),
		Stage:    str(r.Payload, "stage"),
		Score:    r.Score,
	}
}

func decodeFeedbackPrompt(r vecstore.Result) domain.FeedbackPrompt {
	return domain.FeedbackPrompt{
		ID:    idOr(r.Payload, "feedback_id", r.ID),
		Text:  str(r.Payload, "text"),
		Stage: str(r.Payload, "stage"),
		Score: r.Score,
	}
}

func decodeTrainingExample(r vecstore.Result) domain.TrainingExample {
	return domain.TrainingExample{
		ID:     idOr(r.Payload, "example_id", r.ID),
		Text:   str(r.Payload, "text"),
		Intent: str(r.Payload, "intent"),
		Score:  r.Score,
	}
}

func decodeHit(r vecstore.Result) Hit {
	text := str(r.Payload, "text")
	if text == "" {
		text = str(r.Payload, "description")
	}
	return Hit{
		ID:     r.ID,
		Text:   text,
		Domain: str(r.Payload, "domain"),
		Score:  r.Score,
	}
}
