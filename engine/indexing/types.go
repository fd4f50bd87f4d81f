package indexing

import (
	"github.com/SolaceWell/solace-mvp/engine/retrieval"
	"github.com/google/uuid"
)

// SeedRecord is one record destined for a vector collection. Text is what
// gets embedded; Payload carries the domain fields the retriever decodes
// back out (category, sub_category_id, next_step and so on).
type SeedRecord struct {
	ID      string         `json:"id,omitempty"`
	Text    string         `json:"text"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Batch groups seed records bound for one collection. Seed files and NATS
// messages both decode into this shape.
type Batch struct {
	Collection string       `json:"collection"`
	Records    []SeedRecord `json:"records"`
}

// EmbeddedBatch is a batch with one vector per record, in record order.
type EmbeddedBatch struct {
	Batch
	Vectors [][]float32
}

// idKeys maps each collection to the payload key its logical id is stored
// under. The retriever reads the same keys when decoding hits.
var idKeys = map[string]string{
	retrieval.CollectionProblems:    "problem_id",
	retrieval.CollectionAssessments: "question_id",
	retrieval.CollectionSuggestions: "suggestion_id",
	retrieval.CollectionFeedback:    "feedback_id",
	retrieval.CollectionTraining:    "example_id",
}

// TextKey returns the payload key the record text is stored under. Problems
// keep their text as a description; everything else stores it as text.
func TextKey(collection string) string {
	if collection == retrieval.CollectionProblems {
		return "description"
	}
	return "text"
}

// PointID derives the deterministic point id for a record, so re-running a
// seed updates points in place instead of duplicating them. Records without
// a logical id fall back to their text.
func PointID(collection string, rec SeedRecord) string {
	key := rec.ID
	if key == "" {
		key = rec.Text
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(collection+":"+key)).String()
}
