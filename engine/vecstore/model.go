package vecstore

// Record is a single vector to store, with its payload.
type Record struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// Result is a single similarity search hit. Payload values are decoded to
// plain Go types (string, int64, float64, bool, []string, []any).
type Result struct {
	ID      string         `json:"id"`
	Score   float32        `json:"score"`
	Payload map[string]any `json:"payload"`
}

// SearchOpts tunes a similarity search.
type SearchOpts struct {
	// Limit caps the number of hits. Zero means DefaultLimit.
	Limit int
	// ScoreThreshold drops hits scoring below it. Zero means no threshold.
	ScoreThreshold float32
	// Filter requires exact keyword equality per field.
	Filter map[string]string
	// FilterAny requires the field to match one of the given values.
	FilterAny map[string][]string
}

// DefaultLimit is used when SearchOpts.Limit is zero.
const DefaultLimit = 10

// Health reports the server identity from a health probe.
type Health struct {
	Title   string `json:"title"`
	Version string `json:"version"`
}

// CollectionInfo summarizes one collection.
type CollectionInfo struct {
	Name   string `json:"name"`
	Points uint64 `json:"points"`
	Status string `json:"status"`
}
