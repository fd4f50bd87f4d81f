// Package retrieval composes the embedding generator and the vector store
// into domain-specific semantic searches. Each operation embeds the query
// text, searches one collection with that domain's tuning, and decodes the
// payloads into typed views from engine/domain.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/SolaceWell/solace-mvp/engine/domain"
	"github.com/SolaceWell/solace-mvp/engine/vecstore"
	"github.com/SolaceWell/solace-mvp/pkg/fn"
)

// Collection names in the vector store, one per domain.
const (
	CollectionProblems    = "problems"
	CollectionAssessments = "assessments"
	CollectionSuggestions = "suggestions"
	CollectionFeedback    = "feedback"
	CollectionTraining    = "training"
)

// Collections returns every collection the retriever reads, in a stable
// order suitable for vecstore.EnsureCollections.
func Collections() []string {
	return []string{
		CollectionProblems,
		CollectionAssessments,
		CollectionSuggestions,
		CollectionFeedback,
		CollectionTraining,
	}
}

// Defaults is the per-collection search tuning applied when a Query leaves
// Limit or ScoreThreshold at zero.
type Defaults struct {
	Limit          int
	ScoreThreshold float32
}

var collectionDefaults = map[string]Defaults{
	CollectionProblems:    {Limit: 5, ScoreThreshold: 0.4},
	CollectionAssessments: {Limit: 10, ScoreThreshold: 0.6},
	CollectionSuggestions: {Limit: 5, ScoreThreshold: 0.4},
	CollectionFeedback:    {Limit: 3, ScoreThreshold: 0.6},
	CollectionTraining:    {Limit: 10, ScoreThreshold: 0.5},
}

// DefaultsFor returns the tuning for a collection. Unknown collections get
// the store's default limit and no threshold.
func DefaultsFor(collection string) Defaults {
	if d, ok := collectionDefaults[collection]; ok {
		return d
	}
	return Defaults{Limit: vecstore.DefaultLimit}
}

// Embedder turns free text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Searcher abstracts vector-store similarity search.
type Searcher interface {
	Search(ctx context.Context, collection string, vector []float32, opts vecstore.SearchOpts) ([]vecstore.Result, error)
}

// Options configures retrieval behaviour.
type Options struct {
	SearchTimeout time.Duration
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{SearchTimeout: 5 * time.Second}
}

// Service runs domain-specific semantic searches.
type Service struct {
	embed  Embedder
	store  Searcher
	opts   Options
	logger *slog.Logger
}

// New creates a retrieval Service.
func New(embed Embedder, store Searcher, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.SearchTimeout <= 0 {
		opts.SearchTimeout = DefaultOptions().SearchTimeout
	}
	return &Service{embed: embed, store: store, opts: opts, logger: logger}
}

// Query is one semantic search request. Zero Limit or ScoreThreshold fall
// back to the target collection's defaults; a negative ScoreThreshold
// disables the cutoff entirely. The remaining fields become exact-match
// payload filters when set.
type Query struct {
	Text           string
	Limit          int
	ScoreThreshold float32

	Domain        string
	SubCategoryID string
	Cluster       string
	Stage         string
	Intent        string
}

func (q Query) filter() map[string]string {
	f := map[string]string{}
	if q.Domain != "" {
		f["domain"] = q.Domain
	}
	if q.SubCategoryID != "" {
		f["sub_category_id"] = q.SubCategoryID
	}
	if q.Cluster != "" {
		f["clusters"] = q.Cluster
	}
	if q.Stage != "" {
		f["stage"] = q.Stage
	}
	if q.Intent != "" {
		f["intent"] = q.Intent
	}
	if len(f) == 0 {
		return nil
	}
	return f
}

// Problems matches a user's stated problem against the problem catalogue.
func (s *Service) Problems(ctx context.Context, q Query) ([]domain.Problem, error) {
	results, err := s.search(ctx, CollectionProblems, q)
	if err != nil {
		return nil, err
	}
	return fn.Map(results, decodeProblem), nil
}

// Questions retrieves assessment questions relevant to the query text.
func (s *Service) Questions(ctx context.Context, q Query) ([]domain.Question, error) {
	results, err := s.search(ctx, CollectionAssessments, q)
	if err != nil {
		return nil, err
	}
	return fn.Map(results, decodeQuestion), nil
}

// Suggestions retrieves therapeutic suggestions relevant to the query text.
func (s *Service) Suggestions(ctx context.Context, q Query) ([]domain.Suggestion, error) {
	results, err := s.search(ctx, CollectionSuggestions, q)
	if err != nil {
		return nil, err
	}
	return fn.Map(results, decodeSuggestion), nil
}

// FeedbackPrompts retrieves follow-up prompts relevant to the query text.
func (s *Service) FeedbackPrompts(ctx context.Context, q Query) ([]domain.FeedbackPrompt, error) {
	results, err := s.search(ctx, CollectionFeedback, q)
	if err != nil {
		return nil, err
	}
	return fn.Map(results, decodeFeedbackPrompt), nil
}

// TrainingExamples retrieves labelled utterances relevant to the query text.
func (s *Service) TrainingExamples(ctx context.Context, q Query) ([]domain.TrainingExample, error) {
	results, err := s.search(ctx, CollectionTraining, q)
	if err != nil {
		return nil, err
	}
	return fn.Map(results, decodeTrainingExample), nil
}

// Hit is the cross-collection view returned by MultiCollectionSearch: the
// record's primary text plus its score, without per-domain fields.
type Hit struct {
	ID     string  `json:"id"`
	Text   string  `json:"text"`
	Domain string  `json:"domain,omitempty"`
	Score  float32 `json:"score"`
}

// MultiCollectionSearch fans one query out across several collections and
// returns a map keyed by collection name. A collection whose search fails
// contributes an empty slice rather than failing the whole call.
func (s *Service) MultiCollectionSearch(ctx context.Context, text string, collections []string, limitPer int, threshold float32) (map[string][]Hit, error) {
	out := make(map[string][]Hit, len(collections))
	if len(collections) == 0 {
		return out, nil
	}

	vector, err := s.embed.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("retrieval: embed query: %w", err)
	}

	perCollection := fn.ParMap(collections, len(collections), func(collection string) []Hit {
		results, err := s.searchVector(ctx, collection, vector, Query{Limit: limitPer, ScoreThreshold: threshold})
		if err != nil {
			s.logger.Warn("collection search failed, returning empty", "collection", collection, "err", err)
			return []Hit{}
		}
		return fn.Map(results, decodeHit)
	})

	for i, collection := range collections {
		out[collection] = perCollection[i]
	}
	return out, nil
}

// search embeds the query text and runs one collection search.
func (s *Service) search(ctx context.Context, collection string, q Query) ([]vecstore.Result, error) {
	vector, err := s.embed.Embed(ctx, q.Text)
	if err != nil {
		return nil, fmt.Errorf("retrieval: embed query: %w", err)
	}
	return s.searchVector(ctx, collection, vector, q)
}

func (s *Service) searchVector(ctx context.Context, collection string, vector []float32, q Query) ([]vecstore.Result, error) {
	d := DefaultsFor(collection)
	limit := q.Limit
	if limit <= 0 {
		limit = d.Limit
	}
	threshold := q.ScoreThreshold
	switch {
	case threshold == 0:
		threshold = d.ScoreThreshold
	case threshold < 0:
		threshold = 0
	}

	sctx, cancel := context.WithTimeout(ctx, s.opts.SearchTimeout)
	defer cancel()

	results, err := s.store.Search(sctx, collection, vector, vecstore.SearchOpts{
		Limit:          limit,
		ScoreThreshold: threshold,
		Filter:         q.filter(),
	})
	if err != nil {
		return nil, fmt.Errorf("retrieval: search %s: %w", collection, err)
	}
	return results, nil
}
