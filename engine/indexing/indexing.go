// Package indexing provides the seeding pipeline that loads assessment
// content into the vector store through validation, tagging, embedding, and
// upsert stages.
package indexing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/SolaceWell/solace-mvp/engine/domain"
	"github.com/SolaceWell/solace-mvp/engine/retrieval"
	"github.com/SolaceWell/solace-mvp/engine/vecstore"
	"github.com/SolaceWell/solace-mvp/pkg/fn"
	"github.com/SolaceWell/solace-mvp/pkg/metrics"
	"github.com/SolaceWell/solace-mvp/pkg/problemnlp"
	"github.com/SolaceWell/solace-mvp/pkg/resilience"
)

const (
	// Subject is the NATS subject for incoming seed batches.
	Subject = "solace.index"
	// DLQSubject is the dead letter queue subject for batches that keep failing.
	DLQSubject = "solace.index.dlq"
	// Queue is the queue group name, so multiple indexers share the subject.
	Queue = "indexer"
	// MaxRetries before a batch is sent to the DLQ.
	MaxRetries = 3
)

// Batch validation sentinels.
var (
	ErrUnknownCollection = errors.New("unknown collection")
	ErrEmptyBatch        = errors.New("batch has no records")
	ErrEmptyText         = errors.New("record has no text")
)

// Embedder produces one vector per text, in input order.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Upserter writes vector records into a collection.
type Upserter interface {
	Upsert(ctx context.Context, collection string, records []vecstore.Record) error
}

// Deps holds the external dependencies for the indexing pipeline. Breaker
// and Metrics are optional.
type Deps struct {
	Embedder Embedder
	Store    Upserter
	Breaker  *resilience.Breaker
	Metrics  *metrics.Registry
	Logger   *slog.Logger
}

// --- Pipeline Stages ---

// Validate rejects batches for unknown collections, empty batches, and
// records with blank text.
var Validate fn.Stage[Batch, Batch] = func(_ context.Context, b Batch) fn.Result[Batch] {
	if _, ok := idKeys[b.Collection]; !ok {
		return fn.Err[Batch](domain.NewValidationError("collection", b.Collection, ErrUnknownCollection))
	}
	if len(b.Records) == 0 {
		return fn.Err[Batch](domain.NewValidationError("records", b.Collection, ErrEmptyBatch))
	}
	for i, rec := range b.Records {
		if strings.TrimSpace(rec.Text) == "" {
			return fn.Err[Batch](domain.NewValidationError("text", fmt.Sprintf("record %d", i), ErrEmptyText))
		}
	}
	return fn.Ok(b)
}

// Tag fills in a category for problem seeds that arrived without one, using
// the lexicon extractor on the record text. Other collections pass through.
var Tag fn.Stage[Batch, Batch] = func(_ context.Context, b Batch) fn.Result[Batch] {
	if b.Collection != retrieval.CollectionProblems {
		return fn.Ok(b)
	}
	for i, rec := range b.Records {
		if c, ok := rec.Payload["category"].(string); ok && c != "" {
			continue
		}
		m := problemnlp.ExtractBest(rec.Text)
		if m == nil {
			continue
		}
		if b.Records[i].Payload == nil {
			b.Records[i].Payload = make(map[string]any)
		}
		b.Records[i].Payload["category"] = m.Category
	}
	return fn.Ok(b)
}

// NewEmbed creates the stage that embeds every record text in one batch
// call. Validate has already rejected blank texts, so a hole in the returned
// vectors is a hard error.
func NewEmbed(e Embedder) fn.Stage[Batch, EmbeddedBatch] {
	return func(ctx context.Context, b Batch) fn.Result[EmbeddedBatch] {
		texts := fn.Map(b.Records, func(r SeedRecord) string { return r.Text })
		vecs, err := e.EmbedBatch(ctx, texts)
		if err != nil {
			return fn.Err[EmbeddedBatch](fmt.Errorf("embed batch: %w", err))
		}
		if len(vecs) != len(b.Records) {
			return fn.Err[EmbeddedBatch](fmt.Errorf("embed batch: %d vectors for %d records", len(vecs), len(b.Records)))
		}
		for i, v := range vecs {
			if v == nil {
				return fn.Err[EmbeddedBatch](fmt.Errorf("embed batch: no vector for record %d", i))
			}
		}
		return fn.Ok(EmbeddedBatch{Batch: b, Vectors: vecs})
	}
}

// NewStore creates the stage that upserts an embedded batch. The stored
// payload always carries the record text under the collection's text key and
// the logical id under its id key, so the retriever can decode hits without
// knowing where they came from. Returns the number of points written.
func NewStore(up Upserter) fn.Stage[EmbeddedBatch, int] {
	return func(ctx context.Context, b EmbeddedBatch) fn.Result[int] {
		records := make([]vecstore.Record, len(b.Records))
		for i, rec := range b.Records {
			payload := make(map[string]any, len(rec.Payload)+2)
			for k, v := range rec.Payload {
				payload[k] = v
			}
			payload[TextKey(b.Collection)] = rec.Text
			if rec.ID != "" {
				payload[idKeys[b.Collection]] = rec.ID
			}
			records[i] = vecstore.Record{
				ID:      PointID(b.Collection, rec),
				Vector:  b.Vectors[i],
				Payload: payload,
			}
		}
		if err := up.Upsert(ctx, b.Collection, records); err != nil {
			return fn.Err[int](fmt.Errorf("vector upsert: %w", err))
		}
		return fn.Ok(len(records))
	}
}

// instrument wraps a stage with an OTel span, duration logging, and outcome
// counters labelled by stage name.
func instrument[In, Out any](name string, s fn.Stage[In, Out], log *slog.Logger, reg *metrics.Registry) fn.Stage[In, Out] {
	timed := func(ctx context.Context, in In) fn.Result[Out] {
		start := time.Now()
		result := s(ctx, in)
		if result.IsErr() {
			_, err := result.Unwrap()
			log.Warn("indexing: stage failed", "stage", name, "duration", time.Since(start), "error", err)
			if reg != nil {
				reg.Counter(metrics.WithLabels("indexing_stage_errors_total", "stage", name), "Failed stage runs by stage.").Inc()
			}
			return result
		}
		log.Debug("indexing: stage done", "stage", name, "duration", time.Since(start))
		if reg != nil {
			reg.Counter(metrics.WithLabels("indexing_stage_total", "stage", name), "Completed stage runs by stage.").Inc()
		}
		return result
	}
	return fn.TracedStage("indexing."+name, timed)
}

// NewPipeline constructs the full seeding pipeline with all stages wired.
// When a breaker is configured it guards the embed stage, which is the only
// one that calls the model server.
func NewPipeline(deps Deps) fn.Stage[Batch, int] {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}

	embed := NewEmbed(deps.Embedder)
	if deps.Breaker != nil {
		embed = resilience.BreakerStage(deps.Breaker, embed)
	}

	// Compose: Validate → Tag → Embed → Store.
	validated := instrument("validate", Validate, log, deps.Metrics)
	tagged := fn.Then(validated, instrument("tag", Tag, log, deps.Metrics))
	embedded := fn.Then(tagged, instrument("embed", embed, log, deps.Metrics))
	stored := fn.Then(embedded, instrument("store", NewStore(deps.Store), log, deps.Metrics))

	return stored
}
