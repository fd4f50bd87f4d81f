// Package embed turns text into vectors through a pooled embedding model
// client, with the normalization the engine applies to every string it
// embeds or indexes.
package embed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/SolaceWell/solace-mvp/engine/domain"
	"github.com/SolaceWell/solace-mvp/pkg/fn"
)

// ModelClient produces raw embeddings for batches of already-cleaned text.
// *ollama.Client satisfies it.
type ModelClient interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Options configures a Generator.
type Options struct {
	// Workers bounds concurrent model calls.
	Workers int
	// Timeout bounds a single model call.
	Timeout time.Duration
	// BatchSize is the maximum texts sent to the model per call.
	BatchSize int
}

// DefaultOptions returns the standard generator settings.
func DefaultOptions() Options {
	return Options{
		Workers:   4,
		Timeout:   15 * time.Second,
		BatchSize: 100,
	}
}

// probeText is embedded once to learn the model's output dimension and warm
// the model.
const probeText = "hello"

// Generator embeds text through a shared worker pool. The model is loaded
// lazily on first use; a failed load is retried on the next call.
type Generator struct {
	model  ModelClient
	opts   Options
	logger *slog.Logger
	sem    chan struct{}

	mu  sync.Mutex
	dim int // 0 until the probe succeeds
}

// New creates a Generator. Zero option fields fall back to DefaultOptions.
func New(model ModelClient, opts Options, logger *slog.Logger) *Generator {
	def := DefaultOptions()
	if opts.Workers <= 0 {
		opts.Workers = def.Workers
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = def.BatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		model:  model,
		opts:   opts,
		logger: logger,
		sem:    make(chan struct{}, opts.Workers),
	}
}

// Preprocess normalizes text the way the engine stores and embeds it:
// lowercased, trimmed, inner whitespace runs collapsed to single spaces.
func Preprocess(text string) string {
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}

// Dimension returns the model's embedding width, probing the model on first
// call.
func (g *Generator) Dimension(ctx context.Context) (int, error) {
	return g.ensureLoaded(ctx)
}

// Loaded reports whether the model probe has succeeded, without triggering
// a load.
func (g *Generator) Loaded() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dim > 0
}

// ensureLoaded probes the model once. Concurrent first calls serialize on
// the mutex; whichever probe succeeds first settles the dimension.
func (g *Generator) ensureLoaded(ctx context.Context) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.dim > 0 {
		return g.dim, nil
	}

	cctx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()
	vecs, err := g.model.EmbedBatch(cctx, []string{probeText})
	if err != nil {
		return 0, fmt.Errorf("embed: model load: %w: %w", domain.ErrEmbedding, err)
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return 0, fmt.Errorf("embed: model load: empty probe vector: %w", domain.ErrEmbedding)
	}

	g.dim = len(vecs[0])
	g.logger.Info("embedding model loaded", "dimension", g.dim)
	return g.dim, nil
}

func (g *Generator) acquire(ctx context.Context) error {
	select {
	case g.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Embed returns the vector for one text. Text that is empty after
// preprocessing cannot be embedded.
func (g *Generator) Embed(ctx context.Context, text string) ([]float32, error) {
	clean := Preprocess(text)
	if clean == "" {
		return nil, fmt.Errorf("embed: text empty after preprocessing: %w", domain.ErrEmbedding)
	}
	if _, err := g.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	if err := g.acquire(ctx); err != nil {
		return nil, err
	}
	defer func() { <-g.sem }()

	cctx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()
	vecs, err := g.model.EmbedBatch(cctx, []string{clean})
	if err != nil {
		return nil, fmt.Errorf("embed: %w: %w", domain.ErrEmbedding, err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embed: model returned %d vectors for one text: %w", len(vecs), domain.ErrEmbedding)
	}
	return vecs[0], nil
}

// EmbedBatch returns one vector per input, in input order. Inputs that are
// empty after preprocessing keep a nil slot so positions stay aligned with
// the caller's records. Any model failure fails the whole batch.
func (g *Generator) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))
	var positions []int
	var clean []string
	for i, t := range texts {
		c := Preprocess(t)
		if c == "" {
			continue
		}
		positions = append(positions, i)
		clean = append(clean, c)
	}
	if len(clean) == 0 {
		return out, nil
	}

	if _, err := g.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	chunks := fn.Chunk(clean, g.opts.BatchSize)
	results := fn.ParMapResult(chunks, g.opts.Workers, func(chunk []string) fn.Result[[][]float32] {
		if err := g.acquire(ctx); err != nil {
			return fn.Err[[][]float32](err)
		}
		defer func() { <-g.sem }()

		cctx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
		defer cancel()
		return fn.FromPair(g.model.EmbedBatch(cctx, chunk))
	})

	collected, err := fn.Collect(results).Unwrap()
	if err != nil {
		return nil, fmt.Errorf("embed batch: %w: %w", domain.ErrEmbedding, err)
	}

	flat := fn.FlatMap(collected, func(v [][]float32) [][]float32 { return v })
	if len(flat) != len(clean) {
		return nil, fmt.Errorf("embed batch: model returned %d vectors for %d texts: %w", len(flat), len(clean), domain.ErrEmbedding)
	}
	for j, i := range positions {
		out[i] = flat[j]
	}
	return out, nil
}
