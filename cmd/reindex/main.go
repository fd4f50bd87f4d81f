// Command reindex re-embeds every point in a collection in place. Run it
// after switching the embedding model or changing preprocessing; point ids
// are stable, so payloads and cross-references survive the rewrite.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"

	"github.com/SolaceWell/solace-mvp/engine/embed"
	"github.com/SolaceWell/solace-mvp/engine/indexing"
	"github.com/SolaceWell/solace-mvp/engine/retrieval"
	"github.com/SolaceWell/solace-mvp/engine/vecstore"
	"github.com/SolaceWell/solace-mvp/pkg/fn"
	"github.com/SolaceWell/solace-mvp/pkg/ollama"
	pb "github.com/qdrant/go-client/qdrant"
)

const pageSize = 100

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	qdrantAddr := envOr("QDRANT_URL", "localhost:6334")
	ollamaURL := envOr("OLLAMA_URL", "http://localhost:11434")
	model := envOr("EMBED_MODEL", "all-minilm")

	collections := retrieval.Collections()
	if v := envOr("COLLECTIONS", ""); v != "" {
		collections = strings.Split(v, ",")
	}

	store, err := vecstore.New(qdrantAddr)
	if err != nil {
		log.Fatalf("qdrant connect: %v", err)
	}
	defer store.Close()

	generator := embed.New(ollama.New(ollama.Options{BaseURL: ollamaURL, Model: model}), embed.Options{}, nil)
	dim, err := generator.Dimension(ctx)
	if err != nil {
		log.Fatalf("model probe: %v", err)
	}
	log.Printf("Re-embedding with %s (%d dims)", model, dim)

	// EnsureCollections leaves existing collections untouched; a model with
	// a new dimension needs the collection dropped first.
	if err := store.EnsureCollections(ctx, dim, collections...); err != nil {
		log.Fatalf("ensure collections: %v", err)
	}

	for _, col := range collections {
		col = strings.TrimSpace(col)
		reindexed, skipped, errs := reindexCollection(ctx, store, generator, col)
		log.Printf("%s done: %d reindexed, %d skipped, %d errors", col, reindexed, skipped, errs)
	}
}

func reindexCollection(ctx context.Context, store *vecstore.Store, gen *embed.Generator, collection string) (int, int, int) {
	textKey := indexing.TextKey(collection)
	var offset *pb.PointId
	var reindexed, skipped, errs, pages int

	for {
		if ctx.Err() != nil {
			log.Printf("%s interrupted", collection)
			return reindexed, skipped, errs
		}

		page, next, err := store.Scroll(ctx, collection, pageSize, offset)
		if err != nil {
			log.Printf("%s scroll: %v", collection, err)
			errs++
			return reindexed, skipped, errs
		}
		if len(page) == 0 {
			return reindexed, skipped, errs
		}
		pages++

		// Points without a stored text can't be re-embedded.
		var fresh []vecstore.Record
		var texts []string
		for _, rec := range page {
			text, _ := rec.Payload[textKey].(string)
			if text == "" {
				skipped++
				continue
			}
			fresh = append(fresh, rec)
			texts = append(texts, text)
		}

		if len(texts) > 0 {
			vecs, err := gen.EmbedBatch(ctx, texts)
			if err != nil {
				log.Printf("%s embed page %d: %v", collection, pages, err)
				errs += len(texts)
			} else {
				var updated []vecstore.Record
				for i, rec := range fresh {
					if vecs[i] == nil {
						errs++
						continue
					}
					rec.Vector = vecs[i]
					updated = append(updated, rec)
				}

				result := fn.Retry(ctx, fn.DefaultRetry, func(ctx context.Context) fn.Result[int] {
					return fn.FromPair(len(updated), store.Upsert(ctx, collection, updated))
				})
				if result.IsErr() {
					_, err := result.Unwrap()
					log.Printf("%s upsert page %d: %v", collection, pages, err)
					errs += len(updated)
				} else {
					reindexed += len(updated)
				}
			}
		}

		if pages%10 == 0 {
			log.Printf("%s progress: %d reindexed, %d skipped, %d errors", collection, reindexed, skipped, errs)
		}
		if next == nil {
			return reindexed, skipped, errs
		}
		offset = next
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
