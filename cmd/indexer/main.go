// Command indexer watches a directory for seed JSON files and runs them
// through the indexing pipeline into Qdrant. With -nats set it also consumes
// live index batches from the bus.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/SolaceWell/solace-mvp/engine/embed"
	"github.com/SolaceWell/solace-mvp/engine/indexing"
	"github.com/SolaceWell/solace-mvp/engine/retrieval"
	"github.com/SolaceWell/solace-mvp/engine/vecstore"
	"github.com/SolaceWell/solace-mvp/pkg/fn"
	"github.com/SolaceWell/solace-mvp/pkg/metrics"
	"github.com/SolaceWell/solace-mvp/pkg/ollama"
	"github.com/SolaceWell/solace-mvp/pkg/resilience"
	"github.com/nats-io/nats.go"
)

var met = metrics.New()

// Indexer metrics
var (
	mBatchesTotal   = func(collection string) *metrics.Counter { return met.Counter(metrics.WithLabels("solace_index_batches_total", "collection", collection), "Batches stored per collection") }
	mRecordsTotal   = func(collection string) *metrics.Counter { return met.Counter(metrics.WithLabels("solace_index_records_total", "collection", collection), "Records stored per collection") }
	mErrorsTotal    = func(stage string) *metrics.Counter { return met.Counter(metrics.WithLabels("solace_index_errors_total", "stage", stage), "Total indexing errors") }
	mFilesProcessed = met.Counter("solace_index_files_processed_total", "Seed files processed")
	mBytesProcessed = met.Counter("solace_index_bytes_processed_total", "Total bytes of seed files processed")
	mLastScan       = met.Gauge("solace_index_last_scan_timestamp", "Epoch of last directory scan")
	mQueueDepth     = met.Gauge("solace_index_queue_depth", "Files waiting to process")
	mPipelineDur    = met.Histogram("solace_index_pipeline_duration_seconds", "Per-batch pipeline time", nil)
	mBatchSize      = met.Histogram("solace_index_batch_size", "Records per batch", []float64{1, 5, 10, 25, 50, 100, 250, 500})
)

func main() {
	var (
		seedDir    = flag.String("dir", "/tmp/solace-seeds", "directory to watch for seed JSON files")
		ollamaURL  = flag.String("ollama", "http://localhost:11434", "Ollama base URL")
		model      = flag.String("model", "all-minilm", "Ollama embedding model")
		qdrantAddr = flag.String("qdrant", "localhost:6334", "Qdrant gRPC address")
		natsURL    = flag.String("nats", "", "NATS URL for live index batches (empty disables)")
		interval   = flag.Duration("interval", 30*time.Second, "scan interval")
		stateFile  = flag.String("state", "/tmp/solace-seeds/.index-state.json", "processed files state")
	)
	flag.Parse()

	// Start metrics server with runtime collection
	met.CollectRuntime("solace_index", 15*time.Second)
	met.ServeAsync(9091)

	log := slog.Default()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// Connect Qdrant
	store, err := vecstore.New(*qdrantAddr)
	if err != nil {
		log.Error("qdrant connect failed", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// Ollama embedder. The collection dimension comes from probing the model,
	// so a wrong -model flag fails here instead of at first upsert.
	generator := embed.New(ollama.New(ollama.Options{BaseURL: *ollamaURL, Model: *model}), embed.Options{}, log)
	dimCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	dim, err := generator.Dimension(dimCtx)
	cancel()
	if err != nil {
		log.Error("model probe failed", "model", *model, "error", err)
		os.Exit(1)
	}
	if err := store.EnsureCollections(ctx, dim, retrieval.Collections()...); err != nil {
		log.Error("qdrant ensure collections failed", "error", err)
		os.Exit(1)
	}
	log.Info("connected to Qdrant", "collections", len(retrieval.Collections()), "dims", dim)

	deps := indexing.Deps{
		Embedder: generator,
		Store:    store,
		Breaker:  resilience.NewBreaker(resilience.DefaultBreakerOpts),
		Metrics:  met,
		Logger:   log,
	}
	pipeline := indexing.NewPipeline(deps)

	// Optional live consumer
	if *natsURL != "" {
		nc, err := nats.Connect(*natsURL)
		if err != nil {
			log.Error("nats connect failed", "error", err)
			os.Exit(1)
		}
		defer nc.Close()
		sub, err := indexing.StartConsumer(nc, deps)
		if err != nil {
			log.Error("nats subscribe failed", "error", err)
			os.Exit(1)
		}
		defer sub.Drain()
		log.Info("consuming index batches", "subject", indexing.Subject, "queue", indexing.Queue)
	}

	// Load state
	processed := loadState(*stateFile)

	// Ensure seed dir
	os.MkdirAll(*seedDir, 0o755)

	log.Info("watching for seed data", "dir", *seedDir, "interval", *interval)

	scan := func() {
		mLastScan.Set(time.Now().Unix())
		entries, err := os.ReadDir(*seedDir)
		if err != nil {
			mErrorsTotal("scan").Inc()
			log.Error("readdir failed", "error", err)
			return
		}

		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") || e.Name()[0] == '.' {
				continue
			}
			path := filepath.Join(*seedDir, e.Name())
			info, _ := e.Info()
			key := fmt.Sprintf("%s:%d", e.Name(), info.Size())

			if processed[key] {
				continue
			}

			mQueueDepth.Inc()
			log.Info("processing file", "file", e.Name())
			mBytesProcessed.Add(info.Size())
			count, errs := processFile(ctx, path, pipeline)
			mQueueDepth.Dec()
			log.Info("file done", "file", e.Name(), "stored", count, "errors", errs)
			mFilesProcessed.Inc()

			// Only mark as fully processed if no errors (allows retry on next scan)
			if errs == 0 {
				processed[key] = true
				saveState(*stateFile, processed)
			} else {
				log.Warn("file had errors, will retry on next scan", "file", e.Name(), "errors", errs)
			}
		}
	}

	// Initial scan
	scan()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down")
			return
		case <-ticker.C:
			scan()
		}
	}
}

// readBatches accepts either one JSON array of batches or a stream of batch
// objects, which is what the seed exporter writes.
func readBatches(data []byte) []indexing.Batch {
	var batches []indexing.Batch
	if err := json.Unmarshal(data, &batches); err == nil {
		return batches
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	for {
		var b indexing.Batch
		if err := dec.Decode(&b); err != nil {
			break
		}
		if b.Collection != "" {
			batches = append(batches, b)
		}
	}
	return batches
}

func processFile(ctx context.Context, path string, pipeline fn.Stage[indexing.Batch, int]) (int, int) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, 1
	}

	stored, errs := 0, 0
	log := slog.Default()
	for _, b := range readBatches(data) {
		if ctx.Err() != nil {
			break
		}
		mBatchSize.Observe(float64(len(b.Records)))
		start := time.Now()
		result := pipeline(ctx, b)
		mPipelineDur.Since(start)
		if result.IsErr() {
			_, err := result.Unwrap()
			log.Error("pipeline error", "collection", b.Collection, "error", err)
			mErrorsTotal("pipeline").Inc()
			errs++
			continue
		}
		count, _ := result.Unwrap()
		mBatchesTotal(b.Collection).Inc()
		mRecordsTotal(b.Collection).Add(int64(count))
		stored += count
	}
	return stored, errs
}

func loadState(path string) map[string]bool {
	m := make(map[string]bool)
	data, err := os.ReadFile(path)
	if err != nil {
		return m
	}
	json.Unmarshal(data, &m)
	return m
}

func saveState(path string, m map[string]bool) {
	data, _ := json.Marshal(m)
	os.WriteFile(path, data, 0o644)
}
