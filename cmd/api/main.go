// Package main implements the Solace assessment API server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/SolaceWell/solace-mvp/engine/assessment"
	"github.com/SolaceWell/solace-mvp/engine/domain"
	"github.com/SolaceWell/solace-mvp/engine/embed"
	"github.com/SolaceWell/solace-mvp/engine/retrieval"
	"github.com/SolaceWell/solace-mvp/engine/vecstore"
	"github.com/SolaceWell/solace-mvp/pkg/fn"
	"github.com/SolaceWell/solace-mvp/pkg/metrics"
	"github.com/SolaceWell/solace-mvp/pkg/mid"
	"github.com/SolaceWell/solace-mvp/pkg/ollama"
	"github.com/SolaceWell/solace-mvp/pkg/resilience"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
)

// Config holds all environment-based configuration.
type Config struct {
	Port       string
	OllamaURL  string
	EmbedModel string
	QdrantURL  string
	NATSURL    string
	CORSOrigin string
	RateRPS    float64
	RateBurst  int
}

func loadConfig() Config {
	return Config{
		Port:       envOr("PORT", "8080"),
		OllamaURL:  envOr("OLLAMA_URL", "http://localhost:11434"),
		EmbedModel: envOr("EMBED_MODEL", "all-minilm"),
		QdrantURL:  envOr("QDRANT_URL", "localhost:6334"),
		NATSURL:    envOr("NATS_URL", ""),
		CORSOrigin: envOr("CORS_ORIGIN", "*"),
		RateRPS:    envFloat("RATE_RPS", 20),
		RateBurst:  envInt("RATE_BURST", 40),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := loadConfig()

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Model server client, breaker-guarded ---
	model := ollama.New(ollama.Options{BaseURL: cfg.OllamaURL, Model: cfg.EmbedModel})
	breaker := resilience.NewBreaker(resilience.DefaultBreakerOpts)
	generator := embed.New(&guardedModel{client: model, breaker: breaker}, embed.Options{}, logger)

	// --- Connect to Qdrant ---
	store, err := vecstore.New(cfg.QdrantURL)
	if err != nil {
		return fmt.Errorf("qdrant connect: %w", err)
	}
	defer store.Close()

	// Collections are created lazily if the model is still cold here; the
	// indexer ensures them too, so a failure only delays readiness.
	ensureCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	if dim, err := generator.Dimension(ensureCtx); err != nil {
		logger.Warn("model probe failed at startup, continuing cold", "err", err)
	} else if err := store.EnsureCollections(ensureCtx, dim, retrieval.Collections()...); err != nil {
		logger.Warn("ensure collections failed", "err", err)
	}
	cancel()

	// --- Retrieval and assessment services ---
	retriever := retrieval.New(generator, store, retrieval.DefaultOptions(), logger)

	var events assessment.EventSink
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL)
		if err != nil {
			logger.Warn("nats connect failed, continuing without events", "err", err)
		} else {
			defer nc.Close()
			events = assessment.NewNATSSink(nc, logger)
		}
	}

	manager := assessment.New(retriever, nil, events, assessment.DefaultOptions(), logger)
	go manager.RunEviction(ctx)

	// --- Metrics ---
	reg := metrics.New()
	reg.CollectRuntime("solace_api", 15*time.Second)

	// --- Build HTTP server ---
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handleHealth(store, generator, manager))
	mux.Handle("GET /metrics", reg.Handler())

	mux.HandleFunc("POST /api/assessment/start", handleStart(manager, logger))
	mux.HandleFunc("POST /api/assessment/answer", handleAnswer(manager, logger))
	mux.HandleFunc("GET /api/assessment/status", handleStatus(manager))
	mux.HandleFunc("POST /api/assessment/cancel", handleCancel(manager))

	mux.HandleFunc("POST /api/search/problems", handleSearch(retriever.Problems, logger))
	mux.HandleFunc("POST /api/search/questions", handleSearch(retriever.Questions, logger))
	mux.HandleFunc("POST /api/search/suggestions", handleSearch(retriever.Suggestions, logger))
	mux.HandleFunc("POST /api/search/feedback", handleSearch(retriever.FeedbackPrompts, logger))
	mux.HandleFunc("POST /api/search/multi", handleMultiSearch(retriever, logger))

	limiter := resilience.NewLimiter(resilience.LimiterOpts{Rate: cfg.RateRPS, Burst: cfg.RateBurst})
	handler := mid.Chain(mux,
		mid.Recover(logger),
		mid.Logger(logger),
		mid.CORS(cfg.CORSOrigin),
		mid.OTel("solace-api"),
		mid.RateLimit(limiter),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// --- Graceful shutdown ---
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancelShut := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShut()
	return srv.Shutdown(shutCtx)
}

// --- Handlers ---

func handleHealth(store *vecstore.Store, gen *embed.Generator, mgr *assessment.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"status":          "ok",
			"model":           "cold",
			"active_sessions": mgr.ActiveSessions(),
		}
		if gen.Loaded() {
			resp["model"] = "loaded"
		}

		code := http.StatusOK
		if health, err := store.HealthCheck(r.Context()); err != nil {
			resp["status"] = "degraded"
			resp["vector_store"] = "unreachable"
			code = http.StatusServiceUnavailable
		} else {
			resp["vector_store"] = health.Version
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(resp)
	}
}

// StartRequest is the JSON body for POST /api/assessment/start.
type StartRequest struct {
	ClientID        string `json:"client_id"`
	ProblemCategory string `json:"problem_category"`
	SubCategoryID   string `json:"sub_category_id,omitempty"`
}

func handleStart(mgr *assessment.Manager, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req StartRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}

		step, err := mgr.Start(r.Context(), req.ClientID, req.ProblemCategory, req.SubCategoryID)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, step)
	}
}

// AnswerRequest is the JSON body for POST /api/assessment/answer.
type AnswerRequest struct {
	ClientID   string `json:"client_id"`
	QuestionID string `json:"question_id"`
	Answer     string `json:"answer"`
}

func handleAnswer(mgr *assessment.Manager, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AnswerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		if req.ClientID == "" || req.QuestionID == "" {
			http.Error(w, `{"error":"client_id and question_id are required"}`, http.StatusBadRequest)
			return
		}

		step, err := mgr.SubmitAnswer(r.Context(), req.ClientID, req.QuestionID, req.Answer)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, step)
	}
}

func handleStatus(mgr *assessment.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clientID := r.URL.Query().Get("client_id")
		if clientID == "" {
			http.Error(w, `{"error":"client_id is required"}`, http.StatusBadRequest)
			return
		}
		writeJSON(w, mgr.Status(clientID))
	}
}

// CancelRequest is the JSON body for POST /api/assessment/cancel.
type CancelRequest struct {
	ClientID string `json:"client_id"`
}

func handleCancel(mgr *assessment.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CancelRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		if req.ClientID == "" {
			http.Error(w, `{"error":"client_id is required"}`, http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]bool{"cancelled": mgr.Cancel(r.Context(), req.ClientID)})
	}
}

// SearchRequest is the JSON body for the POST /api/search endpoints.
type SearchRequest struct {
	Query          string  `json:"query"`
	Limit          int     `json:"limit,omitempty"`
	ScoreThreshold float32 `json:"score_threshold,omitempty"`
	Domain         string  `json:"domain,omitempty"`
	SubCategoryID  string  `json:"sub_category_id,omitempty"`
	Cluster        string  `json:"cluster,omitempty"`
	Stage          string  `json:"stage,omitempty"`
	Intent         string  `json:"intent,omitempty"`
}

// SearchResponse wraps one collection's hits.
type SearchResponse[T any] struct {
	Results []T `json:"results"`
	Count   int `json:"count"`
}

func handleSearch[T any](op func(context.Context, retrieval.Query) ([]T, error), logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SearchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		if strings.TrimSpace(req.Query) == "" {
			http.Error(w, `{"error":"query is required"}`, http.StatusBadRequest)
			return
		}

		results, err := op(r.Context(), retrieval.Query{
			Text:           req.Query,
			Limit:          req.Limit,
			ScoreThreshold: req.ScoreThreshold,
			Domain:         req.Domain,
			SubCategoryID:  req.SubCategoryID,
			Cluster:        req.Cluster,
			Stage:          req.Stage,
			Intent:         req.Intent,
		})
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, SearchResponse[T]{Results: results, Count: len(results)})
	}
}

// MultiSearchRequest is the JSON body for POST /api/search/multi. Empty
// collections means every collection.
type MultiSearchRequest struct {
	Query          string   `json:"query"`
	Collections    []string `json:"collections,omitempty"`
	LimitPer       int      `json:"limit_per_collection,omitempty"`
	ScoreThreshold float32  `json:"score_threshold,omitempty"`
}

func handleMultiSearch(svc *retrieval.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req MultiSearchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		if strings.TrimSpace(req.Query) == "" {
			http.Error(w, `{"error":"query is required"}`, http.StatusBadRequest)
			return
		}
		collections := req.Collections
		if len(collections) == 0 {
			collections = retrieval.Collections()
		}

		results, err := svc.MultiCollectionSearch(r.Context(), req.Query, collections, req.LimitPer, req.ScoreThreshold)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, map[string]any{"results": results})
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// writeError maps engine errors to HTTP statuses and a user-safe message.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := http.StatusInternalServerError
	var vErr *domain.ValidationError
	switch {
	case errors.As(err, &vErr):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNoQuestions), errors.Is(err, domain.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrQuestionMismatch):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrEmbedding), errors.Is(err, domain.ErrVectorUnavailable):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		logger.Error("request failed", "err", err)
	} else {
		logger.Warn("request rejected", "status", status, "err", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": domain.UserMessage(err)})
}

// --- Adapters ---

// guardedModel wraps the Ollama client with the circuit breaker, satisfying
// embed.ModelClient.
type guardedModel struct {
	client  *ollama.Client
	breaker *resilience.Breaker
}

func (g *guardedModel) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	result := resilience.CallResult(g.breaker, ctx, func(ctx context.Context) fn.Result[[][]float32] {
		return fn.FromPair(g.client.EmbedBatch(ctx, texts))
	})
	return result.Unwrap()
}
