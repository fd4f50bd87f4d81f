// Package main implements a lightweight support chat API for Solace.
// It embeds messages via Ollama, pulls grounding context from Qdrant, and
// streams replies as server-sent events.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/SolaceWell/solace-mvp/engine/domain"
	"github.com/SolaceWell/solace-mvp/engine/embed"
	"github.com/SolaceWell/solace-mvp/engine/retrieval"
	"github.com/SolaceWell/solace-mvp/engine/vecstore"
	"github.com/SolaceWell/solace-mvp/pkg/ollama"
	"github.com/SolaceWell/solace-mvp/pkg/problemnlp"
)

func envOr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

const systemPrompt = `You are Solace, a supportive mental wellbeing companion.
You are not a therapist and you never diagnose, prescribe, or give medical advice.
Listen first. Reflect what the user shared before offering anything.
When the provided context contains suggestions, draw on them; otherwise speak generally and say you have no specific suggestion.
Encourage talking to a mental health professional for anything persistent or severe.
Keep replies short and warm.`

// crisisText is sent instead of a model reply when the message contains
// acute-risk language. The model is never consulted on that path.
const crisisText = `It sounds like you might be going through something really serious right now. ` +
	`I'm not able to help with this, but you deserve immediate support from a real person. ` +
	`If you are in danger, please call your local emergency number. ` +
	`You can also reach the 988 Suicide & Crisis Lifeline by calling or texting 988, ` +
	`or text HOME to 741741 to reach the Crisis Text Line.`

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	ollamaURL := envOr("OLLAMA_URL", "http://localhost:11434")
	qdrantAddr := envOr("QDRANT_URL", "localhost:6334")
	embedModel := envOr("EMBED_MODEL", "all-minilm")
	chatModel := envOr("CHAT_MODEL", "llama3.2")
	port := envOr("PORT", "8090")

	// Connect Qdrant
	store, err := vecstore.New(qdrantAddr)
	if err != nil {
		logger.Error("qdrant connect failed", "err", err)
		os.Exit(1)
	}
	defer store.Close()

	// One Ollama client serves both embedding and chat.
	client := ollama.New(ollama.Options{BaseURL: ollamaURL, Model: embedModel, ChatModel: chatModel})
	generator := embed.New(client, embed.Options{}, logger)
	retriever := retrieval.New(generator, store, retrieval.DefaultOptions(), logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		handleChat(w, r, retriever, client, logger)
	})
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	srv := &http.Server{Addr: ":" + port, Handler: corsMiddleware(mux)}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("chat API starting", "port", port, "chat_model", chatModel)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(shutCtx)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(204)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type chatRequest struct {
	Message string `json:"message"`
}

// contextDoc is one grounding snippet sent to the client before the reply.
type contextDoc struct {
	ID    string  `json:"id"`
	Text  string  `json:"text"`
	Score float32 `json:"score"`
}

type chatContext struct {
	Category    string       `json:"category,omitempty"`
	Intent      string       `json:"intent,omitempty"`
	Suggestions []contextDoc `json:"suggestions"`
	Prompts     []contextDoc `json:"prompts"`
}

func handleChat(w http.ResponseWriter, r *http.Request, retriever *retrieval.Service, client *ollama.Client, logger *slog.Logger) {
	if r.Method != "POST" {
		http.Error(w, "method not allowed", 405)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Message) == "" {
		http.Error(w, `{"error":"message required"}`, 400)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", 500)
		return
	}

	// Crisis language short-circuits everything else, including the model.
	if domain.ContainsCrisisLanguage(req.Message) {
		logger.Warn("crisis language detected, sent resources")
		payload, _ := json.Marshal(map[string]string{"message": crisisText})
		fmt.Fprintf(w, "event: crisis\ndata: %s\n\n", payload)
		fmt.Fprintf(w, "event: done\ndata: {}\n\n")
		flusher.Flush()
		return
	}

	ctx := r.Context()

	// 1. Gather grounding context. A category match sharpens the retrieval
	// query the same way assessment completion does. Every lookup degrades
	// to empty; the chat still answers without context.
	cc := chatContext{Suggestions: []contextDoc{}, Prompts: []contextDoc{}}
	queryText := req.Message
	if match := problemnlp.ExtractBest(req.Message); match != nil {
		cc.Category = match.Category
		queryText = match.Category + " " + req.Message
	}

	if sugg, err := retriever.Suggestions(ctx, retrieval.Query{Text: queryText}); err != nil {
		logger.Warn("suggestion lookup failed", "err", err)
	} else {
		for _, s := range sugg {
			cc.Suggestions = append(cc.Suggestions, contextDoc{ID: s.ID, Text: s.Text, Score: s.Score})
		}
	}
	if prompts, err := retriever.FeedbackPrompts(ctx, retrieval.Query{Text: queryText}); err != nil {
		logger.Warn("feedback lookup failed", "err", err)
	} else {
		for _, p := range prompts {
			cc.Prompts = append(cc.Prompts, contextDoc{ID: p.ID, Text: p.Text, Score: p.Score})
		}
	}
	if examples, err := retriever.TrainingExamples(ctx, retrieval.Query{Text: req.Message}); err != nil {
		logger.Warn("intent lookup failed", "err", err)
	} else {
		cc.Intent = dominantIntent(examples)
	}

	// 2. Send the context as the first event
	contextJSON, _ := json.Marshal(cc)
	fmt.Fprintf(w, "event: context\ndata: %s\n\n", contextJSON)
	flusher.Flush()

	// 3. Stream the model reply
	tokens, err := client.ChatStream(ctx, []ollama.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: buildPrompt(cc, req.Message)},
	})
	if err != nil {
		logger.Error("chat stream failed", "err", err)
		fmt.Fprintf(w, "event: error\ndata: {\"error\":\"model unavailable\"}\n\n")
		flusher.Flush()
		return
	}

	for token := range tokens {
		tokenJSON, _ := json.Marshal(map[string]string{"token": token})
		fmt.Fprintf(w, "event: token\ndata: %s\n\n", tokenJSON)
		flusher.Flush()
	}

	fmt.Fprintf(w, "event: done\ndata: {}\n\n")
	flusher.Flush()
}

// buildPrompt folds the retrieved context into a single user turn.
func buildPrompt(cc chatContext, message string) string {
	var b strings.Builder

	if len(cc.Suggestions) > 0 {
		b.WriteString("Suggestions from the wellbeing library:\n")
		for i, s := range cc.Suggestions {
			fmt.Fprintf(&b, "[%d] %s\n", i+1, s.Text)
		}
		b.WriteString("\n")
	}
	if len(cc.Prompts) > 0 {
		b.WriteString("Check-in prompts that may fit:\n")
		for i, p := range cc.Prompts {
			fmt.Fprintf(&b, "[%d] %s\n", i+1, p.Text)
		}
		b.WriteString("\n")
	}
	if cc.Intent != "" {
		fmt.Fprintf(&b, "The user's message reads as: %s\n\n", cc.Intent)
	}

	fmt.Fprintf(&b, "User message: %s", message)
	return b.String()
}

// dominantIntent picks the label with the highest summed similarity across
// the retrieved examples.
func dominantIntent(examples []domain.TrainingExample) string {
	totals := map[string]float32{}
	best, bestScore := "", float32(0)
	for _, ex := range examples {
		if ex.Intent == "" {
			continue
		}
		totals[ex.Intent] += ex.Score
		if totals[ex.Intent] > bestScore {
			best, bestScore = ex.Intent, totals[ex.Intent]
		}
	}
	return best
}
