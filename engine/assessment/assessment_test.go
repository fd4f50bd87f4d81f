package assessment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/SolaceWell/solace-mvp/engine/domain"
	"github.com/SolaceWell/solace-mvp/engine/retrieval"
)

// --- mocks ---

type mockRetriever struct {
	mu            sync.Mutex
	questions     []domain.Question
	questionErr   error
	questionCalls int
	questionQuery retrieval.Query
	suggestions   []domain.Suggestion
	suggestErr    error
	suggestQuery  retrieval.Query
}

func (m *mockRetriever) Questions(_ context.Context, q retrieval.Query) ([]domain.Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.questionCalls++
	m.questionQuery = q
	return m.questions, m.questionErr
}

func (m *mockRetriever) Suggestions(_ context.Context, q retrieval.Query) ([]domain.Suggestion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.suggestQuery = q
	return m.suggestions, m.suggestErr
}

type mockSink struct {
	mu       sync.Mutex
	subjects []string
}

func (m *mockSink) Publish(_ context.Context, subject string, _ Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subjects = append(m.subjects, subject)
}

func (m *mockSink) count(subject string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.subjects {
		if s == subject {
			n++
		}
	}
	return n
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// branchingPool mirrors the canonical flow: q1 names q2 as its next step,
// q2 shares a batch with q3, and q3 stands alone.
func branchingPool() []domain.Question {
	return []domain.Question{
		{ID: "q1", Text: "How would you rate your anxiety today?", ResponseType: domain.ResponseScale, NextStep: "q2", Score: 0.9},
		{ID: "q2", Text: "How well have you been sleeping?", ResponseType: domain.ResponseScale, BatchID: "b1", Score: 0.85},
		{ID: "q3", Text: "What tends to trigger these feelings?", ResponseType: domain.ResponseText, BatchID: "b1", Score: 0.8},
	}
}

func testManager(r Retriever) (*Manager, *fakeClock, *mockSink) {
	clock := &fakeClock{t: time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)}
	sink := &mockSink{}
	m := New(r, NewMapStore(), sink, Options{}, slog.Default())
	m.now = clock.Now
	return m, clock, sink
}

// --- tests ---

func TestFullFlow(t *testing.T) {
	r := &mockRetriever{
		questions: branchingPool(),
		suggestions: []domain.Suggestion{
			{ID: "s1", Text: "Try a wind-down routine an hour before bed."},
			{ID: "s2", Text: "Note one trigger each day this week."},
		},
	}
	m, clock, sink := testManager(r)
	ctx := context.Background()

	step, err := m.Start(ctx, "client-1", "anxiety and poor sleep", "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if step.Question == nil || step.Question.ID != "q1" {
		t.Fatalf("first question = %+v, want q1", step.Question)
	}
	if step.Progress.CurrentStep != 1 || step.Progress.TotalEstimated != 3 {
		t.Errorf("start progress = %+v", step.Progress)
	}

	clock.Advance(time.Minute)
	step, err = m.SubmitAnswer(ctx, "client-1", "q1", "8")
	if err != nil {
		t.Fatalf("SubmitAnswer q1: %v", err)
	}
	if step.Question.ID != "q2" {
		t.Fatalf("after q1 got %s, want q2 via next_step", step.Question.ID)
	}
	if step.Progress.Completed != 1 || step.Progress.CurrentStep != 2 {
		t.Errorf("progress after q1 = %+v", step.Progress)
	}

	clock.Advance(time.Minute)
	step, err = m.SubmitAnswer(ctx, "client-1", "q2", "4")
	if err != nil {
		t.Fatalf("SubmitAnswer q2: %v", err)
	}
	if step.Question.ID != "q3" {
		t.Fatalf("after q2 got %s, want q3 via shared batch", step.Question.ID)
	}

	clock.Advance(2 * time.Minute)
	step, err = m.SubmitAnswer(ctx, "client-1", "q3", "mostly work deadlines")
	if err != nil {
		t.Fatalf("SubmitAnswer q3: %v", err)
	}
	if step.Question != nil {
		t.Fatalf("expected completion, got question %s", step.Question.ID)
	}
	sum := step.Completion
	if sum == nil {
		t.Fatal("missing completion summary")
	}
	if sum.AverageScore != 6.0 {
		t.Errorf("average = %v, want 6.0 from scales 8 and 4", sum.AverageScore)
	}
	if !strings.Contains(sum.Analysis, "moderate") {
		t.Errorf("analysis = %q", sum.Analysis)
	}
	if len(sum.Insights) != 0 {
		t.Errorf("no pattern should fire here, got %v", sum.Insights)
	}
	if len(sum.Recommendations) != 2 || sum.Recommendations[0] != "Try a wind-down routine an hour before bed." {
		t.Errorf("recommendations = %v", sum.Recommendations)
	}
	if sum.QuestionsAsked != 3 || sum.DurationSeconds != 240 {
		t.Errorf("asked=%d duration=%v", sum.QuestionsAsked, sum.DurationSeconds)
	}

	if m.ActiveSessions() != 0 {
		t.Errorf("completed session should leave the store, %d remain", m.ActiveSessions())
	}
	if st := m.Status("client-1"); st.Active {
		t.Error("status should be inactive after completion")
	}

	if sink.count(SubjectStarted) != 1 || sink.count(SubjectAnswered) != 2 || sink.count(SubjectCompleted) != 1 {
		t.Errorf("event subjects = %v", sink.subjects)
	}
}

func TestStartQueryTuning(t *testing.T) {
	r := &mockRetriever{questions: branchingPool()}
	m, _, _ := testManager(r)

	if _, err := m.Start(context.Background(), "client-1", "anxiety", ""); err != nil {
		t.Fatalf("Start: %v", err)
	}
	q := r.questionQuery
	if q.Text != "anxiety" || q.Limit != 50 || q.ScoreThreshold != 0.3 {
		t.Errorf("pool query = %+v", q)
	}
}

func TestStartNoQuestions(t *testing.T) {
	r := &mockRetriever{}
	m, _, _ := testManager(r)

	_, err := m.Start(context.Background(), "client-1", "something very obscure", "")
	if !errors.Is(err, domain.ErrNoQuestions) {
		t.Fatalf("expected ErrNoQuestions, got %v", err)
	}
	var se *domain.SessionError
	if !errors.As(err, &se) || se.ClientID != "client-1" {
		t.Errorf("expected SessionError with client id, got %v", err)
	}
	if m.ActiveSessions() != 0 {
		t.Error("failed start must not leave a session")
	}
}

func TestStartRetrieverError(t *testing.T) {
	r := &mockRetriever{questionErr: errors.New("qdrant unreachable")}
	m, _, _ := testManager(r)

	_, err := m.Start(context.Background(), "client-1", "anxiety", "")
	if err == nil {
		t.Fatal("expected error")
	}
	if m.ActiveSessions() != 0 {
		t.Error("failed start must not leave a session")
	}
}

func TestStartValidation(t *testing.T) {
	r := &mockRetriever{questions: branchingPool()}
	m, _, _ := testManager(r)
	ctx := context.Background()

	if _, err := m.Start(ctx, "has spaces", "anxiety", ""); !errors.Is(err, domain.ErrInvalidClientID) {
		t.Errorf("expected ErrInvalidClientID, got %v", err)
	}
	if _, err := m.Start(ctx, "client-1", "ab", ""); !errors.Is(err, domain.ErrProblemTooShort) {
		t.Errorf("expected ErrProblemTooShort, got %v", err)
	}
	if r.questionCalls != 0 {
		t.Error("invalid input should not reach the retriever")
	}
}

func TestStartOverwritesSession(t *testing.T) {
	r := &mockRetriever{questions: branchingPool()}
	m, _, _ := testManager(r)
	ctx := context.Background()

	if _, err := m.Start(ctx, "client-1", "anxiety", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := m.SubmitAnswer(ctx, "client-1", "q1", "5"); err != nil {
		t.Fatal(err)
	}

	step, err := m.Start(ctx, "client-1", "sleep problems", "")
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if step.Question.ID != "q1" {
		t.Errorf("restart should begin again at q1, got %s", step.Question.ID)
	}
	if m.ActiveSessions() != 1 {
		t.Errorf("expected exactly one session, got %d", m.ActiveSessions())
	}

	// The old session's current question is gone with it.
	if _, err := m.SubmitAnswer(ctx, "client-1", "q2", "4"); !errors.Is(err, domain.ErrQuestionMismatch) {
		t.Errorf("stale question id should mismatch, got %v", err)
	}
	st := m.Status("client-1")
	if st.ProblemCategory != "sleep problems" || st.Progress.Completed != 0 {
		t.Errorf("status = %+v", st)
	}
}

func TestSubmitSessionNotFound(t *testing.T) {
	m, _, _ := testManager(&mockRetriever{})

	_, err := m.SubmitAnswer(context.Background(), "ghost", "q1", "5")
	if !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestSubmitQuestionMismatchLeavesSessionUntouched(t *testing.T) {
	r := &mockRetriever{questions: branchingPool()}
	m, _, _ := testManager(r)
	ctx := context.Background()

	if _, err := m.Start(ctx, "client-1", "anxiety", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := m.SubmitAnswer(ctx, "client-1", "q99", "5"); !errors.Is(err, domain.ErrQuestionMismatch) {
		t.Fatalf("expected ErrQuestionMismatch, got %v", err)
	}

	st := m.Status("client-1")
	if !st.Active || st.CurrentQuestion.ID != "q1" || st.Progress.Completed != 0 {
		t.Errorf("session should be untouched, status = %+v", st)
	}
}

func TestTotalEstimatedCapped(t *testing.T) {
	var pool []domain.Question
	for i := 0; i < 15; i++ {
		pool = append(pool, domain.Question{
			ID:    fmt.Sprintf("q%d", i),
			Text:  "placeholder",
			Score: float32(100-i) / 100,
		})
	}
	m, _, _ := testManager(&mockRetriever{questions: pool})

	step, err := m.Start(context.Background(), "client-1", "anxiety", "")
	if err != nil {
		t.Fatal(err)
	}
	if step.Progress.TotalEstimated != 10 {
		t.Errorf("total estimated = %d, want capped at 10", step.Progress.TotalEstimated)
	}
}

func TestCompletionNeutralScoreForTextOnly(t *testing.T) {
	pool := []domain.Question{
		{ID: "q1", Text: "What is on your mind?", ResponseType: domain.ResponseText, Score: 0.9},
	}
	m, _, _ := testManager(&mockRetriever{questions: pool})
	ctx := context.Background()

	if _, err := m.Start(ctx, "client-1", "feeling low lately", ""); err != nil {
		t.Fatal(err)
	}
	step, err := m.SubmitAnswer(ctx, "client-1", "q1", "hard to say, things pile up")
	if err != nil {
		t.Fatal(err)
	}
	sum := step.Completion
	if sum == nil {
		t.Fatal("expected completion")
	}
	if sum.AverageScore != 5.0 {
		t.Errorf("average = %v, want exactly 5.0 with no numeric answers", sum.AverageScore)
	}
	joined := strings.Join(sum.Insights, " ")
	if !strings.Contains(joined, "own words") {
		t.Errorf("expected the free-text insight, got %v", sum.Insights)
	}
}

func TestCompletionSuggestionFailureDegrades(t *testing.T) {
	pool := []domain.Question{
		{ID: "q1", Text: "Rate your week.", ResponseType: domain.ResponseScale, Score: 0.9},
	}
	m, _, _ := testManager(&mockRetriever{questions: pool, suggestErr: errors.New("vector store down")})
	ctx := context.Background()

	if _, err := m.Start(ctx, "client-1", "rough patch at work", ""); err != nil {
		t.Fatal(err)
	}
	step, err := m.SubmitAnswer(ctx, "client-1", "q1", "6")
	if err != nil {
		t.Fatalf("completion must not fail on suggestion errors: %v", err)
	}
	if step.Completion == nil {
		t.Fatal("expected completion")
	}
	if step.Completion.Recommendations == nil || len(step.Completion.Recommendations) != 0 {
		t.Errorf("recommendations = %#v, want empty list", step.Completion.Recommendations)
	}
	if m.ActiveSessions() != 0 {
		t.Error("session should still be removed")
	}
}

func TestCompletionQueryIncludesSubCategory(t *testing.T) {
	pool := []domain.Question{
		{ID: "q1", Text: "Rate your sleep.", ResponseType: domain.ResponseScale, Score: 0.9},
	}
	r := &mockRetriever{questions: pool}
	m, _, _ := testManager(r)
	ctx := context.Background()

	if _, err := m.Start(ctx, "client-1", "sleep trouble", "slp-2"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.SubmitAnswer(ctx, "client-1", "q1", "3"); err != nil {
		t.Fatal(err)
	}
	q := r.suggestQuery
	if q.Text != "sleep trouble slp-2" {
		t.Errorf("suggestion query text = %q", q.Text)
	}
	if q.Limit != 3 || q.ScoreThreshold != 0.4 {
		t.Errorf("suggestion tuning = %+v", q)
	}
}

func TestCancelIdempotent(t *testing.T) {
	r := &mockRetriever{questions: branchingPool()}
	m, _, sink := testManager(r)
	ctx := context.Background()

	if _, err := m.Start(ctx, "client-1", "anxiety", ""); err != nil {
		t.Fatal(err)
	}
	if !m.Cancel(ctx, "client-1") {
		t.Error("first cancel should report true")
	}
	if m.Cancel(ctx, "client-1") {
		t.Error("second cancel should report false")
	}
	if st := m.Status("client-1"); st.Active {
		t.Error("cancelled client should be inactive")
	}
	if sink.count(SubjectCancelled) != 1 {
		t.Errorf("cancelled events = %d, want 1", sink.count(SubjectCancelled))
	}
}

func TestStatusInactive(t *testing.T) {
	m, _, _ := testManager(&mockRetriever{})

	st := m.Status("nobody")
	if st.Active || st.ClientID != "nobody" {
		t.Errorf("status = %+v", st)
	}
	if st.CurrentQuestion != nil || st.Progress != nil || st.StartedAt != nil {
		t.Errorf("inactive status should carry no session fields: %+v", st)
	}
}

func TestEvictIdleSessions(t *testing.T) {
	r := &mockRetriever{questions: branchingPool()}
	m, clock, sink := testManager(r)
	ctx := context.Background()

	if _, err := m.Start(ctx, "old-client", "anxiety", ""); err != nil {
		t.Fatal(err)
	}
	clock.Advance(20 * time.Minute)
	if _, err := m.Start(ctx, "fresh-client", "stress", ""); err != nil {
		t.Fatal(err)
	}
	clock.Advance(15 * time.Minute)

	if n := m.evictIdle(ctx); n != 1 {
		t.Fatalf("evicted %d, want 1", n)
	}
	if m.Status("old-client").Active {
		t.Error("idle session should be gone")
	}
	if !m.Status("fresh-client").Active {
		t.Error("recently active session should survive")
	}
	if sink.count(SubjectEvicted) != 1 {
		t.Errorf("evicted events = %d, want 1", sink.count(SubjectEvicted))
	}
}

func TestEvictIdleSkipsRecentlyAnswered(t *testing.T) {
	r := &mockRetriever{questions: branchingPool()}
	m, clock, _ := testManager(r)
	ctx := context.Background()

	if _, err := m.Start(ctx, "client-1", "anxiety", ""); err != nil {
		t.Fatal(err)
	}
	clock.Advance(31 * time.Minute)
	// Answering resets the idle clock.
	if _, err := m.SubmitAnswer(ctx, "client-1", "q1", "5"); err != nil {
		t.Fatal(err)
	}
	if n := m.evictIdle(ctx); n != 0 {
		t.Errorf("evicted %d, want 0", n)
	}
}

func TestRunEvictionLoop(t *testing.T) {
	r := &mockRetriever{questions: branchingPool()}
	m := New(r, nil, nil, Options{SweepInterval: 5 * time.Millisecond, IdleTimeout: time.Millisecond}, slog.Default())

	if _, err := m.Start(context.Background(), "client-1", "anxiety", ""); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.RunEviction(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for m.ActiveSessions() > 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	cancel()
	<-done

	if m.ActiveSessions() != 0 {
		t.Fatal("background sweep never evicted the idle session")
	}
}

func TestConcurrentClientsIndependent(t *testing.T) {
	r := &mockRetriever{
		questions:   branchingPool(),
		suggestions: []domain.Suggestion{{ID: "s1", Text: "take a short walk"}},
	}
	m, _, _ := testManager(r)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("client-%d", i)
			if _, err := m.Start(ctx, id, "anxiety", ""); err != nil {
				errs <- err
				return
			}
			for _, qa := range [][2]string{{"q1", "5"}, {"q2", "6"}, {"q3", "free text"}} {
				if _, err := m.SubmitAnswer(ctx, id, qa[0], qa[1]); err != nil {
					errs <- fmt.Errorf("%s: %w", id, err)
					return
				}
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	if m.ActiveSessions() != 0 {
		t.Errorf("%d sessions left after completion", m.ActiveSessions())
	}
}
