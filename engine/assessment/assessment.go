// Package assessment owns per-client assessment sessions: it builds a
// question pool from semantic retrieval, walks the branching question flow
// answer by answer, and scores the session once the pool is exhausted.
// Sessions live only in memory; completing, cancelling, or idling out
// removes them.
package assessment

import (
	"context"
	"log/slog"
	"time"

	"github.com/SolaceWell/solace-mvp/engine/domain"
	"github.com/SolaceWell/solace-mvp/engine/retrieval"
	"github.com/SolaceWell/solace-mvp/pkg/fn"
)

// Retriever is the slice of the retrieval service the manager needs.
type Retriever interface {
	Questions(ctx context.Context, q retrieval.Query) ([]domain.Question, error)
	Suggestions(ctx context.Context, q retrieval.Query) ([]domain.Suggestion, error)
}

// Options tunes session behaviour. Zero fields fall back to defaults.
type Options struct {
	PoolLimit           int     // question search limit at session start
	PoolThreshold       float32 // question search threshold at session start, relaxed to favour recall
	MaxEstimated        int     // cap on progress.total_estimated
	SuggestionLimit     int
	SuggestionThreshold float32
	PatternRatio        float64       // share of scale answers that makes a band insight fire
	ShortSession        time.Duration // under this, the pacing insight calls the session quick
	LongSession         time.Duration // over this, the pacing insight calls it thorough
	IdleTimeout         time.Duration // sessions idle longer than this are evicted
	SweepInterval       time.Duration
}

// DefaultOptions returns the standard tuning.
func DefaultOptions() Options {
	return Options{
		PoolLimit:           50,
		PoolThreshold:       0.3,
		MaxEstimated:        10,
		SuggestionLimit:     3,
		SuggestionThreshold: 0.4,
		PatternRatio:        0.6,
		ShortSession:        3 * time.Minute,
		LongSession:         10 * time.Minute,
		IdleTimeout:         30 * time.Minute,
		SweepInterval:       5 * time.Minute,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.PoolLimit <= 0 {
		o.PoolLimit = d.PoolLimit
	}
	if o.PoolThreshold <= 0 {
		o.PoolThreshold = d.PoolThreshold
	}
	if o.MaxEstimated <= 0 {
		o.MaxEstimated = d.MaxEstimated
	}
	if o.SuggestionLimit <= 0 {
		o.SuggestionLimit = d.SuggestionLimit
	}
	if o.SuggestionThreshold <= 0 {
		o.SuggestionThreshold = d.SuggestionThreshold
	}
	if o.PatternRatio <= 0 {
		o.PatternRatio = d.PatternRatio
	}
	if o.ShortSession <= 0 {
		o.ShortSession = d.ShortSession
	}
	if o.LongSession <= 0 {
		o.LongSession = d.LongSession
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = d.IdleTimeout
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = d.SweepInterval
	}
	return o
}

// Manager drives assessment sessions. All methods are safe for concurrent
// use; operations on a single client serialize on the store's key lock.
type Manager struct {
	retriever Retriever
	store     SessionStore
	events    EventSink
	opts      Options
	logger    *slog.Logger

	now func() time.Time
}

// New creates a Manager. store defaults to an in-process MapStore and
// events may be nil when no event bus is wired.
func New(retriever Retriever, store SessionStore, events EventSink, opts Options, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if store == nil {
		store = NewMapStore()
	}
	return &Manager{
		retriever: retriever,
		store:     store,
		events:    events,
		opts:      opts.withDefaults(),
		logger:    logger,
		now:       time.Now,
	}
}

// Start creates a session for clientID anchored on a freshly retrieved
// question pool, silently replacing any session the client already had.
// The search text is the problem category; the threshold is relaxed so the
// pool favours recall over precision. An empty pool fails with
// domain.ErrNoQuestions and leaves no session behind.
func (m *Manager) Start(ctx context.Context, clientID, problemCategory, subCategoryID string) (*Step, error) {
	if err := domain.ValidateClientID(clientID); err != nil {
		return nil, err
	}
	if err := domain.ValidateProblemText(problemCategory); err != nil {
		return nil, err
	}

	pool, err := m.retriever.Questions(ctx, retrieval.Query{
		Text:           problemCategory,
		Limit:          m.opts.PoolLimit,
		ScoreThreshold: m.opts.PoolThreshold,
	})
	if err != nil {
		return nil, domain.NewSessionError(clientID, "start", err)
	}
	// Search can return the same question under several clusters.
	pool = fn.UniqueBy(pool, func(q domain.Question) string { return q.ID })
	if len(pool) == 0 {
		return nil, domain.NewSessionError(clientID, "start", domain.ErrNoQuestions)
	}

	now := m.now()
	first := firstQuestion(pool)
	s := Session{
		ClientID:        clientID,
		ProblemCategory: problemCategory,
		SubCategoryID:   subCategoryID,
		State:           StateInProgress,
		AllQuestions:    pool,
		Current:         first,
		Progress: Progress{
			CurrentStep:    1,
			TotalEstimated: min(len(pool), m.opts.MaxEstimated),
		},
		StartedAt:    now,
		LastActivity: now,
	}
	m.store.Put(clientID, s)

	m.logger.Info("assessment started",
		"client_id", clientID, "category", problemCategory,
		"pool", len(pool), "first_question", first.ID)
	m.emit(ctx, SubjectStarted, Event{ClientID: clientID, Category: problemCategory, At: now})

	q := first
	return &Step{Question: &q, Progress: s.Progress}, nil
}

// SubmitAnswer records an answer against the session's current question and
// advances the flow. questionID must match the current question; stale or
// out-of-order submissions fail with domain.ErrQuestionMismatch. When no
// next question remains the session completes: it leaves the store and the
// returned Step carries the summary instead of a question.
func (m *Manager) SubmitAnswer(ctx context.Context, clientID, questionID, answer string) (*Step, error) {
	now := m.now()
	var (
		next   domain.Question
		prog   Progress
		done   Session
		isDone bool
		opErr  error
	)
	m.store.Update(clientID, func(s Session, ok bool) (Session, bool) {
		if !ok {
			opErr = domain.NewSessionError(clientID, "submit", domain.ErrSessionNotFound)
			return s, false
		}
		if s.Current.ID != questionID {
			opErr = domain.NewSessionError(clientID, "submit", domain.ErrQuestionMismatch)
			return s, true
		}

		s.Responses = append(s.Responses, Response{
			QuestionID:   questionID,
			Answer:       answer,
			ResponseType: s.Current.ResponseType,
			AnsweredAt:   now,
		})
		s.Answered = append(s.Answered, s.Current)
		s.Progress.Completed++
		s.LastActivity = now

		q, found := nextQuestion(s.Current, s.AllQuestions, answeredSet(s.Answered))
		if !found {
			s.State = StateCompleted
			done, isDone = s, true
			return s, false
		}
		s.Current = q
		s.Progress.CurrentStep++
		next, prog = q, s.Progress
		return s, true
	})
	if opErr != nil {
		return nil, opErr
	}

	if isDone {
		summary := m.complete(ctx, done, now)
		m.logger.Info("assessment completed",
			"client_id", clientID, "questions", summary.QuestionsAsked,
			"score", summary.AverageScore, "recommendations", len(summary.Recommendations))
		m.emit(ctx, SubjectCompleted, Event{
			ClientID: clientID, Category: done.ProblemCategory,
			Score: summary.AverageScore, At: now,
		})
		return &Step{Progress: done.Progress, Completion: summary}, nil
	}

	m.emit(ctx, SubjectAnswered, Event{
		ClientID: clientID, Question: questionID, Step: prog.CurrentStep, At: now,
	})
	q := next
	return &Step{Question: &q, Progress: prog}, nil
}

// complete scores the finished session and fetches recommendations. The
// session has already left the store, so the retrieval round trip happens
// outside any lock. A failed suggestion lookup degrades to an empty
// recommendation list rather than failing the assessment.
func (m *Manager) complete(ctx context.Context, s Session, at time.Time) *Summary {
	scales := scaleAnswers(s.Responses)
	duration := at.Sub(s.StartedAt)

	summary := &Summary{
		ClientID:        s.ClientID,
		ProblemCategory: s.ProblemCategory,
		AverageScore:    averageScore(scales),
		Insights:        insightsFor(scales, len(s.Responses), duration, m.opts),
		Recommendations: []string{},
		QuestionsAsked:  len(s.Answered),
		DurationSeconds: duration.Seconds(),
		CompletedAt:     at,
	}
	summary.Analysis = analysisFor(summary.AverageScore)

	query := s.ProblemCategory
	if s.SubCategoryID != "" {
		query += " " + s.SubCategoryID
	}
	suggestions, err := m.retriever.Suggestions(ctx, retrieval.Query{
		Text:           query,
		Limit:          m.opts.SuggestionLimit,
		ScoreThreshold: m.opts.SuggestionThreshold,
	})
	if err != nil {
		m.logger.Warn("suggestion lookup failed, completing without recommendations",
			"client_id", s.ClientID, "err", err)
		return summary
	}
	for _, sg := range suggestions {
		summary.Recommendations = append(summary.Recommendations, sg.Text)
	}
	return summary
}

// Status reports the client's session snapshot. It never errors: a client
// with no session gets an explicit inactive status.
func (m *Manager) Status(clientID string) Status {
	s, ok := m.store.Get(clientID)
	if !ok {
		return Status{ClientID: clientID, Active: false}
	}
	q := s.Current
	prog := s.Progress
	started := s.StartedAt
	last := s.LastActivity
	return Status{
		ClientID:        clientID,
		Active:          true,
		State:           s.State,
		ProblemCategory: s.ProblemCategory,
		CurrentQuestion: &q,
		Progress:        &prog,
		StartedAt:       &started,
		LastActivity:    &last,
	}
}

// Cancel removes the client's session if one exists and reports whether it
// did. Cancelling twice is safe; the second call returns false.
func (m *Manager) Cancel(ctx context.Context, clientID string) bool {
	existed := m.store.Delete(clientID)
	if existed {
		m.logger.Info("assessment cancelled", "client_id", clientID)
		m.emit(ctx, SubjectCancelled, Event{ClientID: clientID, At: m.now()})
	}
	return existed
}

// ActiveSessions returns how many sessions are currently in the store.
func (m *Manager) ActiveSessions() int {
	return m.store.Len()
}

func (m *Manager) emit(ctx context.Context, subject string, ev Event) {
	if m.events == nil {
		return
	}
	m.events.Publish(ctx, subject, ev)
}
