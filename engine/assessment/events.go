package assessment

import (
	"context"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/SolaceWell/solace-mvp/pkg/natsutil"
)

// Subjects for session lifecycle events.
const (
	SubjectStarted   = "assessment.started"
	SubjectAnswered  = "assessment.answered"
	SubjectCompleted = "assessment.completed"
	SubjectCancelled = "assessment.cancelled"
	SubjectEvicted   = "assessment.evicted"
)

// Event is the payload published on the assessment.* subjects. Fields not
// relevant to a given subject stay zero.
type Event struct {
	ClientID string    `json:"client_id"`
	Category string    `json:"category,omitempty"`
	Question string    `json:"question_id,omitempty"`
	Step     int       `json:"step,omitempty"`
	Score    float64   `json:"score,omitempty"`
	At       time.Time `json:"at"`
}

// EventSink receives lifecycle events. Implementations must not block the
// session path; publishing is fire and forget.
type EventSink interface {
	Publish(ctx context.Context, subject string, ev Event)
}

// NATSSink publishes events to NATS. Publish failures are logged and the
// event is dropped; session handling never waits on the bus.
type NATSSink struct {
	nc     *nats.Conn
	logger *slog.Logger
}

// NewNATSSink wraps a NATS connection as an EventSink.
func NewNATSSink(nc *nats.Conn, logger *slog.Logger) *NATSSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSSink{nc: nc, logger: logger}
}

func (s *NATSSink) Publish(ctx context.Context, subject string, ev Event) {
	if err := natsutil.Publish(ctx, s.nc, subject, ev); err != nil {
		s.logger.Warn("event publish failed", "subject", subject, "client_id", ev.ClientID, "err", err)
	}
}
