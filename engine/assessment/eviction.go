package assessment

import (
	"context"
	"time"
)

// RunEviction sweeps idle sessions every SweepInterval until ctx is done.
// It blocks; run it on its own goroutine.
func (m *Manager) RunEviction(ctx context.Context) {
	ticker := time.NewTicker(m.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.evictIdle(ctx)
		}
	}
}

// evictIdle removes sessions whose last activity is older than IdleTimeout
// and returns how many were removed. Candidates found by the scan are
// re-checked under the key lock, since a client may answer between the scan
// and the removal.
func (m *Manager) evictIdle(ctx context.Context) int {
	cutoff := m.now().Add(-m.opts.IdleTimeout)

	var stale []string
	m.store.Range(func(clientID string, s Session) bool {
		if s.LastActivity.Before(cutoff) {
			stale = append(stale, clientID)
		}
		return true
	})

	evicted := 0
	for _, clientID := range stale {
		removed := false
		m.store.Update(clientID, func(s Session, ok bool) (Session, bool) {
			if !ok || !s.LastActivity.Before(cutoff) {
				return s, ok
			}
			removed = true
			return s, false
		})
		if removed {
			evicted++
			m.logger.Info("evicted idle session", "client_id", clientID)
			m.emit(ctx, SubjectEvicted, Event{ClientID: clientID, At: m.now()})
		}
	}
	return evicted
}
