package assessment

import "github.com/SolaceWell/solace-mvp/pkg/shardmap"

// SessionStore is the concurrency-safe session map keyed by client id.
// Update runs its function under the key's lock, which is how SubmitAnswer
// keeps the record-answer-then-advance transition atomic per client.
type SessionStore interface {
	Get(clientID string) (Session, bool)
	Put(clientID string, s Session)
	Delete(clientID string) bool
	Update(clientID string, fn func(s Session, ok bool) (Session, bool)) bool
	Range(fn func(clientID string, s Session) bool)
	Len() int
}

// MapStore backs SessionStore with a sharded concurrent map.
type MapStore struct {
	m *shardmap.Map[Session]
}

// NewMapStore returns an empty in-process store.
func NewMapStore() *MapStore {
	return &MapStore{m: shardmap.New[Session]()}
}

func (s *MapStore) Get(clientID string) (Session, bool) { return s.m.Get(clientID) }

func (s *MapStore) Put(clientID string, sess Session) { s.m.Set(clientID, sess) }

func (s *MapStore) Delete(clientID string) bool { return s.m.Delete(clientID) }

func (s *MapStore) Update(clientID string, fn func(Session, bool) (Session, bool)) bool {
	return s.m.Update(clientID, fn)
}

func (s *MapStore) Range(fn func(string, Session) bool) { s.m.Range(fn) }

func (s *MapStore) Len() int { return s.m.Len() }
