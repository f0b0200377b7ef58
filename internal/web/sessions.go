package web

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"sheetload/internal/pipeline"
	"sheetload/internal/storage"
)

// session is one user's connection plus uploaded files. mu serializes
// handlers on the same session; a load holds it for the whole run.
type session struct {
	id   string
	repo storage.Repository

	mu       sync.Mutex
	files    *pipeline.Session
	lastUsed time.Time
}

type sessionStore struct {
	mu   sync.Mutex
	byID map[string]*session
	now  func() time.Time
}

func newSessionStore(now func() time.Time) *sessionStore {
	if now == nil {
		now = time.Now
	}
	return &sessionStore{byID: map[string]*session{}, now: now}
}

func (st *sessionStore) add(repo storage.Repository) *session {
	s := &session{
		id:       uuid.NewString(),
		repo:     repo,
		files:    pipeline.NewSession(),
		lastUsed: st.now(),
	}
	st.mu.Lock()
	st.byID[s.id] = s
	st.mu.Unlock()
	return s
}

// get returns the session and marks it used.
func (st *sessionStore) get(id string) (*session, bool) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.byID[id]
	if ok {
		s.lastUsed = st.now()
	}
	return s, ok
}

func (st *sessionStore) remove(id string) (*session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.byID[id]
	if ok {
		delete(st.byID, id)
	}
	return s, ok
}

func (st *sessionStore) len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.byID)
}

// sweep removes sessions idle for longer than ttl and returns them. Callers
// close the repositories outside the store lock.
func (st *sessionStore) sweep(ttl time.Duration) []*session {
	cutoff := st.now().Add(-ttl)

	st.mu.Lock()
	defer st.mu.Unlock()
	var out []*session
	for id, s := range st.byID {
		if s.lastUsed.Before(cutoff) {
			delete(st.byID, id)
			out = append(out, s)
		}
	}
	return out
}

func (st *sessionStore) drain() []*session {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]*session, 0, len(st.byID))
	for id, s := range st.byID {
		delete(st.byID, id)
		out = append(out, s)
	}
	return out
}
