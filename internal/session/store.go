// Package session keeps one loaded dataset per client session, replacing a single
// process-wide "current dataset" slot.
package session

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"proxima/domain/experiment"
	"proxima/internal/errors"
)

// Session is a snapshot of one client's state
type Session struct {
	ID         uuid.UUID           `json:"session_id"`
	Dataset    *experiment.Dataset `json:"-"`
	Source     string              `json:"source,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
	LastAccess time.Time           `json:"last_access"`
}

// HasDataset reports whether data has been generated or uploaded
func (s Session) HasDataset() bool { return s.Dataset != nil }

// Store is a concurrency-safe, TTL-bounded map of sessions
type Store struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
	ttl      time.Duration
	max      int
	now      func() time.Time
}

// NewStore creates a store that expires idle sessions after ttl and keeps at most max
func NewStore(ttl time.Duration, max int) *Store {
	return &Store{
		sessions: make(map[uuid.UUID]*Session),
		ttl:      ttl,
		max:      max,
		now:      time.Now,
	}
}

// ParseID validates a session id
func ParseID(id string) (uuid.UUID, error) {
	sid, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, errors.WithCode(errors.CodeInvalidInput, errors.Wrapf(err, "invalid session ID %q", id))
	}
	return sid, nil
}

// Create starts an empty session
func (s *Store) Create() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.insertLocked(nil, "")
}

func (s *Store) insertLocked(ds *experiment.Dataset, source string) *Session {
	now := s.now()
	sess := &Session{ID: uuid.New(), Dataset: ds, Source: source, CreatedAt: now, LastAccess: now}
	s.sessions[sess.ID] = sess
	s.evictLocked(sess.ID)
	return sess
}

// Get returns a session and refreshes its last access time
func (s *Store) Get(id string) (Session, error) {
	sid, err := ParseID(id)
	if err != nil {
		return Session{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sid]
	if !ok || s.expiredLocked(sess) {
		delete(s.sessions, sid)
		return Session{}, errors.NotFound("session " + id)
	}
	sess.LastAccess = s.now()
	return *sess, nil
}

// Put stores a dataset in the given session, or in a new one when id is empty.
func (s *Store) Put(id string, ds *experiment.Dataset, source string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == "" {
		return *s.insertLocked(ds, source), nil
	}
	sid, err := ParseID(id)
	if err != nil {
		return Session{}, err
	}
	sess, ok := s.sessions[sid]
	if !ok || s.expiredLocked(sess) {
		return Session{}, errors.NotFound("session " + id)
	}
	sess.Dataset = ds
	sess.Source = source
	sess.LastAccess = s.now()
	return *sess, nil
}

// Delete removes a session
func (s *Store) Delete(id string) bool {
	sid, err := uuid.Parse(id)
	if err != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[sid]
	delete(s.sessions, sid)
	return ok
}

// Len returns the number of live sessions
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Sweep drops expired sessions and returns how many were removed
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, sess := range s.sessions {
		if s.expiredLocked(sess) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

func (s *Store) expiredLocked(sess *Session) bool {
	return s.ttl > 0 && s.now().Sub(sess.LastAccess) > s.ttl
}

// evictLocked drops the least recently used sessions above the size cap, never keep
func (s *Store) evictLocked(keep uuid.UUID) {
	if s.max <= 0 || len(s.sessions) <= s.max {
		return
	}
	others := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if sess.ID != keep {
			others = append(others, sess)
		}
	}
	sort.Slice(others, func(i, j int) bool { return others[i].LastAccess.Before(others[j].LastAccess) })
	for _, sess := range others[:len(s.sessions)-s.max] {
		delete(s.sessions, sess.ID)
	}
}
