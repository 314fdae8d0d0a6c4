// Package session holds per-actor conversation state. Entries are
// in-process only: a restart loses them and the actor simply has no active
// flow, since every durable fact lives in the requests/actors tables.
package session

import (
	"sync"
	"time"

	"deskline/internal/domain"
)

// Store keeps one Session per actor behind a per-key lock, so two
// overlapping deliveries of the same actor's tap cannot lose an update.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
}

type entry struct {
	mu sync.Mutex
	s  domain.Session
	ok bool
}

func NewStore() *Store {
	return &Store{entries: make(map[string]*entry), now: time.Now}
}

func (st *Store) entryFor(actorID string) *entry {
	st.mu.Lock()
	defer st.mu.Unlock()
	e, ok := st.entries[actorID]
	if !ok {
		e = &entry{}
		st.entries[actorID] = e
	}
	return e
}

// Get returns the actor's session and whether one exists.
func (st *Store) Get(actorID string) (domain.Session, bool) {
	e := st.entryFor(actorID)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.s, e.ok
}

// Set replaces the actor's session.
func (st *Store) Set(actorID string, s domain.Session) {
	e := st.entryFor(actorID)
	e.mu.Lock()
	defer e.mu.Unlock()
	s.UpdatedAt = st.now().UTC().Format(time.RFC3339)
	e.s = s
	e.ok = true
}

// Clear drops the actor's session.
func (st *Store) Clear(actorID string) {
	e := st.entryFor(actorID)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.s = domain.Session{}
	e.ok = false
}

// Update applies fn under the key's lock. fn receives the current session
// (zero value if absent) and returns the replacement; returning keep=false
// clears the entry instead. This is the read-modify-write entry points use
// so duplicate deliveries serialize instead of clobbering each other.
func (st *Store) Update(actorID string, fn func(s domain.Session, exists bool) (domain.Session, bool)) domain.Session {
	e := st.entryFor(actorID)
	e.mu.Lock()
	defer e.mu.Unlock()
	next, keep := fn(e.s, e.ok)
	if !keep {
		e.s = domain.Session{}
		e.ok = false
		return domain.Session{}
	}
	next.UpdatedAt = st.now().UTC().Format(time.RFC3339)
	e.s = next
	e.ok = true
	return next
}
