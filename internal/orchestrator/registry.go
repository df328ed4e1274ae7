package orchestrator

import (
	"errors"
	"sync"

	"github.com/hochfrequenz/heal-orchestrator/internal/domain"
)

// ErrAlreadyRunning rejects a run while another one holds the single slot
var ErrAlreadyRunning = errors.New("a run is already in progress")

// ErrUnknownRun is returned for ids the registry has never seen
var ErrUnknownRun = errors.New("unknown run")

// Listener receives a snapshot after every session change
type Listener func(domain.Session)

// Registry owns all sessions. Every mutation goes through update; readers
// get deep copies.
type Registry struct {
	mu        sync.RWMutex
	sessions  map[string]*domain.Session
	order     []string
	listeners map[int]Listener
	nextID    int
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		sessions:  make(map[string]*domain.Session),
		listeners: make(map[int]Listener),
	}
}

// begin registers s as RUNNING unless another session is active. The check
// and the insert happen under one lock.
func (r *Registry) begin(s *domain.Session) error {
	r.mu.Lock()
	for _, other := range r.sessions {
		if other.Active() {
			r.mu.Unlock()
			return ErrAlreadyRunning
		}
	}
	s.Status = domain.SessionRunning
	r.sessions[s.ID] = s
	r.order = append(r.order, s.ID)
	snap := s.Clone()
	r.mu.Unlock()

	r.publish(snap)
	return nil
}

// update applies fn to the session under the write lock and publishes the
// result
func (r *Registry) update(id string, fn func(*domain.Session)) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	fn(s)
	snap := s.Clone()
	r.mu.Unlock()

	r.publish(snap)
}

// Get returns a snapshot of session id
func (r *Registry) Get(id string) (domain.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return domain.Session{}, false
	}
	return s.Clone(), true
}

// Latest returns the most recently started session
func (r *Registry) Latest() (domain.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.order) == 0 {
		return domain.Session{}, false
	}
	return r.sessions[r.order[len(r.order)-1]].Clone(), true
}

// All returns snapshots of every session, oldest first
func (r *Registry) All() []domain.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Session, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.sessions[id].Clone())
	}
	return out
}

// RunningCount reports the number of active sessions (0 or 1)
func (r *Registry) RunningCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, s := range r.sessions {
		if s.Active() {
			n++
		}
	}
	return n
}

// Subscribe registers l and returns a function that removes it
func (r *Registry) Subscribe(l Listener) func() {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.listeners[id] = l
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		delete(r.listeners, id)
		r.mu.Unlock()
	}
}

func (r *Registry) publish(s domain.Session) {
	r.mu.RLock()
	ls := make([]Listener, 0, len(r.listeners))
	for _, l := range r.listeners {
		ls = append(ls, l)
	}
	r.mu.RUnlock()
	for _, l := range ls {
		l(s.Clone())
	}
}
