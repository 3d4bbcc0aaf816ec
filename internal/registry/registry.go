// Package registry tracks the live sessions of the gateway. It is the single
// source of truth for which sessions exist and what state they are in.
package registry

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/xiaot623/gogo/gateway/internal/domain"
	"github.com/xiaot623/gogo/gateway/internal/engine"
)

// ErrStaleHandle is returned when a handle no longer owns its session, because
// the session was removed or its adapter was replaced.
var ErrStaleHandle = errors.New("stale session handle")

// Handle is a reference to one session and its engine client. A handle stays
// valid until the session is removed or reconnected with a new client.
type Handle struct {
	SessionID string
	Client    engine.Client
}

type entry struct {
	record domain.Session
	handle *Handle
}

// CallbackBinder returns the engine callbacks for a freshly created handle.
type CallbackBinder func(h *Handle) engine.Callbacks

// Registry maps session ids to live sessions. All mutations go through one
// mutex; nothing is called on an engine client while it is held.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	order   []string
	factory engine.Factory
	bind    CallbackBinder
	now     func() time.Time
}

// New creates a Registry that builds clients with factory and binds their
// callbacks with bind.
func New(factory engine.Factory, bind CallbackBinder) *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		factory: factory,
		bind:    bind,
		now:     time.Now,
	}
}

// Create inserts a session in Initializing and constructs its client. The
// client is not started.
func (r *Registry) Create(sessionID string) (*Handle, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, domain.NewValidationError("sessionId", "sessionId is required")
	}
	if sessionID == "." || sessionID == ".." || strings.ContainsAny(sessionID, `/\`) {
		return nil, domain.NewValidationError("sessionId", "sessionId must not contain path separators")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[sessionID]; ok {
		return nil, domain.ErrSessionExists
	}

	h := r.newHandle(sessionID)
	r.entries[sessionID] = &entry{
		record: domain.Session{
			SessionID: sessionID,
			State:     domain.SessionStateInitializing,
			CreatedAt: r.now(),
		},
		handle: h,
	}
	r.order = append(r.order, sessionID)
	return h, nil
}

// Reconnect replaces the client of a Disconnected session with a fresh one
// and resets it to Initializing. It returns the new handle and the one it
// replaced; destroying the old client is the caller's job.
func (r *Registry) Reconnect(sessionID string) (*Handle, *Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[sessionID]
	if !ok {
		return nil, nil, domain.ErrSessionNotFound
	}
	if e.record.State != domain.SessionStateDisconnected {
		return nil, nil, domain.ErrInvalidTransition
	}

	old := e.handle
	e.handle = r.newHandle(sessionID)
	e.record.State = domain.SessionStateInitializing
	e.record.PhoneNumber = ""
	e.record.Pushname = ""
	return e.handle, old, nil
}

func (r *Registry) newHandle(sessionID string) *Handle {
	h := &Handle{SessionID: sessionID}
	h.Client = r.factory.New(sessionID, r.bind(h))
	return h
}

// Get returns the current handle of a session. The session's state may change
// as soon as Get returns.
func (r *Registry) Get(sessionID string) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[sessionID]
	if !ok {
		return nil, false
	}
	return e.handle, true
}

// Lookup returns the current handle of a session together with a copy of its
// record, read under one lock.
func (r *Registry) Lookup(sessionID string) (*Handle, domain.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[sessionID]
	if !ok {
		return nil, domain.Session{}, false
	}
	return e.handle, e.record, true
}

// Current reports whether h still owns its session.
func (r *Registry) Current(h *Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[h.SessionID]
	return ok && e.handle == h
}

// Snapshot returns a copy of the session record.
func (r *Registry) Snapshot(sessionID string) (domain.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[sessionID]
	if !ok {
		return domain.Session{}, false
	}
	return e.record, true
}

// List returns copies of all records in creation order.
func (r *Registry) List() []domain.Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.Session, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entries[id].record)
	}
	return out
}

// Summaries returns the public projection of all records in creation order.
func (r *Registry) Summaries() []domain.SessionSummary {
	sessions := r.List()
	out := make([]domain.SessionSummary, len(sessions))
	for i, s := range sessions {
		out[i] = s.Summary()
	}
	return out
}

// Handles returns the current handle of every session.
func (r *Registry) Handles() []*Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Handle, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entries[id].handle)
	}
	return out
}

// Len returns the number of sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Update applies fn to the record owned by h. fn works on a copy; if it returns
// an error the record is left unchanged. Update fails with ErrStaleHandle when
// h no longer owns the session.
func (r *Registry) Update(h *Handle, fn func(*domain.Session) error) (domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[h.SessionID]
	if !ok || e.handle != h {
		return domain.Session{}, ErrStaleHandle
	}

	rec := e.record
	if err := fn(&rec); err != nil {
		return e.record, err
	}
	e.record = rec
	return rec, nil
}

// Remove deletes a session. It does not destroy the client.
func (r *Registry) Remove(sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[sessionID]; !ok {
		return domain.ErrSessionNotFound
	}
	r.removeLocked(sessionID)
	return nil
}

// RemoveHandle deletes the session only if h still owns it.
func (r *Registry) RemoveHandle(h *Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[h.SessionID]
	if !ok || e.handle != h {
		return false
	}
	r.removeLocked(h.SessionID)
	return true
}

func (r *Registry) removeLocked(sessionID string) {
	delete(r.entries, sessionID)
	for i, id := range r.order {
		if id == sessionID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}
