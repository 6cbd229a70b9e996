// Package registry is the Session Registry (spec §4.3): a higher-level
// mapping from externally visible session ids to pool-owned
// session.Record values, enforcing a concurrency cap distinct from the
// pool's own reuse bound.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"browsercontrol/internal/apxerrors"
	"browsercontrol/internal/session"
)

// Borrower is the subset of *pool.Pool the registry needs, narrowed so
// it can be tested against a fake.
type Borrower interface {
	Borrow(ctx context.Context) (*session.Record, error)
	Return(ctx context.Context, recordID string, hadErrors bool)
	ShouldRetire(rec *session.Record) bool
}

// entry is a RegistryEntry (spec §3): the externally named session id
// plus the driver kind requested at creation. The record itself is
// borrowed from the pool without regard to that kind, so kind is kept
// for listing only.
type entry struct {
	id        string
	record    *session.Record
	kind      string
	createdAt time.Time
}

// Registry implements spec §4.3. All exported methods are safe for
// concurrent use.
type Registry struct {
	pool Borrower
	cap  int

	mu      sync.RWMutex
	entries map[string]*entry
	order   []string // insertion order, for pickDefault's "first listed"
}

func New(pool Borrower, concurrentSessionCap int) *Registry {
	return &Registry{
		pool:    pool,
		cap:     concurrentSessionCap,
		entries: make(map[string]*entry),
	}
}

// CreateSession implements spec §4.3's createSession: enforces the
// external concurrency cap before ever touching the pool.
func (r *Registry) CreateSession(ctx context.Context, kind string) (string, error) {
	r.mu.Lock()
	if len(r.entries) >= r.cap {
		r.mu.Unlock()
		return "", apxerrors.New(apxerrors.CodeSessionLimit, "concurrent session cap reached")
	}
	r.mu.Unlock()

	rec, err := r.pool.Borrow(ctx)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	r.mu.Lock()
	if len(r.entries) >= r.cap {
		r.mu.Unlock()
		r.pool.Return(ctx, rec.ID(), false)
		return "", apxerrors.New(apxerrors.CodeSessionLimit, "concurrent session cap reached")
	}
	r.entries[id] = &entry{id: id, record: rec, kind: kind, createdAt: time.Now()}
	r.order = append(r.order, id)
	r.mu.Unlock()

	return id, nil
}

// GetSession implements spec §4.3's getSession.
func (r *Registry) GetSession(sessionID string) (*session.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[sessionID]
	if !ok {
		return nil, apxerrors.New(apxerrors.CodeSessionNotFound, "no such session").WithField("sessionId", sessionID)
	}
	return e.record, nil
}

// DestroySession implements spec §4.3's destroySession: idempotent,
// returns the record to the pool which may retire or recycle it.
func (r *Registry) DestroySession(ctx context.Context, sessionID string) {
	r.mu.Lock()
	e, ok := r.entries[sessionID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.entries, sessionID)
	r.removeFromOrderLocked(sessionID)
	r.mu.Unlock()

	hadErrors := e.record.ConsecutiveErrors() > 0
	r.pool.Return(ctx, e.record.ID(), hadErrors)
}

func (r *Registry) removeFromOrderLocked(sessionID string) {
	for i, id := range r.order {
		if id == sessionID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}

// SessionSummary is the snapshot shape spec §4.3's list returns.
type SessionSummary struct {
	ID        string
	Kind      string
	CreatedAt time.Time
}

// List implements spec §4.3's list: a snapshot that never blocks pool
// operations.
func (r *Registry) List() []SessionSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]SessionSummary, 0, len(r.order))
	for _, id := range r.order {
		e := r.entries[id]
		out = append(out, SessionSummary{ID: e.id, Kind: e.kind, CreatedAt: e.createdAt})
	}
	return out
}

// PickDefault implements spec §4.3's pickDefault and §9's resolved open
// question: "first listed" in insertion order, not most-recent use.
func (r *Registry) PickDefault() (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.order) == 0 {
		return "", apxerrors.New(apxerrors.CodeSessionNotFound, "no sessions available to default to")
	}
	return r.order[0], nil
}

// TrackAction implements spec §4.3's trackAction.
func (r *Registry) TrackAction(sessionID, name, selector string, success bool, durationMs int64) error {
	r.mu.RLock()
	e, ok := r.entries[sessionID]
	r.mu.RUnlock()
	if !ok {
		return apxerrors.New(apxerrors.CodeSessionNotFound, "no such session").WithField("sessionId", sessionID)
	}
	e.record.TrackAction(name, selector, success, durationMs)
	return nil
}

// Metrics is the cheap snapshot spec §4.3's metrics operation returns.
type Metrics struct {
	TotalSessions      int
	ActiveSessions     int
	AverageSessionAgeMs float64
	FailedSessions     int
}

func (r *Registry) Metrics() Metrics {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m := Metrics{TotalSessions: len(r.entries)}
	if len(r.entries) == 0 {
		return m
	}

	var ageSum float64
	now := time.Now()
	for _, e := range r.entries {
		ageSum += float64(now.Sub(e.createdAt).Milliseconds())
		if e.record.InUse() {
			m.ActiveSessions++
		}
		if e.record.ConsecutiveErrors() > 0 {
			m.FailedSessions++
		}
	}
	m.AverageSessionAgeMs = ageSum / float64(len(r.entries))
	return m
}

// ShouldRetire reports whether the session bound to sessionID has
// crossed a pool retirement threshold (spec §4.2), letting the Tool
// Dispatcher (spec §4.5) force retirement of a still-borrowed session
// after repeated tool failures rather than waiting for an explicit
// close_session. A session id that no longer exists is never
// considered retirement-worthy.
func (r *Registry) ShouldRetire(sessionID string) bool {
	r.mu.RLock()
	e, ok := r.entries[sessionID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	return r.pool.ShouldRetire(e.record)
}

// DestroyAll is used by the Shutdown Coordinator (spec §4.7) to drain
// every registry entry before the pool itself shuts down.
func (r *Registry) DestroyAll(ctx context.Context) {
	r.mu.Lock()
	ids := make([]string, len(r.order))
	copy(ids, r.order)
	r.mu.Unlock()

	for _, id := range ids {
		r.DestroySession(ctx, id)
	}
}
