// Package session defines the SessionRecord and the DriverHandle contract
// the Pool, Registry, and Dispatcher all share (spec §3).
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

const actionHistoryCap = 10

// ProbeResult is the outcome of a Driver Factory health probe (spec §4.1).
type ProbeResult struct {
	Healthy          bool
	CanNavigate      bool
	CanExecuteScript bool
	ResponseTimeMs   int64
}

// DriverHandle is the opaque reference to one live remote-controlled
// browser (spec §3's DriverHandle entity). Concrete drivers (internal/driver)
// implement this; the Pool and Registry never depend on playwright-go
// directly, only on this contract, which is what lets tests substitute a
// fake driver.
type DriverHandle interface {
	ID() string
	Kind() string
	Validate(ctx context.Context) bool
	Probe(ctx context.Context) ProbeResult
	Close(ctx context.Context) error
}

// Record is a usable automation context: a DriverHandle plus the
// lifecycle, health, and activity metadata around it (spec §3's
// SessionRecord entity). A Record is never shared between concurrent
// borrowers — the pool enforces exclusivity (spec §5).
type Record struct {
	id string

	mu          sync.Mutex
	handle      DriverHandle
	createdAt   time.Time
	lastUsedAt  time.Time
	lastHealthCheck time.Time
	ready       bool
	inUse       bool

	useCount        int64
	consecutiveErrs int64
	totalActions    int64
	successActions  int64
	avgActionTimeMs float64

	scrollPosition map[string]int
	activeElement  string

	history *ring
}

// NewRecord wraps a freshly created DriverHandle in a Record, ready for
// its first borrow.
func NewRecord(id string, handle DriverHandle) *Record {
	now := time.Now()
	return &Record{
		id:              id,
		handle:          handle,
		createdAt:       now,
		lastUsedAt:      now,
		lastHealthCheck: now,
		ready:           true,
		history:         newRing(actionHistoryCap),
		scrollPosition:  map[string]int{"x": 0, "y": 0},
	}
}

func (r *Record) ID() string             { return r.id }
func (r *Record) Handle() DriverHandle   { return r.handle }
func (r *Record) Kind() string           { return r.handle.Kind() }
func (r *Record) CreatedAt() time.Time   { return r.createdAt }

func (r *Record) MarkInUse() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inUse = true
	r.lastUsedAt = time.Now()
	atomic.AddInt64(&r.useCount, 1)
}

func (r *Record) MarkAvailable() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inUse = false
	r.lastUsedAt = time.Now()
}

func (r *Record) InUse() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inUse
}

func (r *Record) LastUsedAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastUsedAt
}

func (r *Record) LastHealthCheck() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastHealthCheck
}

func (r *Record) SetLastHealthCheck(t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastHealthCheck = t
}

func (r *Record) UseCount() int64 { return atomic.LoadInt64(&r.useCount) }

func (r *Record) ConsecutiveErrors() int64 { return atomic.LoadInt64(&r.consecutiveErrs) }

func (r *Record) RecordOutcome(hadError bool) {
	if hadError {
		atomic.AddInt64(&r.consecutiveErrs, 1)
		return
	}
	atomic.StoreInt64(&r.consecutiveErrs, 0)
}

// TrackAction appends an action-history entry and updates the rolling
// performance counters (spec §4.3's trackAction operation).
func (r *Record) TrackAction(name, selector string, success bool, durationMs int64) {
	r.history.push(ActionEntry{
		Name:       name,
		Selector:   selector,
		Success:    success,
		DurationMs: durationMs,
		Timestamp:  time.Now().Unix(),
	})

	total := atomic.AddInt64(&r.totalActions, 1)
	if success {
		atomic.AddInt64(&r.successActions, 1)
	}

	r.mu.Lock()
	r.avgActionTimeMs = r.avgActionTimeMs + (float64(durationMs)-r.avgActionTimeMs)/float64(total)
	r.mu.Unlock()
}

// History returns a snapshot of the action ring, oldest first.
func (r *Record) History() []ActionEntry { return r.history.snapshot() }

// Counters is a read-only snapshot of a Record's performance counters.
type Counters struct {
	TotalActions      int64
	SuccessfulActions int64
	AvgActionTimeMs   float64
}

func (r *Record) Counters() Counters {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Counters{
		TotalActions:      atomic.LoadInt64(&r.totalActions),
		SuccessfulActions: atomic.LoadInt64(&r.successActions),
		AvgActionTimeMs:   r.avgActionTimeMs,
	}
}

// SetScrollPosition and SetActiveElement back the scroll-position and
// active-element memo fields spec §3 calls for.
func (r *Record) SetScrollPosition(x, y int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scrollPosition["x"], r.scrollPosition["y"] = x, y
}

func (r *Record) ScrollPosition() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scrollPosition["x"], r.scrollPosition["y"]
}

func (r *Record) SetActiveElement(selector string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activeElement = selector
}

func (r *Record) ActiveElement() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeElement
}

// ShouldRetire applies the retirement rules from spec §4.2: staleness,
// chronic errors, or use-count exhaustion.
func (r *Record) ShouldRetire(maxAge time.Duration, maxConsecutiveErrors, maxUseCount int) bool {
	if time.Since(r.createdAt) > maxAge {
		return true
	}
	if r.ConsecutiveErrors() > int64(maxConsecutiveErrors) {
		return true
	}
	if r.UseCount() > int64(maxUseCount) {
		return true
	}
	return false
}
