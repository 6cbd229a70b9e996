// Package pool is the Session Pool (spec §4.2): a bounded multiset of
// session.Record values with borrow/return semantics, prewarm, periodic
// health-checking, and retirement. It amortizes Driver Factory cost and
// is the sole owner of every Record it hands out.
package pool

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"browsercontrol/internal/apxerrors"
	"browsercontrol/internal/config"
	"browsercontrol/internal/logging"
	"browsercontrol/internal/session"
)

// Factory is the subset of the Driver Factory the pool depends on,
// narrowed so the pool can be tested against a fake.
type Factory interface {
	Create(ctx context.Context, kind string) (session.DriverHandle, error)
}

// Pool implements spec §4.2. All exported methods are safe for
// concurrent use.
type Pool struct {
	factory Factory
	cfg     config.PoolConfig

	mu        sync.Mutex
	all       map[string]*session.Record
	available map[string]*session.Record
	closed    bool

	returned chan struct{} // broadcast-ish: closed+replaced on every return

	stopHealthCheck chan struct{}
	wg              sync.WaitGroup
}

// New constructs a Pool bound by cfg. It does not prewarm; call Prewarm
// explicitly once the Driver Factory is ready.
func New(factory Factory, cfg config.PoolConfig) *Pool {
	p := &Pool{
		factory:         factory,
		cfg:             cfg,
		all:             make(map[string]*session.Record),
		available:       make(map[string]*session.Record),
		returned:        make(chan struct{}),
		stopHealthCheck: make(chan struct{}),
	}
	return p
}

// StartHealthChecking launches the periodic health-check sweep (spec
// §4.2's "periodic health check"). Call once after construction.
func (p *Pool) StartHealthChecking() {
	p.wg.Add(1)
	go p.healthCheckLoop()
}

func (p *Pool) notifyReturn() {
	close(p.returned)
	p.returned = make(chan struct{})
}

// Prewarm raises sessions.size up to prewarmCount, honoring maxSize
// (spec §4.2's prewarm operation).
func (p *Pool) Prewarm(ctx context.Context) {
	p.mu.Lock()
	target := p.cfg.PrewarmCount
	if target > p.cfg.MaxSize {
		target = p.cfg.MaxSize
	}
	need := target - len(p.all)
	p.mu.Unlock()

	for i := 0; i < need; i++ {
		rec, err := p.createRecord(ctx)
		if err != nil {
			logging.Warn("prewarm: driver creation failed", zap.Error(err))
			continue
		}
		p.mu.Lock()
		p.all[rec.ID()] = rec
		p.available[rec.ID()] = rec
		p.mu.Unlock()
	}
}

func (p *Pool) createRecord(ctx context.Context) (*session.Record, error) {
	handle, err := p.factory.Create(ctx, p.cfg.DriverKindDefault)
	if err != nil {
		return nil, err
	}
	return session.NewRecord(handle.ID(), handle), nil
}

// Borrow implements spec §4.2's resolution order: warm available record
// first, else grow under maxSize, else bounded wait for a return.
func (p *Pool) Borrow(ctx context.Context) (*session.Record, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, apxerrors.New(apxerrors.CodePoolClosed, "pool is shutting down")
	}

	if rec := p.pickMostRecentlyUsedLocked(); rec != nil {
		delete(p.available, rec.ID())
		p.mu.Unlock()
		rec.MarkInUse()
		return rec, nil
	}

	if len(p.all) < p.cfg.MaxSize {
		p.mu.Unlock()
		rec, err := p.createRecord(ctx)
		if err != nil {
			return nil, apxerrors.Wrap(apxerrors.CodeDriverCreateFailed, "creating session record", err)
		}
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			rec.Handle().Close(ctx)
			return nil, apxerrors.New(apxerrors.CodePoolClosed, "pool is shutting down")
		}
		p.all[rec.ID()] = rec
		p.mu.Unlock()
		rec.MarkInUse()
		return rec, nil
	}
	p.mu.Unlock()

	deadline := p.cfg.BorrowTimeout
	if deadline <= 0 {
		deadline = 30 * time.Second
	}
	timer := time.NewTimer(deadline)
	defer timer.Stop()

	for {
		p.mu.Lock()
		waitCh := p.returned
		p.mu.Unlock()

		select {
		case <-waitCh:
			p.mu.Lock()
			if p.closed {
				p.mu.Unlock()
				return nil, apxerrors.New(apxerrors.CodePoolClosed, "pool is shutting down")
			}
			if rec := p.pickMostRecentlyUsedLocked(); rec != nil {
				delete(p.available, rec.ID())
				p.mu.Unlock()
				rec.MarkInUse()
				return rec, nil
			}
			p.mu.Unlock()
		case <-timer.C:
			return nil, apxerrors.New(apxerrors.CodePoolExhausted, "no session became available before the borrow deadline")
		case <-ctx.Done():
			return nil, apxerrors.Wrap(apxerrors.CodePoolExhausted, "borrow cancelled", ctx.Err())
		}
	}
}

// pickMostRecentlyUsedLocked selects the available record with the most
// recent last-used-at (warm-cache bias, spec §4.2 step 1). Caller holds p.mu.
func (p *Pool) pickMostRecentlyUsedLocked() *session.Record {
	var best *session.Record
	for _, rec := range p.available {
		if best == nil || rec.LastUsedAt().After(best.LastUsedAt()) {
			best = rec
		}
	}
	return best
}

// ShouldRetire reports whether rec has crossed one of the pool's
// retirement thresholds (spec §4.2), without performing the retirement
// itself. Exposed for the Tool Dispatcher (spec §4.5), which needs to
// force a borrowed-but-unhealthy session out of circulation on
// consecutive tool failure without waiting for an explicit close.
func (p *Pool) ShouldRetire(rec *session.Record) bool {
	return rec.ShouldRetire(p.cfg.MaxSessionAge, p.cfg.MaxConsecutiveError, p.cfg.MaxUseCount)
}

// Return implements spec §4.2's return operation: apply retirement
// rules, else make available; best-effort top-up if retired below minSize.
func (p *Pool) Return(ctx context.Context, recordID string, hadErrors bool) {
	p.mu.Lock()
	rec, ok := p.all[recordID]
	if !ok {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	rec.RecordOutcome(hadErrors)

	if rec.ShouldRetire(p.cfg.MaxSessionAge, p.cfg.MaxConsecutiveError, p.cfg.MaxUseCount) {
		p.retire(ctx, rec)
		p.mu.Lock()
		needsTopUp := !p.closed && len(p.all) < p.cfg.MinSize
		p.mu.Unlock()
		if needsTopUp {
			if newRec, err := p.createRecord(ctx); err == nil {
				p.mu.Lock()
				if !p.closed {
					p.all[newRec.ID()] = newRec
					p.available[newRec.ID()] = newRec
				}
				p.mu.Unlock()
			}
		}
		return
	}

	rec.MarkAvailable()
	p.mu.Lock()
	p.available[rec.ID()] = rec
	p.notifyReturn()
	p.mu.Unlock()
}

func (p *Pool) retire(ctx context.Context, rec *session.Record) {
	p.mu.Lock()
	delete(p.all, rec.ID())
	delete(p.available, rec.ID())
	p.notifyReturn()
	p.mu.Unlock()

	if err := rec.Handle().Close(ctx); err != nil {
		logging.Warn("error closing retired driver handle", zap.String("id", rec.ID()), zap.Error(err))
	}
}

// ForceCleanup probes every not-in-use record and destroys any that
// fail (spec §4.2's forceCleanup).
func (p *Pool) ForceCleanup(ctx context.Context) {
	for _, rec := range p.snapshotAvailable() {
		result := rec.Handle().Probe(ctx)
		rec.SetLastHealthCheck(time.Now())
		if !result.Healthy {
			p.retire(ctx, rec)
		}
	}
}

func (p *Pool) snapshotAvailable() []*session.Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*session.Record, 0, len(p.available))
	for _, rec := range p.available {
		out = append(out, rec)
	}
	return out
}

// Resize implements spec §4.2's resize: update bounds; destroy excess
// not-in-use records above the new max; best-effort grow to the new min.
func (p *Pool) Resize(ctx context.Context, newMin, newMax int) {
	p.mu.Lock()
	p.cfg.MinSize = newMin
	p.cfg.MaxSize = newMax
	excess := len(p.all) - newMax
	var toRetire []*session.Record
	if excess > 0 {
		candidates := make([]*session.Record, 0, len(p.available))
		for _, rec := range p.available {
			candidates = append(candidates, rec)
		}
		sort.Slice(candidates, func(i, j int) bool {
			return candidates[i].CreatedAt().Before(candidates[j].CreatedAt())
		})
		if len(candidates) > excess {
			candidates = candidates[:excess]
		}
		toRetire = candidates
	}
	p.mu.Unlock()

	for _, rec := range toRetire {
		p.retire(ctx, rec)
	}

	p.mu.Lock()
	need := newMin - len(p.all)
	p.mu.Unlock()
	for i := 0; i < need; i++ {
		rec, err := p.createRecord(ctx)
		if err != nil {
			logging.Warn("resize: best-effort grow failed", zap.Error(err))
			continue
		}
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			rec.Handle().Close(ctx)
			return
		}
		p.all[rec.ID()] = rec
		p.available[rec.ID()] = rec
		p.mu.Unlock()
	}
}

// Shutdown stops health-checking and destroys every record, including
// those currently in use (spec §4.2's shutdown / §4.7).
func (p *Pool) Shutdown(ctx context.Context) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.stopHealthCheck)
	records := make([]*session.Record, 0, len(p.all))
	for _, rec := range p.all {
		records = append(records, rec)
	}
	p.all = make(map[string]*session.Record)
	p.available = make(map[string]*session.Record)
	p.notifyReturn()
	p.mu.Unlock()

	p.wg.Wait()

	for _, rec := range records {
		if err := rec.Handle().Close(ctx); err != nil {
			logging.Warn("error closing driver handle during shutdown", zap.String("id", rec.ID()), zap.Error(err))
		}
	}
}

// Size reports current {all, available, in-use} counts.
type Size struct {
	Total     int
	Available int
	InUse     int
}

func (p *Pool) Size() Size {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Size{Total: len(p.all), Available: len(p.available), InUse: len(p.all) - len(p.available)}
}

func (p *Pool) healthCheckLoop() {
	defer p.wg.Done()
	interval := p.cfg.HealthCheckInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.runHealthCheckSweep(context.Background())
		case <-p.stopHealthCheck:
			return
		}
	}
}

// runHealthCheckSweep probes stale not-in-use records, retires those
// whose failed probes push their consecutive-error count past the
// threshold, tops up to minSize, then destroys idle-but-excess records
// (spec §4.2).
func (p *Pool) runHealthCheckSweep(ctx context.Context) {
	interval := p.cfg.HealthCheckInterval
	now := time.Now()

	var toProbe []*session.Record
	for _, rec := range p.snapshotAvailable() {
		if now.Sub(rec.LastHealthCheck()) >= interval {
			toProbe = append(toProbe, rec)
		}
	}
	for _, rec := range toProbe {
		result := rec.Handle().Probe(ctx)
		rec.SetLastHealthCheck(time.Now())
		if !result.Healthy {
			rec.RecordOutcome(true)
			if rec.ConsecutiveErrors() > int64(p.cfg.MaxConsecutiveError) {
				p.retire(ctx, rec)
			}
		} else {
			rec.RecordOutcome(false)
		}
	}

	p.mu.Lock()
	need := p.cfg.MinSize - len(p.all)
	p.mu.Unlock()
	for i := 0; i < need; i++ {
		rec, err := p.createRecord(ctx)
		if err != nil {
			logging.Warn("health-check top-up failed", zap.Error(err))
			break
		}
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			rec.Handle().Close(ctx)
			break
		}
		p.all[rec.ID()] = rec
		p.available[rec.ID()] = rec
		p.mu.Unlock()
	}

	idleTimeout := p.cfg.IdleTimeout
	var idleExcess []*session.Record
	p.mu.Lock()
	if len(p.all) > p.cfg.MinSize {
		candidates := make([]*session.Record, 0, len(p.available))
		for _, rec := range p.available {
			if now.Sub(rec.LastUsedAt()) > idleTimeout {
				candidates = append(candidates, rec)
			}
		}
		sort.Slice(candidates, func(i, j int) bool {
			return candidates[i].CreatedAt().Before(candidates[j].CreatedAt())
		})
		room := len(p.all) - p.cfg.MinSize
		if len(candidates) > room {
			candidates = candidates[:room]
		}
		idleExcess = candidates
	}
	p.mu.Unlock()

	for _, rec := range idleExcess {
		p.retire(ctx, rec)
	}
}
