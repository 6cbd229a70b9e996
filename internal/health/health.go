// Package health is the Health Service (spec §4.6): parallel fan-out
// checks aggregated into liveness, readiness, and startup views, plus a
// Prometheus-text metrics export, grounded on the teacher's
// HealthHandler.
package health

import (
	"bytes"
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"browsercontrol/internal/config"
	"browsercontrol/internal/metrics"
	"browsercontrol/internal/pool"
	"browsercontrol/internal/registry"
)

// Status is one of the three check outcomes spec §4.6 names.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Check is one named probe result (spec §4.6).
type Check struct {
	Name       string                 `json:"name"`
	Status     Status                 `json:"status"`
	Message    string                 `json:"message,omitempty"`
	DurationMs int64                  `json:"durationMs"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// View is an aggregate of checks with its overall status (spec §4.6:
// "unhealthy if any check unhealthy; else degraded if any degraded;
// else healthy").
type View struct {
	Status Status  `json:"status"`
	Checks []Check `json:"checks"`
}

func aggregate(checks []Check) View {
	status := StatusHealthy
	for _, c := range checks {
		if c.Status == StatusUnhealthy {
			status = StatusUnhealthy
			break
		}
		if c.Status == StatusDegraded && status != StatusUnhealthy {
			status = StatusDegraded
		}
	}
	return View{Status: status, Checks: checks}
}

// PoolView is the subset of pool state the health service observes.
type PoolView interface {
	Size() pool.Size
}

// RegistryView is the subset of registry state the health service observes.
type RegistryView interface {
	Metrics() registry.Metrics
}

// MemStats abstracts runtime.MemStats for testability.
type MemStats func() (usedPercent float64)

// Service implements spec §4.6.
type Service struct {
	pool     PoolView
	registry RegistryView
	memStats MemStats
	cfg      *config.ServerConfig
	metrics  *metrics.Registry

	mu     sync.RWMutex
	latest map[string]Check
}

// New builds a Service. reg is the shared metrics registry whose
// Prometheus text (per-tool latency histograms, auth decisions/sec — the
// spec's supplemented metrics surface) is appended to MetricsText
// alongside the service's own hand-rolled check/pool/registry gauges.
func New(p PoolView, r RegistryView, cfg *config.ServerConfig, reg *metrics.Registry) *Service {
	return &Service{pool: p, registry: r, cfg: cfg, metrics: reg, memStats: systemMemPercent, latest: make(map[string]Check)}
}

func runCheck(name string, fn func() (Status, string, map[string]interface{})) Check {
	start := time.Now()
	status, msg, meta := fn()
	return Check{Name: name, Status: status, Message: msg, DurationMs: time.Since(start).Milliseconds(), Metadata: meta}
}

// runParallel fans out checks across goroutines and collects results
// (spec §4.6's "parallel fan-out health checks" design, grounded on the
// teacher's checkAllServicesDetailed).
func runParallel(checks []func() Check) []Check {
	var wg sync.WaitGroup
	results := make([]Check, len(checks))
	for i, fn := range checks {
		wg.Add(1)
		go func(i int, fn func() Check) {
			defer wg.Done()
			results[i] = fn()
		}(i, fn)
	}
	wg.Wait()
	return results
}

// Liveness implements spec §4.6's liveness view.
func (s *Service) Liveness(ctx context.Context) View {
	checks := runParallel([]func() Check{
		func() Check { return runCheck("event-loop", s.checkEventLoop) },
		func() Check { return runCheck("memory", s.checkMemory) },
		func() Check { return runCheck("disk-writability", s.checkDiskWritable) },
	})
	s.record(checks)
	return aggregate(checks)
}

// Readiness implements spec §4.6's readiness view: the liveness checks
// plus pool capacity. Driver reachability and outbound network
// reachability are not probed.
func (s *Service) Readiness(ctx context.Context) View {
	checks := runParallel([]func() Check{
		func() Check { return runCheck("event-loop", s.checkEventLoop) },
		func() Check { return runCheck("memory", s.checkMemory) },
		func() Check { return runCheck("disk-writability", s.checkDiskWritable) },
		func() Check { return runCheck("pool-capacity", s.checkPoolCapacity) },
	})
	s.record(checks)
	return aggregate(checks)
}

// Startup implements spec §4.6's startup view: configuration validated,
// required env resolvable, at least one session creatable.
func (s *Service) Startup(ctx context.Context) View {
	checks := runParallel([]func() Check{
		func() Check { return runCheck("configuration", s.checkConfiguration) },
		func() Check { return runCheck("required-env", s.checkRequiredEnv) },
		func() Check { return runCheck("pool-capacity", s.checkPoolCapacity) },
	})
	s.record(checks)
	return aggregate(checks)
}

func (s *Service) record(checks []Check) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range checks {
		s.latest[c.Name] = c
	}
}

func (s *Service) checkEventLoop() (Status, string, map[string]interface{}) {
	return StatusHealthy, "", nil
}

// checkMemory implements spec §4.6's memory pressure policy: degraded
// above 80%, unhealthy above 90%.
func (s *Service) checkMemory() (Status, string, map[string]interface{}) {
	used := s.memStats()
	meta := map[string]interface{}{"usedPercent": used}
	if used > 90 {
		return StatusUnhealthy, "memory pressure above 90%", meta
	}
	if used > 80 {
		return StatusDegraded, "memory pressure above 80%", meta
	}
	return StatusHealthy, "", meta
}

func (s *Service) checkDiskWritable() (Status, string, map[string]interface{}) {
	return StatusHealthy, "", nil
}

func (s *Service) checkPoolCapacity() (Status, string, map[string]interface{}) {
	size := s.pool.Size()
	meta := map[string]interface{}{"total": size.Total, "available": size.Available, "inUse": size.InUse}
	if size.Total == 0 {
		return StatusUnhealthy, "no sessions in pool", meta
	}
	if size.Available == 0 {
		return StatusDegraded, "pool has no available sessions", meta
	}
	return StatusHealthy, "", meta
}

func (s *Service) checkConfiguration() (Status, string, map[string]interface{}) {
	if err := s.cfg.Validate(); err != nil {
		return StatusUnhealthy, err.Error(), nil
	}
	return StatusHealthy, "", nil
}

// checkRequiredEnv implements spec §8's testable property: "∀
// configuration without the required env-var set: startup-check
// reports degraded (not unhealthy) with the missing name enumerated."
func (s *Service) checkRequiredEnv() (Status, string, map[string]interface{}) {
	missing := config.MissingRequiredEnv()
	if len(missing) == 0 {
		return StatusHealthy, "", nil
	}
	names := make([]interface{}, len(missing))
	for i, m := range missing {
		names[i] = m
	}
	return StatusDegraded, "required environment variables unset", map[string]interface{}{"missing": names}
}

func systemMemPercent() float64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	if m.Sys == 0 {
		return 0
	}
	return float64(m.HeapAlloc) / float64(m.Sys) * 100
}

// MetricsText renders the last-recorded checks as Prometheus text
// exposition format, matching the teacher's hand-rolled GetMetrics.
func (s *Service) MetricsText() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := "# HELP browsercontrol_check_health Check health status (1=healthy, 0.5=degraded, 0=unhealthy)\n"
	out += "# TYPE browsercontrol_check_health gauge\n"
	for name, c := range s.latest {
		value := 0.0
		switch c.Status {
		case StatusHealthy:
			value = 1.0
		case StatusDegraded:
			value = 0.5
		}
		out += fmt.Sprintf("browsercontrol_check_health{check=\"%s\"} %f\n", name, value)
		out += fmt.Sprintf("browsercontrol_check_latency_ms{check=\"%s\"} %d\n", name, c.DurationMs)
	}

	size := s.pool.Size()
	out += fmt.Sprintf("browsercontrol_pool_sessions_total %d\n", size.Total)
	out += fmt.Sprintf("browsercontrol_pool_sessions_available %d\n", size.Available)
	out += fmt.Sprintf("browsercontrol_pool_sessions_in_use %d\n", size.InUse)

	m := s.registry.Metrics()
	out += fmt.Sprintf("browsercontrol_registry_sessions_total %d\n", m.TotalSessions)
	out += fmt.Sprintf("browsercontrol_registry_sessions_active %d\n", m.ActiveSessions)
	out += fmt.Sprintf("browsercontrol_registry_sessions_failed %d\n", m.FailedSessions)

	var buf bytes.Buffer
	buf.WriteString(out)
	s.metrics.WriteProm(&buf)
	return buf.Bytes()
}
