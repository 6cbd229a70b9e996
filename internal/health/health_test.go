package health

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"browsercontrol/internal/config"
	"browsercontrol/internal/metrics"
	"browsercontrol/internal/pool"
	"browsercontrol/internal/registry"
)

type fakePoolView struct{ size pool.Size }

func (f fakePoolView) Size() pool.Size { return f.size }

type fakeRegistryView struct{ metrics registry.Metrics }

func (f fakeRegistryView) Metrics() registry.Metrics { return f.metrics }

func newTestService(t *testing.T, poolSize pool.Size) *Service {
	t.Helper()
	cfg := config.Defaults()
	cfg.Port = 5000
	s := New(fakePoolView{size: poolSize}, fakeRegistryView{metrics: registry.Metrics{TotalSessions: 1, ActiveSessions: 1}}, &cfg, metrics.NewRegistry())
	s.memStats = func() float64 { return 10 }
	return s
}

func TestLivenessIsHealthyUnderNormalConditions(t *testing.T) {
	s := newTestService(t, pool.Size{Total: 2, Available: 1, InUse: 1})
	view := s.Liveness(context.Background())
	assert.Equal(t, StatusHealthy, view.Status)
}

func TestReadinessDegradesWhenPoolHasNoAvailableSessions(t *testing.T) {
	s := newTestService(t, pool.Size{Total: 2, Available: 0, InUse: 2})
	view := s.Readiness(context.Background())
	assert.Equal(t, StatusDegraded, view.Status)
}

func TestReadinessUnhealthyWhenPoolIsEmpty(t *testing.T) {
	s := newTestService(t, pool.Size{Total: 0})
	view := s.Readiness(context.Background())
	assert.Equal(t, StatusUnhealthy, view.Status)
}

func TestMemoryCheckEscalatesWithPressure(t *testing.T) {
	s := newTestService(t, pool.Size{Total: 1, Available: 1})

	s.memStats = func() float64 { return 50 }
	status, _, _ := s.checkMemory()
	assert.Equal(t, StatusHealthy, status)

	s.memStats = func() float64 { return 85 }
	status, _, _ = s.checkMemory()
	assert.Equal(t, StatusDegraded, status)

	s.memStats = func() float64 { return 95 }
	status, _, _ = s.checkMemory()
	assert.Equal(t, StatusUnhealthy, status)
}

func TestStartupReportsDegradedNotUnhealthyForMissingRequiredEnv(t *testing.T) {
	t.Setenv("PORT", "")
	s := newTestService(t, pool.Size{Total: 1, Available: 1})
	view := s.Startup(context.Background())
	require.NotEmpty(t, view.Checks)

	var envCheck *Check
	for i := range view.Checks {
		if view.Checks[i].Name == "required-env" {
			envCheck = &view.Checks[i]
		}
	}
	require.NotNil(t, envCheck)
	assert.Equal(t, StatusDegraded, envCheck.Status)
}

func TestMetricsTextIncludesPoolAndRegistryGauges(t *testing.T) {
	s := newTestService(t, pool.Size{Total: 3, Available: 2, InUse: 1})
	s.Liveness(context.Background())

	text := string(s.MetricsText())
	assert.Contains(t, text, "browsercontrol_pool_sessions_total 3")
	assert.Contains(t, text, "browsercontrol_registry_sessions_total 1")
	assert.Contains(t, text, "browsercontrol_check_health")
}
