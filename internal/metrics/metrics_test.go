package metrics

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCounterAccumulates(t *testing.T) {
	r := NewRegistry()
	c := r.Counter("requests_total", "help", nil)
	c.Inc()
	c.Add(2)

	var buf bytes.Buffer
	r.WriteProm(&buf)
	out := buf.String()

	assert.Contains(t, out, "# TYPE requests_total counter")
	assert.Contains(t, out, "requests_total 3")
}

func TestGetOrCreateReturnsSameMetricForSameNameAndLabels(t *testing.T) {
	r := NewRegistry()
	a := r.Counter("decisions_total", "help", map[string]string{"allowed": "true"})
	b := r.Counter("decisions_total", "help", map[string]string{"allowed": "true"})
	a.Inc()

	assert.Equal(t, float64(1), b.value)
}

func TestHistogramObserveAccumulatesCumulativeBuckets(t *testing.T) {
	r := NewRegistry()
	h := r.Histogram("duration_ms", "help", nil, []float64{10, 50})
	h.Observe(5)
	h.Observe(20)
	h.Observe(100)

	var buf bytes.Buffer
	r.WriteProm(&buf)
	out := buf.String()

	assert.Contains(t, out, `duration_ms_bucket{le="10"} 1`)
	assert.Contains(t, out, `duration_ms_bucket{le="50"} 2`)
	assert.Contains(t, out, `duration_ms_bucket{le="+Inf"} 3`)
	assert.Contains(t, out, "duration_ms_sum 125")
	assert.Contains(t, out, "duration_ms_count 3")
}

func TestDistinctLabelSetsAreDistinctMetrics(t *testing.T) {
	r := NewRegistry()
	allowed := r.Counter("decisions_total", "help", map[string]string{"allowed": "true"})
	denied := r.Counter("decisions_total", "help", map[string]string{"allowed": "false"})

	allowed.Inc()

	assert.Equal(t, float64(1), allowed.value)
	assert.Equal(t, float64(0), denied.value)
}
