package breaker

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForReturnsTheSameBreakerForAKind(t *testing.T) {
	r := NewRegistry()
	a := r.For("chromium-like")
	b := r.For("chromium-like")
	assert.Same(t, a, b)
}

func TestForReturnsDistinctBreakersPerKind(t *testing.T) {
	r := NewRegistry()
	a := r.For("chromium-like")
	b := r.For("firefox-like")
	assert.NotSame(t, a, b)
}

func TestExecutePassesThroughResultAndError(t *testing.T) {
	r := NewRegistry()

	result, err := r.Execute("chromium-like", func() (interface{}, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)

	boom := errors.New("boom")
	_, err = r.Execute("chromium-like", func() (interface{}, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestExecuteTripsAfterConsecutiveFailures(t *testing.T) {
	r := NewRegistry()
	boom := errors.New("boom")

	for i := 0; i < 6; i++ {
		_, _ = r.Execute("firefox-like", func() (interface{}, error) {
			return nil, boom
		})
	}

	_, err := r.Execute("firefox-like", func() (interface{}, error) {
		t.Fatal("breaker should have been open, function must not run")
		return nil, nil
	})
	require.Error(t, err)
}
