package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHandle struct {
	id   string
	kind string
}

func (f *fakeHandle) ID() string                              { return f.id }
func (f *fakeHandle) Kind() string                             { return f.kind }
func (f *fakeHandle) Validate(ctx context.Context) bool        { return true }
func (f *fakeHandle) Probe(ctx context.Context) ProbeResult     { return ProbeResult{Healthy: true} }
func (f *fakeHandle) Close(ctx context.Context) error           { return nil }

func TestRecordLifecycle(t *testing.T) {
	rec := NewRecord("s1", &fakeHandle{id: "s1", kind: "chromium-like"})

	assert.Equal(t, "s1", rec.ID())
	assert.Equal(t, "chromium-like", rec.Kind())
	assert.False(t, rec.InUse())

	rec.MarkInUse()
	assert.True(t, rec.InUse())
	assert.Equal(t, int64(1), rec.UseCount())

	rec.MarkAvailable()
	assert.False(t, rec.InUse())
}

func TestRecordTrackActionUpdatesCounters(t *testing.T) {
	rec := NewRecord("s1", &fakeHandle{id: "s1", kind: "chromium-like"})

	rec.TrackAction("navigate", "", true, 100)
	rec.TrackAction("click", "#button", false, 50)

	counters := rec.Counters()
	require.Equal(t, int64(2), counters.TotalActions)
	assert.Equal(t, int64(1), counters.SuccessfulActions)
	assert.InDelta(t, 75.0, counters.AvgActionTimeMs, 0.001)
}

func TestRecordHistoryCapsAtTen(t *testing.T) {
	rec := NewRecord("s1", &fakeHandle{id: "s1", kind: "chromium-like"})

	for i := 0; i < 15; i++ {
		rec.TrackAction("click", "", true, int64(i))
	}

	history := rec.History()
	require.Len(t, history, 10)
	// Oldest-out eviction: the oldest surviving entry is action #5.
	assert.Equal(t, int64(5), history[0].DurationMs)
	assert.Equal(t, int64(14), history[9].DurationMs)
}

func TestRecordConsecutiveErrorsResetsOnSuccess(t *testing.T) {
	rec := NewRecord("s1", &fakeHandle{id: "s1", kind: "chromium-like"})

	rec.RecordOutcome(true)
	rec.RecordOutcome(true)
	assert.Equal(t, int64(2), rec.ConsecutiveErrors())

	rec.RecordOutcome(false)
	assert.Equal(t, int64(0), rec.ConsecutiveErrors())
}

func TestShouldRetireRules(t *testing.T) {
	rec := NewRecord("s1", &fakeHandle{id: "s1", kind: "chromium-like"})

	assert.False(t, rec.ShouldRetire(time.Hour, 5, 1000))

	for i := 0; i < 6; i++ {
		rec.RecordOutcome(true)
	}
	assert.True(t, rec.ShouldRetire(time.Hour, 5, 1000))
}

func TestShouldRetireByAge(t *testing.T) {
	rec := NewRecord("s1", &fakeHandle{id: "s1", kind: "chromium-like"})
	assert.True(t, rec.ShouldRetire(-time.Second, 5, 1000))
}

func TestScrollPositionAndActiveElementMemo(t *testing.T) {
	rec := NewRecord("s1", &fakeHandle{id: "s1", kind: "chromium-like"})

	rec.SetScrollPosition(10, 20)
	x, y := rec.ScrollPosition()
	assert.Equal(t, 10, x)
	assert.Equal(t, 20, y)

	rec.SetActiveElement("#input")
	assert.Equal(t, "#input", rec.ActiveElement())
}
