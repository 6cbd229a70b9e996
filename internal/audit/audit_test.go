package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogEvictsOldestPastCapacity(t *testing.T) {
	log := NewLog()

	for i := 0; i < capacity+10; i++ {
		log.Append(Event{Timestamp: time.Now(), Identity: "u", Allowed: true})
	}

	snapshot := log.Snapshot()
	require.Len(t, snapshot, capacity)
}

func TestLogSnapshotIsOldestFirst(t *testing.T) {
	log := NewLog()
	log.Append(Event{Resource: "a"})
	log.Append(Event{Resource: "b"})
	log.Append(Event{Resource: "c"})

	snapshot := log.Snapshot()
	require.Len(t, snapshot, 3)
	assert.Equal(t, "a", snapshot[0].Resource)
	assert.Equal(t, "c", snapshot[2].Resource)
}
