package shutdown

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdownRunsHandlersInReverseOfRegistrationOrder(t *testing.T) {
	c := NewCoordinator(time.Second, 200*time.Millisecond)

	var order []string
	c.RegisterHandler("intake-gate", func(ctx context.Context) error {
		order = append(order, "intake-gate")
		return nil
	})
	c.RegisterHandler("registry", func(ctx context.Context) error {
		order = append(order, "registry")
		return nil
	})
	c.RegisterHandler("pool", func(ctx context.Context) error {
		order = append(order, "pool")
		return nil
	})

	c.Shutdown()

	require.Equal(t, []string{"pool", "registry", "intake-gate"}, order)
}

func TestShutdownIsIdempotent(t *testing.T) {
	c := NewCoordinator(time.Second, 200*time.Millisecond)

	calls := 0
	c.RegisterHandler("only", func(ctx context.Context) error {
		calls++
		return nil
	})

	c.Shutdown()
	c.Shutdown()

	assert.Equal(t, 1, calls)
}

func TestWaitForShutdownUnblocksAfterShutdown(t *testing.T) {
	c := NewCoordinator(time.Second, 200*time.Millisecond)
	c.RegisterHandler("noop", func(ctx context.Context) error { return nil })

	done := make(chan struct{})
	go func() {
		c.WaitForShutdown()
		close(done)
	}()

	c.Shutdown()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitForShutdown did not unblock")
	}
}

func TestShutdownAbandonsRemainingHandlersPastDrainDeadline(t *testing.T) {
	c := NewCoordinator(20*time.Millisecond, 50*time.Millisecond)

	var ran []string
	// Registered first, so it runs LAST (LIFO) — and should be skipped
	// once the slow handler below blows through the drain deadline.
	c.RegisterHandler("skipped", func(ctx context.Context) error {
		ran = append(ran, "skipped")
		return nil
	})
	// Registered second, so it runs FIRST.
	c.RegisterHandler("slow", func(ctx context.Context) error {
		time.Sleep(30 * time.Millisecond)
		ran = append(ran, "slow")
		return nil
	})

	c.Shutdown()

	require.Contains(t, ran, "slow")
	assert.NotContains(t, ran, "skipped")
}
