package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"browsercontrol/internal/apxerrors"
	"browsercontrol/internal/auth"
	"browsercontrol/internal/audit"
	"browsercontrol/internal/config"
	"browsercontrol/internal/driver"
	"browsercontrol/internal/metrics"
	"browsercontrol/internal/registry"
	"browsercontrol/internal/session"
	"browsercontrol/internal/tool"
)

type fakeHandle struct{ id string }

func (f *fakeHandle) ID() string                           { return f.id }
func (f *fakeHandle) Kind() string                          { return "chromium-like" }
func (f *fakeHandle) Validate(ctx context.Context) bool      { return true }
func (f *fakeHandle) Probe(ctx context.Context) session.ProbeResult {
	return session.ProbeResult{Healthy: true}
}
func (f *fakeHandle) Close(ctx context.Context) error { return nil }

type fakeSessionBinder struct {
	records   map[string]*session.Record
	def       string
	retire    map[string]bool
	destroyed []string
}

func newFakeBinder() *fakeSessionBinder {
	return &fakeSessionBinder{records: make(map[string]*session.Record)}
}

func (b *fakeSessionBinder) GetSession(id string) (*session.Record, error) {
	rec, ok := b.records[id]
	if !ok {
		return nil, apxerrors.New(apxerrors.CodeSessionNotFound, "not found")
	}
	return rec, nil
}
func (b *fakeSessionBinder) PickDefault() (string, error) {
	if b.def == "" {
		return "", apxerrors.New(apxerrors.CodeSessionNotFound, "no default")
	}
	return b.def, nil
}
func (b *fakeSessionBinder) TrackAction(sessionID, name, selector string, success bool, durationMs int64) error {
	return nil
}
func (b *fakeSessionBinder) CreateSession(ctx context.Context, kind string) (string, error) {
	id := "s-new"
	b.records[id] = session.NewRecord(id, &fakeHandle{id: id})
	b.def = id
	return id, nil
}
func (b *fakeSessionBinder) DestroySession(ctx context.Context, id string) {
	b.destroyed = append(b.destroyed, id)
	delete(b.records, id)
}
func (b *fakeSessionBinder) List() []registry.SessionSummary {
	out := make([]registry.SessionSummary, 0, len(b.records))
	for id := range b.records {
		out = append(out, registry.SessionSummary{ID: id})
	}
	return out
}
func (b *fakeSessionBinder) ShouldRetire(id string) bool { return b.retire[id] }

func openGate() *auth.Gate {
	return auth.NewGate(config.AuthConfig{Enabled: false}, audit.NewLog(), metrics.NewRegistry())
}

func TestDispatchUnknownTool(t *testing.T) {
	d := New(tool.NewRegistry(), openGate(), newFakeBinder(), metrics.NewRegistry())
	env := d.Dispatch(context.Background(), Request{Tool: "does_not_exist", Auth: &auth.Context{Permissions: []auth.Permission{{Resource: "*", Action: "*"}}, Authenticated: true}})
	require.Equal(t, "error", env.Status)
	assert.Equal(t, string(apxerrors.CodeUnknownTool), env.Error.Code)
}

func TestDispatchSessionNotFound(t *testing.T) {
	reg := tool.NewRegistry()
	reg.Register(tool.Descriptor{
		Name: "noop", Resource: "x", Action: "y",
		Handler: func(ctx context.Context, params tool.Params, rec *session.Record, capa tool.Capability) (interface{}, error) {
			return nil, nil
		},
	})
	d := New(reg, openGate(), newFakeBinder(), metrics.NewRegistry())
	env := d.Dispatch(context.Background(), Request{
		Tool:      "noop",
		SessionID: "missing",
		Auth:      &auth.Context{Permissions: []auth.Permission{{Resource: "*", Action: "*"}}, Authenticated: true},
	})
	require.Equal(t, "error", env.Status)
	assert.Equal(t, string(apxerrors.CodeSessionNotFound), env.Error.Code)
}

func TestDispatchRefusesNewIntakesAfterShutdownSignal(t *testing.T) {
	d := New(tool.NewRegistry(), openGate(), newFakeBinder(), metrics.NewRegistry())
	d.RefuseNewIntakes()

	env := d.Dispatch(context.Background(), Request{Tool: "anything", Auth: &auth.Context{Authenticated: true}})
	require.Equal(t, "error", env.Status)
	assert.Equal(t, string(apxerrors.CodePoolClosed), env.Error.Code)
}

func TestCreateSessionAndListSessions(t *testing.T) {
	d := New(tool.NewRegistry(), openGate(), newFakeBinder(), metrics.NewRegistry())
	authCtx := &auth.Context{Permissions: []auth.Permission{{Resource: "*", Action: "*"}}, Authenticated: true}

	env := d.CreateSession(context.Background(), authCtx, "chromium-like")
	require.Equal(t, "success", env.Status)

	listEnv := d.ListSessions(authCtx)
	require.Equal(t, "success", listEnv.Status)
	summaries, ok := listEnv.Data.([]registry.SessionSummary)
	require.True(t, ok)
	assert.Len(t, summaries, 1)
}

func TestDispatchForceRetiresSessionOnToolFailureThreshold(t *testing.T) {
	binder := newFakeBinder()
	binder.records["s1"] = session.NewRecord("s1", &driver.Handle{})
	binder.retire = map[string]bool{"s1": true}

	reg := tool.NewRegistry()
	reg.Register(tool.Descriptor{
		Name: "always_fails", Resource: "x", Action: "y",
		Handler: func(ctx context.Context, params tool.Params, rec *session.Record, capa tool.Capability) (interface{}, error) {
			return nil, apxerrors.New(apxerrors.CodeInternal, "boom")
		},
	})

	d := New(reg, openGate(), binder, metrics.NewRegistry())
	env := d.Dispatch(context.Background(), Request{
		Tool:      "always_fails",
		SessionID: "s1",
		Auth:      &auth.Context{Permissions: []auth.Permission{{Resource: "*", Action: "*"}}, Authenticated: true},
	})

	require.Equal(t, "error", env.Status)
	assert.Contains(t, binder.destroyed, "s1")
}

func TestDrainReturnsOnceInFlightCallsComplete(t *testing.T) {
	d := New(tool.NewRegistry(), openGate(), newFakeBinder(), metrics.NewRegistry())
	d.RefuseNewIntakes()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Drain(ctx))
}

var _ = driver.KindChromiumLike // grounds the import for handle-type assertions elsewhere in the package
