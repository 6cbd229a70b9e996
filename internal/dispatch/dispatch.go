// Package dispatch is the Tool Dispatcher (spec §4.5): given a tool
// name, parameters, an optional session id, and an AuthContext, it
// walks the Received → Authorized → SessionBound → Validated →
// Executing → Completed pipeline and shapes the response envelope.
package dispatch

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"browsercontrol/internal/apxerrors"
	"browsercontrol/internal/auth"
	"browsercontrol/internal/driver"
	"browsercontrol/internal/eventbus"
	"browsercontrol/internal/eventstream"
	"browsercontrol/internal/logging"
	"browsercontrol/internal/metrics"
	"browsercontrol/internal/registry"
	"browsercontrol/internal/session"
	"browsercontrol/internal/store"
	"browsercontrol/internal/tool"
)

// SessionBinder is the subset of *registry.Registry the dispatcher
// depends on, narrowed for testability.
type SessionBinder interface {
	GetSession(sessionID string) (*session.Record, error)
	PickDefault() (string, error)
	TrackAction(sessionID, name, selector string, success bool, durationMs int64) error
	CreateSession(ctx context.Context, kind string) (string, error)
	DestroySession(ctx context.Context, sessionID string)
	List() []registry.SessionSummary
	ShouldRetire(sessionID string) bool
}

// Request is the ingress shape spec §6 describes: `{tool, arguments,
// sessionId?, auth}`.
type Request struct {
	Tool      string
	Arguments tool.Params
	SessionID string
	Auth      *auth.Context
}

// Envelope is the response shape spec §6 describes:
// `{status, data?, error?}`.
type Envelope struct {
	Status string      `json:"status"`
	Data   interface{} `json:"data,omitempty"`
	Error  *ErrorBody  `json:"error,omitempty"`
}

type ErrorBody struct {
	Code            string `json:"code"`
	Message         string `json:"message"`
	Field           string `json:"field,omitempty"`
	Value           string `json:"value,omitempty"`
	Troubleshooting string `json:"troubleshooting,omitempty"`
}

// Dispatcher implements spec §4.5.
type Dispatcher struct {
	tools    *tool.Registry
	gate     *auth.Gate
	sessions SessionBinder
	refusing bool // set by the Shutdown Coordinator to stop new intakes

	events  *eventbus.Publisher // optional, nil when the event bus is disabled
	history *store.Sink         // optional, nil when the audit store is disabled
	stream  *eventstream.Hub    // optional, nil when no websocket observers are wired

	metrics  *metrics.Registry
	latency  *metrics.Metric
	inFlight sync.WaitGroup // every Dispatch/CreateSession/CloseSession call holds this for its duration
}

// New builds a Dispatcher. reg records a per-tool latency histogram
// (spec's supplemented metrics surface); pass metrics.NewRegistry() when
// no shared registry exists.
func New(tools *tool.Registry, gate *auth.Gate, sessions SessionBinder, reg *metrics.Registry) *Dispatcher {
	return &Dispatcher{
		tools:    tools,
		gate:     gate,
		sessions: sessions,
		metrics:  reg,
		latency:  reg.Histogram("browsercontrol_tool_duration_ms", "Tool invocation duration in milliseconds", nil, nil),
	}
}

// RefuseNewIntakes is called by the Shutdown Coordinator (spec §4.7)
// when a drain begins.
func (d *Dispatcher) RefuseNewIntakes() { d.refusing = true }

// Drain blocks until every Dispatch/CreateSession/CloseSession call that
// was already in flight when the Shutdown Coordinator began draining has
// completed, or until ctx is done (spec §4.7: "wait for in-flight
// invocations up to a drain deadline"). Call RefuseNewIntakes first so
// the in-flight count can only shrink while Drain waits.
func (d *Dispatcher) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.inFlight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return apxerrors.New(apxerrors.CodeTimeout, "drain deadline exceeded with tool invocations still in flight")
	}
}

// SetEventPublisher wires the optional tool-outcome event bus. Leaving
// it unset means Dispatch never publishes outcomes.
func (d *Dispatcher) SetEventPublisher(p *eventbus.Publisher) { d.events = p }

// SetHistorySink wires the optional session-history audit store.
// Leaving it unset means CloseSession never records history.
func (d *Dispatcher) SetHistorySink(s *store.Sink) { d.history = s }

// SetEventStream wires the optional live websocket broadcast hub.
func (d *Dispatcher) SetEventStream(h *eventstream.Hub) { d.stream = h }

func (d *Dispatcher) broadcast(eventType, sessionID string, payload interface{}) {
	if d.stream == nil {
		return
	}
	d.stream.Broadcast(eventstream.Event{
		Type:      eventType,
		SessionID: sessionID,
		Payload:   payload,
		Timestamp: time.Now().Unix(),
	})
}

// sessionLifecycleResource is the (resource, action) pair the session
// lifecycle tool category authorizes against (spec §6).
const sessionLifecycleResource = "session"

// CreateSession is the create_session tool (spec §6's session lifecycle
// category). It is special-cased ahead of the generic pipeline because,
// unlike every other tool, it runs before any session exists to bind to.
func (d *Dispatcher) CreateSession(ctx context.Context, authCtx *auth.Context, kind string) Envelope {
	d.inFlight.Add(1)
	defer d.inFlight.Done()
	if d.refusing {
		return errEnvelope(apxerrors.New(apxerrors.CodePoolClosed, "server is draining, no new tool calls accepted"))
	}
	if err := d.gate.Authorize(authCtx, sessionLifecycleResource, "create", map[string]string{"kind": kind}); err != nil {
		return errEnvelope(err)
	}
	id, err := d.sessions.CreateSession(ctx, kind)
	if err != nil {
		return errEnvelope(err)
	}
	d.broadcast("session.created", id, map[string]string{"kind": kind})
	return Envelope{Status: "success", Data: map[string]string{"sessionId": id}}
}

// CloseSession is the close_session tool.
func (d *Dispatcher) CloseSession(ctx context.Context, authCtx *auth.Context, sessionID string) Envelope {
	d.inFlight.Add(1)
	defer d.inFlight.Done()
	if err := d.gate.Authorize(authCtx, sessionLifecycleResource, "close", nil); err != nil {
		return errEnvelope(err)
	}

	if d.history != nil {
		if rec, err := d.sessions.GetSession(sessionID); err == nil {
			counters := rec.Counters()
			d.history.Record(store.SessionRecordDoc{
				SessionID:     sessionID,
				Kind:          rec.Kind(),
				CreatedAt:     rec.CreatedAt(),
				DestroyedAt:   time.Now(),
				TotalActions:  counters.TotalActions,
				FailedActions: counters.TotalActions - counters.SuccessfulActions,
			})
		}
	}

	d.sessions.DestroySession(ctx, sessionID)
	d.broadcast("session.closed", sessionID, nil)
	return Envelope{Status: "success"}
}

// ListSessions is the list_sessions tool.
func (d *Dispatcher) ListSessions(authCtx *auth.Context) Envelope {
	if err := d.gate.Authorize(authCtx, sessionLifecycleResource, "list", nil); err != nil {
		return errEnvelope(err)
	}
	return Envelope{Status: "success", Data: d.sessions.List()}
}

// GetSessionInfo is the get_session_info tool.
func (d *Dispatcher) GetSessionInfo(authCtx *auth.Context, sessionID string) Envelope {
	if err := d.gate.Authorize(authCtx, sessionLifecycleResource, "get", nil); err != nil {
		return errEnvelope(err)
	}
	rec, err := d.sessions.GetSession(sessionID)
	if err != nil {
		return errEnvelope(err)
	}
	counters := rec.Counters()
	return Envelope{Status: "success", Data: map[string]interface{}{
		"id":          rec.ID(),
		"kind":        rec.Kind(),
		"createdAt":   rec.CreatedAt(),
		"useCount":    rec.UseCount(),
		"history":     rec.History(),
		"counters":    counters,
	}}
}

// Dispatch runs the full pipeline and always returns an Envelope, never
// a bare Go error — the pipeline is total (spec §9's "no hidden throws
// across component boundaries").
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Envelope {
	d.inFlight.Add(1)
	defer d.inFlight.Done()
	if d.refusing {
		return errEnvelope(apxerrors.New(apxerrors.CodePoolClosed, "server is draining, no new tool calls accepted"))
	}

	// Received → resolve descriptor.
	descriptor, err := d.tools.Lookup(req.Tool)
	if err != nil {
		return errEnvelope(err)
	}

	// Authorized.
	if err := d.gate.Authorize(req.Auth, descriptor.Resource, descriptor.Action, map[string]string{"tool": req.Tool}); err != nil {
		return errEnvelope(err)
	}

	// SessionBound.
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID, err = d.sessions.PickDefault()
		if err != nil {
			return errEnvelope(err)
		}
	}
	rec, err := d.sessions.GetSession(sessionID)
	if err != nil {
		return errEnvelope(err)
	}

	// Validated.
	if err := tool.Validate(descriptor.Schema, req.Arguments); err != nil {
		return errEnvelope(err)
	}

	// Executing.
	handle, ok := rec.Handle().(*driver.Handle)
	if !ok {
		return errEnvelope(apxerrors.New(apxerrors.CodeInternal, "session handle is not a driver-backed handle"))
	}
	cap := driver.CapabilityFor(handle)

	start := time.Now()
	data, execErr := descriptor.Handler(ctx, req.Arguments, rec, cap)
	durationMs := time.Since(start).Milliseconds()
	d.latency.Observe(float64(durationMs))

	success := execErr == nil
	selector, _ := req.Arguments["selector"].(string)
	if trackErr := d.sessions.TrackAction(sessionID, req.Tool, selector, success, durationMs); trackErr != nil {
		logging.Warn("trackAction failed", zap.String("sessionId", sessionID), zap.Error(trackErr))
	}

	if d.events != nil {
		go d.events.Publish(context.Background(), eventbus.ToolOutcome{
			SessionID:  sessionID,
			Tool:       req.Tool,
			Success:    success,
			DurationMs: durationMs,
			Timestamp:  time.Now().Unix(),
		})
	}
	d.broadcast("tool.completed", sessionID, map[string]interface{}{"tool": req.Tool, "success": success, "durationMs": durationMs})

	if execErr != nil {
		rec.RecordOutcome(true)
		// A session that has crossed a retirement threshold (spec §4.2)
		// must not survive to serve another tool call just because it is
		// still borrowed (spec §8's six-consecutive-failures scenario):
		// force it through the same teardown path as an explicit
		// close_session rather than waiting for the caller to give up on it.
		if d.sessions.ShouldRetire(sessionID) {
			d.sessions.DestroySession(context.Background(), sessionID)
		}
		return errEnvelope(execErr)
	}
	rec.RecordOutcome(false)

	// Completed.
	return Envelope{Status: "success", Data: data}
}

func errEnvelope(err error) Envelope {
	apxErr, ok := err.(*apxerrors.Error)
	if !ok {
		apxErr = apxerrors.Wrap(apxerrors.CodeInternal, err.Error(), err)
	}
	return Envelope{
		Status: "error",
		Error: &ErrorBody{
			Code:            string(apxErr.Code),
			Message:         apxErr.Message,
			Field:           apxErr.Field,
			Value:           apxErr.Value,
			Troubleshooting: apxErr.Troubleshooting,
		},
	}
}
