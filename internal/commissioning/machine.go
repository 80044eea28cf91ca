package commissioning

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"zigbee-go-router/internal/events"
	"zigbee-go-router/internal/stack"
)

// Deferrer runs fn on the machine's execution context after d.
type Deferrer interface {
	ScheduleDelayed(fn func(), d time.Duration)
}

// Emitter publishes events. *events.Bus satisfies it.
type Emitter interface {
	Emit(events.Event)
}

// Machine executes Step against a stack. HandleSignal and the retry
// callbacks must all run on one goroutine (see stack.Loop); Snapshot may be
// called from anywhere.
type Machine struct {
	cmds     stack.Commands
	deferrer Deferrer
	policy   RetryPolicy
	emitter  Emitter
	logger   *slog.Logger

	state State
	snap  atomic.Pointer[Snapshot]
}

// Option configures a Machine.
type Option func(*Machine)

// WithRetryPolicy replaces the default one-second unbounded retry.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(m *Machine) { m.policy = p }
}

// WithEmitter publishes reports and phase changes as events.
func WithEmitter(e Emitter) Option {
	return func(m *Machine) { m.emitter = e }
}

// NewMachine creates a machine in PhaseUninitialized.
func NewMachine(cmds stack.Commands, deferrer Deferrer, logger *slog.Logger, opts ...Option) *Machine {
	m := &Machine{
		cmds:     cmds,
		deferrer: deferrer,
		policy:   DefaultRetry(),
		logger:   logger.With("component", "commissioning"),
	}
	for _, opt := range opts {
		opt(m)
	}
	snap := m.state.Snapshot()
	m.snap.Store(&snap)
	return m
}

// HandleSignal feeds one stack signal through the machine.
func (m *Machine) HandleSignal(sig stack.Signal) {
	m.handle(SignalInput(sig))
}

func (m *Machine) retryFired(gen uint64) {
	m.handle(RetryInput(gen))
}

// State returns the current state. Only call it on the execution context.
func (m *Machine) State() State {
	return m.state
}

// Snapshot returns the latest published status view.
func (m *Machine) Snapshot() Snapshot {
	return *m.snap.Load()
}

func (m *Machine) handle(in Input) {
	if in.needsQueries() {
		in.FactoryNew = m.cmds.IsFactoryNew()
		in.Identity = m.cmds.NetworkIdentity()
	}

	prev := m.state
	next, cmds := Step(prev, in, m.policy)
	m.state = next
	snap := next.Snapshot()
	m.snap.Store(&snap)

	for _, c := range cmds {
		m.exec(c)
	}

	if next.Phase != prev.Phase || next.Terminal != prev.Terminal {
		m.logger.Debug("phase changed", "from", prev.Phase.String(), "to", next.Phase.String())
		m.emit(events.EventPhaseChanged, m.Snapshot().Map())
	}
}

func (m *Machine) exec(c Command) {
	switch c := c.(type) {
	case StartCommissioning:
		m.cmds.StartCommissioning(c.Mode)
	case ScheduleRetry:
		gen := c.Gen
		m.deferrer.ScheduleDelayed(func() { m.retryFired(gen) }, c.Delay)
	case Report:
		m.logger.Log(context.Background(), c.Level, c.Msg, c.Attrs...)
		if c.Event != "" {
			m.emit(c.Event, attrsMap(c))
		}
	}
}

func (m *Machine) emit(eventType string, data map[string]interface{}) {
	if m.emitter == nil {
		return
	}
	m.emitter.Emit(events.Event{Type: eventType, Data: data})
}

func attrsMap(r Report) map[string]interface{} {
	m := map[string]interface{}{"message": r.Msg}
	for i := 0; i+1 < len(r.Attrs); i += 2 {
		key, ok := r.Attrs[i].(string)
		if !ok {
			continue
		}
		if d, ok := r.Attrs[i+1].(time.Duration); ok {
			m[key+"_ms"] = d.Milliseconds()
			continue
		}
		m[key] = r.Attrs[i+1]
	}
	return m
}
