package commissioning

import (
	"log/slog"
	"time"

	"zigbee-go-router/internal/events"
	"zigbee-go-router/internal/stack"
)

// InputKind tells Step what woke the machine up.
type InputKind uint8

const (
	InputSignal InputKind = iota
	InputRetryFired
)

// Input is one stimulus for Step. FactoryNew and Identity are the answers to
// the stack queries, resolved by the caller for successful startup and
// steering signals.
type Input struct {
	Kind       InputKind
	Signal     stack.Signal
	RetryGen   uint64
	FactoryNew bool
	Identity   stack.NetworkIdentity
}

// SignalInput wraps a stack signal.
func SignalInput(sig stack.Signal) Input {
	return Input{Kind: InputSignal, Signal: sig}
}

// RetryInput is the stimulus produced when the retry timer for gen fires.
func RetryInput(gen uint64) Input {
	return Input{Kind: InputRetryFired, RetryGen: gen}
}

// needsQueries reports whether Step will look at FactoryNew or Identity.
func (in Input) needsQueries() bool {
	if in.Kind != InputSignal || !in.Signal.OK() {
		return false
	}
	switch in.Signal.Type {
	case stack.SignalDeviceFirstStart, stack.SignalDeviceReboot, stack.SignalSteering:
		return true
	}
	return false
}

// Command is an effect requested by Step.
type Command interface {
	isCommand()
}

// StartCommissioning asks the stack to run a commissioning mode.
type StartCommissioning struct {
	Mode stack.Mode
}

// ScheduleRetry asks for RetryInput(Gen) to be delivered after Delay.
type ScheduleRetry struct {
	Delay time.Duration
	Gen   uint64
}

// Report is a log line and, when Event is set, a bus event.
type Report struct {
	Level slog.Level
	Event string
	Msg   string
	Attrs []any
}

func (StartCommissioning) isCommand() {}
func (ScheduleRetry) isCommand()      {}
func (Report) isCommand()             {}

// Step is the commissioning transition function. It never blocks and has no
// side effects; everything it wants done comes back as commands.
func Step(s State, in Input, policy RetryPolicy) (State, []Command) {
	if s.Terminal {
		return s, []Command{Report{
			Level: slog.LevelDebug,
			Msg:   "commissioning stopped, input ignored",
			Attrs: inputAttrs(in),
		}}
	}
	if in.Kind == InputRetryFired {
		return stepRetry(s, in)
	}

	sig := in.Signal
	switch sig.Type {
	case stack.SignalSkipStartup:
		return stepSkipStartup(s, in)
	case stack.SignalDeviceFirstStart, stack.SignalDeviceReboot:
		return stepStartup(s, in)
	case stack.SignalSteering:
		return stepSteering(s, in, policy)
	}
	return s, []Command{Report{
		Level: slog.LevelInfo,
		Event: events.EventStackSignal,
		Msg:   "ZDO signal",
		Attrs: signalAttrs(sig),
	}}
}

func stepSkipStartup(s State, in Input) (State, []Command) {
	if s.Phase != PhaseUninitialized {
		return s, []Command{unexpected(s, in)}
	}
	s.Phase = PhaseInitializingStack
	return s, []Command{
		Report{Level: slog.LevelInfo, Msg: "initializing Zigbee stack"},
		StartCommissioning{Mode: stack.ModeInitialization},
	}
}

func stepStartup(s State, in Input) (State, []Command) {
	if s.Phase != PhaseInitializingStack {
		return s, []Command{unexpected(s, in)}
	}
	if !in.Signal.OK() {
		s.Phase = PhaseUninitialized
		s.Terminal = true
		s.Reason = "stack initialization failed: " + in.Signal.Err.Error()
		return s, []Command{Report{
			Level: slog.LevelError,
			Event: events.EventCommissioningFail,
			Msg:   "failed to initialize Zigbee stack",
			Attrs: signalAttrs(in.Signal),
		}}
	}

	cmds := []Command{Report{
		Level: slog.LevelInfo,
		Event: events.EventStackInitialized,
		Msg:   "device started",
		Attrs: []any{"signal", in.Signal.Type.String(), "factory_new", in.FactoryNew},
	}}
	if in.FactoryNew {
		// FactoryNewStartup has no work of its own; steering starts at once.
		s.Phase = PhaseSteering
		return s, append(cmds,
			Report{Level: slog.LevelInfo, Msg: "start network steering"},
			StartCommissioning{Mode: stack.ModeNetworkSteering},
		)
	}

	id := in.Identity
	s.Phase = PhaseJoined
	s.Identity = &id
	return s, append(cmds, Report{
		Level: slog.LevelInfo,
		Event: events.EventNetworkResumed,
		Msg:   "device rebooted, network resumed",
		Attrs: id.LogAttrs(),
	})
}

func stepSteering(s State, in Input, policy RetryPolicy) (State, []Command) {
	ok := in.Signal.OK()
	switch {
	case s.Phase == PhaseSteering && ok:
		return joined(s, in.Identity, "joined network")

	case s.Phase == PhaseSteeringRetryWait && ok:
		// Joined without our retry; the pending one goes stale.
		return joined(s, in.Identity, "joined network while waiting to retry")

	case s.Phase == PhaseJoined && ok:
		id := in.Identity
		s.Identity = &id
		return s, []Command{Report{
			Level: slog.LevelDebug,
			Msg:   "steering confirmed while joined",
			Attrs: id.LogAttrs(),
		}}

	case s.Phase == PhaseSteering:
		s.Failures++
		delay, retry := policy.Next(s.Failures)
		failed := Report{
			Level: slog.LevelWarn,
			Event: events.EventSteeringFailed,
			Msg:   "network steering was not successful",
			Attrs: append(signalAttrs(in.Signal), "failures", s.Failures),
		}
		if !retry {
			s.Phase = PhaseUninitialized
			s.Terminal = true
			s.Reason = "network steering retries exhausted"
			return s, []Command{failed, Report{
				Level: slog.LevelError,
				Event: events.EventCommissioningFail,
				Msg:   "giving up on network steering",
				Attrs: []any{"failures", s.Failures},
			}}
		}
		s.RetryGen++
		s.Phase = PhaseSteeringRetryWait
		return s, []Command{
			failed,
			Report{
				Level: slog.LevelInfo,
				Event: events.EventRetryScheduled,
				Msg:   "retrying network steering",
				Attrs: []any{"delay", delay, "attempt", s.Failures + 1},
			},
			ScheduleRetry{Delay: delay, Gen: s.RetryGen},
		}
	}
	return s, []Command{unexpected(s, in)}
}

func stepRetry(s State, in Input) (State, []Command) {
	if s.Phase != PhaseSteeringRetryWait || in.RetryGen != s.RetryGen {
		return s, []Command{Report{
			Level: slog.LevelDebug,
			Event: events.EventStaleRetry,
			Msg:   "stale steering retry ignored",
			Attrs: []any{"phase", s.Phase.String(), "gen", in.RetryGen, "current_gen", s.RetryGen},
		}}
	}
	s.Phase = PhaseSteering
	return s, []Command{
		Report{Level: slog.LevelInfo, Msg: "start network steering", Attrs: []any{"attempt", s.Failures + 1}},
		StartCommissioning{Mode: stack.ModeNetworkSteering},
	}
}

func joined(s State, id stack.NetworkIdentity, msg string) (State, []Command) {
	s.Phase = PhaseJoined
	s.Identity = &id
	return s, []Command{Report{
		Level: slog.LevelInfo,
		Event: events.EventNetworkJoined,
		Msg:   msg,
		Attrs: id.LogAttrs(),
	}}
}

func unexpected(s State, in Input) Report {
	return Report{
		Level: slog.LevelWarn,
		Msg:   "signal ignored in current phase",
		Attrs: append(signalAttrs(in.Signal), "phase", s.Phase.String()),
	}
}

func signalAttrs(sig stack.Signal) []any {
	status := "ok"
	if sig.Err != nil {
		status = sig.Err.Error()
	}
	return []any{"signal", sig.Type.String(), "code", uint8(sig.Type), "status", status}
}

func inputAttrs(in Input) []any {
	if in.Kind == InputRetryFired {
		return []any{"retry_gen", in.RetryGen}
	}
	return signalAttrs(in.Signal)
}
