package commissioning

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zigbee-go-router/internal/stack"
)

var errNoNetwork = errors.New("no joinable network")

func sig(t stack.SignalType, err error) Input {
	return SignalInput(stack.Signal{Type: t, Err: err})
}

func startModes(cmds []Command) []stack.Mode {
	var modes []stack.Mode
	for _, c := range cmds {
		if sc, ok := c.(StartCommissioning); ok {
			modes = append(modes, sc.Mode)
		}
	}
	return modes
}

func retries(cmds []Command) []ScheduleRetry {
	var out []ScheduleRetry
	for _, c := range cmds {
		if r, ok := c.(ScheduleRetry); ok {
			out = append(out, r)
		}
	}
	return out
}

func TestStepTransitions(t *testing.T) {
	id := stack.NetworkIdentity{PanID: 0x1A62, Channel: 15, ShortAddress: 0x4F21}

	tests := []struct {
		name      string
		state     State
		input     Input
		wantPhase Phase
		wantModes []stack.Mode
		terminal  bool
	}{
		{
			name:      "stack ready starts initialization",
			state:     State{Phase: PhaseUninitialized},
			input:     sig(stack.SignalSkipStartup, nil),
			wantPhase: PhaseInitializingStack,
			wantModes: []stack.Mode{stack.ModeInitialization},
		},
		{
			name:      "first start factory new steers",
			state:     State{Phase: PhaseInitializingStack},
			input:     Input{Kind: InputSignal, Signal: stack.Signal{Type: stack.SignalDeviceFirstStart}, FactoryNew: true},
			wantPhase: PhaseSteering,
			wantModes: []stack.Mode{stack.ModeNetworkSteering},
		},
		{
			name:      "reboot factory new steers",
			state:     State{Phase: PhaseInitializingStack},
			input:     Input{Kind: InputSignal, Signal: stack.Signal{Type: stack.SignalDeviceReboot}, FactoryNew: true},
			wantPhase: PhaseSteering,
			wantModes: []stack.Mode{stack.ModeNetworkSteering},
		},
		{
			name:      "reboot with network resumes",
			state:     State{Phase: PhaseInitializingStack},
			input:     Input{Kind: InputSignal, Signal: stack.Signal{Type: stack.SignalDeviceReboot}, Identity: id},
			wantPhase: PhaseJoined,
		},
		{
			name:      "startup failure is fatal",
			state:     State{Phase: PhaseInitializingStack},
			input:     sig(stack.SignalDeviceFirstStart, errors.New("radio")),
			wantPhase: PhaseUninitialized,
			terminal:  true,
		},
		{
			name:      "steering success joins",
			state:     State{Phase: PhaseSteering},
			input:     Input{Kind: InputSignal, Signal: stack.Signal{Type: stack.SignalSteering}, Identity: id},
			wantPhase: PhaseJoined,
		},
		{
			name:      "steering failure waits",
			state:     State{Phase: PhaseSteering},
			input:     sig(stack.SignalSteering, errNoNetwork),
			wantPhase: PhaseSteeringRetryWait,
		},
		{
			name:      "matching retry steers again",
			state:     State{Phase: PhaseSteeringRetryWait, RetryGen: 3, Failures: 3},
			input:     RetryInput(3),
			wantPhase: PhaseSteering,
			wantModes: []stack.Mode{stack.ModeNetworkSteering},
		},
		{
			name:      "old retry generation ignored",
			state:     State{Phase: PhaseSteeringRetryWait, RetryGen: 3, Failures: 3},
			input:     RetryInput(2),
			wantPhase: PhaseSteeringRetryWait,
		},
		{
			name:      "steering success while waiting joins",
			state:     State{Phase: PhaseSteeringRetryWait, RetryGen: 1, Failures: 1},
			input:     Input{Kind: InputSignal, Signal: stack.Signal{Type: stack.SignalSteering}, Identity: id},
			wantPhase: PhaseJoined,
		},
		{
			name:      "steering failure outside steering ignored",
			state:     State{Phase: PhaseJoined},
			input:     sig(stack.SignalSteering, errNoNetwork),
			wantPhase: PhaseJoined,
		},
		{
			name:      "skip startup twice ignored",
			state:     State{Phase: PhaseSteering},
			input:     sig(stack.SignalSkipStartup, nil),
			wantPhase: PhaseSteering,
		},
		{
			name:      "reboot outside initialization ignored",
			state:     State{Phase: PhaseJoined},
			input:     sig(stack.SignalDeviceReboot, nil),
			wantPhase: PhaseJoined,
		},
		{
			name:      "unrecognized signal only logs",
			state:     State{Phase: PhaseSteering},
			input:     sig(stack.SignalDeviceAnnce, nil),
			wantPhase: PhaseSteering,
		},
		{
			name:      "terminal ignores stack ready",
			state:     State{Phase: PhaseUninitialized, Terminal: true},
			input:     sig(stack.SignalSkipStartup, nil),
			wantPhase: PhaseUninitialized,
			terminal:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, cmds := Step(tt.state, tt.input, DefaultRetry())
			assert.Equal(t, tt.wantPhase, next.Phase)
			assert.Equal(t, tt.wantModes, startModes(cmds))
			assert.Equal(t, tt.terminal, next.Terminal)
		})
	}
}

func TestStepSteeringFailureSchedulesRetry(t *testing.T) {
	s := State{Phase: PhaseSteering, Failures: 4, RetryGen: 7}

	next, cmds := Step(s, sig(stack.SignalSteering, errNoNetwork), DefaultRetry())

	assert.Equal(t, PhaseSteeringRetryWait, next.Phase)
	assert.Equal(t, 5, next.Failures)
	assert.Equal(t, uint64(8), next.RetryGen)
	assert.Empty(t, startModes(cmds), "steering must not restart before the delay")
	require.Equal(t, []ScheduleRetry{{Delay: time.Second, Gen: 8}}, retries(cmds))
}

func TestStepJoinRecordsIdentity(t *testing.T) {
	id := stack.NetworkIdentity{
		ExtendedPanID: [8]byte{1, 2, 3, 4, 5, 6, 7, 8},
		PanID:         0xBEEF,
		Channel:       20,
		ShortAddress:  0x1234,
	}
	in := Input{Kind: InputSignal, Signal: stack.Signal{Type: stack.SignalSteering}, Identity: id}

	next, _ := Step(State{Phase: PhaseSteering, Failures: 2}, in, DefaultRetry())

	require.NotNil(t, next.Identity)
	assert.Equal(t, id, *next.Identity)
	assert.Equal(t, 2, next.Failures, "failure count is never reset")
}

func TestStepIsPure(t *testing.T) {
	s := State{Phase: PhaseSteering}
	in := sig(stack.SignalSteering, errNoNetwork)

	a, ca := Step(s, in, DefaultRetry())
	b, cb := Step(s, in, DefaultRetry())

	assert.Equal(t, a, b)
	assert.Equal(t, ca, cb)
	assert.Equal(t, PhaseSteering, s.Phase)
	assert.Zero(t, s.Failures)
}

func TestStepExhaustedPolicyIsFatal(t *testing.T) {
	policy := FixedRetry{Delay: time.Second, MaxAttempts: 2}
	s := State{Phase: PhaseSteering, Failures: 2, RetryGen: 2}

	next, cmds := Step(s, sig(stack.SignalSteering, errNoNetwork), policy)

	assert.True(t, next.Terminal)
	assert.Equal(t, PhaseUninitialized, next.Phase)
	assert.Equal(t, 3, next.Failures)
	assert.NotEmpty(t, next.Reason)
	assert.Empty(t, retries(cmds))
	assert.Empty(t, startModes(cmds))
}

func TestRetryPolicies(t *testing.T) {
	fixed := DefaultRetry()
	for _, n := range []int{1, 2, 100, 10000} {
		d, ok := fixed.Next(n)
		assert.True(t, ok)
		assert.Equal(t, time.Second, d)
	}

	exp := ExponentialRetry{Initial: 100 * time.Millisecond, Max: time.Second, MaxAttempts: 6}
	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
		time.Second,
	}
	for i, w := range want {
		d, ok := exp.Next(i + 1)
		require.True(t, ok, "failure %d", i+1)
		assert.Equal(t, w, d, "failure %d", i+1)
	}
	_, ok := exp.Next(7)
	assert.False(t, ok)
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "steering_retry_wait", PhaseSteeringRetryWait.String())
	assert.Equal(t, "phase(42)", Phase(42).String())
}
