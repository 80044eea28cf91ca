package stack

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func runLoop(t *testing.T, l *Loop) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(ctx) }()
	return func() {
		cancel()
		select {
		case err := <-errCh:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(2 * time.Second):
			t.Fatal("loop did not stop")
		}
	}
}

func TestLoopDeliversInOrder(t *testing.T) {
	var got []SignalType
	done := make(chan struct{})
	l := NewLoop(func(s Signal) {
		got = append(got, s.Type)
		if len(got) == 3 {
			close(done)
		}
	}, discardLogger())
	stop := runLoop(t, l)
	defer stop()

	l.Deliver(Signal{Type: SignalSkipStartup})
	l.Deliver(Signal{Type: SignalDeviceFirstStart})
	l.Deliver(Signal{Type: SignalSteering})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("signals not delivered")
	}
	assert.Equal(t, []SignalType{SignalSkipStartup, SignalDeviceFirstStart, SignalSteering}, got)
}

func TestLoopSerializesSignalsAndTimers(t *testing.T) {
	// Handler and deferred callbacks share state without locking; the race
	// detector flags any concurrent access.
	counter := 0
	var wg sync.WaitGroup
	const n = 50
	wg.Add(2 * n)

	l := NewLoop(func(Signal) {
		counter++
		wg.Done()
	}, discardLogger())
	stop := runLoop(t, l)
	defer stop()

	for i := 0; i < n; i++ {
		go l.Deliver(Signal{Type: SignalSteering})
		l.ScheduleDelayed(func() {
			counter++
			wg.Done()
		}, time.Millisecond)
	}

	waitCh := make(chan struct{})
	go func() { wg.Wait(); close(waitCh) }()
	select {
	case <-waitCh:
	case <-time.After(5 * time.Second):
		t.Fatal("callbacks did not run")
	}

	result := make(chan int)
	l.Post(func() { result <- counter })
	assert.Equal(t, 2*n, <-result)
}

func TestLoopScheduleDelayedWaits(t *testing.T) {
	l := NewLoop(func(Signal) {}, discardLogger())
	stop := runLoop(t, l)
	defer stop()

	start := time.Now()
	fired := make(chan time.Duration, 1)
	l.ScheduleDelayed(func() { fired <- time.Since(start) }, 50*time.Millisecond)

	select {
	case elapsed := <-fired:
		assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	case <-time.After(2 * time.Second):
		t.Fatal("deferred callback never ran")
	}
}

func TestLoopRecoversFromPanic(t *testing.T) {
	calls := make(chan SignalType, 2)
	l := NewLoop(func(s Signal) {
		if s.Type == SignalError {
			panic("boom")
		}
		calls <- s.Type
	}, discardLogger())
	stop := runLoop(t, l)
	defer stop()

	l.Deliver(Signal{Type: SignalError, Err: errors.New("x")})
	l.Deliver(Signal{Type: SignalSteering})

	select {
	case got := <-calls:
		assert.Equal(t, SignalSteering, got)
	case <-time.After(2 * time.Second):
		t.Fatal("loop died after panic")
	}
}

func TestLoopDropsAfterStop(t *testing.T) {
	l := NewLoop(func(Signal) { t.Error("handler ran after stop") }, discardLogger())
	stop := runLoop(t, l)
	stop()

	for i := 0; i < queueSize+1; i++ {
		l.Deliver(Signal{Type: SignalSteering})
	}
}

func TestSignalStrings(t *testing.T) {
	require.Equal(t, "skip_startup", SignalSkipStartup.String())
	require.Equal(t, "steering", SignalSteering.String())
	require.Equal(t, "signal(0x7F)", SignalType(0x7F).String())
	require.Equal(t, "network_steering", ModeNetworkSteering.String())
	require.Equal(t, "mode(0x10)", Mode(0x10).String())
}

func TestExtendedPanIDString(t *testing.T) {
	id := NetworkIdentity{ExtendedPanID: [8]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}}
	assert.Equal(t, "08:07:06:05:04:03:02:01", id.ExtendedPanIDString())
}
