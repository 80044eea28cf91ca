package events

import (
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestBusEmitOn(t *testing.T) {
	b := NewBus(newTestLogger())
	var received Event

	b.On(EventNetworkJoined, func(e Event) {
		received = e
	})

	b.Emit(Event{Type: EventNetworkJoined, Data: "test"})

	if received.Type != EventNetworkJoined {
		t.Errorf("type = %q, want %q", received.Type, EventNetworkJoined)
	}
	if received.Data != "test" {
		t.Errorf("data = %v, want %q", received.Data, "test")
	}
	if received.Time.IsZero() {
		t.Error("time not stamped")
	}
}

func TestBusKeepsExplicitTime(t *testing.T) {
	b := NewBus(newTestLogger())
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	var got time.Time
	b.OnAll(func(e Event) { got = e.Time })

	b.Emit(Event{Type: EventPhaseChanged, Time: ts})

	if !got.Equal(ts) {
		t.Errorf("time = %v, want %v", got, ts)
	}
}

func TestBusOnDoesNotReceiveOtherTypes(t *testing.T) {
	b := NewBus(newTestLogger())
	called := false

	b.On(EventNetworkJoined, func(e Event) {
		called = true
	})

	b.Emit(Event{Type: EventSteeringFailed})

	if called {
		t.Error("handler called for wrong event type")
	}
}

func TestBusOnAll(t *testing.T) {
	b := NewBus(newTestLogger())
	var count atomic.Int32

	b.OnAll(func(e Event) {
		count.Add(1)
	})

	b.Emit(Event{Type: EventPhaseChanged})
	b.Emit(Event{Type: EventSteeringFailed})
	b.Emit(Event{Type: EventRetryScheduled})

	if count.Load() != 3 {
		t.Errorf("onAll called %d times, want 3", count.Load())
	}
}

func TestBusUnsubscribe(t *testing.T) {
	b := NewBus(newTestLogger())
	var count atomic.Int32

	unsub := b.On(EventNetworkJoined, func(e Event) {
		count.Add(1)
	})
	unsubAll := b.OnAll(func(e Event) {
		count.Add(1)
	})

	b.Emit(Event{Type: EventNetworkJoined})
	if count.Load() != 2 {
		t.Fatalf("expected 2 calls before unsub, got %d", count.Load())
	}

	unsub()
	unsubAll()
	b.Emit(Event{Type: EventNetworkJoined})
	if count.Load() != 2 {
		t.Errorf("expected 2 calls after unsub, got %d", count.Load())
	}
}

func TestBusPanicRecovery(t *testing.T) {
	b := NewBus(newTestLogger())
	var called atomic.Int32

	b.On(EventNetworkJoined, func(e Event) {
		called.Add(1)
		panic("test panic")
	})
	b.On(EventNetworkJoined, func(e Event) {
		called.Add(1)
	})

	b.Emit(Event{Type: EventNetworkJoined})

	if c := called.Load(); c != 2 {
		t.Errorf("expected 2 handlers called, got %d", c)
	}
}

func TestBusConcurrentEmit(t *testing.T) {
	b := NewBus(newTestLogger())
	var count atomic.Int32

	b.OnAll(func(e Event) {
		count.Add(1)
	})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Emit(Event{Type: EventStackSignal})
		}()
	}
	wg.Wait()

	if count.Load() != 100 {
		t.Errorf("got %d, want 100", count.Load())
	}
}
