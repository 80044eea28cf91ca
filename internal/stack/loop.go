package stack

import (
	"context"
	"log/slog"
	"time"
)

// queueSize bounds the number of pending callbacks before Deliver blocks.
const queueSize = 64

// Handler processes one signal on the loop goroutine.
type Handler func(Signal)

// Loop runs signal handlers and deferred callbacks one at a time on a
// single goroutine. Everything the handler touches is owned by that
// goroutine.
type Loop struct {
	queue   chan func()
	handler Handler
	logger  *slog.Logger
	done    chan struct{}
}

// NewLoop creates a loop that dispatches every delivered signal to h.
func NewLoop(h Handler, logger *slog.Logger) *Loop {
	return &Loop{
		queue:   make(chan func(), queueSize),
		handler: h,
		logger:  logger.With("component", "loop"),
		done:    make(chan struct{}),
	}
}

// Deliver queues a signal for the handler. Safe from any goroutine; signals
// delivered after the loop stopped are dropped.
func (l *Loop) Deliver(sig Signal) {
	l.post(func() { l.handler(sig) })
}

// ScheduleDelayed runs fn on the loop after d. Pending callbacks cannot be
// cancelled; callers guard against stale ones themselves.
func (l *Loop) ScheduleDelayed(fn func(), d time.Duration) {
	time.AfterFunc(d, func() { l.post(fn) })
}

// Post queues fn to run on the loop goroutine.
func (l *Loop) Post(fn func()) {
	l.post(fn)
}

func (l *Loop) post(fn func()) {
	select {
	case l.queue <- fn:
	case <-l.done:
		l.logger.Debug("loop stopped, dropping callback")
	}
}

// Run processes callbacks until ctx is cancelled. It must be called once.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-l.queue:
			l.run(fn)
		}
	}
}

func (l *Loop) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("callback panic", "panic", r)
		}
	}()
	fn()
}
