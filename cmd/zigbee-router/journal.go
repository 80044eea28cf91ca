package main

import (
	"log/slog"
	"sync"

	"zigbee-go-router/internal/events"
	"zigbee-go-router/internal/store"
)

// journalEvents are the commissioning milestones kept in the join history.
var journalEvents = map[string]bool{
	events.EventStackInitialized:  true,
	events.EventNetworkJoined:     true,
	events.EventNetworkResumed:    true,
	events.EventSteeringFailed:    true,
	events.EventCommissioningFail: true,
	events.EventFactoryReset:      true,
}

// HistoryAppender is the write side of the join journal.
type HistoryAppender interface {
	AppendHistory(e *store.HistoryEntry) error
}

// journal copies milestone events into the store. Writes happen on their
// own goroutine so bus publishers never wait on disk.
type journal struct {
	store  HistoryAppender
	bootID string
	logger *slog.Logger

	mu      sync.Mutex
	closed  bool
	entries chan *store.HistoryEntry
	unsub   func()
	wg      sync.WaitGroup
}

func newJournal(st HistoryAppender, bootID string, logger *slog.Logger) *journal {
	return &journal{
		store:   st,
		bootID:  bootID,
		logger:  logger.With("component", "journal"),
		entries: make(chan *store.HistoryEntry, 64),
	}
}

func (j *journal) Start(bus *events.Bus) {
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		for e := range j.entries {
			if err := j.store.AppendHistory(e); err != nil {
				j.logger.Error("append history", "event", e.Event, "err", err)
			}
		}
	}()
	j.unsub = bus.OnAll(j.record)
}

func (j *journal) record(ev events.Event) {
	if !journalEvents[ev.Type] {
		return
	}
	e := &store.HistoryEntry{Time: ev.Time, BootID: j.bootID, Event: ev.Type}
	if data, ok := ev.Data.(map[string]interface{}); ok {
		e.Data = data
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return
	}
	select {
	case j.entries <- e:
	default:
		j.logger.Warn("journal queue full, dropping entry", "event", ev.Type)
	}
}

// Stop unsubscribes and flushes queued entries.
func (j *journal) Stop() {
	if j.unsub != nil {
		j.unsub()
	}
	j.mu.Lock()
	if !j.closed {
		j.closed = true
		close(j.entries)
	}
	j.mu.Unlock()
	j.wg.Wait()
}
