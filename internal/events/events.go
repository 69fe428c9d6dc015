// Package events provides an in-process pub/sub bus for backtest lifecycle
// notifications.
package events

import (
	"log/slog"
	"sync"
	"time"
)

// Event types published by the engine.
const (
	BacktestStarted   = "backtest.started"
	BacktestCompleted = "backtest.completed"
	BacktestFailed    = "backtest.failed"
)

// Event is a single lifecycle notification.
type Event struct {
	Type    string         `json:"type"`
	RunID   string         `json:"run_id"`
	Payload map[string]any `json:"payload,omitempty"`
	At      time.Time      `json:"at"`
}

// Publisher accepts events for fan-out.
type Publisher interface {
	Publish(e Event)
}

// Compile-time interface check.
var _ Publisher = (*Bus)(nil)

// Bus fans events out to subscribers and keeps the most recent ones for
// late readers.
type Bus struct {
	log *slog.Logger

	subsMu    sync.Mutex
	nextSubID int
	subs      map[int]chan Event

	histMu  sync.Mutex
	history []Event
	keep    int
}

// NewBus creates a Bus retaining up to keep past events.
func NewBus(keep int, log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	if keep < 0 {
		keep = 0
	}
	return &Bus{
		log:  log.With("component", "events"),
		subs: make(map[int]chan Event),
		keep: keep,
	}
}

// Subscribe returns a channel that receives events. bufSize controls the
// channel buffer; slow consumers will have events dropped.
func (b *Bus) Subscribe(bufSize int) (int, <-chan Event) {
	ch := make(chan Event, bufSize)
	b.subsMu.Lock()
	id := b.nextSubID
	b.nextSubID++
	b.subs[id] = ch
	b.subsMu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(id int) {
	b.subsMu.Lock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
	b.subsMu.Unlock()
}

// Publish records e and delivers it to every subscriber without blocking.
// A zero At is stamped with the current time.
func (b *Bus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	if b.keep > 0 {
		b.histMu.Lock()
		b.history = append(b.history, e)
		if over := len(b.history) - b.keep; over > 0 {
			b.history = append(b.history[:0], b.history[over:]...)
		}
		b.histMu.Unlock()
	}

	b.subsMu.Lock()
	defer b.subsMu.Unlock()
	for id, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.log.Debug("dropping event for slow subscriber", "subscriber", id, "type", e.Type)
		}
	}
}

// Recent returns up to n of the latest events, oldest first. n <= 0 returns
// everything retained.
func (b *Bus) Recent(n int) []Event {
	b.histMu.Lock()
	defer b.histMu.Unlock()
	start := 0
	if n > 0 && n < len(b.history) {
		start = len(b.history) - n
	}
	out := make([]Event, len(b.history)-start)
	copy(out, b.history[start:])
	return out
}

// Discard is a Publisher that drops every event.
type Discard struct{}

// Publish implements Publisher.
func (Discard) Publish(Event) {}
