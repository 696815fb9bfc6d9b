// Package buffer provides the per-session event ring buffer used for
// stream replay.
package buffer

import (
	"sync"
	"time"

	"github.com/claude-bridge/backend/internal/protocol"
)

// BufferedEvent is one event together with its session-scoped id. Ids are
// assigned sequentially starting at 1 and never reused within a session.
type BufferedEvent struct {
	ID        int64
	Type      protocol.EventType
	Data      any
	Timestamp time.Time
}

// EventBuffer is a thread-safe ring buffer of the most recent events for
// one session. When full, the oldest event is discarded to make room.
// Reconnecting clients replay from it by last seen event id.
type EventBuffer struct {
	mu       sync.RWMutex
	events   []BufferedEvent
	capacity int
	lastID   int64
}

// NewEventBuffer creates an EventBuffer with the given capacity.
// The capacity must be greater than 0; if not, it defaults to 1.
func NewEventBuffer(capacity int) *EventBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &EventBuffer{
		events:   make([]BufferedEvent, 0, capacity),
		capacity: capacity,
	}
}

// Append assigns the next id to the event, stores it, and returns the
// stored copy.
func (b *EventBuffer) Append(typ protocol.EventType, data any) BufferedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastID++
	ev := BufferedEvent{
		ID:        b.lastID,
		Type:      typ,
		Data:      data,
		Timestamp: time.Now(),
	}
	if len(b.events) == b.capacity {
		copy(b.events, b.events[1:])
		b.events[len(b.events)-1] = ev
	} else {
		b.events = append(b.events, ev)
	}
	return ev
}

// History returns a copy of the most recent n events in id order. n <= 0
// returns all buffered events.
func (b *EventBuffer) History(n int) []BufferedEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n <= 0 || n > len(b.events) {
		n = len(b.events)
	}
	if n == 0 {
		return nil
	}
	out := make([]BufferedEvent, n)
	copy(out, b.events[len(b.events)-n:])
	return out
}

// ReplayAfter returns a copy of all buffered events with id greater than
// afterID, in id order. If afterID predates the oldest buffered event the
// whole buffer is returned; intervening evicted events are silently gone.
func (b *EventBuffer) ReplayAfter(afterID int64) []BufferedEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()

	start := len(b.events)
	for i, ev := range b.events {
		if ev.ID > afterID {
			start = i
			break
		}
	}
	if start == len(b.events) {
		return nil
	}
	out := make([]BufferedEvent, len(b.events)-start)
	copy(out, b.events[start:])
	return out
}

// LastID returns the id of the most recently appended event, or 0 when
// nothing has been appended.
func (b *EventBuffer) LastID() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.lastID
}

// Len returns the number of buffered events.
func (b *EventBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.events)
}

// Clear drops all buffered events. Id assignment continues from where it
// left off.
func (b *EventBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events = b.events[:0]
}
