package notify

import (
	"context"
	"sync"
	"time"
)

// Event names an operator-facing occurrence.
type Event string

const (
	EventEntry             Event = "entry"
	EventScale             Event = "scale"
	EventExit              Event = "exit"
	EventStopLoss          Event = "stop_loss"
	EventGridFill          Event = "grid_fill"
	EventRebalance         Event = "rebalance"
	EventPanicClose        Event = "panic_close"
	EventRetryExhausted    Event = "retry_exhausted"
	EventSuspended         Event = "suspended"
	EventResumed           Event = "resumed"
	EventStall             Event = "stall"
	EventCheckpointCorrupt Event = "checkpoint_corrupt"
	EventHalt              Event = "halt"
)

// Payload carries event details.
type Payload map[string]any

// Message is a delivered notification.
type Message struct {
	Event   Event
	Payload Payload
	At      time.Time
}

// Notifier is fire-and-forget: delivery failures never reach the caller.
type Notifier interface {
	Notify(event Event, payload Payload)
}

// Sink delivers a message to one destination.
type Sink interface {
	Send(ctx context.Context, msg Message) error
}

// Nop drops every notification.
type Nop struct{}

func (Nop) Notify(Event, Payload) {}

// Memory keeps notifications in memory.
type Memory struct {
	mu   sync.Mutex
	msgs []Message
}

func (m *Memory) Notify(event Event, payload Payload) {
	m.mu.Lock()
	m.msgs = append(m.msgs, Message{Event: event, Payload: payload, At: time.Now()})
	m.mu.Unlock()
}

func (m *Memory) Send(_ context.Context, msg Message) error {
	m.mu.Lock()
	m.msgs = append(m.msgs, msg)
	m.mu.Unlock()
	return nil
}

// Messages returns a copy of the recorded messages.
func (m *Memory) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.msgs...)
}

// Count returns how many messages of event were recorded.
func (m *Memory) Count(event Event) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, msg := range m.msgs {
		if msg.Event == event {
			n++
		}
	}
	return n
}
