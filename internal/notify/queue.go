package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/yanun0323/logs"

	"github.com/yanun0323/go-autotrader/internal/obs"
)

var (
	ErrQueueFull   = errors.New("notify queue full")
	ErrQueueClosed = errors.New("notify queue closed")
)

const sendTimeout = 5 * time.Second

// Queue is a bounded, non-blocking dispatcher in front of one or more sinks.
type Queue struct {
	mu      sync.RWMutex
	ch      chan Message
	closed  bool
	sinks   []Sink
	metrics *obs.Metrics
}

// NewQueue allocates a queue with the given capacity.
func NewQueue(capacity int, metrics *obs.Metrics, sinks ...Sink) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{ch: make(chan Message, capacity), sinks: sinks, metrics: metrics}
}

// Notify enqueues without blocking and drops the message when the queue is full.
func (q *Queue) Notify(event Event, payload Payload) {
	if err := q.TryPublish(Message{Event: event, Payload: payload, At: time.Now()}); err != nil {
		q.metrics.IncNotifyDrop()
		logs.Errorf("notify: drop %s, err: %+v", event, err)
	}
}

// TryPublish enqueues a message without blocking.
func (q *Queue) TryPublish(msg Message) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.ch <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops the queue from accepting new messages. Run drains what is left.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}

// Run delivers messages until the context is done or the queue is closed.
func (q *Queue) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-q.ch:
			if !ok {
				return
			}
			q.deliver(ctx, msg)
		}
	}
}

func (q *Queue) deliver(ctx context.Context, msg Message) {
	for _, sink := range q.sinks {
		sctx, cancel := context.WithTimeout(ctx, sendTimeout)
		if err := sink.Send(sctx, msg); err != nil {
			logs.Errorf("notify: sink %T failed for %s, err: %+v", sink, msg.Event, err)
		}
		cancel()
	}
}
