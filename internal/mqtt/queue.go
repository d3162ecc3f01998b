package mqtt

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/sweeney/power-button/internal/logic"
)

// DefaultQueueSize is the number of messages a Queue holds before dropping.
const DefaultQueueSize = 64

type queued struct {
	event  logic.Event
	system *SystemEvent
}

// Queue decouples callers from a slow or unreachable broker. Publish and
// PublishSystem never block: messages are handed to a single worker that
// forwards them in order. When the queue is full the oldest message is
// dropped.
type Queue struct {
	pub Publisher

	mu      sync.Mutex
	cond    *sync.Cond
	items   []queued
	size    int
	closed  bool
	dropped int

	done chan struct{}
}

// NewQueue starts a worker forwarding to pub.
func NewQueue(pub Publisher, size int) *Queue {
	if size < 1 {
		size = DefaultQueueSize
	}
	q := &Queue{
		pub:  pub,
		size: size,
		done: make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q
}

// Publish enqueues a controller transition.
func (q *Queue) Publish(event logic.Event) error {
	q.enqueue(queued{event: event})
	return nil
}

// PublishSystem enqueues a system event.
func (q *Queue) PublishSystem(event SystemEvent) error {
	q.enqueue(queued{system: &event})
	return nil
}

func (q *Queue) enqueue(item queued) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	if len(q.items) == q.size {
		q.items = q.items[1:]
		q.dropped++
		if q.dropped == 1 {
			log.Warn().Int("size", q.size).Msg("mqtt: publish queue full, dropping oldest")
		}
	}
	q.items = append(q.items, item)
	q.cond.Signal()
}

// Dropped returns how many messages were discarded because the queue was full.
func (q *Queue) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// IsConnected forwards to the wrapped publisher when it reports a connection.
func (q *Queue) IsConnected() bool {
	if cs, ok := q.pub.(ConnectionStatus); ok {
		return cs.IsConnected()
	}
	return false
}

func (q *Queue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		for len(q.items) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.items) == 0 {
			q.mu.Unlock()
			return
		}
		item := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()

		q.forward(item)
	}
}

func (q *Queue) forward(item queued) {
	if item.system != nil {
		if err := q.pub.PublishSystem(*item.system); err != nil {
			log.Error().Err(err).Str("event", item.system.Event).Msg("mqtt: publish system event failed")
		}
		return
	}
	if err := q.pub.Publish(item.event); err != nil {
		log.Error().Err(err).Str("event", string(item.event.Type)).Msg("mqtt: publish event failed")
	}
}

// Close flushes pending messages, then closes the wrapped publisher.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return nil
	}
	q.closed = true
	q.cond.Signal()
	q.mu.Unlock()

	<-q.done
	return q.pub.Close()
}
