package runstore

import (
	"context"
	"sync"

	"github.com/flexinfer/mentatlab/services/pipeline-go/pkg/types"
)

// queue is an unbounded single-producer, single-consumer FIFO of events.
// push never blocks; peek blocks until an event is available or ctx is done.
type queue struct {
	mu     sync.Mutex
	items  []types.Event
	notify chan struct{}
}

func newQueue() *queue {
	return &queue{notify: make(chan struct{}, 1)}
}

func (q *queue) push(evt types.Event) {
	q.mu.Lock()
	q.items = append(q.items, evt)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// peek blocks until an event is queued and returns it without removing it.
func (q *queue) peek(ctx context.Context) (types.Event, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			evt := q.items[0]
			q.mu.Unlock()
			return evt, nil
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-ctx.Done():
			return types.Event{}, ctx.Err()
		}
	}
}

// drop removes the head event.
func (q *queue) drop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) > 0 {
		q.items[0] = types.Event{}
		q.items = q.items[1:]
	}
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
