package bus

import (
	"context"
	"sync"
)

// Recorder is the minimal telemetry sink the bus needs. It is satisfied by
// *telemetry.Recorder without this package importing telemetry directly,
// keeping the dependency direction leaf-ward (telemetry doesn't need bus).
type Recorder interface {
	IncrCounter(component, name string)
}

// participant is a registered name's private inbox. Senders push into it
// and return immediately; the owning goroutine (an agent capability, or the
// Pantheon driver on its behalf) drains it via Consume.
type participant struct {
	name string

	mu     sync.Mutex
	queue  *priorityQueue
	notify chan struct{} // buffered(1); signalled whenever a message is offered
}

func newParticipant(name string, capacity int) *participant {
	return &participant{
		name:   name,
		queue:  newPriorityQueue(capacity),
		notify: make(chan struct{}, 1),
	}
}

// offer enqueues m, evicting the lowest-priority oldest entry on overflow.
// Returns the evicted message (nil if none was dropped) so the caller can
// account for it in telemetry.
func (p *participant) offer(m *Message) *Message {
	p.mu.Lock()
	evicted := p.queue.offer(m)
	p.mu.Unlock()

	select {
	case p.notify <- struct{}{}:
	default:
	}
	return evicted
}

// consume blocks until a message is available or ctx is done, in which
// case it returns ctx.Err().
func (p *participant) consume(ctx context.Context) (*Message, error) {
	for {
		p.mu.Lock()
		m, ok := p.queue.take()
		p.mu.Unlock()
		if ok {
			return m, nil
		}

		select {
		case <-p.notify:
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
