package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pantheon-run/pantheon-core/pkg/pantheonerr"
)

const defaultHistoryLimit = 100

// Bus is the in-process, priority-ordered message fabric. Zero value is not
// usable — construct with New.
type Bus struct {
	queueCapacity int
	recorder      Recorder

	mu           sync.RWMutex
	participants map[string]*participant

	waitersMu sync.Mutex
	waiters   map[string]chan *Message // correlation token -> reply channel

	subsMu sync.RWMutex
	subs   map[string]chan *Message // subscription id -> channel
	filter map[string]string        // subscription id -> kind filter ("" = all)

	histMu  sync.Mutex
	history []*Message

	seq atomic.Uint64
}

// Option configures a Bus at construction time.
type Option func(*Bus)

// WithQueueCapacity overrides the default per-participant queue bound.
func WithQueueCapacity(n int) Option {
	return func(b *Bus) { b.queueCapacity = n }
}

// WithRecorder attaches a telemetry sink for counters (queue overflow,
// reply-after-waiter-removed drops). Optional — a nil recorder is a no-op.
func WithRecorder(r Recorder) Option {
	return func(b *Bus) { b.recorder = r }
}

// New creates an empty Bus with no registered participants.
func New(opts ...Option) *Bus {
	b := &Bus{
		queueCapacity: DefaultQueueCapacity,
		participants:  make(map[string]*participant),
		waiters:       make(map[string]chan *Message),
		subs:          make(map[string]chan *Message),
		filter:        make(map[string]string),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Register adds a new named participant. Registering an already-registered
// name replaces its inbox (any messages queued for the old inbox are lost —
// callers that want a fresh start should Unregister first).
func (b *Bus) Register(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.participants[name] = newParticipant(name, b.queueCapacity)
}

// Unregister removes a participant. Sends to it thereafter fail with
// ErrUnknownRecipient; a broadcast in flight that already snapshotted this
// participant still delivers to it, per the spec's "disappearance mid-
// broadcast is not an error" rule.
func (b *Bus) Unregister(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.participants, name)
}

func (b *Bus) lookup(name string) (*participant, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.participants[name]
	return p, ok
}

// Send delivers m to its recipient's inbox and returns immediately. If m is
// a reply (built via Reply) whose CorrelationID matches a pending Request
// waiter, it is routed directly to that waiter instead of being queued —
// consumed exactly once, as the invariant requires. A reply with no
// matching waiter (already timed out, cancelled, or already answered) is
// dropped silently with a telemetry counter increment, per spec. A plain
// message that happens to carry a CorrelationID (the original request
// itself, forwarded along for context) is never intercepted this way —
// only messages built through Reply are.
func (b *Bus) Send(m *Message) error {
	if m.Recipient == BroadcastRecipient {
		return b.Broadcast(m, "")
	}

	recipient, ok := b.lookup(m.Recipient)
	if !ok {
		return pantheonerr.ErrUnknownRecipient
	}

	if m.isReply {
		if delivered := b.deliverToWaiter(m); delivered {
			b.appendHistory(m)
			b.fanoutSubscribers(m)
			return nil
		}
		// Reply arrived after Request already returned (success, timeout,
		// or cancellation). Drop it — never queue a stale reply.
		b.incr(m.Recipient, "reply_after_waiter_removed")
		return nil
	}

	m.seq = b.seq.Add(1)
	if evicted := recipient.offer(m); evicted != nil {
		b.incr(m.Recipient, "queue_overflow")
	}
	b.appendHistory(m)
	b.fanoutSubscribers(m)
	return nil
}

// Request sends m (assigning it a fresh correlation token) and blocks until
// a matching reply arrives, timeout elapses, or ctx is cancelled.
func (b *Bus) Request(ctx context.Context, m *Message, timeout time.Duration) (*Message, error) {
	recipient, ok := b.lookup(m.Recipient)
	if !ok {
		return nil, pantheonerr.ErrUnknownRecipient
	}

	token := uuid.New().String()
	m.CorrelationID = token
	m.ExpectReply = true

	waitCh := make(chan *Message, 1)
	b.waitersMu.Lock()
	b.waiters[token] = waitCh
	b.waitersMu.Unlock()

	m.seq = b.seq.Add(1)
	if evicted := recipient.offer(m); evicted != nil {
		b.incr(m.Recipient, "queue_overflow")
	}
	b.appendHistory(m)
	b.fanoutSubscribers(m)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case reply := <-waitCh:
		return reply, nil
	case <-ctx.Done():
		b.removeWaiter(token)
		if ctx.Err() == context.DeadlineExceeded {
			return nil, pantheonerr.ErrRequestTimeout
		}
		return nil, pantheonerr.ErrCancelled
	}
}

func (b *Bus) deliverToWaiter(m *Message) bool {
	b.waitersMu.Lock()
	ch, ok := b.waiters[m.CorrelationID]
	if ok {
		delete(b.waiters, m.CorrelationID)
	}
	b.waitersMu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- m:
		return true
	default:
		// Waiter channel is buffered(1) and only ever written once, so this
		// branch is unreachable in practice; treat as a drop if it ever fires.
		return false
	}
}

func (b *Bus) removeWaiter(token string) {
	b.waitersMu.Lock()
	delete(b.waiters, token)
	b.waitersMu.Unlock()
}

// Broadcast delivers a copy of m to every currently-registered participant
// except the sender, filtered by kind if kindFilter is non-empty. The
// registry is snapshotted before sends begin, so a participant that
// unregisters mid-broadcast still receives its copy (or, if it unregisters
// before the snapshot, is simply absent — never an error either way).
func (b *Bus) Broadcast(m *Message, kindFilter string) error {
	if kindFilter != "" && m.Kind != kindFilter {
		return nil
	}

	b.mu.RLock()
	targets := make([]*participant, 0, len(b.participants))
	for name, p := range b.participants {
		if name == m.Sender {
			continue
		}
		targets = append(targets, p)
	}
	b.mu.RUnlock()

	for _, p := range targets {
		cp := *m
		cp.Recipient = p.name
		cp.seq = b.seq.Add(1)
		if evicted := p.offer(&cp); evicted != nil {
			b.incr(p.name, "queue_overflow")
		}
	}

	m.Recipient = BroadcastRecipient
	b.appendHistory(m)
	b.fanoutSubscribers(m)
	return nil
}

// Consume blocks until the next message addressed to name is available, or
// ctx is cancelled. This is how an agent capability pulls its input off the
// bus; it is the read half of the "bounded priority queue" the spec assigns
// to every participant.
func (b *Bus) Consume(ctx context.Context, name string) (*Message, error) {
	p, ok := b.lookup(name)
	if !ok {
		return nil, pantheonerr.ErrUnknownRecipient
	}
	return p.consume(ctx)
}

// Subscribe returns a channel of every message the bus processes whose Kind
// matches kindFilter ("" subscribes to all kinds), most useful for
// dashboards/telemetry observers rather than participants driving the
// pipeline. Cancel ctx to stop the subscription and release its channel.
func (b *Bus) Subscribe(ctx context.Context, kindFilter string) <-chan *Message {
	id := uuid.New().String()
	ch := make(chan *Message, 64)

	b.subsMu.Lock()
	b.subs[id] = ch
	b.filter[id] = kindFilter
	b.subsMu.Unlock()

	go func() {
		<-ctx.Done()
		b.subsMu.Lock()
		delete(b.subs, id)
		delete(b.filter, id)
		b.subsMu.Unlock()
		close(ch)
	}()

	return ch
}

func (b *Bus) fanoutSubscribers(m *Message) {
	b.subsMu.RLock()
	defer b.subsMu.RUnlock()
	for id, ch := range b.subs {
		if f := b.filter[id]; f != "" && f != m.Kind {
			continue
		}
		select {
		case ch <- m:
		default:
			// Slow subscriber: drop rather than block the fast path.
		}
	}
}

func (b *Bus) appendHistory(m *Message) {
	b.histMu.Lock()
	defer b.histMu.Unlock()
	b.history = append(b.history, m)
	if len(b.history) > 4*defaultHistoryLimit {
		// Amortized trim: only compact once the backlog is 4x the default
		// read size, so History() itself never pays a per-call copy cost.
		b.history = append([]*Message(nil), b.history[len(b.history)-defaultHistoryLimit:]...)
	}
}

// History returns up to limit most-recently-processed messages, most recent
// first. limit<=0 defaults to 100.
func (b *Bus) History(limit int) []*Message {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	b.histMu.Lock()
	defer b.histMu.Unlock()

	n := len(b.history)
	if limit > n {
		limit = n
	}
	out := make([]*Message, limit)
	for i := 0; i < limit; i++ {
		out[i] = b.history[n-1-i]
	}
	return out
}

func (b *Bus) incr(component, name string) {
	if b.recorder != nil {
		b.recorder.IncrCounter(component, name)
	}
}
