// Package bus implements the in-process, priority-ordered message fabric
// that connects named participants ("agents") on a single process. It
// supports fire-and-forget sends, request/reply with correlation tokens,
// and broadcast fan-out, following the same registry-snapshot-then-fan-out
// idiom as a WebSocket connection manager, just without the network.
package bus

import (
	"time"

	"github.com/google/uuid"
)

// Priority orders messages within one participant's queue. Higher values
// are serviced first; within the same priority, delivery is FIFO.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

// BroadcastRecipient is the recipient value used for broadcast sends.
const BroadcastRecipient = "*"

// Message is immutable once created. A reply message must echo the
// originating request's CorrelationID and be addressed back to the
// request's Sender — that invariant is enforced by Reply, not by this
// struct, since the struct itself has no way to validate it was built
// correctly by hand.
type Message struct {
	ID            string
	Sender        string
	Recipient     string
	Kind          string
	Payload       map[string]any
	Priority      Priority
	CorrelationID string
	CreatedAt     time.Time
	ExpectReply   bool

	// seq is assigned by the bus when the message is queued for a
	// participant and orders messages of equal priority oldest-first in
	// that participant's queue (delivery and overflow eviction alike).
	seq uint64

	// isReply marks a message built by Reply, so Send can route it to a
	// pending Request waiter instead of enqueuing it normally. A plain
	// message that happens to carry a CorrelationID (e.g. the original
	// request itself, forwarded along for context) is never treated as a
	// reply — only messages built through Reply are.
	isReply bool
}

// NewMessage builds a Message with a fresh id and timestamp and an empty
// CorrelationID. Payload may be nil. Callers that want a reply send the
// message through Bus.Request, which fills in CorrelationID and
// ExpectReply; the receiver answers by passing the request to Reply. A
// plain send awaiting no reply leaves CorrelationID empty.
func NewMessage(sender, recipient, kind string, payload map[string]any) *Message {
	if payload == nil {
		payload = map[string]any{}
	}
	return &Message{
		ID:        uuid.New().String(),
		Sender:    sender,
		Recipient: recipient,
		Kind:      kind,
		Payload:   payload,
		Priority:  PriorityNormal,
		CreatedAt: time.Now(),
	}
}

// Reply builds the response message for an incoming request. It echoes the
// correlation token and addresses the reply back to the original sender, as
// required by the Message invariant in the data model.
func Reply(request *Message, kind string, payload map[string]any) *Message {
	m := NewMessage(request.Recipient, request.Sender, kind, payload)
	m.CorrelationID = request.CorrelationID
	m.isReply = true
	return m
}

// InReplyTo reports the correlation token this message is replying to, if any.
// It is a read-only accessor over CorrelationID — no separate field is kept.
func (m *Message) InReplyTo() (string, bool) {
	return m.CorrelationID, m.CorrelationID != ""
}
