// Package store implements the dual-store persistence layer: a remote
// primary (Redis) mirrored into an embedded fallback (bbolt), with
// automatic read-degradation and per-conversation pruning. The schema
// mirrors the teacher's Ent-modeled conversation records, just without
// the Ent/Postgres machinery — this package owns its own on-disk format.
package store

import "time"

// Record is one provider-exchange entry in a conversation's log.
type Record struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Timestamp      time.Time `json:"timestamp"`
	Sender         string    `json:"sender"`
	Content        string    `json:"content"`
	Response       string    `json:"response"`
	Provider       string    `json:"provider"`
	ResponseTime   float64   `json:"response_time"`
	Error          string    `json:"error,omitempty"`

	// UsageTokens carries the provider-reported token count for this
	// exchange through to budget accounting. Not part of the on-disk
	// schema — the stores persist the exchange, not the billing hint.
	UsageTokens int `json:"-"`
}
