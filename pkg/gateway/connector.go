// Package gateway implements the AI Provider Gateway: a registry of
// outbound connectors sharing rate limiting, retry, resilience, and
// dual-store persistence. Structurally it generalizes the teacher's
// pkg/llm.Client — a single provider's request/stream surface — into a
// small ProviderConnector interface with several concrete
// implementations registered by name, the same "dynamic dispatch across
// heterogeneous providers via a small stable interface" shape the design
// notes call for.
package gateway

import "context"

// ConversationRequest is what the gateway hands to a connector: the
// caller's new content, recent history for the conversation (oldest
// first, capped at 100 by the gateway before the call), and an optional
// system preamble.
type ConversationRequest struct {
	Content        string
	History        []HistoryTurn
	SystemPreamble string
	// Config carries token-budget fields that AcornBoost may have scaled
	// (e.g. "max_tokens"), passed through verbatim to the connector.
	Config map[string]any
}

// HistoryTurn is the minimal shape a connector needs from a stored
// conversation record to rebuild context.
type HistoryTurn struct {
	Sender  string
	Content string
}

// ConversationReply is a connector's textual answer plus whatever usage
// accounting it could report.
type ConversationReply struct {
	Text string
	// UsageTokens is the provider-reported token count for this
	// exchange, when available.
	UsageTokens int
	HasUsage    bool
}

// StreamChunk is one piece of a streaming reply, mirroring the teacher's
// StreamChunk shape in pkg/llm/client.go (content + completion flag +
// error), generalized away from gRPC framing.
type StreamChunk struct {
	Content    string
	IsComplete bool
}

// Descriptor describes a registered provider.
type Descriptor struct {
	Name        string
	Model       string
	BaseURL     string
	Credentials string
	Available   bool
}

// ProviderConnector is the small, stable interface every outbound
// provider satisfies, per DESIGN NOTES §9.
type ProviderConnector interface {
	Init(ctx context.Context) error
	Call(ctx context.Context, req ConversationRequest) (ConversationReply, error)
	Stream(ctx context.Context, req ConversationRequest) (<-chan StreamChunk, <-chan error)
	Cleanup() error
}
