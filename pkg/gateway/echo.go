package gateway

import "context"

// EchoConnector is the deterministic, in-process test connector. It
// returns the input content reversed and reports no usage, matching
// Scenario A's contract exactly.
type EchoConnector struct{}

func NewEchoConnector() *EchoConnector { return &EchoConnector{} }

func (e *EchoConnector) Init(ctx context.Context) error { return nil }

func (e *EchoConnector) Call(ctx context.Context, req ConversationRequest) (ConversationReply, error) {
	return ConversationReply{Text: reverse(req.Content)}, nil
}

func (e *EchoConnector) Stream(ctx context.Context, req ConversationRequest) (<-chan StreamChunk, <-chan error) {
	chunks := make(chan StreamChunk, 1)
	errs := make(chan error, 1)
	chunks <- StreamChunk{Content: reverse(req.Content), IsComplete: true}
	close(chunks)
	close(errs)
	return chunks, errs
}

func (e *EchoConnector) Cleanup() error { return nil }

func reverse(s string) string {
	r := []rune(s)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r)
}
