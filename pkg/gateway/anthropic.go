package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/pantheon-run/pantheon-core/pkg/pantheonerr"
)

// AnthropicConnector wraps anthropic-sdk-go behind ProviderConnector.
// The outbound call itself is opaque to the gateway per the spec; this
// type only needs to turn a ConversationRequest into the SDK's message
// params and a reply back into ConversationReply.
type AnthropicConnector struct {
	apiKey string
	model  anthropic.Model
	client anthropic.Client
}

// NewAnthropicConnector builds a connector for the given API key and
// model identifier (e.g. anthropic.ModelClaude3_5SonnetLatest).
func NewAnthropicConnector(apiKey, model string) *AnthropicConnector {
	return &AnthropicConnector{apiKey: apiKey, model: anthropic.Model(model)}
}

func (a *AnthropicConnector) Init(ctx context.Context) error {
	if a.apiKey == "" {
		return errors.New("anthropic: missing API key")
	}
	a.client = anthropic.NewClient(option.WithAPIKey(a.apiKey))
	return nil
}

func (a *AnthropicConnector) Call(ctx context.Context, req ConversationRequest) (ConversationReply, error) {
	messages := make([]anthropic.MessageParam, 0, len(req.History)+1)
	for _, turn := range req.History {
		if turn.Sender == "assistant" {
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(turn.Content)))
		} else {
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(turn.Content)))
		}
	}
	messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(req.Content)))

	maxTokens := int64(4096)
	if v, ok := req.Config["max_tokens"]; ok {
		if n, ok := v.(int); ok {
			maxTokens = int64(n)
		}
	}

	params := anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: maxTokens,
		Messages:  messages,
	}
	if req.SystemPreamble != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPreamble}}
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return ConversationReply{}, classifyAnthropicError(err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	if text == "" {
		return ConversationReply{}, fmt.Errorf("%w: anthropic returned no text content", pantheonerr.ErrProviderMalformed)
	}

	return ConversationReply{
		Text:        text,
		UsageTokens: int(resp.Usage.OutputTokens),
		HasUsage:    true,
	}, nil
}

func (a *AnthropicConnector) Stream(ctx context.Context, req ConversationRequest) (<-chan StreamChunk, <-chan error) {
	chunks := make(chan StreamChunk)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		reply, err := a.Call(ctx, req)
		if err != nil {
			errs <- err
			return
		}
		select {
		case chunks <- StreamChunk{Content: reply.Text, IsComplete: true}:
		case <-ctx.Done():
		}
	}()
	return chunks, errs
}

func (a *AnthropicConnector) Cleanup() error { return nil }

func classifyAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusGatewayTimeout, http.StatusBadGateway:
			return Transient(err)
		case http.StatusUnauthorized, http.StatusBadRequest, http.StatusForbidden:
			return err // terminal: auth/validation
		}
		if apiErr.StatusCode >= 500 {
			return Transient(err)
		}
	}
	return Transient(err) // network-level errors default to transient
}
