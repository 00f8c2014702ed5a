package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/pantheon-run/pantheon-core/pkg/pantheonerr"
)

// BedrockConnector wraps aws-sdk-go-v2's bedrockruntime client behind
// ProviderConnector, using the Anthropic-on-Bedrock Messages API body
// shape (the common case for this pack's provider set).
type BedrockConnector struct {
	modelID string
	region  string
	client  *bedrockruntime.Client
}

// NewBedrockConnector builds a connector for the given Bedrock model id
// (e.g. "anthropic.claude-3-5-sonnet-20241022-v2:0") and AWS region.
func NewBedrockConnector(modelID, region string) *BedrockConnector {
	return &BedrockConnector{modelID: modelID, region: region}
}

func (b *BedrockConnector) Init(ctx context.Context) error {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(b.region))
	if err != nil {
		return fmt.Errorf("bedrock: load aws config: %w", err)
	}
	b.client = bedrockruntime.NewFromConfig(cfg)
	return nil
}

type bedrockMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type bedrockRequestBody struct {
	AnthropicVersion string           `json:"anthropic_version"`
	MaxTokens        int              `json:"max_tokens"`
	System           string           `json:"system,omitempty"`
	Messages         []bedrockMessage `json:"messages"`
}

type bedrockResponseBody struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (b *BedrockConnector) Call(ctx context.Context, req ConversationRequest) (ConversationReply, error) {
	messages := make([]bedrockMessage, 0, len(req.History)+1)
	for _, turn := range req.History {
		role := "user"
		if turn.Sender == "assistant" {
			role = "assistant"
		}
		messages = append(messages, bedrockMessage{Role: role, Content: turn.Content})
	}
	messages = append(messages, bedrockMessage{Role: "user", Content: req.Content})

	maxTokens := 4096
	if v, ok := req.Config["max_tokens"]; ok {
		if n, ok := v.(int); ok {
			maxTokens = n
		}
	}

	body := bedrockRequestBody{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        maxTokens,
		System:           req.SystemPreamble,
		Messages:         messages,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return ConversationReply{}, fmt.Errorf("bedrock: marshal request: %w", err)
	}

	out, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     &b.modelID,
		ContentType: strPtr("application/json"),
		Body:        payload,
	})
	if err != nil {
		return ConversationReply{}, classifyBedrockError(err)
	}

	var resp bedrockResponseBody
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return ConversationReply{}, fmt.Errorf("%w: bedrock response body: %v", pantheonerr.ErrProviderMalformed, err)
	}

	var text bytes.Buffer
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return ConversationReply{}, fmt.Errorf("%w: bedrock returned no text content", pantheonerr.ErrProviderMalformed)
	}

	return ConversationReply{
		Text:        text.String(),
		UsageTokens: resp.Usage.OutputTokens,
		HasUsage:    true,
	}, nil
}

func (b *BedrockConnector) Stream(ctx context.Context, req ConversationRequest) (<-chan StreamChunk, <-chan error) {
	chunks := make(chan StreamChunk)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		reply, err := b.Call(ctx, req)
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

func (b *BedrockConnector) Cleanup() error { return nil }

func classifyBedrockError(err error) error {
	var throttling *types.ThrottlingException
	var serviceUnavail *types.ServiceUnavailableException
	var internal *types.InternalServerException
	if errors.As(err, &throttling) || errors.As(err, &serviceUnavail) || errors.As(err, &internal) {
		return Transient(err)
	}
	var validation *types.ValidationException
	var accessDenied *types.AccessDeniedException
	if errors.As(err, &validation) || errors.As(err, &accessDenied) {
		return err // terminal
	}
	return Transient(err)
}

func strPtr(s string) *string { return &s }
