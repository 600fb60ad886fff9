package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIBackend serves any OpenAI-compatible chat completion endpoint,
// including Ollama's /v1 surface when baseURL points at it.
type OpenAIBackend struct {
	client *openai.Client
	opts   GenerationOptions
}

func NewOpenAIBackend(apiKey, baseURL string, opts GenerationOptions) *OpenAIBackend {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &OpenAIBackend{
		client: openai.NewClientWithConfig(config),
		opts:   opts,
	}
}

func (b *OpenAIBackend) Name() string  { return "openai" }
func (b *OpenAIBackend) Model() string { return b.opts.Model }

func (b *OpenAIBackend) Complete(ctx context.Context, req Request) (string, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:       b.opts.Model,
		Temperature: b.opts.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.Instructions},
			{Role: openai.ChatMessageRoleUser, Content: req.Input},
		},
	}

	if !b.opts.Stream {
		resp, err := b.client.CreateChatCompletion(ctx, chatReq)
		if err != nil {
			return "", classify(ctx, fmt.Errorf("failed to create completion: %w", err))
		}
		if len(resp.Choices) == 0 {
			return "", fmt.Errorf("%w: completion has no choices", ErrMalformedStream)
		}
		return strings.TrimSpace(resp.Choices[0].Message.Content), nil
	}

	chatReq.Stream = true
	stream, err := b.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return "", classify(ctx, fmt.Errorf("failed to open completion stream: %w", err))
	}
	defer stream.Close()

	var sb strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", classify(ctx, fmt.Errorf("completion stream broken: %w", err))
		}
		for _, choice := range chunk.Choices {
			sb.WriteString(choice.Delta.Content)
		}
	}

	return strings.TrimSpace(sb.String()), nil
}
