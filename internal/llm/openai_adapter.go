package llm

import (
	"context"
	"errors"
	"fmt"
	"io"

	"oa-worksheets/internal/config"
	"oa-worksheets/internal/utils"
	"oa-worksheets/pkg/logger"

	einoModel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	openai "github.com/sashabaranov/go-openai"
)

// openaiChatModel adapts go-openai to eino's chat model interface.
type openaiChatModel struct {
	client *openai.Client
	model  string
}

func newOpenAIChatModel(_ context.Context, cfg config.OpenAIConfig) (*openaiChatModel, error) {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	clientConfig.HTTPClient = utils.NewHTTPClient(0, nil)

	return &openaiChatModel{
		client: openai.NewClientWithConfig(clientConfig),
		model:  cfg.Model,
	}, nil
}

func (m *openaiChatModel) Generate(ctx context.Context, messages []*schema.Message, _ ...einoModel.Option) (*schema.Message, error) {
	resp, err := m.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    m.model,
		Messages: convertMessages(messages),
	})
	if err != nil {
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai returned no choices")
	}

	msg := resp.Choices[0].Message
	return &schema.Message{
		Role:             schema.Assistant,
		Content:          msg.Content,
		ReasoningContent: msg.ReasoningContent,
	}, nil
}

func (m *openaiChatModel) Stream(ctx context.Context, messages []*schema.Message, _ ...einoModel.Option) (*schema.StreamReader[*schema.Message], error) {
	stream, err := m.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    m.model,
		Messages: convertMessages(messages),
		Stream:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("openai chat completion stream: %w", err)
	}

	reader, writer := schema.Pipe[*schema.Message](100)
	go func() {
		defer writer.Close()
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				logger.Warnf("openai stream failed: %v", err)
				writer.Send(nil, err)
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta
			if delta.Content == "" && delta.ReasoningContent == "" {
				continue
			}
			if closed := writer.Send(&schema.Message{
				Role:             schema.Assistant,
				Content:          delta.Content,
				ReasoningContent: delta.ReasoningContent,
			}, nil); closed {
				return
			}
		}
	}()

	return reader, nil
}

func convertMessages(messages []*schema.Message) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		role := openai.ChatMessageRoleUser
		switch msg.Role {
		case schema.Assistant:
			role = openai.ChatMessageRoleAssistant
		case schema.System:
			role = openai.ChatMessageRoleSystem
		}
		// Empty assistant turns are rejected by the API.
		if msg.Content == "" && role == openai.ChatMessageRoleAssistant {
			continue
		}
		result = append(result, openai.ChatCompletionMessage{Role: role, Content: msg.Content})
	}
	return result
}
