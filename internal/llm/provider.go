// Package llm builds the chat model that answers generation prompts.
package llm

import (
	"context"
	"errors"
	"fmt"

	"oa-worksheets/internal/config"
	"oa-worksheets/internal/utils"
	"oa-worksheets/pkg/logger"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino-ext/components/model/qwen"
	einoModel "github.com/cloudwego/eino/components/model"
)

var ErrMissingAPIKey = errors.New("llm api key is not configured")

// NewChatModel returns the chat model for the configured provider
// (doubao, qwen or openai).
func NewChatModel(ctx context.Context, cfg config.LLMConfig) (einoModel.BaseChatModel, error) {
	switch cfg.Provider {
	case "doubao":
		return createDoubaoModel(ctx, cfg.Doubao)
	case "qwen":
		return createQwenModel(ctx, cfg.Qwen)
	case "openai":
		return createOpenAIModel(ctx, cfg.OpenAI)
	default:
		return nil, fmt.Errorf("unsupported model provider: %q", cfg.Provider)
	}
}

func createDoubaoModel(ctx context.Context, cfg config.DoubaoConfig) (einoModel.BaseChatModel, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: doubao", ErrMissingAPIKey)
	}
	logger.Infof("Using Doubao model %s (key %s)", cfg.Model, maskKey(cfg.APIKey))

	chatModel, err := ark.NewChatModel(ctx, &ark.ChatModelConfig{
		APIKey: cfg.APIKey,
		Model:  cfg.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("create doubao model: %w", err)
	}
	return chatModel, nil
}

func createQwenModel(ctx context.Context, cfg config.QwenConfig) (einoModel.BaseChatModel, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: qwen", ErrMissingAPIKey)
	}
	logger.Infof("Using Qwen model %s at %s (key %s, request debug %t)",
		cfg.Model, cfg.BaseURL, maskKey(cfg.APIKey), cfg.DebugRequest)

	httpClient := utils.NewHTTPClient(cfg.Timeout, utils.NewDebugTransport(nil, "qwen", cfg.DebugRequest))

	chatModel, err := qwen.NewChatModel(ctx, &qwen.ChatModelConfig{
		BaseURL:     cfg.BaseURL,
		APIKey:      cfg.APIKey,
		Model:       cfg.Model,
		MaxTokens:   &cfg.MaxTokens,
		Temperature: &cfg.Temperature,
		TopP:        &cfg.TopP,
		Timeout:     cfg.Timeout,
		HTTPClient:  httpClient,
	})
	if err != nil {
		return nil, fmt.Errorf("create qwen model: %w", err)
	}
	return chatModel, nil
}

func createOpenAIModel(ctx context.Context, cfg config.OpenAIConfig) (einoModel.BaseChatModel, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: openai", ErrMissingAPIKey)
	}
	logger.Infof("Using OpenAI model %s (key %s)", cfg.Model, maskKey(cfg.APIKey))
	return newOpenAIChatModel(ctx, cfg)
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return "***"
	}
	return key[:4] + "..." + key[len(key)-2:]
}
