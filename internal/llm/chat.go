package llm

import (
	"context"
	"errors"

	"github.com/cloudwego/eino-ext/components/model/deepseek"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/dyike/stockbot/internal/models"
)

const systemPrompt = "You are a financial analyst. When asked for JSON, answer with JSON only."

// ChatCompleter adapts an eino chat model to Completer.
type ChatCompleter struct {
	model model.ChatModel
	name  string
}

func NewChatCompleter(m model.ChatModel, name string) *ChatCompleter {
	return &ChatCompleter{model: m, name: name}
}

// NewOpenAIChat connects to any OpenAI-compatible chat endpoint.
func NewOpenAIChat(ctx context.Context, baseURL, apiKey, modelName string, maxTokens int) (*ChatCompleter, error) {
	cfg := &openai.ChatModelConfig{
		APIKey: apiKey,
		Model:  modelName,
	}
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if maxTokens > 0 {
		cfg.MaxTokens = &maxTokens
	}
	cm, err := openai.NewChatModel(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewChatCompleter(cm, "openai"), nil
}

func NewDeepSeekChat(ctx context.Context, apiKey, modelName string, maxTokens int) (*ChatCompleter, error) {
	cm, err := deepseek.NewChatModel(ctx, &deepseek.ChatModelConfig{
		APIKey:    apiKey,
		Model:     modelName,
		MaxTokens: maxTokens,
	})
	if err != nil {
		return nil, err
	}
	return NewChatCompleter(cm, "deepseek"), nil
}

func (c *ChatCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	msgs := []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(prompt),
	}
	resp, err := c.model.Generate(ctx, msgs)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", models.NewUpstreamError(c.name, err)
	}
	if resp == nil || resp.Content == "" {
		return "", models.NewUpstreamError(c.name, errors.New("empty response"))
	}
	return resp.Content, nil
}
