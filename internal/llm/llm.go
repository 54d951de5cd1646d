// Package llm hides language model providers behind a single prompt-in,
// text-out Completer.
package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/dyike/stockbot/config"
	"github.com/dyike/stockbot/internal/metrics"
)

// Completer turns a prompt into raw model text.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, prompt string) (string, error)

func (f CompleterFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

type purposeKey struct{}

// WithPurpose labels completions made with ctx, for logs and metrics.
func WithPurpose(ctx context.Context, purpose string) context.Context {
	return context.WithValue(ctx, purposeKey{}, purpose)
}

func PurposeFrom(ctx context.Context) string {
	if v, ok := ctx.Value(purposeKey{}).(string); ok && v != "" {
		return v
	}
	return "general"
}

// New builds the configured provider wrapped with retry, metrics, tracing and
// transcript logging.
func New(ctx context.Context, cfg *config.Config, collector *metrics.Collector) (Completer, error) {
	timeout := time.Duration(cfg.LLMTimeoutSeconds) * time.Second

	var (
		base Completer
		err  error
	)
	switch cfg.LLMProvider {
	case "ollama", "":
		base = NewOllamaClient(cfg.OllamaURL, cfg.LLMModel, timeout)
	case "openai":
		base, err = NewOpenAIChat(ctx, cfg.BackendURL, cfg.LLMAPIKey, cfg.LLMModel, cfg.MaxTokens)
	case "deepseek":
		base, err = NewDeepSeekChat(ctx, cfg.DeepSeekAPIKey, cfg.LLMModel, cfg.MaxTokens)
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.LLMProvider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s model: %w", cfg.LLMProvider, err)
	}

	return NewInstrumented(base, cfg.LLMProvider, cfg.LLMModel, timeout, collector), nil
}
