package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/dyike/stockbot/internal/models"
)

// OllamaClient calls the Ollama /api/generate endpoint without streaming.
type OllamaClient struct {
	client *resty.Client
	model  string
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

func NewOllamaClient(baseURL, model string, timeout time.Duration) *OllamaClient {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")

	return &OllamaClient{client: client, model: model}
}

func (o *OllamaClient) Complete(ctx context.Context, prompt string) (string, error) {
	var out generateResponse
	resp, err := o.client.R().
		SetContext(ctx).
		SetBody(generateRequest{Model: o.model, Prompt: prompt, Stream: false}).
		SetResult(&out).
		SetError(&out).
		Post("/api/generate")
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", models.NewUpstreamError("ollama", err)
	}
	if resp.StatusCode() != 200 {
		msg := out.Error
		if msg == "" {
			msg = resp.Status()
		}
		return "", models.NewUpstreamError("ollama", fmt.Errorf("status %d: %s", resp.StatusCode(), msg))
	}
	if strings.TrimSpace(out.Response) == "" {
		return "", models.NewUpstreamError("ollama", errors.New("empty response"))
	}
	return out.Response, nil
}
