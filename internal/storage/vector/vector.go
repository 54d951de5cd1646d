// Package vector indexes decisions and article analyses by embedding so
// similar past material can be recalled.
package vector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	openai "github.com/sashabaranov/go-openai"

	"github.com/dyike/stockbot/config"
	"github.com/dyike/stockbot/internal/models"
	"github.com/dyike/stockbot/pkg/retry"
)

const (
	CollectionDecisions = "trading_decisions"
	CollectionArticles  = "article_embeddings"
)

// Store adds documents and finds the nearest ones to a text.
type Store interface {
	Add(ctx context.Context, collection, id, text string, metadata map[string]string) error
	QuerySimilar(ctx context.Context, collection, text string, n int) ([]Match, error)
}

type Match struct {
	ID       string            `json:"id"`
	Document string            `json:"document"`
	Metadata map[string]string `json:"metadata"`
	Distance float64           `json:"distance"`
}

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// New returns the Chroma store, or a no-op store when no Chroma URL is set.
func New(cfg *config.Config) Store {
	if strings.TrimSpace(cfg.ChromaURL) == "" {
		return NopStore{}
	}
	embedURL := cfg.EmbeddingURL
	if embedURL == "" {
		embedURL = cfg.OllamaURL
	}
	timeout := time.Duration(cfg.RequestTimeoutSeconds) * time.Second
	embedder := NewOpenAIEmbedder(embedURL, cfg.LLMAPIKey, cfg.EmbeddingModel)
	return NewChromaStore(cfg.ChromaURL, embedder, timeout)
}

// NopStore accepts everything and recalls nothing.
type NopStore struct{}

func (NopStore) Add(context.Context, string, string, string, map[string]string) error { return nil }

func (NopStore) QuerySimilar(context.Context, string, string, int) ([]Match, error) {
	return []Match{}, nil
}

// OpenAIEmbedder calls an OpenAI compatible /v1/embeddings endpoint. Ollama
// serves the same route.
type OpenAIEmbedder struct {
	client *openai.Client
	model  string
}

func NewOpenAIEmbedder(baseURL, apiKey, model string) *OpenAIEmbedder {
	if apiKey == "" {
		apiKey = "ollama"
	}
	cfg := openai.DefaultConfig(apiKey)
	base := strings.TrimRight(baseURL, "/")
	if !strings.HasSuffix(base, "/v1") {
		base += "/v1"
	}
	cfg.BaseURL = base
	return &OpenAIEmbedder{client: openai.NewClientWithConfig(cfg), model: model}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, models.NewUpstreamError("embeddings", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, models.NewUpstreamError("embeddings", errors.New("empty embedding"))
	}
	return resp.Data[0].Embedding, nil
}

// ChromaStore talks to Chroma's REST API. Collection ids are resolved once
// and cached.
type ChromaStore struct {
	client   *resty.Client
	embedder Embedder
	policy   retry.Policy

	mu          sync.Mutex
	collections map[string]string
}

func NewChromaStore(baseURL string, embedder Embedder, timeout time.Duration) *ChromaStore {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return &ChromaStore{
		client:      client,
		embedder:    embedder,
		policy:      retry.DefaultPolicy(),
		collections: make(map[string]string),
	}
}

func (c *ChromaStore) SetRetryPolicy(p retry.Policy) { c.policy = p }

type chromaCollection struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type chromaQueryResponse struct {
	IDs       [][]string            `json:"ids"`
	Documents [][]string            `json:"documents"`
	Metadatas [][]map[string]string `json:"metadatas"`
	Distances [][]float64           `json:"distances"`
}

func (c *ChromaStore) post(ctx context.Context, path string, body, result any) error {
	return retry.Do(ctx, c.policy, func(ctx context.Context) error {
		req := c.client.R().SetContext(ctx).SetBody(body)
		if result != nil {
			req.SetResult(result)
		}
		resp, err := req.Post(path)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return models.NewUpstreamError("chroma", err)
		}
		if resp.IsError() {
			err := models.NewUpstreamError("chroma", fmt.Errorf("HTTP error %d: %s", resp.StatusCode(), resp.String()))
			if resp.StatusCode() < 500 {
				return retry.Permanent(err)
			}
			return err
		}
		return nil
	})
}

func (c *ChromaStore) collectionID(ctx context.Context, name string) (string, error) {
	c.mu.Lock()
	id, ok := c.collections[name]
	c.mu.Unlock()
	if ok {
		return id, nil
	}

	var out chromaCollection
	body := map[string]any{"name": name, "get_or_create": true}
	if err := c.post(ctx, "/api/v1/collections", body, &out); err != nil {
		return "", fmt.Errorf("get collection %s: %w", name, err)
	}
	if out.ID == "" {
		return "", models.NewUpstreamError("chroma", fmt.Errorf("collection %s has no id", name))
	}

	c.mu.Lock()
	c.collections[name] = out.ID
	c.mu.Unlock()
	return out.ID, nil
}

// Add embeds text and upserts it under id.
func (c *ChromaStore) Add(ctx context.Context, collection, id, text string, metadata map[string]string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	colID, err := c.collectionID(ctx, collection)
	if err != nil {
		return err
	}
	vec, err := c.embedder.Embed(ctx, text)
	if err != nil {
		return err
	}
	if metadata == nil {
		metadata = map[string]string{}
	}
	body := map[string]any{
		"ids":        []string{id},
		"embeddings": [][]float32{vec},
		"documents":  []string{text},
		"metadatas":  []map[string]string{metadata},
	}
	if err := c.post(ctx, "/api/v1/collections/"+colID+"/upsert", body, nil); err != nil {
		return fmt.Errorf("add to %s: %w", collection, err)
	}
	return nil
}

// QuerySimilar returns up to n nearest documents, closest first.
func (c *ChromaStore) QuerySimilar(ctx context.Context, collection, text string, n int) ([]Match, error) {
	if n <= 0 {
		n = 5
	}
	colID, err := c.collectionID(ctx, collection)
	if err != nil {
		return nil, err
	}
	vec, err := c.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	var out chromaQueryResponse
	body := map[string]any{
		"query_embeddings": [][]float32{vec},
		"n_results":        n,
		"include":          []string{"documents", "metadatas", "distances"},
	}
	if err := c.post(ctx, "/api/v1/collections/"+colID+"/query", body, &out); err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}

	matches := []Match{}
	if len(out.IDs) == 0 {
		return matches, nil
	}
	for i, id := range out.IDs[0] {
		m := Match{ID: id}
		if len(out.Documents) > 0 && i < len(out.Documents[0]) {
			m.Document = out.Documents[0][i]
		}
		if len(out.Metadatas) > 0 && i < len(out.Metadatas[0]) {
			m.Metadata = out.Metadatas[0][i]
		}
		if len(out.Distances) > 0 && i < len(out.Distances[0]) {
			m.Distance = out.Distances[0][i]
		}
		matches = append(matches, m)
	}
	return matches, nil
}
