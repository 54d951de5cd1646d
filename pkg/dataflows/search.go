package dataflows

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/dyike/stockbot/internal/logger"
	"github.com/dyike/stockbot/internal/models"
	"github.com/dyike/stockbot/pkg/retry"
)

// Searcher finds news articles for a free-text query.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]models.Article, error)
}

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// SearxNGClient queries a SearxNG instance through its JSON API.
type SearxNGClient struct {
	client *resty.Client
	cache  *CacheManager
	policy retry.Policy
}

type searxResponse struct {
	Query   string        `json:"query"`
	Results []searxResult `json:"results"`
}

type searxResult struct {
	URL      string   `json:"url"`
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Engine   string   `json:"engine"`
	Engines  []string `json:"engines"`
	Category string   `json:"category"`
}

func NewSearxNGClient(cfg *Config) *SearxNGClient {
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.SearxNGURL, "/")).
		SetTimeout(time.Duration(cfg.RequestTimeoutSeconds)*time.Second).
		SetHeader("User-Agent", userAgent).
		SetHeader("Accept", "application/json")

	return &SearxNGClient{
		client: client,
		cache:  NewCacheManager(filepath.Join(cfg.DataCacheDir, "searxng"), 30*time.Minute, cfg.CacheEnabled),
		policy: retry.DefaultPolicy(),
	}
}

// SetRetryPolicy overrides the default retry schedule.
func (s *SearxNGClient) SetRetryPolicy(p retry.Policy) { s.policy = p }

func (s *SearxNGClient) Search(ctx context.Context, query string, maxResults int) ([]models.Article, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("search query cannot be empty")
	}

	cacheKey := map[string]interface{}{"q": query, "n": maxResults}
	var cached []models.Article
	if s.cache.Get("searxng", "search", cacheKey, &cached) {
		return cached, nil
	}

	body, err := retry.DoValue(ctx, s.policy, func(ctx context.Context) (*searxResponse, error) {
		var out searxResponse
		resp, err := s.client.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"q":          query,
				"format":     "json",
				"categories": "news",
			}).
			SetResult(&out).
			Get("/search")
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, models.NewUpstreamError("searxng", err)
		}
		if resp.IsError() {
			return nil, models.NewUpstreamError("searxng", fmt.Errorf("HTTP error %d", resp.StatusCode()))
		}
		return &out, nil
	})
	if err != nil {
		return nil, err
	}

	articles := make([]models.Article, 0, len(body.Results))
	for _, r := range body.Results {
		if maxResults > 0 && len(articles) >= maxResults {
			break
		}
		source := r.Engine
		if source == "" && len(r.Engines) > 0 {
			source = r.Engines[0]
		}
		if source == "" {
			source = "unknown"
		}
		category := r.Category
		if category == "" {
			category = "news"
		}
		articles = append(articles, models.Article{
			Title:    strings.TrimSpace(r.Title),
			Content:  strings.TrimSpace(r.Content),
			URL:      r.URL,
			Source:   source,
			Category: category,
		})
	}

	_ = s.cache.Set("searxng", "search", cacheKey, articles)
	return articles, nil
}

// FallbackSearcher tries each searcher in order and returns the first
// non-empty result.
type FallbackSearcher struct {
	searchers []Searcher
}

func NewFallbackSearcher(searchers ...Searcher) *FallbackSearcher {
	return &FallbackSearcher{searchers: searchers}
}

func (f *FallbackSearcher) Search(ctx context.Context, query string, maxResults int) ([]models.Article, error) {
	var lastErr error
	for i, s := range f.searchers {
		articles, err := s.Search(ctx, query, maxResults)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.Warn("search backend failed",
				logger.Int("backend", i),
				logger.String("query", query),
				logger.Err(err),
			)
			lastErr = err
			continue
		}
		if len(articles) > 0 {
			return articles, nil
		}
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return []models.Article{}, nil
}

// Dedupe drops articles whose URL was already seen, keeping at most limit.
func Dedupe(articles []models.Article, limit int) []models.Article {
	seen := make(map[string]struct{}, len(articles))
	out := make([]models.Article, 0, len(articles))
	for _, a := range articles {
		if _, ok := seen[a.URL]; ok {
			continue
		}
		seen[a.URL] = struct{}{}
		out = append(out, a)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}
