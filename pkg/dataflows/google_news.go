package dataflows

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"

	"github.com/dyike/stockbot/internal/models"
	"github.com/dyike/stockbot/pkg/retry"
)

// RSS feed envelope
type RSS struct {
	XMLName xml.Name `xml:"rss"`
	Channel Channel  `xml:"channel"`
}

type Channel struct {
	Title       string `xml:"title"`
	Description string `xml:"description"`
	Items       []Item `xml:"item"`
}

type Item struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	PubDate     string `xml:"pubDate"`
	Source      Source `xml:"source"`
	GUID        string `xml:"guid"`
}

type Source struct {
	URL  string `xml:"url,attr"`
	Text string `xml:",chardata"`
}

const googleNewsBaseURL = "https://news.google.com"

// GoogleNewsClient reads the public Google News RSS search feed.
type GoogleNewsClient struct {
	client *resty.Client
	cache  *CacheManager
	policy retry.Policy
}

// NewGoogleNewsClient creates a new Google News client
func NewGoogleNewsClient(config *Config) *GoogleNewsClient {
	cacheDir := filepath.Join(config.DataCacheDir, "google_news")
	cache := NewCacheManager(cacheDir, 30*time.Minute, config.CacheEnabled)

	client := resty.New().
		SetBaseURL(googleNewsBaseURL).
		SetTimeout(time.Duration(config.RequestTimeoutSeconds) * time.Second).
		SetHeader("User-Agent", userAgent)

	return &GoogleNewsClient{
		client: client,
		cache:  cache,
		policy: retry.DefaultPolicy(),
	}
}

// SetBaseURL points the client at another host, mainly for tests.
func (g *GoogleNewsClient) SetBaseURL(u string) { g.client.SetBaseURL(strings.TrimRight(u, "/")) }

func (g *GoogleNewsClient) SetRetryPolicy(p retry.Policy) { g.policy = p }

func (g *GoogleNewsClient) Search(ctx context.Context, query string, maxResults int) ([]models.Article, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("search query cannot be empty")
	}

	cacheKey := fmt.Sprintf("rss_%s_%d", query, maxResults)
	var cached []models.Article
	if g.cache.Get("google_news_rss", "query", cacheKey, &cached) {
		return cached, nil
	}

	feed, err := retry.DoValue(ctx, g.policy, func(ctx context.Context) (*RSS, error) {
		resp, err := g.client.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"q":    query,
				"hl":   "en-US",
				"gl":   "US",
				"ceid": "US:en",
			}).
			Get("/rss/search")
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, models.NewUpstreamError("google_news", err)
		}
		if resp.StatusCode() != 200 {
			return nil, models.NewUpstreamError("google_news", fmt.Errorf("HTTP error %d when fetching RSS feed", resp.StatusCode()))
		}

		var rss RSS
		if err := xml.Unmarshal(resp.Body(), &rss); err != nil {
			return nil, retry.Permanent(fmt.Errorf("failed to parse RSS XML: %w", err))
		}
		return &rss, nil
	})
	if err != nil {
		return nil, err
	}

	articles := make([]models.Article, 0, len(feed.Channel.Items))
	for _, item := range feed.Channel.Items {
		if maxResults > 0 && len(articles) >= maxResults {
			break
		}
		articles = append(articles, convertRSSItem(item))
	}

	_ = g.cache.Set("google_news_rss", "query", cacheKey, articles)
	return articles, nil
}

func convertRSSItem(item Item) models.Article {
	source := strings.TrimSpace(item.Source.Text)
	if source == "" && item.Source.URL != "" {
		if u, err := url.Parse(item.Source.URL); err == nil {
			source = u.Host
		}
	}
	if source == "" {
		source = SourceName(item.Link)
	}

	return models.Article{
		Title:    strings.TrimSpace(item.Title),
		Content:  cleanHTMLContent(item.Description),
		URL:      item.Link,
		Source:   source,
		Category: "news",
	}
}

// cleanHTMLContent flattens an HTML fragment to its text.
func cleanHTMLContent(htmlContent string) string {
	if htmlContent == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		return strings.TrimSpace(htmlContent)
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}
