// Package dataflows holds the adapters to outside data: news search, page
// scraping and Yahoo Finance market data.
package dataflows

import (
	"context"

	"github.com/dyike/stockbot/internal/models"
)

// MarketData is the market data surface used by the research tools and the
// mode orchestrators.
type MarketData interface {
	Validate(ctx context.Context, ticker string) error
	Snapshot(ctx context.Context, ticker string) models.MarketSnapshot
	Financials(ctx context.Context, ticker string) models.Financials
	Analysis(ctx context.Context, ticker string) models.MarketAnalysis
	Overview(ctx context.Context) models.MarketOverview
}

var (
	_ MarketData = (*YahooFinanceClient)(nil)
	_ Searcher   = (*SearxNGClient)(nil)
	_ Searcher   = (*GoogleNewsClient)(nil)
	_ Scraper    = (*HTTPScraper)(nil)
	_ Scraper    = (*BrowserScraper)(nil)
)

// NewSearcher returns SearxNG backed by the Google News RSS feed.
func NewSearcher(cfg *Config) Searcher {
	return NewFallbackSearcher(NewSearxNGClient(cfg), NewGoogleNewsClient(cfg))
}
