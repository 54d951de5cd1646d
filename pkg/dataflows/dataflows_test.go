package dataflows

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	finance "github.com/piquette/finance-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/stockbot/internal/models"
	"github.com/dyike/stockbot/pkg/retry"
)

func fastPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	p.Backoff = []time.Duration{time.Millisecond}
	return p
}

func testConfig(searxURL string) *Config {
	return &Config{SearxNGURL: searxURL, RequestTimeoutSeconds: 2}
}

func TestSearxNGSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		assert.Equal(t, "news", r.URL.Query().Get("categories"))
		assert.Equal(t, "AAPL stock market news", r.URL.Query().Get("q"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"query":"AAPL","results":[
			{"url":"https://www.reuters.com/a","title":" Apple beats ","content":"snippet a","engines":["bing"]},
			{"url":"https://www.cnbc.com/b","title":"Apple guidance","content":"snippet b","engine":"google","category":"finance"},
			{"url":"https://example.com/c","title":"extra","content":"c"}
		]}`))
	}))
	defer srv.Close()

	client := NewSearxNGClient(testConfig(srv.URL))
	articles, err := client.Search(context.Background(), "AAPL stock market news", 2)
	require.NoError(t, err)
	require.Len(t, articles, 2)

	assert.Equal(t, models.Article{Title: "Apple beats", Content: "snippet a", URL: "https://www.reuters.com/a", Source: "bing", Category: "news"}, articles[0])
	assert.Equal(t, "google", articles[1].Source)
	assert.Equal(t, "finance", articles[1].Category)
}

const rssFixture = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>news</title>
<item><title>Tech rally continues</title><link>https://www.marketwatch.com/story/1</link>
<description>&lt;a href="x"&gt;Tech&lt;/a&gt; stocks   rally</description>
<source url="https://www.marketwatch.com">MarketWatch</source></item>
<item><title>Second</title><link>https://example.com/2</link><description>two</description></item>
</channel></rss>`

func TestFallbackSearcherUsesRSSWhenSearxFails(t *testing.T) {
	var searxCalls int32
	searx := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&searxCalls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer searx.Close()

	rss := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rss/search", r.URL.Path)
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(rssFixture))
	}))
	defer rss.Close()

	cfg := testConfig(searx.URL)
	primary := NewSearxNGClient(cfg)
	primary.SetRetryPolicy(fastPolicy())
	fallback := NewGoogleNewsClient(cfg)
	fallback.SetBaseURL(rss.URL)

	articles, err := NewFallbackSearcher(primary, fallback).Search(context.Background(), "tech sector", 5)
	require.NoError(t, err)
	require.Len(t, articles, 2)
	assert.Equal(t, int32(3), atomic.LoadInt32(&searxCalls))
	assert.Equal(t, "Tech rally continues", articles[0].Title)
	assert.Equal(t, "Tech stocks rally", articles[0].Content)
	assert.Equal(t, "MarketWatch", articles[0].Source)
	assert.Equal(t, "Financial News", articles[1].Source)
}

type staticSearcher struct {
	articles []models.Article
	err      error
}

func (s staticSearcher) Search(context.Context, string, int) ([]models.Article, error) {
	return s.articles, s.err
}

func TestFallbackSearcherSkipsEmptyResults(t *testing.T) {
	want := []models.Article{{Title: "x", URL: "u"}}
	got, err := NewFallbackSearcher(staticSearcher{}, staticSearcher{articles: want}).Search(context.Background(), "q", 3)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = NewFallbackSearcher(staticSearcher{err: errors.New("down")}).Search(context.Background(), "q", 3)
	assert.Error(t, err)
}

func TestDedupe(t *testing.T) {
	in := []models.Article{{URL: "a"}, {URL: "b"}, {URL: "a"}, {URL: "c"}, {URL: "d"}}
	assert.Equal(t, []models.Article{{URL: "a"}, {URL: "b"}, {URL: "c"}}, Dedupe(in, 3))
	assert.Len(t, Dedupe(in, 0), 4)
}

const pageFixture = `<html><head><title>Apple earnings</title>
<meta name="description" content="Apple reported record revenue."></head>
<body><h1>Apple beats estimates</h1>
<article><p>Revenue rose 8% year over year.</p><p>Services hit a record.</p></article>
<p>footer text</p></body></html>`

func TestHTTPScraperExtractsContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(pageFixture))
	}))
	defer srv.Close()

	s := NewHTTPScraper(testConfig(""))
	s.SetRetryPolicy(fastPolicy())
	res := s.Scrape(context.Background(), srv.URL+"/story")

	require.True(t, res.Success, res.Error)
	assert.Contains(t, res.Content, "Title: Apple earnings")
	assert.Contains(t, res.Content, "Description: Apple reported record revenue.")
	assert.Contains(t, res.Content, "Article Content: Revenue rose 8% year over year.")
	assert.Contains(t, res.Content, "Apple beats estimates")
	assert.NotContains(t, res.Content, "footer text")
	assert.Equal(t, "Financial News", res.Metadata.Source)
	assert.Equal(t, len(res.Content), res.Metadata.ContentLength)
}

func TestHTTPScraperReportsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	s := NewHTTPScraper(testConfig(""))
	s.SetRetryPolicy(fastPolicy())

	res := s.Scrape(context.Background(), srv.URL)
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)

	assert.Equal(t, "Empty URL provided", s.Scrape(context.Background(), "").Error)
	assert.Equal(t, "Invalid URL format", s.Scrape(context.Background(), "ftp://x").Error)
}

func TestSourceName(t *testing.T) {
	cases := map[string]string{
		"https://finance.yahoo.com/news/x":    "Yahoo Finance",
		"https://www.marketwatch.com/story":   "MarketWatch",
		"https://www.reuters.com/markets":     "Reuters",
		"https://www.bloomberg.com/news":      "Bloomberg",
		"https://www.cnbc.com/2024/x":         "CNBC",
		"https://www.fool.com/investing":      "Motley Fool",
		"https://seekingalpha.com/article/1":  "Seeking Alpha",
		"https://blog.example.org/some-story": "Financial News",
	}
	for u, want := range cases {
		assert.Equal(t, want, SourceName(u), u)
	}
}

func TestIndicators(t *testing.T) {
	rising := make([]float64, 70)
	for i := range rising {
		rising[i] = float64(100 + i)
	}

	assert.InDelta(t, 159.5, LastSMA(rising, 20), 1e-9)
	assert.InDelta(t, 100, LastRSI(rising, 14), 1e-9)
	assert.Greater(t, LastEMA(rising, 20), LastSMA(rising, 20)-1)
	macd, signal := LastMACD(rising)
	assert.Greater(t, macd, 0.0)
	assert.Greater(t, signal, 0.0)

	assert.InDelta(t, 10.0, DailyChange([]float64{100, 110}), 1e-9)
	assert.InDelta(t, 50.0, PercentReturn([]float64{100, 120, 150}, 21), 1e-9)

	short := []float64{1, 2, 3}
	assert.Zero(t, LastSMA(short, 20))
	assert.Zero(t, LastRSI(short, 14))
	m, s := LastMACD(short)
	assert.Zero(t, m)
	assert.Zero(t, s)
	assert.Zero(t, AnnualizedVolatility(short, 20))
	assert.Zero(t, DailyChange(nil))
}

func TestAnnualizedVolatilityFlatSeries(t *testing.T) {
	flat := make([]float64, 30)
	for i := range flat {
		flat[i] = 50
	}
	assert.Zero(t, AnnualizedVolatility(flat, 20))
}

type fakeYahoo struct {
	quotes   map[string]*finance.Quote
	equities map[string]*finance.Equity
	bars     []Bar
	err      error
}

func (f *fakeYahoo) Quote(symbol string) (*finance.Quote, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.quotes[symbol], nil
}

func (f *fakeYahoo) Equity(symbol string) (*finance.Equity, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.equities[symbol], nil
}

func (f *fakeYahoo) Bars(string, time.Time, time.Time) ([]Bar, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.bars, nil
}

func makeBars(closes ...float64) []Bar {
	out := make([]Bar, len(closes))
	for i, c := range closes {
		out[i] = Bar{Close: decimal.NewFromFloat(c), Volume: int64(1000 * (i + 1))}
	}
	return out
}

func TestYahooSnapshot(t *testing.T) {
	src := &fakeYahoo{bars: makeBars(148.22, 150.0)}
	yf := NewYahooFinanceClientWithSource(src, nil)

	snap := yf.Snapshot(context.Background(), " aapl ")
	require.True(t, snap.Success)
	assert.Equal(t, "AAPL", snap.Ticker)
	assert.Equal(t, 150.0, snap.CurrentPrice)
	assert.Equal(t, 1.2, snap.DailyChange)
	assert.Equal(t, int64(2000), snap.Volume)
	assert.Equal(t, []float64{148.22, 150.0}, snap.PriceHistory)
	assert.Zero(t, snap.TechnicalIndicators.SMA50)
}

func TestYahooSnapshotFailureIsZeroValued(t *testing.T) {
	yf := NewYahooFinanceClientWithSource(&fakeYahoo{err: errors.New("timeout")}, nil)
	yf.SetRetryPolicy(fastPolicy())

	snap := yf.Snapshot(context.Background(), "AAPL")
	assert.False(t, snap.Success)
	assert.Zero(t, snap.CurrentPrice)
	assert.NotEmpty(t, snap.Error)
	assert.NotNil(t, snap.PriceHistory)
}

func TestYahooValidate(t *testing.T) {
	src := &fakeYahoo{quotes: map[string]*finance.Quote{
		"AAPL": {ShortName: "Apple Inc.", RegularMarketPrice: 150},
	}}
	yf := NewYahooFinanceClientWithSource(src, nil)

	assert.NoError(t, yf.Validate(context.Background(), "aapl"))
	assert.ErrorIs(t, yf.Validate(context.Background(), "ZZZZ"), models.ErrInvalidSubject)
	assert.ErrorIs(t, yf.Validate(context.Background(), ""), models.ErrInvalidSubject)

	down := NewYahooFinanceClientWithSource(&fakeYahoo{err: errors.New("dns")}, nil)
	down.SetRetryPolicy(fastPolicy())
	err := down.Validate(context.Background(), "AAPL")
	assert.ErrorIs(t, err, models.ErrUpstreamUnavailable)
	assert.NotErrorIs(t, err, models.ErrInvalidSubject)
}

func TestYahooFinancialsAndOverview(t *testing.T) {
	eq := &finance.Equity{LongName: "Apple Inc.", MarketCap: 3_000_000_000_000, TrailingPE: 30.5, EpsTrailingTwelveMonths: 6.1}
	src := &fakeYahoo{
		equities: map[string]*finance.Equity{"AAPL": eq},
		quotes: map[string]*finance.Quote{
			"^GSPC": {RegularMarketPrice: 5000.123, RegularMarketChangePercent: 0.456},
			"^DJI":  {RegularMarketPrice: 39000},
		},
	}
	yf := NewYahooFinanceClientWithSource(src, nil)

	fin := yf.Financials(context.Background(), "AAPL")
	require.True(t, fin.Success)
	assert.Equal(t, "Apple Inc.", fin.CompanyInfo.Name)
	assert.Equal(t, int64(3_000_000_000_000), fin.CompanyInfo.MarketCap)
	assert.Equal(t, 6.1, fin.KeyMetrics.EPSTrailing)

	missing := yf.Financials(context.Background(), "MSFT")
	assert.False(t, missing.Success)

	ov := yf.Overview(context.Background())
	require.Len(t, ov.Indices, 2)
	assert.Equal(t, models.IndexQuote{Symbol: "^GSPC", Price: 5000.12, DailyChange: 0.46}, ov.Indices[0])
}

func TestYahooAnalysis(t *testing.T) {
	closes := make([]float64, 80)
	for i := range closes {
		closes[i] = 100 + float64(i%5)
	}
	src := &fakeYahoo{bars: makeBars(closes...), equities: map[string]*finance.Equity{"AAPL": {MarketCap: 42}}}
	yf := NewYahooFinanceClientWithSource(src, nil)

	a := yf.Analysis(context.Background(), "AAPL")
	require.True(t, a.Success)
	assert.Equal(t, int64(42), a.MarketCap)
	assert.Equal(t, 104.0, a.CurrentAnalysis.Price)
	assert.Greater(t, a.CurrentAnalysis.Volatility, 0.0)
	assert.Greater(t, a.Performance.AvgVolume, 0.0)
}

func TestSectorTable(t *testing.T) {
	table := DefaultSectorTable()
	assert.Equal(t, []string{"AAPL", "MSFT", "GOOGL", "META", "NVDA"}, table.Stocks("Tech"))
	assert.Equal(t, table.Stocks("technology"), table.Stocks("tech"))
	assert.Empty(t, table.Stocks("crypto"))
	assert.Equal(t, []string{"consumer", "energy", "finance", "healthcare", "technology"}, table.Available())
}

func TestLoadSectorTableOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sectors.yaml")
	yamlDoc := `sectors:
  technology: [aapl, amd]
  utilities: [NEE, DUK]
aliases:
  power: utilities
`
	require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0o644))

	table, err := LoadSectorTable(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "AMD"}, table.Stocks("tech"))
	assert.Equal(t, []string{"NEE", "DUK"}, table.Stocks("power"))
	assert.Equal(t, []string{"JPM", "BAC", "WFC", "GS", "MS"}, table.Stocks("finance"))
	assert.Contains(t, table.Available(), "utilities")
	assert.NotContains(t, table.Available(), "tech")
	assert.NotContains(t, table.Available(), "power")

	missing, err := LoadSectorTable(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Len(t, missing.Available(), 5)
}

func TestCacheManagerRoundTrip(t *testing.T) {
	cm := NewCacheManager(t.TempDir(), time.Hour, true)
	require.NoError(t, cm.Set("src", "m", "key", []string{"a", "b"}))

	var out []string
	require.True(t, cm.Get("src", "m", "key", &out))
	assert.Equal(t, []string{"a", "b"}, out)
	assert.False(t, cm.Get("src", "m", "other", &out))

	disabled := NewCacheManager(t.TempDir(), time.Hour, false)
	require.NoError(t, disabled.Set("src", "m", "key", 1))
	assert.False(t, disabled.Get("src", "m", "key", &out))
}
