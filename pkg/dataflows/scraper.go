package dataflows

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"
	"github.com/gocolly/colly/v2"

	"github.com/dyike/stockbot/internal/logger"
	"github.com/dyike/stockbot/internal/models"
	"github.com/dyike/stockbot/pkg/retry"
)

// Scraper fetches a page and reduces it to readable text. Failures are
// reported in the result, never as an error.
type Scraper interface {
	Scrape(ctx context.Context, url string) models.ScrapeResult
}

var errEmptyContent = errors.New("no content extracted")

// NewScraper returns the headless browser scraper with an HTTP fallback when
// headless_browser is set, otherwise the HTTP scraper alone.
func NewScraper(cfg *Config) Scraper {
	httpScraper := NewHTTPScraper(cfg)
	if !cfg.HeadlessBrowser {
		return httpScraper
	}
	return &fallbackScraper{scrapers: []Scraper{NewBrowserScraper(cfg), httpScraper}}
}

// HTTPScraper fetches pages with colly and extracts text with goquery.
type HTTPScraper struct {
	timeout  time.Duration
	proxyURL string
	policy   retry.Policy
}

func NewHTTPScraper(cfg *Config) *HTTPScraper {
	return &HTTPScraper{
		timeout:  time.Duration(cfg.RequestTimeoutSeconds) * time.Second,
		proxyURL: cfg.ProxyURL,
		policy:   retry.DefaultPolicy(),
	}
}

func (s *HTTPScraper) SetRetryPolicy(p retry.Policy) { s.policy = p }

func (s *HTTPScraper) Scrape(ctx context.Context, rawURL string) models.ScrapeResult {
	if res, ok := checkURL(rawURL); !ok {
		return res
	}

	content, err := retry.DoValue(ctx, s.policy, func(ctx context.Context) (string, error) {
		return s.visit(ctx, rawURL)
	})
	if err != nil {
		logger.Debug("scrape failed", logger.String("url", rawURL), logger.Err(err))
		return models.ScrapeResult{URL: rawURL, Error: err.Error()}
	}
	return newScrapeResult(rawURL, content)
}

func (s *HTTPScraper) visit(ctx context.Context, rawURL string) (string, error) {
	c := colly.NewCollector(
		colly.StdlibContext(ctx),
		colly.UserAgent(userAgent),
		colly.MaxDepth(1),
		colly.IgnoreRobotsTxt(),
	)
	c.SetRequestTimeout(s.timeout)
	if s.proxyURL != "" {
		if err := c.SetProxy(s.proxyURL); err != nil {
			return "", retry.Permanent(fmt.Errorf("set proxy: %w", err))
		}
	}

	var (
		content  string
		visitErr error
	)
	c.OnHTML("html", func(e *colly.HTMLElement) {
		content = ExtractContent(e.DOM, rawURL)
	})
	c.OnError(func(r *colly.Response, err error) {
		visitErr = models.NewUpstreamError("scraper", fmt.Errorf("status %d: %w", r.StatusCode, err))
	})

	if err := c.Visit(rawURL); err != nil && visitErr == nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		visitErr = models.NewUpstreamError("scraper", err)
	}
	c.Wait()

	if visitErr != nil {
		return "", visitErr
	}
	if strings.TrimSpace(content) == "" {
		return "", errEmptyContent
	}
	return content, nil
}

// BrowserScraper renders pages in headless Chrome before extracting text.
type BrowserScraper struct {
	timeout  time.Duration
	proxyURL string
}

func NewBrowserScraper(cfg *Config) *BrowserScraper {
	return &BrowserScraper{
		timeout:  time.Duration(cfg.RequestTimeoutSeconds) * time.Second,
		proxyURL: cfg.ProxyURL,
	}
}

func (s *BrowserScraper) Scrape(ctx context.Context, rawURL string) models.ScrapeResult {
	if res, ok := checkURL(rawURL); !ok {
		return res
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("ignore-certificate-errors", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(1920, 1080),
		chromedp.UserAgent(userAgent),
	)
	if s.proxyURL != "" {
		opts = append(opts, chromedp.ProxyServer(s.proxyURL))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()
	timeoutCtx, cancel := context.WithTimeout(browserCtx, s.timeout)
	defer cancel()

	var html string
	err := chromedp.Run(timeoutCtx,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
		chromedp.Sleep(1500*time.Millisecond),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return models.ScrapeResult{URL: rawURL, Error: fmt.Sprintf("headless browser: %v", err)}
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return models.ScrapeResult{URL: rawURL, Error: fmt.Sprintf("parse page: %v", err)}
	}
	content := ExtractContent(doc.Selection, rawURL)
	if content == "" {
		return models.ScrapeResult{URL: rawURL, Error: errEmptyContent.Error()}
	}
	return newScrapeResult(rawURL, content)
}

type fallbackScraper struct {
	scrapers []Scraper
}

func (f *fallbackScraper) Scrape(ctx context.Context, rawURL string) models.ScrapeResult {
	var res models.ScrapeResult
	for _, s := range f.scrapers {
		res = s.Scrape(ctx, rawURL)
		if res.Success || ctx.Err() != nil {
			return res
		}
	}
	return res
}

func checkURL(rawURL string) (models.ScrapeResult, bool) {
	switch {
	case rawURL == "":
		return models.ScrapeResult{Error: "Empty URL provided"}, false
	case !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://"):
		return models.ScrapeResult{URL: rawURL, Error: "Invalid URL format"}, false
	}
	return models.ScrapeResult{}, true
}

func newScrapeResult(rawURL, content string) models.ScrapeResult {
	return models.ScrapeResult{
		Success: true,
		URL:     rawURL,
		Content: content,
		Metadata: models.ScrapeMetadata{
			Source:        SourceName(rawURL),
			Timestamp:     time.Now(),
			ContentLength: len(content),
		},
	}
}

// ExtractContent pulls title, description, the main body and headings out of
// a parsed page.
func ExtractContent(doc *goquery.Selection, rawURL string) string {
	var parts []string
	add := func(prefix, text string) {
		text = strings.Join(strings.Fields(text), " ")
		if text == "" {
			return
		}
		parts = append(parts, prefix+text)
	}

	add("Title: ", doc.Find("head title").First().Text())
	if desc, ok := doc.Find(`meta[name="description"]`).First().Attr("content"); ok {
		add("Description: ", desc)
	}

	if strings.Contains(strings.ToLower(rawURL), "yahoo.com") {
		add("Current Price: ", doc.Find(`[data-test="qsp-price"]`).First().Text())
		add("Summary: ", doc.Find("#quote-summary").First().Text())
	}

	if article := doc.Find("article").First(); article.Length() > 0 {
		add("Article Content: ", article.Text())
	} else if main := doc.Find("main").First(); main.Length() > 0 {
		add("Main Content: ", main.Text())
	} else {
		doc.Find("p").Each(func(_ int, p *goquery.Selection) {
			add("", p.Text())
		})
	}

	doc.Find("h1, h2, h3").Each(func(_ int, h *goquery.Selection) {
		add("", h.Text())
	})

	return strings.Join(parts, "\n")
}

var sourceNames = []struct {
	host string
	name string
}{
	{"yahoo.com", "Yahoo Finance"},
	{"marketwatch.com", "MarketWatch"},
	{"reuters.com", "Reuters"},
	{"bloomberg.com", "Bloomberg"},
	{"cnbc.com", "CNBC"},
	{"fool.com", "Motley Fool"},
	{"seekingalpha.com", "Seeking Alpha"},
}

// SourceName names the publication behind a URL.
func SourceName(rawURL string) string {
	lower := strings.ToLower(rawURL)
	for _, s := range sourceNames {
		if strings.Contains(lower, s.host) {
			return s.name
		}
	}
	return "Financial News"
}
