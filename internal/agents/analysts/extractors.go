package analysts

import (
	"context"
	"encoding/json"
	"regexp"
	"sort"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/dyike/stockbot/internal/llm"
	"github.com/dyike/stockbot/internal/logger"
	"github.com/dyike/stockbot/internal/models"
	"github.com/dyike/stockbot/internal/prompts"
	"github.com/dyike/stockbot/pkg/normalizer"
	"github.com/dyike/stockbot/pkg/utils"
)

const (
	minTickerConfidence = 80
	maxDiscoveredSector = 5
	maxDigestChars      = 800
)

var tickerPattern = regexp.MustCompile(`^[A-Z]{1,5}$`)

// TickerValidator confirms a ticker is known to the market data source.
type TickerValidator interface {
	Validate(ctx context.Context, ticker string) error
}

// TickerExtractor asks the model which tickers a batch of sector news names.
type TickerExtractor struct {
	llm       llm.Completer
	validator TickerValidator
}

func NewTickerExtractor(c llm.Completer, v TickerValidator) *TickerExtractor {
	return &TickerExtractor{llm: c, validator: v}
}

type articleDigest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Source  string `json:"source"`
}

// Extract returns validated tickers the model is at least 80% sure of, in the
// order the model listed them. Any failure yields an empty list.
func (e *TickerExtractor) Extract(ctx context.Context, sector string, articles []models.Article) []string {
	if len(articles) == 0 {
		return []string{}
	}
	digests := make([]articleDigest, 0, len(articles))
	for _, a := range articles {
		content := utils.Truncate(a.Content, maxDigestChars)
		digests = append(digests, articleDigest{Title: a.Title, Content: content, Source: a.Source})
	}
	payload, _ := json.MarshalIndent(digests, "", "  ")

	prompt, err := prompts.Render(prompts.ExtractTickers, map[string]string{
		"Sector":   sector,
		"Articles": string(payload),
	})
	if err != nil {
		logger.Warn("ticker prompt unavailable", logger.Err(err))
		return []string{}
	}
	raw, err := e.llm.Complete(llm.WithPurpose(ctx, "extract_tickers"), prompt)
	if err != nil {
		logger.Warn("ticker extraction failed", logger.String("sector", sector), logger.Err(err))
		return []string{}
	}
	res, err := normalizer.Parse(raw, normalizer.ShapeObject)
	if err != nil {
		logger.Warn("ticker extraction output unusable", logger.String("sector", sector), logger.Err(err))
		return []string{}
	}

	var candidates []string
	res.Get("identified_tickers").ForEach(func(_, item gjson.Result) bool {
		if normalizer.Float(item.Get("confidence")) >= minTickerConfidence {
			candidates = append(candidates, normalizer.String(item.Get("ticker")))
		}
		return true
	})
	return validTickers(ctx, e.validator, candidates)
}

func validTickers(ctx context.Context, v TickerValidator, candidates []string) []string {
	out := []string{}
	seen := make(map[string]bool)
	for _, tk := range candidates {
		tk = strings.ToUpper(strings.TrimSpace(tk))
		if !tickerPattern.MatchString(tk) || seen[tk] {
			continue
		}
		seen[tk] = true
		if v != nil {
			if err := v.Validate(ctx, tk); err != nil {
				logger.Debug("dropping ticker", logger.String("ticker", tk), logger.Err(err))
				continue
			}
		}
		out = append(out, tk)
	}
	return out
}

// Discovery is what general mode learns from the market analysis.
type Discovery struct {
	Sectors []string `json:"sectors"`
	Tickers []string `json:"tickers"`
}

// SectorDiscoverer asks the model which sectors and tickers the market
// analysis points at.
type SectorDiscoverer struct {
	llm       llm.Completer
	validator TickerValidator
}

func NewSectorDiscoverer(c llm.Completer, v TickerValidator) *SectorDiscoverer {
	return &SectorDiscoverer{llm: c, validator: v}
}

// Discover keeps sectors and tickers of high or medium relevance. High
// relevance sectors come first and at most five are returned. Tickers are
// validated. Any failure yields an empty discovery.
func (d *SectorDiscoverer) Discover(ctx context.Context, analysis any, knownSectors []string) Discovery {
	empty := Discovery{Sectors: []string{}, Tickers: []string{}}
	payload, err := json.MarshalIndent(analysis, "", "  ")
	if err != nil {
		return empty
	}
	prompt, err := prompts.Render(prompts.DiscoverSectors, map[string]string{
		"Sectors":  strings.Join(knownSectors, ", "),
		"Analysis": string(payload),
	})
	if err != nil {
		logger.Warn("discovery prompt unavailable", logger.Err(err))
		return empty
	}
	raw, err := d.llm.Complete(llm.WithPurpose(ctx, "discover_sectors"), prompt)
	if err != nil {
		logger.Warn("sector discovery failed", logger.Err(err))
		return empty
	}
	res, err := normalizer.Parse(raw, normalizer.ShapeObject)
	if err != nil {
		logger.Warn("sector discovery output unusable", logger.Err(err))
		return empty
	}

	type ranked struct {
		name string
		rank int
	}
	var sectors []ranked
	seen := make(map[string]bool)
	res.Get("sectors").ForEach(func(_, item gjson.Result) bool {
		rank, ok := relevanceRank(normalizer.String(item.Get("relevance")))
		name := strings.ToLower(normalizer.String(item.Get("name")))
		if ok && name != "" && !seen[name] {
			seen[name] = true
			sectors = append(sectors, ranked{name: name, rank: rank})
		}
		return true
	})
	sort.SliceStable(sectors, func(i, j int) bool { return sectors[i].rank < sectors[j].rank })
	if len(sectors) > maxDiscoveredSector {
		sectors = sectors[:maxDiscoveredSector]
	}
	out := Discovery{Sectors: make([]string, 0, len(sectors))}
	for _, s := range sectors {
		out.Sectors = append(out.Sectors, s.name)
	}

	var candidates []string
	res.Get("tickers").ForEach(func(_, item gjson.Result) bool {
		if _, ok := relevanceRank(normalizer.String(item.Get("relevance"))); ok {
			candidates = append(candidates, normalizer.String(item.Get("symbol")))
		}
		return true
	})
	out.Tickers = validTickers(ctx, d.validator, candidates)
	return out
}

func relevanceRank(r string) (int, bool) {
	switch strings.ToLower(strings.TrimSpace(r)) {
	case "high":
		return 0, true
	case "medium":
		return 1, true
	default:
		return 0, false
	}
}
