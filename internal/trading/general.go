package trading

import (
	"context"
	"time"

	"github.com/dyike/stockbot/internal/agents/analysts"
	"github.com/dyike/stockbot/internal/logger"
	"github.com/dyike/stockbot/internal/models"
	"github.com/dyike/stockbot/internal/tools"
	"github.com/dyike/stockbot/pkg/dataflows"
)

const (
	marketQueryResults = 5
	marketArticleLimit = 15
)

var marketQueries = []string{
	"stock market analysis latest news",
	"financial market trends today",
	"stock market movement analysis",
	"market sentiment indicators",
}

// GeneralMode reads the market as a whole, picks the sectors and tickers it
// points at and analyzes each of them.
type GeneralMode struct {
	s          *Session
	sectors    *SectorMode
	discoverer *analysts.SectorDiscoverer
}

func NewGeneralMode(s *Session) *GeneralMode {
	s.init()
	return &GeneralMode{
		s:          s,
		sectors:    NewSectorMode(s),
		discoverer: analysts.NewSectorDiscoverer(s.LLM, s.Market),
	}
}

type marketDiscoveryInput struct {
	Analysis    models.AnalysisRecord `json:"market_analysis"`
	KeyInsights []string              `json:"key_insights"`
	Overview    models.MarketOverview `json:"market_overview"`
}

func (m *GeneralMode) Run(ctx context.Context) models.GeneralResult {
	runID := newRunID()
	var result models.GeneralResult
	err := m.s.observe(ctx, ModeGeneral, tools.MarketSubject, func(ctx context.Context) error {
		var err error
		result, err = m.run(ctx, runID)
		return err
	})
	if err != nil {
		return models.GeneralResult{
			Success:     false,
			Error:       err.Error(),
			RunID:       runID,
			CompletedAt: time.Now().UTC(),
		}
	}
	return result
}

func (m *GeneralMode) run(ctx context.Context, runID string) (models.GeneralResult, error) {
	s := m.s

	s.step("📰 Fetching market news...")
	var articles []models.Article
	for _, q := range marketQueries {
		articles = append(articles, s.search(ctx, q, marketQueryResults)...)
	}
	articles = dataflows.Dedupe(articles, marketArticleLimit)
	s.persistNews(ctx, "MARKET", articles)

	s.step("🔍 Analyzing %d market articles...", len(articles))
	records := s.gatherArticles(ctx, tools.MarketSubject, articles)
	analysis := s.aggregator.Aggregate(ctx, records)
	s.persistAnalysis(ctx, "MARKET", runID, analysis)

	s.step("🧠 Researching the market...")
	toolbox := tools.NewMarketToolbox(s.Searcher, s.Market, s.Collector)
	deep := s.loop(ctx, toolbox).Run(ctx, tools.MarketSubject, analysis)
	if err := ctx.Err(); err != nil {
		return models.GeneralResult{}, err
	}

	s.step("🌐 Fetching market overview...")
	overview := s.Market.Overview(ctx)

	s.step("🧭 Discovering sectors and tickers...")
	found := m.discoverer.Discover(ctx, marketDiscoveryInput{
		Analysis:    analysis,
		KeyInsights: deep.KeyInsights,
		Overview:    overview,
	}, s.Sectors.Available())
	s.step("   sectors: %v, tickers: %v", found.Sectors, found.Tickers)

	result := models.GeneralResult{
		Success:        true,
		RunID:          runID,
		MarketAnalysis: analysis,
		DeepAnalysis:   deep,
		Overview:       overview,
		Sectors:        []models.SectorResult{},
		Stocks:         []models.StockResult{},
	}

	seen := newTickerSet()
	for _, sector := range found.Sectors {
		if ctx.Err() != nil {
			return models.GeneralResult{}, ctx.Err()
		}
		s.step("🏭 Sector %s", sector)
		sr, err := m.sectors.run(ctx, sector, runID, seen)
		if err != nil {
			if ctx.Err() != nil {
				return models.GeneralResult{}, ctx.Err()
			}
			logger.Warn("sector analysis failed", logger.String("sector", sector), logger.Err(err))
			continue
		}
		result.Sectors = append(result.Sectors, sr)
	}

	var extra []string
	for _, t := range found.Tickers {
		if seen.claim(t) {
			extra = append(extra, t)
		}
	}
	s.updateWatchlist(ctx, extra, ModeGeneral)
	seeds := []contextRecord{{label: "Market Context", record: analysis}}
	for _, r := range m.sectors.analyzeAll(ctx, extra, runID, seeds) {
		if r.Success {
			result.Stocks = append(result.Stocks, r)
		} else {
			logger.Info("discovered ticker not analyzed", logger.String("ticker", r.Ticker), logger.String("error", r.Error))
		}
	}
	if err := ctx.Err(); err != nil {
		return models.GeneralResult{}, err
	}

	result.Summary = SummarizeMarket(analysis, result.Sectors, result.Stocks)
	result.CompletedAt = time.Now().UTC()
	s.saveSummary(ctx, runID, ModeGeneral, tools.MarketSubject, result.Summary.Actions, result.Summary)
	return result, nil
}

// SummarizeMarket totals the decisions of every sector and stand-alone stock.
func SummarizeMarket(analysis models.AnalysisRecord, sectors []models.SectorResult, stocks []models.StockResult) models.MarketSummary {
	sum := models.MarketSummary{
		SectorsAnalyzed: len(sectors),
		Sentiment:       analysis.Sentiment,
		Confidence:      analysis.Confidence,
	}
	count := func(r models.StockResult) {
		if r.Decision == nil {
			return
		}
		sum.StocksAnalyzed++
		sum.Actions.Add(r.Decision.Action)
	}
	for _, sr := range sectors {
		for _, r := range sr.Stocks {
			count(r)
		}
	}
	for _, r := range stocks {
		count(r)
	}
	return sum
}
