package trading

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dyike/stockbot/internal/agents/analysts"
	"github.com/dyike/stockbot/internal/logger"
	"github.com/dyike/stockbot/internal/models"
)

const sectorNewsResults = 10

// SectorMode analyzes a sector's news and then every ticker it points at.
type SectorMode struct {
	s         *Session
	stocks    *StockMode
	extractor *analysts.TickerExtractor
}

func NewSectorMode(s *Session) *SectorMode {
	s.init()
	return &SectorMode{
		s:         s,
		stocks:    NewStockMode(s),
		extractor: analysts.NewTickerExtractor(s.LLM, s.Market),
	}
}

// tickerSet lets general mode hand out each ticker to one sector only.
type tickerSet struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newTickerSet() *tickerSet {
	return &tickerSet{seen: make(map[string]bool)}
}

// claim reports whether t was not yet taken, taking it.
func (t *tickerSet) claim(ticker string) bool {
	if t == nil {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.seen[ticker] {
		return false
	}
	t.seen[ticker] = true
	return true
}

func (m *SectorMode) Run(ctx context.Context, sector string) models.SectorResult {
	runID := newRunID()
	var result models.SectorResult
	err := m.s.observe(ctx, ModeSector, sector, func(ctx context.Context) error {
		var err error
		result, err = m.run(ctx, sector, runID, nil)
		return err
	})
	if err != nil {
		return models.SectorResult{
			Success:     false,
			Error:       err.Error(),
			RunID:       runID,
			Sector:      sector,
			CompletedAt: time.Now().UTC(),
		}
	}
	return result
}

func (m *SectorMode) run(ctx context.Context, sector, runID string, seen *tickerSet) (models.SectorResult, error) {
	s := m.s
	sector = strings.ToLower(strings.TrimSpace(sector))
	if sector == "" {
		return models.SectorResult{}, models.InvalidSubject(sector, errors.New("empty sector"))
	}
	subject := strings.ToUpper(sector)

	s.step("📰 Fetching %s sector news...", sector)
	articles := s.search(ctx, sector+" sector stock market", sectorNewsResults)
	s.persistNews(ctx, subject, articles)

	s.step("🔍 Analyzing %d %s sector articles...", len(articles), sector)
	records := s.gatherArticles(ctx, sector, articles)
	analysis := s.aggregator.AggregateFor(ctx, sector+" sector", records)
	s.persistAnalysis(ctx, subject, runID, analysis)

	s.step("🏷️  Identifying %s stocks...", sector)
	candidates := analysts.DedupeStrings(m.extractor.Extract(ctx, sector, articles), s.Sectors.Stocks(sector))
	tickers := make([]string, 0, len(candidates))
	for _, t := range candidates {
		if seen.claim(t) {
			tickers = append(tickers, t)
		}
	}
	s.updateWatchlist(ctx, tickers, sector)
	s.step("📋 %d stocks to analyze in %s: %s", len(tickers), sector, strings.Join(tickers, ", "))

	slots := m.analyzeAll(ctx, tickers, runID, []contextRecord{{label: "Sector Context", record: analysis}})
	if err := ctx.Err(); err != nil {
		return models.SectorResult{}, err
	}

	result := models.SectorResult{
		Success:        true,
		RunID:          runID,
		Sector:         sector,
		SectorAnalysis: analysis,
		Tickers:        tickers,
		Stocks:         []models.StockResult{},
		Skipped:        []string{},
	}
	for i, r := range slots {
		if r.Success {
			result.Stocks = append(result.Stocks, r)
			continue
		}
		result.Skipped = append(result.Skipped, tickers[i])
	}
	result.Summary = SummarizeSector(sector, analysis, result.Stocks)
	result.CompletedAt = time.Now().UTC()

	summaryID := runID
	if seen != nil {
		// part of a general run, which saves its own summary under runID
		summaryID = runID + "/" + sector
	}
	s.saveSummary(ctx, summaryID, ModeSector, sector, result.Summary.Actions, result.Summary)
	return result, nil
}

// analyzeAll runs the stock pipeline for each ticker on up to Workers
// goroutines. Each result lands in the slot of its ticker.
func (m *SectorMode) analyzeAll(ctx context.Context, tickers []string, runID string, seeds []contextRecord) []models.StockResult {
	slots := make([]models.StockResult, len(tickers))
	var g errgroup.Group
	g.SetLimit(m.s.Options.Workers)
	for i, ticker := range tickers {
		g.Go(func() error {
			if ctx.Err() != nil {
				slots[i] = failedStock(runID, ticker, ctx.Err())
				return nil
			}
			m.s.step("📈 Analyzing %s (%d/%d)...", ticker, i+1, len(tickers))
			err := runWithRecovery(func() error {
				r, err := m.stocks.analyze(ctx, ticker, runID, ModeSector, seeds)
				if err != nil {
					return err
				}
				slots[i] = r
				return nil
			})
			if err != nil {
				if errors.Is(err, models.ErrInvalidSubject) {
					logger.Info("skipping unknown ticker", logger.String("ticker", ticker), logger.Err(err))
				} else {
					logger.Error("stock analysis failed", logger.String("ticker", ticker), logger.Err(err))
				}
				slots[i] = failedStock(runID, ticker, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return slots
}

// SummarizeSector counts the decisions of the analyzed stocks and reports the
// sector's own sentiment and confidence.
func SummarizeSector(sector string, analysis models.AnalysisRecord, stocks []models.StockResult) models.SectorSummary {
	sum := models.SectorSummary{
		Sector:     sector,
		Sentiment:  analysis.Sentiment,
		Confidence: analysis.Confidence,
	}
	var total float64
	for _, r := range stocks {
		if r.Decision == nil {
			continue
		}
		sum.StocksAnalyzed++
		sum.Actions.Add(r.Decision.Action)
		total += r.Decision.Confidence
	}
	if sum.StocksAnalyzed > 0 {
		sum.AverageConfidence = math.Round(total/float64(sum.StocksAnalyzed)*100) / 100
	}
	return sum
}
