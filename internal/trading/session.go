// Package trading runs the three analysis modes: one stock, one sector, or
// the whole market.
package trading

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/dyike/stockbot/internal/agents/analysts"
	"github.com/dyike/stockbot/internal/agents/researchers"
	"github.com/dyike/stockbot/internal/agents/trader"
	"github.com/dyike/stockbot/internal/llm"
	"github.com/dyike/stockbot/internal/logger"
	"github.com/dyike/stockbot/internal/metrics"
	"github.com/dyike/stockbot/internal/models"
	"github.com/dyike/stockbot/internal/storage/sqlite"
	"github.com/dyike/stockbot/internal/storage/trades"
	"github.com/dyike/stockbot/internal/storage/vector"
	"github.com/dyike/stockbot/internal/tracing"
	"github.com/dyike/stockbot/pkg/dataflows"
)

const (
	ModeStock   = "single_stock"
	ModeSector  = "sector"
	ModeGeneral = "general"
)

// DocumentStore keeps the JSON artifacts of a run.
type DocumentStore interface {
	Persist(ctx context.Context, collection, subject string, doc any, metadata map[string]string) error
}

// Ledger is the part of the trade ledger the modes write to.
type Ledger interface {
	trader.PositionRecorder
	UpdateWatchlist(ctx context.Context, tickers []string, sector string) error
	SaveSummary(ctx context.Context, runID, mode, subject string, actions, metrics any) error
}

var _ Ledger = (*trades.Ledger)(nil)

// Options tune the modes. Zero values take the documented defaults.
type Options struct {
	Research researchers.Options
	// Workers bounds concurrent stock analyses in sector mode; 1 is sequential.
	Workers int
	// Personality, when set, replaces model selection in stock mode.
	Personality models.Personality
	// RiskPercentage caps the loss of one trade as a share of the balance.
	RiskPercentage float64
}

// Progress receives one line per pipeline step, for display.
type Progress func(msg string)

// Session holds the collaborators shared by every mode.
type Session struct {
	LLM       llm.Completer
	Searcher  dataflows.Searcher
	Scraper   dataflows.Scraper
	Market    dataflows.MarketData
	Documents DocumentStore
	Vectors   vector.Store
	Ledger    Ledger
	Sectors   *dataflows.SectorTable
	Collector *metrics.Collector
	Options   Options
	Progress  Progress

	analyzer   *analysts.ContentAnalyzer
	aggregator *analysts.Aggregator
}

func (s *Session) init() {
	if s.analyzer == nil {
		s.analyzer = analysts.NewContentAnalyzer(s.LLM)
	}
	if s.aggregator == nil {
		s.aggregator = analysts.NewAggregator(s.LLM)
	}
	if s.Vectors == nil {
		s.Vectors = vector.NopStore{}
	}
	if s.Sectors == nil {
		s.Sectors = dataflows.DefaultSectorTable()
	}
	if s.Options.Workers <= 0 {
		s.Options.Workers = 1
	}
}

func (s *Session) step(format string, args ...any) {
	if s.Progress != nil {
		s.Progress(fmt.Sprintf(format, args...))
	}
}

func newRunID() string {
	return uuid.NewString()
}

// runWithRecovery turns a panic inside fn into an error so a bad run reports
// failure instead of taking the process down.
func runWithRecovery(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic recovered", logger.Any("panic", r), logger.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

// observe wraps a mode run with a span, metrics and a completion log line.
func (s *Session) observe(ctx context.Context, mode, subject string, fn func(ctx context.Context) error) error {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "mode."+mode, attribute.String("subject", subject))
	err := runWithRecovery(func() error { return fn(ctx) })
	tracing.End(span, err)
	s.Collector.ObserveMode(mode, time.Since(start), err == nil)
	if err != nil {
		logger.Error("mode failed", logger.String("mode", mode), logger.String("subject", subject), logger.Err(err))
	} else {
		logger.Info("mode completed", logger.String("mode", mode), logger.String("subject", subject),
			logger.Duration("elapsed", time.Since(start)))
	}
	return err
}

// gatherArticles scrapes and analyzes each article. A failed scrape falls back
// to the search snippet; articles with no text at all and articles whose
// analysis fails are left out.
func (s *Session) gatherArticles(ctx context.Context, subject string, articles []models.Article) []models.AnalysisRecord {
	records := make([]models.AnalysisRecord, 0, len(articles))
	for i, a := range articles {
		if ctx.Err() != nil {
			break
		}
		text := a.Content
		source := a.Source
		if a.URL != "" && s.Scraper != nil {
			res := s.Scraper.Scrape(ctx, a.URL)
			if res.Success && strings.TrimSpace(res.Content) != "" {
				text = res.Content
				if res.Metadata.Source != "" {
					source = res.Metadata.Source
				}
			} else {
				logger.Debug("scrape failed, using snippet", logger.String("url", a.URL), logger.String("error", res.Error))
			}
		}
		if strings.TrimSpace(text) == "" {
			logger.Debug("skipping article without content", logger.String("url", a.URL))
			continue
		}

		rec, err := s.analyzer.AnalyzeContent(ctx, analysts.Content{
			Subject: subject,
			Text:    a.Title + "\n\n" + text,
			Source:  source,
			URL:     a.URL,
		})
		if err != nil {
			logger.Warn("article analysis failed", logger.String("subject", subject), logger.String("url", a.URL), logger.Err(err))
			continue
		}
		s.step("   📄 %d/%d %s: %s (%.0f%%)", i+1, len(articles), truncateTitle(a.Title), rec.Sentiment, rec.Confidence)
		records = append(records, rec)
		s.indexArticle(ctx, subject, a, rec)
	}
	return records
}

func truncateTitle(t string) string {
	const max = 60
	if len([]rune(t)) <= max {
		return t
	}
	return string([]rune(t)[:max]) + "..."
}

func (s *Session) persistNews(ctx context.Context, subject string, articles []models.Article) {
	if s.Documents == nil {
		return
	}
	saved := 0
	for _, a := range articles {
		source := a.Source
		if source == "" {
			source = "unknown"
		}
		err := s.Documents.Persist(ctx, sqlite.CollectionNews, subject, a, map[string]string{
			"source": source,
			"url":    a.URL,
		})
		if err != nil {
			logger.Warn("failed to save article", logger.String("subject", subject), logger.Err(err))
			continue
		}
		saved++
	}
	logger.Debug("news saved", logger.String("subject", subject), logger.Int("saved", saved))
}

func (s *Session) persistAnalysis(ctx context.Context, subject, runID string, rec models.AnalysisRecord) {
	if s.Documents == nil {
		return
	}
	err := s.Documents.Persist(ctx, sqlite.CollectionAnalyses, subject, rec, map[string]string{
		"run_id":    runID,
		"sentiment": string(rec.Sentiment),
	})
	if err != nil {
		logger.Warn("failed to save analysis", logger.String("subject", subject), logger.Err(err))
	}
}

func (s *Session) saveSummary(ctx context.Context, runID, mode, subject string, actions models.ActionCounts, summary any) {
	if s.Ledger == nil {
		return
	}
	if err := s.Ledger.SaveSummary(ctx, runID, mode, subject, actions, summary); err != nil {
		logger.Error("failed to save run summary", logger.String("mode", mode), logger.String("subject", subject), logger.Err(err))
	}
}

func (s *Session) updateWatchlist(ctx context.Context, tickers []string, sector string) {
	if s.Ledger == nil || len(tickers) == 0 {
		return
	}
	if err := s.Ledger.UpdateWatchlist(ctx, tickers, sector); err != nil {
		logger.Warn("failed to update watchlist", logger.String("sector", sector), logger.Err(err))
	}
}

func (s *Session) indexArticle(ctx context.Context, subject string, a models.Article, rec models.AnalysisRecord) {
	key := a.URL
	if key == "" {
		key = subject + "|" + a.Title
	}
	id := uuid.NewSHA1(uuid.NameSpaceURL, []byte(key)).String()
	text := strings.Join(append([]string{a.Title, rec.MarketImpact}, rec.KeyPoints...), "\n")
	err := s.Vectors.Add(ctx, vector.CollectionArticles, id, text, map[string]string{
		"subject":    subject,
		"url":        a.URL,
		"sentiment":  string(rec.Sentiment),
		"confidence": fmt.Sprintf("%.0f", rec.Confidence),
	})
	if err != nil {
		logger.Warn("failed to index article", logger.String("url", a.URL), logger.Err(err))
	}
}

func (s *Session) search(ctx context.Context, query string, n int) []models.Article {
	articles, err := s.Searcher.Search(ctx, query, n)
	if err != nil {
		logger.Warn("news search failed", logger.String("query", query), logger.Err(err))
		return []models.Article{}
	}
	return articles
}

// loop builds a research loop over toolbox. Loops are cheap and built per
// subject so that concurrent workers never share one.
func (s *Session) loop(ctx context.Context, toolbox researchDispatcher) *researchers.Loop {
	opts := s.Options.Research
	gen := researchers.NewQuestionGenerator(s.LLM, opts.MaxQuestions, toolbox.Describe(ctx))
	return researchers.NewLoop(opts, gen, toolbox, s.analyzer)
}

type researchDispatcher interface {
	researchers.Dispatcher
	Describe(ctx context.Context) string
}

// BuildView folds the starting analyses and the successful research answers
// into the view handed to the decision synthesizer.
func BuildView(initial []models.AnalysisRecord, deep models.DeepAnalysis) models.SynthesizedView {
	records := append([]models.AnalysisRecord(nil), initial...)
	records = append(records, deep.SuccessfulAnswers()...)

	var keyPoints [][]string
	var impacts []string
	for _, r := range initial {
		keyPoints = append(keyPoints, r.KeyPoints)
	}
	keyPoints = append(keyPoints, deep.KeyInsights)
	for _, r := range records {
		if strings.TrimSpace(r.MarketImpact) != "" {
			impacts = append(impacts, r.MarketImpact)
		}
	}
	return models.SynthesizedView{
		Sentiment:    analysts.MajoritySentiment(records),
		Confidence:   analysts.MeanConfidence(records),
		KeyPoints:    analysts.DedupeStrings(keyPoints...),
		MarketImpact: strings.Join(analysts.DedupeStrings(impacts), "\n"),
	}
}
