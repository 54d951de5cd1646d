package trading

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dyike/stockbot/internal/agents/researchers"
	"github.com/dyike/stockbot/internal/agents/trader"
	"github.com/dyike/stockbot/internal/logger"
	"github.com/dyike/stockbot/internal/models"
	"github.com/dyike/stockbot/internal/storage/sqlite"
	"github.com/dyike/stockbot/internal/storage/vector"
	"github.com/dyike/stockbot/internal/tools"
	"github.com/dyike/stockbot/pkg/dataflows"
)

const stockNewsResults = 10

// StockMode analyzes a single ticker end to end and records the decision.
type StockMode struct {
	s           *Session
	selector    *trader.PersonalitySelector
	synthesizer *trader.Synthesizer
}

func NewStockMode(s *Session) *StockMode {
	s.init()
	synth := trader.NewSynthesizer(s.LLM, s.Ledger, s.Collector).WithMemory(s.Vectors)
	if account, ok := s.Ledger.(trader.AccountSource); ok {
		synth.WithRiskLimit(s.Options.RiskPercentage, account)
	}
	return &StockMode{
		s:           s,
		selector:    trader.NewPersonalitySelector(s.LLM),
		synthesizer: synth,
	}
}

// contextRecord is an analysis the stock run starts from besides its own
// news, such as the sector or market analysis.
type contextRecord struct {
	label  string
	record models.AnalysisRecord
}

// decisionDocument is what the decisions collection stores per ticker.
type decisionDocument struct {
	RunID       string                 `json:"run_id"`
	Ticker      string                 `json:"ticker"`
	Mode        string                 `json:"mode"`
	Personality models.Personality     `json:"personality"`
	Decision    models.TradingDecision `json:"decision"`
	View        models.SynthesizedView `json:"synthesized_view"`
	MarketData  models.MarketSnapshot  `json:"market_data"`
	Timestamp   time.Time              `json:"timestamp"`
}

// Run analyzes ticker. It never returns an error; failures come back as a
// result with Success false.
func (m *StockMode) Run(ctx context.Context, ticker string) models.StockResult {
	runID := newRunID()
	var result models.StockResult
	err := m.s.observe(ctx, ModeStock, ticker, func(ctx context.Context) error {
		var err error
		result, err = m.analyze(ctx, ticker, runID, ModeStock, nil)
		if err != nil {
			return err
		}
		actions := models.ActionCounts{}
		actions.Add(result.Decision.Action)
		m.s.saveSummary(ctx, runID, ModeStock, result.Ticker, actions, map[string]any{
			"ticker":      result.Ticker,
			"action":      result.Decision.Action,
			"confidence":  result.Decision.Confidence,
			"personality": result.Personality,
			"sentiment":   result.View.Sentiment,
			"articles":    result.ArticleCount,
		})
		return nil
	})
	if err != nil {
		return failedStock(runID, ticker, err)
	}
	return result
}

func failedStock(runID, ticker string, err error) models.StockResult {
	return models.StockResult{
		Success:     false,
		Error:       err.Error(),
		RunID:       runID,
		Ticker:      ticker,
		CompletedAt: time.Now().UTC(),
	}
}

// analyze runs the stock pipeline. Errors that match models.ErrInvalidSubject
// mean the ticker is unknown; anything else is fatal for this ticker only.
func (m *StockMode) analyze(ctx context.Context, ticker, runID, mode string, seeds []contextRecord) (models.StockResult, error) {
	s := m.s
	ticker = dataflows.NormalizeSymbol(ticker)
	if err := dataflows.ValidateSymbol(ticker); err != nil {
		return models.StockResult{}, models.InvalidSubject(ticker, err)
	}
	if err := s.Market.Validate(ctx, ticker); err != nil {
		if errors.Is(err, models.ErrInvalidSubject) {
			return models.StockResult{}, err
		}
		logger.Warn("could not validate ticker, continuing", logger.String("ticker", ticker), logger.Err(err))
	}

	s.step("📰 Searching news for %s...", ticker)
	articles := s.search(ctx, ticker+" stock market news", stockNewsResults)
	s.step("🔍 Analyzing %d articles for %s...", len(articles), ticker)
	records := s.gatherArticles(ctx, ticker, articles)
	s.persistNews(ctx, "STOCK_"+ticker, articles)

	initial := s.aggregator.AggregateFor(ctx, ticker, records)
	s.persistAnalysis(ctx, "STOCK_"+ticker, runID, initial)

	s.step("📊 Fetching market data for %s...", ticker)
	snapshot := s.Market.Snapshot(ctx, ticker)
	if !snapshot.Success {
		logger.Warn("market snapshot unavailable", logger.String("ticker", ticker), logger.String("error", snapshot.Error))
	}

	s.step("🧠 Researching %s...", ticker)
	toolbox := tools.NewStockToolbox(s.Searcher, s.Market, s.Collector)
	deep := s.loop(ctx, toolbox).RunFrom(ctx, ticker, seedContext(seeds, initial))
	if err := ctx.Err(); err != nil {
		return models.StockResult{}, err
	}

	startRecords := []models.AnalysisRecord{initial}
	for _, c := range seeds {
		startRecords = append(startRecords, c.record)
	}
	view := BuildView(startRecords, deep)

	personality := s.Options.Personality
	if personality == "" || mode != ModeStock {
		personality = m.selector.Select(ctx, ticker, researchers.Summarize(models.AnalysisRecord{
			Sentiment:    view.Sentiment,
			MarketImpact: view.MarketImpact,
			KeyPoints:    view.KeyPoints,
		}))
	}

	s.step("🎯 Deciding on %s as a %s trader...", ticker, personality)
	decision, err := m.synthesizer.Decide(ctx, trader.DecisionInput{
		Subject:     ticker,
		View:        view,
		Snapshot:    snapshot,
		Personality: personality,
		RunID:       runID,
	})
	if err != nil {
		return models.StockResult{}, fmt.Errorf("decide %s: %w", ticker, err)
	}

	now := time.Now().UTC()
	m.recordDecision(ctx, decisionDocument{
		RunID:       runID,
		Ticker:      ticker,
		Mode:        mode,
		Personality: personality,
		Decision:    decision,
		View:        view,
		MarketData:  snapshot,
		Timestamp:   now,
	})

	return models.StockResult{
		Success:         true,
		RunID:           runID,
		Ticker:          ticker,
		Personality:     personality,
		MarketData:      snapshot,
		InitialAnalysis: initial,
		DeepAnalysis:    deep,
		View:            view,
		Decision:        &decision,
		ArticleCount:    len(records),
		CompletedAt:     now,
	}, nil
}

func seedContext(seeds []contextRecord, initial models.AnalysisRecord) string {
	if len(seeds) == 0 {
		return researchers.Summarize(initial)
	}
	var b strings.Builder
	for _, c := range seeds {
		fmt.Fprintf(&b, "%s:\n%s\n\n", c.label, researchers.Summarize(c.record))
	}
	fmt.Fprintf(&b, "Initial Stock Analysis:\n%s", researchers.Summarize(initial))
	return b.String()
}

// recordDecision writes the decision document as one row and indexes it for
// similarity search. Failures are logged.
func (m *StockMode) recordDecision(ctx context.Context, doc decisionDocument) {
	s := m.s
	meta := map[string]string{
		"run_id":      doc.RunID,
		"ticker":      doc.Ticker,
		"action":      string(doc.Decision.Action),
		"personality": string(doc.Personality),
		"confidence":  fmt.Sprintf("%.0f", doc.Decision.Confidence),
	}
	if s.Documents != nil {
		if err := s.Documents.Persist(ctx, sqlite.CollectionDecisions, doc.Ticker, doc, meta); err != nil {
			logger.Error("failed to save decision", logger.String("ticker", doc.Ticker), logger.Err(err))
		}
	}

	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(doc.RunID+"|"+doc.Ticker)).String()
	text := fmt.Sprintf("%s %s (confidence %.0f, %s)\n%s\n%s",
		strings.ToUpper(string(doc.Decision.Action)), doc.Ticker, doc.Decision.Confidence,
		doc.Personality, doc.Decision.Reasoning.DecisionProcess, doc.View.MarketImpact)
	if err := s.Vectors.Add(ctx, vector.CollectionDecisions, id, text, meta); err != nil {
		logger.Warn("failed to index decision", logger.String("ticker", doc.Ticker), logger.Err(err))
	}
}
