package models

import "time"

// SynthesizedView is the final picture handed to the decision synthesizer.
type SynthesizedView struct {
	Sentiment    Sentiment `json:"sentiment"`
	Confidence   float64   `json:"confidence"`
	KeyPoints    []string  `json:"key_points"`
	MarketImpact string    `json:"market_impact"`
}

type StockResult struct {
	Success         bool             `json:"success"`
	Error           string           `json:"error,omitempty"`
	RunID           string           `json:"run_id"`
	Ticker          string           `json:"ticker"`
	Personality     Personality      `json:"personality,omitempty"`
	MarketData      MarketSnapshot   `json:"market_data"`
	InitialAnalysis AnalysisRecord   `json:"initial_analysis"`
	DeepAnalysis    DeepAnalysis     `json:"deep_analysis"`
	View            SynthesizedView  `json:"synthesized_view"`
	Decision        *TradingDecision `json:"decision,omitempty"`
	ArticleCount    int              `json:"article_count"`
	CompletedAt     time.Time        `json:"completed_at"`
}

type ActionCounts struct {
	Buy  int `json:"buy"`
	Sell int `json:"sell"`
	Hold int `json:"hold"`
}

func (c *ActionCounts) Add(a Action) {
	switch a {
	case ActionBuy:
		c.Buy++
	case ActionSell:
		c.Sell++
	default:
		c.Hold++
	}
}

type SectorSummary struct {
	Sector            string       `json:"sector"`
	StocksAnalyzed    int          `json:"stocks_analyzed"`
	Actions           ActionCounts `json:"actions"`
	AverageConfidence float64      `json:"average_confidence"`
	Sentiment         Sentiment    `json:"sector_sentiment"`
	Confidence        float64      `json:"sector_confidence"`
}

type SectorResult struct {
	Success        bool           `json:"success"`
	Error          string         `json:"error,omitempty"`
	RunID          string         `json:"run_id"`
	Sector         string         `json:"sector"`
	SectorAnalysis AnalysisRecord `json:"sector_analysis"`
	Tickers        []string       `json:"tickers"`
	Stocks         []StockResult  `json:"stocks"`
	Skipped        []string       `json:"skipped,omitempty"`
	Summary        SectorSummary  `json:"summary"`
	CompletedAt    time.Time      `json:"completed_at"`
}

type MarketSummary struct {
	SectorsAnalyzed int          `json:"sectors_analyzed"`
	StocksAnalyzed  int          `json:"stocks_analyzed"`
	Actions         ActionCounts `json:"actions"`
	Sentiment       Sentiment    `json:"market_sentiment"`
	Confidence      float64      `json:"market_confidence"`
}

type GeneralResult struct {
	Success        bool           `json:"success"`
	Error          string         `json:"error,omitempty"`
	RunID          string         `json:"run_id"`
	MarketAnalysis AnalysisRecord `json:"market_analysis"`
	DeepAnalysis   DeepAnalysis   `json:"deep_analysis"`
	Overview       MarketOverview `json:"market_overview"`
	Sectors        []SectorResult `json:"sectors"`
	Stocks         []StockResult  `json:"stocks"`
	Summary        MarketSummary  `json:"summary"`
	CompletedAt    time.Time      `json:"completed_at"`
}
