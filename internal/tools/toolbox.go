// Package tools exposes the research tools the question loop can call:
// news search, financial data and market analysis.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	t_utils "github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"
	"go.opentelemetry.io/otel/attribute"

	"github.com/dyike/stockbot/internal/metrics"
	"github.com/dyike/stockbot/internal/models"
	"github.com/dyike/stockbot/internal/tracing"
	"github.com/dyike/stockbot/pkg/dataflows"
)

const newsResults = 5

// MarketSubject is the research subject of general mode.
const MarketSubject = "the market"

type NewsSearchInput struct {
	Subject  string `json:"subject"`
	Question string `json:"question"`
}

type NewsSearchOutput struct {
	Query    string           `json:"query"`
	Articles []models.Article `json:"articles"`
}

type TickerInput struct {
	Ticker string `json:"ticker"`
}

// Toolbox dispatches research questions to eino tools and returns the tool
// result serialized as text.
type Toolbox struct {
	tools     map[models.Tool]tool.InvokableTool
	collector *metrics.Collector
}

// NewStockToolbox answers questions about a single ticker.
func NewStockToolbox(searcher dataflows.Searcher, market dataflows.MarketData, collector *metrics.Collector) *Toolbox {
	return &Toolbox{
		tools: map[models.Tool]tool.InvokableTool{
			models.ToolNewsSearch:     newNewsSearchTool(searcher, stockQuery),
			models.ToolFinancialData:  newFinancialDataTool(market),
			models.ToolMarketAnalysis: newMarketAnalysisTool(market),
		},
		collector: collector,
	}
}

// NewMarketToolbox answers questions about the market as a whole. Both data
// tools report the index overview.
func NewMarketToolbox(searcher dataflows.Searcher, market dataflows.MarketData, collector *metrics.Collector) *Toolbox {
	overview := newOverviewTool(market)
	return &Toolbox{
		tools: map[models.Tool]tool.InvokableTool{
			models.ToolNewsSearch:     newNewsSearchTool(searcher, marketQuery),
			models.ToolFinancialData:  overview(string(models.ToolFinancialData), "Get the latest levels and daily changes of the major US indices"),
			models.ToolMarketAnalysis: overview(string(models.ToolMarketAnalysis), "Get a market-wide snapshot of the major US indices"),
		},
		collector: collector,
	}
}

func stockQuery(subject, question string) string {
	return strings.TrimSpace(fmt.Sprintf("%s stock market news %s", subject, question))
}

func marketQuery(_, question string) string {
	return strings.TrimSpace("stock market news " + question)
}

func newNewsSearchTool(searcher dataflows.Searcher, query func(subject, question string) string) tool.InvokableTool {
	return t_utils.NewTool(
		&schema.ToolInfo{
			Name: string(models.ToolNewsSearch),
			Desc: "Search recent financial news about the subject, focused on the question",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"subject":  {Type: "string", Desc: "Ticker or research subject", Required: true},
				"question": {Type: "string", Desc: "The research question to focus the search on"},
			}),
		},
		func(ctx context.Context, input NewsSearchInput) (*NewsSearchOutput, error) {
			q := query(input.Subject, input.Question)
			articles, err := searcher.Search(ctx, q, newsResults)
			if err != nil {
				return nil, err
			}
			return &NewsSearchOutput{Query: q, Articles: dataflows.Dedupe(articles, newsResults)}, nil
		},
	)
}

func tickerParams() *schema.ParamsOneOf {
	return schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
		"ticker": {Type: "string", Desc: "The stock ticker symbol", Required: true},
	})
}

func newFinancialDataTool(market dataflows.MarketData) tool.InvokableTool {
	return t_utils.NewTool(
		&schema.ToolInfo{
			Name:        string(models.ToolFinancialData),
			Desc:        "Get company profile, valuation ratios and per-share metrics for a ticker",
			ParamsOneOf: tickerParams(),
		},
		func(ctx context.Context, input TickerInput) (*models.Financials, error) {
			fin := market.Financials(ctx, input.Ticker)
			if !fin.Success {
				return nil, models.NewUpstreamError("financial_data", fmt.Errorf("%s", fin.Error))
			}
			return &fin, nil
		},
	)
}

func newMarketAnalysisTool(market dataflows.MarketData) tool.InvokableTool {
	return t_utils.NewTool(
		&schema.ToolInfo{
			Name:        string(models.ToolMarketAnalysis),
			Desc:        "Get trend, momentum, volatility and return statistics for a ticker",
			ParamsOneOf: tickerParams(),
		},
		func(ctx context.Context, input TickerInput) (*models.MarketAnalysis, error) {
			ana := market.Analysis(ctx, input.Ticker)
			if !ana.Success {
				return nil, models.NewUpstreamError("market_analysis", fmt.Errorf("%s", ana.Error))
			}
			return &ana, nil
		},
	)
}

func newOverviewTool(market dataflows.MarketData) func(name, desc string) tool.InvokableTool {
	return func(name, desc string) tool.InvokableTool {
		return t_utils.NewTool(
			&schema.ToolInfo{
				Name:        name,
				Desc:        desc,
				ParamsOneOf: tickerParams(),
			},
			func(ctx context.Context, _ TickerInput) (*models.MarketOverview, error) {
				ov := market.Overview(ctx)
				if len(ov.Indices) == 0 {
					return nil, models.NewUpstreamError(name, fmt.Errorf("no index quotes available"))
				}
				return &ov, nil
			},
		)
	}
}

// Dispatch runs the tool a question names, defaulting to news search, and
// returns its result as text.
func (tb *Toolbox) Dispatch(ctx context.Context, subject string, q models.ResearchQuestion) (string, error) {
	name := models.ParseTool(string(q.Tool))
	t := tb.tools[name]

	var args any
	switch name {
	case models.ToolNewsSearch:
		args = NewsSearchInput{Subject: subject, Question: q.Text}
	default:
		args = TickerInput{Ticker: subject}
	}
	payload, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("encode %s arguments: %w", name, err)
	}

	ctx, span := tracing.StartSpan(ctx, "tool."+string(name), attribute.String("subject", subject))
	out, err := t.InvokableRun(ctx, string(payload))
	tracing.End(span, err)
	tb.collector.ObserveTool(string(name), err)
	if err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

// Describe lists the tools for a question-generation prompt.
func (tb *Toolbox) Describe(ctx context.Context) string {
	var b strings.Builder
	for _, name := range []models.Tool{models.ToolNewsSearch, models.ToolFinancialData, models.ToolMarketAnalysis} {
		info, err := tb.tools[name].Info(ctx)
		if err != nil || info == nil {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", name, info.Desc)
	}
	return b.String()
}
