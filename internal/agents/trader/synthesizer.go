// Package trader turns a synthesized view into a trading decision and
// records the resulting position.
package trader

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/attribute"

	"github.com/dyike/stockbot/internal/llm"
	"github.com/dyike/stockbot/internal/logger"
	"github.com/dyike/stockbot/internal/metrics"
	"github.com/dyike/stockbot/internal/models"
	"github.com/dyike/stockbot/internal/prompts"
	"github.com/dyike/stockbot/internal/storage/trades"
	"github.com/dyike/stockbot/internal/storage/vector"
	"github.com/dyike/stockbot/internal/tracing"
	"github.com/dyike/stockbot/pkg/normalizer"
	"github.com/dyike/stockbot/pkg/retry"
	"github.com/dyike/stockbot/pkg/utils"
)

//go:embed decision_schema.json
var decisionSchemaJSON string

var decisionSchema = jsonschema.MustCompileString("decision_schema.json", decisionSchemaJSON)

const (
	// decisionAttempts is the completion budget for one decision.
	decisionAttempts  = 2
	pastDecisions     = 3
	pastDecisionChars = 300
)

// PositionRecorder stores a position opened by a decision.
type PositionRecorder interface {
	OpenPosition(ctx context.Context, order trades.Order) (trades.Position, error)
}

// AccountSource reports the balance the per-trade risk limit is taken from.
type AccountSource interface {
	Status(ctx context.Context) (trades.AccountStatus, error)
}

// Memory recalls indexed decisions similar to a text.
type Memory interface {
	QuerySimilar(ctx context.Context, collection, text string, n int) ([]vector.Match, error)
}

type DecisionInput struct {
	Subject     string
	View        models.SynthesizedView
	Snapshot    models.MarketSnapshot
	Personality models.Personality
	RunID       string
}

type Synthesizer struct {
	llm       llm.Completer
	recorder  PositionRecorder
	collector *metrics.Collector

	riskPct float64
	account AccountSource
	memory  Memory
}

// NewSynthesizer builds a synthesizer. recorder and collector may be nil.
func NewSynthesizer(c llm.Completer, recorder PositionRecorder, collector *metrics.Collector) *Synthesizer {
	return &Synthesizer{llm: c, recorder: recorder, collector: collector}
}

// WithRiskLimit caps the money a single trade may lose at pct percent of the
// account balance. Quantities above the cap are cut down before recording.
func (s *Synthesizer) WithRiskLimit(pct float64, account AccountSource) *Synthesizer {
	s.riskPct = pct
	s.account = account
	return s
}

// WithMemory shows the model the closest earlier decisions on the same ticker.
func (s *Synthesizer) WithMemory(m Memory) *Synthesizer {
	s.memory = m
	return s
}

// Decide asks the model for a decision, retrying once on unusable output.
// When both attempts fail the result is HoldDecision with a nil error; an
// error is returned only when the decision could not be attempted at all.
// A buy or sell opens exactly one position through the recorder.
func (s *Synthesizer) Decide(ctx context.Context, in DecisionInput) (models.TradingDecision, error) {
	ctx, span := tracing.StartSpan(ctx, "trader.decide", attribute.String("subject", in.Subject))
	var spanErr error
	defer func() { tracing.End(span, spanErr) }()

	personality := in.Personality
	if personality == "" {
		personality = models.PersonalityModerate
	}
	budget := s.riskBudget(ctx)
	prompt, err := s.prompt(in, personality, budget, s.recall(ctx, in))
	if err != nil {
		spanErr = err
		return models.HoldDecision(), err
	}

	policy := retry.Policy{MaxAttempts: decisionAttempts}
	decision, err := retry.DoValue(ctx, policy, func(ctx context.Context) (models.TradingDecision, error) {
		raw, err := s.llm.Complete(llm.WithPurpose(ctx, "decision"), prompt)
		if err != nil {
			return models.TradingDecision{}, err
		}
		return ParseDecision(raw)
	})
	if err != nil {
		if ctx.Err() != nil {
			spanErr = ctx.Err()
			return models.HoldDecision(), ctx.Err()
		}
		logger.Warn("decision generation failed, holding",
			logger.String("subject", in.Subject), logger.Err(err))
		s.collector.ObserveDecision(string(models.ActionHold), true)
		return models.HoldDecision(), nil
	}
	s.collector.ObserveDecision(string(decision.Action), false)
	logger.Info("decision",
		logger.String("subject", in.Subject),
		logger.String("action", string(decision.Action)),
		logger.Float("confidence", decision.Confidence),
		logger.String("personality", string(personality)))

	if decision.Action != models.ActionHold {
		decision = capQuantity(in, decision, budget)
		s.record(ctx, in, personality, decision)
	}
	return decision, nil
}

// riskBudget is the most one trade may lose, or 0 when no limit applies.
func (s *Synthesizer) riskBudget(ctx context.Context) float64 {
	if s.riskPct <= 0 || s.account == nil {
		return 0
	}
	status, err := s.account.Status(ctx)
	if err != nil {
		logger.Warn("account status unavailable, risk limit skipped", logger.Err(err))
		return 0
	}
	if status.Balance <= 0 {
		return 0
	}
	return status.Balance * s.riskPct / 100
}

// capQuantity limits d.Quantity so that hitting the stop loses no more than
// budget. Without a stop the whole price is at risk.
func capQuantity(in DecisionInput, d models.TradingDecision, budget float64) models.TradingDecision {
	if budget <= 0 {
		return d
	}
	price := d.EntryPrice
	if price == 0 {
		price = in.Snapshot.CurrentPrice
	}
	perShare := price
	if d.StopLoss > 0 && d.StopLoss != price {
		perShare = math.Abs(price - d.StopLoss)
	}
	if perShare <= 0 {
		return d
	}
	maxQty := int(math.Floor(budget / perShare))
	if d.Quantity > maxQty {
		logger.Info("quantity capped by risk limit",
			logger.String("subject", in.Subject),
			logger.Int("requested", d.Quantity),
			logger.Int("allowed", maxQty))
		d.Quantity = maxQty
	}
	return d
}

// recall lists earlier decisions on the same ticker closest to this view.
func (s *Synthesizer) recall(ctx context.Context, in DecisionInput) string {
	if s.memory == nil {
		return "(none)"
	}
	query := strings.TrimSpace(in.Subject + " " + in.View.MarketImpact)
	matches, err := s.memory.QuerySimilar(ctx, vector.CollectionDecisions, query, pastDecisions)
	if err != nil {
		logger.Warn("past decision lookup failed", logger.String("subject", in.Subject), logger.Err(err))
		return "(none)"
	}
	var b strings.Builder
	for _, m := range matches {
		if t := m.Metadata["ticker"]; t != "" && !strings.EqualFold(t, in.Subject) {
			continue
		}
		text := strings.Join(strings.Fields(m.Document), " ")
		if text == "" {
			continue
		}
		fmt.Fprintf(&b, "- %s\n", utils.Truncate(text, pastDecisionChars))
	}
	if b.Len() == 0 {
		return "(none)"
	}
	return strings.TrimRight(b.String(), "\n")
}

func riskLimitText(pct, budget float64) string {
	if budget <= 0 {
		return "no per-trade limit set"
	}
	return fmt.Sprintf("risk at most %.2f%% of the account balance ($%.2f) on this trade; size the quantity so that hitting the stop loss stays within it", pct, budget)
}

func (s *Synthesizer) record(ctx context.Context, in DecisionInput, personality models.Personality, d models.TradingDecision) {
	if s.recorder == nil {
		return
	}
	price := d.EntryPrice
	if price == 0 {
		price = in.Snapshot.CurrentPrice
	}
	pos, err := s.recorder.OpenPosition(ctx, trades.Order{
		Ticker:      in.Subject,
		Action:      d.Action,
		Price:       price,
		Quantity:    d.Quantity,
		Personality: personality,
		Confidence:  d.Confidence,
		StopLoss:    d.StopLoss,
		TakeProfit:  d.TakeProfit,
		RunID:       in.RunID,
	})
	if err != nil {
		logger.Error("failed to record position", logger.String("subject", in.Subject), logger.Err(err))
		return
	}
	logger.Info("position opened",
		logger.Any("id", pos.ID), logger.String("ticker", pos.Ticker), logger.Float("price", pos.Price))
}

type marketDigest struct {
	Ticker       string                     `json:"ticker"`
	CurrentPrice float64                    `json:"current_price"`
	DailyChange  float64                    `json:"daily_change"`
	Volume       int64                      `json:"volume"`
	Indicators   models.TechnicalIndicators `json:"technical_indicators"`
}

func (s *Synthesizer) prompt(in DecisionInput, personality models.Personality, budget float64, past string) (string, error) {
	view, err := json.MarshalIndent(in.View, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode view: %w", err)
	}
	market, err := json.MarshalIndent(marketDigest{
		Ticker:       in.Snapshot.Ticker,
		CurrentPrice: in.Snapshot.CurrentPrice,
		DailyChange:  in.Snapshot.DailyChange,
		Volume:       in.Snapshot.Volume,
		Indicators:   in.Snapshot.TechnicalIndicators,
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode market data: %w", err)
	}
	return prompts.Render(prompts.Decision, map[string]string{
		"Personality": string(personality),
		"Ticker":      in.Subject,
		"View":        string(view),
		"MarketData":  string(market),
		"Schema":      decisionSchemaJSON,
		"RiskLimit":   riskLimitText(s.riskPct, budget),
		"Past":        past,
	})
}

// ParseDecision builds a decision from model output field by field,
// accepting numbers written as strings with "$" or "%", then checks the
// result against the decision schema. Any failure matches
// normalizer.ErrMalformedOutput.
func ParseDecision(raw string) (models.TradingDecision, error) {
	res, err := normalizer.Parse(raw, normalizer.ShapeObject)
	if err != nil {
		return models.TradingDecision{}, err
	}

	riskLevel := strings.ToLower(normalizer.String(res.Get("risk_assessment.risk_level")))
	if riskLevel == "" {
		riskLevel = string(models.RiskMedium)
	}
	d := models.TradingDecision{
		Action:     models.Action(strings.ToLower(normalizer.String(res.Get("action")))),
		Confidence: normalizer.Float(res.Get("confidence")),
		Quantity:   normalizer.Int(res.Get("quantity")),
		EntryPrice: normalizer.Float(res.Get("entry_price")),
		StopLoss:   normalizer.Float(res.Get("stop_loss")),
		TakeProfit: normalizer.Float(res.Get("take_profit")),
		Reasoning:  parseReasoning(res.Get("reasoning")),
		Scenarios: models.Scenarios{
			BestCase:   normalizer.String(res.Get("scenarios.best_case")),
			WorstCase:  normalizer.String(res.Get("scenarios.worst_case")),
			MostLikely: normalizer.String(res.Get("scenarios.most_likely")),
		},
		RiskAssessment: models.RiskAssessment{
			RiskLevel:            models.RiskLevel(riskLevel),
			KeyRisks:             normalizer.Strings(res.Get("risk_assessment.key_risks")),
			MitigationStrategies: normalizer.Strings(res.Get("risk_assessment.mitigation_strategies")),
		},
	}
	if err := ValidateDecision(d); err != nil {
		return models.TradingDecision{}, &normalizer.ParseFailure{Raw: raw, Shape: normalizer.ShapeObject, Err: err}
	}
	return d, nil
}

func parseReasoning(r gjson.Result) models.DecisionReasoning {
	if r.Type == gjson.String {
		return models.DecisionReasoning{
			TechnicalFactors:   []string{},
			FundamentalFactors: []string{},
			RiskFactors:        []string{},
			DecisionProcess:    normalizer.String(r),
		}
	}
	return models.DecisionReasoning{
		TechnicalFactors:   normalizer.Strings(r.Get("technical_factors")),
		FundamentalFactors: normalizer.Strings(r.Get("fundamental_factors")),
		RiskFactors:        normalizer.Strings(r.Get("risk_factors")),
		DecisionProcess:    normalizer.String(r.Get("decision_process")),
	}
}

// ValidateDecision checks d against the decision schema.
func ValidateDecision(d models.TradingDecision) error {
	data, err := json.Marshal(d)
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	if err := decisionSchema.Validate(doc); err != nil {
		return fmt.Errorf("decision schema: %w", err)
	}
	return nil
}
