package trader

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dyike/stockbot/internal/models"
	"github.com/dyike/stockbot/internal/storage/trades"
	"github.com/dyike/stockbot/internal/storage/vector"
	"github.com/dyike/stockbot/pkg/normalizer"
)

type mockCompleter struct {
	mock.Mock
}

func (m *mockCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	args := m.Called(ctx, prompt)
	return args.String(0), args.Error(1)
}

type mockRecorder struct {
	mock.Mock
}

func (m *mockRecorder) OpenPosition(ctx context.Context, order trades.Order) (trades.Position, error) {
	args := m.Called(ctx, order)
	return args.Get(0).(trades.Position), args.Error(1)
}

func sampleDecision() models.TradingDecision {
	return models.TradingDecision{
		Action:     models.ActionBuy,
		Confidence: 82,
		Quantity:   10,
		EntryPrice: 150.5,
		StopLoss:   142,
		TakeProfit: 170,
		Reasoning: models.DecisionReasoning{
			TechnicalFactors:   []string{"price above SMA50"},
			FundamentalFactors: []string{"record services revenue"},
			RiskFactors:        []string{"China demand"},
			DecisionProcess:    "momentum and fundamentals agree",
		},
		Scenarios: models.Scenarios{
			BestCase:   "breaks out to 175",
			WorstCase:  "falls to 140",
			MostLikely: "grinds to 160",
		},
		RiskAssessment: models.RiskAssessment{
			RiskLevel:            models.RiskMedium,
			KeyRisks:             []string{"regulation"},
			MitigationStrategies: []string{"stop loss at 142"},
		},
	}
}

func input() DecisionInput {
	return DecisionInput{
		Subject:     "AAPL",
		View:        models.SynthesizedView{Sentiment: models.SentimentBullish, Confidence: 90, KeyPoints: []string{}},
		Snapshot:    models.MarketSnapshot{Success: true, Ticker: "AAPL", CurrentPrice: 150, DailyChange: 1.2},
		Personality: models.PersonalityModerate,
		RunID:       "run-1",
	}
}

func TestDecisionRoundTrip(t *testing.T) {
	want := sampleDecision()
	raw, err := json.Marshal(want)
	require.NoError(t, err)

	got, err := ParseDecision(string(raw))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestParseDecisionTolerantNumbers(t *testing.T) {
	got, err := ParseDecision("```json\n" + `{
		"action": "SELL",
		"confidence": "85%",
		"quantity": "20",
		"entry_price": "$155.20",
		"stop_loss": 160,
		"take_profit": "$140",
		"reasoning": "overbought",
		"scenarios": {},
		"risk_assessment": {"risk_level": "High"},
	}` + "\n```")
	require.NoError(t, err)
	assert.Equal(t, models.ActionSell, got.Action)
	assert.Equal(t, float64(85), got.Confidence)
	assert.Equal(t, 20, got.Quantity)
	assert.Equal(t, 155.20, got.EntryPrice)
	assert.Equal(t, float64(140), got.TakeProfit)
	assert.Equal(t, "overbought", got.Reasoning.DecisionProcess)
	assert.Equal(t, models.RiskHigh, got.RiskAssessment.RiskLevel)
}

func TestParseDecisionRejectsSchemaViolations(t *testing.T) {
	for name, raw := range map[string]string{
		"unknown action":   `{"action": "strong buy", "confidence": 50}`,
		"confidence range": `{"action": "buy", "confidence": 150}`,
		"negative price":   `{"action": "buy", "confidence": 50, "stop_loss": -3}`,
		"bad risk level":   `{"action": "hold", "risk_assessment": {"risk_level": "extreme"}}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseDecision(raw)
			require.Error(t, err)
			assert.True(t, errors.Is(err, normalizer.ErrMalformedOutput))
		})
	}
}

func TestDecideMalformedOutputHolds(t *testing.T) {
	c := &mockCompleter{}
	c.On("Complete", mock.Anything, mock.Anything).Return("I think you should buy.", nil).Twice()
	rec := &mockRecorder{}

	got, err := NewSynthesizer(c, rec, nil).Decide(context.Background(), input())
	require.NoError(t, err)
	assert.Equal(t, models.HoldDecision(), got)
	assert.Equal(t, models.RiskHigh, got.RiskAssessment.RiskLevel)
	assert.Equal(t, []string{"Decision generation failed"}, got.RiskAssessment.KeyRisks)
	c.AssertNumberOfCalls(t, "Complete", 2)
	rec.AssertNotCalled(t, "OpenPosition", mock.Anything, mock.Anything)
}

func TestDecideRetriesOnce(t *testing.T) {
	valid, err := json.Marshal(sampleDecision())
	require.NoError(t, err)

	c := &mockCompleter{}
	c.On("Complete", mock.Anything, mock.Anything).Return(`{"action": "maybe"}`, nil).Once()
	c.On("Complete", mock.Anything, mock.Anything).Return(string(valid), nil).Once()
	rec := &mockRecorder{}
	rec.On("OpenPosition", mock.Anything, mock.Anything).Return(trades.Position{ID: 1}, nil).Once()

	got, err := NewSynthesizer(c, rec, nil).Decide(context.Background(), input())
	require.NoError(t, err)
	assert.Equal(t, models.ActionBuy, got.Action)
	c.AssertExpectations(t)
	rec.AssertExpectations(t)
}

func TestDecideRecordsPositionWithSnapshotPrice(t *testing.T) {
	c := &mockCompleter{}
	c.On("Complete", mock.Anything, mock.MatchedBy(func(p string) bool {
		return strings.Contains(p, "Moderate") && strings.Contains(p, `"current_price": 150`)
	})).Return(`{"action": "buy", "confidence": 88, "quantity": 5, "entry_price": 0, "stop_loss": 140, "take_profit": 170,
		"risk_assessment": {"risk_level": "low"}}`, nil)
	rec := &mockRecorder{}
	rec.On("OpenPosition", mock.Anything, trades.Order{
		Ticker:      "AAPL",
		Action:      models.ActionBuy,
		Price:       150,
		Quantity:    5,
		Personality: models.PersonalityModerate,
		Confidence:  88,
		StopLoss:    140,
		TakeProfit:  170,
		RunID:       "run-1",
	}).Return(trades.Position{ID: 7, Ticker: "AAPL", Price: 150}, nil).Once()

	got, err := NewSynthesizer(c, rec, nil).Decide(context.Background(), input())
	require.NoError(t, err)
	assert.Equal(t, models.ActionBuy, got.Action)
	assert.Zero(t, got.EntryPrice)
	rec.AssertNumberOfCalls(t, "OpenPosition", 1)
}

func TestDecideIgnoresRecorderFailure(t *testing.T) {
	c := &mockCompleter{}
	c.On("Complete", mock.Anything, mock.Anything).Return(`{"action": "sell", "confidence": 60, "entry_price": 151}`, nil)
	rec := &mockRecorder{}
	rec.On("OpenPosition", mock.Anything, mock.Anything).Return(trades.Position{}, models.ErrMaxPositions)

	got, err := NewSynthesizer(c, rec, nil).Decide(context.Background(), input())
	require.NoError(t, err)
	assert.Equal(t, models.ActionSell, got.Action)
	assert.Equal(t, 151.0, got.EntryPrice)
}

func TestDecideHoldSkipsRecorder(t *testing.T) {
	c := &mockCompleter{}
	c.On("Complete", mock.Anything, mock.Anything).Return(`{"action": "hold", "confidence": 40}`, nil)
	rec := &mockRecorder{}

	got, err := NewSynthesizer(c, rec, nil).Decide(context.Background(), input())
	require.NoError(t, err)
	assert.Equal(t, models.ActionHold, got.Action)
	rec.AssertNotCalled(t, "OpenPosition", mock.Anything, mock.Anything)
}

type fixedAccount struct {
	balance float64
	err     error
}

func (a fixedAccount) Status(context.Context) (trades.AccountStatus, error) {
	return trades.AccountStatus{Balance: a.balance}, a.err
}

type fixedMemory struct {
	matches []vector.Match
	err     error
	query   string
}

func (m *fixedMemory) QuerySimilar(_ context.Context, collection, text string, n int) ([]vector.Match, error) {
	m.query = collection + "|" + text
	return m.matches, m.err
}

func TestDecideCapsQuantityAtRiskLimit(t *testing.T) {
	c := &mockCompleter{}
	c.On("Complete", mock.Anything, mock.MatchedBy(func(p string) bool {
		return strings.Contains(p, "2.00% of the account balance ($2000.00)")
	})).Return(`{"action": "buy", "confidence": 80, "quantity": 500, "stop_loss": 140}`, nil).Once()
	rec := &mockRecorder{}
	rec.On("OpenPosition", mock.Anything, mock.MatchedBy(func(o trades.Order) bool {
		return o.Quantity == 200 && o.Price == 150
	})).Return(trades.Position{ID: 1}, nil).Once()

	got, err := NewSynthesizer(c, rec, nil).
		WithRiskLimit(2, fixedAccount{balance: 100000}).
		Decide(context.Background(), input())
	require.NoError(t, err)
	assert.Equal(t, 200, got.Quantity)
	rec.AssertExpectations(t)
}

func TestCapQuantity(t *testing.T) {
	in := input()
	buy := models.TradingDecision{Action: models.ActionBuy, Quantity: 50}

	// No stop: the whole 150 price is at risk.
	assert.Equal(t, 13, capQuantity(in, buy, 2000).Quantity)
	assert.Equal(t, 50, capQuantity(in, buy, 0).Quantity)

	small := buy
	small.Quantity = 5
	assert.Equal(t, 5, capQuantity(in, small, 2000).Quantity)

	short := models.TradingDecision{Action: models.ActionSell, Quantity: 100, EntryPrice: 100, StopLoss: 104}
	assert.Equal(t, 25, capQuantity(in, short, 100).Quantity)
}

func TestDecideSkipsRiskLimitWithoutBalance(t *testing.T) {
	c := &mockCompleter{}
	c.On("Complete", mock.Anything, mock.MatchedBy(func(p string) bool {
		return strings.Contains(p, "Risk limit: no per-trade limit set.")
	})).Return(`{"action": "buy", "confidence": 80, "quantity": 500}`, nil).Once()
	rec := &mockRecorder{}
	rec.On("OpenPosition", mock.Anything, mock.MatchedBy(func(o trades.Order) bool {
		return o.Quantity == 500
	})).Return(trades.Position{ID: 1}, nil).Once()

	got, err := NewSynthesizer(c, rec, nil).
		WithRiskLimit(2, fixedAccount{err: errors.New("locked")}).
		Decide(context.Background(), input())
	require.NoError(t, err)
	assert.Equal(t, 500, got.Quantity)
	rec.AssertExpectations(t)
}

func TestDecideShowsPastDecisionsForTicker(t *testing.T) {
	mem := &fixedMemory{matches: []vector.Match{
		{Document: "BUY AAPL (confidence 80, Moderate)\nservices growth", Metadata: map[string]string{"ticker": "AAPL"}},
		{Document: "SELL MSFT (confidence 70, Moderate)", Metadata: map[string]string{"ticker": "MSFT"}},
	}}
	c := &mockCompleter{}
	c.On("Complete", mock.Anything, mock.MatchedBy(func(p string) bool {
		return strings.Contains(p, "Earlier decisions on this ticker:\n- BUY AAPL (confidence 80, Moderate) services growth\n") &&
			!strings.Contains(p, "MSFT")
	})).Return(`{"action": "hold", "confidence": 40}`, nil).Once()

	got, err := NewSynthesizer(c, nil, nil).WithMemory(mem).Decide(context.Background(), input())
	require.NoError(t, err)
	assert.Equal(t, models.ActionHold, got.Action)
	assert.True(t, strings.HasPrefix(mem.query, vector.CollectionDecisions+"|AAPL"))
	c.AssertExpectations(t)
}

func TestDecidePastDecisionLookupFailureIsIgnored(t *testing.T) {
	mem := &fixedMemory{err: errors.New("chroma down")}
	c := &mockCompleter{}
	c.On("Complete", mock.Anything, mock.MatchedBy(func(p string) bool {
		return strings.Contains(p, "Earlier decisions on this ticker:\n(none)")
	})).Return(`{"action": "hold", "confidence": 40}`, nil).Once()

	_, err := NewSynthesizer(c, nil, nil).WithMemory(mem).Decide(context.Background(), input())
	require.NoError(t, err)
	c.AssertExpectations(t)
}

func TestPersonalitySelector(t *testing.T) {
	c := &mockCompleter{}
	c.On("Complete", mock.Anything, mock.Anything).Return(`{"personality": "trend-following", "reasoning": "strong momentum"}`, nil).Once()
	c.On("Complete", mock.Anything, mock.Anything).Return(`{"personality": "YOLO"}`, nil).Once()
	c.On("Complete", mock.Anything, mock.Anything).Return("", errors.New("offline")).Once()

	s := NewPersonalitySelector(c)
	assert.Equal(t, models.PersonalityTrendFollowing, s.Select(context.Background(), "AAPL", "ctx"))
	assert.Equal(t, models.PersonalityModerate, s.Select(context.Background(), "AAPL", "ctx"))
	assert.Equal(t, models.PersonalityModerate, s.Select(context.Background(), "AAPL", "ctx"))
}
