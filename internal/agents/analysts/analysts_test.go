package analysts

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dyike/stockbot/internal/models"
	"github.com/dyike/stockbot/pkg/normalizer"
)

type mockCompleter struct {
	mock.Mock
}

func (m *mockCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	args := m.Called(ctx, prompt)
	return args.String(0), args.Error(1)
}

type allowList map[string]bool

func (a allowList) Validate(_ context.Context, ticker string) error {
	if a[ticker] {
		return nil
	}
	return models.InvalidSubject(ticker, nil)
}

func rec(s models.Sentiment, conf float64) models.AnalysisRecord {
	r := models.DefaultAnalysisRecord("")
	r.Sentiment = s
	r.Confidence = conf
	return r
}

func TestAggregateEmptyReturnsDefault(t *testing.T) {
	c := &mockCompleter{}
	agg := NewAggregator(c)

	got := agg.Aggregate(context.Background(), nil)
	assert.Equal(t, models.DefaultAnalysisRecord("No analysis records available to aggregate"), got)
	c.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
}

func TestAggregateMajorityAndMean(t *testing.T) {
	c := &mockCompleter{}
	c.On("Complete", mock.Anything, mock.Anything).
		Return(`{"market_impact": "Positive for tech", "conclusion": "Lean long",}`, nil).Once()

	records := []models.AnalysisRecord{
		rec(models.SentimentBullish, 80),
		rec(models.SentimentBullish, 60),
		rec(models.SentimentBearish, 90),
	}
	before := append([]models.AnalysisRecord(nil), records...)

	got := NewAggregator(c).AggregateFor(context.Background(), "AAPL", records)
	assert.Equal(t, models.SentimentBullish, got.Sentiment)
	assert.Equal(t, float64(77), got.Confidence)
	assert.Equal(t, "Positive for tech", got.MarketImpact)
	assert.Equal(t, "Lean long", got.Reasoning.Conclusion)
	assert.Equal(t, before, records)
	c.AssertExpectations(t)
}

func TestAggregateStableDedupe(t *testing.T) {
	c := &mockCompleter{}
	c.On("Complete", mock.Anything, mock.Anything).Return("", errors.New("offline"))

	a := rec(models.SentimentNeutral, 10)
	a.Themes = []string{"A", "B", "A", "C"}
	a.KeyPoints = []string{"x"}
	b := rec(models.SentimentNeutral, 20)
	b.Themes = []string{"B", "D"}
	b.KeyPoints = []string{"x", "y"}

	got := NewAggregator(c).Aggregate(context.Background(), []models.AnalysisRecord{a, b})
	assert.Equal(t, []string{"A", "B", "C", "D"}, got.Themes)
	assert.Equal(t, []string{"x", "y"}, got.KeyPoints)
	assert.Equal(t, "No synthesis available", got.MarketImpact)
	assert.Equal(t, "No synthesis available", got.Reasoning.Conclusion)
}

func TestAggregateMalformedSynthesis(t *testing.T) {
	c := &mockCompleter{}
	c.On("Complete", mock.Anything, mock.Anything).Return("I cannot answer that.", nil)

	got := NewAggregator(c).Aggregate(context.Background(), []models.AnalysisRecord{rec(models.SentimentBearish, 40)})
	assert.Equal(t, models.SentimentBearish, got.Sentiment)
	assert.Equal(t, "No synthesis available", got.MarketImpact)
}

func TestMajoritySentimentTies(t *testing.T) {
	assert.Equal(t, models.SentimentBullish, MajoritySentiment([]models.AnalysisRecord{
		rec(models.SentimentBearish, 0), rec(models.SentimentBullish, 0),
	}))
	assert.Equal(t, models.SentimentBearish, MajoritySentiment([]models.AnalysisRecord{
		rec(models.SentimentNeutral, 0), rec(models.SentimentBearish, 0),
	}))
	assert.Equal(t, models.SentimentNeutral, MajoritySentiment(nil))
}

func TestMeanConfidenceRoundsHalfAway(t *testing.T) {
	assert.Equal(t, float64(51), MeanConfidence([]models.AnalysisRecord{rec("", 50), rec("", 51)}))
	assert.Equal(t, float64(100), MeanConfidence([]models.AnalysisRecord{rec("", 150)}))
	assert.Zero(t, MeanConfidence(nil))
}

func TestAnalyzeContent(t *testing.T) {
	c := &mockCompleter{}
	c.On("Complete", mock.Anything, mock.MatchedBy(func(p string) bool {
		return strings.Contains(p, "Apple reports record revenue") && strings.Contains(p, "Reuters")
	})).Return("```json\n{\"summary\": \"Record quarter\", \"sentiment\": {\"direction\": \"positive\"}, \"confidence\": \"85%\", \"key_points\": [\"revenue up\"], \"market_impact\": \"bullish\"}\n```", nil)

	got, err := NewContentAnalyzer(c).AnalyzeContent(context.Background(), Content{
		Subject: "AAPL",
		Text:    "Apple reports record revenue",
		Source:  "Reuters",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Record quarter"}, got.Summaries)
	assert.Equal(t, models.SentimentBullish, got.Sentiment)
	assert.Equal(t, float64(85), got.Confidence)
	assert.Equal(t, []string{"revenue up"}, got.KeyPoints)
	assert.NotNil(t, got.Themes)
}

func TestAnalyzeContentFailures(t *testing.T) {
	c := &mockCompleter{}
	c.On("Complete", mock.Anything, mock.Anything).Return("no json here", nil)
	an := NewContentAnalyzer(c)

	_, err := an.AnalyzeContent(context.Background(), Content{Text: "something"})
	assert.True(t, errors.Is(err, normalizer.ErrMalformedOutput))

	_, err = an.AnalyzeContent(context.Background(), Content{Text: "   "})
	assert.Error(t, err)
}

func TestLongContentIsCutOnRuneBoundary(t *testing.T) {
	c := &mockCompleter{}
	c.On("Complete", mock.Anything, mock.MatchedBy(func(p string) bool {
		return utf8.ValidString(p) && !strings.ContainsRune(p, utf8.RuneError)
	})).Return(`{"sentiment": "neutral", "confidence": 10, "identified_tickers": []}`, nil)

	// a three-byte rune straddles both cut points
	long := strings.Repeat("a", maxContentChars-1) + strings.Repeat("€", 10)
	_, err := NewContentAnalyzer(c).AnalyzeContent(context.Background(), Content{Subject: "SAP", Text: long})
	require.NoError(t, err)

	digest := strings.Repeat("b", maxDigestChars-1) + strings.Repeat("€", 10)
	NewTickerExtractor(c, allowList{}).Extract(context.Background(), "europe", []models.Article{{Title: "t", Content: digest}})
	c.AssertNumberOfCalls(t, "Complete", 2)
}

func TestParseAnalysisRecordPlainReasoning(t *testing.T) {
	got, err := ParseAnalysisRecord(`{"sentiment": "bearish", "confidence": 70, "reasoning": "Margins are shrinking"}`)
	require.NoError(t, err)
	assert.Equal(t, "Margins are shrinking", got.Reasoning.Conclusion)
	assert.Empty(t, got.Reasoning.BullishFactors)
}

func TestTickerExtractor(t *testing.T) {
	c := &mockCompleter{}
	c.On("Complete", mock.Anything, mock.Anything).Return(`{"identified_tickers": [
		{"ticker": "NVDA", "confidence": 95},
		{"ticker": "amd", "confidence": "85"},
		{"ticker": "INTC", "confidence": 60},
		{"ticker": "FAKE", "confidence": 99},
		{"ticker": "TOOLONG", "confidence": 99},
		{"ticker": "NVDA", "confidence": 90}
	]}`, nil)

	ex := NewTickerExtractor(c, allowList{"NVDA": true, "AMD": true, "INTC": true})
	got := ex.Extract(context.Background(), "technology", []models.Article{{Title: "Chips rally"}})
	assert.Equal(t, []string{"NVDA", "AMD"}, got)

	assert.Empty(t, ex.Extract(context.Background(), "technology", nil))
}

func TestSectorDiscoverer(t *testing.T) {
	c := &mockCompleter{}
	c.On("Complete", mock.Anything, mock.Anything).Return(`{
		"sectors": [
			{"name": "Energy", "relevance": "medium"},
			{"name": "Technology", "relevance": "high"},
			{"name": "Utilities", "relevance": "low"},
			{"name": "Finance", "relevance": "medium"},
			{"name": "Healthcare", "relevance": "high"},
			{"name": "Consumer", "relevance": "medium"},
			{"name": "Materials", "relevance": "medium"}
		],
		"tickers": [
			{"symbol": "XOM", "relevance": "high"},
			{"symbol": "T", "relevance": "low"},
			{"symbol": "ZZZZ", "relevance": "high"}
		]
	}`, nil)

	d := NewSectorDiscoverer(c, allowList{"XOM": true, "T": true})
	got := d.Discover(context.Background(), models.DefaultAnalysisRecord(""), []string{"technology"})
	assert.Equal(t, []string{"technology", "healthcare", "energy", "finance", "consumer"}, got.Sectors)
	assert.Equal(t, []string{"XOM"}, got.Tickers)
}

func TestSectorDiscovererFailure(t *testing.T) {
	c := &mockCompleter{}
	c.On("Complete", mock.Anything, mock.Anything).Return("", errors.New("timeout"))
	got := NewSectorDiscoverer(c, nil).Discover(context.Background(), map[string]string{}, nil)
	assert.Empty(t, got.Sectors)
	assert.Empty(t, got.Tickers)
}
