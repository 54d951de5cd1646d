package researchers

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dyike/stockbot/internal/agents/analysts"
	"github.com/dyike/stockbot/internal/llm"
	"github.com/dyike/stockbot/internal/models"
)

type stubGenerator struct {
	questions []models.ResearchQuestion
	calls     int
	contexts  []string
}

func (g *stubGenerator) Generate(_ context.Context, _ string, researchContext string) ([]models.ResearchQuestion, error) {
	g.calls++
	g.contexts = append(g.contexts, researchContext)
	return g.questions, nil
}

type mockDispatcher struct {
	mock.Mock
}

func (m *mockDispatcher) Dispatch(ctx context.Context, subject string, q models.ResearchQuestion) (string, error) {
	args := m.Called(ctx, subject, q)
	return args.String(0), args.Error(1)
}

type analyzerFunc func(ctx context.Context, c analysts.Content) (models.AnalysisRecord, error)

func (f analyzerFunc) AnalyzeContent(ctx context.Context, c analysts.Content) (models.AnalysisRecord, error) {
	return f(ctx, c)
}

func bullishAnswer(points ...string) analyzerFunc {
	return func(context.Context, analysts.Content) (models.AnalysisRecord, error) {
		r := models.DefaultAnalysisRecord("upside")
		r.Sentiment = models.SentimentBullish
		r.Confidence = 70
		r.KeyPoints = points
		return r, nil
	}
}

func TestLoopZeroQuestions(t *testing.T) {
	gen := &stubGenerator{}
	d := &mockDispatcher{}
	loop := NewLoop(Options{}, gen, d, bullishAnswer("never"))

	var got models.DeepAnalysis
	require.NotPanics(t, func() {
		got = loop.Run(context.Background(), "AAPL", models.DefaultAnalysisRecord("seed"))
	})
	require.Len(t, got.Rounds, 2)
	for _, r := range got.Rounds {
		assert.Empty(t, r.Questions)
		assert.Empty(t, r.Answers)
		assert.Empty(t, r.ToolsUsed)
	}
	assert.Empty(t, got.KeyInsights)
	assert.Equal(t, 2, gen.calls)
	d.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything, mock.Anything)
}

func TestLoopKeepsPairingOnFailures(t *testing.T) {
	gen := &stubGenerator{questions: []models.ResearchQuestion{
		{Text: "Who competes?", Tool: models.ToolNewsSearch},
		{Text: "What is the P/E?", Tool: models.ToolFinancialData},
		{Text: "Anything else?", Tool: "unknown_tool"},
		{Text: "Dropped by the cap", Tool: models.ToolNewsSearch},
	}}
	d := &mockDispatcher{}
	d.On("Dispatch", mock.Anything, "AAPL", mock.MatchedBy(func(q models.ResearchQuestion) bool {
		return q.Tool == models.ToolFinancialData
	})).Return("", errors.New("quote service down"))
	d.On("Dispatch", mock.Anything, "AAPL", mock.Anything).Return("some news", nil)

	loop := NewLoop(Options{Rounds: 2, MaxQuestions: 3}, gen, d, bullishAnswer("iphone demand"))
	got := loop.Run(context.Background(), "AAPL", models.DefaultAnalysisRecord("seed"))

	require.Len(t, got.Rounds, 2)
	for _, r := range got.Rounds {
		require.Len(t, r.Questions, 3)
		require.Len(t, r.Answers, 3)
		require.Len(t, r.ToolsUsed, 3)
		assert.False(t, r.Answers[0].IsError())
		assert.True(t, r.Answers[1].IsError())
		assert.Contains(t, r.Answers[1].Error, "quote service down")
		assert.Equal(t, models.ToolNewsSearch, r.ToolsUsed[2])
	}
	// two successful answers per round, one key point each
	assert.Equal(t, []string{"iphone demand", "iphone demand", "iphone demand", "iphone demand"}, got.KeyInsights)
	assert.Len(t, got.SuccessfulAnswers(), 4)

	// the second round sees what the first one learned
	require.Len(t, gen.contexts, 2)
	assert.NotContains(t, gen.contexts[0], "iphone demand")
	assert.Contains(t, gen.contexts[1], "iphone demand")
}

func TestLoopAnalyzerFailureBecomesErrorAnswer(t *testing.T) {
	gen := &stubGenerator{questions: []models.ResearchQuestion{{Text: "q", Tool: models.ToolNewsSearch}}}
	d := &mockDispatcher{}
	d.On("Dispatch", mock.Anything, mock.Anything, mock.Anything).Return("text", nil)
	failing := analyzerFunc(func(context.Context, analysts.Content) (models.AnalysisRecord, error) {
		return models.AnalysisRecord{}, errors.New("malformed")
	})

	got := NewLoop(Options{Rounds: 1}, gen, d, failing).Run(context.Background(), "MSFT", models.DefaultAnalysisRecord(""))
	require.Len(t, got.Rounds, 1)
	require.Len(t, got.Rounds[0].Answers, 1)
	assert.True(t, got.Rounds[0].Answers[0].IsError())
	assert.Empty(t, got.KeyInsights)
}

func TestLoopCancelledReturnsCompletedRounds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gen := &stubGenerator{questions: []models.ResearchQuestion{{Text: "q", Tool: models.ToolNewsSearch}}}
	d := &mockDispatcher{}
	d.On("Dispatch", mock.Anything, mock.Anything, mock.Anything).Return("text", nil)

	rounds := 0
	an := analyzerFunc(func(context.Context, analysts.Content) (models.AnalysisRecord, error) {
		rounds++
		if rounds == 1 {
			cancel()
		}
		return models.DefaultAnalysisRecord("x"), nil
	})

	got := NewLoop(Options{Rounds: 3}, gen, d, an).Run(ctx, "TSLA", models.DefaultAnalysisRecord(""))
	assert.Len(t, got.Rounds, 1)
	assert.Equal(t, 1, gen.calls)
}

func TestContextBufferKeepsSeedAndEvictsOldest(t *testing.T) {
	seed := "seed context"
	buf := NewContextBuffer(seed, len(seed)+12)

	buf.Append("aaaa")
	buf.Append("bbbb")
	assert.Equal(t, []string{"aaaa", "bbbb"}, buf.Entries())

	buf.Append("cccc")
	assert.Equal(t, []string{"bbbb", "cccc"}, buf.Entries())
	assert.True(t, strings.HasPrefix(buf.String(), seed))
	assert.LessOrEqual(t, buf.Len(), len(seed)+12)
}

func TestContextBufferTruncatesOversizeEntry(t *testing.T) {
	buf := NewContextBuffer("s", 11)
	buf.Append("short")
	buf.Append(strings.Repeat("x", 50))

	entries := buf.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, strings.Repeat("x", 9), entries[0])
	assert.Equal(t, 11, buf.Len())
}

func TestContextBufferLongSeedLeavesRoomForResearch(t *testing.T) {
	buf := NewContextBuffer(strings.Repeat("x", 300), 200)
	buf.Append("ROUND1_INSIGHT")

	assert.Contains(t, buf.String(), "ROUND1_INSIGHT")
	assert.True(t, strings.HasPrefix(buf.String(), strings.Repeat("x", 100)))
	assert.LessOrEqual(t, buf.Len(), 200)
}

func TestLoopLongSeedStillCarriesAnswers(t *testing.T) {
	gen := &stubGenerator{questions: []models.ResearchQuestion{{Text: "q", Tool: models.ToolNewsSearch}}}
	d := &mockDispatcher{}
	d.On("Dispatch", mock.Anything, mock.Anything, mock.Anything).Return("text", nil)

	loop := NewLoop(Options{Rounds: 2, ContextLimit: 200}, gen, d, bullishAnswer("ROUND1_INSIGHT"))
	loop.RunFrom(context.Background(), "AAPL", strings.Repeat("x", 300))

	require.Len(t, gen.contexts, 2)
	assert.Contains(t, gen.contexts[1], "ROUND1_INSIGHT")
	assert.LessOrEqual(t, len(gen.contexts[1]), 200)
}

func TestContextBufferIgnoresBlank(t *testing.T) {
	buf := NewContextBuffer("seed", 100)
	buf.Append("   ")
	assert.Equal(t, "seed", buf.String())
}

func TestQuestionGeneratorParsesAndCaps(t *testing.T) {
	c := llm.CompleterFunc(func(_ context.Context, prompt string) (string, error) {
		if !strings.Contains(prompt, "- news_search: search news") {
			return "", errors.New("tools missing from prompt")
		}
		return `Here you go:
[
  {"question": "Who are NVDA's rivals?", "tool": "news_search", "reasoning": "competition"},
  {"question": "What is the margin trend?", "tool": "financial_data"},
  {"question": "How is the sector doing?", "tool": "market_analysis"},
  {"question": "One too many", "tool": "news_search"},
]`, nil
	})

	qs, err := NewQuestionGenerator(c, 3, "- news_search: search news\n").Generate(context.Background(), "NVDA", "ctx")
	require.NoError(t, err)
	require.Len(t, qs, 3)
	assert.Equal(t, "Who are NVDA's rivals?", qs[0].Text)
	assert.Equal(t, "competition", qs[0].Rationale)
	assert.Equal(t, models.ToolFinancialData, qs[1].Tool)
	assert.Equal(t, models.ToolMarketAnalysis, qs[2].Tool)
}

func TestQuestionGeneratorFallback(t *testing.T) {
	bad := llm.CompleterFunc(func(context.Context, string) (string, error) {
		return "I would ask about competitors.", nil
	})
	qs, err := NewQuestionGenerator(bad, 3, "").Generate(context.Background(), "AMD", "")
	require.NoError(t, err)
	assert.Equal(t, FallbackQuestions("AMD"), qs)
	assert.Equal(t, "What are the main competitors of AMD?", qs[0].Text)
	assert.Equal(t, []models.Tool{models.ToolNewsSearch, models.ToolMarketAnalysis, models.ToolFinancialData},
		[]models.Tool{qs[0].Tool, qs[1].Tool, qs[2].Tool})

	down := llm.CompleterFunc(func(context.Context, string) (string, error) {
		return "", errors.New("connection refused")
	})
	qs, err = NewQuestionGenerator(down, 3, "").Generate(context.Background(), "AMD", "")
	require.NoError(t, err)
	assert.Len(t, qs, 3)
}

func TestParseQuestionsShapes(t *testing.T) {
	qs, err := ParseQuestions(`{"questions": ["Is demand slowing?", {"text": "Debt load?", "tool": "FINANCIAL_DATA"}]}`)
	require.NoError(t, err)
	require.Len(t, qs, 2)
	assert.Equal(t, models.ToolNewsSearch, qs[0].Tool)
	assert.Equal(t, "Debt load?", qs[1].Text)
	assert.Equal(t, models.ToolFinancialData, qs[1].Tool)

	qs, err = ParseQuestions(`[]`)
	require.NoError(t, err)
	assert.Empty(t, qs)

	_, err = ParseQuestions(`{"answer": 42}`)
	assert.Error(t, err)
}
