package researchers

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/tidwall/gjson"

	"github.com/dyike/stockbot/internal/llm"
	"github.com/dyike/stockbot/internal/logger"
	"github.com/dyike/stockbot/internal/models"
	"github.com/dyike/stockbot/internal/prompts"
	"github.com/dyike/stockbot/pkg/normalizer"
)

// QuestionGenerator proposes the next follow-up questions for subject given
// the context gathered so far.
type QuestionGenerator interface {
	Generate(ctx context.Context, subject, researchContext string) ([]models.ResearchQuestion, error)
}

// LLMQuestionGenerator asks the model for questions. When the model fails or
// answers with something unusable it falls back to FallbackQuestions.
type LLMQuestionGenerator struct {
	llm          llm.Completer
	maxQuestions int
	tools        string
}

// NewQuestionGenerator builds a generator. tools is the tool listing shown to
// the model, one "- name: description" per line.
func NewQuestionGenerator(c llm.Completer, maxQuestions int, tools string) *LLMQuestionGenerator {
	if maxQuestions <= 0 {
		maxQuestions = DefaultMaxQuestions
	}
	return &LLMQuestionGenerator{llm: c, maxQuestions: maxQuestions, tools: tools}
}

func (g *LLMQuestionGenerator) Generate(ctx context.Context, subject, researchContext string) ([]models.ResearchQuestion, error) {
	prompt, err := prompts.Render(prompts.Questions, map[string]string{
		"Subject":      subject,
		"Context":      researchContext,
		"MaxQuestions": strconv.Itoa(g.maxQuestions),
		"Tools":        g.tools,
	})
	if err != nil {
		return nil, err
	}

	raw, err := g.llm.Complete(llm.WithPurpose(ctx, "questions"), prompt)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.Warn("question generation failed, using fallback questions",
			logger.String("subject", subject), logger.Err(err))
		return FallbackQuestions(subject), nil
	}

	qs, err := ParseQuestions(raw)
	if err != nil {
		logger.Warn("question output unusable, using fallback questions",
			logger.String("subject", subject), logger.Err(err))
		return FallbackQuestions(subject), nil
	}
	if len(qs) > g.maxQuestions {
		qs = qs[:g.maxQuestions]
	}
	return qs, nil
}

// ParseQuestions reads a JSON array of questions, or an object holding one
// under "questions". Entries may be objects or bare strings; unknown tools
// become news_search. Blank questions are dropped.
func ParseQuestions(raw string) ([]models.ResearchQuestion, error) {
	res, err := normalizer.Parse(raw, normalizer.ShapeAny)
	if err != nil {
		return nil, err
	}
	if res.IsObject() {
		res = res.Get("questions")
	}
	if !res.IsArray() {
		return nil, &normalizer.ParseFailure{Raw: raw, Shape: normalizer.ShapeArray, Err: errors.New("no question list")}
	}

	out := []models.ResearchQuestion{}
	res.ForEach(func(_, item gjson.Result) bool {
		var q models.ResearchQuestion
		if item.IsObject() {
			q.Text = normalizer.String(item.Get("question"))
			if q.Text == "" {
				q.Text = normalizer.String(item.Get("text"))
			}
			q.Tool = models.ParseTool(normalizer.String(item.Get("tool")))
			q.Rationale = normalizer.String(item.Get("reasoning"))
			if q.Rationale == "" {
				q.Rationale = normalizer.String(item.Get("rationale"))
			}
		} else {
			q.Text = normalizer.String(item)
			q.Tool = models.ToolNewsSearch
		}
		if q.Text != "" {
			out = append(out, q)
		}
		return true
	})
	return out, nil
}

// FallbackQuestions covers competition, risk and growth, one per tool.
func FallbackQuestions(subject string) []models.ResearchQuestion {
	return []models.ResearchQuestion{
		{
			Text:      fmt.Sprintf("What are the main competitors of %s?", subject),
			Tool:      models.ToolNewsSearch,
			Rationale: "Understanding competitive landscape",
		},
		{
			Text:      fmt.Sprintf("What are the current market risks for %s?", subject),
			Tool:      models.ToolMarketAnalysis,
			Rationale: "Risk assessment",
		},
		{
			Text:      fmt.Sprintf("What are the growth prospects for %s?", subject),
			Tool:      models.ToolFinancialData,
			Rationale: "Growth potential analysis",
		},
	}
}
