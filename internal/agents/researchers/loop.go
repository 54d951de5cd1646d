// Package researchers runs the multi-round follow-up research loop.
package researchers

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/dyike/stockbot/internal/agents/analysts"
	"github.com/dyike/stockbot/internal/logger"
	"github.com/dyike/stockbot/internal/models"
	"github.com/dyike/stockbot/internal/tracing"
)

const (
	DefaultRounds       = 2
	DefaultMaxQuestions = 3
	DefaultContextLimit = 8000
)

// Dispatcher answers a research question with raw text from a tool.
type Dispatcher interface {
	Dispatch(ctx context.Context, subject string, q models.ResearchQuestion) (string, error)
}

// Analyzer turns tool output into an AnalysisRecord.
type Analyzer interface {
	AnalyzeContent(ctx context.Context, c analysts.Content) (models.AnalysisRecord, error)
}

type Options struct {
	Rounds       int
	MaxQuestions int
	ContextLimit int
}

func (o Options) withDefaults() Options {
	if o.Rounds <= 0 {
		o.Rounds = DefaultRounds
	}
	if o.MaxQuestions <= 0 {
		o.MaxQuestions = DefaultMaxQuestions
	}
	if o.ContextLimit <= 0 {
		o.ContextLimit = DefaultContextLimit
	}
	return o
}

// Loop holds no per-run state; one Loop may serve concurrent runs as long as
// its collaborators are safe for concurrent use.
type Loop struct {
	opts      Options
	questions QuestionGenerator
	tools     Dispatcher
	analyzer  Analyzer
}

func NewLoop(opts Options, questions QuestionGenerator, tools Dispatcher, analyzer Analyzer) *Loop {
	return &Loop{
		opts:      opts.withDefaults(),
		questions: questions,
		tools:     tools,
		analyzer:  analyzer,
	}
}

// Run researches subject for the configured number of rounds starting from
// seed. Per-question failures are kept as error answers and never abort the
// run. A cancelled ctx stops the loop and returns the rounds finished so far.
func (l *Loop) Run(ctx context.Context, subject string, seed models.AnalysisRecord) models.DeepAnalysis {
	return l.RunFrom(ctx, subject, Summarize(seed))
}

// RunFrom is Run with a prepared seed context, for callers that start from
// more than one record.
func (l *Loop) RunFrom(ctx context.Context, subject, seed string) models.DeepAnalysis {
	out := models.DeepAnalysis{
		Rounds:      []models.ResearchRound{},
		KeyInsights: []string{},
	}
	buf := NewContextBuffer(seed, l.opts.ContextLimit)

	for i := 0; i < l.opts.Rounds; i++ {
		if ctx.Err() != nil {
			logger.Warn("research cancelled", logger.String("subject", subject), logger.Int("rounds_done", i))
			return out
		}
		round, ok := l.runRound(ctx, subject, i+1, buf)
		if !ok {
			logger.Warn("research cancelled mid-round", logger.String("subject", subject), logger.Int("round", i+1))
			return out
		}
		out.Rounds = append(out.Rounds, round)
		for _, ans := range round.Answers {
			if !ans.IsError() {
				out.KeyInsights = append(out.KeyInsights, ans.KeyPoints...)
			}
		}
	}
	return out
}

func (l *Loop) runRound(ctx context.Context, subject string, n int, buf *ContextBuffer) (round models.ResearchRound, ok bool) {
	ctx, span := tracing.StartSpan(ctx, "research.round",
		attribute.String("subject", subject), attribute.Int("round", n))
	var spanErr error
	defer func() { tracing.End(span, spanErr) }()

	round = models.NewResearchRound()
	questions, err := l.questions.Generate(ctx, subject, buf.String())
	if err != nil {
		if ctx.Err() != nil {
			spanErr = ctx.Err()
			return round, false
		}
		logger.Warn("no questions this round", logger.String("subject", subject), logger.Int("round", n), logger.Err(err))
		return round, true
	}
	if len(questions) > l.opts.MaxQuestions {
		questions = questions[:l.opts.MaxQuestions]
	}
	logger.Info("research round", logger.String("subject", subject), logger.Int("round", n), logger.Int("questions", len(questions)))

	for _, q := range questions {
		if ctx.Err() != nil {
			spanErr = ctx.Err()
			return round, false
		}
		q.Tool = models.ParseTool(string(q.Tool))
		answer := l.answer(ctx, subject, q)
		round.Append(q, answer)
		if !answer.IsError() {
			buf.Append(Summarize(answer))
		}
	}
	return round, true
}

func (l *Loop) answer(ctx context.Context, subject string, q models.ResearchQuestion) models.AnalysisRecord {
	text, err := l.tools.Dispatch(ctx, subject, q)
	if err != nil {
		logger.Warn("research tool failed",
			logger.String("subject", subject), logger.String("tool", string(q.Tool)), logger.Err(err))
		return models.ErrorAnalysisRecord(err)
	}
	rec, err := l.analyzer.AnalyzeContent(ctx, analysts.Content{
		Subject: subject,
		Text:    fmt.Sprintf("Question: %s\n\n%s", q.Text, text),
		Source:  string(q.Tool),
	})
	if err != nil {
		logger.Warn("research answer analysis failed",
			logger.String("subject", subject), logger.String("question", q.Text), logger.Err(err))
		return models.ErrorAnalysisRecord(err)
	}
	return rec
}
