package analysts

import (
	"context"
	"math"
	"strconv"
	"strings"

	"github.com/dyike/stockbot/internal/llm"
	"github.com/dyike/stockbot/internal/logger"
	"github.com/dyike/stockbot/internal/models"
	"github.com/dyike/stockbot/internal/prompts"
	"github.com/dyike/stockbot/pkg/normalizer"
)

const (
	emptyAggregateImpact = "No analysis records available to aggregate"
	noSynthesis          = "No synthesis available"
)

// Aggregator folds several analyses into one summary record.
type Aggregator struct {
	llm llm.Completer
}

func NewAggregator(c llm.Completer) *Aggregator {
	return &Aggregator{llm: c}
}

// Aggregate folds records about the market at large.
func (a *Aggregator) Aggregate(ctx context.Context, records []models.AnalysisRecord) models.AnalysisRecord {
	return a.AggregateFor(ctx, "the market", records)
}

// AggregateFor folds records about subject. Lists are concatenated in input
// order and deduplicated, sentiment is the majority vote and confidence the
// rounded mean. One completion writes the market impact and conclusion.
// It never fails and never modifies records.
func (a *Aggregator) AggregateFor(ctx context.Context, subject string, records []models.AnalysisRecord) models.AnalysisRecord {
	if len(records) == 0 {
		return models.DefaultAnalysisRecord(emptyAggregateImpact)
	}

	var summaries, themes, keyPoints, bullish, bearish [][]string
	for _, r := range records {
		summaries = append(summaries, r.Summaries)
		themes = append(themes, r.Themes)
		keyPoints = append(keyPoints, r.KeyPoints)
		bullish = append(bullish, r.Reasoning.BullishFactors)
		bearish = append(bearish, r.Reasoning.BearishFactors)
	}

	out := models.AnalysisRecord{
		Summaries:  DedupeStrings(summaries...),
		Themes:     DedupeStrings(themes...),
		Sentiment:  MajoritySentiment(records),
		Confidence: MeanConfidence(records),
		KeyPoints:  DedupeStrings(keyPoints...),
		Reasoning: models.Reasoning{
			BullishFactors: DedupeStrings(bullish...),
			BearishFactors: DedupeStrings(bearish...),
		},
	}
	out.MarketImpact, out.Reasoning.Conclusion = a.synthesize(ctx, subject, out)
	return out.Normalize()
}

func (a *Aggregator) synthesize(ctx context.Context, subject string, rec models.AnalysisRecord) (impact, conclusion string) {
	prompt, err := prompts.Render(prompts.Synthesize, map[string]string{
		"Subject":        subject,
		"Themes":         prompts.Bullets(rec.Themes),
		"BullishFactors": prompts.Bullets(rec.Reasoning.BullishFactors),
		"BearishFactors": prompts.Bullets(rec.Reasoning.BearishFactors),
		"Sentiment":      string(rec.Sentiment),
		"Confidence":     strconv.FormatFloat(rec.Confidence, 'f', 0, 64),
	})
	if err != nil {
		logger.Warn("synthesis prompt unavailable", logger.Err(err))
		return noSynthesis, noSynthesis
	}

	raw, err := a.llm.Complete(llm.WithPurpose(ctx, "synthesize"), prompt)
	if err != nil {
		logger.Warn("synthesis completion failed", logger.String("subject", subject), logger.Err(err))
		return noSynthesis, noSynthesis
	}
	res, err := normalizer.Parse(raw, normalizer.ShapeObject)
	if err != nil {
		logger.Warn("synthesis output unusable", logger.String("subject", subject), logger.Err(err))
		return noSynthesis, noSynthesis
	}

	impact = normalizer.String(res.Get("market_impact"))
	conclusion = normalizer.String(res.Get("conclusion"))
	if conclusion == "" {
		conclusion = normalizer.String(res.Get("reasoning.conclusion"))
	}
	if impact == "" {
		impact = noSynthesis
	}
	if conclusion == "" {
		conclusion = noSynthesis
	}
	return impact, conclusion
}

// sentimentPriority breaks ties in MajoritySentiment.
var sentimentPriority = []models.Sentiment{
	models.SentimentBullish,
	models.SentimentBearish,
	models.SentimentNeutral,
}

// MajoritySentiment is the most common sentiment. Ties go to bullish, then
// bearish, then neutral. An empty input is neutral.
func MajoritySentiment(records []models.AnalysisRecord) models.Sentiment {
	counts := make(map[models.Sentiment]int, 3)
	for _, r := range records {
		counts[models.ParseSentiment(string(r.Sentiment))]++
	}
	best, bestCount := models.SentimentNeutral, 0
	for _, s := range sentimentPriority {
		if counts[s] > bestCount {
			best, bestCount = s, counts[s]
		}
	}
	return best
}

// MeanConfidence is the arithmetic mean rounded half away from zero and
// clamped to [0,100].
func MeanConfidence(records []models.AnalysisRecord) float64 {
	if len(records) == 0 {
		return 0
	}
	var sum float64
	for _, r := range records {
		sum += r.Confidence
	}
	return models.ClampConfidence(math.Round(sum / float64(len(records))))
}

// DedupeStrings concatenates lists and drops repeats, keeping the first
// occurrence. Blank entries are dropped.
func DedupeStrings(lists ...[]string) []string {
	seen := make(map[string]struct{})
	out := []string{}
	for _, list := range lists {
		for _, s := range list {
			if strings.TrimSpace(s) == "" {
				continue
			}
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}
