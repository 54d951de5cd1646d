// Package analysts turns raw content into AnalysisRecords and folds many of
// them into one.
package analysts

import (
	"context"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/dyike/stockbot/internal/llm"
	"github.com/dyike/stockbot/internal/models"
	"github.com/dyike/stockbot/internal/prompts"
	"github.com/dyike/stockbot/pkg/normalizer"
	"github.com/dyike/stockbot/pkg/utils"
)

// maxContentChars keeps a single page from crowding out the instructions.
const maxContentChars = 6000

// Content is one document handed to the analyzer.
type Content struct {
	Subject string
	Text    string
	Source  string
	URL     string
}

// ContentAnalyzer runs a single-document analysis.
type ContentAnalyzer struct {
	llm llm.Completer
}

func NewContentAnalyzer(c llm.Completer) *ContentAnalyzer {
	return &ContentAnalyzer{llm: c}
}

// AnalyzeContent returns the structured analysis of c. Completion failures
// and unusable output are returned as errors; callers pick the default.
func (a *ContentAnalyzer) AnalyzeContent(ctx context.Context, c Content) (models.AnalysisRecord, error) {
	text := strings.TrimSpace(c.Text)
	if text == "" {
		return models.AnalysisRecord{}, fmt.Errorf("no content to analyze")
	}
	text = utils.Truncate(text, maxContentChars)
	source := c.Source
	if source == "" {
		source = "unknown"
	}

	prompt, err := prompts.Render(prompts.AnalyzeContent, map[string]string{
		"Subject": c.Subject,
		"Source":  source,
		"URL":     c.URL,
		"Content": text,
	})
	if err != nil {
		return models.AnalysisRecord{}, err
	}

	raw, err := a.llm.Complete(llm.WithPurpose(ctx, "analyze_content"), prompt)
	if err != nil {
		return models.AnalysisRecord{}, fmt.Errorf("analyze content: %w", err)
	}
	return ParseAnalysisRecord(raw)
}

// ParseAnalysisRecord normalizes model output into a record. It accepts the
// shapes models tend to drift into: "summary" for "summaries", a sentiment
// object with a direction, reasoning given as plain text.
func ParseAnalysisRecord(raw string) (models.AnalysisRecord, error) {
	res, err := normalizer.Parse(raw, normalizer.ShapeObject)
	if err != nil {
		return models.AnalysisRecord{}, err
	}

	summaries := normalizer.Strings(res.Get("summaries"))
	if len(summaries) == 0 {
		summaries = normalizer.Strings(res.Get("summary"))
	}

	sentiment := res.Get("sentiment")
	if sentiment.IsObject() {
		sentiment = sentiment.Get("direction")
	}

	rec := models.AnalysisRecord{
		Summaries:    summaries,
		Themes:       normalizer.Strings(res.Get("themes")),
		Sentiment:    models.ParseSentiment(normalizer.String(sentiment)),
		Confidence:   normalizer.Float(res.Get("confidence")),
		KeyPoints:    normalizer.Strings(res.Get("key_points")),
		MarketImpact: normalizer.String(res.Get("market_impact")),
	}

	reasoning := res.Get("reasoning")
	switch {
	case reasoning.IsObject():
		rec.Reasoning = models.Reasoning{
			BullishFactors: normalizer.Strings(reasoning.Get("bullish_factors")),
			BearishFactors: normalizer.Strings(reasoning.Get("bearish_factors")),
			Conclusion:     normalizer.String(reasoning.Get("conclusion")),
		}
	case reasoning.Type == gjson.String:
		rec.Reasoning.Conclusion = normalizer.String(reasoning)
	}
	return rec.Normalize(), nil
}
