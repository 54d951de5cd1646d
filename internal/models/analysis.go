package models

import "strings"

type Sentiment string

const (
	SentimentBullish Sentiment = "bullish"
	SentimentBearish Sentiment = "bearish"
	SentimentNeutral Sentiment = "neutral"
)

// ParseSentiment maps free-form model output onto the three known sentiments.
// Anything unrecognised is neutral.
func ParseSentiment(s string) Sentiment {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bullish", "positive", "buy":
		return SentimentBullish
	case "bearish", "negative", "sell":
		return SentimentBearish
	default:
		return SentimentNeutral
	}
}

type Reasoning struct {
	BullishFactors []string `json:"bullish_factors"`
	BearishFactors []string `json:"bearish_factors"`
	Conclusion     string   `json:"conclusion"`
}

// AnalysisRecord is the structured result of analysing one or more pieces of content.
type AnalysisRecord struct {
	Summaries    []string  `json:"summaries"`
	Themes       []string  `json:"themes"`
	Sentiment    Sentiment `json:"sentiment"`
	Confidence   float64   `json:"confidence"`
	KeyPoints    []string  `json:"key_points"`
	MarketImpact string    `json:"market_impact"`
	Reasoning    Reasoning `json:"reasoning"`
	Error        string    `json:"error,omitempty"`
}

// DefaultAnalysisRecord is the neutral record used whenever no analysis can be produced.
func DefaultAnalysisRecord(impact string) AnalysisRecord {
	return AnalysisRecord{
		Summaries:    []string{},
		Themes:       []string{},
		Sentiment:    SentimentNeutral,
		Confidence:   0,
		KeyPoints:    []string{},
		MarketImpact: impact,
		Reasoning: Reasoning{
			BullishFactors: []string{},
			BearishFactors: []string{},
		},
	}
}

// ErrorAnalysisRecord marks a failed tool dispatch or analysis in a research round.
func ErrorAnalysisRecord(err error) AnalysisRecord {
	rec := DefaultAnalysisRecord("Analysis unavailable")
	if err != nil {
		rec.Error = err.Error()
	} else {
		rec.Error = "unknown error"
	}
	return rec
}

func (r AnalysisRecord) IsError() bool {
	return r.Error != ""
}

// Normalize fills nil slices and clamps confidence so the record always serialises the same way.
func (r AnalysisRecord) Normalize() AnalysisRecord {
	r.Summaries = nonNil(r.Summaries)
	r.Themes = nonNil(r.Themes)
	r.KeyPoints = nonNil(r.KeyPoints)
	r.Reasoning.BullishFactors = nonNil(r.Reasoning.BullishFactors)
	r.Reasoning.BearishFactors = nonNil(r.Reasoning.BearishFactors)
	if r.Sentiment == "" {
		r.Sentiment = SentimentNeutral
	}
	r.Confidence = ClampConfidence(r.Confidence)
	return r
}

func ClampConfidence(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
