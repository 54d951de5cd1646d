package models

import (
	"fmt"
	"strings"
)

type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
	ActionHold Action = "hold"
)

type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

type DecisionReasoning struct {
	TechnicalFactors   []string `json:"technical_factors"`
	FundamentalFactors []string `json:"fundamental_factors"`
	RiskFactors        []string `json:"risk_factors"`
	DecisionProcess    string   `json:"decision_process"`
}

type Scenarios struct {
	BestCase   string `json:"best_case"`
	WorstCase  string `json:"worst_case"`
	MostLikely string `json:"most_likely"`
}

type RiskAssessment struct {
	RiskLevel            RiskLevel `json:"risk_level"`
	KeyRisks             []string  `json:"key_risks"`
	MitigationStrategies []string  `json:"mitigation_strategies"`
}

type TradingDecision struct {
	Action         Action            `json:"action"`
	Confidence     float64           `json:"confidence"`
	Quantity       int               `json:"quantity"`
	EntryPrice     float64           `json:"entry_price"`
	StopLoss       float64           `json:"stop_loss"`
	TakeProfit     float64           `json:"take_profit"`
	Reasoning      DecisionReasoning `json:"reasoning"`
	Scenarios      Scenarios         `json:"scenarios"`
	RiskAssessment RiskAssessment    `json:"risk_assessment"`
}

// HoldDecision is the safe default emitted when no usable decision could be generated.
func HoldDecision() TradingDecision {
	return TradingDecision{
		Action: ActionHold,
		Reasoning: DecisionReasoning{
			TechnicalFactors:   []string{},
			FundamentalFactors: []string{},
			RiskFactors:        []string{},
		},
		RiskAssessment: RiskAssessment{
			RiskLevel:            RiskHigh,
			KeyRisks:             []string{"Decision generation failed"},
			MitigationStrategies: []string{},
		},
	}
}

type Personality string

const (
	PersonalityConservative   Personality = "Conservative"
	PersonalityModerate       Personality = "Moderate"
	PersonalityAggressive     Personality = "Aggressive"
	PersonalityDataDriven     Personality = "Data-Driven"
	PersonalityNewsFocused    Personality = "News-Focused"
	PersonalityTrendFollowing Personality = "Trend-Following"
	PersonalityCounterTrend   Personality = "Counter-Trend"
	PersonalityTechnical      Personality = "Technical"
	PersonalityFundamental    Personality = "Fundamental"
)

var personalities = []Personality{
	PersonalityConservative,
	PersonalityModerate,
	PersonalityAggressive,
	PersonalityDataDriven,
	PersonalityNewsFocused,
	PersonalityTrendFollowing,
	PersonalityCounterTrend,
	PersonalityTechnical,
	PersonalityFundamental,
}

func Personalities() []Personality {
	out := make([]Personality, len(personalities))
	copy(out, personalities)
	return out
}

// ParsePersonality matches a personality name case-insensitively.
func ParsePersonality(name string) (Personality, error) {
	want := strings.TrimSpace(name)
	for _, p := range personalities {
		if strings.EqualFold(string(p), want) {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown personality %q", name)
}
