package models

import "strings"

type Tool string

const (
	ToolNewsSearch     Tool = "news_search"
	ToolFinancialData  Tool = "financial_data"
	ToolMarketAnalysis Tool = "market_analysis"
)

// ParseTool resolves a tool name; unknown or empty names fall back to news search.
func ParseTool(name string) Tool {
	switch Tool(strings.ToLower(strings.TrimSpace(name))) {
	case ToolFinancialData:
		return ToolFinancialData
	case ToolMarketAnalysis:
		return ToolMarketAnalysis
	default:
		return ToolNewsSearch
	}
}

type ResearchQuestion struct {
	Text      string `json:"question"`
	Tool      Tool   `json:"tool"`
	Rationale string `json:"rationale,omitempty"`
}

// ResearchRound holds one round of the research loop. Questions, Answers and
// ToolsUsed are index-aligned and always the same length.
type ResearchRound struct {
	Questions []ResearchQuestion `json:"questions"`
	Answers   []AnalysisRecord   `json:"answers"`
	ToolsUsed []Tool             `json:"tools_used"`
}

func NewResearchRound() ResearchRound {
	return ResearchRound{
		Questions: []ResearchQuestion{},
		Answers:   []AnalysisRecord{},
		ToolsUsed: []Tool{},
	}
}

func (r *ResearchRound) Append(q ResearchQuestion, answer AnalysisRecord) {
	r.Questions = append(r.Questions, q)
	r.Answers = append(r.Answers, answer)
	r.ToolsUsed = append(r.ToolsUsed, q.Tool)
}

func (r ResearchRound) Len() int {
	return len(r.Questions)
}

type DeepAnalysis struct {
	Rounds      []ResearchRound `json:"rounds"`
	KeyInsights []string        `json:"key_insights"`
}

// SuccessfulAnswers returns every non-error answer across all rounds.
func (d DeepAnalysis) SuccessfulAnswers() []AnalysisRecord {
	var out []AnalysisRecord
	for _, round := range d.Rounds {
		for _, ans := range round.Answers {
			if !ans.IsError() {
				out = append(out, ans)
			}
		}
	}
	return out
}
