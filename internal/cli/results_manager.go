package cli

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/dyike/stockbot/internal/models"
	"github.com/dyike/stockbot/pkg/utils"
)

const stampLayout = "20060102-150405"

// ResultsManager writes run results under the results directory, one
// subdirectory per mode, and lists them back.
type ResultsManager struct {
	resultsDir string
	now        func() time.Time
}

// ResultSummary represents a summary of a saved run result
type ResultSummary struct {
	Mode      string    `json:"mode"`
	Subject   string    `json:"subject"`
	RunID     string    `json:"run_id"`
	Success   bool      `json:"success"`
	CreatedAt time.Time `json:"created_at"`
	FilePath  string    `json:"file_path"`
	FileSize  int64     `json:"file_size"`
}

func NewResultsManager(resultsDir string) *ResultsManager {
	return &ResultsManager{resultsDir: resultsDir, now: time.Now}
}

// Save writes result as JSON and report as Markdown side by side and returns
// the JSON path.
func (rm *ResultsManager) Save(mode, subject string, result any, report string) (string, error) {
	dir := filepath.Join(rm.resultsDir, mode)
	base := fmt.Sprintf("%s_%s", fileSafe(subject), rm.now().UTC().Format(stampLayout))
	jsonPath, err := utils.WriteJSON(dir, base+".json", result)
	if err != nil {
		return "", err
	}
	if _, err := utils.WriteMarkdown(dir, base+".md", report); err != nil {
		return jsonPath, err
	}
	return jsonPath, nil
}

func fileSafe(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "run"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			return r
		default:
			return '_'
		}
	}, s)
}

// ListResults lists saved results, newest first. limit <= 0 lists all.
func (rm *ResultsManager) ListResults(limit int) ([]ResultSummary, error) {
	var results []ResultSummary
	err := filepath.WalkDir(rm.resultsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == rm.resultsDir {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".json" {
			return nil
		}
		name := strings.TrimSuffix(filepath.Base(path), ".json")
		idx := strings.LastIndex(name, "_")
		if idx <= 0 {
			return nil
		}
		created, err := time.Parse(stampLayout, name[idx+1:])
		if err != nil {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		doc := gjson.ParseBytes(data)
		results = append(results, ResultSummary{
			Mode:      filepath.Base(filepath.Dir(path)),
			Subject:   name[:idx],
			RunID:     doc.Get("run_id").String(),
			Success:   doc.Get("success").Bool(),
			CreatedAt: created,
			FilePath:  path,
			FileSize:  info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan results directory: %w", err)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].CreatedAt.After(results[j].CreatedAt)
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// StockReport renders a stock result as Markdown.
func StockReport(r models.StockResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", r.Ticker)
	fmt.Fprintf(&b, "- Run: `%s`\n- Completed: %s\n", r.RunID, r.CompletedAt.Format(time.RFC3339))
	if !r.Success {
		fmt.Fprintf(&b, "\n**Failed:** %s\n", r.Error)
		return b.String()
	}
	writeStockBody(&b, r, "##")
	return b.String()
}

func writeStockBody(b *strings.Builder, r models.StockResult, h string) {
	fmt.Fprintf(b, "- Personality: %s\n- Articles analyzed: %d\n", r.Personality, r.ArticleCount)
	if r.MarketData.Success {
		fmt.Fprintf(b, "- Price: %.2f (%+.2f%%)\n", r.MarketData.CurrentPrice, r.MarketData.DailyChange)
	}

	if d := r.Decision; d != nil {
		fmt.Fprintf(b, "\n%s Decision\n\n", h)
		fmt.Fprintf(b, "| Action | Confidence | Quantity | Entry | Stop | Target | Risk |\n")
		fmt.Fprintf(b, "|---|---|---|---|---|---|---|\n")
		fmt.Fprintf(b, "| %s | %.0f | %d | %.2f | %.2f | %.2f | %s |\n\n",
			strings.ToUpper(string(d.Action)), d.Confidence, d.Quantity, d.EntryPrice,
			d.StopLoss, d.TakeProfit, d.RiskAssessment.RiskLevel)
		if d.Reasoning.DecisionProcess != "" {
			fmt.Fprintf(b, "%s\n", d.Reasoning.DecisionProcess)
		}
		writeList(b, "Key risks", d.RiskAssessment.KeyRisks)
	}

	fmt.Fprintf(b, "\n%s View\n\n", h)
	fmt.Fprintf(b, "Sentiment **%s** at %.0f%% confidence.\n\n", r.View.Sentiment, r.View.Confidence)
	if r.View.MarketImpact != "" {
		fmt.Fprintf(b, "%s\n", r.View.MarketImpact)
	}
	writeList(b, "Key points", r.View.KeyPoints)

	if len(r.DeepAnalysis.Rounds) > 0 {
		fmt.Fprintf(b, "\n%s Research\n", h)
		for i, round := range r.DeepAnalysis.Rounds {
			fmt.Fprintf(b, "\nRound %d\n\n", i+1)
			if round.Len() == 0 {
				b.WriteString("- no questions\n")
			}
			for j, q := range round.Questions {
				ans := round.Answers[j]
				status := string(ans.Sentiment)
				if ans.IsError() {
					status = "error: " + ans.Error
				}
				fmt.Fprintf(b, "- [%s] %s (%s)\n", q.Tool, q.Text, status)
			}
		}
	}
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s:\n\n", title)
	for _, it := range items {
		fmt.Fprintf(b, "- %s\n", it)
	}
}

// SectorReport renders a sector result as Markdown.
func SectorReport(r models.SectorResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Sector: %s\n\n", r.Sector)
	fmt.Fprintf(&b, "- Run: `%s`\n- Completed: %s\n", r.RunID, r.CompletedAt.Format(time.RFC3339))
	if !r.Success {
		fmt.Fprintf(&b, "\n**Failed:** %s\n", r.Error)
		return b.String()
	}
	writeSectorBody(&b, r, "##")
	return b.String()
}

func writeSectorBody(b *strings.Builder, r models.SectorResult, h string) {
	s := r.Summary
	fmt.Fprintf(b, "- Sentiment: %s (%.0f%%)\n", s.Sentiment, s.Confidence)
	fmt.Fprintf(b, "- Stocks analyzed: %d\n", s.StocksAnalyzed)
	fmt.Fprintf(b, "- Actions: buy %d, sell %d, hold %d\n", s.Actions.Buy, s.Actions.Sell, s.Actions.Hold)
	fmt.Fprintf(b, "- Average confidence: %.2f\n", s.AverageConfidence)
	if len(r.Skipped) > 0 {
		fmt.Fprintf(b, "- Skipped: %s\n", strings.Join(r.Skipped, ", "))
	}
	if r.SectorAnalysis.MarketImpact != "" {
		fmt.Fprintf(b, "\n%s\n", r.SectorAnalysis.MarketImpact)
	}
	for _, st := range r.Stocks {
		fmt.Fprintf(b, "\n%s %s\n\n", h, st.Ticker)
		writeStockBody(b, st, h+"#")
	}
}

// GeneralReport renders a general market result as Markdown.
func GeneralReport(r models.GeneralResult) string {
	var b strings.Builder
	b.WriteString("# Market\n\n")
	fmt.Fprintf(&b, "- Run: `%s`\n- Completed: %s\n", r.RunID, r.CompletedAt.Format(time.RFC3339))
	if !r.Success {
		fmt.Fprintf(&b, "\n**Failed:** %s\n", r.Error)
		return b.String()
	}
	s := r.Summary
	fmt.Fprintf(&b, "- Sentiment: %s (%.0f%%)\n", s.Sentiment, s.Confidence)
	fmt.Fprintf(&b, "- Sectors analyzed: %d\n- Stocks analyzed: %d\n", s.SectorsAnalyzed, s.StocksAnalyzed)
	fmt.Fprintf(&b, "- Actions: buy %d, sell %d, hold %d\n", s.Actions.Buy, s.Actions.Sell, s.Actions.Hold)

	if len(r.Overview.Indices) > 0 {
		b.WriteString("\n## Indices\n\n| Index | Price | Change |\n|---|---|---|\n")
		for _, ix := range r.Overview.Indices {
			fmt.Fprintf(&b, "| %s | %.2f | %+.2f%% |\n", ix.Symbol, ix.Price, ix.DailyChange)
		}
	}
	if r.MarketAnalysis.MarketImpact != "" {
		fmt.Fprintf(&b, "\n## Outlook\n\n%s\n", r.MarketAnalysis.MarketImpact)
	}
	writeList(&b, "Key insights", r.DeepAnalysis.KeyInsights)

	for _, sr := range r.Sectors {
		fmt.Fprintf(&b, "\n## Sector: %s\n\n", sr.Sector)
		writeSectorBody(&b, sr, "###")
	}
	for _, st := range r.Stocks {
		fmt.Fprintf(&b, "\n## %s\n\n", st.Ticker)
		writeStockBody(&b, st, "###")
	}
	return b.String()
}
