package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/dyike/stockbot/internal/models"
	"github.com/dyike/stockbot/internal/storage/sqlite"
	"github.com/dyike/stockbot/internal/storage/trades"
)

// UI styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7C3AED")).
			Padding(0, 1)

	panelStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#3B82F6")).
			Padding(0, 2).
			Width(72)

	progressStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6B7280"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#9CA3AF")).
			Width(20)

	buyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#10B981")).
			Bold(true)

	sellStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EF4444")).
			Bold(true)

	holdStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F59E0B")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EF4444")).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#10B981"))

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#3B82F6"))
)

// UI prints progress and result panels to one writer.
type UI struct {
	out io.Writer
}

func NewUI(out io.Writer) *UI {
	return &UI{out: out}
}

func (u *UI) Banner(title string) {
	fmt.Fprintln(u.out, titleStyle.Render("🚀 "+title))
}

// Progress prints one pipeline step.
func (u *UI) Progress(msg string) {
	fmt.Fprintln(u.out, progressStyle.Render(msg))
}

func (u *UI) Error(err error) {
	fmt.Fprintln(u.out, errorStyle.Render("❌ Error: "+err.Error()))
}

func (u *UI) Info(msg string) {
	fmt.Fprintln(u.out, infoStyle.Render("ℹ️  "+msg))
}

func (u *UI) Success(msg string) {
	fmt.Fprintln(u.out, successStyle.Render("✅ "+msg))
}

func (u *UI) panel(title string, rows [][2]string) {
	var content strings.Builder
	content.WriteString(titleStyle.Render(title))
	for _, r := range rows {
		content.WriteString("\n" + labelStyle.Render(r[0]) + r[1])
	}
	fmt.Fprintln(u.out, panelStyle.Render(content.String()))
}

func actionBadge(a models.Action) string {
	label := strings.ToUpper(string(a))
	switch a {
	case models.ActionBuy:
		return buyStyle.Render("🟢 " + label)
	case models.ActionSell:
		return sellStyle.Render("🔴 " + label)
	default:
		return holdStyle.Render("🟡 " + label)
	}
}

func money(v float64) string {
	return fmt.Sprintf("$%.2f", v)
}

// StockResult prints the decision panel of a stock run.
func (u *UI) StockResult(r models.StockResult) {
	if !r.Success {
		u.Error(fmt.Errorf("%s: %s", r.Ticker, r.Error))
		return
	}
	rows := [][2]string{
		{"Sentiment", fmt.Sprintf("%s (%.0f%%)", r.View.Sentiment, r.View.Confidence)},
		{"Personality", string(r.Personality)},
		{"Articles", fmt.Sprintf("%d", r.ArticleCount)},
	}
	if r.MarketData.Success {
		rows = append(rows, [2]string{"Price", fmt.Sprintf("%s (%+.2f%%)", money(r.MarketData.CurrentPrice), r.MarketData.DailyChange)})
	}
	if d := r.Decision; d != nil {
		rows = append(rows,
			[2]string{"Action", actionBadge(d.Action)},
			[2]string{"Confidence", fmt.Sprintf("%.0f%%", d.Confidence)},
			[2]string{"Quantity", fmt.Sprintf("%d", d.Quantity)},
			[2]string{"Entry / Stop / Target", fmt.Sprintf("%s / %s / %s", money(d.EntryPrice), money(d.StopLoss), money(d.TakeProfit))},
			[2]string{"Risk", string(d.RiskAssessment.RiskLevel)},
		)
	}
	u.panel("🎯 "+r.Ticker, rows)
}

func (u *UI) SectorResult(r models.SectorResult) {
	if !r.Success {
		u.Error(fmt.Errorf("sector %s: %s", r.Sector, r.Error))
		return
	}
	for _, st := range r.Stocks {
		u.StockResult(st)
	}
	s := r.Summary
	rows := [][2]string{
		{"Sentiment", fmt.Sprintf("%s (%.0f%%)", s.Sentiment, s.Confidence)},
		{"Stocks analyzed", fmt.Sprintf("%d", s.StocksAnalyzed)},
		{"Buy / Sell / Hold", fmt.Sprintf("%d / %d / %d", s.Actions.Buy, s.Actions.Sell, s.Actions.Hold)},
		{"Avg confidence", fmt.Sprintf("%.2f", s.AverageConfidence)},
	}
	if len(r.Skipped) > 0 {
		rows = append(rows, [2]string{"Skipped", strings.Join(r.Skipped, ", ")})
	}
	u.panel("🏭 Sector "+r.Sector, rows)
}

func (u *UI) GeneralResult(r models.GeneralResult) {
	if !r.Success {
		u.Error(fmt.Errorf("market: %s", r.Error))
		return
	}
	for _, sr := range r.Sectors {
		u.SectorResult(sr)
	}
	for _, st := range r.Stocks {
		u.StockResult(st)
	}
	s := r.Summary
	rows := [][2]string{
		{"Sentiment", fmt.Sprintf("%s (%.0f%%)", s.Sentiment, s.Confidence)},
		{"Sectors analyzed", fmt.Sprintf("%d", s.SectorsAnalyzed)},
		{"Stocks analyzed", fmt.Sprintf("%d", s.StocksAnalyzed)},
		{"Buy / Sell / Hold", fmt.Sprintf("%d / %d / %d", s.Actions.Buy, s.Actions.Sell, s.Actions.Hold)},
	}
	for _, ix := range r.Overview.Indices {
		rows = append(rows, [2]string{ix.Symbol, fmt.Sprintf("%.2f (%+.2f%%)", ix.Price, ix.DailyChange)})
	}
	u.panel("🌐 Market", rows)
}

func (u *UI) Status(s trades.AccountStatus, open []trades.Position) {
	u.panel("💼 Account", [][2]string{
		{"Balance", money(s.Balance)},
		{"Initial balance", money(s.InitialBalance)},
		{"P&L", fmt.Sprintf("%s (%+.2f%%)", money(s.ProfitLoss), s.ProfitLossPercentage)},
		{"Open positions", fmt.Sprintf("%d", s.OpenPositions)},
		{"Last updated", s.LastUpdated.Local().Format(time.DateTime)},
	})
	if len(open) > 0 {
		u.Positions(open)
	}
}

func (u *UI) Performance(p trades.PerformanceSummary) {
	u.panel("📊 Performance", [][2]string{
		{"Closed trades", fmt.Sprintf("%d", p.TotalTrades)},
		{"Wins / Losses", fmt.Sprintf("%d / %d", p.WinningTrades, p.LosingTrades)},
		{"Win rate", fmt.Sprintf("%.1f%%", p.WinRate)},
		{"Balance", money(p.CurrentBalance)},
		{"P&L", fmt.Sprintf("%s (%+.2f%%)", money(p.TotalProfitLoss), p.ProfitLossPercentage)},
	})
}

// Positions prints one line per position, newest first.
func (u *UI) Positions(positions []trades.Position) {
	if len(positions) == 0 {
		u.Info("No trades yet")
		return
	}
	header := fmt.Sprintf("%-5s %-7s %-5s %10s %5s %-8s %10s %10s  %s",
		"ID", "TICKER", "SIDE", "PRICE", "QTY", "STATUS", "EXIT", "P&L", "OPENED")
	fmt.Fprintln(u.out, titleStyle.Render(header))
	for _, p := range positions {
		exit, pnl := "-", "-"
		if p.Status == trades.StatusClosed {
			exit = fmt.Sprintf("%.2f", p.ExitPrice)
			pnl = fmt.Sprintf("%+.2f", p.RealizedPnL)
		}
		fmt.Fprintf(u.out, "%-5d %-7s %-5s %10.2f %5d %-8s %10s %10s  %s\n",
			p.ID, p.Ticker, strings.ToUpper(p.Action), p.Price, p.Quantity, p.Status, exit, pnl,
			p.OpenedAt.Local().Format(time.DateTime))
	}
}

func (u *UI) Results(results []ResultSummary) {
	if len(results) == 0 {
		u.Info("No saved results")
		return
	}
	for _, r := range results {
		mark := "✅"
		if !r.Success {
			mark = "❌"
		}
		fmt.Fprintf(u.out, "%s %-13s %-12s %s  %s\n", mark, r.Mode, r.Subject,
			r.CreatedAt.Local().Format(time.DateTime), r.FilePath)
	}
}

// Runs lists run summaries as saved by the modes.
func (u *UI) Runs(summaries []trades.Summary) {
	if len(summaries) == 0 {
		u.Info("No runs recorded")
		return
	}
	fmt.Fprintln(u.out, titleStyle.Render("Recent runs"))
	for _, s := range summaries {
		var actions models.ActionCounts
		_ = json.Unmarshal(s.ActionsJSON, &actions)
		fmt.Fprintf(u.out, "%s  %-13s %-12s buy %d / sell %d / hold %d\n",
			s.CreatedAt.Local().Format(time.DateTime), s.Mode, s.Subject,
			actions.Buy, actions.Sell, actions.Hold)
	}
}

// News lists stored articles for a ticker. total counts the whole news
// collection.
func (u *UI) News(ticker string, docs []sqlite.Document, total int) {
	if len(docs) == 0 {
		u.Info(fmt.Sprintf("No stored news for %s (%d articles stored overall)", ticker, total))
		return
	}
	fmt.Fprintln(u.out, titleStyle.Render(fmt.Sprintf("News for %s (%d of %d stored)", ticker, len(docs), total)))
	for _, d := range docs {
		var a models.Article
		if err := d.Decode(&a); err != nil {
			continue
		}
		source := d.Metadata["source"]
		if source == "" {
			source = a.Source
		}
		fmt.Fprintf(u.out, "%s  %-16s %s\n", d.Timestamp.Local().Format(time.DateTime), source, a.Title)
		if a.URL != "" {
			fmt.Fprintln(u.out, progressStyle.Render("    "+a.URL))
		}
	}
}
