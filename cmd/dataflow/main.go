// Command dataflow prints what the data sources return for one ticker.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/dyike/stockbot/config"
	"github.com/dyike/stockbot/pkg/dataflows"
)

func main() {
	symbol := flag.String("symbol", "AAPL", "ticker to fetch")
	query := flag.String("query", "", "news query (default: \"<symbol> stock news\")")
	limit := flag.Int("n", 5, "number of articles")
	scrape := flag.Bool("scrape", false, "scrape the first article")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg := config.DefaultConfig()
	ticker := dataflows.NormalizeSymbol(*symbol)
	if *query == "" {
		*query = ticker + " stock news"
	}

	yf := dataflows.NewYahooFinanceClient(cfg)
	if err := yf.Validate(ctx, ticker); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	dump("snapshot", yf.Snapshot(ctx, ticker))
	dump("financials", yf.Financials(ctx, ticker))
	dump("analysis", yf.Analysis(ctx, ticker))

	articles, err := dataflows.NewSearcher(cfg).Search(ctx, *query, *limit)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	dump("articles", articles)

	if *scrape && len(articles) > 0 {
		dump("scrape", dataflows.NewScraper(cfg).Scrape(ctx, articles[0].URL))
	}
}

func dump(label string, v any) {
	payload, _ := json.MarshalIndent(v, "", "  ")
	fmt.Printf("== %s ==\n%s\n", label, payload)
}
