package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyike/stockbot/internal/models"
	"github.com/dyike/stockbot/internal/storage/sqlite"
	"github.com/dyike/stockbot/internal/trading"
	"github.com/dyike/stockbot/pkg/dataflows"
)

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	return newRootCmd(&rootOptions{out: os.Stdout})
}

func newRootCmd(opts *rootOptions) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "stockbot",
		Short: "stockbot - news-driven stock analysis and paper trading",
		Long: `stockbot reads financial news, researches a stock, a sector or the whole
market with a language model, and records its trading decisions in a paper
trading account.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.configDir, "config-dir", "", "Directory holding config.json (default: user config dir)")
	rootCmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging and LLM transcripts")

	rootCmd.AddCommand(
		newGeneralCmd(opts),
		newSectorCmd(opts),
		newStockCmd(opts),
		newStatusCmd(opts),
		newHistoryCmd(opts),
		newNewsCmd(opts),
		newPerformanceCmd(opts),
		newCloseCmd(opts),
		newResultsCmd(opts),
		newConfigCmd(opts),
		newVersionCmd(),
	)
	return rootCmd
}

// withApp loads the app for one command and closes it afterwards.
func withApp(opts *rootOptions, fn func(ctx context.Context, app *App, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if opts.out == nil {
			opts.out = cmd.OutOrStdout()
		}
		app, err := loadApp(opts)
		if err != nil {
			return err
		}
		defer app.Close()
		return fn(cmd.Context(), app, args)
	}
}

// argsUnlessInteractive requires n arguments unless --interactive is set,
// in which case missing ones are prompted for.
func argsUnlessInteractive(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if interactive, _ := cmd.Flags().GetBool("interactive"); interactive {
			return cobra.MaximumNArgs(n)(cmd, args)
		}
		return cobra.ExactArgs(n)(cmd, args)
	}
}

func newGeneralCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "general",
		Short: "Analyze the whole market, its leading sectors and tickers",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(ctx context.Context, app *App, _ []string) error {
			s, err := app.Session(ctx, "")
			if err != nil {
				return err
			}
			app.UI.Banner("Analyzing the market")
			return app.Run(ctx, trading.ModeGeneral, func(ctx context.Context) runOutcome {
				r := trading.NewGeneralMode(s).Run(ctx)
				app.UI.GeneralResult(r)
				return runOutcome{result: r, subject: "market", report: GeneralReport(r), success: r.Success, errMsg: r.Error}
			})
		}),
	}
}

func newSectorCmd(opts *rootOptions) *cobra.Command {
	var interactive bool
	cmd := &cobra.Command{
		Use:   "sector <name>",
		Short: "Analyze a sector and every stock it points at",
		Example: `  stockbot sector technology
  stockbot sector --interactive`,
		Args: argsUnlessInteractive(1),
		RunE: withApp(opts, func(ctx context.Context, app *App, args []string) error {
			var sector string
			if len(args) == 1 {
				sector = args[0]
			} else {
				table, err := dataflows.LoadSectorTable(app.Config.SectorsFile)
				if err != nil {
					return err
				}
				if sector, err = PromptForSector(table.Available()); err != nil {
					return err
				}
			}
			s, err := app.Session(ctx, "")
			if err != nil {
				return err
			}
			app.UI.Banner("Analyzing the " + sector + " sector")
			return app.Run(ctx, trading.ModeSector, func(ctx context.Context) runOutcome {
				r := trading.NewSectorMode(s).Run(ctx, sector)
				app.UI.SectorResult(r)
				return runOutcome{result: r, subject: sector, report: SectorReport(r), success: r.Success, errMsg: r.Error}
			})
		}),
	}
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "Pick the sector from a list")
	return cmd
}

func newStockCmd(opts *rootOptions) *cobra.Command {
	var (
		personalityName string
		interactive     bool
	)
	cmd := &cobra.Command{
		Use:   "stock <ticker>",
		Short: "Analyze one stock and record the trading decision",
		Example: `  stockbot stock AAPL
  stockbot stock NVDA --personality Aggressive
  stockbot stock --interactive`,
		Args: argsUnlessInteractive(1),
		RunE: withApp(opts, func(ctx context.Context, app *App, args []string) error {
			var (
				personality models.Personality
				err         error
			)
			if personalityName != "" {
				if personality, err = models.ParsePersonality(personalityName); err != nil {
					return err
				}
			}
			var ticker string
			if len(args) == 1 {
				ticker = args[0]
			}
			if interactive {
				if ticker == "" {
					if ticker, err = PromptForTicker(); err != nil {
						return err
					}
				}
				if personalityName == "" {
					if personality, err = PromptForPersonality(); err != nil {
						return err
					}
				}
			}
			if err := dataflows.ValidateSymbol(ticker); err != nil {
				return err
			}

			s, err := app.Session(ctx, personality)
			if err != nil {
				return err
			}
			ticker = dataflows.NormalizeSymbol(ticker)
			app.UI.Banner("Analyzing " + ticker)
			return app.Run(ctx, trading.ModeStock, func(ctx context.Context) runOutcome {
				r := trading.NewStockMode(s).Run(ctx, ticker)
				app.UI.StockResult(r)
				return runOutcome{result: r, subject: ticker, report: StockReport(r), success: r.Success, errMsg: r.Error}
			})
		}),
	}
	cmd.Flags().StringVarP(&personalityName, "personality", "p", "", "Trader personality, e.g. Conservative or Aggressive (default: chosen by the model)")
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "Prompt for the ticker and personality")
	return cmd
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the paper trading account and open positions",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(ctx context.Context, app *App, _ []string) error {
			ledger, err := app.Ledger()
			if err != nil {
				return err
			}
			status, err := ledger.Status(ctx)
			if err != nil {
				return err
			}
			open, err := ledger.OpenPositions(ctx)
			if err != nil {
				return err
			}
			app.UI.Status(status, open)
			return nil
		}),
	}
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var (
		limit int
		runs  bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent trades",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(ctx context.Context, app *App, _ []string) error {
			ledger, err := app.Ledger()
			if err != nil {
				return err
			}
			positions, err := ledger.History(ctx, limit)
			if err != nil {
				return err
			}
			app.UI.Positions(positions)
			if !runs {
				return nil
			}
			summaries, err := ledger.Summaries(ctx, "", limit)
			if err != nil {
				return err
			}
			app.UI.Runs(summaries)
			return nil
		}),
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Number of entries to show")
	cmd.Flags().BoolVar(&runs, "runs", false, "Also list recent run summaries")
	return cmd
}

func newNewsCmd(opts *rootOptions) *cobra.Command {
	var (
		limit int
		days  int
	)
	cmd := &cobra.Command{
		Use:     "news <ticker>",
		Short:   "List news stored by earlier stock runs",
		Example: "  stockbot news AAPL --days 7",
		Args:    cobra.ExactArgs(1),
		RunE: withApp(opts, func(ctx context.Context, app *App, args []string) error {
			ticker := dataflows.NormalizeSymbol(args[0])
			if err := dataflows.ValidateSymbol(ticker); err != nil {
				return err
			}
			docs, err := app.Documents()
			if err != nil {
				return err
			}
			total, err := docs.Count(ctx, sqlite.CollectionNews)
			if err != nil {
				return err
			}
			filter := sqlite.Filter{Subject: "STOCK_" + ticker, Limit: limit}
			if days > 0 {
				filter.Since = time.Now().AddDate(0, 0, -days)
			}
			found, err := docs.Query(ctx, sqlite.CollectionNews, filter)
			if err != nil {
				return err
			}
			app.UI.News(ticker, found, total)
			return nil
		}),
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Number of articles to show")
	cmd.Flags().IntVar(&days, "days", 0, "Only show articles stored in the last N days")
	return cmd
}

func newPerformanceCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "performance",
		Short: "Summarize closed trades",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(ctx context.Context, app *App, _ []string) error {
			ledger, err := app.Ledger()
			if err != nil {
				return err
			}
			perf, err := ledger.Performance(ctx)
			if err != nil {
				return err
			}
			app.UI.Performance(perf)
			return nil
		}),
	}
}

func newCloseCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "close <position-id> <exit-price>",
		Short:   "Close an open position and book its P&L",
		Example: "  stockbot close 3 182.40",
		Args:    cobra.ExactArgs(2),
		RunE: withApp(opts, func(ctx context.Context, app *App, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid position id %q", args[0])
			}
			price, err := strconv.ParseFloat(strings.TrimPrefix(args[1], "$"), 64)
			if err != nil {
				return fmt.Errorf("invalid exit price %q", args[1])
			}
			ledger, err := app.Ledger()
			if err != nil {
				return err
			}
			pos, err := ledger.ClosePosition(ctx, id, price)
			if err != nil {
				return err
			}
			app.UI.Success(fmt.Sprintf("Closed #%d %s at %s, realized P&L %+.2f",
				pos.ID, pos.Ticker, money(pos.ExitPrice), pos.RealizedPnL))
			return nil
		}),
	}
}

func newResultsCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "results",
		Short: "List saved run results",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(_ context.Context, app *App, _ []string) error {
			results, err := app.Results.ListResults(limit)
			if err != nil {
				return err
			}
			app.UI.Results(results)
			return nil
		}),
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of results to show, 0 for all")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "stockbot %s\n", Version)
		},
	}
}

func newConfigCmd(opts *rootOptions) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(_ context.Context, app *App, _ []string) error {
			data, err := json.MarshalIndent(redacted(app.Config), "", "  ")
			if err != nil {
				return err
			}
			app.UI.Info("Config file: " + app.Manager.Path())
			fmt.Fprintln(app.UI.out, string(data))
			return nil
		}),
	})

	configCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration and local stores",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(_ context.Context, app *App, _ []string) error {
			return validateConfig(app)
		}),
	})

	return configCmd
}
