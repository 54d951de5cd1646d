package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dyike/stockbot/config"
	"github.com/dyike/stockbot/internal/agents/researchers"
	"github.com/dyike/stockbot/internal/llm"
	"github.com/dyike/stockbot/internal/logger"
	"github.com/dyike/stockbot/internal/metrics"
	"github.com/dyike/stockbot/internal/models"
	"github.com/dyike/stockbot/internal/storage/sqlite"
	"github.com/dyike/stockbot/internal/storage/trades"
	"github.com/dyike/stockbot/internal/storage/vector"
	"github.com/dyike/stockbot/internal/tracing"
	"github.com/dyike/stockbot/internal/trading"
	"github.com/dyike/stockbot/pkg/dataflows"
)

const metricsFile = "metrics.prom"

// App owns the config and the stores of one CLI invocation.
type App struct {
	Manager *config.Manager
	Config  config.Config
	UI      *UI
	Results *ResultsManager

	collector *metrics.Collector
	ledger    *trades.Ledger
	documents *sqlite.Store
	closers   []func() error
}

type rootOptions struct {
	configDir string
	debug     bool
	out       io.Writer
}

// loadApp reads the config and sets up logging. Stores are opened on demand
// so that config commands work against a broken setup.
func loadApp(opts *rootOptions) (*App, error) {
	var mopts []config.ManagerOption
	if opts.configDir != "" {
		mopts = append(mopts, config.WithConfigDir(opts.configDir))
	}
	mgr, err := config.NewManager(mopts...)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg := mgr.Get().WithEnv()
	if opts.debug {
		cfg.Debug = true
		cfg.LogLevel = "debug"
	}

	if err := logger.Init(&logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}); err != nil {
		return nil, err
	}
	out := opts.out
	if out == nil {
		out = os.Stdout
	}
	app := &App{
		Manager: mgr,
		Config:  cfg,
		UI:      NewUI(out),
		Results: NewResultsManager(cfg.ResultsDir),
	}
	return app, nil
}

func (a *App) prepare() error {
	if err := a.Config.Validate(); err != nil {
		return err
	}
	if err := a.Config.EnsureDirectories(); err != nil {
		return err
	}
	if a.Config.Debug {
		path := filepath.Join(a.Config.DataDir, "llm.log")
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			logger.Warn("llm transcript disabled", logger.String("path", path), logger.Err(err))
		} else {
			logger.SetLLMWriter(f)
			a.closers = append(a.closers, func() error {
				logger.SetLLMWriter(nil)
				return f.Close()
			})
		}
	}
	return nil
}

// Ledger opens the trade ledger once.
func (a *App) Ledger() (*trades.Ledger, error) {
	if a.ledger != nil {
		return a.ledger, nil
	}
	if err := a.Config.EnsureDirectories(); err != nil {
		return nil, err
	}
	l, err := trades.Open(a.Config.DBPath, trades.Options{
		InitialBalance: a.Config.InitialBalance,
		MaxPositions:   a.Config.MaxPositions,
	})
	if err != nil {
		return nil, err
	}
	a.ledger = l
	a.closers = append(a.closers, l.Close)
	return l, nil
}

// Documents opens the document store once.
func (a *App) Documents() (*sqlite.Store, error) {
	if a.documents != nil {
		return a.documents, nil
	}
	if err := a.Config.EnsureDirectories(); err != nil {
		return nil, err
	}
	docs, err := sqlite.Open(a.Config.DocumentDBPath)
	if err != nil {
		return nil, err
	}
	a.documents = docs
	a.closers = append(a.closers, docs.Close)
	return docs, nil
}

// Session wires every collaborator a mode needs from the config.
func (a *App) Session(ctx context.Context, personality models.Personality) (*trading.Session, error) {
	if err := a.prepare(); err != nil {
		return nil, err
	}
	cfg := a.Config

	if cfg.MetricsEnabled && a.collector == nil {
		c, err := metrics.NewCollector()
		if err != nil {
			return nil, err
		}
		a.collector = c
	}
	completer, err := llm.New(ctx, &cfg, a.collector)
	if err != nil {
		return nil, err
	}
	ledger, err := a.Ledger()
	if err != nil {
		return nil, err
	}
	docs, err := a.Documents()
	if err != nil {
		return nil, err
	}
	sectors, err := dataflows.LoadSectorTable(cfg.SectorsFile)
	if err != nil {
		return nil, err
	}

	return &trading.Session{
		LLM:       completer,
		Searcher:  dataflows.NewSearcher(&cfg),
		Scraper:   dataflows.NewScraper(&cfg),
		Market:    dataflows.NewYahooFinanceClient(&cfg),
		Documents: docs,
		Vectors:   vector.New(&cfg),
		Ledger:    ledger,
		Sectors:   sectors,
		Collector: a.collector,
		Options: trading.Options{
			Research: researchers.Options{
				Rounds:       cfg.ResearchRounds,
				MaxQuestions: cfg.QuestionsPerRound,
				ContextLimit: cfg.ContextLimit,
			},
			Workers:        cfg.Workers,
			Personality:    personality,
			RiskPercentage: cfg.RiskPercentage,
		},
		Progress: a.UI.Progress,
	}, nil
}

// runOutcome is what a mode run hands back for saving and display.
type runOutcome struct {
	result  any
	subject string
	report  string
	success bool
	errMsg  string
}

var errRunFailed = errors.New("run failed")

// Run executes one mode with tracing, live config reload, result files and
// the metrics textfile around it.
func (a *App) Run(ctx context.Context, mode string, fn func(ctx context.Context) runOutcome) error {
	if err := tracing.Init(a.Config.TraceFile, Version); err != nil {
		logger.Warn("tracing disabled", logger.Err(err))
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracing.Shutdown(sctx); err != nil {
			logger.Warn("failed to flush traces", logger.Err(err))
		}
	}()

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	if err := a.Manager.Watch(watchCtx, a.onConfigChange); err != nil {
		logger.Warn("config watch unavailable", logger.Err(err))
	}

	out := fn(ctx)

	if path, err := a.Results.Save(mode, out.subject, out.result, out.report); err != nil {
		logger.Error("failed to save results", logger.String("mode", mode), logger.Err(err))
	} else {
		a.UI.Info("Results saved to " + path)
	}
	if a.collector != nil {
		if err := a.collector.WriteTextfile(filepath.Join(a.Config.DataDir, metricsFile)); err != nil {
			logger.Warn("failed to write metrics", logger.Err(err))
		}
	}
	if !out.success {
		return fmt.Errorf("%w: %s", errRunFailed, out.errMsg)
	}
	return nil
}

func (a *App) onConfigChange(cfg config.Config) {
	level := cfg.WithEnv().LogLevel
	if a.Config.Debug {
		level = "debug"
	}
	if err := logger.SetLevel(level); err != nil {
		logger.Warn("ignoring reloaded log level", logger.Err(err))
		return
	}
	logger.Debug("log level applied", logger.String("log_level", level))
}

func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
