package cli

import (
	"fmt"

	"github.com/dyike/stockbot/config"
	"github.com/dyike/stockbot/pkg/dataflows"
)

const redactedValue = "********"

// redacted hides API keys before the config is printed.
func redacted(cfg config.Config) config.Config {
	if cfg.LLMAPIKey != "" {
		cfg.LLMAPIKey = redactedValue
	}
	if cfg.DeepSeekAPIKey != "" {
		cfg.DeepSeekAPIKey = redactedValue
	}
	return cfg
}

type check struct {
	name string
	run  func() error
}

// validateConfig runs every check and reports each one; it fails when any
// check fails.
func validateConfig(app *App) error {
	cfg := app.Config
	checks := []check{
		{"⚙️  Checking configuration values", cfg.Validate},
		{"📁 Checking directories", cfg.EnsureDirectories},
		{"🏭 Loading sector table", func() error {
			_, err := dataflows.LoadSectorTable(cfg.SectorsFile)
			return err
		}},
		{"💼 Opening trade ledger", func() error {
			_, err := app.Ledger()
			return err
		}},
	}

	app.UI.Info("Validating " + app.Manager.Path())
	failed := 0
	for _, c := range checks {
		if err := c.run(); err != nil {
			failed++
			app.UI.Error(fmt.Errorf("%s: %w", c.name, err))
			continue
		}
		app.UI.Success(c.name)
	}

	var warnings []string
	if cfg.LLMProvider == "openai" && cfg.LLMAPIKey == "" {
		warnings = append(warnings, "LLM_API_KEY is not set for the openai provider")
	}
	if cfg.ChromaURL == "" {
		warnings = append(warnings, "CHROMA_URL is not set, decisions will not be indexed for similarity search")
	}
	for _, w := range warnings {
		app.UI.Info("⚠️  " + w)
	}

	if failed > 0 {
		return fmt.Errorf("%d configuration checks failed", failed)
	}
	app.UI.Success("Configuration validation completed successfully!")
	return nil
}
