package cli

import (
	"fmt"

	"github.com/AlecAivazis/survey/v2"

	"github.com/dyike/stockbot/internal/models"
	"github.com/dyike/stockbot/pkg/dataflows"
)

// modelChoice is the personality option that leaves the pick to the model.
const modelChoice = "Let the model choose"

// PromptForTicker prompts the user to enter a stock ticker symbol
func PromptForTicker(opts ...survey.AskOpt) (string, error) {
	var ticker string
	prompt := &survey.Input{
		Message: "Enter the stock ticker symbol (e.g., AAPL, MSFT, NVDA):",
		Help:    "Up to ten characters, such as AAPL or BRK-B",
	}
	opts = append(opts, survey.WithValidator(func(val interface{}) error {
		str, _ := val.(string)
		return dataflows.ValidateSymbol(dataflows.NormalizeSymbol(str))
	}))
	if err := survey.AskOne(prompt, &ticker, opts...); err != nil {
		return "", err
	}
	return dataflows.NormalizeSymbol(ticker), nil
}

// PromptForSector lets the user pick one of the known sectors.
func PromptForSector(sectors []string, opts ...survey.AskOpt) (string, error) {
	if len(sectors) == 0 {
		return "", fmt.Errorf("no sectors configured")
	}
	var sector string
	prompt := &survey.Select{
		Message: "Select a sector:",
		Options: sectors,
	}
	if err := survey.AskOne(prompt, &sector, opts...); err != nil {
		return "", err
	}
	return sector, nil
}

func personalityOptions() []string {
	options := []string{modelChoice}
	for _, p := range models.Personalities() {
		options = append(options, string(p))
	}
	return options
}

// personalityFromChoice maps a picked option to a personality. The model
// option maps to the empty personality.
func personalityFromChoice(choice string) (models.Personality, error) {
	if choice == modelChoice || choice == "" {
		return "", nil
	}
	return models.ParsePersonality(choice)
}

// PromptForPersonality asks which trader personality to use.
func PromptForPersonality(opts ...survey.AskOpt) (models.Personality, error) {
	var choice string
	prompt := &survey.Select{
		Message: "Select a trader personality:",
		Options: personalityOptions(),
		Default: modelChoice,
		Help:    "The personality shapes position size and risk appetite. The model picks one from the news when left to it.",
	}
	if err := survey.AskOne(prompt, &choice, opts...); err != nil {
		return "", err
	}
	return personalityFromChoice(choice)
}
