// Package prompts holds the model prompts as embedded markdown templates.
package prompts

import (
	"embed"
	"fmt"
	"strings"
)

//go:embed prompts
var promptFiles embed.FS

const (
	AnalyzeContent  = "analyze_content"
	Synthesize      = "synthesize"
	Questions       = "questions"
	Decision        = "decision"
	Personality     = "personality"
	ExtractTickers  = "extract_tickers"
	DiscoverSectors = "discover_sectors"
)

// Load returns the raw template for name.
func Load(name string) (string, error) {
	content, err := promptFiles.ReadFile(fmt.Sprintf("prompts/%s.md", name))
	if err != nil {
		return "", fmt.Errorf("failed to load prompt %s: %w", name, err)
	}
	return string(content), nil
}

// Render loads name and replaces each {{.Key}} with its value in one pass, so
// placeholders inside values are left as they are.
func Render(name string, vars map[string]string) (string, error) {
	content, err := Load(name)
	if err != nil {
		return "", err
	}
	pairs := make([]string, 0, 2*len(vars))
	for key, value := range vars {
		pairs = append(pairs, "{{."+key+"}}", value)
	}
	return strings.NewReplacer(pairs...).Replace(content), nil
}

// Bullets formats items as a markdown list, or "(none)".
func Bullets(items []string) string {
	if len(items) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for _, it := range items {
		b.WriteString("- ")
		b.WriteString(it)
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}
