package prompts

import (
	"strings"
	"testing"
)

func TestEveryPromptLoads(t *testing.T) {
	for _, name := range []string{AnalyzeContent, Synthesize, Questions, Decision, Personality, ExtractTickers, DiscoverSectors} {
		content, err := Load(name)
		if err != nil {
			t.Fatalf("load %s: %v", name, err)
		}
		if strings.TrimSpace(content) == "" {
			t.Fatalf("prompt %s is empty", name)
		}
	}
}

func TestRenderReplacesPlaceholders(t *testing.T) {
	out, err := Render(Questions, map[string]string{
		"Subject":      "AAPL",
		"Context":      "iPhone sales are up",
		"MaxQuestions": "3",
		"Tools":        "- news_search: search news",
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if strings.Contains(out, "{{.") {
		t.Fatalf("unreplaced placeholder in:\n%s", out)
	}
	if !strings.Contains(out, "about AAPL") {
		t.Fatalf("subject missing from:\n%s", out)
	}
}

func TestRenderLeavesPlaceholdersInValues(t *testing.T) {
	for i := 0; i < 20; i++ {
		out, err := Render(Questions, map[string]string{
			"Subject":      "AAPL",
			"Context":      "scraped text with {{.Subject}} inside",
			"MaxQuestions": "3",
			"Tools":        "- news_search: search news",
		})
		if err != nil {
			t.Fatalf("render: %v", err)
		}
		if !strings.Contains(out, "scraped text with {{.Subject}} inside") {
			t.Fatalf("placeholder inside a value was substituted:\n%s", out)
		}
	}
}

func TestRenderUnknownPrompt(t *testing.T) {
	if _, err := Render("nope", nil); err == nil {
		t.Fatal("expected error for unknown prompt")
	}
}

func TestBullets(t *testing.T) {
	if got := Bullets(nil); got != "(none)" {
		t.Fatalf("Bullets(nil) = %q", got)
	}
	if got := Bullets([]string{"a", "b"}); got != "- a\n- b" {
		t.Fatalf("Bullets = %q", got)
	}
}
