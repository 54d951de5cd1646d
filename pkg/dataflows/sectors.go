package dataflows

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// sectorAliases maps alternative names onto a canonical sector.
var sectorAliases = map[string]string{
	"tech": "technology",
}

var defaultSectors = map[string][]string{
	"technology": {"AAPL", "MSFT", "GOOGL", "META", "NVDA"},
	"healthcare": {"JNJ", "PFE", "UNH", "ABBV", "MRK"},
	"finance":    {"JPM", "BAC", "WFC", "GS", "MS"},
	"energy":     {"XOM", "CVX", "COP", "SLB", "EOG"},
	"consumer":   {"AMZN", "WMT", "PG", "KO", "PEP"},
}

// SectorTable maps sector names to their representative tickers.
type SectorTable struct {
	sectors map[string][]string
	aliases map[string]bool
}

type sectorFile struct {
	Sectors map[string][]string `yaml:"sectors"`
	Aliases map[string]string   `yaml:"aliases"`
}

// DefaultSectorTable returns the built-in table.
func DefaultSectorTable() *SectorTable {
	t := &SectorTable{
		sectors: make(map[string][]string, len(defaultSectors)),
		aliases: make(map[string]bool),
	}
	for name, tickers := range defaultSectors {
		t.sectors[name] = append([]string(nil), tickers...)
	}
	for alias, target := range sectorAliases {
		t.sectors[alias] = t.sectors[target]
		t.aliases[alias] = true
	}
	return t
}

// LoadSectorTable starts from the built-in table and overlays path when it
// exists. A missing file is not an error.
func LoadSectorTable(path string) (*SectorTable, error) {
	t := DefaultSectorTable()
	if path == "" {
		return t, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return t, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read sectors file: %w", err)
	}

	var f sectorFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse sectors file %s: %w", path, err)
	}
	for name, tickers := range f.Sectors {
		normalized := make([]string, 0, len(tickers))
		for _, tk := range tickers {
			if tk = NormalizeSymbol(tk); tk != "" {
				normalized = append(normalized, tk)
			}
		}
		t.sectors[strings.ToLower(strings.TrimSpace(name))] = normalized
	}
	for alias, target := range f.Aliases {
		target = strings.ToLower(strings.TrimSpace(target))
		if tickers, ok := t.sectors[target]; ok {
			alias = strings.ToLower(strings.TrimSpace(alias))
			t.sectors[alias] = tickers
			t.aliases[alias] = true
		}
	}
	// Keep built-in aliases pointing at possibly overridden targets.
	for alias, target := range sectorAliases {
		if _, overridden := f.Sectors[alias]; overridden {
			delete(t.aliases, alias)
			continue
		}
		t.sectors[alias] = t.sectors[target]
	}
	return t, nil
}

// Stocks returns the tickers for a sector, case-insensitively.
func (t *SectorTable) Stocks(sector string) []string {
	tickers := t.sectors[strings.ToLower(strings.TrimSpace(sector))]
	return append([]string(nil), tickers...)
}

// Available lists canonical sector names, without aliases, sorted.
func (t *SectorTable) Available() []string {
	out := make([]string, 0, len(t.sectors))
	for name := range t.sectors {
		if t.aliases[name] {
			continue
		}
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
