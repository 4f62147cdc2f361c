package tokens

import (
	"fmt"
	"maps"
	"math"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Price is USD per one million tokens.
type Price struct {
	Input  float64 `yaml:"input"`
	Output float64 `yaml:"output"`
}

// PriceTable maps "provider/model" (or a bare model name) to its price.
type PriceTable map[string]Price

// DefaultPriceTable returns the built-in standard tier prices.
func DefaultPriceTable() PriceTable {
	return PriceTable{
		"openai/gpt-4o":      {2.50, 10.00},
		"openai/gpt-4o-mini": {0.15, 0.60},
		"openai/gpt-5.2":     {1.75, 14.00},
		"openai/gpt-5-mini":  {0.25, 2.00},
		"openai/gpt-5-nano":  {0.05, 0.40},

		"anthropic/claude-sonnet-4-5-20250929": {3.00, 15.00},
		"anthropic/claude-opus-4-1-20250805":   {15.00, 75.00},
		"anthropic/claude-3-5-haiku-20241022":  {0.25, 1.25},
		"anthropic/claude-3-5-sonnet-20241022": {3.00, 15.00},

		"gemini/gemini-3-pro-preview":   {2.00, 12.00},
		"gemini/gemini-3-flash-preview": {0.50, 3.00},
		"gemini/gemini-2.5-pro":         {1.25, 10.00},
		"gemini/gemini-2.5-flash":       {0.30, 2.50},
		"gemini/gemini-2.5-flash-lite":  {0.10, 0.40},
		"gemini/gemini-2.0-flash":       {0.10, 0.40},

		"moonshot/kimi-k2.5":        {0.60, 3.00},
		"moonshot/kimi-k2-thinking": {0.60, 2.50},
	}
}

// LoadPriceTable reads a YAML price file and merges it over the built-in table.
//
//	openai/gpt-4o:
//	  input: 2.5
//	  output: 10
func LoadPriceTable(path string) (PriceTable, error) {
	table := DefaultPriceTable()
	if path == "" {
		return table, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read price table: %w", err)
	}
	var overrides PriceTable
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("failed to parse price table %s: %w", path, err)
	}
	for k, v := range overrides {
		table[k] = v
	}
	return table, nil
}

// Lookup finds the price for model by exact key. A bare name with no
// provider prefix also matches "<provider>/<name>" keys; when several do,
// the lexically smallest key wins. A prefixed name never falls back, so a
// self-hosted "local/gpt-4o" stays unpriced.
func (t PriceTable) Lookup(model string) (Price, bool) {
	if p, ok := t[model]; ok {
		return p, true
	}
	if strings.Contains(model, "/") {
		return Price{}, false
	}
	for _, k := range slices.Sorted(maps.Keys(t)) {
		if bareModel(k) == model {
			return t[k], true
		}
	}
	return Price{}, false
}

// Cost returns the USD cost rounded to 8 decimals, or false when the model
// has no price.
func (t PriceTable) Cost(model string, inputTokens, outputTokens int) (float64, bool) {
	p, ok := t.Lookup(strings.TrimSpace(model))
	if !ok {
		return 0, false
	}
	cost := float64(inputTokens)/1e6*p.Input + float64(outputTokens)/1e6*p.Output
	return math.Round(cost*1e8) / 1e8, true
}
