package pricing

import (
	"sort"
	"strings"
)

// ModelPrice holds USD prices per one million tokens.
type ModelPrice struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// priceTable maps model name to pricing. Prices in USD per 1M tokens.
var priceTable = map[string]ModelPrice{
	// Anthropic - Claude 4.x
	"claude-opus-4-5":           {15.00, 75.00},
	"claude-opus-4-1":           {15.00, 75.00},
	"claude-sonnet-4-5":         {3.00, 15.00},
	"claude-sonnet-4-20250514":  {3.00, 15.00},
	"claude-haiku-4-5":          {0.80, 4.00},
	"claude-haiku-4-5-20251001": {0.80, 4.00},
	// Anthropic - Claude 3.x (legacy)
	"claude-3-5-sonnet-20241022": {3.00, 15.00},
	"claude-3-5-haiku-20241022":  {0.80, 4.00},
	"claude-3-opus-20240229":     {15.00, 75.00},
	"claude-3-sonnet-20240229":   {3.00, 15.00},
	"claude-3-haiku-20240307":    {0.25, 1.25},
	// OpenAI - GPT-4o family
	"gpt-4o":                 {2.50, 10.00},
	"gpt-4o-2024-11-20":      {2.50, 10.00},
	"gpt-4o-mini":            {0.15, 0.60},
	"gpt-4o-mini-2024-07-18": {0.15, 0.60},
	// OpenAI - o-series reasoning
	"o1":      {15.00, 60.00},
	"o1-mini": {3.00, 12.00},
	"o3-mini": {1.10, 4.40},
	// OpenAI - GPT-4 legacy
	"gpt-4-turbo":   {10.00, 30.00},
	"gpt-4":         {30.00, 60.00},
	"gpt-3.5-turbo": {0.50, 1.50},
	// Google - Gemini 1.5
	"gemini-1.5-pro":      {1.25, 5.00},
	"gemini-1.5-flash":    {0.075, 0.30},
	"gemini-1.5-flash-8b": {0.0375, 0.15},
	// Google - Gemini 2.0
	"gemini-2.0-flash-exp": {0.075, 0.30},
	"gemini-2.0-flash":     {0.10, 0.40},
	// Meta - Llama (via API providers, approximate)
	"llama-3.1-70b-instruct": {0.88, 0.88},
	"llama-3.1-8b-instruct":  {0.20, 0.20},
	// Mistral (via API)
	"mistral-large-latest": {2.00, 6.00},
	"mistral-small-latest": {0.20, 0.60},
}

// cheaperAlternatives maps a model to a cheaper substitute suggested by
// the optimizer.
var cheaperAlternatives = map[string]string{
	"claude-opus-4-5":            "claude-sonnet-4-5",
	"claude-opus-4-1":            "claude-sonnet-4-5",
	"claude-sonnet-4-5":          "claude-haiku-4-5",
	"claude-3-5-sonnet-20241022": "claude-3-5-haiku-20241022",
	"claude-3-opus-20240229":     "claude-3-sonnet-20240229",
	"gpt-4o":                     "gpt-4o-mini",
	"gpt-4-turbo":                "gpt-4o",
	"gpt-4":                      "gpt-4o",
	"o1":                         "o3-mini",
	"gemini-1.5-pro":             "gemini-1.5-flash",
}

// Calculate returns the cost in USD for the given model and token
// counts. Unknown models cost 0.0 rather than failing.
func Calculate(model string, inputTokens, outputTokens int64) float64 {
	p, ok := Lookup(model)
	if !ok {
		return 0.0
	}
	return (float64(inputTokens)*p.InputPerMillion + float64(outputTokens)*p.OutputPerMillion) / 1_000_000
}

// Lookup resolves pricing for a model name, case-insensitively. When no
// exact entry exists it falls back to a prefix match so that versioned
// identifiers like "gpt-4o-2024-05-13" resolve to their base pricing.
func Lookup(model string) (ModelPrice, bool) {
	name := strings.ToLower(model)
	if p, ok := priceTable[name]; ok {
		return p, true
	}
	// Longest matching prefix wins; "gpt-4o-..." must resolve to
	// gpt-4o, not gpt-4.
	var best string
	for key := range priceTable {
		if strings.HasPrefix(name, key) || strings.HasPrefix(key, name) {
			if len(key) > len(best) {
				best = key
			}
		}
	}
	if best == "" {
		return ModelPrice{}, false
	}
	return priceTable[best], true
}

// CheaperAlternative returns a cheaper model name if one is known.
func CheaperAlternative(model string) (string, bool) {
	alt, ok := cheaperAlternatives[strings.ToLower(model)]
	return alt, ok
}

// Models returns the sorted list of all known model names.
func Models() []string {
	names := make([]string, 0, len(priceTable))
	for name := range priceTable {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
