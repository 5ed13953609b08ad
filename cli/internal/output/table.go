package output

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/tobyv/tokentrail/cli/internal/aggregator"
)

const (
	compactThreshold = 100 // Terminal width below which compact mode kicks in
	defaultWidth     = 120
)

// TableOptions controls table display behavior
type TableOptions struct {
	ForceCompact bool
}

// shouldUseCompact determines if compact mode should be used
func shouldUseCompact(opts TableOptions) bool {
	if opts.ForceCompact {
		return true
	}
	return getTerminalWidth() < compactThreshold
}

// FormatNumber formats a number with thousand separators
func FormatNumber(n int64) string {
	if n == 0 {
		return "0"
	}

	str := fmt.Sprintf("%d", n)
	negative := n < 0
	if negative {
		str = str[1:]
	}

	result := ""
	for i, c := range str {
		if i > 0 && (len(str)-i)%3 == 0 {
			result += ","
		}
		result += string(c)
	}

	if negative {
		return "-" + result
	}
	return result
}

// FormatCost formats a cost value as currency
func FormatCost(cost float64) string {
	return fmt.Sprintf("$%.4f", cost)
}

var (
	dateSuffixRe = regexp.MustCompile(`^(.+)-(\d{8})$`)
	claudeRe     = regexp.MustCompile(`^claude-(\w+)-([\d-]+)$`)
)

// shortenModelName converts full model names to short form
// claude-3-5-sonnet-20241022 -> claude-3-5-sonnet
// models/gemini-1.5-pro -> gemini-1.5-pro
func shortenModelName(name string) string {
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		name = name[idx+1:]
	}
	if m := dateSuffixRe.FindStringSubmatch(name); m != nil {
		name = m[1]
	}
	if m := claudeRe.FindStringSubmatch(name); m != nil {
		return fmt.Sprintf("%s-%s", m[1], m[2])
	}
	return name
}

// PrintTable prints aggregated usage as a formatted table
func PrintTable(results []aggregator.Aggregate, title string, showTotal bool) {
	PrintTableWithOptions(results, title, showTotal, TableOptions{})
}

// PrintTableWithOptions prints table with display options
func PrintTableWithOptions(results []aggregator.Aggregate, title string, showTotal bool, opts TableOptions) {
	if len(results) == 0 {
		fmt.Println("No usage data found.")
		return
	}

	compact := shouldUseCompact(opts)

	// Calculate key column width
	keyWidth := len(title)
	for _, r := range results {
		if len(r.Key) > keyWidth {
			keyWidth = len(r.Key)
		}
	}
	if keyWidth < 10 {
		keyWidth = 10
	}
	// Cap key width in compact mode
	if compact && keyWidth > 16 {
		keyWidth = 16
	}

	fmt.Println()

	if compact {
		// Compact: Key, Tokens, Cost
		fmt.Printf("%-*s  %12s  %10s\n", keyWidth, title, "Tokens", "Cost")
		fmt.Println(strings.Repeat("─", keyWidth+2+12+2+10))

		for _, r := range results {
			key := r.Key
			if len(key) > keyWidth {
				key = key[:keyWidth]
			}
			fmt.Printf("%-*s  %12s  %10s\n",
				keyWidth, key,
				FormatNumber(r.TotalTokens()),
				FormatCost(r.Cost))
		}

		if showTotal && len(results) > 1 {
			fmt.Println(strings.Repeat("─", keyWidth+2+12+2+10))
			total := aggregator.CalculateTotal(results)
			fmt.Printf("%-*s  %12s  %10s\n",
				keyWidth, "Total",
				FormatNumber(total.TotalTokens()),
				FormatCost(total.Cost))
		}

		fmt.Println()
		fmt.Println("(Compact mode - expand terminal for full view)")
	} else {
		// Full: Key, Input, Output, Calls, Cost
		fmt.Printf("%-*s  %12s  %12s  %8s  %10s\n",
			keyWidth, title, "Input", "Output", "Calls", "Cost")
		fmt.Println(strings.Repeat("─", keyWidth+2+12+2+12+2+8+2+10))

		for _, r := range results {
			fmt.Printf("%-*s  %12s  %12s  %8d  %10s\n",
				keyWidth, r.Key,
				FormatNumber(r.InputTokens),
				FormatNumber(r.OutputTokens),
				r.EventCount,
				FormatCost(r.Cost))
		}

		if showTotal && len(results) > 1 {
			fmt.Println(strings.Repeat("─", keyWidth+2+12+2+12+2+8+2+10))
			total := aggregator.CalculateTotal(results)
			fmt.Printf("%-*s  %12s  %12s  %8d  %10s\n",
				keyWidth, "Total",
				FormatNumber(total.InputTokens),
				FormatNumber(total.OutputTokens),
				total.EventCount,
				FormatCost(total.Cost))
		}

		fmt.Println()
	}
}

// PrintTableWithBreakdown prints table with per-model breakdown
func PrintTableWithBreakdown(results []aggregator.Aggregate, title string) {
	PrintTableWithBreakdownOpts(results, title, TableOptions{})
}

// PrintTableWithBreakdownOpts prints table with breakdown and options
func PrintTableWithBreakdownOpts(results []aggregator.Aggregate, title string, opts TableOptions) {
	PrintTableWithOptions(results, title, true, opts)

	// Print model breakdown with shortened names
	modelsMap := make(map[string]bool)
	for _, r := range results {
		for _, m := range r.Models {
			modelsMap[shortenModelName(m)] = true
		}
	}

	if len(modelsMap) > 0 {
		var models []string
		for m := range modelsMap {
			models = append(models, m)
		}
		sort.Strings(models)

		fmt.Println("Models used:")
		for _, m := range models {
			fmt.Printf("  - %s\n", m)
		}
		fmt.Println()
	}
}

// JSONOutput represents the JSON output structure
type JSONOutput struct {
	Results []JSONResult `json:"results"`
	Total   JSONResult   `json:"total"`
}

// JSONResult represents a single result in JSON format
type JSONResult struct {
	Key          string   `json:"key"`
	InputTokens  int64    `json:"input_tokens"`
	OutputTokens int64    `json:"output_tokens"`
	Calls        int      `json:"calls"`
	Cost         float64  `json:"cost"`
	Models       []string `json:"models,omitempty"`
}

// PrintJSON outputs results as JSON
func PrintJSON(results []aggregator.Aggregate) {
	output := JSONOutput{
		Results: make([]JSONResult, len(results)),
	}

	for i, r := range results {
		output.Results[i] = JSONResult{
			Key:          r.Key,
			InputTokens:  r.InputTokens,
			OutputTokens: r.OutputTokens,
			Calls:        r.EventCount,
			Cost:         r.Cost,
			Models:       r.Models,
		}
	}

	total := aggregator.CalculateTotal(results)
	output.Total = JSONResult{
		Key:          "total",
		InputTokens:  total.InputTokens,
		OutputTokens: total.OutputTokens,
		Calls:        total.EventCount,
		Cost:         total.Cost,
		Models:       total.Models,
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	encoder.Encode(output)
}
