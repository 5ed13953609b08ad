// Package report renders ledger summaries for humans: a plain-text
// cost report and an HTML document with a cost-by-function chart. Both
// are read-only consumers of the ledger's aggregation interface.
package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tobyv/tokentrail/internal/model"
)

const barWidth = 16

// Text returns a human-readable cost report for the summary: a totals
// header, then functions ordered by descending cost with a per-model
// breakdown under each.
func Text(s model.Summary) string {
	if s.TotalCalls == 0 {
		return "tokentrail: no LLM calls recorded.\n"
	}

	var b strings.Builder
	plural := "s"
	if s.TotalCalls == 1 {
		plural = ""
	}

	b.WriteString("\n")
	fmt.Fprintf(&b, "tokentrail cost report | total: $%.4f  (%s tokens, %d call%s)\n",
		s.TotalCostUSD, FormatCount(s.TotalTokens), s.TotalCalls, plural)
	b.WriteString(strings.Repeat("-", 70) + "\n")

	for _, fn := range keysByCost(s.ByFunction) {
		fnCost := s.ByFunction[fn]
		pct := percent(fnCost, s.TotalCostUSD)
		fmt.Fprintf(&b, "  %-35s  $%.4f  %s  %.0f%%\n", fn, fnCost, bar(pct), pct)

		// Per-model breakdown within the function.
		type modelAgg struct {
			cost   float64
			tokens int64
		}
		models := make(map[string]modelAgg)
		for _, e := range s.Events {
			if e.FunctionName != fn {
				continue
			}
			agg := models[e.Model]
			agg.cost += e.CostUSD
			agg.tokens += e.TotalTokens()
			models[e.Model] = agg
		}

		names := make([]string, 0, len(models))
		for name := range models {
			names = append(names, name)
		}
		sort.Slice(names, func(i, j int) bool {
			return models[names[i]].cost > models[names[j]].cost
		})

		for _, name := range names {
			agg := models[name]
			mPct := percent(agg.cost, s.TotalCostUSD)
			fmt.Fprintf(&b, "    %-33s  $%.4f  %s  %.0f%%  [%s tokens]\n",
				"└─ "+name, agg.cost, bar(mPct), mPct, FormatCount(agg.tokens))
		}
	}

	b.WriteString("\n")
	return b.String()
}

// keysByCost returns map keys ordered by descending value.
func keysByCost(costs map[string]float64) []string {
	keys := make([]string, 0, len(costs))
	for k := range costs {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if costs[keys[i]] != costs[keys[j]] {
			return costs[keys[i]] > costs[keys[j]]
		}
		return keys[i] < keys[j]
	})
	return keys
}

func percent(part, total float64) float64 {
	if total <= 0 {
		return 0
	}
	return part / total * 100
}

func bar(pct float64) string {
	filled := int(pct / 100 * barWidth)
	if filled > barWidth {
		filled = barWidth
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)
}

// FormatCount renders an integer with thousands separators.
func FormatCount(n int64) string {
	s := fmt.Sprintf("%d", n)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}

	var b strings.Builder
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteRune(',')
		}
		b.WriteRune(c)
	}

	if neg {
		return "-" + b.String()
	}
	return b.String()
}

// FormatCost renders a USD amount for display.
func FormatCost(cost float64) string {
	return fmt.Sprintf("$%.4f", cost)
}
