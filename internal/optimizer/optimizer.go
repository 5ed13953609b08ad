// Package optimizer derives rule-based cost-reduction hints from
// recorded usage. It only reads ledger summaries and never affects the
// underlying calls.
package optimizer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tobyv/tokentrail/internal/model"
	"github.com/tobyv/tokentrail/internal/pricing"
)

// Hint severities, ordered.
const (
	SeverityHigh   = "high"
	SeverityMedium = "medium"
	SeverityLow    = "low"
)

// Monthly extrapolation: 5 calls/min over 8-hour days, 22 days.
const (
	DefaultCallsPerMinute = 5
	minutesPerMonth       = 60 * 8 * 22
)

// Hint is one actionable cost-reduction suggestion for a
// (function, model) pair.
type Hint struct {
	FunctionName      string
	CurrentModel      string
	Suggestion        string
	MonthlySavingsUSD float64
	Severity          string
}

// String renders the hint as a single report line.
func (h Hint) String() string {
	savings := ""
	if h.MonthlySavingsUSD > 0 {
		savings = fmt.Sprintf(" (~$%.0f/month)", h.MonthlySavingsUSD)
	}
	return fmt.Sprintf("  [%s] %s [%s]: %s%s",
		strings.ToUpper(h.Severity), h.FunctionName, h.CurrentModel, h.Suggestion, savings)
}

type group struct {
	function string
	model    string
	calls    int
	input    int64
	output   int64
	cost     float64
}

// Hints analyses the events and returns suggestions ordered by
// severity, then estimated savings. callsPerMinute scales the monthly
// projections; zero or negative uses DefaultCallsPerMinute.
func Hints(events []model.UsageEvent, callsPerMinute float64) []Hint {
	if len(events) == 0 {
		return nil
	}
	if callsPerMinute <= 0 {
		callsPerMinute = DefaultCallsPerMinute
	}
	monthlyCalls := callsPerMinute * minutesPerMonth

	groups := make(map[string]*group)
	var order []string
	for _, e := range events {
		key := e.FunctionName + "\x00" + e.Model
		g, ok := groups[key]
		if !ok {
			g = &group{function: e.FunctionName, model: e.Model}
			groups[key] = g
			order = append(order, key)
		}
		g.calls++
		g.input += e.InputTokens
		g.output += e.OutputTokens
		g.cost += e.CostUSD
	}

	var hints []Hint
	for _, key := range order {
		g := groups[key]
		avgInput := float64(g.input) / float64(g.calls)
		avgOutput := float64(g.output) / float64(g.calls)
		avgCost := g.cost / float64(g.calls)
		monthlyCost := avgCost * monthlyCalls

		if alt, ok := pricing.CheaperAlternative(g.model); ok {
			altCost := pricing.Calculate(alt, int64(avgInput), int64(avgOutput))
			savings := monthlyCost - altCost*monthlyCalls
			if savings > 0 && monthlyCost > 0 {
				severity := SeverityLow
				if savings > 100 {
					severity = SeverityHigh
				} else if savings > 20 {
					severity = SeverityMedium
				}
				hints = append(hints, Hint{
					FunctionName: g.function,
					CurrentModel: g.model,
					Suggestion: fmt.Sprintf("Switch to %s (%.0f%% cheaper per call)",
						alt, savings/monthlyCost*100),
					MonthlySavingsUSD: savings,
					Severity:          severity,
				})
			}
		}

		if avgInput > 4000 {
			severity := SeverityMedium
			if avgInput > 10000 {
				severity = SeverityHigh
			}
			hints = append(hints, Hint{
				FunctionName: g.function,
				CurrentModel: g.model,
				Suggestion: fmt.Sprintf("Average input is %s tokens. Trim context, use summarization, or limit retrieval chunks.",
					formatTokens(avgInput)),
				Severity: severity,
			})
		}

		if avgOutput > 2000 {
			hints = append(hints, Hint{
				FunctionName: g.function,
				CurrentModel: g.model,
				Suggestion: fmt.Sprintf("Average output is %s tokens. Ask for concise answers or lower the output limit.",
					formatTokens(avgOutput)),
				Severity: SeverityLow,
			})
		}

		if avgOutput < 200 {
			if alt, ok := pricing.CheaperAlternative(g.model); ok {
				hints = append(hints, Hint{
					FunctionName: g.function,
					CurrentModel: g.model,
					Suggestion: fmt.Sprintf("Short output (%.0f tokens avg), likely fine with %s for classification or extraction.",
						avgOutput, alt),
					Severity: SeverityLow,
				})
			}
		}
	}

	rank := map[string]int{SeverityHigh: 0, SeverityMedium: 1, SeverityLow: 2}
	sort.SliceStable(hints, func(i, j int) bool {
		if rank[hints[i].Severity] != rank[hints[j].Severity] {
			return rank[hints[i].Severity] < rank[hints[j].Severity]
		}
		return hints[i].MonthlySavingsUSD > hints[j].MonthlySavingsUSD
	})
	return hints
}

// Render formats hints as a report block, empty when there are none.
func Render(hints []Hint) string {
	if len(hints) == 0 {
		return ""
	}
	lines := []string{"", "Optimization hints:"}
	for _, h := range hints {
		lines = append(lines, h.String())
	}
	lines = append(lines, "")
	return strings.Join(lines, "\n")
}

// formatTokens renders a float token count with thousands separators.
func formatTokens(v float64) string {
	s := fmt.Sprintf("%.0f", v)
	var b strings.Builder
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteRune(',')
		}
		b.WriteRune(c)
	}
	return b.String()
}
