package aggregator

import (
	"sort"
	"time"

	"github.com/tobyv/tokentrail/internal/model"
)

// Options for aggregation
type Options struct {
	Since    time.Time
	Until    time.Time
	Timezone *time.Location
}

// Aggregate is one grouped row of usage: a key (day, function or
// model), summed tokens and cost, and the models seen in the group.
type Aggregate struct {
	Key          string
	InputTokens  int64
	OutputTokens int64
	Cost         float64
	EventCount   int
	Models       []string
}

// TotalTokens returns input plus output tokens for the group.
func (a Aggregate) TotalTokens() int64 {
	return a.InputTokens + a.OutputTokens
}

// FilterEvents filters events based on date range
func FilterEvents(events []model.UsageEvent, opts Options) []model.UsageEvent {
	var filtered []model.UsageEvent
	for _, e := range events {
		ts := e.Timestamp
		if opts.Timezone != nil {
			ts = ts.In(opts.Timezone)
		}
		if !opts.Since.IsZero() && ts.Before(opts.Since) {
			continue
		}
		if !opts.Until.IsZero() && ts.After(opts.Until) {
			continue
		}
		filtered = append(filtered, e)
	}
	return filtered
}

// ByDay aggregates usage by calendar day, newest first.
func ByDay(events []model.UsageEvent, opts Options) []Aggregate {
	return groupBy(events, func(e model.UsageEvent) string {
		ts := e.Timestamp
		if opts.Timezone != nil {
			ts = ts.In(opts.Timezone)
		}
		return ts.Format("2006-01-02")
	}, sortKeysDescending)
}

// ByFunction aggregates usage by attributed function, most expensive
// first.
func ByFunction(events []model.UsageEvent, _ Options) []Aggregate {
	return groupBy(events, func(e model.UsageEvent) string {
		return e.FunctionName
	}, sortByCost)
}

// ByModel aggregates usage by model, most expensive first.
func ByModel(events []model.UsageEvent, _ Options) []Aggregate {
	return groupBy(events, func(e model.UsageEvent) string {
		return e.Model
	}, sortByCost)
}

type sortOrder func([]Aggregate)

func sortKeysDescending(results []Aggregate) {
	sort.Slice(results, func(i, j int) bool {
		return results[i].Key > results[j].Key // Newest first
	})
}

func sortByCost(results []Aggregate) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Cost != results[j].Cost {
			return results[i].Cost > results[j].Cost
		}
		return results[i].Key < results[j].Key
	})
}

func groupBy(events []model.UsageEvent, keyOf func(model.UsageEvent) string, order sortOrder) []Aggregate {
	grouped := make(map[string]*Aggregate)
	modelsMap := make(map[string]map[string]bool)

	for _, e := range events {
		key := keyOf(e)
		if key == "" {
			key = "unknown"
		}

		if _, ok := grouped[key]; !ok {
			grouped[key] = &Aggregate{Key: key}
			modelsMap[key] = make(map[string]bool)
		}

		agg := grouped[key]
		agg.InputTokens += e.InputTokens
		agg.OutputTokens += e.OutputTokens
		agg.Cost += e.CostUSD
		agg.EventCount++

		modelsMap[key][e.Model] = true
	}

	var results []Aggregate
	for key, agg := range grouped {
		for m := range modelsMap[key] {
			agg.Models = append(agg.Models, m)
		}
		sort.Strings(agg.Models)
		results = append(results, *agg)
	}

	order(results)
	return results
}

// CalculateTotal returns the total aggregated usage
func CalculateTotal(results []Aggregate) Aggregate {
	total := Aggregate{Key: "Total"}
	modelsMap := make(map[string]bool)

	for _, r := range results {
		total.InputTokens += r.InputTokens
		total.OutputTokens += r.OutputTokens
		total.Cost += r.Cost
		total.EventCount += r.EventCount

		for _, m := range r.Models {
			modelsMap[m] = true
		}
	}

	for m := range modelsMap {
		total.Models = append(total.Models, m)
	}
	sort.Strings(total.Models)

	return total
}
