package model

import "time"

// Provider tags used on UsageEvents. Adapters may record other values;
// these are the ones the built-in interceptors emit.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGoogle    = "google"
)

// UsageEvent is one immutable record of an LLM provider call: token and
// cost facts plus the attribution that caused it. Sequence is assigned
// by the ledger on insert and reflects insertion order.
type UsageEvent struct {
	Sequence     int64     `json:"sequence,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	FunctionName string    `json:"function_name"`
	CallStack    []string  `json:"call_stack"`
	Model        string    `json:"model"`
	Provider     string    `json:"provider"`
	InputTokens  int64     `json:"input_tokens"`
	OutputTokens int64     `json:"output_tokens"`
	CostUSD      float64   `json:"cost_usd"`
	DurationMS   float64   `json:"duration_ms"`
}

// TotalTokens returns input plus output tokens for this event.
func (e UsageEvent) TotalTokens() int64 {
	return e.InputTokens + e.OutputTokens
}

// Summary is a consistent snapshot of a ledger: totals, breakdowns and
// the raw events, all computed from the same set of records.
type Summary struct {
	TotalCostUSD float64            `json:"total_cost_usd"`
	TotalTokens  int64              `json:"total_tokens"`
	TotalCalls   int                `json:"total_calls"`
	ByFunction   map[string]float64 `json:"by_function"`
	ByModel      map[string]float64 `json:"by_model"`
	Events       []UsageEvent       `json:"calls"`
}
