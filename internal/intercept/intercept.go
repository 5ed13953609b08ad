// Package intercept turns completed LLM provider calls into usage
// events on the attributed ledger. Provider adapters reduce each SDK's
// response shape to the normalized Usage payload before handing it to
// Observe; the rest of the system never inspects provider-specific
// structures.
package intercept

import (
	"context"
	"log"
	"time"

	"github.com/tobyv/tokentrail/internal/model"
	"github.com/tobyv/tokentrail/internal/pricing"
	"github.com/tobyv/tokentrail/internal/trace"
)

// Usage is the normalized notification a provider adapter emits for
// one completed call.
type Usage struct {
	Provider     string
	Model        string
	InputTokens  int64
	OutputTokens int64
	Duration     time.Duration
}

// Observe prices the usage, resolves the current attribution and
// records an event on the resolved ledger. Tracking is strictly
// best-effort: Observe never panics into the caller, so a tracking
// failure can never become a failure of the instrumented code.
func Observe(ctx context.Context, u Usage) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("intercept: dropped usage event: %v", r)
		}
	}()

	att := trace.Current(ctx)
	att.Ledger.Record(model.UsageEvent{
		Timestamp:    time.Now(),
		FunctionName: att.FunctionName,
		CallStack:    att.CallStack,
		Model:        u.Model,
		Provider:     u.Provider,
		InputTokens:  u.InputTokens,
		OutputTokens: u.OutputTokens,
		CostUSD:      pricing.Calculate(u.Model, u.InputTokens, u.OutputTokens),
		DurationMS:   float64(u.Duration) / float64(time.Millisecond),
	})
}
