package trace

import (
	"context"
	"fmt"
	"sync"

	"github.com/tobyv/tokentrail/internal/ledger"
	"github.com/tobyv/tokentrail/internal/model"
)

// Session is a user-delimited profiling block bound to its own private
// ledger. Events recorded inside the session never reach the default
// ledger, and concurrent sessions on independent goroutines never see
// each other's events.
type Session struct {
	Name string

	ledger *ledger.Ledger
	end    sync.Once

	mu    sync.Mutex
	final *model.Summary
}

// StartSession begins a session: a fresh ledger is created and bound
// into the returned context, the session name becomes the root scope,
// and interception is activated. Call End when done.
func StartSession(ctx context.Context, name string) (context.Context, *Session) {
	if name == "" {
		name = "session"
	}
	s := &Session{Name: name, ledger: ledger.New()}
	Activate()
	ctx = WithLedger(ctx, s.ledger)
	ctx = WithScope(ctx, name)
	return ctx, s
}

// End releases the session's interception activation and freezes the
// session's numbers. Events recorded through a still-held session
// context after End no longer change the session's totals. Idempotent.
func (s *Session) End() {
	s.end.Do(func() {
		snap := s.ledger.Summary()
		s.mu.Lock()
		s.final = &snap
		s.mu.Unlock()
		Deactivate()
	})
}

// finalSummary returns the frozen snapshot, if End has run.
func (s *Session) finalSummary() (model.Summary, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.final == nil {
		return model.Summary{}, false
	}
	return *s.final, true
}

// Ledger returns the session's private ledger.
func (s *Session) Ledger() *ledger.Ledger {
	return s.ledger
}

// Cost returns the session's total cost in USD.
func (s *Session) Cost() float64 {
	if snap, ok := s.finalSummary(); ok {
		return snap.TotalCostUSD
	}
	return s.ledger.TotalCost()
}

// CostString returns the session cost formatted as dollars.
func (s *Session) CostString() string {
	return fmt.Sprintf("$%.4f", s.Cost())
}

// Tokens returns the session's total input+output tokens.
func (s *Session) Tokens() int64 {
	if snap, ok := s.finalSummary(); ok {
		return snap.TotalTokens
	}
	return s.ledger.TotalTokens()
}

// Calls returns the number of events recorded in the session.
func (s *Session) Calls() int {
	if snap, ok := s.finalSummary(); ok {
		return snap.TotalCalls
	}
	return s.ledger.TotalCalls()
}

// Records returns a snapshot of the session's events.
func (s *Session) Records() []model.UsageEvent {
	if snap, ok := s.finalSummary(); ok {
		out := make([]model.UsageEvent, len(snap.Events))
		copy(out, snap.Events)
		return out
	}
	return s.ledger.Records()
}

// Summary returns a consistent snapshot of the session's ledger. After
// End this is the frozen end-of-session summary.
func (s *Session) Summary() model.Summary {
	if snap, ok := s.finalSummary(); ok {
		return snap
	}
	return s.ledger.Summary()
}
