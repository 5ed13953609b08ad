// Package ledger implements the concurrency-safe store of usage events
// and its derived aggregates.
package ledger

import (
	"log"
	"sync"

	"github.com/tobyv/tokentrail/internal/model"
)

// Store is a durable backend for usage events. Append persists one
// event; LoadAll returns everything previously persisted in original
// insertion order, or an empty slice if nothing was ever written.
type Store interface {
	Append(event model.UsageEvent) error
	LoadAll() ([]model.UsageEvent, error)
	Close() error
}

// Ledger is an append-only, mutex-guarded sequence of usage events.
// All aggregates are recomputed from the sequence so they can never
// drift from the raw records. The in-memory sequence is authoritative:
// a failing durable append is logged, never surfaced to the recorder.
type Ledger struct {
	mu     sync.Mutex
	events []model.UsageEvent
	store  Store
}

// New creates an empty ledger with no durable backing.
func New() *Ledger {
	return &Ledger{}
}

// NewWithStore creates an empty ledger that also appends every recorded
// event to the given store. A nil store behaves like New.
func NewWithStore(store Store) *Ledger {
	return &Ledger{store: store}
}

// Record appends an event, assigning its sequence number. If a store is
// bound the event is also appended durably on the caller's goroutine,
// so durable order matches in-memory order. Store failures are logged
// and the in-memory append still counts.
func (l *Ledger) Record(event model.UsageEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()

	event.Sequence = int64(len(l.events) + 1)
	l.events = append(l.events, event)

	if l.store != nil {
		if err := l.store.Append(event); err != nil {
			log.Printf("ledger: durable append failed: %v", err)
		}
	}
}

// Records returns a snapshot copy of the event sequence. Later Record
// calls never mutate a previously returned snapshot.
func (l *Ledger) Records() []model.UsageEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]model.UsageEvent(nil), l.events...)
}

// TotalCost returns the summed cost of all recorded events in USD.
func (l *Ledger) TotalCost() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	var total float64
	for _, e := range l.events {
		total += e.CostUSD
	}
	return total
}

// TotalTokens returns the summed input+output tokens across all events.
func (l *Ledger) TotalTokens() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	var total int64
	for _, e := range l.events {
		total += e.TotalTokens()
	}
	return total
}

// TotalCalls returns the number of recorded events.
func (l *Ledger) TotalCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

// CostByFunction returns total cost keyed by attributed function name.
func (l *Ledger) CostByFunction() map[string]float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return costBy(l.events, func(e model.UsageEvent) string { return e.FunctionName })
}

// CostByModel returns total cost keyed by model name.
func (l *Ledger) CostByModel() map[string]float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return costBy(l.events, func(e model.UsageEvent) string { return e.Model })
}

// Summary computes totals, breakdowns and the raw event list from one
// consistent snapshot taken under a single lock acquisition.
func (l *Ledger) Summary() model.Summary {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := model.Summary{
		TotalCalls: len(l.events),
		ByFunction: costBy(l.events, func(e model.UsageEvent) string { return e.FunctionName }),
		ByModel:    costBy(l.events, func(e model.UsageEvent) string { return e.Model }),
		Events:     append([]model.UsageEvent(nil), l.events...),
	}
	for _, e := range l.events {
		s.TotalCostUSD += e.CostUSD
		s.TotalTokens += e.TotalTokens()
	}
	return s
}

// Reset clears the in-memory sequence. The durable store is untouched;
// use Purge to clear both.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = nil
}

// Load replaces the in-memory sequence with the contents of the bound
// store, preserving original insertion order, and returns the loaded
// events. With no store bound, or a store that has never been written,
// it loads an empty sequence and returns no error.
func (l *Ledger) Load() ([]model.UsageEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.store == nil {
		l.events = nil
		return nil, nil
	}

	events, err := l.store.LoadAll()
	if err != nil {
		return nil, err
	}
	l.events = events
	return append([]model.UsageEvent(nil), events...), nil
}

func costBy(events []model.UsageEvent, key func(model.UsageEvent) string) map[string]float64 {
	out := make(map[string]float64)
	for _, e := range events {
		out[key(e)] += e.CostUSD
	}
	return out
}
