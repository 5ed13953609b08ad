package ledger

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tobyv/tokentrail/internal/model"
)

func makeEvent(overrides ...func(*model.UsageEvent)) model.UsageEvent {
	e := model.UsageEvent{
		Timestamp:    time.Now(),
		FunctionName: "test_fn",
		CallStack:    []string{"test_fn"},
		Model:        "gpt-4o",
		Provider:     model.ProviderOpenAI,
		InputTokens:  1000,
		OutputTokens: 200,
		CostUSD:      0.004,
		DurationMS:   350.0,
	}
	for _, fn := range overrides {
		fn(&e)
	}
	return e
}

func withCost(c float64) func(*model.UsageEvent) {
	return func(e *model.UsageEvent) { e.CostUSD = c }
}

func withFunction(name string) func(*model.UsageEvent) {
	return func(e *model.UsageEvent) { e.FunctionName = name }
}

func withModel(name string) func(*model.UsageEvent) {
	return func(e *model.UsageEvent) { e.Model = name }
}

func withTokens(in, out int64) func(*model.UsageEvent) {
	return func(e *model.UsageEvent) {
		e.InputTokens = in
		e.OutputTokens = out
	}
}

func TestRecordAndRetrieve(t *testing.T) {
	l := New()
	l.Record(makeEvent())

	records := l.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "test_fn", records[0].FunctionName)
	assert.Equal(t, int64(1), records[0].Sequence)
}

func TestSequenceFollowsInsertionOrder(t *testing.T) {
	l := New()
	for i := 0; i < 5; i++ {
		l.Record(makeEvent())
	}
	for i, e := range l.Records() {
		assert.Equal(t, int64(i+1), e.Sequence)
	}
}

func TestTotals(t *testing.T) {
	l := New()
	l.Record(makeEvent(withCost(0.01), withTokens(1000, 200)))
	l.Record(makeEvent(withCost(0.02), withTokens(500, 100)))

	assert.InDelta(t, 0.03, l.TotalCost(), 1e-9)
	assert.Equal(t, int64(1800), l.TotalTokens())
	assert.Equal(t, 2, l.TotalCalls())
}

func TestTotalCallsMatchesRecords(t *testing.T) {
	l := New()
	assert.Equal(t, 0, l.TotalCalls())
	for i := 0; i < 7; i++ {
		l.Record(makeEvent())
	}
	assert.Equal(t, len(l.Records()), l.TotalCalls())
}

func TestCostByFunction(t *testing.T) {
	l := New()
	l.Record(makeEvent(withFunction("fn_a"), withCost(0.05)))
	l.Record(makeEvent(withFunction("fn_b"), withCost(0.02)))
	l.Record(makeEvent(withFunction("fn_a"), withCost(0.03)))

	byFn := l.CostByFunction()
	assert.InDelta(t, 0.08, byFn["fn_a"], 1e-9)
	assert.InDelta(t, 0.02, byFn["fn_b"], 1e-9)

	var sum float64
	for _, c := range byFn {
		sum += c
	}
	assert.InDelta(t, l.TotalCost(), sum, 1e-9)
}

func TestCostByModel(t *testing.T) {
	l := New()
	l.Record(makeEvent(withModel("gpt-4o"), withCost(0.05)))
	l.Record(makeEvent(withModel("gpt-4o-mini"), withCost(0.01)))

	byModel := l.CostByModel()
	assert.Contains(t, byModel, "gpt-4o")
	assert.Contains(t, byModel, "gpt-4o-mini")

	var sum float64
	for _, c := range byModel {
		sum += c
	}
	assert.InDelta(t, l.TotalCost(), sum, 1e-9)
}

func TestSummaryIsConsistent(t *testing.T) {
	l := New()
	l.Record(makeEvent(withCost(0.01)))

	s := l.Summary()
	assert.InDelta(t, 0.01, s.TotalCostUSD, 1e-9)
	assert.Equal(t, int64(1200), s.TotalTokens)
	assert.Equal(t, 1, s.TotalCalls)
	assert.Len(t, s.Events, 1)
	assert.Len(t, s.ByFunction, 1)
	assert.Len(t, s.ByModel, 1)
}

func TestSummaryConsistentUnderConcurrentWrites(t *testing.T) {
	l := New()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			l.Record(makeEvent(withCost(0.001)))
		}
	}()

	for i := 0; i < 50; i++ {
		s := l.Summary()
		// Every view in one summary must describe the same snapshot.
		assert.Equal(t, s.TotalCalls, len(s.Events))
		var sum float64
		for _, c := range s.ByFunction {
			sum += c
		}
		assert.InDelta(t, s.TotalCostUSD, sum, 1e-9)
	}
	<-done
}

func TestRecordsSnapshotIsStable(t *testing.T) {
	l := New()
	l.Record(makeEvent())

	snapshot := l.Records()
	l.Record(makeEvent())
	l.Record(makeEvent())

	assert.Len(t, snapshot, 1)
}

func TestReset(t *testing.T) {
	l := New()
	l.Record(makeEvent(withCost(0.5)))
	l.Reset()

	assert.Empty(t, l.Records())
	assert.Equal(t, 0.0, l.TotalCost())
	assert.Equal(t, int64(0), l.TotalTokens())
	assert.Equal(t, 0, l.TotalCalls())
}

func TestConcurrentWritersLoseNothing(t *testing.T) {
	const writers = 5
	const perWriter = 100

	l := New()
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				l.Record(makeEvent())
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, writers*perWriter, l.TotalCalls())
	assert.Len(t, l.Records(), writers*perWriter)

	// Sequence numbers must form a duplicate-free 1..N set.
	seen := make(map[int64]bool)
	for _, e := range l.Records() {
		assert.False(t, seen[e.Sequence], "duplicate sequence %d", e.Sequence)
		seen[e.Sequence] = true
	}
}

// failingStore always errors on append; Record must not care.
type failingStore struct{}

func (failingStore) Append(model.UsageEvent) error { return errors.New("disk full") }
func (failingStore) LoadAll() ([]model.UsageEvent, error) {
	return nil, errors.New("disk gone")
}
func (failingStore) Close() error { return nil }

func TestRecordSurvivesStoreFailure(t *testing.T) {
	l := NewWithStore(failingStore{})
	l.Record(makeEvent())
	assert.Equal(t, 1, l.TotalCalls())
}

func TestLoadWithoutStoreIsEmpty(t *testing.T) {
	l := New()
	events, err := l.Load()
	require.NoError(t, err)
	assert.Empty(t, events)
}

// memStore is an in-memory Store used to exercise Load ordering.
type memStore struct {
	mu     sync.Mutex
	events []model.UsageEvent
}

func (m *memStore) Append(e model.UsageEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *memStore) LoadAll() ([]model.UsageEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.UsageEvent(nil), m.events...), nil
}

func (m *memStore) Close() error { return nil }

func TestLoadPreservesOrder(t *testing.T) {
	store := &memStore{}
	l := NewWithStore(store)
	l.Record(makeEvent(withFunction("first")))
	l.Record(makeEvent(withFunction("second")))
	l.Record(makeEvent(withFunction("third")))

	fresh := NewWithStore(store)
	events, err := fresh.Load()
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "first", events[0].FunctionName)
	assert.Equal(t, "second", events[1].FunctionName)
	assert.Equal(t, "third", events[2].FunctionName)
	assert.Equal(t, 3, fresh.TotalCalls())
}

func TestSetDefault(t *testing.T) {
	original := Default()
	defer SetDefault(original)

	custom := New()
	SetDefault(custom)
	assert.Same(t, custom, Default())

	SetDefault(nil)
	assert.NotNil(t, Default())
	assert.NotSame(t, custom, Default())
}
