package trace

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tobyv/tokentrail/internal/ledger"
	"github.com/tobyv/tokentrail/internal/model"
)

func record(att Attribution, cost float64) {
	att.Ledger.Record(model.UsageEvent{
		Timestamp:    time.Now(),
		FunctionName: att.FunctionName,
		CallStack:    att.CallStack,
		Model:        "gpt-4o",
		Provider:     model.ProviderOpenAI,
		InputTokens:  100,
		OutputTokens: 50,
		CostUSD:      cost,
	})
}

func TestCurrentWithNoScope(t *testing.T) {
	att := Current(context.Background())
	assert.Equal(t, Unknown, att.FunctionName)
	assert.Empty(t, att.CallStack)
	assert.Same(t, ledger.Default(), att.Ledger)
}

func TestNestedScopes(t *testing.T) {
	ctx := WithScope(context.Background(), "outer")
	ctx = WithScope(ctx, "inner")

	att := Current(ctx)
	assert.Equal(t, "inner", att.FunctionName)
	assert.Equal(t, []string{"outer", "inner"}, att.CallStack)
}

func TestScopeRestoresAttributionAfterPanic(t *testing.T) {
	defer resetHooks()

	ctx, release := Enter(context.Background(), "A")
	defer release()

	func() {
		defer func() {
			r := recover()
			require.NotNil(t, r)
		}()
		err := Scope(ctx, "B", func(inner context.Context) error {
			assert.Equal(t, []string{"A", "B"}, Current(inner).CallStack)
			panic("boom")
		})
		_ = err
	}()

	// After the panic propagates out of B, attribution at ctx must
	// read back exactly the pre-B state.
	att := Current(ctx)
	assert.Equal(t, "A", att.FunctionName)
	assert.Equal(t, []string{"A"}, att.CallStack)
}

func TestScopeReturnsFnError(t *testing.T) {
	defer resetHooks()

	err := Scope(context.Background(), "fn", func(ctx context.Context) error {
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
	assert.False(t, IsActive())
}

func TestWithLedgerRouting(t *testing.T) {
	before := ledger.Default().TotalCalls()

	bound := ledger.New()
	ctx := WithLedger(context.Background(), bound)
	ctx = WithScope(ctx, "fn")

	record(Current(ctx), 0.01)

	assert.Equal(t, 1, bound.TotalCalls())
	assert.Equal(t, before, ledger.Default().TotalCalls())
}

func TestNestedScopeInheritsSessionLedger(t *testing.T) {
	defer resetHooks()

	ctx, session := StartSession(context.Background(), "my_session")
	defer session.End()

	err := Scope(ctx, "worker", func(inner context.Context) error {
		att := Current(inner)
		assert.Equal(t, []string{"my_session", "worker"}, att.CallStack)
		record(att, 0.02)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, 1, session.Calls())
	assert.InDelta(t, 0.02, session.Cost(), 1e-9)
}

func TestConcurrentScopesDoNotInterfere(t *testing.T) {
	defer resetHooks()

	la := ledger.New()
	lb := ledger.New()

	var wg sync.WaitGroup
	run := func(l *ledger.Ledger, name string, n int) {
		defer wg.Done()
		ctx := WithLedger(context.Background(), l)
		_ = Scope(ctx, name, func(inner context.Context) error {
			for i := 0; i < n; i++ {
				record(Current(inner), 0.001)
			}
			return nil
		})
	}

	wg.Add(2)
	go run(la, "worker_a", 200)
	go run(lb, "worker_b", 300)
	wg.Wait()

	assert.Equal(t, 200, la.TotalCalls())
	assert.Equal(t, 300, lb.TotalCalls())
	for _, e := range la.Records() {
		assert.Equal(t, "worker_a", e.FunctionName)
	}
	for _, e := range lb.Records() {
		assert.Equal(t, "worker_b", e.FunctionName)
	}
}

func TestConcurrentSessionsStayIsolated(t *testing.T) {
	defer resetHooks()

	before := ledger.Default().TotalCalls()

	var wg sync.WaitGroup
	sessions := make([]*Session, 2)

	wg.Add(2)
	for i := 0; i < 2; i++ {
		go func(idx int) {
			defer wg.Done()
			ctx, s := StartSession(context.Background(), "session")
			sessions[idx] = s
			defer s.End()
			for j := 0; j < 100; j++ {
				record(Current(ctx), 0.001)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 100, sessions[0].Calls())
	assert.Equal(t, 100, sessions[1].Calls())
	assert.Equal(t, before, ledger.Default().TotalCalls())
}

func TestChildGoroutineInheritsAttribution(t *testing.T) {
	defer resetHooks()

	bound := ledger.New()
	ctx := WithLedger(context.Background(), bound)
	ctx = WithScope(ctx, "parent")

	done := make(chan struct{})
	go func(ctx context.Context) {
		defer close(done)
		att := Current(ctx)
		assert.Equal(t, "parent", att.FunctionName)
		record(att, 0.01)
	}(ctx)
	<-done

	assert.Equal(t, 1, bound.TotalCalls())
}

type countingHook struct {
	mu        sync.Mutex
	installed int
	removed   int
}

func (h *countingHook) Install() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.installed++
}

func (h *countingHook) Remove() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removed++
}

func TestActivationIsReferenceCounted(t *testing.T) {
	defer resetHooks()

	h := &countingHook{}
	RegisterHook(h)

	Activate()
	Activate()
	assert.Equal(t, 1, h.installed, "overlapping activations install once")

	Deactivate()
	assert.Equal(t, 0, h.removed, "hooks stay installed while a scope remains")
	assert.True(t, IsActive())

	Deactivate()
	assert.Equal(t, 1, h.removed)
	assert.False(t, IsActive())

	// Extra deactivations must not underflow.
	Deactivate()
	Activate()
	assert.True(t, IsActive())
	assert.Equal(t, 2, h.installed)
}

func TestRegisterHookWhileActive(t *testing.T) {
	defer resetHooks()

	Activate()
	defer Deactivate()

	h := &countingHook{}
	RegisterHook(h)
	assert.Equal(t, 1, h.installed)
}

func TestSessionEndIsIdempotent(t *testing.T) {
	defer resetHooks()

	_, s := StartSession(context.Background(), "once")
	assert.True(t, IsActive())

	s.End()
	s.End()
	s.End()
	assert.False(t, IsActive())
}

func TestSessionAccessors(t *testing.T) {
	defer resetHooks()

	ctx, s := StartSession(context.Background(), "")
	defer s.End()

	assert.Equal(t, "session", s.Name)
	assert.Equal(t, 0.0, s.Cost())

	att := Current(ctx)
	att.Ledger.Record(model.UsageEvent{
		FunctionName: att.FunctionName,
		CallStack:    att.CallStack,
		Model:        "gpt-4o",
		InputTokens:  1000,
		OutputTokens: 200,
		CostUSD:      0.007,
	})

	assert.InDelta(t, 0.007, s.Cost(), 1e-9)
	assert.Equal(t, "$0.0070", s.CostString())
	assert.Equal(t, int64(1200), s.Tokens())
	assert.Equal(t, 1, s.Calls())
	assert.Len(t, s.Summary().Events, 1)

	s.End()
	// Records remain readable after End.
	assert.Equal(t, 1, s.Calls())
}

func TestSessionFreezesTotalsAtEnd(t *testing.T) {
	defer resetHooks()

	ctx, s := StartSession(context.Background(), "frozen")

	att := Current(ctx)
	att.Ledger.Record(model.UsageEvent{
		FunctionName: att.FunctionName,
		Model:        "gpt-4o",
		InputTokens:  1000,
		OutputTokens: 200,
		CostUSD:      0.007,
	})
	s.End()

	// A caller still holding the session context can keep recording,
	// but the finished session's numbers no longer move.
	att.Ledger.Record(model.UsageEvent{
		FunctionName: att.FunctionName,
		Model:        "gpt-4o",
		InputTokens:  5000,
		OutputTokens: 500,
		CostUSD:      0.02,
	})

	assert.Equal(t, 1, s.Calls())
	assert.InDelta(t, 0.007, s.Cost(), 1e-9)
	assert.Equal(t, int64(1200), s.Tokens())
	assert.Len(t, s.Records(), 1)
	assert.Len(t, s.Summary().Events, 1)

	// The underlying ledger itself still carries both events.
	assert.Equal(t, 2, s.Ledger().TotalCalls())
}
