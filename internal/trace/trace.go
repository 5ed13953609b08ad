// Package trace resolves, for any point in executing code, which
// logical function is responsible for an LLM call and which ledger
// should receive the resulting event.
//
// Attribution travels in a context.Context: entering a profiled scope
// derives a new context with the scope pushed, so concurrent goroutines
// each see their own stack and a panic inside a scope can never leave
// stale attribution behind in the caller's context. Child goroutines
// inherit attribution by being handed the derived context.
package trace

import (
	"context"

	"github.com/tobyv/tokentrail/internal/ledger"
)

// Unknown is the sentinel function name used when no scope is active.
const Unknown = "<unknown>"

type scopeKeyType struct{}
type ledgerKeyType struct{}

var (
	scopeKey  scopeKeyType
	ledgerKey ledgerKeyType
)

// scope is one frame of the attribution stack. Frames are immutable
// and linked outward, so a derived context shares its parent's frames.
type scope struct {
	name   string
	parent *scope
}

// Attribution describes who is responsible for an in-flight provider
// call and where its usage event belongs.
type Attribution struct {
	FunctionName string
	CallStack    []string
	Ledger       *ledger.Ledger
}

// WithScope returns a context with name pushed onto the attribution
// stack. The receiver context is unchanged.
func WithScope(ctx context.Context, name string) context.Context {
	parent, _ := ctx.Value(scopeKey).(*scope)
	return context.WithValue(ctx, scopeKey, &scope{name: name, parent: parent})
}

// WithLedger returns a context whose scopes route events to l instead
// of the process-wide default ledger.
func WithLedger(ctx context.Context, l *ledger.Ledger) context.Context {
	return context.WithValue(ctx, ledgerKey, l)
}

// Current resolves the attribution at ctx. With no active scope the
// function name is Unknown and the call stack is empty; with no bound
// ledger the default ledger is used.
func Current(ctx context.Context) Attribution {
	att := Attribution{FunctionName: Unknown}

	if s, ok := ctx.Value(scopeKey).(*scope); ok && s != nil {
		att.FunctionName = s.name
		for f := s; f != nil; f = f.parent {
			att.CallStack = append(att.CallStack, f.name)
		}
		// Stack is collected inner->outer; callers expect outer->inner.
		for i, j := 0, len(att.CallStack)-1; i < j; i, j = i+1, j-1 {
			att.CallStack[i], att.CallStack[j] = att.CallStack[j], att.CallStack[i]
		}
	}

	if l, ok := ctx.Value(ledgerKey).(*ledger.Ledger); ok && l != nil {
		att.Ledger = l
	} else {
		att.Ledger = ledger.Default()
	}
	return att
}

// Enter pushes a profiled scope and activates interception, returning
// the derived context and a release function. The release must be
// called when the scope exits; deferring it makes the pair panic-safe.
// Releasing twice is harmless.
func Enter(ctx context.Context, name string) (context.Context, func()) {
	Activate()
	var released bool
	release := func() {
		if released {
			return
		}
		released = true
		Deactivate()
	}
	return WithScope(ctx, name), release
}

// Scope runs fn inside a profiled scope named name. Interception stays
// active for the duration and is released even when fn panics or
// returns an error. The caller's context is never mutated, so after
// Scope returns the previous attribution is exactly what it was.
func Scope(ctx context.Context, name string, fn func(context.Context) error) error {
	scoped, release := Enter(ctx, name)
	defer release()
	return fn(scoped)
}
