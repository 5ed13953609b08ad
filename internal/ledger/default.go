package ledger

import "sync"

var (
	defaultMu     sync.RWMutex
	defaultLedger = New()
)

// Default returns the process-wide ledger that receives events when no
// session has bound its own.
func Default() *Ledger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLedger
}

// SetDefault replaces the process-wide ledger, typically to attach a
// durable store at startup. A nil argument resets to a fresh empty
// ledger.
func SetDefault(l *Ledger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if l == nil {
		l = New()
	}
	defaultLedger = l
}
