package trace

import "sync"

// Hook is a provider interception point that needs installing while at
// least one profiled scope or session is active.
type Hook interface {
	Install()
	Remove()
}

var (
	hooksMu sync.Mutex
	hooks   []Hook
	active  int
)

// RegisterHook adds a hook to the registry. If interception is already
// active the hook is installed immediately.
func RegisterHook(h Hook) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	hooks = append(hooks, h)
	if active > 0 {
		h.Install()
	}
}

// Activate increments the interception reference count, installing all
// registered hooks on the transition from zero. Overlapping activations
// are idempotent with respect to installation.
func Activate() {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	active++
	if active == 1 {
		for _, h := range hooks {
			h.Install()
		}
	}
}

// Deactivate decrements the reference count; hooks are removed only
// when no active scope remains, so ending one scope never breaks a
// concurrent one. Extra deactivations are ignored.
func Deactivate() {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if active == 0 {
		return
	}
	active--
	if active == 0 {
		for _, h := range hooks {
			h.Remove()
		}
	}
}

// IsActive reports whether any profiled scope or session is active.
func IsActive() bool {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	return active > 0
}

// resetHooks clears all registry state. Test helper.
func resetHooks() {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	hooks = nil
	active = 0
}
