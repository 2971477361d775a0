package engine

import "sync"

// State is where one visit's sync currently stands.
type State string

const (
	StateIdle      State = "idle"
	StateResolving State = "resolving"
	StateExporting State = "exporting"
	StateImporting State = "importing"
	StateFailed    State = "failed"
)

// stateTracker records the state of every visit the engine has seen.
type stateTracker struct {
	mu     sync.Mutex
	states map[string]State
}

func newStateTracker() *stateTracker {
	return &stateTracker{states: make(map[string]State)}
}

// set records s and returns the state it replaced.
func (t *stateTracker) set(key string, s State) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev, ok := t.states[key]
	if !ok {
		prev = StateIdle
	}
	t.states[key] = s
	return prev
}

func (t *stateTracker) get(key string) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.states[key]; ok {
		return s
	}
	return StateIdle
}

func (t *stateTracker) snapshot() map[string]State {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]State, len(t.states))
	for k, v := range t.states {
		out[k] = v
	}
	return out
}
