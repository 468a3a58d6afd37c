// Package reachability carries the network reachability signal the provider
// uses to decide whether a failed load is worth retrying.
package reachability

import (
	"sync"
)

// State is the observed network reachability.
type State int

const (
	Unreachable State = iota
	Reachable
)

func (s State) String() string {
	if s == Reachable {
		return "reachable"
	}
	return "unreachable"
}

// ParseState maps "reachable" and "unreachable" to a State.
func ParseState(s string) (State, bool) {
	switch s {
	case "reachable":
		return Reachable, true
	case "unreachable":
		return Unreachable, true
	default:
		return Unreachable, false
	}
}

// Signal is an observable reachability state.
type Signal interface {
	Current() State
	// Subscribe registers fn for every subsequent state change. The returned
	// function unsubscribes and is safe to call more than once.
	Subscribe(fn func(State)) (cancel func())
}

// Value is an in-process Signal whose state is set explicitly.
type Value struct {
	mu          sync.Mutex
	state       State
	nextID      uint64
	subscribers map[uint64]func(State)
}

// NewValue creates a Value starting in initial.
func NewValue(initial State) *Value {
	return &Value{
		state:       initial,
		subscribers: make(map[uint64]func(State)),
	}
}

// Current implements Signal.
func (v *Value) Current() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Subscribe implements Signal.
func (v *Value) Subscribe(fn func(State)) func() {
	v.mu.Lock()
	id := v.nextID
	v.nextID++
	v.subscribers[id] = fn
	v.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			v.mu.Lock()
			delete(v.subscribers, id)
			v.mu.Unlock()
		})
	}
}

// Set changes the state. Subscribers are called outside the lock, and only
// when the state actually changed.
func (v *Value) Set(s State) {
	v.mu.Lock()
	if v.state == s {
		v.mu.Unlock()
		return
	}
	v.state = s
	fns := make([]func(State), 0, len(v.subscribers))
	for _, fn := range v.subscribers {
		fns = append(fns, fn)
	}
	v.mu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}

// Subscribers reports how many subscriptions are live.
func (v *Value) Subscribers() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.subscribers)
}
