package service

import (
	"sync"
)

// stampedeTracker counts misses in progress per daily key. More than one at a
// time means concurrent requests found the day's blob absent together.
type stampedeTracker struct {
	mu     sync.Mutex
	active map[string]int
}

func newStampedeTracker() *stampedeTracker {
	return &stampedeTracker{
		active: make(map[string]int),
	}
}

// Begin records a miss for key and returns the number now in progress.
// Pair every Begin with End.
func (st *stampedeTracker) Begin(key string) int {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.active[key]++
	return st.active[key]
}

// End records that a miss for key has resolved.
func (st *stampedeTracker) End(key string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	n, ok := st.active[key]
	if !ok {
		return
	}
	if n <= 1 {
		delete(st.active, key)
		return
	}
	st.active[key] = n - 1
}

// InProgress returns the number of unresolved misses for key.
func (st *stampedeTracker) InProgress(key string) int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.active[key]
}
