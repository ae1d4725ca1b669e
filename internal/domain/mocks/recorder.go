// Package mocks provides mock implementations for testing.
package mocks

import "sync"

// Call is one recorded engine call.
type Call struct {
	Kind  string
	Model string
}

// Recorder tracks engine calls across mocks so tests can assert ordering and
// that no two calls were ever in flight together.
type Recorder struct {
	mu        sync.Mutex
	calls     []Call
	active    int
	maxActive int
}

// Begin marks the start of a call and returns a func that marks its end.
func (r *Recorder) Begin(kind, model string) func() {
	if r == nil {
		return func() {}
	}
	r.mu.Lock()
	r.calls = append(r.calls, Call{Kind: kind, Model: model})
	r.active++
	if r.active > r.maxActive {
		r.maxActive = r.active
	}
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		r.active--
		r.mu.Unlock()
	}
}

// Calls returns a copy of the recorded calls in start order.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Kinds returns the kinds of the recorded calls in start order.
func (r *Recorder) Kinds() []string {
	calls := r.Calls()
	kinds := make([]string, len(calls))
	for i, c := range calls {
		kinds[i] = c.Kind
	}
	return kinds
}

// MaxActive returns the largest number of calls observed in flight at once.
func (r *Recorder) MaxActive() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxActive
}
