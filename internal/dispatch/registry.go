package dispatch

import (
	"sync"
)

// Outcome is the terminal result of one job.
type Outcome struct {
	TaskID  string
	Success bool
	Err     error
}

// CompletionFunc is invoked once when a registered job finishes.
type CompletionFunc func(Outcome)

// Registry maps job identifiers to their completion callbacks. Entries are
// created on dispatch and removed right after their single invocation.
type Registry struct {
	mu      sync.Mutex
	pending map[string]*Pending
}

// Pending is one registered completion.
type Pending struct {
	taskID string
	fn     CompletionFunc
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{pending: make(map[string]*Pending)}
}

// Register stores fn under taskID. It reports whether a pending entry with
// the same identifier was displaced; the displaced job still receives its
// own completion.
func (r *Registry) Register(taskID string, fn CompletionFunc) (p *Pending, replaced bool) {
	p = &Pending{taskID: taskID, fn: fn}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, replaced = r.pending[taskID]
	r.pending[taskID] = p
	return p, replaced
}

// Complete removes p from the registry if it is still the entry for its
// identifier, then invokes its callback.
func (r *Registry) Complete(p *Pending, o Outcome) {
	r.mu.Lock()
	if r.pending[p.taskID] == p {
		delete(r.pending, p.taskID)
	}
	r.mu.Unlock()

	if p.fn != nil {
		p.fn(o)
	}
}

// Len returns the number of pending entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// BusyState is broadcast after every terminal outcome.
type BusyState struct {
	Busy    bool `json:"busy"`
	Running int  `json:"running"`
}

// Tracker counts jobs between dispatch and terminal outcome.
type Tracker struct {
	mu      sync.Mutex
	running int
}

// Begin counts a job in.
func (t *Tracker) Begin() {
	t.mu.Lock()
	t.running++
	t.mu.Unlock()
}

// Done counts a job out.
func (t *Tracker) Done() {
	t.mu.Lock()
	if t.running > 0 {
		t.running--
	}
	t.mu.Unlock()
}

// State returns the busy snapshot.
func (t *Tracker) State() BusyState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return BusyState{Busy: t.running > 0, Running: t.running}
}
