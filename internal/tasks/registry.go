// Package tasks holds the in-memory registry of background work: which
// tasks exist, how they ended, and who wants to hear about changes.
package tasks

import (
	"sync"

	"taskhub/internal/clock"
)

// Listener receives a fresh Snapshot after every mutation.
type Listener func(Snapshot)

type subscription struct {
	id uint64
	fn Listener
}

// Registry is the single source of truth for tracked tasks. It is safe for
// concurrent use. Construct one per process with NewRegistry and pass it to
// consumers.
//
// Listeners run synchronously on the mutating goroutine, in subscription
// order, and must not call Start, Succeed, Fail, ClearCompleted or
// Subscribe. Reads and unsubscribing are fine.
type Registry struct {
	// dispatch serializes mutate+notify so every listener observes
	// mutations in the order they were applied.
	dispatch sync.Mutex

	mu     sync.RWMutex
	tasks  []Task
	subs   []subscription
	nextID uint64

	clock clock.Clock
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock sets the time source used for CreatedAt/UpdatedAt.
func WithClock(c clock.Clock) Option {
	return func(r *Registry) {
		if c != nil {
			r.clock = c
		}
	}
}

// NewRegistry returns an empty Registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{clock: clock.Real()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start registers id as pending. New tasks are prepended. If id is already
// known the record is reset to pending in place and the non-empty fields of
// meta are merged into it.
func (r *Registry) Start(id string, meta *Meta) {
	r.mutate(func(now func() Task) bool {
		if i := r.indexLocked(id); i >= 0 {
			t := &r.tasks[i]
			t.Status = StatusPending
			t.Message = ""
			t.ErrorMessage = ""
			t.UpdatedAt = r.clock.Now()
			if t.UpdatedAt.Before(t.CreatedAt) {
				t.UpdatedAt = t.CreatedAt
			}
			if meta != nil {
				t.Meta = t.Meta.merge(*meta)
			}
			return true
		}

		t := now()
		t.ID = id
		t.Status = StatusPending
		if meta != nil {
			t.Meta = *meta
		}
		r.tasks = append([]Task{t}, r.tasks...)
		return true
	})
}

// Succeed marks a pending task as successful. Unknown ids and tasks that
// already reached a terminal state are ignored.
func (r *Registry) Succeed(id, message string) {
	r.finish(id, StatusSuccess, message)
}

// Fail marks a pending task as failed. Unknown ids and tasks that already
// reached a terminal state are ignored.
func (r *Registry) Fail(id, errorMessage string) {
	r.finish(id, StatusFailure, errorMessage)
}

func (r *Registry) finish(id string, status Status, text string) {
	r.mutate(func(func() Task) bool {
		i := r.indexLocked(id)
		if i < 0 {
			// The task was cleared before its response arrived.
			return false
		}
		t := &r.tasks[i]
		if t.Status.Terminal() {
			return false
		}
		t.Status = status
		if status == StatusSuccess {
			t.Message = text
			t.ErrorMessage = ""
		} else {
			t.ErrorMessage = text
		}
		now := r.clock.Now()
		if now.Before(t.CreatedAt) {
			now = t.CreatedAt
		}
		t.UpdatedAt = now
		return true
	})
}

// ClearCompleted removes every task that is not pending and returns how many
// were removed.
func (r *Registry) ClearCompleted() int {
	removed := 0
	r.mutate(func(func() Task) bool {
		kept := r.tasks[:0:0]
		for _, t := range r.tasks {
			if t.Status == StatusPending {
				kept = append(kept, t)
				continue
			}
			removed++
		}
		r.tasks = kept
		return true
	})
	return removed
}

// Subscribe registers fn. It is invoked immediately with the current
// snapshot and again after every mutation until the returned function is
// called. Unsubscribing more than once is harmless. Subscribe must not be
// called from inside a listener; the initial replay holds the same lock as
// notification.
func (r *Registry) Subscribe(fn Listener) (unsubscribe func()) {
	r.dispatch.Lock()
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.subs = append(r.subs, subscription{id: id, fn: fn})
	snap := newSnapshot(r.tasks)
	r.mu.Unlock()

	fn(snap)
	r.dispatch.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			for i, s := range r.subs {
				if s.id == id {
					r.subs = append(r.subs[:i:i], r.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Snapshot returns a copy of the current state.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return newSnapshot(r.tasks)
}

// Get returns a copy of the task with the given id.
func (r *Registry) Get(id string) (Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i := r.indexLocked(id); i >= 0 {
		return r.tasks[i], true
	}
	return Task{}, false
}

// PendingIDs lists the ids of pending tasks, most recent first.
func (r *Registry) PendingIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for _, t := range r.tasks {
		if t.Status == StatusPending {
			ids = append(ids, t.ID)
		}
	}
	return ids
}

// mutate applies fn under the write lock and, if fn reports a change,
// delivers the resulting snapshot to every subscriber in order.
func (r *Registry) mutate(fn func(newTask func() Task) bool) {
	r.dispatch.Lock()
	defer r.dispatch.Unlock()

	r.mu.Lock()
	newTask := func() Task {
		now := r.clock.Now()
		return Task{CreatedAt: now, UpdatedAt: now}
	}
	if !fn(newTask) {
		r.mu.Unlock()
		return
	}
	snap := newSnapshot(r.tasks)
	subs := make([]subscription, len(r.subs))
	copy(subs, r.subs)
	r.mu.Unlock()

	for _, s := range subs {
		s.fn(cloneSnapshot(snap))
	}
}

func (r *Registry) indexLocked(id string) int {
	for i := range r.tasks {
		if r.tasks[i].ID == id {
			return i
		}
	}
	return -1
}

// cloneSnapshot gives each listener its own backing array.
func cloneSnapshot(s Snapshot) Snapshot {
	out := s
	out.Tasks = make([]Task, len(s.Tasks))
	copy(out.Tasks, s.Tasks)
	return out
}
