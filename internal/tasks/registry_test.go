package tasks

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskhub/internal/clock"
)

func newTestRegistry(t *testing.T) (*Registry, *clock.Fake) {
	t.Helper()
	fc := clock.NewFake(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	return NewRegistry(WithClock(fc)), fc
}

func TestStartCreatesPendingRecord(t *testing.T) {
	r, _ := newTestRegistry(t)

	r.Start("t1", &Meta{Label: "Create notebook", Type: "notebook"})

	snap := r.Snapshot()
	require.Len(t, snap.Tasks, 1)
	task := snap.Tasks[0]
	assert.Equal(t, "t1", task.ID)
	assert.Equal(t, StatusPending, task.Status)
	assert.Equal(t, task.CreatedAt, task.UpdatedAt)
	assert.Equal(t, "Create notebook", task.Meta.Label)
	assert.Equal(t, 1, snap.Total)
	assert.Equal(t, 1, snap.Pending)
}

func TestStartPrependsNewTasks(t *testing.T) {
	r, _ := newTestRegistry(t)

	r.Start("a", nil)
	r.Start("b", nil)
	r.Start("c", nil)

	snap := r.Snapshot()
	ids := make([]string, 0, len(snap.Tasks))
	for _, task := range snap.Tasks {
		ids = append(ids, task.ID)
	}
	assert.Equal(t, []string{"c", "b", "a"}, ids)
}

func TestStartExistingIDResetsInPlace(t *testing.T) {
	r, fc := newTestRegistry(t)

	r.Start("a", &Meta{Label: "first", Type: "upload"})
	r.Start("b", nil)
	r.Fail("a", "boom")
	fc.Advance(time.Minute)

	r.Start("a", &Meta{Label: "retried"})

	snap := r.Snapshot()
	require.Len(t, snap.Tasks, 2)
	task := snap.Tasks[1]
	assert.Equal(t, "a", task.ID)
	assert.Equal(t, StatusPending, task.Status)
	assert.Empty(t, task.ErrorMessage)
	assert.Equal(t, "retried", task.Meta.Label)
	assert.Equal(t, "upload", task.Meta.Type)
	assert.True(t, task.UpdatedAt.After(task.CreatedAt))
}

func TestSucceedSetsMessageAndClearsError(t *testing.T) {
	r, fc := newTestRegistry(t)
	r.Start("t1", nil)
	fc.Advance(time.Second)

	r.Succeed("t1", "X")

	task, ok := r.Get("t1")
	require.True(t, ok)
	assert.Equal(t, StatusSuccess, task.Status)
	assert.Equal(t, "X", task.Message)
	assert.Empty(t, task.ErrorMessage)
	assert.False(t, task.UpdatedAt.Before(task.CreatedAt))
	assert.Equal(t, 0, r.Snapshot().Pending)
}

func TestFailSetsErrorMessage(t *testing.T) {
	r, _ := newTestRegistry(t)
	r.Start("t1", nil)

	r.Fail("t1", "Y")

	task, ok := r.Get("t1")
	require.True(t, ok)
	assert.Equal(t, StatusFailure, task.Status)
	assert.Equal(t, "Y", task.ErrorMessage)
}

func TestTerminalStateIsFinal(t *testing.T) {
	r, _ := newTestRegistry(t)
	r.Start("t1", nil)
	r.Succeed("t1", "done")

	r.Fail("t1", "late failure")
	r.Succeed("t1", "second success")

	task, _ := r.Get("t1")
	assert.Equal(t, StatusSuccess, task.Status)
	assert.Equal(t, "done", task.Message)
	assert.Empty(t, task.ErrorMessage)
}

func TestUnknownIDIsNoOp(t *testing.T) {
	r, _ := newTestRegistry(t)
	r.Start("known", nil)

	calls := 0
	unsubscribe := r.Subscribe(func(Snapshot) { calls++ })
	defer unsubscribe()

	assert.NotPanics(t, func() {
		r.Succeed("missing", "x")
		r.Fail("missing", "y")
	})
	assert.Equal(t, 1, r.Snapshot().Total)
	assert.Equal(t, 1, calls, "no-op mutations must not notify")
}

func TestClearCompletedKeepsPending(t *testing.T) {
	r, _ := newTestRegistry(t)
	for i := 0; i < 6; i++ {
		r.Start(fmt.Sprintf("t%d", i), nil)
	}
	r.Succeed("t0", "")
	r.Fail("t1", "")
	r.Succeed("t3", "")
	r.Fail("t5", "")

	removed := r.ClearCompleted()

	assert.Equal(t, 4, removed)
	snap := r.Snapshot()
	require.Len(t, snap.Tasks, 2)
	for _, task := range snap.Tasks {
		assert.Equal(t, StatusPending, task.Status)
	}
	assert.ElementsMatch(t, []string{"t2", "t4"}, r.PendingIDs())
}

func TestSubscribeReplaysCurrentStateAndFollowsMutations(t *testing.T) {
	r, _ := newTestRegistry(t)
	r.Start("t1", nil)

	var seen []Snapshot
	unsubscribe := r.Subscribe(func(s Snapshot) { seen = append(seen, s) })

	r.Succeed("t1", "ok")
	r.ClearCompleted()
	unsubscribe()
	r.Start("t2", nil)

	require.Len(t, seen, 3)
	assert.Equal(t, StatusPending, seen[0].Tasks[0].Status)
	assert.Equal(t, StatusSuccess, seen[1].Tasks[0].Status)
	assert.Equal(t, 0, seen[2].Total)
}

func TestSubscribersNotifiedInRegistrationOrder(t *testing.T) {
	r, _ := newTestRegistry(t)

	var order []string
	unA := r.Subscribe(func(Snapshot) { order = append(order, "a") })
	unB := r.Subscribe(func(Snapshot) { order = append(order, "b") })
	unC := r.Subscribe(func(Snapshot) { order = append(order, "c") })
	order = nil

	unB()
	unB()
	r.Start("t1", nil)

	assert.Equal(t, []string{"a", "c"}, order)
	unA()
	unC()
}

func TestListenerMayReadAndUnsubscribe(t *testing.T) {
	r, _ := newTestRegistry(t)

	var calls int
	var seen Task
	var unsubscribe func()
	unsubscribe = r.Subscribe(func(s Snapshot) {
		calls++
		if s.Total == 0 {
			return
		}
		seen, _ = r.Get("a")
		assert.Equal(t, s.Total, r.Snapshot().Total)
		unsubscribe()
	})

	r.Start("a", &Meta{Label: "First"})
	r.Succeed("a", "done")

	assert.Equal(t, 2, calls)
	assert.Equal(t, StatusPending, seen.Status)
}

func TestSnapshotsAreCopies(t *testing.T) {
	r, _ := newTestRegistry(t)
	r.Start("t1", &Meta{Label: "original"})

	var delivered Snapshot
	unsubscribe := r.Subscribe(func(s Snapshot) { delivered = s })
	defer unsubscribe()

	delivered.Tasks[0].Meta.Label = "tampered"
	snap := r.Snapshot()
	snap.Tasks[0].Status = StatusFailure

	task, _ := r.Get("t1")
	assert.Equal(t, "original", task.Meta.Label)
	assert.Equal(t, StatusPending, task.Status)
}

func TestConcurrentMutationsAreSerialized(t *testing.T) {
	r := NewRegistry()

	var mu sync.Mutex
	var totals []int
	unsubscribe := r.Subscribe(func(s Snapshot) {
		mu.Lock()
		totals = append(totals, s.Total)
		mu.Unlock()
	})
	defer unsubscribe()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("job-%d", i)
			r.Start(id, nil)
			r.Succeed(id, "done")
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 50, r.Snapshot().Total)
	assert.Equal(t, 0, r.Snapshot().Pending)

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(totals); i++ {
		assert.GreaterOrEqual(t, totals[i], totals[i-1], "totals must never go backwards")
	}
}
