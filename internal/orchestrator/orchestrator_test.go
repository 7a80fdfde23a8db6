package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"taskhub/internal/clock"
	"taskhub/internal/tasks"
)

// scriptedStatus replays a fixed sequence of responses; the last entry
// repeats once the script is exhausted.
type scriptedStatus struct {
	mu        sync.Mutex
	responses []scriptedReply
	calls     int
	ids       []string
}

type scriptedReply struct {
	status *StatusResponse
	err    error
}

func (s *scriptedStatus) GetStatus(_ context.Context, jobID string) (*StatusResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append(s.ids, jobID)
	i := s.calls
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	s.calls++
	r := s.responses[i]
	return r.status, r.err
}

func (s *scriptedStatus) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func pending() scriptedReply {
	return scriptedReply{status: &StatusResponse{Status: tasks.StatusPending}}
}

func succeeded(message, result string) scriptedReply {
	return scriptedReply{status: &StatusResponse{Status: tasks.StatusSuccess, Message: message, Result: json.RawMessage(result)}}
}

func submitting(id string) SubmitFunc {
	return func(context.Context) (string, error) { return id, nil }
}

type harness struct {
	registry *tasks.Registry
	clock    *clock.Fake
	status   *scriptedStatus
	orch     *Orchestrator
}

func newHarness(t *testing.T, replies ...scriptedReply) *harness {
	t.Helper()
	fc := clock.NewFake(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))
	reg := tasks.NewRegistry(tasks.WithClock(fc))
	st := &scriptedStatus{responses: replies}
	o := New(reg, st,
		WithClock(fc),
		WithTracerProvider(noop.NewTracerProvider()),
		WithDefaults(PollOptions{Interval: 500 * time.Millisecond, MaxAttempts: 10}),
	)
	return &harness{registry: reg, clock: fc, status: st, orch: o}
}

func TestRunPendingThenSuccess(t *testing.T) {
	h := newHarness(t, pending(), pending(), pending(), succeeded("Notebook ready", `{"id":"nb-1"}`))

	var statuses []tasks.Status
	unsubscribe := h.registry.Subscribe(func(s tasks.Snapshot) {
		if len(s.Tasks) > 0 {
			statuses = append(statuses, s.Tasks[0].Status)
		}
	})
	defer unsubscribe()

	out, err := h.orch.Run(context.Background(), submitting("job-1"), tasks.Meta{Label: "Create notebook", Type: "notebook"})
	require.NoError(t, err)

	succ, ok := out.(Succeeded)
	require.True(t, ok, "expected Succeeded, got %T", out)
	assert.Equal(t, "job-1", succ.JobID())
	assert.JSONEq(t, `{"id":"nb-1"}`, string(succ.Status.Result))
	assert.Equal(t, 4, h.status.Calls())

	task, ok := h.registry.Get("job-1")
	require.True(t, ok)
	assert.Equal(t, tasks.StatusSuccess, task.Status)
	assert.Equal(t, "Notebook ready", task.Message)
	assert.Equal(t, []tasks.Status{tasks.StatusPending, tasks.StatusSuccess}, statuses)
}

func TestRunWaitsIntervalBeforeEachStatusCheck(t *testing.T) {
	h := newHarness(t, pending(), succeeded("", `{}`))

	_, err := h.orch.Run(context.Background(), submitting("job-1"), tasks.Meta{}, WithInterval(3*time.Second))
	require.NoError(t, err)

	assert.Equal(t, []time.Duration{3 * time.Second, 3 * time.Second}, h.clock.Sleeps())
}

func TestRunTimeoutLeavesTaskPending(t *testing.T) {
	h := newHarness(t, pending())

	out, err := h.orch.Run(context.Background(), submitting("slow"), tasks.Meta{Type: "artifact"}, WithMaxAttempts(3))
	require.NoError(t, err)

	timedOut, ok := out.(TimedOut)
	require.True(t, ok, "expected TimedOut, got %T", out)
	assert.Equal(t, 3, timedOut.Attempts)
	assert.Equal(t, 3, h.status.Calls())

	task, _ := h.registry.Get("slow")
	assert.Equal(t, tasks.StatusPending, task.Status)

	err = out.Err()
	assert.ErrorIs(t, err, ErrStillPending)
	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "slow", te.JobID)
}

func TestRunFailureRecordsMessage(t *testing.T) {
	h := newHarness(t, pending(), scriptedReply{status: &StatusResponse{Status: tasks.StatusFailure, Message: "upload rejected"}})

	_, err := h.orch.Await(context.Background(), submitting("up-1"), tasks.Meta{Type: "upload"})

	var fe *FailureError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "upload rejected", fe.Message)
	assert.Equal(t, "upload rejected", err.Error())

	task, _ := h.registry.Get("up-1")
	assert.Equal(t, tasks.StatusFailure, task.Status)
	assert.Equal(t, "upload rejected", task.ErrorMessage)
}

func TestRunWithoutJobIDIsContractError(t *testing.T) {
	h := newHarness(t, pending())

	out, err := h.orch.Run(context.Background(), submitting(""), tasks.Meta{})

	assert.Nil(t, out)
	assert.ErrorIs(t, err, ErrNoJobID)
	assert.Equal(t, 0, h.status.Calls())
	assert.Equal(t, 0, h.registry.Snapshot().Total)
}

func TestRunSubmitErrorIsReturned(t *testing.T) {
	h := newHarness(t, pending())
	boom := errors.New("backend unavailable")

	_, err := h.orch.Run(context.Background(), func(context.Context) (string, error) { return "", boom }, tasks.Meta{Type: "notebook"})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, h.registry.Snapshot().Total)
}

func TestRunStatusErrorOnEarlyAttemptIsTolerated(t *testing.T) {
	h := newHarness(t,
		scriptedReply{err: errors.New("connection reset")},
		pending(),
		succeeded("", `{"ok":true}`),
	)

	out, err := h.orch.Run(context.Background(), submitting("job-2"), tasks.Meta{})
	require.NoError(t, err)
	assert.IsType(t, Succeeded{}, out)
	assert.Equal(t, 3, h.status.Calls())
}

func TestRunStatusErrorOnFinalAttemptIsReturned(t *testing.T) {
	netErr := errors.New("connection reset")
	h := newHarness(t, pending(), scriptedReply{err: netErr})

	out, err := h.orch.Run(context.Background(), submitting("job-3"), tasks.Meta{}, WithMaxAttempts(2))

	assert.Nil(t, out)
	assert.ErrorIs(t, err, netErr)
	task, _ := h.registry.Get("job-3")
	assert.Equal(t, tasks.StatusPending, task.Status)
}

func TestRunUnknownStatusIsError(t *testing.T) {
	h := newHarness(t, scriptedReply{status: &StatusResponse{Status: "cancelled"}})

	_, err := h.orch.Run(context.Background(), submitting("job-4"), tasks.Meta{})

	assert.ErrorContains(t, err, `unexpected status "cancelled"`)
}

func TestRunCancelledContextStopsPolling(t *testing.T) {
	h := newHarness(t, pending())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.orch.Run(ctx, submitting("job-5"), tasks.Meta{})

	assert.ErrorIs(t, err, context.Canceled)
	task, _ := h.registry.Get("job-5")
	assert.Equal(t, tasks.StatusPending, task.Status)
}

func TestAwaitResultSourcesScenario(t *testing.T) {
	h := newHarness(t, pending(), pending(), succeeded("", `{"sources":[]}`))

	type sourceList struct {
		Sources []string `json:"sources"`
	}
	got, err := AwaitResult[sourceList](context.Background(), h.orch, submitting("t1"), tasks.Meta{Label: "List sources"})
	require.NoError(t, err)
	assert.NotNil(t, got.Sources)
	assert.Empty(t, got.Sources)

	task, _ := h.registry.Get("t1")
	assert.Equal(t, tasks.StatusSuccess, task.Status)
	assert.Equal(t, 3, h.status.Calls())
}

func TestUnwrap(t *testing.T) {
	_, err := Unwrap[map[string]any](&StatusResponse{Status: tasks.StatusSuccess})
	assert.ErrorIs(t, err, ErrMissingResult)

	_, err = Unwrap[map[string]any](&StatusResponse{Status: tasks.StatusSuccess, Result: json.RawMessage("null")})
	assert.ErrorIs(t, err, ErrMissingResult)

	_, err = Unwrap[map[string]any](nil)
	assert.ErrorIs(t, err, ErrMissingResult)

	_, err = Unwrap[map[string]any](&StatusResponse{Status: tasks.StatusPending, Result: json.RawMessage(`{}`)})
	assert.Error(t, err)

	got, err := Unwrap[map[string]int](&StatusResponse{Status: tasks.StatusSuccess, Result: json.RawMessage(`{"n":2}`)})
	require.NoError(t, err)
	assert.Equal(t, 2, got["n"])
}

func TestSpawnOutlivesCallerContext(t *testing.T) {
	h := newHarness(t, pending(), succeeded("done", `{}`))
	ctx, cancel := context.WithCancel(context.Background())

	id, done, err := h.orch.Spawn(ctx, submitting("bg-1"), tasks.Meta{Type: "artifact"})
	require.NoError(t, err)
	assert.Equal(t, "bg-1", id)
	cancel()

	select {
	case res := <-done:
		require.NoError(t, res.Err)
		assert.IsType(t, Succeeded{}, res.Outcome)
	case <-time.After(5 * time.Second):
		t.Fatal("spawned poll loop did not finish")
	}

	task, _ := h.registry.Get("bg-1")
	assert.Equal(t, tasks.StatusSuccess, task.Status)
}

func TestSpawnContractErrorIsSynchronous(t *testing.T) {
	h := newHarness(t, pending())

	id, done, err := h.orch.Spawn(context.Background(), submitting(""), tasks.Meta{})

	assert.ErrorIs(t, err, ErrNoJobID)
	assert.Empty(t, id)
	assert.Nil(t, done)
}

func TestConcurrentRunsAreIndependent(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	reg := tasks.NewRegistry(tasks.WithClock(fc))
	st := StatusFetcherFunc(func(_ context.Context, id string) (*StatusResponse, error) {
		if id == "a" {
			return &StatusResponse{Status: tasks.StatusSuccess, Result: json.RawMessage(`{}`)}, nil
		}
		return &StatusResponse{Status: tasks.StatusFailure, Message: "no"}, nil
	})
	o := New(reg, st, WithClock(fc))

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, _ = o.Run(context.Background(), submitting(id), tasks.Meta{})
		}(id)
	}
	wg.Wait()

	a, _ := reg.Get("a")
	b, _ := reg.Get("b")
	assert.Equal(t, tasks.StatusSuccess, a.Status)
	assert.Equal(t, tasks.StatusFailure, b.Status)
}
