package orchestrator

import (
	"context"
	"time"

	"taskhub/internal/metrics"
	"taskhub/internal/tasks"
)

// DefaultAdoptInterval is the pause between adopter sweeps.
const DefaultAdoptInterval = 30 * time.Second

// Adopter resolves pending tasks whose poll loop has already given up,
// typically after a TimeoutError. Each sweep asks the job system once for
// every pending task that has no live poll loop and records terminal
// statuses in the registry. Tasks still pending are left alone until the
// next sweep.
type Adopter struct {
	o        *Orchestrator
	interval time.Duration
}

// NewAdopter returns an Adopter sharing o's registry, status fetcher and
// clock.
func NewAdopter(o *Orchestrator, interval time.Duration) *Adopter {
	if interval <= 0 {
		interval = DefaultAdoptInterval
	}
	return &Adopter{o: o, interval: interval}
}

// Start runs sweeps until ctx is done. Callers typically run this in its
// own goroutine.
func (a *Adopter) Start(ctx context.Context) {
	for {
		if err := a.o.clock.Sleep(ctx, a.interval); err != nil {
			return
		}
		a.Sweep(ctx)
	}
}

// Sweep performs one pass and returns how many tasks it resolved.
func (a *Adopter) Sweep(ctx context.Context) int {
	resolved := 0
	for _, id := range a.o.registry.PendingIDs() {
		if ctx.Err() != nil {
			return resolved
		}
		if a.o.polling(id) {
			continue
		}

		st, err := a.o.status.GetStatus(ctx, id)
		if err != nil || st == nil {
			a.o.logWarn(ctx, "task_adopt_status_error", "task_id", id, "error", err)
			continue
		}

		switch st.Status {
		case tasks.StatusSuccess:
			a.o.registry.Succeed(id, st.Message)
		case tasks.StatusFailure:
			a.o.registry.Fail(id, st.Message)
		default:
			continue
		}
		resolved++
		metrics.RecordAdopted(string(st.Status))
		a.o.logInfo(ctx, "task_adopted", "task_id", id, "status", st.Status)
	}
	return resolved
}
