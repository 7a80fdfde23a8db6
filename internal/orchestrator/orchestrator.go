// Package orchestrator turns a single "fire a job, get an id" call into an
// awaited terminal result while keeping the task registry in sync.
//
// A run moves through SUBMITTING -> POLLING -> SUCCESS | FAILURE | TIMEOUT.
// The registry is touched once when the job id is known (Start) and once
// more when the job reaches a terminal state (Succeed or Fail). A timeout
// leaves the record pending because the job may still finish server-side.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"taskhub/internal/clock"
	"taskhub/internal/metrics"
	"taskhub/internal/tasks"
)

// TracerName is the instrumentation name used for orchestration spans.
const TracerName = "taskhub/internal/orchestrator"

const (
	DefaultPollInterval    = 2 * time.Second
	DefaultPollMaxAttempts = 60
)

var errEmptyStatus = errors.New("empty status response")

// StatusResponse is what the remote job system reports for a job id.
type StatusResponse struct {
	Status  tasks.Status    `json:"status"`
	Message string          `json:"message,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
}

// SubmitFunc performs the one network call that starts a job and returns
// the id the job system assigned to it.
type SubmitFunc func(ctx context.Context) (string, error)

// StatusFetcher reads the current status of a job. It must be safe to call
// repeatedly.
type StatusFetcher interface {
	GetStatus(ctx context.Context, jobID string) (*StatusResponse, error)
}

// StatusFetcherFunc adapts a function to StatusFetcher.
type StatusFetcherFunc func(ctx context.Context, jobID string) (*StatusResponse, error)

func (f StatusFetcherFunc) GetStatus(ctx context.Context, jobID string) (*StatusResponse, error) {
	return f(ctx, jobID)
}

// PollOptions bounds a poll loop: MaxAttempts status requests, each preceded
// by a wait of Interval.
type PollOptions struct {
	Interval    time.Duration
	MaxAttempts int
}

// DefaultPollOptions polls every 2s for up to 60 attempts.
func DefaultPollOptions() PollOptions {
	return PollOptions{Interval: DefaultPollInterval, MaxAttempts: DefaultPollMaxAttempts}
}

// PollOption overrides the orchestrator defaults for one call.
type PollOption func(*PollOptions)

// WithInterval sets the wait before each status request.
func WithInterval(d time.Duration) PollOption {
	return func(p *PollOptions) {
		if d > 0 {
			p.Interval = d
		}
	}
}

// WithMaxAttempts sets the attempt ceiling.
func WithMaxAttempts(n int) PollOption {
	return func(p *PollOptions) {
		if n > 0 {
			p.MaxAttempts = n
		}
	}
}

// WithPollOptions applies the non-zero fields of po.
func WithPollOptions(po PollOptions) PollOption {
	return func(p *PollOptions) {
		WithInterval(po.Interval)(p)
		WithMaxAttempts(po.MaxAttempts)(p)
	}
}

// Orchestrator drives submit-then-poll runs against one job system.
type Orchestrator struct {
	registry *tasks.Registry
	status   StatusFetcher
	clock    clock.Clock
	logger   *slog.Logger
	tracer   trace.Tracer
	defaults PollOptions

	// active holds the ids that currently have a live poll loop.
	active sync.Map
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithClock(c clock.Clock) Option {
	return func(o *Orchestrator) {
		if c != nil {
			o.clock = c
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithTracerProvider sets the OpenTelemetry provider. The global provider
// is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *Orchestrator) {
		if tp != nil {
			o.tracer = tp.Tracer(TracerName)
		}
	}
}

// WithDefaults replaces the poll options used when a call does not
// override them.
func WithDefaults(po PollOptions) Option {
	return func(o *Orchestrator) {
		WithPollOptions(po)(&o.defaults)
	}
}

// New returns an Orchestrator that records into registry and reads job
// status through status.
func New(registry *tasks.Registry, status StatusFetcher, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry: registry,
		status:   status,
		clock:    clock.Real(),
		tracer:   otel.GetTracerProvider().Tracer(TracerName),
		defaults: DefaultPollOptions(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Registry returns the registry the orchestrator records into.
func (o *Orchestrator) Registry() *tasks.Registry { return o.registry }

// Run submits a job and polls it to a terminal state. The returned error is
// non-nil only when no Outcome could be reached: the submission failed, the
// submit function returned no id (ErrNoJobID), ctx ended, the final status
// request failed, or the job system reported an unknown status.
func (o *Orchestrator) Run(ctx context.Context, submit SubmitFunc, meta tasks.Meta, opts ...PollOption) (Outcome, error) {
	po := o.pollOptions(opts)

	ctx, span := o.tracer.Start(ctx, "taskhub.orchestrate", trace.WithAttributes(
		attribute.String("taskhub.task.type", meta.Type),
		attribute.String("taskhub.task.label", meta.Label),
		attribute.Int("taskhub.poll.max_attempts", po.MaxAttempts),
	))
	defer span.End()

	id, err := o.submit(ctx, submit, meta)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("taskhub.job.id", id))

	out, err := o.poll(ctx, id, meta, po)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("taskhub.task.outcome", outcomeName(out)))
	return out, nil
}

// Await is Run in error form: it returns the success status payload, or a
// *FailureError, a *TimeoutError or the error Run reported.
func (o *Orchestrator) Await(ctx context.Context, submit SubmitFunc, meta tasks.Meta, opts ...PollOption) (*StatusResponse, error) {
	out, err := o.Run(ctx, submit, meta, opts...)
	if err != nil {
		return nil, err
	}
	if err := out.Err(); err != nil {
		return nil, err
	}
	return out.(Succeeded).Status, nil
}

// Result is delivered on the channel returned by Spawn.
type Result struct {
	Outcome Outcome
	Err     error
}

// Spawn submits synchronously and then polls in a background goroutine that
// is detached from ctx's cancellation: a caller that stops waiting does not
// stop the loop, and the registry is updated regardless. The channel
// receives exactly one Result and is then closed.
func (o *Orchestrator) Spawn(ctx context.Context, submit SubmitFunc, meta tasks.Meta, opts ...PollOption) (string, <-chan Result, error) {
	po := o.pollOptions(opts)

	id, err := o.submit(ctx, submit, meta)
	if err != nil {
		return "", nil, err
	}

	done := make(chan Result, 1)
	bg := context.WithoutCancel(ctx)
	go func() {
		defer close(done)
		bg, span := o.tracer.Start(bg, "taskhub.poll", trace.WithAttributes(
			attribute.String("taskhub.job.id", id),
			attribute.String("taskhub.task.type", meta.Type),
		))
		defer span.End()

		out, err := o.poll(bg, id, meta, po)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		done <- Result{Outcome: out, Err: err}
	}()
	return id, done, nil
}

func (o *Orchestrator) submit(ctx context.Context, submit SubmitFunc, meta tasks.Meta) (string, error) {
	id, err := submit(ctx)
	if err != nil {
		metrics.RecordTaskOutcome(meta.Type, "submit_error")
		o.logWarn(ctx, "task_submit_failed", "type", meta.Type, "label", meta.Label, "error", err)
		return "", fmt.Errorf("submit %s: %w", meta.Type, err)
	}
	if id == "" {
		metrics.RecordTaskOutcome(meta.Type, "contract_error")
		o.logWarn(ctx, "task_submit_failed", "type", meta.Type, "label", meta.Label, "error", ErrNoJobID)
		return "", ErrNoJobID
	}

	o.active.Store(id, struct{}{})
	o.registry.Start(id, &meta)
	metrics.RecordTaskOutcome(meta.Type, "submitted")
	o.logInfo(ctx, "task_submitted", "task_id", id, "type", meta.Type, "label", meta.Label)
	return id, nil
}

func (o *Orchestrator) poll(ctx context.Context, id string, meta tasks.Meta, po PollOptions) (Outcome, error) {
	defer o.active.Delete(id)

	span := trace.SpanFromContext(ctx)

	for attempt := 1; attempt <= po.MaxAttempts; attempt++ {
		if err := o.clock.Sleep(ctx, po.Interval); err != nil {
			o.logInfo(ctx, "task_poll_abandoned", "task_id", id, "attempt", attempt, "error", err)
			return nil, err
		}

		metrics.RecordPollAttempt(meta.Type)
		span.AddEvent("status_check", trace.WithAttributes(attribute.Int("attempt", attempt)))

		st, err := o.status.GetStatus(ctx, id)
		if err == nil && st == nil {
			err = errEmptyStatus
		}
		if err != nil {
			if ctx.Err() != nil || attempt == po.MaxAttempts {
				return nil, fmt.Errorf("task %s: status check: %w", id, err)
			}
			o.logWarn(ctx, "task_status_error", "task_id", id, "attempt", attempt, "error", err)
			continue
		}

		switch st.Status {
		case tasks.StatusPending:
			continue
		case tasks.StatusSuccess:
			o.registry.Succeed(id, st.Message)
			metrics.RecordTaskOutcome(meta.Type, "success")
			o.logInfo(ctx, "task_succeeded", "task_id", id, "type", meta.Type, "attempts", attempt)
			return Succeeded{ID: id, Status: st}, nil
		case tasks.StatusFailure:
			o.registry.Fail(id, st.Message)
			metrics.RecordTaskOutcome(meta.Type, "failure")
			o.logInfo(ctx, "task_failed", "task_id", id, "type", meta.Type, "attempts", attempt, "error", st.Message)
			return Failed{ID: id, Message: st.Message}, nil
		default:
			return nil, fmt.Errorf("task %s: unexpected status %q", id, st.Status)
		}
	}

	metrics.RecordTaskOutcome(meta.Type, "timeout")
	o.logInfo(ctx, "task_still_pending", "task_id", id, "type", meta.Type, "attempts", po.MaxAttempts)
	return TimedOut{ID: id, Attempts: po.MaxAttempts}, nil
}

func (o *Orchestrator) pollOptions(opts []PollOption) PollOptions {
	po := o.defaults
	for _, opt := range opts {
		opt(&po)
	}
	return po
}

func (o *Orchestrator) polling(id string) bool {
	_, ok := o.active.Load(id)
	return ok
}

func (o *Orchestrator) logInfo(ctx context.Context, msg string, args ...any) {
	if o.logger != nil {
		o.logger.InfoContext(ctx, msg, args...)
	}
}

func (o *Orchestrator) logWarn(ctx context.Context, msg string, args ...any) {
	if o.logger != nil {
		o.logger.WarnContext(ctx, msg, args...)
	}
}

func outcomeName(out Outcome) string {
	switch out.(type) {
	case Succeeded:
		return "success"
	case Failed:
		return "failure"
	case TimedOut:
		return "timeout"
	}
	return "unknown"
}
