package http

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"taskhub/internal/jobclient"
	"taskhub/internal/orchestrator"
	"taskhub/internal/tasks"
)

// Submitter builds submissions against the job system.
type Submitter interface {
	SubmitFunc(jobType, label string, params any) orchestrator.SubmitFunc
}

type taskHandlers struct {
	orch      *orchestrator.Orchestrator
	submitter Submitter
	// status is the resilient status reader used by the result endpoint.
	status orchestrator.StatusFetcher
}

// list handles GET /v1/tasks.
func (h *taskHandlers) list(c *fiber.Ctx) error {
	return c.JSON(TaskListResponse{Success: true, Snapshot: h.orch.Registry().Snapshot()})
}

// spawn handles POST /v1/tasks: the job is submitted synchronously and then
// polled in the background, so the response carries the job id while the
// task is still pending.
func (h *taskHandlers) spawn(c *fiber.Ctx) error {
	var req SpawnTaskRequest
	if ok, err := bindJSON(c, &req); !ok {
		return err
	}

	var params any
	if len(req.Params) > 0 {
		params = req.Params
	}
	meta := tasks.Meta{Label: req.Label, Type: req.Type, ResourceID: req.ResourceID}

	var opts []orchestrator.PollOption
	if req.PollIntervalMs > 0 {
		opts = append(opts, orchestrator.WithInterval(time.Duration(req.PollIntervalMs)*time.Millisecond))
	}
	if req.MaxAttempts > 0 {
		opts = append(opts, orchestrator.WithMaxAttempts(req.MaxAttempts))
	}

	id, _, err := h.orch.Spawn(c.UserContext(), h.submitter.SubmitFunc(req.Type, req.Label, params), meta, opts...)
	if err != nil {
		return upstreamError(c, err)
	}

	task, _ := h.orch.Registry().Get(id)
	return c.Status(fiber.StatusAccepted).JSON(SpawnTaskResponse{Success: true, JobID: id, Task: task})
}

// clear handles POST /v1/tasks/clear.
func (h *taskHandlers) clear(c *fiber.Ctx) error {
	n := h.orch.Registry().ClearCompleted()
	return c.JSON(ClearTasksResponse{Success: true, Cleared: n})
}

// result handles GET /v1/tasks/:id/result. It asks the job system directly,
// retrying transient failures, and folds a terminal answer back into the
// registry.
func (h *taskHandlers) result(c *fiber.Ctx) error {
	id := c.Params("id")
	st, err := h.status.GetStatus(c.UserContext(), id)
	if err != nil {
		return upstreamError(c, err)
	}

	reg := h.orch.Registry()
	switch st.Status {
	case tasks.StatusSuccess:
		reg.Succeed(id, st.Message)
	case tasks.StatusFailure:
		reg.Fail(id, st.Message)
	}

	return c.JSON(TaskResultResponse{
		Success: true,
		ID:      id,
		Status:  st.Status,
		Message: st.Message,
		Result:  st.Result,
	})
}

// upstreamError maps job system errors onto the response. HTTP errors from
// the job API keep their status and code; anything else is a 502.
func upstreamError(c *fiber.Ctx, err error) error {
	if errors.Is(err, orchestrator.ErrNoJobID) {
		return c.Status(fiber.StatusBadGateway).JSON(ErrorResponse{
			Success: false,
			Code:    "NO_JOB_ID",
			Error:   err.Error(),
		})
	}

	var he *jobclient.HTTPError
	if errors.As(err, &he) {
		code := he.Code
		if code == "" {
			code = "UPSTREAM_ERROR"
		}
		return c.Status(he.StatusCode).JSON(ErrorResponse{
			Success: false,
			Code:    code,
			Error:   he.Message,
		})
	}

	return c.Status(fiber.StatusBadGateway).JSON(ErrorResponse{
		Success: false,
		Code:    "UPSTREAM_ERROR",
		Error:   err.Error(),
	})
}
