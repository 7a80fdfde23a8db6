package http

import (
	"context"
	"encoding/json"
	"errors"
	"slices"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"taskhub/internal/jobs"
	"taskhub/internal/store"
)

// JobStore is the part of the store the job API needs.
type JobStore interface {
	CreateJob(ctx context.Context, jobType, label string, input json.RawMessage) (store.Job, error)
	GetJobByID(ctx context.Context, id uuid.UUID) (store.Job, error)
	Ping(ctx context.Context) error
}

type jobHandlers struct {
	store JobStore
	types []string
}

// submit handles POST /v1/jobs.
func (h *jobHandlers) submit(c *fiber.Ctx) error {
	var req SubmitJobRequest
	if ok, err := bindJSON(c, &req); !ok {
		return err
	}

	if !slices.Contains(h.types, req.Type) {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Success: false,
			Code:    "UNKNOWN_JOB_TYPE",
			Error:   "unsupported job type: " + req.Type,
		})
	}

	if req.Type == jobs.PageJobType {
		var params jobs.PageParams
		if len(req.Params) == 0 || json.Unmarshal(req.Params, &params) != nil {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
				Success: false,
				Code:    "BAD_REQUEST",
				Error:   "page jobs require params with a url",
			})
		}
		if err := validate.Struct(params); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
				Success: false,
				Code:    "BAD_REQUEST",
				Error:   "request validation failed",
				Details: fieldErrors(err),
			})
		}
	}

	job, err := h.store.CreateJob(c.UserContext(), req.Type, req.Label, req.Params)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Success: false,
			Code:    "JOB_CREATE_FAILED",
			Error:   err.Error(),
		})
	}

	return c.Status(fiber.StatusAccepted).JSON(SubmitJobResponse{
		Success: true,
		JobID:   job.ID.String(),
	})
}

// status handles GET /v1/jobs/:id/status. Ids that are not UUIDs can
// never name a job, so they get the same 404 as a missing row.
func (h *jobHandlers) status(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
			Success: false,
			Code:    "NOT_FOUND",
			Error:   "job not found",
		})
	}

	job, err := h.store.GetJobByID(c.UserContext(), id)
	if errors.Is(err, store.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
			Success: false,
			Code:    "NOT_FOUND",
			Error:   "job not found",
		})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Success: false,
			Code:    "INTERNAL_ERROR",
			Error:   err.Error(),
		})
	}

	resp := JobStatusResponse{
		Success: true,
		Status:  jobs.Status(job.Status).Public(),
		Message: job.Message,
	}
	if job.Error.Valid {
		resp.Message = job.Error.String
	}
	if job.Output.Valid {
		resp.Result = job.Output.RawMessage
	}
	return c.JSON(resp)
}
