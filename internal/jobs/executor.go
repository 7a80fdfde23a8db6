package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"taskhub/internal/scraper"
	"taskhub/internal/store"
)

// Output is what an executor hands back for a successful job.
type Output struct {
	Message string
	Result  json.RawMessage
}

// Executor runs one claimed job. A returned error marks the job failed
// with the error text as its message.
type Executor interface {
	Execute(ctx context.Context, job store.Job) (Output, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, job store.Job) (Output, error)

func (f ExecutorFunc) Execute(ctx context.Context, job store.Job) (Output, error) {
	return f(ctx, job)
}

// PageParams is the input of a "page" job.
type PageParams struct {
	URL       string            `json:"url" validate:"required,url"`
	Headers   map[string]string `json:"headers,omitempty"`
	UserAgent string            `json:"userAgent,omitempty"`
	// Browser renders the page with the headless browser when one is
	// configured.
	Browser bool `json:"browser,omitempty"`
}

// PageExecutor fetches a URL and stores the reduced page as the job result.
type PageExecutor struct {
	HTTP      scraper.Scraper
	Browser   scraper.Scraper
	UserAgent string
}

func (e *PageExecutor) Execute(ctx context.Context, job store.Job) (Output, error) {
	var params PageParams
	if err := json.Unmarshal(job.Input, &params); err != nil {
		return Output{}, fmt.Errorf("invalid page params: %w", err)
	}
	if params.URL == "" {
		return Output{}, errors.New("invalid page params: url is required")
	}

	s := e.HTTP
	if params.Browser && e.Browser != nil {
		s = e.Browser
	}
	if s == nil {
		return Output{}, errors.New("no scraper configured")
	}

	ua := params.UserAgent
	if ua == "" {
		ua = e.UserAgent
	}

	page, err := s.Scrape(ctx, scraper.Request{URL: params.URL, Headers: params.Headers, UserAgent: ua})
	if err != nil {
		return Output{}, err
	}

	raw, err := json.Marshal(page)
	if err != nil {
		return Output{}, err
	}

	msg := "Fetched " + page.URL
	if page.Title != "" {
		msg = "Fetched " + page.Title
	}
	return Output{Message: msg, Result: raw}, nil
}
