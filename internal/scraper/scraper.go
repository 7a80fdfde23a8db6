// Package scraper fetches a page and reduces it to markdown, links and a
// small metadata set. It backs the "page" job type.
package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const maxBodyBytes = 10 << 20

// Request describes one fetch.
type Request struct {
	URL       string
	Headers   map[string]string
	UserAgent string
}

// Page is the reduced form of a fetched document.
type Page struct {
	URL         string   `json:"url"`
	Status      int      `json:"statusCode"`
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Language    string   `json:"language,omitempty"`
	Canonical   string   `json:"canonical,omitempty"`
	Markdown    string   `json:"markdown"`
	Links       []string `json:"links"`
	Engine      string   `json:"engine"`
}

// Scraper fetches and reduces a page.
type Scraper interface {
	Scrape(ctx context.Context, req Request) (*Page, error)
}

// StatusError reports a non-2xx response from the target site.
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: status %d", e.URL, e.Status)
}

// HTTPScraper fetches pages with a plain HTTP GET.
type HTTPScraper struct {
	client *http.Client
}

func NewHTTPScraper(timeout time.Duration) *HTTPScraper {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPScraper{client: &http.Client{Timeout: timeout}}
}

func (s *HTTPScraper) Scrape(ctx context.Context, req Request) (*Page, error) {
	u, err := normalizeURL(req.URL)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if req.UserAgent != "" {
		httpReq.Header.Set("User-Agent", req.UserAgent)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{URL: u.String(), Status: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}

	page, err := parsePage(u, string(body))
	if err != nil {
		return nil, err
	}
	page.Status = resp.StatusCode
	page.Engine = "http"
	return page, nil
}

func normalizeURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" {
		u, err = url.Parse("http://" + raw)
		if err != nil {
			return nil, err
		}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("url %q has no host", raw)
	}
	return u, nil
}
