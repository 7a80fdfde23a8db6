package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	robotstxt "github.com/temoto/robotstxt"
)

// ErrDisallowed is returned when robots.txt forbids the requested path.
var ErrDisallowed = errors.New("disallowed by robots.txt")

// RobotsGate wraps a Scraper and refuses URLs the target host's robots.txt
// disallows for the configured user agent. A robots.txt that cannot be
// fetched allows everything.
type RobotsGate struct {
	next      Scraper
	client    *http.Client
	userAgent string
	ttl       time.Duration

	mu    sync.Mutex
	cache map[string]robotsEntry
}

type robotsEntry struct {
	data    *robotstxt.RobotsData
	fetched time.Time
}

func NewRobotsGate(next Scraper, userAgent string, timeout time.Duration) *RobotsGate {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RobotsGate{
		next:      next,
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
		ttl:       time.Hour,
		cache:     make(map[string]robotsEntry),
	}
}

func (g *RobotsGate) Scrape(ctx context.Context, req Request) (*Page, error) {
	u, err := normalizeURL(req.URL)
	if err != nil {
		return nil, err
	}

	agent := req.UserAgent
	if agent == "" {
		agent = g.userAgent
	}
	if data := g.robots(ctx, u); data != nil {
		path := u.EscapedPath()
		if path == "" {
			path = "/"
		}
		if u.RawQuery != "" {
			path += "?" + u.RawQuery
		}
		if !data.TestAgent(path, agent) {
			return nil, fmt.Errorf("%s: %w", u.String(), ErrDisallowed)
		}
	}
	return g.next.Scrape(ctx, req)
}

func (g *RobotsGate) robots(ctx context.Context, u *url.URL) *robotstxt.RobotsData {
	key := u.Scheme + "://" + u.Host

	g.mu.Lock()
	entry, ok := g.cache[key]
	g.mu.Unlock()
	if ok && time.Since(entry.fetched) < g.ttl {
		return entry.data
	}

	data, err := g.fetch(ctx, key+"/robots.txt")
	if err != nil {
		data = nil
	}

	g.mu.Lock()
	g.cache[key] = robotsEntry{data: data, fetched: time.Now()}
	g.mu.Unlock()
	return data
}

func (g *RobotsGate) fetch(ctx context.Context, robotsURL string) (*robotstxt.RobotsData, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, err
	}
	if g.userAgent != "" {
		req.Header.Set("User-Agent", g.userAgent)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 512<<10))
	if err != nil {
		return nil, err
	}
	return robotstxt.FromStatusAndBytes(resp.StatusCode, body)
}
