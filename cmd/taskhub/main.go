package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"taskhub/internal/config"
	"taskhub/internal/fanout"
	server "taskhub/internal/http"
	"taskhub/internal/jobclient"
	"taskhub/internal/jobs"
	"taskhub/internal/migrate"
	"taskhub/internal/orchestrator"
	"taskhub/internal/scraper"
	"taskhub/internal/store"
	"taskhub/internal/tasks"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	role := flag.String("role", "", "process role: dashboard|jobs|all (overrides server.role)")
	flag.Parse()

	cfg := config.Load(*configPath)
	if *role != "" {
		cfg.Server.Role = *role
		if err := cfg.Validate(); err != nil {
			log.Fatalf("invalid config for role %s: %v", *role, err)
		}
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatalf("invalid redis url: %v", err)
		}
		rdb = redis.NewClient(opt)
		defer rdb.Close()
	}

	deps := server.Deps{Logger: logger}
	if rdb != nil {
		deps.Redis = rdb
	}

	r := cfg.Role()
	if r == "jobs" || r == "all" {
		st := startJobSystem(ctx, cfg, logger)
		defer st.Close()
		deps.Store = st
		deps.JobTypes = []string{jobs.PageJobType}
	}
	if r == "dashboard" || r == "all" {
		startDashboard(ctx, cfg, logger, rdb, &deps)
	}

	s := server.NewServer(cfg, deps)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown_failed", "error", err)
		}
	}()

	logger.Info("server_starting", "role", r, "host", cfg.Server.Host, "port", cfg.Server.Port)
	if err := s.Listen(); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

// startJobSystem migrates the database and starts the job runner.
func startJobSystem(ctx context.Context, cfg *config.Config, logger *slog.Logger) *store.Store {
	if err := migrate.Run(ctx, cfg.Database.DSN); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	st, err := store.Open(cfg.Database.DSN)
	if err != nil {
		log.Fatalf("open db failed: %v", err)
	}

	timeout := time.Duration(cfg.Scraper.TimeoutMs) * time.Millisecond
	var fetcher scraper.Scraper = scraper.NewHTTPScraper(timeout)
	var browser scraper.Scraper
	if cfg.Rod.Enabled {
		browser = scraper.NewRodScraper("", timeout)
	}
	if cfg.Robots.Respect {
		fetcher = scraper.NewRobotsGate(fetcher, cfg.Scraper.UserAgent, timeout)
		if browser != nil {
			browser = scraper.NewRobotsGate(browser, cfg.Scraper.UserAgent, timeout)
		}
	}

	runner := jobs.NewRunner(cfg, st, map[string]jobs.Executor{
		jobs.PageJobType: &jobs.PageExecutor{HTTP: fetcher, Browser: browser, UserAgent: cfg.Scraper.UserAgent},
	}, logger)
	go runner.Start(ctx)

	return st
}

// startDashboard wires the registry, orchestrator and the background
// helpers that keep it current.
func startDashboard(ctx context.Context, cfg *config.Config, logger *slog.Logger, rdb *redis.Client, deps *server.Deps) {
	timeout := time.Duration(cfg.JobAPI.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client, err := jobclient.New(cfg.JobAPIBaseURL(),
		jobclient.WithHTTPClient(&http.Client{Timeout: timeout}),
		jobclient.WithLogger(logger),
	)
	if err != nil {
		log.Fatalf("job client: %v", err)
	}

	reg := tasks.NewRegistry()
	orch := orchestrator.New(reg, client,
		orchestrator.WithLogger(logger),
		orchestrator.WithDefaults(cfg.PollOptions()),
	)

	policy := cfg.RetryPolicy()
	policy.Logger = logger

	deps.Orchestrator = orch
	deps.Submitter = client
	deps.Status = jobclient.Resilient(client, policy)

	if cfg.Orchestrator.AdoptIntervalMs > 0 {
		adopter := orchestrator.NewAdopter(orch, time.Duration(cfg.Orchestrator.AdoptIntervalMs)*time.Millisecond)
		go adopter.Start(ctx)
	}

	if rdb != nil {
		pub := fanout.NewPublisher(rdb,
			fanout.WithChannel(cfg.Redis.Channel),
			fanout.WithKey(cfg.Redis.Key),
			fanout.WithLogger(logger),
		)
		go pub.Run(ctx, reg)
	}
}
