package jobs

import (
	"context"
	"log/slog"
	"time"

	"taskhub/internal/config"
	"taskhub/internal/metrics"
)

// RetentionStore is the part of the store the retention sweep needs.
type RetentionStore interface {
	ListJobTypes(ctx context.Context) ([]string, error)
	DeleteExpiredJobs(ctx context.Context, jobType string, cutoff time.Time) (int64, error)
}

// RetentionStats captures the number of jobs deleted per type.
type RetentionStats struct {
	JobsDeleted map[string]int64 `json:"jobsDeleted"`
}

// CleanupExpiredData deletes finished jobs older than their type's TTL so
// the database does not grow without bound. Types without a specific TTL
// use jobs.defaultDays; a TTL of zero keeps jobs forever.
func CleanupExpiredData(ctx context.Context, cfg *config.Config, st RetentionStore, now time.Time, logger *slog.Logger) RetentionStats {
	stats := RetentionStats{JobsDeleted: make(map[string]int64)}
	ttl := cfg.Retention.Jobs

	types, err := st.ListJobTypes(ctx)
	if err != nil {
		if logger != nil {
			logger.WarnContext(ctx, "retention_list_types_failed", "error", err)
		}
		return stats
	}

	for _, jobType := range types {
		days := ttl.DefaultDays
		if jobType == PageJobType && ttl.PageDays > 0 {
			days = ttl.PageDays
		}
		if days <= 0 {
			continue
		}

		cutoff := now.AddDate(0, 0, -days)
		n, err := st.DeleteExpiredJobs(ctx, jobType, cutoff)
		if err != nil {
			if logger != nil {
				logger.WarnContext(ctx, "retention_delete_failed", "type", jobType, "error", err)
			}
			continue
		}
		if n > 0 {
			stats.JobsDeleted[jobType] += n
			metrics.RecordRetentionJobs(jobType, n)
		}
	}

	return stats
}
