package cron

import (
	"context"
	"time"

	"anonchat/internal/logger"
)

const (
	JobMessagesRetention = "messages-retention"
	JobUsersInactive     = "users-inactive"
	JobIdempotencyPurge  = "idempotency-purge"

	// DefaultSchedule runs maintenance daily at 03:00.
	DefaultSchedule = "0 0 3 * * *"
)

// MessagePruner removes messages stamped at or before a cutoff.
type MessagePruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int, error)
}

// UserPruner removes users inactive since before a cutoff.
type UserPruner interface {
	PruneInactive(ctx context.Context, cutoff time.Time) (int, error)
}

// IdempotencyPurger forgets idempotency keys recorded before a cutoff.
type IdempotencyPurger interface {
	PurgeIdempotencyKeys(ctx context.Context, cutoff time.Time) (int64, error)
}

// RetentionPolicy configures the maintenance jobs.
type RetentionPolicy struct {
	Schedule        string
	RetentionDays   int
	InactiveDays    int
	IdempotencyDays int
}

func (p *RetentionPolicy) setDefaults() {
	if p.Schedule == "" {
		p.Schedule = DefaultSchedule
	}
	if p.RetentionDays <= 0 {
		p.RetentionDays = 6
	}
	if p.InactiveDays <= 0 {
		p.InactiveDays = 30
	}
	if p.IdempotencyDays <= 0 {
		p.IdempotencyDays = 1
	}
}

// RetentionJobs builds the maintenance jobs. now is read on every run.
func RetentionJobs(p RetentionPolicy, messages MessagePruner, users UserPruner, keys IdempotencyPurger, now func() time.Time) []Job {
	p.setDefaults()
	if now == nil {
		now = time.Now
	}
	days := func(n int) time.Time { return now().AddDate(0, 0, -n) }

	var jobs []Job
	if messages != nil {
		jobs = append(jobs, Job{
			Name:       JobMessagesRetention,
			Expression: p.Schedule,
			Run: func(ctx context.Context) error {
				n, err := messages.Prune(ctx, days(p.RetentionDays))
				if err == nil && n > 0 {
					logger.Infof("cron: removed %d messages older than %d days", n, p.RetentionDays)
				}
				return err
			},
		})
	}
	if users != nil {
		jobs = append(jobs, Job{
			Name:       JobUsersInactive,
			Expression: p.Schedule,
			Run: func(ctx context.Context) error {
				n, err := users.PruneInactive(ctx, days(p.InactiveDays))
				if err == nil && n > 0 {
					logger.Infof("cron: removed %d users inactive for %d days", n, p.InactiveDays)
				}
				return err
			},
		})
	}
	if keys != nil {
		jobs = append(jobs, Job{
			Name:       JobIdempotencyPurge,
			Expression: p.Schedule,
			Run: func(ctx context.Context) error {
				n, err := keys.PurgeIdempotencyKeys(ctx, days(p.IdempotencyDays))
				if err == nil && n > 0 {
					logger.Debugf("cron: purged %d idempotency keys", n)
				}
				return err
			},
		})
	}
	return jobs
}

// RegisterAll registers jobs on s.
func RegisterAll(s *Scheduler, jobs []Job) error {
	for _, job := range jobs {
		if err := s.Register(job); err != nil {
			return err
		}
	}
	return nil
}
