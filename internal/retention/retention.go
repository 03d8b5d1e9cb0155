// Package retention periodically removes read notifications that have aged
// out. Unread notifications and messages are never removed.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/zulandar/huddle/internal/metrics"
)

// DefaultMaxAge is how long read notifications are kept when unset.
const DefaultMaxAge = 30 * 24 * time.Hour

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Purger deletes read notifications created before cutoff.
type Purger interface {
	PurgeRead(ctx context.Context, cutoff time.Time) (int64, error)
}

// Job is the scheduled purge.
type Job struct {
	store    Purger
	schedule cron.Schedule // nil when disabled
	maxAge   time.Duration
	log      zerolog.Logger
	now      func() time.Time
}

// Opts holds parameters for creating a Job.
type Opts struct {
	Store    Purger
	Schedule string // 5-field cron expression; empty disables the job
	MaxAge   time.Duration
	Logger   zerolog.Logger
}

// New creates a Job.
func New(opts Opts) (*Job, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("retention: store is required")
	}
	j := &Job{
		store:  opts.Store,
		maxAge: opts.MaxAge,
		log:    opts.Logger,
		now:    time.Now,
	}
	if j.maxAge <= 0 {
		j.maxAge = DefaultMaxAge
	}
	if opts.Schedule != "" {
		sched, err := cronParser.Parse(opts.Schedule)
		if err != nil {
			return nil, fmt.Errorf("retention: parse schedule %q: %w", opts.Schedule, err)
		}
		j.schedule = sched
	}
	return j, nil
}

// Enabled reports whether the job has a schedule.
func (j *Job) Enabled() bool { return j.schedule != nil }

// RunOnce purges once and returns the number of notifications removed.
func (j *Job) RunOnce(ctx context.Context) (int64, error) {
	cutoff := j.now().UTC().Add(-j.maxAge)
	n, err := j.store.PurgeRead(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("retention: purge: %w", err)
	}
	metrics.NotificationsPurged.Add(float64(n))
	j.log.Info().Int64("removed", n).Time("cutoff", cutoff).Msg("retention: purged read notifications")
	return n, nil
}

// Run executes the job on its schedule until ctx is cancelled. A disabled
// job just waits for ctx.
func (j *Job) Run(ctx context.Context) error {
	if !j.Enabled() {
		j.log.Info().Msg("retention: disabled")
		<-ctx.Done()
		return nil
	}

	c := cron.New(cron.WithParser(cronParser))
	c.Schedule(j.schedule, cron.FuncJob(func() {
		if _, err := j.RunOnce(ctx); err != nil {
			j.log.Error().Err(err).Msg("retention: run failed")
		}
	}))
	c.Start()
	j.log.Info().Time("next", j.schedule.Next(j.now())).Msg("retention: scheduled")

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}
