// Package janitor periodically purges finished jobs from the scheduler's
// registry. It is disabled unless a cron schedule is configured; purging
// stays caller-driven by default.
package janitor

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ocrforge/procdispatch/pkg/common/logger"
)

// Purger removes done jobs whose terminal timestamp is before the cutoff and
// returns how many were removed.
type Purger interface {
	PurgeBefore(cutoff time.Time) int
}

// Config holds the janitor's settings.
type Config struct {
	// Schedule is a cron expression. Blank disables the janitor.
	Schedule string

	// Retention is how long finished jobs are kept. Zero means 24h.
	Retention time.Duration

	Purger Purger

	Log *logger.Logger
}

// Janitor runs retention purges on a cron schedule.
type Janitor struct {
	cron      *cron.Cron
	retention time.Duration
	purger    Purger
	log       *logger.Logger
}

// New creates a janitor. A blank schedule yields a disabled janitor whose
// Start and Stop are no-ops.
func New(cfg Config) (*Janitor, error) {
	j := &Janitor{
		retention: cfg.Retention,
		purger:    cfg.Purger,
		log:       cfg.Log.With("component", "janitor"),
	}
	if j.retention <= 0 {
		j.retention = 24 * time.Hour
	}

	if cfg.Schedule == "" {
		return j, nil
	}

	c := cron.New()
	if _, err := c.AddFunc(cfg.Schedule, j.purge); err != nil {
		return nil, fmt.Errorf("janitor: schedule %q: %w", cfg.Schedule, err)
	}
	j.cron = c

	return j, nil
}

// Enabled reports whether a schedule was configured.
func (j *Janitor) Enabled() bool { return j.cron != nil }

// Start begins the schedule.
func (j *Janitor) Start() {
	if j.cron == nil {
		return
	}
	j.cron.Start()
	j.log.Info(context.Background(), "janitor started", "retention", j.retention)
}

// Stop halts the schedule and waits for an in-flight purge until the context
// expires.
func (j *Janitor) Stop(ctx context.Context) error {
	if j.cron == nil {
		return nil
	}

	select {
	case <-j.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("janitor: stopping: %w", ctx.Err())
	}
}

func (j *Janitor) purge() {
	cutoff := time.Now().Add(-j.retention)
	if removed := j.purger.PurgeBefore(cutoff); removed > 0 {
		j.log.Info(context.Background(), "purged finished jobs", "count", removed, "cutoff", cutoff)
	}
}
