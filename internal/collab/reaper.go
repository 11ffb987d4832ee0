package collab

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/coviewhq/coview/pkg/logger"
)

const (
	defaultReaperInterval      = 60 * time.Second
	defaultInactivityThreshold = 5 * time.Minute
)

// ReaperOption customises the Reaper.
type ReaperOption func(*Reaper)

// WithReaperInterval overrides the sweep interval.
func WithReaperInterval(interval time.Duration) ReaperOption {
	return func(r *Reaper) {
		if interval > 0 {
			r.interval = interval
		}
	}
}

// WithInactivityThreshold overrides the idle threshold after which
// participants are marked inactive.
func WithInactivityThreshold(threshold time.Duration) ReaperOption {
	return func(r *Reaper) {
		if threshold > 0 {
			r.threshold = threshold
		}
	}
}

// WithReaperCron injects a preconfigured cron instance, primarily for
// testing.
func WithReaperCron(c *cron.Cron) ReaperOption {
	return func(r *Reaper) {
		if c != nil {
			r.cron = c
		}
	}
}

// Reaper periodically marks idle participants inactive and prunes
// rate-limiter history. It never deletes sessions or participants; only
// explicit leave and kick do that.
type Reaper struct {
	store     *Store
	limiters  []*SlidingWindowLimiter
	cron      *cron.Cron
	interval  time.Duration
	threshold time.Duration
	log       *zap.Logger
}

// NewReaper constructs a reaper sweeping the store and the supplied
// limiters.
func NewReaper(store *Store, limiters []*SlidingWindowLimiter, opts ...ReaperOption) *Reaper {
	r := &Reaper{
		store:     store,
		limiters:  limiters,
		cron:      cron.New(),
		interval:  defaultReaperInterval,
		threshold: defaultInactivityThreshold,
		log:       logger.WithComponent("reaper"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start schedules the periodic sweep.
func (r *Reaper) Start() error {
	spec := fmt.Sprintf("@every %s", r.interval)
	if _, err := r.cron.AddFunc(spec, r.RunOnce); err != nil {
		return fmt.Errorf("reaper: schedule sweep: %w", err)
	}
	r.cron.Start()
	r.log.Info("reaper started", zap.Duration("interval", r.interval))
	return nil
}

// RunOnce performs one sweep. Both duties are independent and idempotent.
func (r *Reaper) RunOnce() {
	if marked := r.store.MarkInactive(r.threshold); marked > 0 {
		r.log.Debug("participants marked inactive", zap.Int("count", marked))
	}
	for _, limiter := range r.limiters {
		limiter.Cleanup()
	}
}

// Stop cancels the schedule and waits for any running sweep to finish.
func (r *Reaper) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.log.Info("reaper stopped")
}
