package maintenance

import (
	"context"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/charlesng35/whiteboard/internal/realtime"
	"github.com/charlesng35/whiteboard/pkg/logger"
	"github.com/charlesng35/whiteboard/pkg/metrics"
)

const (
	defaultStatsSpec = "@every 1m"
	defaultPruneSpec = "@every 5m"
)

// StatsSource reports live realtime counters.
type StatsSource interface {
	Stats() realtime.Stats
}

// Pruner drops expired in-memory state and reports how many entries it removed.
type Pruner interface {
	Prune() int
}

// Reporter coordinates background jobs: sampling realtime stats into gauges and
// pruning expired rate limit counters.
type Reporter struct {
	stats  StatsSource
	pruner Pruner
	cron   *cron.Cron
	log    *zap.Logger

	statsSchedule string
	pruneSchedule string
}

// Option customises the Reporter.
type Option func(*Reporter)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(r *Reporter) {
		if c != nil {
			r.cron = c
		}
	}
}

// WithStatsSchedule overrides the cron specification for stats sampling.
func WithStatsSchedule(spec string) Option {
	return func(r *Reporter) {
		if spec != "" {
			r.statsSchedule = spec
		}
	}
}

// WithPruneSchedule overrides the cron specification for pruning.
func WithPruneSchedule(spec string) Option {
	return func(r *Reporter) {
		if spec != "" {
			r.pruneSchedule = spec
		}
	}
}

// WithPruner enables the pruning job.
func WithPruner(p Pruner) Option {
	return func(r *Reporter) {
		r.pruner = p
	}
}

// NewReporter constructs a Reporter. A nil stats source disables sampling.
func NewReporter(stats StatsSource, opts ...Option) *Reporter {
	r := &Reporter{
		stats:         stats,
		statsSchedule: defaultStatsSpec,
		pruneSchedule: defaultPruneSpec,
		log:           logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.cron == nil {
		r.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}
	return r
}

// Start registers the enabled jobs and launches the scheduler.
func (r *Reporter) Start() error {
	if r.stats == nil && r.pruner == nil {
		return nil
	}

	if r.stats != nil {
		if _, err := r.cron.AddFunc(r.statsSchedule, func() {
			r.sample()
		}); err != nil {
			return err
		}
	}

	if r.pruner != nil {
		if _, err := r.cron.AddFunc(r.pruneSchedule, func() {
			if removed := r.pruner.Prune(); removed > 0 {
				r.log.Debug("pruned rate limit counters", zap.Int("removed", removed))
			}
		}); err != nil {
			return err
		}
	}

	r.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (r *Reporter) Stop() context.Context {
	if r.cron == nil {
		return context.Background()
	}
	return r.cron.Stop()
}

// RunOnce executes every configured job sequentially. Used in tests and during
// graceful shutdown.
func (r *Reporter) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if r.stats != nil {
		r.sample()
	}
	if r.pruner != nil {
		r.pruner.Prune()
	}
	return nil
}

func (r *Reporter) sample() realtime.Stats {
	stats := r.stats.Stats()

	metrics.PresenceEntries.Set(float64(stats.Presence))
	metrics.ActiveRooms.Set(float64(stats.Rooms))

	r.log.Info("realtime stats",
		zap.Int("connections", stats.Connections),
		zap.Int("authenticated", stats.Authenticated),
		zap.Int("presence", stats.Presence),
		zap.Int("rooms", stats.Rooms),
	)
	return stats
}
