package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lukasbauer/syncup/internal/clock"
)

// Pruner deletes events older than a cutoff.
type Pruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// EventRetentionJob deletes session events older than the retention period.
// It runs once on start and then on every interval.
type EventRetentionJob struct {
	pruner    Pruner
	clock     clock.Clock
	now       func() time.Time
	logger    zerolog.Logger
	retention time.Duration
	interval  time.Duration
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	runs      chan struct{} // signalled after each pass, for tests
}

// NewEventRetentionJob creates the job. A zero interval defaults to one hour.
func NewEventRetentionJob(p Pruner, retention, interval time.Duration, logger zerolog.Logger) *EventRetentionJob {
	if interval == 0 {
		interval = time.Hour
	}
	return &EventRetentionJob{
		pruner:    p,
		clock:     clock.System{},
		now:       time.Now,
		logger:    logger.With().Str("component", "event_retention").Logger(),
		retention: retention,
		interval:  interval,
	}
}

// Start begins the background job.
func (j *EventRetentionJob) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	j.cancel = cancel

	j.wg.Add(1)
	go j.run(ctx)
	j.logger.Info().Dur("interval", j.interval).Dur("retention", j.retention).Msg("started")
}

// Stop gracefully stops the background job.
func (j *EventRetentionJob) Stop() {
	if j.cancel == nil {
		return
	}
	j.cancel()
	j.wg.Wait()
	j.logger.Info().Msg("stopped")
}

func (j *EventRetentionJob) run(ctx context.Context) {
	defer j.wg.Done()

	ticks := j.clock.Ticks(ctx, j.interval)
	j.prune(ctx)

	for {
		select {
		case <-ticks:
			j.prune(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (j *EventRetentionJob) prune(ctx context.Context) {
	cutoff := j.now().Add(-j.retention)
	n, err := j.pruner.Prune(ctx, cutoff)
	if err != nil {
		j.logger.Error().Err(err).Msg("failed to prune session events")
	} else if n > 0 {
		j.logger.Info().Int64("deleted", n).Time("cutoff", cutoff).Msg("pruned session events")
	}
	if j.runs != nil {
		select {
		case j.runs <- struct{}{}:
		case <-ctx.Done():
		}
	}
}
