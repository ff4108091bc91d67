package actor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Evictor is anything that can drop idle instances.
type Evictor interface {
	Namespace() string
	EvictIdle(ctx context.Context, maxIdle time.Duration) int
}

// Sweeper periodically hibernates idle actors.
type Sweeper struct {
	logger  *slog.Logger
	cron    *cron.Cron
	hosts   []Evictor
	maxIdle time.Duration
}

// NewSweeper schedules an eviction pass over hosts every interval.
func NewSweeper(logger *slog.Logger, interval, maxIdle time.Duration, hosts ...Evictor) (*Sweeper, error) {
	sweeper := &Sweeper{
		logger:  logger.With("module", "actor_sweeper"),
		hosts:   hosts,
		maxIdle: maxIdle,
		cron: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cron.DefaultLogger),
			cron.Recover(cron.DefaultLogger),
		)),
	}

	_, err := sweeper.cron.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		sweeper.Sweep(context.Background())
	})
	if err != nil {
		return nil, fmt.Errorf("failed to schedule eviction every %s: %w", interval, err)
	}

	return sweeper, nil
}

// Sweep runs one eviction pass and returns the number of evicted instances.
func (s *Sweeper) Sweep(ctx context.Context) int {
	total := 0

	for _, host := range s.hosts {
		evicted := host.EvictIdle(ctx, s.maxIdle)
		if evicted > 0 {
			s.logger.InfoContext(ctx, "Hibernated idle actors", "namespace", host.Namespace(), "count", evicted)
		}

		total += evicted
	}

	return total
}

// Start begins the schedule.
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running pass to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}
