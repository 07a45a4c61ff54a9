package lock

import (
	"context"
	"sync"
	"time"

	"github.com/LeeDigitalWorks/zaptus/pkg/debug"
	"github.com/LeeDigitalWorks/zaptus/pkg/logger"
	"github.com/LeeDigitalWorks/zaptus/pkg/utils"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	sweepRunsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "zaptus",
		Subsystem: "lock",
		Name:      "sweep_runs_total",
		Help:      "Total number of stale lock sweeps",
	})

	staleLocksRemoved = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "zaptus",
		Subsystem: "lock",
		Name:      "stale_removed_total",
		Help:      "Total number of stale lock artifacts removed",
	})
)

func init() {
	debug.Registry().MustRegister(
		sweepRunsTotal,
		staleLocksRemoved,
	)
}

// DefaultSweepInterval is how often stale locks are looked for.
const DefaultSweepInterval = 30 * time.Second

// Sweeper periodically removes stale lock artifacts
type Sweeper struct {
	locker   Locker
	interval time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewSweeper(locker Locker, interval time.Duration) *Sweeper {
	return &Sweeper{
		locker:   locker,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start runs the sweep loop in a goroutine. A non-positive interval disables it.
func (s *Sweeper) Start() {
	if s.interval <= 0 {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		utils.Every(s.stopCh, s.interval, func() { s.Run(context.Background()) })
	}()
}

// Stop signals the loop to exit and waits for it.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// Run performs one sweep and returns the number of removed artifacts.
func (s *Sweeper) Run(ctx context.Context) int {
	sweepRunsTotal.Inc()

	removed, err := s.locker.CleanupStaleLocks(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("stale lock sweep failed")
	}
	if removed > 0 {
		staleLocksRemoved.Add(float64(removed))
		logger.Info().Int("removed", removed).Msg("removed stale upload locks")
	}
	return removed
}
