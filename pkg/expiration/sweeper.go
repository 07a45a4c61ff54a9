// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package expiration removes uploads whose expiration timestamp has passed.
package expiration

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/LeeDigitalWorks/zaptus/pkg/debug"
	"github.com/LeeDigitalWorks/zaptus/pkg/lock"
	"github.com/LeeDigitalWorks/zaptus/pkg/logger"
	"github.com/LeeDigitalWorks/zaptus/pkg/storage"
	"github.com/LeeDigitalWorks/zaptus/pkg/tuserr"
	"github.com/LeeDigitalWorks/zaptus/pkg/upload"
	"github.com/LeeDigitalWorks/zaptus/pkg/utils"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	sweepRunsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "zaptus",
		Subsystem: "expiration",
		Name:      "runs_total",
		Help:      "Total number of expiration sweeps",
	})

	uploadsExpired = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "zaptus",
		Subsystem: "expiration",
		Name:      "uploads_removed_total",
		Help:      "Total number of expired uploads removed",
	})

	uploadsSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "zaptus",
		Subsystem: "expiration",
		Name:      "uploads_skipped_total",
		Help:      "Expired uploads left in place because a request held their lock",
	})
)

func init() {
	debug.Registry().MustRegister(
		sweepRunsTotal,
		uploadsExpired,
		uploadsSkipped,
	)
}

const (
	DefaultInterval    = time.Minute
	defaultConcurrency = 5
)

type Config struct {
	Store storage.Storage
	// Locker is optional. With one, uploads locked by a request are skipped.
	Locker      lock.Locker
	Interval    time.Duration
	Concurrency int
	// Now defaults to time.Now.
	Now func() time.Time
}

// Sweeper periodically terminates expired uploads
type Sweeper struct {
	store       storage.Storage
	locker      lock.Locker
	interval    time.Duration
	concurrency int
	now         func() time.Time

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewSweeper(cfg Config) *Sweeper {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Sweeper{
		ctx:         ctx,
		cancel:      cancel,
		store:       cfg.Store,
		locker:      cfg.Locker,
		interval:    cfg.Interval,
		concurrency: concurrency,
		now:         now,
		stopCh:      make(chan struct{}),
	}
}

// Start runs the sweep loop in a goroutine. It does nothing when the
// interval or the store's expiration period is not positive.
func (s *Sweeper) Start() {
	if s.interval <= 0 || s.store.ExpirationPeriod() <= 0 {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		utils.Every(s.stopCh, s.interval, func() { s.Run(s.ctx) })
	}()
}

// Stop cancels an ongoing sweep and waits for the loop to exit.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		s.cancel()
		close(s.stopCh)
	})
	s.wg.Wait()
}

// Run performs a single sweep and returns the number of removed uploads.
func (s *Sweeper) Run(ctx context.Context) int {
	sweepRunsTotal.Inc()
	now := s.now()

	var expired []upload.Info
	err := s.store.ForEach(ctx, func(info upload.Info) error {
		if info.IsExpired(now) {
			expired = append(expired, info)
		}
		return nil
	})
	if err != nil {
		logger.Error().Err(err).Msg("expiration: failed to list uploads")
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, s.concurrency)
	var removed, skipped atomic.Int64

	for _, info := range expired {
		if ctx.Err() != nil {
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(info upload.Info) {
			defer wg.Done()
			defer func() { <-sem }()

			ok, err := s.remove(ctx, info, now)
			switch {
			case errors.Is(err, lock.ErrLockHeld):
				skipped.Add(1)
			case err != nil:
				logger.Error().Err(err).Str("upload_id", info.ID.String()).Msg("expiration: failed to remove upload")
			case ok:
				removed.Add(1)
			}
		}(info)
	}
	wg.Wait()

	uploadsExpired.Add(float64(removed.Load()))
	uploadsSkipped.Add(float64(skipped.Load()))
	if removed.Load() > 0 || skipped.Load() > 0 {
		logger.Info().
			Int64("removed", removed.Load()).
			Int64("skipped", skipped.Load()).
			Msg("expiration: sweep finished")
	}
	return int(removed.Load())
}

// remove terminates one upload while holding its lock. The record is read
// again under the lock since a request may have extended it meanwhile.
func (s *Sweeper) remove(ctx context.Context, info upload.Info, now time.Time) (bool, error) {
	if s.locker != nil {
		l, err := s.locker.Lock(ctx, info.ID)
		if err != nil {
			return false, err
		}
		defer func() {
			if err := l.Release(); err != nil {
				logger.Warn().Err(err).Str("upload_id", info.ID.String()).Msg("expiration: failed to release lock")
			}
		}()
	}

	current, err := s.store.Get(ctx, info.ID, info.OwnerKey)
	if tuserr.CodeOf(err) == tuserr.ErrUploadNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !current.IsExpired(now) {
		return false, nil
	}
	if err := s.store.Terminate(ctx, current); err != nil {
		return false, err
	}
	logger.Ctx(ctx).Debug().Str("upload_id", current.ID.String()).Msg("expired upload removed")
	return true, nil
}
