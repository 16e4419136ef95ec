package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pulseworks/reviewpulse/pkg/pipeline"
	"github.com/pulseworks/reviewpulse/pkg/store"
	"github.com/sirupsen/logrus"
)

// Scheduler is a background service that periodically reconciles stale
// runs and triggers the weekly pipeline run when the current ISO week
// has none.
type Scheduler interface {
	Start(ctx context.Context) error
	Stop() error
}

// Compile-time interface check.
var _ Scheduler = (*scheduler)(nil)

type scheduler struct {
	log          logrus.FieldLogger
	store        store.Store
	pipe         *pipeline.Pipeline
	interval     time.Duration
	staleTimeout time.Duration
	done         chan struct{}
	wg           sync.WaitGroup
}

// New creates a scheduler around the given pipeline.
func New(
	log logrus.FieldLogger,
	st store.Store,
	pipe *pipeline.Pipeline,
	interval time.Duration,
	staleTimeout time.Duration,
) Scheduler {
	return &scheduler{
		log:          log.WithField("component", "scheduler"),
		store:        st,
		pipe:         pipe,
		interval:     interval,
		staleTimeout: staleTimeout,
		done:         make(chan struct{}),
	}
}

// Start launches the background goroutine. One pass runs immediately,
// then the loop ticks at the configured interval.
func (s *scheduler) Start(ctx context.Context) error {
	s.log.WithFields(logrus.Fields{
		"interval":      s.interval.String(),
		"stale_timeout": s.staleTimeout.String(),
	}).Info("Starting scheduler")

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.runPass(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.runPass(ctx)
			case <-s.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Stop signals the scheduler goroutine to stop and waits for it.
func (s *scheduler) Stop() error {
	close(s.done)
	s.wg.Wait()

	s.log.Info("Scheduler stopped")

	return nil
}

// runPass reconciles stale runs, then triggers the weekly run if this
// week has none yet.
func (s *scheduler) runPass(ctx context.Context) {
	if _, err := s.store.ReconcileStaleRuns(ctx, s.staleTimeout); err != nil {
		s.log.WithError(err).Warn("Stale run reconciliation failed")
	}

	weekID := pipeline.WeekID(time.Now().UTC())

	if _, err := s.store.GetRunLog(ctx, weekID); err == nil {
		// Ledger already has this week's run: triggered, in flight, or
		// finished. Either way the scheduler has nothing to do.
		return
	} else if !errors.Is(err, store.ErrRunNotFound) {
		s.log.WithError(err).Warn("Checking weekly run failed")

		return
	}

	s.log.WithField("run_id", weekID).Info("Triggering scheduled weekly run")

	if _, err := s.pipe.Run(ctx, pipeline.Options{
		TriggerSource: store.TriggerScheduled,
	}); err != nil {
		if errors.Is(err, pipeline.ErrAlreadyRan) ||
			errors.Is(err, pipeline.ErrRunInProgress) {
			return
		}

		s.log.WithError(err).Error("Scheduled run failed")
	}
}
