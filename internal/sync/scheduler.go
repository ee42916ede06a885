package sync

import (
	"context"
	"time"

	"github.com/mfalves/dmsync/internal/status"
	"go.uber.org/zap"
)

// Scheduler drives the controller on two independent timers: a delta check
// for the active conversation and a summary list refresh. Ticks that find a
// fetch already in flight no-op inside the controller.
type Scheduler struct {
	ctrl         *Controller
	pollEvery    time.Duration
	summaryEvery time.Duration
	logger       *zap.Logger
	cancel       context.CancelFunc
}

// NewScheduler creates a scheduler. Non-positive intervals fall back to the
// defaults (15s conversation poll, 45s summary refresh).
func NewScheduler(ctrl *Controller, pollEvery, summaryEvery time.Duration, logger *zap.Logger) *Scheduler {
	if pollEvery <= 0 {
		pollEvery = 15 * time.Second
	}
	if summaryEvery <= 0 {
		summaryEvery = 45 * time.Second
	}
	return &Scheduler{
		ctrl:         ctrl,
		pollEvery:    pollEvery,
		summaryEvery: summaryEvery,
		logger:       logger,
	}
}

// Start begins the polling loops.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)
	s.logger.Info("scheduler started",
		zap.Duration("poll_every", s.pollEvery),
		zap.Duration("summary_every", s.summaryEvery))
}

// Stop stops the polling loops.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	poll := time.NewTicker(s.pollEvery)
	defer poll.Stop()
	summaries := time.NewTicker(s.summaryEvery)
	defer summaries.Stop()

	for {
		select {
		case <-poll.C:
			if s.retryIfBlocked(ctx) {
				continue
			}
			s.ctrl.RefreshActive(ctx)
		case <-summaries.C:
			if s.ctrl.Status().Current() == status.Error {
				continue
			}
			s.ctrl.RefreshSummaries(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// retryIfBlocked re-runs the initial load when a startup failure left the
// machine in Error. Polling is pointless in that state; nothing short of a
// successful load leaves it.
func (s *Scheduler) retryIfBlocked(ctx context.Context) bool {
	if s.ctrl.Status().Current() != status.Error {
		return false
	}
	if err := s.ctrl.Retry(ctx); err != nil {
		s.logger.Warn("initial load retry failed", zap.Error(err))
	}
	return true
}
