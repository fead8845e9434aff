package timeline

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SchedulerState is the lifecycle state of a RefreshScheduler.
type SchedulerState string

const (
	SchedulerIdle      SchedulerState = "idle"
	SchedulerPolling   SchedulerState = "polling"
	SchedulerSuspended SchedulerState = "suspended"
)

// DefaultRefreshInterval is the default period between tail page refreshes.
const DefaultRefreshInterval = 10 * time.Second

// PollFunc refreshes the tail of a timeline.
type PollFunc func(ctx context.Context) error

// RefreshScheduler periodically runs a poll while a timeline is open.
// Suspend is called before a local mutation dispatches its request and Resume
// once its result has been folded in, so a background refresh never races an
// in-flight mutation.
type RefreshScheduler struct {
	interval time.Duration
	poll     PollFunc
	logger   *zap.Logger

	mu      sync.Mutex
	state   SchedulerState
	suspend int
	polling bool
	idle    *sync.Cond
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewRefreshScheduler builds an idle scheduler.
func NewRefreshScheduler(interval time.Duration, poll PollFunc, logger *zap.Logger) *RefreshScheduler {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	scheduler := &RefreshScheduler{
		interval: interval,
		poll:     poll,
		logger:   logger,
		state:    SchedulerIdle,
	}
	scheduler.idle = sync.NewCond(&scheduler.mu)
	return scheduler
}

// State returns the current lifecycle state.
func (s *RefreshScheduler) State() SchedulerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start moves Idle to Polling. Starting a running scheduler is a no-op.
func (s *RefreshScheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != SchedulerIdle {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.state = SchedulerPolling
	if s.suspend > 0 {
		s.state = SchedulerSuspended
	}
	go s.run(loopCtx, s.done)
	s.logger.Debug("refresh scheduler started", zap.Duration("interval", s.interval))
}

// Suspend moves Polling to Suspended and waits for a poll already in flight
// to finish. Suspensions nest; each must be matched by Resume.
func (s *RefreshScheduler) Suspend() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suspend++
	if s.state == SchedulerPolling {
		s.state = SchedulerSuspended
	}
	for s.polling {
		s.idle.Wait()
	}
}

// Resume moves Suspended back to Polling once every suspension is released.
func (s *RefreshScheduler) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.suspend > 0 {
		s.suspend--
	}
	if s.suspend == 0 && s.state == SchedulerSuspended {
		s.state = SchedulerPolling
	}
}

// Stop moves any state to Idle and waits for the polling goroutine to exit.
func (s *RefreshScheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.done = nil
	s.state = SchedulerIdle
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (s *RefreshScheduler) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("refresh scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *RefreshScheduler) tick(ctx context.Context) {
	s.mu.Lock()
	if s.state != SchedulerPolling || s.poll == nil {
		s.mu.Unlock()
		return
	}
	s.polling = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.polling = false
		s.idle.Broadcast()
		s.mu.Unlock()
	}()

	if err := s.poll(ctx); err != nil {
		s.logger.Warn("timeline refresh failed", zap.Error(err))
	}
}
