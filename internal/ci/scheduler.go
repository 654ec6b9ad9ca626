package ci

import (
	"context"
	"sync"
	"time"
)

// Scheduler periodically evaluates alert conditions and dispatches
// what fires. Evaluation runs on its own goroutine; Stop waits for
// the in-flight cycle to finish.
type Scheduler struct {
	ci       *Integration
	interval time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewScheduler creates a scheduler evaluating every interval
// (minimum one minute).
func NewScheduler(ci *Integration, interval time.Duration) *Scheduler {
	if interval < time.Minute {
		interval = time.Minute
	}
	return &Scheduler{ci: ci, interval: interval}
}

// Start launches the evaluation loop. Starting a running scheduler is
// a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.running = true

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.evaluate(ctx)
			}
		}
	}()
}

// Stop halts the loop and waits for any in-flight evaluation.
// Stopping a stopped scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
}

func (s *Scheduler) evaluate(ctx context.Context) {
	alerts, err := s.ci.CheckAlertConditions(ctx)
	if err != nil {
		s.ci.log.Error().Err(err).Msg("alert evaluation failed")
		return
	}
	if len(alerts) == 0 {
		return
	}
	if err := s.ci.SendAlerts(ctx, alerts); err != nil {
		s.ci.log.Error().Err(err).Msg("alert dispatch failed")
	}
}
