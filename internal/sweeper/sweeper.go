// Package sweeper periodically removes incomplete sessions that stopped
// receiving chunks.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Cleaner removes incomplete sessions whose last update is older than
// olderThan and reports how many were removed.
type Cleaner interface {
	CleanupIncomplete(ctx context.Context, olderThan time.Duration) (int, error)
}

// failureThreshold is the number of consecutive failed sweeps that
// triggers an alert.
const failureThreshold = 3

type Sweeper struct {
	cleaner  Cleaner
	interval time.Duration
	maxAge   time.Duration
	timeout  time.Duration

	mu              sync.Mutex
	consecutiveFail int
	alert           func(err error)

	done chan struct{}
}

type Config struct {
	Interval time.Duration
	MaxAge   time.Duration
	// Timeout bounds a single sweep. Defaults to one minute.
	Timeout time.Duration
}

func New(c Cleaner, cfg Config) *Sweeper {
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}
	return &Sweeper{
		cleaner:  c,
		interval: cfg.Interval,
		maxAge:   cfg.MaxAge,
		timeout:  cfg.Timeout,
		done:     make(chan struct{}),
	}
}

// SetAlerter sets the function notified after repeated sweep failures.
func (s *Sweeper) SetAlerter(fn func(err error)) {
	s.alert = fn
}

// Start begins the periodic sweep ticker.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	go func() {
		defer ticker.Stop()
		defer close(s.done)
		for {
			select {
			case <-ticker.C:
				if _, err := s.RunOnce(ctx); err != nil && ctx.Err() != nil {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Wait blocks until the sweep loop has stopped.
func (s *Sweeper) Wait() {
	<-s.done
}

// RunOnce performs a single sweep.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	removed, err := s.cleaner.CleanupIncomplete(ctx, s.maxAge)
	if err != nil {
		slog.Error("session sweep failed", "error", err, "removed", removed)
		s.handleFailure(err)
		return removed, fmt.Errorf("sweep: %w", err)
	}

	s.mu.Lock()
	s.consecutiveFail = 0
	s.mu.Unlock()

	if removed > 0 {
		slog.Info("swept stale sessions", "removed", removed, "max_age", s.maxAge)
	}
	return removed, nil
}

// ConsecutiveFailures returns the number of sweeps that failed in a row.
func (s *Sweeper) ConsecutiveFailures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consecutiveFail
}

func (s *Sweeper) handleFailure(err error) {
	s.mu.Lock()
	s.consecutiveFail++
	n := s.consecutiveFail
	s.mu.Unlock()

	if n == failureThreshold && s.alert != nil {
		s.alert(fmt.Errorf("%d consecutive sweep failures: %w", n, err))
	}
}
