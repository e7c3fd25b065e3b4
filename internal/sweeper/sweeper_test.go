package sweeper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeCleaner struct {
	mu      sync.Mutex
	calls   int
	ages    []time.Duration
	removed int
	err     error
}

func (f *fakeCleaner) CleanupIncomplete(ctx context.Context, olderThan time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.ages = append(f.ages, olderThan)
	if f.err != nil {
		return 0, f.err
	}
	return f.removed, nil
}

func (f *fakeCleaner) getCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestRunOnce_PassesMaxAge(t *testing.T) {
	fc := &fakeCleaner{removed: 2}
	s := New(fc, Config{Interval: time.Hour, MaxAge: 24 * time.Hour})

	n, err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 removed, got %d", n)
	}
	if len(fc.ages) != 1 || fc.ages[0] != 24*time.Hour {
		t.Errorf("expected max age 24h, got %v", fc.ages)
	}
}

func TestRunOnce_AlertsAfterConsecutiveFailures(t *testing.T) {
	fc := &fakeCleaner{err: errors.New("db down")}
	s := New(fc, Config{Interval: time.Hour, MaxAge: time.Hour})

	var alerts []error
	s.SetAlerter(func(err error) { alerts = append(alerts, err) })

	for i := 0; i < 4; i++ {
		if _, err := s.RunOnce(context.Background()); err == nil {
			t.Fatal("expected error")
		}
	}

	if len(alerts) != 1 {
		t.Fatalf("expected exactly 1 alert, got %d", len(alerts))
	}
	if s.ConsecutiveFailures() != 4 {
		t.Errorf("expected 4 consecutive failures, got %d", s.ConsecutiveFailures())
	}

	fc.mu.Lock()
	fc.err = nil
	fc.mu.Unlock()
	if _, err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.ConsecutiveFailures() != 0 {
		t.Errorf("expected failure counter reset, got %d", s.ConsecutiveFailures())
	}
}

func TestStart_SweepsPeriodicallyUntilCancelled(t *testing.T) {
	fc := &fakeCleaner{}
	s := New(fc, Config{Interval: 10 * time.Millisecond, MaxAge: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for fc.getCalls() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	s.Wait()

	if fc.getCalls() < 2 {
		t.Errorf("expected at least 2 sweeps, got %d", fc.getCalls())
	}
}
