package inference

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/MikeSquared-Agency/diarist/internal/metrics"
	"github.com/MikeSquared-Agency/diarist/internal/transcript"
)

// Limiter bounds concurrent model calls across all sessions and applies a
// per-call timeout. One Limiter is shared by the diarizer and transcriber.
type Limiter struct {
	sem     *semaphore.Weighted
	timeout time.Duration
}

// NewLimiter allows at most n concurrent calls. A zero timeout disables the
// per-call deadline.
func NewLimiter(n int, timeout time.Duration) *Limiter {
	return &Limiter{sem: semaphore.NewWeighted(int64(max(n, 1))), timeout: timeout}
}

func (l *Limiter) run(ctx context.Context, component string, fn func(context.Context) error) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire %s slot: %w", component, err)
	}
	defer l.sem.Release(1)

	metrics.InferenceInFlight.Inc()
	defer metrics.InferenceInFlight.Dec()

	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	started := time.Now()
	err := fn(ctx)
	metrics.RecordInference(component, err == nil, time.Since(started).Seconds())
	return err
}

// Diarizer wraps d so its calls go through the limiter.
func (l *Limiter) Diarizer(d transcript.Diarizer) transcript.Diarizer {
	return limitedDiarizer{l: l, next: d}
}

// Transcriber wraps t so its calls go through the limiter.
func (l *Limiter) Transcriber(t transcript.Transcriber) transcript.Transcriber {
	return limitedTranscriber{l: l, next: t}
}

type limitedDiarizer struct {
	l    *Limiter
	next transcript.Diarizer
}

func (d limitedDiarizer) Diarize(ctx context.Context, audio []byte) (turns []transcript.Turn, err error) {
	err = d.l.run(ctx, metrics.ComponentDiarizer, func(ctx context.Context) error {
		turns, err = d.next.Diarize(ctx, audio)
		return err
	})
	return turns, err
}

type limitedTranscriber struct {
	l    *Limiter
	next transcript.Transcriber
}

func (t limitedTranscriber) Transcribe(ctx context.Context, audio []byte) (spans []transcript.Span, err error) {
	err = t.l.run(ctx, metrics.ComponentTranscriber, func(ctx context.Context) error {
		spans, err = t.next.Transcribe(ctx, audio)
		return err
	})
	return spans, err
}
