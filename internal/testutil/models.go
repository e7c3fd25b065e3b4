package testutil

import (
	"context"
	"sync"

	"github.com/MikeSquared-Agency/diarist/internal/transcript"
)

// ScriptedDiarizer returns Results[i] on its i-th call and the last entry
// once the script runs out.
type ScriptedDiarizer struct {
	mu      sync.Mutex
	Results [][]transcript.Turn
	Err     error
	calls   int
}

func (d *ScriptedDiarizer) Diarize(ctx context.Context, _ []byte) ([]transcript.Turn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.Err != nil {
		return nil, d.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(d.Results) == 0 {
		return nil, nil
	}
	return d.Results[min(d.calls, len(d.Results))-1], nil
}

// Calls returns how many times Diarize was called.
func (d *ScriptedDiarizer) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// ScriptedTranscriber returns Results[i] on its i-th call and the last entry
// once the script runs out.
type ScriptedTranscriber struct {
	mu      sync.Mutex
	Results [][]transcript.Span
	Err     error
	calls   int
}

func (t *ScriptedTranscriber) Transcribe(ctx context.Context, _ []byte) ([]transcript.Span, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls++
	if t.Err != nil {
		return nil, t.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(t.Results) == 0 {
		return nil, nil
	}
	return t.Results[min(t.calls, len(t.Results))-1], nil
}

// Calls returns how many times Transcribe was called.
func (t *ScriptedTranscriber) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}
