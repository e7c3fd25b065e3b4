package transcript

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MikeSquared-Agency/diarist/internal/audio"
	"github.com/MikeSquared-Agency/diarist/internal/events"
	"github.com/MikeSquared-Agency/diarist/internal/metrics"
)

// Diarizer produces speaker turns for one chunk of audio.
type Diarizer interface {
	Diarize(ctx context.Context, audio []byte) ([]Turn, error)
}

// Transcriber produces timed text spans for one chunk of audio.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) ([]Span, error)
}

// SessionStore abstracts the persistence operations the assembler needs.
// Implementations return the package's error kinds.
type SessionStore interface {
	PutChunk(ctx context.Context, chunkID string, in ChunkInput, at time.Time) error
	DropChunk(ctx context.Context, chunkID string) error
	Chunks(ctx context.Context, sessionID string) ([]ChunkAudio, error)
	ChunkStats(ctx context.Context, sessionID string) (*ChunkStats, error)
	Save(ctx context.Context, s *Session) error
	Load(ctx context.Context, sessionID string) (*Session, error)
	List(ctx context.Context, f ListFilter) ([]Session, error)
	Stale(ctx context.Context, cutoff time.Time) ([]string, error)
	Delete(ctx context.Context, sessionID string) (bool, error)
}

// PublishFunc is the callback signature for publishing session events.
type PublishFunc func(subject string, data []byte) error

// AlertFunc is notified when a chunk cannot be turned into session state.
type AlertFunc func(sessionID, stage string, err error)

// Assembler turns uploaded chunks into an accumulating diarized transcript
// and finalizes the session when the last chunk arrives. Work on one session
// is serialized; different sessions proceed in parallel.
type Assembler struct {
	store       SessionStore
	diarizer    Diarizer
	transcriber Transcriber
	publish     PublishFunc
	alert       AlertFunc
	locks       *sessionLocks
	now         func() time.Time
}

// NewAssembler creates an Assembler. publish may be nil when no event bus is
// configured.
func NewAssembler(store SessionStore, diarizer Diarizer, transcriber Transcriber, publish PublishFunc) *Assembler {
	return &Assembler{
		store:       store,
		diarizer:    diarizer,
		transcriber: transcriber,
		publish:     publish,
		locks:       newSessionLocks(),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetAlerter registers a failure notifier.
func (a *Assembler) SetAlerter(fn AlertFunc) {
	a.alert = fn
}

// ProcessChunk runs the models on the chunk, stores it, folds its diarized
// transcript into the session and, for the final chunk, finalizes the
// session. The returned session is the persisted state after this chunk. A
// chunk that fails before its session write lands leaves no blob behind.
func (a *Assembler) ProcessChunk(ctx context.Context, in ChunkInput) (sess *Session, err error) {
	started := time.Now()
	defer func() { metrics.RecordChunk(outcome(err), time.Since(started).Seconds()) }()

	if err := validateChunk(in); err != nil {
		return nil, err
	}

	release := a.locks.lock(in.SessionID)
	defer release()

	existing, err := a.loadExisting(ctx, in.SessionID)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.IsComplete {
		return nil, fmt.Errorf("%w: session %s is already finalized", ErrValidation, in.SessionID)
	}

	turns, spans, err := a.infer(ctx, in.Audio)
	if err != nil {
		slog.Error("transcript: inference failed",
			"session_id", in.SessionID,
			"sequence_number", in.Sequence,
			"error", err,
		)
		a.notify(in.SessionID, "inference", err)
		return nil, err
	}

	chunkID := uuid.New().String()
	if err := a.store.PutChunk(ctx, chunkID, in, a.now()); err != nil {
		a.notify(in.SessionID, "store chunk", err)
		return nil, err
	}

	base := BaseTime(in.Sequence, existing)
	segments, maxEnd := Align(turns, spans, base, in.Sequence)

	mapped := 0
	if existing != nil {
		mapping := MapSpeakers(segments, existing.Segments)
		segments = mapping.Apply(segments)
		mapped = mapping.Len()
		metrics.SpeakerMappings.Add(float64(mapped))
	}

	next := Accumulate(existing, in.SessionID, segments, maxEnd, chunkID, a.now())
	if err := a.store.Save(ctx, next); err != nil {
		a.dropChunk(in.SessionID, chunkID)
		a.notify(in.SessionID, "save session", err)
		return nil, err
	}

	slog.Info("transcript: chunk processed",
		"session_id", in.SessionID,
		"sequence_number", in.Sequence,
		"is_final", in.IsFinal,
		"segments", len(segments),
		"mapped_speakers", mapped,
		"duration", next.Duration,
	)
	a.emit(events.TypeChunkProcessed, in.SessionID, events.ChunkProcessed{
		Sequence:       in.Sequence,
		Segments:       len(segments),
		MappedSpeakers: mapped,
		Duration:       next.Duration,
		IsFinal:        in.IsFinal,
	})

	if !in.IsFinal {
		return next, nil
	}

	final, err := a.finalizeLocked(ctx, next)
	if err != nil {
		a.notify(in.SessionID, "finalize", err)
		return nil, fmt.Errorf("finalize session %s: %w", in.SessionID, err)
	}
	return final, nil
}

// Finalize merges and normalizes an accumulated session. It is a no-op on a
// session that is already complete.
func (a *Assembler) Finalize(ctx context.Context, sessionID string) (*Session, error) {
	release := a.locks.lock(sessionID)
	defer release()

	s, err := a.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.IsComplete {
		return s, nil
	}
	final, err := a.finalizeLocked(ctx, s)
	if err != nil {
		a.notify(sessionID, "finalize", err)
		return nil, err
	}
	return final, nil
}

func (a *Assembler) finalizeLocked(ctx context.Context, s *Session) (*Session, error) {
	final, err := Finalize(s, a.now())
	if err != nil {
		return nil, err
	}
	if err := a.store.Save(ctx, final); err != nil {
		return nil, err
	}

	metrics.SessionsFinalized.Inc()
	slog.Info("transcript: session finalized",
		"session_id", final.SessionID,
		"chunks", len(final.Chunks),
		"segments", len(final.Segments),
		"total_speakers", final.TotalSpeakers,
		"duration", final.Duration,
	)
	a.emit(events.TypeSessionFinalized, final.SessionID, events.SessionFinalized{
		TotalSpeakers: final.TotalSpeakers,
		Segments:      len(final.Segments),
		Chunks:        len(final.Chunks),
		Duration:      final.Duration,
	})
	return final, nil
}

// RenderTranscript projects the session's current segments in the requested
// format. It works on incomplete sessions too.
func (a *Assembler) RenderTranscript(ctx context.Context, sessionID, format string) (any, error) {
	if _, err := ParseFormat(format); err != nil {
		return nil, err
	}
	s, err := a.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return Render(s.Segments, format)
}

// Session returns the full persisted session.
func (a *Assembler) Session(ctx context.Context, sessionID string) (*Session, error) {
	return a.store.Load(ctx, sessionID)
}

// Status returns the lightweight status view of a session.
func (a *Assembler) Status(ctx context.Context, sessionID string) (Status, error) {
	s, err := a.store.Load(ctx, sessionID)
	if err != nil {
		return Status{}, err
	}
	return s.Status(), nil
}

// ListSessions returns sessions newest first.
func (a *Assembler) ListSessions(ctx context.Context, f ListFilter) ([]Session, error) {
	if f.Skip < 0 || f.Limit < 0 {
		return nil, fmt.Errorf("%w: skip and limit must not be negative", ErrValidation)
	}
	return a.store.List(ctx, f)
}

// Stats summarizes the stored chunks of an existing session.
func (a *Assembler) Stats(ctx context.Context, sessionID string) (*ChunkStats, error) {
	s, err := a.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	st, err := a.store.ChunkStats(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	st.DurationSeconds = s.Duration
	return st, nil
}

// MergedAudio concatenates the session's chunk blobs into one WAV file.
func (a *Assembler) MergedAudio(ctx context.Context, sessionID string) ([]byte, error) {
	chunks, err := a.store.Chunks(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: no audio for session %s", ErrNotFound, sessionID)
	}
	blobs := make([][]byte, len(chunks))
	for i, c := range chunks {
		blobs[i] = c.Data
	}
	merged, err := audio.Merge(blobs)
	if err != nil {
		return nil, fmt.Errorf("%w: merge audio: %w", ErrValidation, err)
	}
	return merged, nil
}

// DeleteSession removes the session and all of its chunks.
func (a *Assembler) DeleteSession(ctx context.Context, sessionID string) error {
	return a.deleteSession(ctx, sessionID, "requested")
}

func (a *Assembler) deleteSession(ctx context.Context, sessionID, reason string) error {
	release := a.locks.lock(sessionID)
	defer release()

	deleted, err := a.store.Delete(ctx, sessionID)
	if err != nil {
		return err
	}
	if !deleted {
		return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	slog.Info("transcript: session deleted", "session_id", sessionID, "reason", reason)
	a.emit(events.TypeSessionDeleted, sessionID, events.SessionDeleted{Reason: reason})
	return nil
}

// CleanupIncomplete deletes incomplete sessions not updated since now-olderThan
// and reports how many were removed. A session that fails to delete is
// logged and skipped.
func (a *Assembler) CleanupIncomplete(ctx context.Context, olderThan time.Duration) (int, error) {
	ids, err := a.store.Stale(ctx, a.now().Add(-olderThan))
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if err := a.deleteSession(ctx, id, "stale"); err != nil {
			if !errors.Is(err, ErrNotFound) {
				slog.Warn("transcript: failed to delete stale session", "session_id", id, "error", err)
			}
			continue
		}
		removed++
	}
	if removed > 0 {
		metrics.SessionsSwept.Add(float64(removed))
	}
	return removed, nil
}

func (a *Assembler) loadExisting(ctx context.Context, sessionID string) (*Session, error) {
	s, err := a.store.Load(ctx, sessionID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return s, err
}

// infer runs diarization and transcription side by side.
func (a *Assembler) infer(ctx context.Context, data []byte) ([]Turn, []Span, error) {
	var (
		turns []Turn
		spans []Span
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if turns, err = a.diarizer.Diarize(gctx, data); err != nil {
			return fmt.Errorf("%w: diarize: %w", ErrModel, err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if spans, err = a.transcriber.Transcribe(gctx, data); err != nil {
			return fmt.Errorf("%w: transcribe: %w", ErrModel, err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return turns, spans, nil
}

// dropChunk removes a blob whose session write did not land. It runs on a
// fresh context so a cancelled request still cleans up.
func (a *Assembler) dropChunk(sessionID, chunkID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.store.DropChunk(ctx, chunkID); err != nil {
		slog.Warn("transcript: failed to drop orphaned chunk",
			"session_id", sessionID,
			"chunk_id", chunkID,
			"error", err,
		)
	}
}

func (a *Assembler) emit(eventType, sessionID string, payload any) {
	if a.publish == nil {
		return
	}
	e, err := events.New(eventType, sessionID, payload)
	if err != nil {
		slog.Warn("transcript: failed to build event", "event_type", eventType, "error", err)
		return
	}
	data, err := json.Marshal(e)
	if err != nil {
		slog.Warn("transcript: failed to marshal event", "event_type", eventType, "error", err)
		return
	}
	if err := a.publish(e.Subject(), data); err != nil {
		slog.Warn("transcript: failed to publish event",
			"subject", e.Subject(),
			"session_id", sessionID,
			"error", err,
		)
	}
}

func (a *Assembler) notify(sessionID, stage string, err error) {
	if a.alert != nil {
		a.alert(sessionID, stage, err)
	}
}

func validateChunk(in ChunkInput) error {
	if _, err := uuid.Parse(in.SessionID); err != nil {
		return fmt.Errorf("%w: session_id must be a UUID: %w", ErrValidation, err)
	}
	if in.Sequence < 0 {
		return fmt.Errorf("%w: sequence_number must not be negative", ErrValidation)
	}
	if err := audio.Validate(in.Filename, in.Audio); err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrModel):
		return "model"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "persistence"
	}
}
