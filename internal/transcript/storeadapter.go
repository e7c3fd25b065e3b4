package transcript

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MikeSquared-Agency/diarist/internal/store"
)

// StoreAdapter wraps a store.DataStore to satisfy SessionStore, converting
// between row and domain types and translating backend errors into the
// assembler's error kinds.
type StoreAdapter struct {
	s store.DataStore
}

// NewStoreAdapter creates a StoreAdapter from any store backend.
func NewStoreAdapter(s store.DataStore) *StoreAdapter {
	return &StoreAdapter{s: s}
}

func (a *StoreAdapter) PutChunk(ctx context.Context, chunkID string, in ChunkInput, at time.Time) error {
	err := a.s.InsertChunk(ctx, store.ChunkRow{
		ChunkID:     chunkID,
		SessionID:   in.SessionID,
		Sequence:    in.Sequence,
		Filename:    in.Filename,
		ContentType: "audio/wav",
		Size:        int64(len(in.Audio)),
		Data:        in.Audio,
		CreatedAt:   at,
	})
	return translate("store chunk", err)
}

func (a *StoreAdapter) DropChunk(ctx context.Context, chunkID string) error {
	return translate("drop chunk", a.s.DeleteChunk(ctx, chunkID))
}

func (a *StoreAdapter) Chunks(ctx context.Context, sessionID string) ([]ChunkAudio, error) {
	rows, err := a.s.GetChunksForSession(ctx, sessionID)
	if err != nil {
		return nil, translate("load chunks", err)
	}
	result := make([]ChunkAudio, len(rows))
	for i, r := range rows {
		result[i] = ChunkAudio{Sequence: r.Sequence, Data: r.Data}
	}
	return result, nil
}

func (a *StoreAdapter) ChunkStats(ctx context.Context, sessionID string) (*ChunkStats, error) {
	st, err := a.s.GetChunkStats(ctx, sessionID)
	if err != nil {
		return nil, translate("chunk stats", err)
	}
	return &ChunkStats{
		TotalChunks:    st.TotalChunks,
		TotalSizeBytes: st.TotalBytes,
		FirstChunkTime: st.FirstChunkAt,
		LastChunkTime:  st.LastChunkAt,
	}, nil
}

// Save writes s conditionally on s.Version and advances it on success.
func (a *StoreAdapter) Save(ctx context.Context, s *Session) error {
	if err := a.s.UpsertSession(ctx, toRow(s), s.Version); err != nil {
		return translate("save session", err)
	}
	s.Version++
	return nil
}

func (a *StoreAdapter) Load(ctx context.Context, sessionID string) (*Session, error) {
	row, err := a.s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, translate("load session", err)
	}
	return fromRow(row), nil
}

func (a *StoreAdapter) List(ctx context.Context, f ListFilter) ([]Session, error) {
	rows, err := a.s.ListSessions(ctx, store.ListFilter{Skip: f.Skip, Limit: f.Limit, CompletedOnly: f.CompletedOnly})
	if err != nil {
		return nil, translate("list sessions", err)
	}
	result := make([]Session, len(rows))
	for i := range rows {
		result[i] = *fromRow(&rows[i])
	}
	return result, nil
}

func (a *StoreAdapter) Stale(ctx context.Context, cutoff time.Time) ([]string, error) {
	ids, err := a.s.StaleSessions(ctx, cutoff)
	if err != nil {
		return nil, translate("stale sessions", err)
	}
	return ids, nil
}

func (a *StoreAdapter) Delete(ctx context.Context, sessionID string) (bool, error) {
	ok, err := a.s.DeleteSession(ctx, sessionID)
	if err != nil {
		return false, translate("delete session", err)
	}
	return ok, nil
}

func translate(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrNotFound, op)
	case errors.Is(err, store.ErrConflict):
		return fmt.Errorf("%w: %s", ErrConflict, op)
	default:
		return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
	}
}

func toRow(s *Session) store.SessionRow {
	segments := make([]store.SegmentRow, len(s.Segments))
	for i, seg := range s.Segments {
		segments[i] = store.SegmentRow(seg)
	}
	return store.SessionRow{
		ID:            s.ID,
		SessionID:     s.SessionID,
		Chunks:        append([]string(nil), s.Chunks...),
		Segments:      segments,
		TotalSpeakers: s.TotalSpeakers,
		Duration:      s.Duration,
		IsComplete:    s.IsComplete,
		Version:       s.Version,
		CreatedAt:     s.CreatedAt,
		LastUpdated:   s.LastUpdated,
	}
}

func fromRow(r *store.SessionRow) *Session {
	segments := make([]Segment, len(r.Segments))
	for i, seg := range r.Segments {
		segments[i] = Segment(seg)
	}
	return &Session{
		ID:            r.ID,
		SessionID:     r.SessionID,
		Chunks:        append([]string(nil), r.Chunks...),
		Segments:      segments,
		TotalSpeakers: r.TotalSpeakers,
		Duration:      r.Duration,
		IsComplete:    r.IsComplete,
		Version:       r.Version,
		CreatedAt:     r.CreatedAt,
		LastUpdated:   r.LastUpdated,
	}
}
