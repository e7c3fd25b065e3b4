package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

func skipWithoutDB(t *testing.T) string {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}
	return url
}

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	url := skipWithoutDB(t)
	ctx := context.Background()
	s, err := New(ctx, url)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestIntegration_SessionVersioning(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	sessionID := uuid.New().String()
	t.Cleanup(func() { s.DeleteSession(ctx, sessionID) })

	now := time.Now().UTC().Truncate(time.Millisecond)
	row := SessionRow{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Chunks:    []string{"chunk-1"},
		Segments: []SegmentRow{
			{Start: 0, End: 1.5, Speaker: "SPEAKER_00", ChunkSequence: 0, Text: "hello"},
		},
		TotalSpeakers: 1,
		Duration:      1.5,
		CreatedAt:     now,
		LastUpdated:   now,
	}

	if err := s.UpsertSession(ctx, row, 0); err != nil {
		t.Fatalf("insert session: %v", err)
	}
	if err := s.UpsertSession(ctx, row, 0); !errors.Is(err, ErrConflict) {
		t.Fatalf("second insert: expected ErrConflict, got %v", err)
	}

	got, err := s.GetSession(ctx, sessionID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.Version != 1 {
		t.Errorf("expected version 1, got %d", got.Version)
	}
	if len(got.Segments) != 1 || got.Segments[0].Text != "hello" {
		t.Errorf("unexpected segments: %+v", got.Segments)
	}

	row.Duration = 3
	if err := s.UpsertSession(ctx, row, 1); err != nil {
		t.Fatalf("update session: %v", err)
	}
	if err := s.UpsertSession(ctx, row, 1); !errors.Is(err, ErrConflict) {
		t.Fatalf("stale update: expected ErrConflict, got %v", err)
	}

	got, err = s.GetSession(ctx, sessionID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.Version != 2 || got.Duration != 3 {
		t.Errorf("expected version 2 duration 3, got %d %v", got.Version, got.Duration)
	}
}

func TestIntegration_ChunksAndDelete(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	sessionID := uuid.New().String()
	now := time.Now().UTC()

	for seq := 0; seq < 2; seq++ {
		err := s.InsertChunk(ctx, ChunkRow{
			ChunkID:     uuid.New().String(),
			SessionID:   sessionID,
			Sequence:    seq,
			Filename:    "chunk.wav",
			ContentType: "audio/wav",
			Size:        4,
			Data:        []byte("RIFF"),
			CreatedAt:   now.Add(time.Duration(seq) * time.Second),
		})
		if err != nil {
			t.Fatalf("insert chunk %d: %v", seq, err)
		}
	}

	chunks, err := s.GetChunksForSession(ctx, sessionID)
	if err != nil {
		t.Fatalf("get chunks: %v", err)
	}
	if len(chunks) != 2 || chunks[0].Sequence != 0 || chunks[1].Sequence != 1 {
		t.Fatalf("unexpected chunks: %+v", chunks)
	}

	st, err := s.GetChunkStats(ctx, sessionID)
	if err != nil {
		t.Fatalf("chunk stats: %v", err)
	}
	if st.TotalChunks != 2 || st.TotalBytes != 8 {
		t.Errorf("unexpected stats: %+v", st)
	}

	deleted, err := s.DeleteSession(ctx, sessionID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !deleted {
		t.Error("expected delete to report existing data")
	}

	if _, err := s.GetSession(ctx, sessionID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestIntegration_StaleSessions(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	sessionID := uuid.New().String()
	t.Cleanup(func() { s.DeleteSession(ctx, sessionID) })

	old := time.Now().UTC().Add(-48 * time.Hour)
	row := SessionRow{ID: uuid.New().String(), SessionID: sessionID, CreatedAt: old, LastUpdated: old}
	if err := s.UpsertSession(ctx, row, 0); err != nil {
		t.Fatalf("insert session: %v", err)
	}

	ids, err := s.StaleSessions(ctx, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("stale sessions: %v", err)
	}
	found := false
	for _, id := range ids {
		if id == sessionID {
			found = true
		}
	}
	if !found {
		t.Errorf("expected %s in stale sessions", sessionID)
	}
}
