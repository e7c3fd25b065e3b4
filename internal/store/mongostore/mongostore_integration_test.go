package mongostore

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/diarist/internal/store"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("MONGO_URL")
	if url == "" {
		t.Skip("MONGO_URL not set, skipping integration test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s, err := New(ctx, url, "diarist_test")
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestIntegration_SessionAndChunks(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	sessionID := uuid.New().String()
	t.Cleanup(func() { s.DeleteSession(ctx, sessionID) })

	now := time.Now().UTC().Truncate(time.Millisecond)
	row := store.SessionRow{
		ID:          uuid.New().String(),
		SessionID:   sessionID,
		Chunks:      []string{"c0"},
		Segments:    []store.SegmentRow{{Start: 0, End: 1, Speaker: "SPEAKER_00", Text: "hi"}},
		CreatedAt:   now,
		LastUpdated: now,
	}
	if err := s.UpsertSession(ctx, row, 0); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.UpsertSession(ctx, row, 0); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := s.UpsertSession(ctx, row, 1); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := s.GetSession(ctx, sessionID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Version != 2 {
		t.Errorf("expected version 2, got %d", got.Version)
	}

	err = s.InsertChunk(ctx, store.ChunkRow{
		ChunkID: uuid.New().String(), SessionID: sessionID, Sequence: 0,
		Filename: "a.wav", ContentType: "audio/wav", Size: 4, Data: []byte("RIFF"), CreatedAt: now,
	})
	if err != nil {
		t.Fatalf("insert chunk: %v", err)
	}
	chunks, err := s.GetChunksForSession(ctx, sessionID)
	if err != nil {
		t.Fatalf("get chunks: %v", err)
	}
	if len(chunks) != 1 || string(chunks[0].Data) != "RIFF" {
		t.Fatalf("unexpected chunks: %+v", chunks)
	}

	deleted, err := s.DeleteSession(ctx, sessionID)
	if err != nil || !deleted {
		t.Fatalf("delete: %v %v", deleted, err)
	}
	if _, err := s.GetSession(ctx, sessionID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
