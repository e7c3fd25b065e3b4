package sqlitestore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/MikeSquared-Agency/diarist/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "diarist.sqlite"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(s.Close)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func sessionRow(id string, created time.Time) store.SessionRow {
	return store.SessionRow{
		ID:        "doc-" + id,
		SessionID: id,
		Chunks:    []string{"c1"},
		Segments: []store.SegmentRow{
			{Start: 0, End: 2, Speaker: "SPEAKER_00", ChunkSequence: 0, Text: "hello there"},
		},
		TotalSpeakers: 1,
		Duration:      2,
		CreatedAt:     created,
		LastUpdated:   created,
	}
}

func TestUpsertSession_InsertThenConflict(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := s.UpsertSession(ctx, sessionRow("a", now), 0); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.UpsertSession(ctx, sessionRow("a", now), 0); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict on duplicate insert, got %v", err)
	}

	got, err := s.GetSession(ctx, "a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Version != 1 {
		t.Errorf("expected version 1, got %d", got.Version)
	}
	if got.ID != "doc-a" || got.TotalSpeakers != 1 || got.Duration != 2 {
		t.Errorf("unexpected row: %+v", got)
	}
	if len(got.Segments) != 1 || got.Segments[0].Text != "hello there" {
		t.Errorf("unexpected segments: %+v", got.Segments)
	}
	if got.CreatedAt.UnixMilli() != now.UnixMilli() {
		t.Errorf("created_at round trip: got %v want %v", got.CreatedAt, now)
	}
}

func TestUpsertSession_VersionCheck(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	row := sessionRow("b", time.Now().UTC())

	if err := s.UpsertSession(ctx, row, 0); err != nil {
		t.Fatalf("insert: %v", err)
	}
	row.IsComplete = true
	if err := s.UpsertSession(ctx, row, 1); err != nil {
		t.Fatalf("update at version 1: %v", err)
	}
	if err := s.UpsertSession(ctx, row, 1); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict for stale version, got %v", err)
	}

	got, err := s.GetSession(ctx, "b")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Version != 2 || !got.IsComplete {
		t.Errorf("expected version 2 complete, got %d %v", got.Version, got.IsComplete)
	}
}

func TestGetSession_NotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetSession(context.Background(), "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListSessions_OrderAndFilter(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	for i, id := range []string{"old", "mid", "new"} {
		row := sessionRow(id, base.Add(time.Duration(i)*time.Minute))
		row.IsComplete = id != "mid"
		if err := s.UpsertSession(ctx, row, 0); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}

	all, err := s.ListSessions(ctx, store.ListFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 || all[0].SessionID != "new" || all[2].SessionID != "old" {
		t.Fatalf("expected newest first, got %v", ids(all))
	}

	page, err := s.ListSessions(ctx, store.ListFilter{Skip: 1, Limit: 1})
	if err != nil {
		t.Fatalf("list page: %v", err)
	}
	if len(page) != 1 || page[0].SessionID != "mid" {
		t.Errorf("expected [mid], got %v", ids(page))
	}

	done, err := s.ListSessions(ctx, store.ListFilter{CompletedOnly: true})
	if err != nil {
		t.Fatalf("list completed: %v", err)
	}
	if len(done) != 2 {
		t.Errorf("expected 2 completed sessions, got %v", ids(done))
	}
}

func TestChunks_StatsAndDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := s.UpsertSession(ctx, sessionRow("c", now), 0); err != nil {
		t.Fatalf("insert session: %v", err)
	}
	for seq, id := range []string{"c-1", "c-0"} {
		err := s.InsertChunk(ctx, store.ChunkRow{
			ChunkID:     id,
			SessionID:   "c",
			Sequence:    1 - seq,
			Filename:    id + ".wav",
			ContentType: "audio/wav",
			Size:        3,
			Data:        []byte{1, 2, 3},
			CreatedAt:   now.Add(time.Duration(seq) * time.Second),
		})
		if err != nil {
			t.Fatalf("insert chunk: %v", err)
		}
	}

	chunks, err := s.GetChunksForSession(ctx, "c")
	if err != nil {
		t.Fatalf("get chunks: %v", err)
	}
	if len(chunks) != 2 || chunks[0].ChunkID != "c-0" || chunks[1].ChunkID != "c-1" {
		t.Fatalf("expected chunks ordered by sequence, got %+v", chunks)
	}

	st, err := s.GetChunkStats(ctx, "c")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.TotalChunks != 2 || st.TotalBytes != 6 {
		t.Errorf("unexpected stats: %+v", st)
	}
	if !st.LastChunkAt.After(st.FirstChunkAt) {
		t.Errorf("expected last chunk after first: %+v", st)
	}

	deleted, err := s.DeleteSession(ctx, "c")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !deleted {
		t.Error("expected delete to report existing data")
	}
	deleted, err = s.DeleteSession(ctx, "c")
	if err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if deleted {
		t.Error("expected second delete to find nothing")
	}
}

func TestDeleteChunk(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for seq, id := range []string{"d-0", "d-1"} {
		err := s.InsertChunk(ctx, store.ChunkRow{
			ChunkID: id, SessionID: "d", Sequence: seq, Filename: id + ".wav",
			ContentType: "audio/wav", Size: 2, Data: []byte{1, 2}, CreatedAt: now,
		})
		if err != nil {
			t.Fatalf("insert chunk: %v", err)
		}
	}

	if err := s.DeleteChunk(ctx, "d-1"); err != nil {
		t.Fatalf("delete chunk: %v", err)
	}
	if err := s.DeleteChunk(ctx, "d-1"); err != nil {
		t.Fatalf("deleting a missing chunk should succeed: %v", err)
	}

	chunks, err := s.GetChunksForSession(ctx, "d")
	if err != nil {
		t.Fatalf("get chunks: %v", err)
	}
	if len(chunks) != 1 || chunks[0].ChunkID != "d-0" {
		t.Fatalf("expected only d-0 to remain, got %+v", chunks)
	}
}

func TestStaleSessions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	stale := sessionRow("stale", now.Add(-48*time.Hour))
	fresh := sessionRow("fresh", now)
	done := sessionRow("done", now.Add(-48*time.Hour))
	done.IsComplete = true
	for _, r := range []store.SessionRow{stale, fresh, done} {
		if err := s.UpsertSession(ctx, r, 0); err != nil {
			t.Fatalf("insert %s: %v", r.SessionID, err)
		}
	}

	got, err := s.StaleSessions(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("stale: %v", err)
	}
	if len(got) != 1 || got[0] != "stale" {
		t.Errorf("expected [stale], got %v", got)
	}
}

func ids(rows []store.SessionRow) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.SessionID
	}
	return out
}
