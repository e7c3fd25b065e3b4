package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no session document exists for a session_id.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when an upsert's expected version does not match
	// the stored document, or a first insert loses a race.
	ErrConflict = errors.New("version conflict")
)

// SegmentRow is a persisted speech segment.
type SegmentRow struct {
	Start         float64 `json:"start" bson:"start"`
	End           float64 `json:"end" bson:"end"`
	Speaker       string  `json:"speaker" bson:"speaker"`
	ChunkSequence int     `json:"chunk_sequence" bson:"chunk_sequence"`
	Text          string  `json:"text" bson:"text"`
}

// SessionRow is the persisted session document, keyed by SessionID.
type SessionRow struct {
	ID            string       `bson:"id"`
	SessionID     string       `bson:"session_id"`
	Chunks        []string     `bson:"chunks"`
	Segments      []SegmentRow `bson:"segments"`
	TotalSpeakers int          `bson:"total_speakers"`
	Duration      float64      `bson:"duration"`
	IsComplete    bool         `bson:"is_complete"`
	Version       int64        `bson:"version"`
	CreatedAt     time.Time    `bson:"created_at"`
	LastUpdated   time.Time    `bson:"last_updated"`
}

// ChunkRow is one stored audio blob plus its metadata.
type ChunkRow struct {
	ChunkID     string
	SessionID   string
	Sequence    int
	Filename    string
	ContentType string
	Size        int64
	Data        []byte
	CreatedAt   time.Time
}

// ChunkStats aggregates the chunk metadata of a session.
type ChunkStats struct {
	TotalChunks  int
	TotalBytes   int64
	FirstChunkAt time.Time
	LastChunkAt  time.Time
}

// ListFilter is the pagination window for ListSessions.
type ListFilter struct {
	Skip          int
	Limit         int
	CompletedOnly bool
}

// DataStore is the persistence contract shared by every backend. Session
// writes are whole-document and conditional on Version: UpsertSession
// inserts when expectedVersion is 0 and otherwise replaces the document only
// if its stored version equals expectedVersion.
type DataStore interface {
	Migrate(ctx context.Context) error
	InsertChunk(ctx context.Context, c ChunkRow) error
	DeleteChunk(ctx context.Context, chunkID string) error
	GetChunksForSession(ctx context.Context, sessionID string) ([]ChunkRow, error)
	GetChunkStats(ctx context.Context, sessionID string) (*ChunkStats, error)
	UpsertSession(ctx context.Context, s SessionRow, expectedVersion int64) error
	GetSession(ctx context.Context, sessionID string) (*SessionRow, error)
	ListSessions(ctx context.Context, f ListFilter) ([]SessionRow, error)
	StaleSessions(ctx context.Context, cutoff time.Time) ([]string, error)
	DeleteSession(ctx context.Context, sessionID string) (bool, error)
	Close()
}
