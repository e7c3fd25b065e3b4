package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the PostgreSQL DataStore. Session documents live in
// diarization_sessions with chunks and segments as JSONB; audio blobs live in
// audio_chunks.
type Store struct {
	pool *pgxpool.Pool
}

var _ DataStore = (*Store)(nil)

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS diarization_sessions (
		session_id     TEXT PRIMARY KEY,
		id             TEXT NOT NULL,
		chunks         JSONB NOT NULL DEFAULT '[]',
		segments       JSONB NOT NULL DEFAULT '[]',
		total_speakers INTEGER NOT NULL DEFAULT 0,
		duration       DOUBLE PRECISION NOT NULL DEFAULT 0,
		is_complete    BOOLEAN NOT NULL DEFAULT false,
		version        BIGINT NOT NULL DEFAULT 1,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
		last_updated   TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_diarization_sessions_created ON diarization_sessions (created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS audio_chunks (
		chunk_id     TEXT PRIMARY KEY,
		session_id   TEXT NOT NULL,
		sequence     INTEGER NOT NULL,
		filename     TEXT NOT NULL DEFAULT '',
		content_type TEXT NOT NULL DEFAULT 'audio/wav',
		file_size    BIGINT NOT NULL DEFAULT 0,
		data         BYTEA NOT NULL,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audio_chunks_session ON audio_chunks (session_id, sequence)`,
}

// Migrate creates the tables and indexes if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	slog.Debug("postgres migrations applied", "count", len(migrations))
	return nil
}

// InsertChunk stores one audio blob.
func (s *Store) InsertChunk(ctx context.Context, c ChunkRow) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audio_chunks (chunk_id, session_id, sequence, filename, content_type, file_size, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, c.ChunkID, c.SessionID, c.Sequence, c.Filename, c.ContentType, c.Size, c.Data, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert chunk: %w", err)
	}
	return nil
}

// DeleteChunk removes one audio blob. A missing blob is not an error.
func (s *Store) DeleteChunk(ctx context.Context, chunkID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM audio_chunks WHERE chunk_id = $1`, chunkID); err != nil {
		return fmt.Errorf("delete chunk: %w", err)
	}
	return nil
}

// GetChunksForSession returns every stored blob of a session ordered by
// sequence number.
func (s *Store) GetChunksForSession(ctx context.Context, sessionID string) ([]ChunkRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT chunk_id, session_id, sequence, filename, content_type, file_size, data, created_at
		FROM audio_chunks
		WHERE session_id = $1
		ORDER BY sequence, created_at
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	var result []ChunkRow
	for rows.Next() {
		var c ChunkRow
		if err := rows.Scan(&c.ChunkID, &c.SessionID, &c.Sequence, &c.Filename, &c.ContentType, &c.Size, &c.Data, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

// GetChunkStats aggregates chunk metadata without reading blob data.
func (s *Store) GetChunkStats(ctx context.Context, sessionID string) (*ChunkStats, error) {
	var (
		st          ChunkStats
		first, last *time.Time
	)
	err := s.pool.QueryRow(ctx, `
		SELECT count(*), COALESCE(sum(file_size), 0), min(created_at), max(created_at)
		FROM audio_chunks
		WHERE session_id = $1
	`, sessionID).Scan(&st.TotalChunks, &st.TotalBytes, &first, &last)
	if err != nil {
		return nil, fmt.Errorf("chunk stats: %w", err)
	}
	if first != nil {
		st.FirstChunkAt = *first
	}
	if last != nil {
		st.LastChunkAt = *last
	}
	return &st, nil
}

// UpsertSession writes the whole session document. With expectedVersion 0 it
// inserts and fails with ErrConflict if the row already exists; otherwise it
// replaces the row only while its version still equals expectedVersion. The
// stored version advances by one on every successful write.
func (s *Store) UpsertSession(ctx context.Context, row SessionRow, expectedVersion int64) error {
	chunks, err := json.Marshal(nonNilStrings(row.Chunks))
	if err != nil {
		return fmt.Errorf("marshal chunks: %w", err)
	}
	segments, err := json.Marshal(nonNilSegments(row.Segments))
	if err != nil {
		return fmt.Errorf("marshal segments: %w", err)
	}

	var q string
	args := []any{row.SessionID, row.ID, chunks, segments, row.TotalSpeakers, row.Duration, row.IsComplete, row.CreatedAt, row.LastUpdated}
	if expectedVersion == 0 {
		q = `
			INSERT INTO diarization_sessions (session_id, id, chunks, segments, total_speakers, duration, is_complete, created_at, last_updated, version)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1)
			ON CONFLICT (session_id) DO NOTHING
		`
	} else {
		q = `
			UPDATE diarization_sessions
			SET id = $2, chunks = $3, segments = $4, total_speakers = $5, duration = $6,
			    is_complete = $7, created_at = $8, last_updated = $9, version = version + 1
			WHERE session_id = $1 AND version = $10
		`
		args = append(args, expectedVersion)
	}

	tag, err := s.pool.Exec(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

const sessionColumns = `session_id, id, chunks, segments, total_speakers, duration, is_complete, version, created_at, last_updated`

// GetSession returns the session document or ErrNotFound.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*SessionRow, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM diarization_sessions WHERE session_id = $1`, sessionID)
	r, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return r, nil
}

// ListSessions returns sessions newest first.
func (s *Store) ListSessions(ctx context.Context, f ListFilter) ([]SessionRow, error) {
	q := `SELECT ` + sessionColumns + ` FROM diarization_sessions`
	args := []any{}
	argN := 1

	if f.CompletedOnly {
		q += ` WHERE is_complete = true`
	}
	q += ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		q += fmt.Sprintf(` LIMIT $%d`, argN)
		args = append(args, f.Limit)
		argN++
	}
	if f.Skip > 0 {
		q += fmt.Sprintf(` OFFSET $%d`, argN)
		args = append(args, f.Skip)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var result []SessionRow
	for rows.Next() {
		r, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		result = append(result, *r)
	}
	return result, rows.Err()
}

// StaleSessions returns ids of incomplete sessions last updated before cutoff.
func (s *Store) StaleSessions(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT session_id FROM diarization_sessions
		WHERE is_complete = false AND last_updated < $1
		ORDER BY last_updated
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("stale sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteSession removes the session document and its blobs in one
// transaction. It reports whether anything existed.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	chunkTag, err := tx.Exec(ctx, `DELETE FROM audio_chunks WHERE session_id = $1`, sessionID)
	if err != nil {
		return false, fmt.Errorf("delete chunks: %w", err)
	}
	sessTag, err := tx.Exec(ctx, `DELETE FROM diarization_sessions WHERE session_id = $1`, sessionID)
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit delete: %w", err)
	}
	return chunkTag.RowsAffected()+sessTag.RowsAffected() > 0, nil
}

func scanSession(row pgx.Row) (*SessionRow, error) {
	var (
		r                SessionRow
		chunks, segments []byte
	)
	if err := row.Scan(&r.SessionID, &r.ID, &chunks, &segments, &r.TotalSpeakers, &r.Duration, &r.IsComplete, &r.Version, &r.CreatedAt, &r.LastUpdated); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(chunks, &r.Chunks); err != nil {
		return nil, fmt.Errorf("decode chunks: %w", err)
	}
	if err := json.Unmarshal(segments, &r.Segments); err != nil {
		return nil, fmt.Errorf("decode segments: %w", err)
	}
	return &r, nil
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilSegments(s []SegmentRow) []SegmentRow {
	if s == nil {
		return []SegmentRow{}
	}
	return s
}
