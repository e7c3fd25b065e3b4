// Package sqlitestore is the single-file DataStore for local and edge
// deployments.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MikeSquared-Agency/diarist/internal/store"
)

type Store struct {
	db *sql.DB
}

var _ store.DataStore = (*Store)(nil)

// Open opens (creating if needed) the database at path with WAL and a busy
// timeout. Writes are serialized through a single connection.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() {
	s.db.Close()
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS diarization_sessions (
		session_id     TEXT PRIMARY KEY,
		id             TEXT NOT NULL,
		chunks         TEXT NOT NULL DEFAULT '[]',
		segments       TEXT NOT NULL DEFAULT '[]',
		total_speakers INTEGER NOT NULL DEFAULT 0,
		duration       REAL NOT NULL DEFAULT 0,
		is_complete    INTEGER NOT NULL DEFAULT 0,
		version        INTEGER NOT NULL DEFAULT 1,
		created_at     INTEGER NOT NULL,
		last_updated   INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_created ON diarization_sessions (created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS audio_chunks (
		chunk_id     TEXT PRIMARY KEY,
		session_id   TEXT NOT NULL,
		sequence     INTEGER NOT NULL,
		filename     TEXT NOT NULL DEFAULT '',
		content_type TEXT NOT NULL DEFAULT 'audio/wav',
		file_size    INTEGER NOT NULL DEFAULT 0,
		data         BLOB NOT NULL,
		created_at   INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chunks_session ON audio_chunks (session_id, sequence)`,
}

func (s *Store) Migrate(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}

func (s *Store) InsertChunk(ctx context.Context, c store.ChunkRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audio_chunks (chunk_id, session_id, sequence, filename, content_type, file_size, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ChunkID, c.SessionID, c.Sequence, c.Filename, c.ContentType, c.Size, c.Data, toMillis(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert chunk: %w", err)
	}
	return nil
}

func (s *Store) DeleteChunk(ctx context.Context, chunkID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM audio_chunks WHERE chunk_id = ?`, chunkID); err != nil {
		return fmt.Errorf("delete chunk: %w", err)
	}
	return nil
}

func (s *Store) GetChunksForSession(ctx context.Context, sessionID string) ([]store.ChunkRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT chunk_id, session_id, sequence, filename, content_type, file_size, data, created_at
		FROM audio_chunks
		WHERE session_id = ?
		ORDER BY sequence, created_at
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	var result []store.ChunkRow
	for rows.Next() {
		var (
			c         store.ChunkRow
			createdAt int64
		)
		if err := rows.Scan(&c.ChunkID, &c.SessionID, &c.Sequence, &c.Filename, &c.ContentType, &c.Size, &c.Data, &createdAt); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		c.CreatedAt = fromMillis(createdAt)
		result = append(result, c)
	}
	return result, rows.Err()
}

func (s *Store) GetChunkStats(ctx context.Context, sessionID string) (*store.ChunkStats, error) {
	var (
		st          store.ChunkStats
		first, last sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*), COALESCE(sum(file_size), 0), min(created_at), max(created_at)
		FROM audio_chunks
		WHERE session_id = ?
	`, sessionID).Scan(&st.TotalChunks, &st.TotalBytes, &first, &last)
	if err != nil {
		return nil, fmt.Errorf("chunk stats: %w", err)
	}
	if first.Valid {
		st.FirstChunkAt = fromMillis(first.Int64)
	}
	if last.Valid {
		st.LastChunkAt = fromMillis(last.Int64)
	}
	return &st, nil
}

func (s *Store) UpsertSession(ctx context.Context, row store.SessionRow, expectedVersion int64) error {
	if row.Chunks == nil {
		row.Chunks = []string{}
	}
	if row.Segments == nil {
		row.Segments = []store.SegmentRow{}
	}
	chunks, err := json.Marshal(row.Chunks)
	if err != nil {
		return fmt.Errorf("marshal chunks: %w", err)
	}
	segments, err := json.Marshal(row.Segments)
	if err != nil {
		return fmt.Errorf("marshal segments: %w", err)
	}

	var res sql.Result
	if expectedVersion == 0 {
		res, err = s.db.ExecContext(ctx, `
			INSERT INTO diarization_sessions (session_id, id, chunks, segments, total_speakers, duration, is_complete, version, created_at, last_updated)
			VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
			ON CONFLICT (session_id) DO NOTHING
		`, row.SessionID, row.ID, string(chunks), string(segments), row.TotalSpeakers, row.Duration, row.IsComplete,
			toMillis(row.CreatedAt), toMillis(row.LastUpdated))
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE diarization_sessions
			SET id = ?, chunks = ?, segments = ?, total_speakers = ?, duration = ?, is_complete = ?,
			    created_at = ?, last_updated = ?, version = version + 1
			WHERE session_id = ? AND version = ?
		`, row.ID, string(chunks), string(segments), row.TotalSpeakers, row.Duration, row.IsComplete,
			toMillis(row.CreatedAt), toMillis(row.LastUpdated), row.SessionID, expectedVersion)
	}
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrConflict
	}
	return nil
}

const sessionColumns = `session_id, id, chunks, segments, total_speakers, duration, is_complete, version, created_at, last_updated`

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(sc scanner) (*store.SessionRow, error) {
	var (
		r                     store.SessionRow
		chunks, segments      string
		createdAt, lastUpdate int64
	)
	if err := sc.Scan(&r.SessionID, &r.ID, &chunks, &segments, &r.TotalSpeakers, &r.Duration, &r.IsComplete, &r.Version, &createdAt, &lastUpdate); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(chunks), &r.Chunks); err != nil {
		return nil, fmt.Errorf("decode chunks: %w", err)
	}
	if err := json.Unmarshal([]byte(segments), &r.Segments); err != nil {
		return nil, fmt.Errorf("decode segments: %w", err)
	}
	r.CreatedAt = fromMillis(createdAt)
	r.LastUpdated = fromMillis(lastUpdate)
	return &r, nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (*store.SessionRow, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM diarization_sessions WHERE session_id = ?`, sessionID)
	r, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return r, nil
}

func (s *Store) ListSessions(ctx context.Context, f store.ListFilter) ([]store.SessionRow, error) {
	q := `SELECT ` + sessionColumns + ` FROM diarization_sessions`
	if f.CompletedOnly {
		q += ` WHERE is_complete = 1`
	}
	q += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`

	limit := f.Limit
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, q, limit, max(f.Skip, 0))
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var result []store.SessionRow
	for rows.Next() {
		r, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		result = append(result, *r)
	}
	return result, rows.Err()
}

func (s *Store) StaleSessions(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id FROM diarization_sessions
		WHERE is_complete = 0 AND last_updated < ?
		ORDER BY last_updated
	`, toMillis(cutoff))
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

func (s *Store) DeleteSession(ctx context.Context, sessionID string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	chunkRes, err := tx.ExecContext(ctx, `DELETE FROM audio_chunks WHERE session_id = ?`, sessionID)
	if err != nil {
		return false, fmt.Errorf("delete chunks: %w", err)
	}
	sessRes, err := tx.ExecContext(ctx, `DELETE FROM diarization_sessions WHERE session_id = ?`, sessionID)
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit delete: %w", err)
	}
	nc, _ := chunkRes.RowsAffected()
	ns, _ := sessRes.RowsAffected()
	return nc+ns > 0, nil
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
