// Package mongostore is the MongoDB DataStore. Session documents live in the
// diarization_sessions collection; audio blobs are GridFS files whose
// metadata carries the session and sequence number.
package mongostore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/MikeSquared-Agency/diarist/internal/store"
)

const (
	sessionsCollection = "diarization_sessions"
	bucketName         = "audio_chunks"
)

type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

var _ store.DataStore = (*Store)(nil)

type chunkMetadata struct {
	ChunkID        string    `bson:"chunk_id"`
	SessionID      string    `bson:"session_id"`
	SequenceNumber int       `bson:"sequence_number"`
	ContentType    string    `bson:"content_type"`
	CreatedAt      time.Time `bson:"created_at"`
	FileSize       int64     `bson:"file_size"`
}

type gridFile struct {
	ID       string        `bson:"_id"`
	Length   int64         `bson:"length"`
	Filename string        `bson:"filename"`
	Metadata chunkMetadata `bson:"metadata"`
}

func New(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return &Store{client: client, db: client.Database(database)}, nil
}

func (s *Store) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.client.Disconnect(ctx); err != nil {
		slog.Warn("mongo disconnect failed", "error", err)
	}
}

func (s *Store) sessions() *mongo.Collection {
	return s.db.Collection(sessionsCollection)
}

// bucket returns a GridFS bucket whose read and write deadlines follow ctx.
// Deadlines are bucket state, so each operation gets its own bucket.
func (s *Store) bucket(ctx context.Context) (*gridfs.Bucket, error) {
	b, err := gridfs.NewBucket(s.db, options.GridFSBucket().SetName(bucketName))
	if err != nil {
		return nil, fmt.Errorf("open gridfs bucket: %w", err)
	}
	if dl, ok := ctx.Deadline(); ok {
		if err := b.SetReadDeadline(dl); err != nil {
			return nil, err
		}
		if err := b.SetWriteDeadline(dl); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// Migrate creates the unique session_id index and the listing and GridFS
// metadata indexes.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.sessions().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "session_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "is_complete", Value: 1}, {Key: "last_updated", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create session indexes: %w", err)
	}
	_, err = s.db.Collection(bucketName+".files").Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "metadata.session_id", Value: 1}, {Key: "metadata.sequence_number", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("create chunk index: %w", err)
	}
	return nil
}

func (s *Store) InsertChunk(ctx context.Context, c store.ChunkRow) error {
	b, err := s.bucket(ctx)
	if err != nil {
		return err
	}
	meta := chunkMetadata{
		ChunkID:        c.ChunkID,
		SessionID:      c.SessionID,
		SequenceNumber: c.Sequence,
		ContentType:    c.ContentType,
		CreatedAt:      c.CreatedAt,
		FileSize:       c.Size,
	}
	opts := options.GridFSUpload().SetMetadata(meta)
	if err := b.UploadFromStreamWithID(c.ChunkID, c.Filename, bytes.NewReader(c.Data), opts); err != nil {
		return fmt.Errorf("upload chunk: %w", err)
	}
	return nil
}

func (s *Store) DeleteChunk(ctx context.Context, chunkID string) error {
	b, err := s.bucket(ctx)
	if err != nil {
		return err
	}
	if err := b.Delete(chunkID); err != nil && !errors.Is(err, gridfs.ErrFileNotFound) {
		return fmt.Errorf("delete chunk %s: %w", chunkID, err)
	}
	return nil
}

func (s *Store) findChunkFiles(ctx context.Context, b *gridfs.Bucket, sessionID string) ([]gridFile, error) {
	opts := options.GridFSFind().SetSort(bson.D{
		{Key: "metadata.sequence_number", Value: 1},
		{Key: "metadata.created_at", Value: 1},
	})
	cur, err := b.Find(bson.M{"metadata.session_id": sessionID}, opts)
	if err != nil {
		return nil, fmt.Errorf("find chunks: %w", err)
	}
	var files []gridFile
	if err := cur.All(ctx, &files); err != nil {
		return nil, fmt.Errorf("decode chunks: %w", err)
	}
	return files, nil
}

func (s *Store) GetChunksForSession(ctx context.Context, sessionID string) ([]store.ChunkRow, error) {
	b, err := s.bucket(ctx)
	if err != nil {
		return nil, err
	}
	files, err := s.findChunkFiles(ctx, b, sessionID)
	if err != nil {
		return nil, err
	}

	result := make([]store.ChunkRow, 0, len(files))
	for _, f := range files {
		var buf bytes.Buffer
		if _, err := b.DownloadToStream(f.ID, &buf); err != nil {
			return nil, fmt.Errorf("download chunk %s: %w", f.ID, err)
		}
		result = append(result, store.ChunkRow{
			ChunkID:     f.Metadata.ChunkID,
			SessionID:   f.Metadata.SessionID,
			Sequence:    f.Metadata.SequenceNumber,
			Filename:    f.Filename,
			ContentType: f.Metadata.ContentType,
			Size:        f.Length,
			Data:        buf.Bytes(),
			CreatedAt:   f.Metadata.CreatedAt,
		})
	}
	return result, nil
}

func (s *Store) GetChunkStats(ctx context.Context, sessionID string) (*store.ChunkStats, error) {
	b, err := s.bucket(ctx)
	if err != nil {
		return nil, err
	}
	files, err := s.findChunkFiles(ctx, b, sessionID)
	if err != nil {
		return nil, err
	}

	st := &store.ChunkStats{TotalChunks: len(files)}
	for _, f := range files {
		st.TotalBytes += f.Length
		at := f.Metadata.CreatedAt
		if st.FirstChunkAt.IsZero() || at.Before(st.FirstChunkAt) {
			st.FirstChunkAt = at
		}
		if at.After(st.LastChunkAt) {
			st.LastChunkAt = at
		}
	}
	return st, nil
}

func (s *Store) UpsertSession(ctx context.Context, row store.SessionRow, expectedVersion int64) error {
	row.Version = expectedVersion + 1
	if row.Chunks == nil {
		row.Chunks = []string{}
	}
	if row.Segments == nil {
		row.Segments = []store.SegmentRow{}
	}

	if expectedVersion == 0 {
		_, err := s.sessions().InsertOne(ctx, row)
		if mongo.IsDuplicateKeyError(err) {
			return store.ErrConflict
		}
		if err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		return nil
	}

	res, err := s.sessions().ReplaceOne(ctx, bson.M{"session_id": row.SessionID, "version": expectedVersion}, row)
	if err != nil {
		return fmt.Errorf("replace session: %w", err)
	}
	if res.MatchedCount == 0 {
		return store.ErrConflict
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (*store.SessionRow, error) {
	var row store.SessionRow
	err := s.sessions().FindOne(ctx, bson.M{"session_id": sessionID}).Decode(&row)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &row, nil
}

func (s *Store) ListSessions(ctx context.Context, f store.ListFilter) ([]store.SessionRow, error) {
	filter := bson.M{}
	if f.CompletedOnly {
		filter["is_complete"] = true
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if f.Skip > 0 {
		opts.SetSkip(int64(f.Skip))
	}
	if f.Limit > 0 {
		opts.SetLimit(int64(f.Limit))
	}

	cur, err := s.sessions().Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	var rows []store.SessionRow
	if err := cur.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("decode sessions: %w", err)
	}
	return rows, nil
}

func (s *Store) StaleSessions(ctx context.Context, cutoff time.Time) ([]string, error) {
	filter := bson.M{"is_complete": false, "last_updated": bson.M{"$lt": cutoff}}
	opts := options.Find().
		SetProjection(bson.M{"session_id": 1}).
		SetSort(bson.D{{Key: "last_updated", Value: 1}})

	cur, err := s.sessions().Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("stale sessions: %w", err)
	}
	var docs []struct {
		SessionID string `bson:"session_id"`
	}
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode stale sessions: %w", err)
	}
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.SessionID
	}
	return ids, nil
}

// DeleteSession removes the GridFS files before the session document.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) (bool, error) {
	b, err := s.bucket(ctx)
	if err != nil {
		return false, err
	}
	files, err := s.findChunkFiles(ctx, b, sessionID)
	if err != nil {
		return false, err
	}
	for _, f := range files {
		if err := b.Delete(f.ID); err != nil && !errors.Is(err, gridfs.ErrFileNotFound) {
			return false, fmt.Errorf("delete chunk %s: %w", f.ID, err)
		}
	}

	res, err := s.sessions().DeleteOne(ctx, bson.M{"session_id": sessionID})
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	return len(files) > 0 || res.DeletedCount > 0, nil
}
