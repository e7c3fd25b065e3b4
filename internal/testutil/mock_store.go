package testutil

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/MikeSquared-Agency/diarist/internal/store"
)

// MockStore is a thread-safe in-memory implementation of store.DataStore for
// testing. Session writes honor the same version rules as the real backends.
type MockStore struct {
	mu sync.Mutex

	Sessions map[string]store.SessionRow
	Blobs    []store.ChunkRow

	InsertChunkErr error
	UpsertErr      error
	GetErr         error
	ListErr        error
	DeleteErr      error

	InsertChunkCalls int
	UpsertCalls      int
}

var _ store.DataStore = (*MockStore)(nil)

func NewMockStore() *MockStore {
	return &MockStore{
		Sessions: make(map[string]store.SessionRow),
		Blobs:    make([]store.ChunkRow, 0),
	}
}

func (m *MockStore) Migrate(context.Context) error { return nil }

func (m *MockStore) InsertChunk(_ context.Context, c store.ChunkRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InsertChunkCalls++
	if m.InsertChunkErr != nil {
		return m.InsertChunkErr
	}
	c.Data = append([]byte(nil), c.Data...)
	m.Blobs = append(m.Blobs, c)
	return nil
}

func (m *MockStore) DeleteChunk(_ context.Context, chunkID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	m.Blobs = slices.DeleteFunc(m.Blobs, func(c store.ChunkRow) bool { return c.ChunkID == chunkID })
	return nil
}

func (m *MockStore) GetChunksForSession(_ context.Context, sessionID string) ([]store.ChunkRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []store.ChunkRow
	for _, c := range m.Blobs {
		if c.SessionID == sessionID {
			result = append(result, c)
		}
	}
	slices.SortStableFunc(result, func(a, b store.ChunkRow) int { return a.Sequence - b.Sequence })
	return result, nil
}

func (m *MockStore) GetChunkStats(_ context.Context, sessionID string) (*store.ChunkStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := &store.ChunkStats{}
	for _, c := range m.Blobs {
		if c.SessionID != sessionID {
			continue
		}
		st.TotalChunks++
		st.TotalBytes += c.Size
		if st.FirstChunkAt.IsZero() || c.CreatedAt.Before(st.FirstChunkAt) {
			st.FirstChunkAt = c.CreatedAt
		}
		if c.CreatedAt.After(st.LastChunkAt) {
			st.LastChunkAt = c.CreatedAt
		}
	}
	return st, nil
}

func (m *MockStore) UpsertSession(_ context.Context, s store.SessionRow, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpsertCalls++
	if m.UpsertErr != nil {
		return m.UpsertErr
	}
	cur, ok := m.Sessions[s.SessionID]
	switch {
	case expectedVersion == 0 && ok:
		return store.ErrConflict
	case expectedVersion != 0 && (!ok || cur.Version != expectedVersion):
		return store.ErrConflict
	}
	s.Version = expectedVersion + 1
	m.Sessions[s.SessionID] = copyRow(s)
	return nil
}

func (m *MockStore) GetSession(_ context.Context, sessionID string) (*store.SessionRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	s, ok := m.Sessions[sessionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	// Return a copy.
	cp := copyRow(s)
	return &cp, nil
}

func (m *MockStore) ListSessions(_ context.Context, f store.ListFilter) ([]store.SessionRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	var rows []store.SessionRow
	for _, s := range m.Sessions {
		if f.CompletedOnly && !s.IsComplete {
			continue
		}
		rows = append(rows, copyRow(s))
	}
	slices.SortFunc(rows, func(a, b store.SessionRow) int { return b.CreatedAt.Compare(a.CreatedAt) })

	if f.Skip >= len(rows) {
		return nil, nil
	}
	rows = rows[f.Skip:]
	if f.Limit > 0 && f.Limit < len(rows) {
		rows = rows[:f.Limit]
	}
	return rows, nil
}

func (m *MockStore) StaleSessions(_ context.Context, cutoff time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, s := range m.Sessions {
		if !s.IsComplete && s.LastUpdated.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (m *MockStore) DeleteSession(_ context.Context, sessionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeleteErr != nil {
		return false, m.DeleteErr
	}
	_, found := m.Sessions[sessionID]
	delete(m.Sessions, sessionID)
	kept := m.Blobs[:0]
	for _, c := range m.Blobs {
		if c.SessionID == sessionID {
			found = true
			continue
		}
		kept = append(kept, c)
	}
	m.Blobs = kept
	return found, nil
}

func (m *MockStore) Close() {}

// SetSession seeds a session for testing at the given version.
func (m *MockStore) SetSession(s store.SessionRow) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.Version == 0 {
		s.Version = 1
	}
	m.Sessions[s.SessionID] = copyRow(s)
}

// Session returns a stored session row and whether it exists.
func (m *MockStore) Session(sessionID string) (store.SessionRow, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.Sessions[sessionID]
	return copyRow(s), ok
}

// GetInsertChunkCalls returns how many times InsertChunk was called.
func (m *MockStore) GetInsertChunkCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.InsertChunkCalls
}

// GetBlobCount returns total chunk blobs stored.
func (m *MockStore) GetBlobCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Blobs)
}

// SetUpsertErr changes the injected session write error.
func (m *MockStore) SetUpsertErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpsertErr = err
}

func copyRow(s store.SessionRow) store.SessionRow {
	s.Chunks = slices.Clone(s.Chunks)
	s.Segments = slices.Clone(s.Segments)
	return s
}
