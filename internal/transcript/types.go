package transcript

import "time"

const (
	// ChunkOverlapSeconds is the recording overlap clients leave between
	// consecutive chunk uploads.
	ChunkOverlapSeconds = 0.5

	// OverlapWindow is how many leading segments of a chunk may anchor a
	// speaker mapping onto the previous chunk.
	OverlapWindow = 5

	// MergeToleranceSeconds is the largest gap folded when merging
	// same-speaker segments at finalization.
	MergeToleranceSeconds = 0.1
)

// Turn is one diarization interval in chunk-local seconds.
type Turn struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker"`
}

// Span is one transcription interval in chunk-local seconds.
type Span struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Segment is a speaker-attributed span of speech in session-relative seconds.
type Segment struct {
	Start         float64 `json:"start"`
	End           float64 `json:"end"`
	Speaker       string  `json:"speaker"`
	ChunkSequence int     `json:"chunk_sequence"`
	Text          string  `json:"text"`
}

// Session is the accumulated state of one recording.
type Session struct {
	ID            string    `json:"id"`
	SessionID     string    `json:"session_id"`
	Chunks        []string  `json:"chunks"`
	Segments      []Segment `json:"segments"`
	TotalSpeakers int       `json:"total_speakers"`
	Duration      float64   `json:"duration"`
	IsComplete    bool      `json:"is_complete"`
	CreatedAt     time.Time `json:"created_at"`
	LastUpdated   time.Time `json:"last_updated"`

	// Version is the optimistic-concurrency token of the stored document.
	Version int64 `json:"-"`
}

// Status is the lightweight view returned by status queries.
type Status struct {
	SessionID      string    `json:"session_id"`
	ChunksReceived int       `json:"chunks_received"`
	TotalDuration  float64   `json:"total_duration"`
	IsCompleted    bool      `json:"is_completed"`
	CreatedAt      time.Time `json:"created_at"`
	LastUpdated    time.Time `json:"last_updated"`
}

// Status projects the session onto its status view.
func (s *Session) Status() Status {
	return Status{
		SessionID:      s.SessionID,
		ChunksReceived: len(s.Chunks),
		TotalDuration:  s.Duration,
		IsCompleted:    s.IsComplete,
		CreatedAt:      s.CreatedAt,
		LastUpdated:    s.LastUpdated,
	}
}

// ChunkInput is one uploaded unit of audio.
type ChunkInput struct {
	SessionID string
	Sequence  int
	IsFinal   bool
	Filename  string
	Audio     []byte
}

// ChunkAudio is a stored chunk blob with its sequence number.
type ChunkAudio struct {
	Sequence int
	Data     []byte
}

// ChunkStats summarizes the stored chunks of a session.
type ChunkStats struct {
	TotalChunks     int       `json:"total_chunks"`
	TotalSizeBytes  int64     `json:"total_size_bytes"`
	DurationSeconds float64   `json:"duration_seconds"`
	FirstChunkTime  time.Time `json:"first_chunk_time"`
	LastChunkTime   time.Time `json:"last_chunk_time"`
}

// ListFilter narrows session listings.
type ListFilter struct {
	Skip          int
	Limit         int
	CompletedOnly bool
}
