package transcript

import (
	"time"

	"github.com/google/uuid"
)

// Accumulate folds one chunk's segments into the session and returns the new
// state. existing is never modified. Duration only moves forward, and
// TotalSpeakers is recounted from the resulting segment list.
func Accumulate(existing *Session, sessionID string, newSegments []Segment, newDuration float64, chunkRef string, now time.Time) *Session {
	next := &Session{
		SessionID:   sessionID,
		LastUpdated: now,
	}

	if existing == nil {
		next.ID = uuid.New().String()
		next.CreatedAt = now
		next.Chunks = []string{chunkRef}
		next.Segments = append(make([]Segment, 0, len(newSegments)), newSegments...)
		next.Duration = newDuration
	} else {
		next.ID = existing.ID
		next.CreatedAt = existing.CreatedAt
		next.Version = existing.Version
		next.Chunks = append(append(make([]string, 0, len(existing.Chunks)+1), existing.Chunks...), chunkRef)
		next.Segments = append(append(make([]Segment, 0, len(existing.Segments)+len(newSegments)), existing.Segments...), newSegments...)
		next.Duration = max(existing.Duration, newDuration)
	}

	next.TotalSpeakers = countSpeakers(next.Segments)
	return next
}

func countSpeakers(segments []Segment) int {
	seen := make(map[string]struct{}, 4)
	for _, s := range segments {
		seen[s.Speaker] = struct{}{}
	}
	return len(seen)
}
