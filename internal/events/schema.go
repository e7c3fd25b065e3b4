package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// SubjectPrefix roots every session event subject.
const SubjectPrefix = "diarist."

// Source stamped on events this service emits.
const Source = "diarist"

type Event struct {
	EventID   string          `json:"event_id"`
	SessionID string          `json:"session_id"`
	Source    string          `json:"source"`
	EventType string          `json:"event_type"`
	Timestamp time.Time       `json:"timestamp"`
	Metadata  json.RawMessage `json:"metadata"`
}

// Session lifecycle event types.
const (
	TypeChunkProcessed   = "session.chunk.processed"
	TypeSessionFinalized = "session.finalized"
	TypeSessionDeleted   = "session.deleted"
)

// ChunkProcessed is the metadata of TypeChunkProcessed.
type ChunkProcessed struct {
	Sequence       int     `json:"sequence_number"`
	Segments       int     `json:"segments"`
	MappedSpeakers int     `json:"mapped_speakers"`
	Duration       float64 `json:"duration"`
	IsFinal        bool    `json:"is_final"`
}

// SessionFinalized is the metadata of TypeSessionFinalized.
type SessionFinalized struct {
	TotalSpeakers int     `json:"total_speakers"`
	Segments      int     `json:"segments"`
	Chunks        int     `json:"chunks"`
	Duration      float64 `json:"duration"`
}

// SessionDeleted is the metadata of TypeSessionDeleted.
type SessionDeleted struct {
	Reason string `json:"reason"`
}

// New builds an event for sessionID with metadata marshaled from payload.
func New(eventType, sessionID string, payload any) (Event, error) {
	meta, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s metadata: %w", eventType, err)
	}
	return Event{
		EventID:   uuid.New().String(),
		SessionID: sessionID,
		Source:    Source,
		EventType: eventType,
		Timestamp: time.Now().UTC(),
		Metadata:  meta,
	}, nil
}

// Subject is the NATS subject the event is published on.
func (e *Event) Subject() string {
	return SubjectPrefix + e.EventType
}

// Normalize fills in missing fields with sensible defaults.
// It never drops an event and always returns a usable Event.
func Normalize(raw []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(raw, &e); err != nil {
		return Event{}, err
	}

	if e.EventID == "" {
		e.EventID = uuid.New().String()
	}

	if e.Timestamp.IsZero() {
		slog.Warn("event missing timestamp, using ingestion time", "event_id", e.EventID)
		e.Timestamp = time.Now().UTC()
	}

	if e.Metadata == nil {
		e.Metadata = json.RawMessage(`{}`)
	}

	return e, nil
}

// MetadataField extracts a string field from the metadata JSON.
func (e *Event) MetadataField(key string) string {
	var m map[string]any
	if err := json.Unmarshal(e.Metadata, &m); err != nil {
		return ""
	}
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// MetadataMap returns metadata as a generic map.
func (e *Event) MetadataMap() map[string]any {
	var m map[string]any
	if err := json.Unmarshal(e.Metadata, &m); err != nil {
		return nil
	}
	return m
}
