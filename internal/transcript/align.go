package transcript

import "strings"

// BaseTime is the session offset applied to a chunk's local timestamps. The
// first chunk starts at zero; later chunks start ChunkOverlapSeconds before the
// session's current duration.
func BaseTime(sequence int, existing *Session) float64 {
	if existing == nil || sequence <= 0 {
		return 0
	}
	return max(0, existing.Duration-ChunkOverlapSeconds)
}

// Align attributes transcription text to diarization turns. Every span that
// overlaps a turn (inclusive on both ends) contributes its text in order.
// Turns that collect no text, or that have no extent, yield no segment.
// maxEnd is the latest session-relative end among the emitted segments.
func Align(turns []Turn, spans []Span, baseTime float64, sequence int) (segments []Segment, maxEnd float64) {
	for _, turn := range turns {
		if turn.End <= turn.Start {
			continue
		}
		text := matchText(spans, turn.Start, turn.End)
		if text == "" {
			continue
		}
		seg := Segment{
			Start:         baseTime + turn.Start,
			End:           baseTime + turn.End,
			Speaker:       turn.Speaker,
			ChunkSequence: sequence,
			Text:          text,
		}
		segments = append(segments, seg)
		maxEnd = max(maxEnd, seg.End)
	}
	return segments, maxEnd
}

func matchText(spans []Span, start, end float64) string {
	var parts []string
	for _, s := range spans {
		if s.Start <= end && s.End >= start {
			parts = append(parts, s.Text)
		}
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}
