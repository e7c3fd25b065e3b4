package transcript

import "math"

// SpeakerMapping relabels a chunk's speakers onto labels already established
// in the session. The zero value maps nothing.
type SpeakerMapping struct {
	labels     map[string]string
	confidence map[string]float64
}

// MapSpeakers derives a mapping from the leading segments of a new chunk to
// the previously persisted segments. An anchor maps onto the existing segment
// whose end lies closest to the anchor's start, provided the gap is within
// ChunkOverlapSeconds. When anchors disagree about a label the later one wins.
func MapSpeakers(newSegments, existing []Segment) SpeakerMapping {
	m := SpeakerMapping{
		labels:     make(map[string]string),
		confidence: make(map[string]float64),
	}
	if len(newSegments) == 0 || len(existing) == 0 {
		return m
	}

	anchors := newSegments[:min(OverlapWindow, len(newSegments))]
	for _, anchor := range anchors {
		best := -1
		bestDiff := math.Inf(1)
		for i, e := range existing {
			diff := math.Abs(e.End - anchor.Start)
			if diff <= ChunkOverlapSeconds && diff < bestDiff {
				best, bestDiff = i, diff
			}
		}
		if best < 0 {
			continue
		}
		m.labels[anchor.Speaker] = existing[best].Speaker
		m.confidence[anchor.Speaker] = 1 - bestDiff/ChunkOverlapSeconds
	}
	return m
}

// Lookup returns the established label for a chunk-local label and the
// confidence of the match in [0, 1].
func (m SpeakerMapping) Lookup(label string) (string, float64, bool) {
	target, ok := m.labels[label]
	if !ok {
		return label, 0, false
	}
	return target, m.confidence[label], true
}

// Len is the number of mapped labels.
func (m SpeakerMapping) Len() int {
	return len(m.labels)
}

// Apply returns a copy of segments with mapped labels substituted. Only the
// speaker field changes; unmapped labels are kept as they are.
func (m SpeakerMapping) Apply(segments []Segment) []Segment {
	out := make([]Segment, len(segments))
	for i, s := range segments {
		if target, ok := m.labels[s.Speaker]; ok {
			s.Speaker = target
		}
		out[i] = s
	}
	return out
}
