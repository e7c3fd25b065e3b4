package transcript

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"
)

// Finalize merges fragmented same-speaker segments, renumbers speakers to
// SPEAKER_1..N and marks the session complete. The returned session carries a
// wholly new segment list; s is left untouched so a failed write keeps the
// last good state.
func Finalize(s *Session, now time.Time) (*Session, error) {
	if err := validateSegments(s.Segments); err != nil {
		return nil, err
	}

	segments := NormalizeSpeakers(MergeSegments(s.Segments))

	final := *s
	final.Chunks = append([]string(nil), s.Chunks...)
	final.Segments = segments
	final.TotalSpeakers = countSpeakers(segments)
	final.IsComplete = true
	final.LastUpdated = now
	return &final, nil
}

// MergeSegments sorts by (start, end) and folds each segment into its
// predecessor when both share a speaker and the gap is at most
// MergeToleranceSeconds. A folded segment widens the span and appends its
// text, skipping a piece identical to the one before it (the same words
// transcribed twice across a chunk overlap).
func MergeSegments(segments []Segment) []Segment {
	if len(segments) == 0 {
		return nil
	}

	sorted := slices.Clone(segments)
	slices.SortStableFunc(sorted, func(a, b Segment) int {
		if c := cmp.Compare(a.Start, b.Start); c != 0 {
			return c
		}
		return cmp.Compare(a.End, b.End)
	})

	merged := make([]Segment, 0, len(sorted))
	current := sorted[0]
	pieces := []string{current.Text}

	for _, next := range sorted[1:] {
		if next.Speaker == current.Speaker && next.Start <= current.End+MergeToleranceSeconds {
			current.End = max(current.End, next.End)
			if next.Text != "" && next.Text != pieces[len(pieces)-1] {
				pieces = append(pieces, next.Text)
			}
			continue
		}
		current.Text = strings.Join(pieces, " ")
		merged = append(merged, current)
		current = next
		pieces = []string{current.Text}
	}
	current.Text = strings.Join(pieces, " ")
	return append(merged, current)
}

// NormalizeSpeakers relabels speakers as SPEAKER_1..N in the natural order of
// their current labels: lexicographic, except that a trailing run of digits
// compares as a number, so SPEAKER_2 precedes SPEAKER_10.
func NormalizeSpeakers(segments []Segment) []Segment {
	labels := make([]string, 0, 4)
	seen := make(map[string]struct{})
	for _, s := range segments {
		if _, ok := seen[s.Speaker]; !ok {
			seen[s.Speaker] = struct{}{}
			labels = append(labels, s.Speaker)
		}
	}
	slices.SortFunc(labels, compareLabels)

	canonical := make(map[string]string, len(labels))
	for i, l := range labels {
		canonical[l] = fmt.Sprintf("SPEAKER_%d", i+1)
	}

	out := make([]Segment, len(segments))
	for i, s := range segments {
		s.Speaker = canonical[s.Speaker]
		out[i] = s
	}
	return out
}

func compareLabels(a, b string) int {
	pa, na := splitNumericSuffix(a)
	pb, nb := splitNumericSuffix(b)
	if c := strings.Compare(pa, pb); c != 0 {
		return c
	}
	if (na == "") != (nb == "") {
		if na == "" {
			return -1
		}
		return 1
	}
	ta, tb := strings.TrimLeft(na, "0"), strings.TrimLeft(nb, "0")
	if c := cmp.Compare(len(ta), len(tb)); c != 0 {
		return c
	}
	if c := strings.Compare(ta, tb); c != 0 {
		return c
	}
	return strings.Compare(a, b)
}

// splitNumericSuffix splits "SPEAKER_12" into "SPEAKER_" and "12".
func splitNumericSuffix(label string) (prefix, digits string) {
	i := len(label)
	for i > 0 && label[i-1] >= '0' && label[i-1] <= '9' {
		i--
	}
	return label[:i], label[i:]
}

func validateSegments(segments []Segment) error {
	for i, s := range segments {
		if math.IsNaN(s.Start) || math.IsNaN(s.End) || math.IsInf(s.Start, 0) || math.IsInf(s.End, 0) {
			return fmt.Errorf("%w: segment %d has non-finite bounds", ErrValidation, i)
		}
		if s.End < s.Start {
			return fmt.Errorf("%w: segment %d ends before it starts", ErrValidation, i)
		}
	}
	return nil
}
