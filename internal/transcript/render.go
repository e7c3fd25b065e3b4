package transcript

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"strings"
)

// Format selects a transcript projection.
type Format string

const (
	FormatText     Format = "text"
	FormatDetailed Format = "detailed"
	FormatJSON     Format = "json"
)

// ParseFormat resolves a format selector. An empty selector means text;
// "conversational" and "structured" are accepted as aliases.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text", "conversational":
		return FormatText, nil
	case "detailed":
		return FormatDetailed, nil
	case "json", "structured":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("%w: unsupported transcript format %q", ErrValidation, s)
}

// Utterance is one speaker run of the structured transcript.
type Utterance struct {
	Speaker string  `json:"speaker"`
	Text    string  `json:"text"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
}

// Structured is the JSON transcript view.
type Structured struct {
	Conversation []Utterance `json:"conversation"`
}

// Render projects segments in the requested format. Text formats return a
// string, FormatJSON returns Structured.
func Render(segments []Segment, format string) (any, error) {
	f, err := ParseFormat(format)
	if err != nil {
		return nil, err
	}
	switch f {
	case FormatDetailed:
		return Detailed(segments), nil
	case FormatJSON:
		return StructuredView(segments), nil
	default:
		return Conversational(segments), nil
	}
}

// Conversational renders one "SPEAKER: text" line per run of consecutive
// same-speaker segments, in start order.
func Conversational(segments []Segment) string {
	runs := speakerRuns(segments)
	lines := make([]string, len(runs))
	for i, r := range runs {
		lines[i] = r.Speaker + ": " + r.Text
	}
	return strings.Join(lines, "\n")
}

// Detailed renders one timestamped line per non-empty segment in storage
// order.
func Detailed(segments []Segment) string {
	var sb strings.Builder
	first := true
	for _, s := range segments {
		if strings.TrimSpace(s.Text) == "" {
			continue
		}
		if !first {
			sb.WriteByte('\n')
		}
		first = false
		fmt.Fprintf(&sb, "[%s - %s] %s: %s", FormatTimestamp(s.Start), FormatTimestamp(s.End), s.Speaker, s.Text)
	}
	return sb.String()
}

// StructuredView groups speaker runs like Conversational. Each run spans from
// its first segment's start to the latest end among its segments.
func StructuredView(segments []Segment) Structured {
	return Structured{Conversation: speakerRuns(segments)}
}

func speakerRuns(segments []Segment) []Utterance {
	sorted := slices.Clone(segments)
	slices.SortStableFunc(sorted, func(a, b Segment) int {
		return cmp.Compare(a.Start, b.Start)
	})

	runs := make([]Utterance, 0)
	var parts []string
	for _, s := range sorted {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		if len(runs) > 0 && runs[len(runs)-1].Speaker == s.Speaker {
			last := &runs[len(runs)-1]
			parts = append(parts, text)
			last.Text = strings.Join(parts, " ")
			last.End = max(last.End, s.End)
			continue
		}
		parts = []string{text}
		runs = append(runs, Utterance{Speaker: s.Speaker, Text: text, Start: s.Start, End: s.End})
	}
	return runs
}

// FormatTimestamp renders seconds as HH:MM:SS.mmm.
func FormatTimestamp(seconds float64) string {
	ms := int64(math.Round(max(seconds, 0) * 1000))
	h := ms / 3_600_000
	m := ms / 60_000 % 60
	s := ms / 1000 % 60
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms%1000)
}
