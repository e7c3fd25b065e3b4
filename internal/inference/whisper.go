package inference

import (
	"context"
	"net/http"
	"strings"

	"github.com/MikeSquared-Agency/diarist/internal/transcript"
)

// WhisperClient calls a Whisper-style transcription service at
// POST {baseURL}/transcribe.
type WhisperClient struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

func NewWhisperClient(baseURL, model string) *WhisperClient {
	return &WhisperClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
	}
}

type transcribeResponse struct {
	Segments []transcript.Span `json:"segments"`
	Language string            `json:"language"`
}

// Transcribe returns the recognized spans with surrounding whitespace trimmed.
func (c *WhisperClient) Transcribe(ctx context.Context, audio []byte) ([]transcript.Span, error) {
	fields := map[string]string{"response_format": "json"}
	if c.model != "" {
		fields["model"] = c.model
	}

	var out transcribeResponse
	if err := postAudio(ctx, c.httpClient, c.baseURL+"/transcribe", fields, audio, &out); err != nil {
		return nil, err
	}
	for i := range out.Segments {
		out.Segments[i].Text = strings.TrimSpace(out.Segments[i].Text)
	}
	return out.Segments, nil
}
