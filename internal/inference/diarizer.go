package inference

import (
	"context"
	"net/http"
	"strings"

	"github.com/MikeSquared-Agency/diarist/internal/transcript"
)

// DiarizerClient calls a speaker diarization service at POST {baseURL}/diarize
// which answers {"segments":[{"start","end","speaker"}]} in chunk-local
// seconds.
type DiarizerClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewDiarizerClient(baseURL string) *DiarizerClient {
	return &DiarizerClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
	}
}

type diarizeResponse struct {
	Segments []transcript.Turn `json:"segments"`
}

func (c *DiarizerClient) Diarize(ctx context.Context, audio []byte) ([]transcript.Turn, error) {
	var out diarizeResponse
	if err := postAudio(ctx, c.httpClient, c.baseURL+"/diarize", nil, audio, &out); err != nil {
		return nil, err
	}
	return out.Segments, nil
}
