package inference

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/diarist/internal/transcript"
)

func TestDiarizerClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/diarize", r.URL.Path)

		f, _, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		data, _ := io.ReadAll(f)
		assert.Equal(t, "RIFFdata", string(data))

		json.NewEncoder(w).Encode(map[string]any{
			"segments": []map[string]any{
				{"start": 0.0, "end": 1.5, "speaker": "SPEAKER_00"},
				{"start": 1.5, "end": 3.0, "speaker": "SPEAKER_01"},
			},
		})
	}))
	defer srv.Close()

	turns, err := NewDiarizerClient(srv.URL+"/").Diarize(context.Background(), []byte("RIFFdata"))
	require.NoError(t, err)
	assert.Equal(t, []transcript.Turn{
		{Start: 0, End: 1.5, Speaker: "SPEAKER_00"},
		{Start: 1.5, End: 3.0, Speaker: "SPEAKER_01"},
	}, turns)
}

func TestWhisperClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transcribe", r.URL.Path)
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "base", r.FormValue("model"))
		assert.Equal(t, "json", r.FormValue("response_format"))

		w.Write([]byte(`{"language":"en","segments":[{"start":0,"end":1.2,"text":" hello there "}]}`))
	}))
	defer srv.Close()

	spans, err := NewWhisperClient(srv.URL, "base").Transcribe(context.Background(), []byte("RIFF"))
	require.NoError(t, err)
	assert.Equal(t, []transcript.Span{{Start: 0, End: 1.2, Text: "hello there"}}, spans)
}

func TestClient_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewDiarizerClient(srv.URL).Diarize(context.Background(), []byte("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "model not loaded")
}

func TestClient_BadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	_, err := NewWhisperClient(srv.URL, "").Transcribe(context.Background(), []byte("x"))
	assert.ErrorContains(t, err, "decode response")
}

type slowDiarizer struct {
	active  atomic.Int32
	maxSeen atomic.Int32
	delay   time.Duration
}

func (s *slowDiarizer) Diarize(ctx context.Context, _ []byte) ([]transcript.Turn, error) {
	n := s.active.Add(1)
	defer s.active.Add(-1)
	for {
		prev := s.maxSeen.Load()
		if n <= prev || s.maxSeen.CompareAndSwap(prev, n) {
			break
		}
	}
	select {
	case <-time.After(s.delay):
		return []transcript.Turn{{Start: 0, End: 1, Speaker: "A"}}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestLimiter_BoundsConcurrency(t *testing.T) {
	slow := &slowDiarizer{delay: 20 * time.Millisecond}
	d := NewLimiter(2, 0).Diarizer(slow)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			turns, err := d.Diarize(context.Background(), nil)
			assert.NoError(t, err)
			assert.Len(t, turns, 1)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, slow.maxSeen.Load(), int32(2))
}

func TestLimiter_Timeout(t *testing.T) {
	slow := &slowDiarizer{delay: time.Second}
	d := NewLimiter(1, 10*time.Millisecond).Diarizer(slow)

	_, err := d.Diarize(context.Background(), nil)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
}

type echoTranscriber struct{ err error }

func (e echoTranscriber) Transcribe(context.Context, []byte) ([]transcript.Span, error) {
	if e.err != nil {
		return nil, e.err
	}
	return []transcript.Span{{Start: 0, End: 1, Text: "ok"}}, nil
}

func TestLimiter_Transcriber(t *testing.T) {
	l := NewLimiter(1, time.Second)

	spans, err := l.Transcriber(echoTranscriber{}).Transcribe(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, spans, 1)

	boom := errors.New("boom")
	_, err = l.Transcriber(echoTranscriber{err: boom}).Transcribe(context.Background(), nil)
	assert.ErrorIs(t, err, boom)
}

func TestLimiter_CancelledWhileWaiting(t *testing.T) {
	l := NewLimiter(1, 0)
	slow := &slowDiarizer{delay: 200 * time.Millisecond}
	d := l.Diarizer(slow)

	go d.Diarize(context.Background(), nil)
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := d.Diarize(ctx, nil)
	assert.ErrorContains(t, err, "acquire diarizer slot")
}
