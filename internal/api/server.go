package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MikeSquared-Agency/diarist/internal/transcript"
)

// Service is the session surface the HTTP API exposes.
type Service interface {
	ProcessChunk(ctx context.Context, in transcript.ChunkInput) (*transcript.Session, error)
	Finalize(ctx context.Context, sessionID string) (*transcript.Session, error)
	RenderTranscript(ctx context.Context, sessionID, format string) (any, error)
	Session(ctx context.Context, sessionID string) (*transcript.Session, error)
	Status(ctx context.Context, sessionID string) (transcript.Status, error)
	ListSessions(ctx context.Context, f transcript.ListFilter) ([]transcript.Session, error)
	Stats(ctx context.Context, sessionID string) (*transcript.ChunkStats, error)
	MergedAudio(ctx context.Context, sessionID string) ([]byte, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

type Config struct {
	Port               int
	MaxChunkBytes      int64
	RequestConcurrency int
}

// multipartOverhead is the allowance for form fields and part headers on
// top of the audio payload.
const multipartOverhead = 1 << 20

type Server struct {
	svc           Service
	router        chi.Router
	port          int
	maxChunkBytes int64
	eventsUp      func() bool
	http          *http.Server
}

func NewServer(svc Service, cfg Config) *Server {
	srv := &Server{
		svc:           svc,
		port:          cfg.Port,
		maxChunkBytes: cfg.MaxChunkBytes,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	if cfg.RequestConcurrency > 0 {
		r.Use(middleware.Throttle(cfg.RequestConcurrency))
	}

	r.Handle("/metrics", promhttp.Handler())
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", srv.handleHealth)
		r.Route("/audio", func(r chi.Router) {
			r.Post("/upload", srv.handleUpload)
			r.Get("/sessions", srv.handleListSessions)
			r.Route("/session/{sessionID}", func(r chi.Router) {
				r.Get("/", srv.handleGetSession)
				r.Delete("/", srv.handleDeleteSession)
				r.Get("/status", srv.handleStatus)
				r.Get("/transcript", srv.handleTranscript)
				r.Get("/stats", srv.handleStats)
				r.Get("/audio", srv.handleAudio)
				r.Post("/finalize", srv.handleFinalize)
			})
		})
	})

	srv.router = r
	return srv
}

// SetEventsCheck registers a check reported by the health endpoint.
func (s *Server) SetEventsCheck(fn func() bool) {
	s.eventsUp = fn
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("starting HTTP API", "addr", addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":  "ok",
		"service": "diarist",
	}
	if s.eventsUp != nil {
		body["events_connected"] = s.eventsUp()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxChunkBytes+multipartOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "upload too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid multipart form"})
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("audio_file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "audio_file is required"})
		return
	}
	defer file.Close()

	if header.Size > s.maxChunkBytes {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "audio chunk too large"})
		return
	}
	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read audio_file"})
		return
	}

	sequence, err := strconv.Atoi(r.FormValue("sequence_number"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "sequence_number must be an integer"})
		return
	}
	isFinal, err := strconv.ParseBool(r.FormValue("is_final"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "is_final must be a boolean"})
		return
	}

	sess, err := s.svc.ProcessChunk(r.Context(), transcript.ChunkInput{
		SessionID: r.FormValue("session_id"),
		Sequence:  sequence,
		IsFinal:   isFinal,
		Filename:  header.Filename,
		Audio:     data,
	})
	if err != nil {
		writeError(w, "process chunk", err)
		return
	}

	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.svc.Session(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, "get session", err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Status(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, "session status", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	out, err := s.svc.RenderTranscript(r.Context(), chi.URLParam(r, "sessionID"), r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, "render transcript", err)
		return
	}
	if text, ok := out.(string); ok {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, text)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Stats(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, "chunk stats", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	data, err := s.svc.MergedAudio(r.Context(), sessionID)
	if err != nil {
		writeError(w, "merged audio", err)
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", sessionID+".wav"))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	sess, err := s.svc.Finalize(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, "finalize session", err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteSession(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		writeError(w, "delete session", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := transcript.ListFilter{Limit: 50}

	var err error
	if v := q.Get("skip"); v != "" {
		if f.Skip, err = strconv.Atoi(v); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "skip must be an integer"})
			return
		}
	}
	if v := q.Get("limit"); v != "" {
		if f.Limit, err = strconv.Atoi(v); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be an integer"})
			return
		}
	}
	if v := q.Get("completed_only"); v != "" {
		if f.CompletedOnly, err = strconv.ParseBool(v); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "completed_only must be a boolean"})
			return
		}
	}

	sessions, err := s.svc.ListSessions(r.Context(), f)
	if err != nil {
		writeError(w, "list sessions", err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

// writeError maps assembler error kinds to HTTP statuses. Validation
// messages are returned to the caller; everything else stays in the log.
func writeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, transcript.ErrValidation):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, transcript.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
	case errors.Is(err, transcript.ErrConflict):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "session was modified concurrently, retry"})
	case errors.Is(err, transcript.ErrModel):
		slog.Error(op+" failed", "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "model inference failed"})
	default:
		slog.Error(op+" failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
