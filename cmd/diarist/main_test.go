package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/diarist/internal/config"
	"github.com/MikeSquared-Agency/diarist/internal/events"
	"github.com/MikeSquared-Agency/diarist/internal/store"
	"github.com/MikeSquared-Agency/diarist/internal/transcript"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"info":  slog.LevelInfo,
		"":      slog.LevelInfo,
		"bogus": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSetupLogging_File(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	path := filepath.Join(t.TempDir(), "diarist.log")
	closeLog := setupLogging("info", path)
	slog.Info("hello", "k", "v")
	closeLog()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(data), &line); err != nil {
		t.Fatalf("expected JSON log line, got %q", data)
	}
	if line["msg"] != "hello" || line["k"] != "v" {
		t.Errorf("unexpected log line %v", line)
	}
}

func TestOpenStore_SQLite(t *testing.T) {
	cfg := config.Config{StoreBackend: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "d.sqlite")}
	db, err := openStore(context.Background(), cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer db.Close()

	rows, err := db.ListSessions(context.Background(), store.ListFilter{})
	if err != nil {
		t.Fatalf("list on migrated store: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("expected empty store, got %d rows", len(rows))
	}
}

func TestOpenStore_UnknownBackend(t *testing.T) {
	if _, err := openStore(context.Background(), config.Config{StoreBackend: "redis"}); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestPrintTranscript(t *testing.T) {
	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)

	if err := printTranscript(cmd, "SPEAKER_1: hi"); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "SPEAKER_1: hi\n" {
		t.Errorf("unexpected text output %q", buf.String())
	}

	buf.Reset()
	structured := transcript.Structured{Conversation: []transcript.Utterance{{Speaker: "SPEAKER_1", Text: "hi", End: 1}}}
	if err := printTranscript(cmd, structured); err != nil {
		t.Fatal(err)
	}
	var got transcript.Structured
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("expected JSON output: %v", err)
	}
	if len(got.Conversation) != 1 || got.Conversation[0].Speaker != "SPEAKER_1" {
		t.Errorf("unexpected structured output %+v", got)
	}
}

func TestFormatEvent(t *testing.T) {
	e := events.Event{
		SessionID: "sess-1",
		EventType: events.TypeSessionFinalized,
		Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Metadata:  json.RawMessage(`{"total_speakers":2,"chunks":3}`),
	}
	want := "2026-01-02T03:04:05Z session.finalized sess-1 chunks=3 total_speakers=2"
	if got := formatEvent(e); got != want {
		t.Errorf("formatEvent = %q, want %q", got, want)
	}
}
