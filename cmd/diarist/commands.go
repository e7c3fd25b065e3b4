package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/diarist/internal/broker"
	"github.com/MikeSquared-Agency/diarist/internal/events"
	"github.com/MikeSquared-Agency/diarist/internal/sweeper"
	"github.com/MikeSquared-Agency/diarist/internal/transcript"
)

func newSweepCmd() *cobra.Command {
	var maxAge time.Duration
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete incomplete sessions idle longer than the max age, once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()
			if maxAge > 0 {
				cfg.SweepMaxAge = maxAge
			}

			ctx := cmd.Context()
			db, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			asm := transcript.NewAssembler(transcript.NewStoreAdapter(db), nil, nil, nil)
			removed, err := sweeper.New(asm, sweeper.Config{MaxAge: cfg.SweepMaxAge}).RunOnce(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d stale sessions\n", removed)
			return nil
		},
	}
	cmd.Flags().DurationVar(&maxAge, "max-age", 0, "override SWEEP_MAX_AGE_HOURS (e.g. 12h)")
	return cmd
}

func newTranscriptCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "transcript <session-id>",
		Short: "Print a session transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()

			ctx := cmd.Context()
			db, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			asm := transcript.NewAssembler(transcript.NewStoreAdapter(db), nil, nil, nil)
			out, err := asm.RenderTranscript(ctx, args[0], format)
			if err != nil {
				return err
			}
			return printTranscript(cmd, out)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "text", "text, detailed or json")
	return cmd
}

func printTranscript(cmd *cobra.Command, out any) error {
	if text, ok := out.(string); ok {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), text)
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func newEventsCmd() *cobra.Command {
	var (
		durable string
		text    bool
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Tail session lifecycle events as JSON lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()
			if cfg.NatsURL == "" {
				return errors.New("NATS_URL is required to tail events")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			bus, err := broker.New(cfg.NatsURL)
			if err != nil {
				return err
			}
			defer bus.Close()
			if err := bus.EnsureStream(ctx); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			enc := json.NewEncoder(out)
			if err := bus.Tail(ctx, durable, func(_ context.Context, e events.Event) {
				if text {
					fmt.Fprintln(out, formatEvent(e))
					return
				}
				_ = enc.Encode(e)
			}); err != nil {
				return err
			}
			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().StringVar(&durable, "durable", "", "durable consumer name to resume from")
	cmd.Flags().BoolVar(&text, "text", false, "print one human readable line per event")
	return cmd
}

// formatEvent renders an event as "timestamp type session key=value ...".
func formatEvent(e events.Event) string {
	meta := e.MetadataMap()
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s %s", e.Timestamp.UTC().Format(time.RFC3339), e.EventType, e.SessionID)
	for _, k := range keys {
		fmt.Fprintf(&sb, " %s=%v", k, meta[k])
	}
	return sb.String()
}
