package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/diarist/internal/api"
	"github.com/MikeSquared-Agency/diarist/internal/broker"
	"github.com/MikeSquared-Agency/diarist/internal/config"
	"github.com/MikeSquared-Agency/diarist/internal/inference"
	slackalert "github.com/MikeSquared-Agency/diarist/internal/slack"
	"github.com/MikeSquared-Agency/diarist/internal/sweeper"
	"github.com/MikeSquared-Agency/diarist/internal/transcript"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, event publisher and stale session sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()
			return serve(cfg)
		},
	}
}

func serve(cfg config.Config) error {
	slog.Info("diarist starting",
		"port", cfg.Port,
		"store_backend", cfg.StoreBackend,
		"nats_url", cfg.NatsURL,
		"inference_concurrency", cfg.InferenceConcurrency,
		"request_concurrency", cfg.RequestConcurrency,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Step 1: Connect to the session store.
	db, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	slog.Info("store connected", "backend", cfg.StoreBackend)

	// Step 2: Model clients behind a shared concurrency limiter.
	limiter := inference.NewLimiter(cfg.InferenceConcurrency, cfg.InferenceTimeout)
	diarizer := limiter.Diarizer(inference.NewDiarizerClient(cfg.DiarizerURL))
	transcriber := limiter.Transcriber(inference.NewWhisperClient(cfg.TranscriberURL, cfg.TranscriberModel))

	// Step 3: Optional event bus.
	var (
		bus     *broker.Broker
		publish transcript.PublishFunc
	)
	if cfg.NatsURL != "" {
		bus, err = broker.New(cfg.NatsURL)
		if err != nil {
			return err
		}
		defer bus.Close()
		if err := bus.EnsureStream(ctx); err != nil {
			slog.Warn("event stream unavailable, publishing without retention", "error", err)
		}
		publish = bus.Publish
		slog.Info("session events enabled", "stream", broker.StreamName)
	}

	asm := transcript.NewAssembler(transcript.NewStoreAdapter(db), diarizer, transcriber, publish)

	// Conditionally create Slack alerter for processing failures.
	var alerter *slackalert.Alerter
	if cfg.SlackBotToken != "" && cfg.SlackAlertChannel != "" {
		alerter = slackalert.NewAlerter(cfg.SlackBotToken, cfg.SlackAlertChannel)
		asm.SetAlerter(alerter.Notify)
		slog.Info("Slack failure alerter enabled", "channel", cfg.SlackAlertChannel)
	}

	// Step 4: Stale session sweeper.
	sw := sweeper.New(asm, sweeper.Config{Interval: cfg.SweepInterval, MaxAge: cfg.SweepMaxAge})
	if alerter != nil {
		sw.SetAlerter(func(err error) { alerter.Notify("", "sweep", err) })
	}
	sw.Start(ctx)
	slog.Info("sweeper started", "interval", cfg.SweepInterval, "max_age", cfg.SweepMaxAge)

	// Step 5: HTTP API.
	srv := api.NewServer(asm, api.Config{
		Port:               cfg.Port,
		MaxChunkBytes:      cfg.MaxChunkBytes,
		RequestConcurrency: cfg.RequestConcurrency,
	})
	if bus != nil {
		srv.SetEventsCheck(bus.Connected)
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	slog.Info("diarist ready", "port", cfg.Port)

	// Wait for shutdown signal or server failure.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	var serveErr error
	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig)
	case serveErr = <-errCh:
		slog.Error("HTTP server error", "error", serveErr)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		slog.Warn("HTTP shutdown failed", "error", err)
	}
	cancel()
	sw.Wait()
	slog.Info("diarist stopped")
	return serveErr
}
