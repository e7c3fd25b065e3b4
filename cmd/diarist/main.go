package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/diarist/internal/config"
	"github.com/MikeSquared-Agency/diarist/internal/store"
	"github.com/MikeSquared-Agency/diarist/internal/store/mongostore"
	"github.com/MikeSquared-Agency/diarist/internal/store/sqlitestore"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "diarist",
		Short:         "Streaming speaker diarization and transcript assembly service",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newSweepCmd())
	rootCmd.AddCommand(newTranscriptCmd())
	rootCmd.AddCommand(newEventsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads configuration and installs the global logger.
func loadConfig() (config.Config, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}
	closeLog := setupLogging(cfg.LogLevel, cfg.LogFile)
	return cfg, closeLog, nil
}

// openStore connects to the configured backend and ensures its schema.
func openStore(ctx context.Context, cfg config.Config) (store.DataStore, error) {
	var (
		db  store.DataStore
		err error
	)
	switch cfg.StoreBackend {
	case "postgres":
		db, err = store.New(ctx, cfg.DatabaseURL)
	case "mongo":
		db, err = mongostore.New(ctx, cfg.MongoURL, cfg.MongoDatabase)
	case "sqlite":
		db, err = sqlitestore.Open(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.StoreBackend, err)
	}

	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate %s store: %w", cfg.StoreBackend, err)
	}
	return db, nil
}
