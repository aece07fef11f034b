package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/mweber/tarvault/internal/config"
	"github.com/mweber/tarvault/internal/models"
	"github.com/mweber/tarvault/internal/services/runner"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var errConfigFlagMissing = errors.New("config file is required")

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one backup run",
	Long: `Execute the complete backup pipeline:
1. Acquire the run lock
2. Wake the destination host (if configured)
3. Validate every source directory
4. Archive all sources into a timestamped tarball
5. Verify archive integrity
6. Sweep backups past the retention window
7. Shut the destination host down (if configured)
8. Send email/Telegram notifications (if configured)`,
	RunE: runBackup,
}

func runBackup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		if errors.Is(err, errConfigFlagMissing) {
			return cmd.Help()
		}
		return err
	}

	log.Info().
		Str("config", configFile).
		Str("destination", cfg.Backup.DestinationRoot).
		Int("sources", len(cfg.Backup.Sources)).
		Msg("configuration loaded")

	ctx, cancel := signalContext()
	defer cancel()

	runnerSvc := runner.New(log.Logger)
	if err := runnerSvc.Run(ctx, *cfg); err != nil {
		log.Error().Err(err).Msg("backup failed")
		return err
	}

	log.Info().Msg("backup completed successfully")
	return nil
}

// loadConfig parses and validates the file named by the --config flag.
func loadConfig() (*models.Config, error) {
	if configFile == "" {
		log.Error().Msg("config file is required")
		return nil, errConfigFlagMissing
	}

	parser := config.NewParser()
	cfg, err := parser.LoadFile(configFile)
	if err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("failed to load config")
		return nil, err
	}

	if err := config.Validate(cfg); err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return nil, err
	}

	return cfg, nil
}

// signalContext returns a context cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Warn().Str("signal", sig.String()).Msg("received signal, shutting down")
		cancel()
	}()

	return ctx, cancel
}
