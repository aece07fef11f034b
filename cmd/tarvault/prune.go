package main

import (
	"errors"

	"github.com/mweber/tarvault/internal/services/runner"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Run only the retention sweep",
	Long: `Remove backup directories older than the retention window without
creating a new backup. Takes the same run lock as a full backup, so it never
races an in-flight run.`,
	RunE: runPrune,
}

func runPrune(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		if errors.Is(err, errConfigFlagMissing) {
			return cmd.Help()
		}
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	runnerSvc := runner.New(log.Logger)
	if err := runnerSvc.Prune(ctx, *cfg); err != nil {
		log.Error().Err(err).Msg("prune failed")
		return err
	}

	return nil
}
