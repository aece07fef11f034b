// Package runner orchestrates the backup pipeline.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mweber/tarvault/internal/lockfile"
	"github.com/mweber/tarvault/internal/logfile"
	"github.com/mweber/tarvault/internal/models"
	"github.com/mweber/tarvault/internal/services/archive"
	"github.com/mweber/tarvault/internal/services/mail"
	"github.com/mweber/tarvault/internal/services/power"
	"github.com/mweber/tarvault/internal/services/sweep"
	"github.com/mweber/tarvault/internal/services/telegram"
	"github.com/mweber/tarvault/internal/services/verify"
	"github.com/rs/zerolog"
)

// ErrSourceMissing indicates a configured source path does not exist or is
// not a directory. The run aborts on the first such path: a backup silently
// missing one of its sources is worse than no backup at all.
var ErrSourceMissing = errors.New("source path missing")

// Service defines the interface for the backup runner.
type Service interface {
	Run(ctx context.Context, cfg models.Config) error
	Prune(ctx context.Context, cfg models.Config) error
}

// Impl implements the runner Service interface.
type Impl struct {
	archiveSvc  archive.Service
	verifySvc   verify.Service
	sweepSvc    sweep.Service
	mailSvc     mail.Service
	telegramSvc telegram.Service
	powerSvc    power.Service
	logger      zerolog.Logger
	now         func() time.Time
}

// New creates a new runner service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		archiveSvc:  archive.New(logger),
		verifySvc:   verify.New(logger),
		sweepSvc:    sweep.New(logger),
		mailSvc:     mail.New(logger),
		telegramSvc: telegram.New(logger),
		powerSvc:    power.New(logger),
		logger:      logger,
		now:         time.Now,
	}
}

// NewWithServices creates a new runner service with custom services (for testing).
func NewWithServices(
	logger zerolog.Logger,
	archiveSvc archive.Service,
	verifySvc verify.Service,
	sweepSvc sweep.Service,
	mailSvc mail.Service,
	telegramSvc telegram.Service,
	powerSvc power.Service,
	now func() time.Time,
) *Impl {
	return &Impl{
		archiveSvc:  archiveSvc,
		verifySvc:   verifySvc,
		sweepSvc:    sweepSvc,
		mailSvc:     mailSvc,
		telegramSvc: telegramSvc,
		powerSvc:    powerSvc,
		logger:      logger,
		now:         now,
	}
}

// Run executes one complete backup: lock, audit log, optional wake, source
// validation, archive, verification, retention sweep, optional shutdown,
// notification. The lock is released and the notification attempted on every
// exit path.
//
//nolint:gocognit,gocyclo // backup pipeline has multiple sequential stages by design
func (s *Impl) Run(ctx context.Context, cfg models.Config) error {
	// The lock comes before everything else: a concurrent invocation must
	// abort without touching the log or the destination root.
	lock, err := lockfile.Acquire(cfg.Lock.Path)
	if err != nil {
		s.logger.Error().Err(err).Str("lock", cfg.Lock.Path).Msg("could not acquire run lock")
		return err
	}
	defer func() { _ = lock.Release() }()

	audit, err := logfile.Open(cfg.Log)
	if err != nil {
		// Best-effort logging: a broken log file must not stop the backup.
		s.logger.Warn().Err(err).Msg("audit log unavailable, continuing without it")
		audit = nil
	}
	defer func() { _ = audit.Close() }()

	startTime := s.now()
	var failedStage string
	var runErr error

	report := &models.RunReport{
		Hostname:  cfg.Backup.Hostname,
		StartTime: startTime,
		LogPath:   cfg.Log.Path(),
	}

	defer func() {
		report.Success = runErr == nil
		report.Duration = time.Since(startTime)
		if runErr != nil {
			report.FailedStage = failedStage
			report.ErrorMessage = runErr.Error()
		}
		s.sendNotifications(ctx, cfg, audit, *report)
	}()

	s.logger.Info().
		Str("destination", cfg.Backup.DestinationRoot).
		Strs("sources", cfg.Backup.Sources).
		Msg("starting backup run")
	audit.Info("Backup started (host=%s, sources=%d)", cfg.Backup.Hostname, len(cfg.Backup.Sources))

	// Stage 1: wake the destination host (if configured).
	if cfg.Power != nil && cfg.Power.WOL != nil {
		failedStage = "wake"
		if err := s.runWake(ctx, cfg.Power.WOL); err != nil {
			runErr = err
			audit.Error("Wake failed: %v", err)
			return err
		}
	}

	// Stage 2: validate every source before touching the destination.
	failedStage = "validate"
	if err := validateSources(cfg.Backup.Sources); err != nil {
		runErr = err
		s.logger.Error().Err(err).Msg("source validation failed")
		audit.Error("Source validation failed: %v", err)
		return err
	}

	// Stage 3: archive into a fresh timestamped directory.
	failedStage = "archive"
	destDir := filepath.Join(cfg.Backup.DestinationRoot, startTime.Format(models.TimestampLayout))
	archiveResult, err := s.archiveSvc.Create(ctx, cfg.Backup, destDir, startTime)
	if err != nil {
		runErr = err
		audit.Error("Archive creation failed: %v", err)
		return err
	}
	if archiveResult.Error != nil {
		runErr = archiveResult.Error
		s.logger.Error().Err(archiveResult.Error).Str("dir", destDir).Msg("archive creation failed, directory left for inspection")
		audit.Error("Archive creation failed: %v", archiveResult.Error)
		return archiveResult.Error
	}
	report.ArchivePath = archiveResult.Path
	report.ArchiveSize = archiveResult.SizeBytes
	report.FileCount = archiveResult.FileCount
	audit.Info("Archive created: %s (%d files, %d bytes)", archiveResult.Path, archiveResult.FileCount, archiveResult.SizeBytes)

	// Stage 4: verify the archive independently of the creation exit status.
	failedStage = "verify"
	verifyResult, err := s.verifySvc.Verify(ctx, archiveResult.Path, cfg.Verify)
	if err != nil {
		runErr = err
		audit.Error("Archive verification failed: %v", err)
		return err
	}
	if verifyResult.Error != nil {
		runErr = verifyResult.Error
		audit.Error("Archive verification failed: %v", verifyResult.Error)
		return verifyResult.Error
	}
	audit.Info("Archive verified: %d entries", verifyResult.Entries)

	// Stage 5: retention sweep, only after a verified backup.
	failedStage = "sweep"
	sweepResult, err := s.sweepSvc.Sweep(ctx, cfg.Backup.DestinationRoot, cfg.Retention)
	if err != nil {
		runErr = err
		audit.Error("Retention sweep failed: %v", err)
		return err
	}
	for _, warn := range sweepResult.Warnings {
		audit.Warning("Retention sweep: %v", warn)
	}
	report.DirsRemoved = len(sweepResult.Removed)
	if cfg.Retention.Days > 0 {
		audit.Info("Retention sweep: removed %d, kept %d (window %dd)", len(sweepResult.Removed), sweepResult.Kept, cfg.Retention.Days)
	}

	// Stage 6: shut the destination host down (if configured). A failure
	// here does not fail the run: the backup itself is already safe.
	if cfg.Power != nil && cfg.Power.Shutdown != nil {
		if err := s.runShutdown(ctx, cfg.Power.Shutdown); err != nil {
			s.logger.Warn().Err(err).Msg("destination shutdown failed")
			audit.Warning("Destination shutdown failed: %v", err)
		}
	}

	failedStage = ""
	report.Duration = time.Since(startTime)
	s.logger.Info().
		Str("archive", archiveResult.Path).
		Dur("duration", report.Duration).
		Msg("backup run completed successfully")
	audit.Success("Backup completed: %s (%d bytes, %s)", archiveResult.Path, archiveResult.SizeBytes, report.Duration.Round(time.Second))

	return nil
}

// Prune runs only the retention sweep, under the same lock as a full run.
func (s *Impl) Prune(ctx context.Context, cfg models.Config) error {
	lock, err := lockfile.Acquire(cfg.Lock.Path)
	if err != nil {
		s.logger.Error().Err(err).Str("lock", cfg.Lock.Path).Msg("could not acquire run lock")
		return err
	}
	defer func() { _ = lock.Release() }()

	audit, err := logfile.Open(cfg.Log)
	if err != nil {
		s.logger.Warn().Err(err).Msg("audit log unavailable, continuing without it")
		audit = nil
	}
	defer func() { _ = audit.Close() }()

	result, err := s.sweepSvc.Sweep(ctx, cfg.Backup.DestinationRoot, cfg.Retention)
	if err != nil {
		audit.Error("Retention sweep failed: %v", err)
		return err
	}
	for _, warn := range result.Warnings {
		audit.Warning("Retention sweep: %v", warn)
	}
	audit.Info("Retention sweep: removed %d, kept %d", len(result.Removed), result.Kept)

	s.logger.Info().
		Int("removed", len(result.Removed)).
		Int("kept", result.Kept).
		Msg("prune completed")

	return nil
}

// validateSources confirms every source exists and is a directory. os.Stat
// follows symlinks, so a broken link fails here rather than mid-archive.
func validateSources(sources []string) error {
	for _, source := range sources {
		info, err := os.Stat(source)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrSourceMissing, source)
		}
		if !info.IsDir() {
			return fmt.Errorf("%w: %s is not a directory", ErrSourceMissing, source)
		}
	}
	return nil
}

func (s *Impl) runWake(ctx context.Context, cfg *models.WOLConfig) error {
	result, err := s.powerSvc.Wake(ctx, *cfg)
	if err != nil {
		return fmt.Errorf("wake failed: %w", err)
	}
	if result.Error != nil {
		return fmt.Errorf("wake failed: %w", result.Error)
	}
	if !result.TargetReady && cfg.PollURL != "" {
		return fmt.Errorf("destination host did not become ready")
	}
	return nil
}

func (s *Impl) runShutdown(ctx context.Context, cfg *models.ShutdownConfig) error {
	result, err := s.powerSvc.Shutdown(ctx, *cfg)
	if err != nil {
		return err
	}
	if result.Error != nil && !result.CommandRun {
		return result.Error
	}
	return nil
}

// sendNotifications delivers the run report over every configured channel.
// Delivery is best-effort and never changes the run outcome.
func (s *Impl) sendNotifications(ctx context.Context, cfg models.Config, audit *logfile.Logger, report models.RunReport) {
	if cfg.Email != nil {
		result, err := s.mailSvc.SendReport(ctx, *cfg.Email, report)
		if err == nil && result.Error != nil {
			err = result.Error
		}
		if err != nil {
			s.logger.Warn().Err(err).Msg("email notification failed")
			audit.Warning("Email notification failed: %v", err)
		}
	}

	if cfg.Telegram != nil {
		result, err := s.telegramSvc.SendReport(ctx, *cfg.Telegram, report)
		if err == nil && result.Error != nil {
			err = result.Error
		}
		if err != nil {
			s.logger.Warn().Err(err).Msg("Telegram notification failed")
			audit.Warning("Telegram notification failed: %v", err)
		}
	}
}
