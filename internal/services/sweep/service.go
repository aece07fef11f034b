// Package sweep removes backup directories past the retention window.
package sweep

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/mweber/tarvault/internal/models"
	"github.com/rs/zerolog"
)

// Service defines the interface for the retention sweep.
type Service interface {
	Sweep(ctx context.Context, root string, policy models.RetentionPolicy) (*models.SweepResult, error)
}

// Impl implements the sweep Service interface.
type Impl struct {
	logger zerolog.Logger
	now    func() time.Time
}

// New creates a new sweep service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{logger: logger, now: time.Now}
}

// NewWithClock creates a new sweep service with a custom clock (for testing).
func NewWithClock(logger zerolog.Logger, now func() time.Time) *Impl {
	return &Impl{logger: logger, now: now}
}

// Sweep deletes immediate subdirectories of root strictly older than the
// retention window. A directory's age comes from its timestamp name when it
// parses, otherwise from its modification time. Deletion failures are
// warnings: the sweep is advisory cleanup, not transactional.
func (s *Impl) Sweep(ctx context.Context, root string, policy models.RetentionPolicy) (*models.SweepResult, error) {
	result := &models.SweepResult{}

	if policy.Days == 0 {
		s.logger.Info().Msg("retention disabled, skipping sweep")
		return result, nil
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		result.Warnings = append(result.Warnings, err)
		return result, nil
	}

	cutoff := s.now().AddDate(0, 0, -policy.Days)

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		select {
		case <-ctx.Done():
			result.Warnings = append(result.Warnings, ctx.Err())
			return result, nil
		default:
		}

		path := filepath.Join(root, entry.Name())
		born, ok := birthTime(entry)
		if !ok {
			result.Kept++
			continue
		}

		if !born.Before(cutoff) {
			result.Kept++
			continue
		}

		if err := os.RemoveAll(path); err != nil {
			s.logger.Warn().Err(err).Str("dir", path).Msg("could not remove expired backup")
			result.Warnings = append(result.Warnings, err)
			continue
		}

		s.logger.Info().Str("dir", path).Time("created", born).Msg("removed expired backup")
		result.Removed = append(result.Removed, path)
	}

	return result, nil
}

// birthTime determines when a backup directory was created. The timestamp
// encoded in the name is preferred: it is fixed at creation and immune to a
// later touch of the directory's mtime.
func birthTime(entry os.DirEntry) (time.Time, bool) {
	if ts, err := time.ParseInLocation(models.TimestampLayout, entry.Name(), time.Local); err == nil {
		return ts, true
	}

	info, err := entry.Info()
	if err != nil {
		return time.Time{}, false
	}
	return info.ModTime(), true
}
