// Package archive creates the compressed tarball for one backup run.
package archive

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mweber/tarvault/internal/models"
	"github.com/rs/zerolog"
)

// ErrCreationFailed indicates the archive could not be written. The
// destination directory is left in place so an operator can inspect any
// partial output.
var ErrCreationFailed = errors.New("archive creation failed")

// Service defines the interface for archive creation.
type Service interface {
	Create(ctx context.Context, settings models.BackupSettings, destDir string, timestamp time.Time) (*models.ArchiveResult, error)
}

// Impl implements the archive Service interface using Go's native tar and
// gzip writers.
type Impl struct {
	logger zerolog.Logger
}

// New creates a new archive service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{logger: logger}
}

// Filename expands the configured filename template for one run.
func Filename(template, hostname string, timestamp time.Time) string {
	name := strings.ReplaceAll(template, "{timestamp}", timestamp.Format(models.TimestampLayout))
	return strings.ReplaceAll(name, "{hostname}", hostname)
}

// Create writes one tar.gz containing every source directory into destDir.
// Entry names keep the full source path with the leading slash stripped, so
// the archive restores relative to / regardless of working directory.
func (s *Impl) Create(ctx context.Context, settings models.BackupSettings, destDir string, timestamp time.Time) (*models.ArchiveResult, error) {
	start := time.Now()
	result := &models.ArchiveResult{}

	if err := os.MkdirAll(destDir, 0o750); err != nil {
		result.Error = fmt.Errorf("%w: creating %s: %v", ErrCreationFailed, destDir, err)
		result.Duration = time.Since(start)
		return result, nil
	}

	archivePath := filepath.Join(destDir, Filename(settings.FilenameTemplate, settings.Hostname, timestamp))
	result.Path = archivePath

	s.logger.Info().
		Strs("sources", settings.Sources).
		Str("archive", archivePath).
		Msg("creating archive")

	out, err := os.Create(archivePath) //nolint:gosec // path derives from validated config
	if err != nil {
		result.Error = fmt.Errorf("%w: creating %s: %v", ErrCreationFailed, archivePath, err)
		result.Duration = time.Since(start)
		return result, nil
	}

	gzw := gzip.NewWriter(out)
	tw := tar.NewWriter(gzw)

	count := 0
	for _, source := range settings.Sources {
		n, err := addTree(ctx, tw, source)
		count += n
		if err != nil {
			_ = tw.Close()
			_ = gzw.Close()
			_ = out.Close()
			result.FileCount = count
			result.Error = fmt.Errorf("%w: archiving %s: %v", ErrCreationFailed, source, err)
			result.Duration = time.Since(start)
			return result, nil
		}
	}

	// Close order matters: tar trailer, then gzip trailer, then the file.
	if err := tw.Close(); err == nil {
		err = gzw.Close()
		if err == nil {
			err = out.Close()
		}
		if err != nil {
			result.Error = fmt.Errorf("%w: finalizing %s: %v", ErrCreationFailed, archivePath, err)
			result.Duration = time.Since(start)
			return result, nil
		}
	} else {
		_ = gzw.Close()
		_ = out.Close()
		result.Error = fmt.Errorf("%w: finalizing %s: %v", ErrCreationFailed, archivePath, err)
		result.Duration = time.Since(start)
		return result, nil
	}

	if info, err := os.Stat(archivePath); err == nil {
		result.SizeBytes = info.Size()
	}
	result.FileCount = count
	result.Duration = time.Since(start)

	s.logger.Info().
		Str("archive", archivePath).
		Int("files", result.FileCount).
		Int64("size_bytes", result.SizeBytes).
		Dur("duration", result.Duration).
		Msg("archive created")

	return result, nil
}

// addTree walks one source directory and writes every entry to tw. It
// returns the number of regular files written.
func addTree(ctx context.Context, tw *tar.Writer, source string) (int, error) {
	count := 0

	err := filepath.Walk(source, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			// Access errors fail loudly rather than silently skipping
			// content that was requested for backup.
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		link := ""
		if info.Mode()&os.ModeSymlink != 0 {
			if link, err = os.Readlink(path); err != nil {
				return err
			}
		}

		header, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}
		header.Name = entryName(path)

		if err := tw.WriteHeader(header); err != nil {
			return err
		}

		if !info.Mode().IsRegular() {
			return nil
		}

		file, err := os.Open(path) //nolint:gosec // path comes from walking a validated source
		if err != nil {
			return err
		}
		defer func() { _ = file.Close() }()

		if _, err := io.Copy(tw, file); err != nil {
			return err
		}
		count++
		return nil
	})

	return count, err
}

// entryName converts an absolute path into its tar member name.
func entryName(path string) string {
	return strings.TrimPrefix(filepath.ToSlash(filepath.Clean(path)), "/")
}
