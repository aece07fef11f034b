// Package verify checks archive integrity after creation.
//
// The check is an independent gate: a clean exit from the archiver can still
// leave a truncated or corrupt file behind under disk-full or interrupted
// conditions, so the archive is re-read from disk in full.
package verify

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/mweber/tarvault/internal/models"
	"github.com/rs/zerolog"
)

// ErrArchiveInvalid indicates the archive is structurally broken or
// implausibly small.
var ErrArchiveInvalid = errors.New("archive failed verification")

// Service defines the interface for archive verification.
type Service interface {
	Verify(ctx context.Context, path string, settings models.VerifySettings) (*models.VerifyResult, error)
}

// Impl implements the verify Service interface.
type Impl struct {
	logger zerolog.Logger
}

// New creates a new verify service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{logger: logger}
}

// Verify decompresses the whole gzip stream and walks every tar entry, then
// applies the minimum size gate.
func (s *Impl) Verify(ctx context.Context, path string, settings models.VerifySettings) (*models.VerifyResult, error) {
	result := &models.VerifyResult{}

	info, err := os.Stat(path)
	if err != nil {
		result.Error = fmt.Errorf("%w: %v", ErrArchiveInvalid, err)
		return result, nil
	}
	result.SizeBytes = info.Size()

	if result.SizeBytes < settings.MinSizeBytes {
		result.Error = fmt.Errorf("%w: size %d below minimum %d bytes", ErrArchiveInvalid, result.SizeBytes, settings.MinSizeBytes)
		return result, nil
	}

	file, err := os.Open(path) //nolint:gosec // path was produced by the archiver
	if err != nil {
		result.Error = fmt.Errorf("%w: %v", ErrArchiveInvalid, err)
		return result, nil
	}
	defer func() { _ = file.Close() }()

	gzr, err := gzip.NewReader(file)
	if err != nil {
		result.Error = fmt.Errorf("%w: not a gzip stream: %v", ErrArchiveInvalid, err)
		return result, nil
	}
	defer func() { _ = gzr.Close() }()

	tr := tar.NewReader(gzr)
	for {
		select {
		case <-ctx.Done():
			result.Error = ctx.Err()
			return result, nil
		default:
		}

		_, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			result.Error = fmt.Errorf("%w: corrupt tar entry after %d entries: %v", ErrArchiveInvalid, result.Entries, err)
			return result, nil
		}
		if _, err := io.Copy(io.Discard, tr); err != nil {
			result.Error = fmt.Errorf("%w: truncated entry after %d entries: %v", ErrArchiveInvalid, result.Entries, err)
			return result, nil
		}
		result.Entries++
	}

	result.Passed = true

	s.logger.Info().
		Str("archive", path).
		Int("entries", result.Entries).
		Int64("size_bytes", result.SizeBytes).
		Msg("archive verified")

	return result, nil
}
