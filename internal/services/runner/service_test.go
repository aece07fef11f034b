package runner

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mweber/tarvault/internal/lockfile"
	"github.com/mweber/tarvault/internal/models"
	"github.com/mweber/tarvault/internal/services/archive"
	"github.com/mweber/tarvault/internal/services/sweep"
	"github.com/mweber/tarvault/internal/services/verify"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Mock implementations
type mockArchiveService struct {
	createFunc func(ctx context.Context, settings models.BackupSettings, destDir string, timestamp time.Time) (*models.ArchiveResult, error)
	called     bool
	destDir    string
}

func (m *mockArchiveService) Create(ctx context.Context, settings models.BackupSettings, destDir string, timestamp time.Time) (*models.ArchiveResult, error) {
	m.called = true
	m.destDir = destDir
	if m.createFunc != nil {
		return m.createFunc(ctx, settings, destDir, timestamp)
	}
	return &models.ArchiveResult{
		Path:      filepath.Join(destDir, "backup.tar.gz"),
		SizeBytes: 2048,
		FileCount: 10,
	}, nil
}

type mockVerifyService struct {
	verifyFunc func(ctx context.Context, path string, settings models.VerifySettings) (*models.VerifyResult, error)
	called     bool
	path       string
}

func (m *mockVerifyService) Verify(ctx context.Context, path string, settings models.VerifySettings) (*models.VerifyResult, error) {
	m.called = true
	m.path = path
	if m.verifyFunc != nil {
		return m.verifyFunc(ctx, path, settings)
	}
	return &models.VerifyResult{Passed: true, Entries: 10, SizeBytes: 2048}, nil
}

type mockSweepService struct {
	sweepFunc func(ctx context.Context, root string, policy models.RetentionPolicy) (*models.SweepResult, error)
	called    bool
}

func (m *mockSweepService) Sweep(ctx context.Context, root string, policy models.RetentionPolicy) (*models.SweepResult, error) {
	m.called = true
	if m.sweepFunc != nil {
		return m.sweepFunc(ctx, root, policy)
	}
	return &models.SweepResult{Kept: 1}, nil
}

type mockMailService struct {
	sendFunc func(ctx context.Context, cfg models.EmailConfig, report models.RunReport) (*models.NotifyResult, error)
	called   bool
	report   models.RunReport
}

func (m *mockMailService) SendReport(ctx context.Context, cfg models.EmailConfig, report models.RunReport) (*models.NotifyResult, error) {
	m.called = true
	m.report = report
	if m.sendFunc != nil {
		return m.sendFunc(ctx, cfg, report)
	}
	return &models.NotifyResult{MessageSent: true}, nil
}

type mockTelegramService struct {
	sendFunc func(ctx context.Context, cfg models.TelegramConfig, report models.RunReport) (*models.NotifyResult, error)
	called   bool
	report   models.RunReport
}

func (m *mockTelegramService) SendReport(ctx context.Context, cfg models.TelegramConfig, report models.RunReport) (*models.NotifyResult, error) {
	m.called = true
	m.report = report
	if m.sendFunc != nil {
		return m.sendFunc(ctx, cfg, report)
	}
	return &models.NotifyResult{MessageSent: true}, nil
}

type mockPowerService struct {
	wakeFunc     func(ctx context.Context, cfg models.WOLConfig) (*models.WakeResult, error)
	shutdownFunc func(ctx context.Context, cfg models.ShutdownConfig) (*models.ShutdownResult, error)
	wakeCalled   bool
	shutCalled   bool
}

func (m *mockPowerService) Wake(ctx context.Context, cfg models.WOLConfig) (*models.WakeResult, error) {
	m.wakeCalled = true
	if m.wakeFunc != nil {
		return m.wakeFunc(ctx, cfg)
	}
	return &models.WakeResult{PacketSent: true, TargetReady: true}, nil
}

func (m *mockPowerService) Shutdown(ctx context.Context, cfg models.ShutdownConfig) (*models.ShutdownResult, error) {
	m.shutCalled = true
	if m.shutdownFunc != nil {
		return m.shutdownFunc(ctx, cfg)
	}
	return &models.ShutdownResult{CommandRun: true}, nil
}

type testServices struct {
	archive  *mockArchiveService
	verify   *mockVerifyService
	sweep    *mockSweepService
	mail     *mockMailService
	telegram *mockTelegramService
	power    *mockPowerService
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func newTestRunner(now time.Time) (*Impl, *testServices) {
	svcs := &testServices{
		archive:  &mockArchiveService{},
		verify:   &mockVerifyService{},
		sweep:    &mockSweepService{},
		mail:     &mockMailService{},
		telegram: &mockTelegramService{},
		power:    &mockPowerService{},
	}
	runner := NewWithServices(
		testLogger(),
		svcs.archive,
		svcs.verify,
		svcs.sweep,
		svcs.mail,
		svcs.telegram,
		svcs.power,
		func() time.Time { return now },
	)
	return runner, svcs
}

func testConfig(t *testing.T) models.Config {
	t.Helper()

	source := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(source, "data.txt"), []byte("payload"), 0o640))

	base := t.TempDir()
	return models.Config{
		Backup: models.BackupSettings{
			Sources:          []string{source},
			DestinationRoot:  filepath.Join(base, "backups"),
			FilenameTemplate: "backup-{timestamp}.tar.gz",
			Hostname:         "host1",
		},
		Retention: models.RetentionPolicy{Days: 30},
		Log: models.LogSettings{
			Dir:       filepath.Join(base, "log"),
			File:      "tarvault.log",
			MaxSizeKB: 1024,
		},
		Lock:   models.LockSettings{Path: filepath.Join(base, "tarvault.lock")},
		Verify: models.VerifySettings{MinSizeBytes: 1},
		Email: &models.EmailConfig{
			Recipient: "ops@example.com",
			From:      "tarvault@host1",
			SMTPHost:  "mail.example.com",
			SMTPPort:  25,
		},
	}
}

func TestRun_Success(t *testing.T) {
	now := time.Date(2026, 8, 31, 3, 0, 0, 0, time.Local)
	runner, svcs := newTestRunner(now)
	cfg := testConfig(t)

	err := runner.Run(context.Background(), cfg)

	require.NoError(t, err)
	assert.True(t, svcs.archive.called)
	assert.True(t, svcs.verify.called)
	assert.True(t, svcs.sweep.called)
	assert.False(t, svcs.power.wakeCalled)
	assert.False(t, svcs.power.shutCalled)

	// Archive lands in a fresh timestamped directory under the root.
	wantDir := filepath.Join(cfg.Backup.DestinationRoot, now.Format(models.TimestampLayout))
	assert.Equal(t, wantDir, svcs.archive.destDir)

	// Verification inspects the file archiving produced.
	assert.Equal(t, filepath.Join(wantDir, "backup.tar.gz"), svcs.verify.path)

	// The report carries the archive details.
	require.True(t, svcs.mail.called)
	assert.True(t, svcs.mail.report.Success)
	assert.Equal(t, "host1", svcs.mail.report.Hostname)
	assert.Equal(t, int64(2048), svcs.mail.report.ArchiveSize)
	assert.Equal(t, 10, svcs.mail.report.FileCount)

	// Lock released: the file is gone.
	_, statErr := os.Stat(cfg.Lock.Path)
	assert.True(t, os.IsNotExist(statErr))

	content, err := os.ReadFile(cfg.Log.Path())
	require.NoError(t, err)
	assert.Contains(t, string(content), "[INFO] - Backup started")
	assert.Contains(t, string(content), "[SUCCESS] - Backup completed")
}

func TestRun_ConcurrentInvocationAborts(t *testing.T) {
	runner, svcs := newTestRunner(time.Now())
	cfg := testConfig(t)

	held, err := lockfile.Acquire(cfg.Lock.Path)
	require.NoError(t, err)
	defer func() { _ = held.Release() }()

	err = runner.Run(context.Background(), cfg)

	require.Error(t, err)
	assert.ErrorIs(t, err, lockfile.ErrAlreadyRunning)

	// Nothing else happened: no stages, no notification, no log file.
	assert.False(t, svcs.archive.called)
	assert.False(t, svcs.mail.called)
	_, statErr := os.Stat(cfg.Log.Path())
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(cfg.Backup.DestinationRoot)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRun_MissingSource(t *testing.T) {
	runner, svcs := newTestRunner(time.Now())
	cfg := testConfig(t)
	cfg.Backup.Sources = append(cfg.Backup.Sources, filepath.Join(t.TempDir(), "nope"))

	err := runner.Run(context.Background(), cfg)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSourceMissing)
	assert.False(t, svcs.archive.called)

	require.True(t, svcs.mail.called)
	assert.False(t, svcs.mail.report.Success)
	assert.Equal(t, "validate", svcs.mail.report.FailedStage)

	// The lock is released even on failure.
	_, statErr := os.Stat(cfg.Lock.Path)
	assert.True(t, os.IsNotExist(statErr))

	content, err := os.ReadFile(cfg.Log.Path())
	require.NoError(t, err)
	assert.Contains(t, string(content), "[ERROR] - Source validation failed")
}

func TestRun_SourceIsFile(t *testing.T) {
	runner, _ := newTestRunner(time.Now())
	cfg := testConfig(t)

	file := filepath.Join(t.TempDir(), "plain.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o640))
	cfg.Backup.Sources = []string{file}

	err := runner.Run(context.Background(), cfg)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSourceMissing)
	assert.Contains(t, err.Error(), "not a directory")
}

func TestRun_ArchiveFailure(t *testing.T) {
	runner, svcs := newTestRunner(time.Now())
	svcs.archive.createFunc = func(context.Context, models.BackupSettings, string, time.Time) (*models.ArchiveResult, error) {
		return &models.ArchiveResult{Error: archive.ErrCreationFailed}, nil
	}

	cfg := testConfig(t)
	err := runner.Run(context.Background(), cfg)

	require.Error(t, err)
	assert.ErrorIs(t, err, archive.ErrCreationFailed)
	assert.False(t, svcs.verify.called)
	assert.False(t, svcs.sweep.called)

	require.True(t, svcs.mail.called)
	assert.Equal(t, "archive", svcs.mail.report.FailedStage)

	_, statErr := os.Stat(cfg.Lock.Path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRun_VerifyFailure(t *testing.T) {
	runner, svcs := newTestRunner(time.Now())
	svcs.verify.verifyFunc = func(context.Context, string, models.VerifySettings) (*models.VerifyResult, error) {
		return &models.VerifyResult{Error: verify.ErrArchiveInvalid}, nil
	}

	cfg := testConfig(t)
	err := runner.Run(context.Background(), cfg)

	require.Error(t, err)
	assert.ErrorIs(t, err, verify.ErrArchiveInvalid)

	// No sweep after a failed verification: old backups stay.
	assert.False(t, svcs.sweep.called)

	require.True(t, svcs.mail.called)
	assert.Equal(t, "verify", svcs.mail.report.FailedStage)
}

func TestRun_SweepWarningsAreNonFatal(t *testing.T) {
	runner, svcs := newTestRunner(time.Now())
	svcs.sweep.sweepFunc = func(context.Context, string, models.RetentionPolicy) (*models.SweepResult, error) {
		return &models.SweepResult{
			Removed:  []string{"/backups/20250101000000"},
			Kept:     2,
			Warnings: []error{errors.New("remove /backups/20250201000000: permission denied")},
		}, nil
	}

	cfg := testConfig(t)
	err := runner.Run(context.Background(), cfg)

	require.NoError(t, err)
	require.True(t, svcs.mail.called)
	assert.True(t, svcs.mail.report.Success)
	assert.Equal(t, 1, svcs.mail.report.DirsRemoved)

	content, readErr := os.ReadFile(cfg.Log.Path())
	require.NoError(t, readErr)
	assert.Contains(t, string(content), "[WARNING] - Retention sweep: remove")
	assert.Contains(t, string(content), "[SUCCESS]")
}

func TestRun_WakeFailure(t *testing.T) {
	runner, svcs := newTestRunner(time.Now())
	svcs.power.wakeFunc = func(context.Context, models.WOLConfig) (*models.WakeResult, error) {
		return &models.WakeResult{Error: errors.New("no route to host")}, nil
	}

	cfg := testConfig(t)
	cfg.Power = &models.PowerConfig{
		WOL: &models.WOLConfig{MACAddress: "AA:BB:CC:DD:EE:FF", BroadcastIP: "192.168.1.255"},
	}

	err := runner.Run(context.Background(), cfg)

	require.Error(t, err)
	assert.True(t, svcs.power.wakeCalled)
	assert.False(t, svcs.archive.called)

	require.True(t, svcs.mail.called)
	assert.Equal(t, "wake", svcs.mail.report.FailedStage)
}

func TestRun_ShutdownFailureIsNonFatal(t *testing.T) {
	runner, svcs := newTestRunner(time.Now())
	svcs.power.shutdownFunc = func(context.Context, models.ShutdownConfig) (*models.ShutdownResult, error) {
		return &models.ShutdownResult{Error: errors.New("connection refused")}, nil
	}

	cfg := testConfig(t)
	cfg.Power = &models.PowerConfig{
		Shutdown: &models.ShutdownConfig{Host: "192.168.1.100", Port: 22, Username: "root"},
	}

	err := runner.Run(context.Background(), cfg)

	require.NoError(t, err)
	assert.True(t, svcs.power.shutCalled)
	require.True(t, svcs.mail.called)
	assert.True(t, svcs.mail.report.Success)

	content, readErr := os.ReadFile(cfg.Log.Path())
	require.NoError(t, readErr)
	assert.Contains(t, string(content), "[WARNING] - Destination shutdown failed")
}

func TestRun_NotificationFailureDoesNotChangeOutcome(t *testing.T) {
	runner, svcs := newTestRunner(time.Now())
	svcs.mail.sendFunc = func(context.Context, models.EmailConfig, models.RunReport) (*models.NotifyResult, error) {
		return &models.NotifyResult{Error: errors.New("connection refused")}, nil
	}

	cfg := testConfig(t)
	err := runner.Run(context.Background(), cfg)

	require.NoError(t, err)

	content, readErr := os.ReadFile(cfg.Log.Path())
	require.NoError(t, readErr)
	assert.Contains(t, string(content), "[WARNING] - Email notification failed")
	assert.Contains(t, string(content), "[SUCCESS]")
}

func TestRun_AllChannelsNotified(t *testing.T) {
	runner, svcs := newTestRunner(time.Now())

	cfg := testConfig(t)
	cfg.Telegram = &models.TelegramConfig{BotToken: "123:ABC", ChatID: "42"}

	err := runner.Run(context.Background(), cfg)

	require.NoError(t, err)
	assert.True(t, svcs.mail.called)
	assert.True(t, svcs.telegram.called)
	assert.Equal(t, svcs.mail.report.Success, svcs.telegram.report.Success)
}

func TestRun_NoChannelsConfigured(t *testing.T) {
	runner, svcs := newTestRunner(time.Now())

	cfg := testConfig(t)
	cfg.Email = nil

	err := runner.Run(context.Background(), cfg)

	require.NoError(t, err)
	assert.False(t, svcs.mail.called)
	assert.False(t, svcs.telegram.called)
}

func TestPrune_SweepsUnderLock(t *testing.T) {
	runner, svcs := newTestRunner(time.Now())
	cfg := testConfig(t)

	err := runner.Prune(context.Background(), cfg)

	require.NoError(t, err)
	assert.True(t, svcs.sweep.called)
	assert.False(t, svcs.archive.called)
	assert.False(t, svcs.mail.called)

	_, statErr := os.Stat(cfg.Lock.Path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestPrune_RespectsHeldLock(t *testing.T) {
	runner, svcs := newTestRunner(time.Now())
	cfg := testConfig(t)

	held, err := lockfile.Acquire(cfg.Lock.Path)
	require.NoError(t, err)
	defer func() { _ = held.Release() }()

	err = runner.Prune(context.Background(), cfg)

	require.Error(t, err)
	assert.ErrorIs(t, err, lockfile.ErrAlreadyRunning)
	assert.False(t, svcs.sweep.called)
}

// TestRun_EndToEnd drives the runner with the real archive, verify and sweep
// services against a temp tree.
func TestRun_EndToEnd(t *testing.T) {
	now := time.Date(2026, 8, 31, 3, 0, 0, 0, time.Local)

	mailMock := &mockMailService{}
	runner := NewWithServices(
		testLogger(),
		archive.New(testLogger()),
		verify.New(testLogger()),
		sweep.NewWithClock(testLogger(), func() time.Time { return now }),
		mailMock,
		&mockTelegramService{},
		&mockPowerService{},
		func() time.Time { return now },
	)

	cfg := testConfig(t)

	// An expired backup directory that the sweep must clear.
	expired := filepath.Join(cfg.Backup.DestinationRoot, now.AddDate(0, 0, -40).Format(models.TimestampLayout))
	require.NoError(t, os.MkdirAll(expired, 0o750))

	err := runner.Run(context.Background(), cfg)
	require.NoError(t, err)

	ts := now.Format(models.TimestampLayout)
	archivePath := filepath.Join(cfg.Backup.DestinationRoot, ts, "backup-"+ts+".tar.gz")
	info, statErr := os.Stat(archivePath)
	require.NoError(t, statErr)
	assert.Greater(t, info.Size(), int64(0))

	_, statErr = os.Stat(expired)
	assert.True(t, os.IsNotExist(statErr))

	require.True(t, mailMock.called)
	assert.True(t, mailMock.report.Success)
	assert.Equal(t, archivePath, mailMock.report.ArchivePath)
	assert.Equal(t, 1, mailMock.report.FileCount)
	assert.Equal(t, 1, mailMock.report.DirsRemoved)

	content, readErr := os.ReadFile(cfg.Log.Path())
	require.NoError(t, readErr)
	for _, want := range []string{
		"[INFO] - Backup started",
		"[INFO] - Archive created",
		"[INFO] - Archive verified",
		"[INFO] - Retention sweep",
		"[SUCCESS] - Backup completed",
	} {
		assert.Contains(t, string(content), want)
	}
	assert.False(t, strings.Contains(string(content), "[ERROR]"))
}
