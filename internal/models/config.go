// Package models contains the data structures used throughout tarvault.
package models

import "path/filepath"

// Config holds the complete configuration for a backup run. It is built once
// by the config parser and passed to every stage; nothing mutates it.
type Config struct {
	Backup    BackupSettings
	Retention RetentionPolicy
	Log       LogSettings
	Lock      LockSettings
	Verify    VerifySettings
	Email     *EmailConfig    // nil if not configured
	Telegram  *TelegramConfig // nil if not configured
	Power     *PowerConfig    // nil if not configured
}

// BackupSettings holds the archive-specific settings.
type BackupSettings struct {
	Sources          []string
	DestinationRoot  string
	FilenameTemplate string // supports {timestamp} and {hostname}
	Hostname         string
}

// RetentionPolicy defines how long backup directories are kept.
type RetentionPolicy struct {
	Days int // 0 disables the sweep
}

// LogSettings holds the audit log file configuration.
type LogSettings struct {
	Dir       string
	File      string
	MaxSizeKB int64
}

// Path returns the full path of the audit log file.
func (l LogSettings) Path() string {
	return filepath.Join(l.Dir, l.File)
}

// LockSettings holds the run lock configuration.
type LockSettings struct {
	Path string
}

// VerifySettings holds archive verification thresholds.
type VerifySettings struct {
	MinSizeBytes int64
}
