package models

import "time"

// TimestampLayout names backup directories and archive files. A run's
// timestamp orders its directory lexicographically among its siblings.
const TimestampLayout = "20060102150405"

// ArchiveResult holds the result of an archive creation.
type ArchiveResult struct {
	Path      string
	SizeBytes int64
	FileCount int
	Duration  time.Duration
	Error     error
}

// VerifyResult holds the result of an archive integrity check.
type VerifyResult struct {
	Passed    bool
	Entries   int
	SizeBytes int64
	Error     error
}

// SweepResult holds the result of a retention sweep.
type SweepResult struct {
	Removed  []string
	Kept     int
	Warnings []error
}

// RunReport summarizes one end-to-end run for logging and notifications.
type RunReport struct {
	Success     bool
	Hostname    string
	StartTime   time.Time
	Duration    time.Duration
	ArchivePath string
	ArchiveSize int64
	FileCount   int
	LogPath     string

	// Sweep stats (if the sweep ran).
	DirsRemoved int

	// Error info (if failed).
	FailedStage  string
	ErrorMessage string
}
