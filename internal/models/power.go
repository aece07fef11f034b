package models

import "time"

// PowerConfig controls power management of the destination host (e.g. a NAS
// holding the destination root): wake it before the run, optionally shut it
// down after.
type PowerConfig struct {
	WOL      *WOLConfig      // nil if the host is always on
	Shutdown *ShutdownConfig // nil to leave the host running
}

// WOLConfig holds Wake-on-LAN configuration.
type WOLConfig struct {
	MACAddress    string
	BroadcastIP   string
	PollURL       string        // URL to poll until the host is ready
	Timeout       time.Duration // max time to wait for the host
	PollInterval  time.Duration // how often to poll the URL
	StabilizeWait time.Duration // wait after the host responds
}

// ShutdownConfig holds SSH shutdown configuration for the destination host.
type ShutdownConfig struct {
	Host          string
	Port          int
	Username      string
	KeyPath       string
	PrivateKey    []byte // loaded from KeyPath
	ShutdownDelay int    // delay before shutdown, in minutes
	OS            string // "linux" (default) or "windows"
}

// WakeResult holds the result of a Wake-on-LAN attempt.
type WakeResult struct {
	PacketSent   bool
	TargetReady  bool
	WaitDuration time.Duration
	Error        error
}

// ShutdownResult holds the result of a remote shutdown attempt.
type ShutdownResult struct {
	CommandRun bool
	Output     string
	Error      error
}
