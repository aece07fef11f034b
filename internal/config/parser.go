// Package config provides configuration file parsing.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mweber/tarvault/internal/models"
	"github.com/spf13/viper"
)

// Sentinel errors for configuration failures. Both are fatal: no stage runs
// on a partially populated configuration.
var (
	// ErrMissing indicates the configuration file does not exist.
	ErrMissing = errors.New("config file missing")
	// ErrInvalid indicates a required field is absent or malformed.
	ErrInvalid = errors.New("config invalid")
)

// Default values applied when the corresponding key is absent.
const (
	DefaultFilenameTemplate = "backup-{timestamp}.tar.gz"
	DefaultRetentionDays    = 30
	DefaultLogDir           = "/var/log/tarvault"
	DefaultLogFile          = "tarvault.log"
	DefaultMaxLogSizeKB     = 1024
	DefaultLockPath         = "/tmp/tarvault.lock"
	DefaultMinArchiveSize   = 512
	DefaultSMTPPort         = 25
)

// Parser handles configuration file parsing.
type Parser struct {
	v *viper.Viper
}

// NewParser creates a new configuration parser.
func NewParser() *Parser {
	v := viper.New()
	v.SetConfigType("yaml")
	return &Parser{v: v}
}

// LoadFile loads configuration from a file path.
func (p *Parser) LoadFile(path string) (*models.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrMissing, path)
	}

	p.v.SetConfigFile(path)
	if err := p.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrInvalid, path, err)
	}

	return p.parse()
}

// LoadReader loads configuration from a string (useful for testing).
func (p *Parser) LoadReader(content string) (*models.Config, error) {
	if err := p.v.ReadConfig(strings.NewReader(content)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	return p.parse()
}

//nolint:gocognit,gocyclo // parsing config requires checking many fields
func (p *Parser) parse() (*models.Config, error) {
	cfg := &models.Config{}

	// Parse backup settings (required).
	cfg.Backup = models.BackupSettings{
		Sources:          p.v.GetStringSlice("backup.sources"),
		DestinationRoot:  p.expandEnv(p.v.GetString("backup.destination_root")),
		FilenameTemplate: p.v.GetString("backup.filename_template"),
		Hostname:         p.v.GetString("backup.hostname"),
	}

	if len(cfg.Backup.Sources) == 0 {
		return nil, fmt.Errorf("%w: backup.sources is required", ErrInvalid)
	}
	if cfg.Backup.DestinationRoot == "" {
		return nil, fmt.Errorf("%w: backup.destination_root is required", ErrInvalid)
	}
	if cfg.Backup.FilenameTemplate == "" {
		cfg.Backup.FilenameTemplate = DefaultFilenameTemplate
	}
	if cfg.Backup.Hostname == "" {
		hostname, err := os.Hostname()
		if err != nil {
			cfg.Backup.Hostname = "unknown"
		} else {
			cfg.Backup.Hostname = hostname
		}
	}

	// Parse retention policy.
	if p.v.IsSet("retention.days") {
		cfg.Retention.Days = p.v.GetInt("retention.days")
		if cfg.Retention.Days < 0 {
			return nil, fmt.Errorf("%w: retention.days must not be negative", ErrInvalid)
		}
	} else {
		cfg.Retention.Days = DefaultRetentionDays
	}

	// Parse log settings.
	cfg.Log = models.LogSettings{
		Dir:       p.expandEnv(p.v.GetString("log.dir")),
		File:      p.v.GetString("log.file"),
		MaxSizeKB: p.v.GetInt64("log.max_size_kb"),
	}
	if cfg.Log.Dir == "" {
		cfg.Log.Dir = DefaultLogDir
	}
	if cfg.Log.File == "" {
		cfg.Log.File = DefaultLogFile
	}
	if cfg.Log.MaxSizeKB == 0 {
		cfg.Log.MaxSizeKB = DefaultMaxLogSizeKB
	}
	if cfg.Log.MaxSizeKB < 0 {
		return nil, fmt.Errorf("%w: log.max_size_kb must not be negative", ErrInvalid)
	}

	// Parse lock settings.
	cfg.Lock = models.LockSettings{
		Path: p.expandEnv(p.v.GetString("lock.path")),
	}
	if cfg.Lock.Path == "" {
		cfg.Lock.Path = DefaultLockPath
	}

	// Parse verify settings.
	cfg.Verify = models.VerifySettings{
		MinSizeBytes: p.v.GetInt64("verify.min_size_bytes"),
	}
	if cfg.Verify.MinSizeBytes == 0 {
		cfg.Verify.MinSizeBytes = DefaultMinArchiveSize
	}

	// Parse optional email notification config.
	if p.v.IsSet("notify.email") {
		cfg.Email = &models.EmailConfig{
			Recipient:    p.v.GetString("notify.email.recipient"),
			From:         p.v.GetString("notify.email.from"),
			SMTPHost:     p.v.GetString("notify.email.smtp_host"),
			SMTPPort:     p.v.GetInt("notify.email.smtp_port"),
			SMTPUser:     p.expandEnv(p.v.GetString("notify.email.smtp_user")),
			SMTPPassword: p.expandEnv(p.v.GetString("notify.email.smtp_password")),
		}

		if cfg.Email.Recipient == "" {
			return nil, fmt.Errorf("%w: notify.email.recipient is required when notify.email is configured", ErrInvalid)
		}
		if cfg.Email.SMTPHost == "" {
			cfg.Email.SMTPHost = "localhost"
		}
		if cfg.Email.SMTPPort == 0 {
			cfg.Email.SMTPPort = DefaultSMTPPort
		}
		if cfg.Email.From == "" {
			cfg.Email.From = "tarvault@" + cfg.Backup.Hostname
		}
	}

	// Parse optional Telegram config.
	if p.v.IsSet("notify.telegram") {
		cfg.Telegram = &models.TelegramConfig{
			BotToken: p.expandEnv(p.v.GetString("notify.telegram.bot_token")),
			ChatID:   p.expandEnv(p.v.GetString("notify.telegram.chat_id")),
		}

		if cfg.Telegram.BotToken == "" {
			return nil, fmt.Errorf("%w: notify.telegram.bot_token is required when notify.telegram is configured", ErrInvalid)
		}
		if cfg.Telegram.ChatID == "" {
			return nil, fmt.Errorf("%w: notify.telegram.chat_id is required when notify.telegram is configured", ErrInvalid)
		}
	}

	// Parse optional power management config.
	if p.v.IsSet("power") { //nolint:nestif // config parsing with defaults
		cfg.Power = &models.PowerConfig{}

		if p.v.IsSet("power.wol") {
			cfg.Power.WOL = &models.WOLConfig{
				MACAddress:    p.v.GetString("power.wol.mac_address"),
				BroadcastIP:   p.v.GetString("power.wol.broadcast_ip"),
				PollURL:       p.v.GetString("power.wol.poll_url"),
				Timeout:       p.v.GetDuration("power.wol.timeout"),
				PollInterval:  p.v.GetDuration("power.wol.poll_interval"),
				StabilizeWait: p.v.GetDuration("power.wol.stabilize_wait"),
			}

			if cfg.Power.WOL.MACAddress == "" {
				return nil, fmt.Errorf("%w: power.wol.mac_address is required when power.wol is configured", ErrInvalid)
			}
			if cfg.Power.WOL.BroadcastIP == "" {
				cfg.Power.WOL.BroadcastIP = "255.255.255.255"
			}
			if cfg.Power.WOL.Timeout == 0 {
				cfg.Power.WOL.Timeout = 5 * time.Minute
			}
			if cfg.Power.WOL.PollInterval == 0 {
				cfg.Power.WOL.PollInterval = 10 * time.Second
			}
			if cfg.Power.WOL.StabilizeWait == 0 {
				cfg.Power.WOL.StabilizeWait = 10 * time.Second
			}
		}

		if p.v.IsSet("power.shutdown") {
			cfg.Power.Shutdown = &models.ShutdownConfig{
				Host:          p.v.GetString("power.shutdown.host"),
				Port:          p.v.GetInt("power.shutdown.port"),
				Username:      p.v.GetString("power.shutdown.username"),
				KeyPath:       p.expandEnv(p.v.GetString("power.shutdown.key_path")),
				ShutdownDelay: p.v.GetInt("power.shutdown.delay"),
				OS:            p.v.GetString("power.shutdown.os"),
			}

			if cfg.Power.Shutdown.Host == "" {
				return nil, fmt.Errorf("%w: power.shutdown.host is required when power.shutdown is configured", ErrInvalid)
			}
			if cfg.Power.Shutdown.KeyPath == "" {
				return nil, fmt.Errorf("%w: power.shutdown.key_path is required when power.shutdown is configured", ErrInvalid)
			}
			if cfg.Power.Shutdown.Port == 0 {
				cfg.Power.Shutdown.Port = 22
			}
			if cfg.Power.Shutdown.Username == "" {
				cfg.Power.Shutdown.Username = "root"
			}
			if cfg.Power.Shutdown.ShutdownDelay == 0 {
				cfg.Power.Shutdown.ShutdownDelay = 1
			}
			if cfg.Power.Shutdown.OS == "" {
				cfg.Power.Shutdown.OS = "linux"
			}
			validOS := map[string]bool{"linux": true, "windows": true}
			if !validOS[cfg.Power.Shutdown.OS] {
				return nil, fmt.Errorf("%w: power.shutdown.os must be one of: linux, windows", ErrInvalid)
			}
		}
	}

	return cfg, nil
}

// expandEnv expands environment variables in the format ${VAR} or $VAR.
func (p *Parser) expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate performs validation on an already loaded configuration.
func Validate(cfg *models.Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: configuration is nil", ErrInvalid)
	}

	if len(cfg.Backup.Sources) == 0 {
		return fmt.Errorf("%w: backup.sources is required", ErrInvalid)
	}

	if cfg.Backup.DestinationRoot == "" {
		return fmt.Errorf("%w: backup.destination_root is required", ErrInvalid)
	}

	if cfg.Retention.Days < 0 {
		return fmt.Errorf("%w: retention.days must not be negative", ErrInvalid)
	}

	return nil
}
