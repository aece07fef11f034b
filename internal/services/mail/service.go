// Package mail sends run reports to a single recipient via an SMTP relay.
package mail

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/mweber/tarvault/internal/models"
	"github.com/rs/zerolog"
)

// Service defines the interface for email notifications.
type Service interface {
	SendReport(ctx context.Context, cfg models.EmailConfig, report models.RunReport) (*models.NotifyResult, error)
}

// Sender submits one message to a relay (mockable).
type Sender interface {
	Send(addr string, auth sasl.Client, from string, to []string, body io.Reader) error
}

// smtpSender is the default Sender backed by emersion/go-smtp.
type smtpSender struct{}

func (smtpSender) Send(addr string, auth sasl.Client, from string, to []string, body io.Reader) error {
	c, err := smtp.Dial(addr)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	if auth != nil {
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("authenticating: %w", err)
		}
	}

	if err := c.SendMail(from, to, body); err != nil {
		return err
	}
	return c.Quit()
}

// Impl implements the mail Service interface.
type Impl struct {
	sender Sender
	logger zerolog.Logger
}

// New creates a new mail service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{sender: smtpSender{}, logger: logger}
}

// NewWithSender creates a new mail service with a custom sender (for testing).
func NewWithSender(logger zerolog.Logger, sender Sender) *Impl {
	return &Impl{sender: sender, logger: logger}
}

// SendReport composes and submits the run summary. Sending is best-effort:
// the caller logs a warning on failure and the run outcome is unchanged.
func (s *Impl) SendReport(ctx context.Context, cfg models.EmailConfig, report models.RunReport) (*models.NotifyResult, error) {
	result := &models.NotifyResult{}

	select {
	case <-ctx.Done():
		result.Error = ctx.Err()
		return result, nil
	default:
	}

	s.logger.Info().
		Str("recipient", cfg.Recipient).
		Bool("success", report.Success).
		Msg("sending email report")

	var auth sasl.Client
	if cfg.SMTPUser != "" {
		auth = sasl.NewPlainClient("", cfg.SMTPUser, cfg.SMTPPassword)
	}

	addr := fmt.Sprintf("%s:%d", cfg.SMTPHost, cfg.SMTPPort)
	msg := s.composeMessage(cfg, report)

	if err := s.sender.Send(addr, auth, cfg.From, []string{cfg.Recipient}, bytes.NewReader(msg)); err != nil {
		result.Error = fmt.Errorf("sending via %s: %w", addr, err)
		return result, nil //nolint:nilerr // error is stored in result struct by design
	}

	result.MessageSent = true
	s.logger.Info().Msg("email report sent")

	return result, nil
}

func (s *Impl) composeMessage(cfg models.EmailConfig, report models.RunReport) []byte {
	var b bytes.Buffer

	subject := fmt.Sprintf("[tarvault] Backup SUCCESS on %s", report.Hostname)
	if !report.Success {
		subject = fmt.Sprintf("[tarvault] Backup FAILED on %s", report.Hostname)
	}

	fmt.Fprintf(&b, "From: %s\r\n", cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", cfg.Recipient)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	fmt.Fprintf(&b, "Date: %s\r\n", report.StartTime.Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")

	fmt.Fprintf(&b, "Host: %s\r\n", report.Hostname)
	fmt.Fprintf(&b, "Started: %s\r\n", report.StartTime.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Duration: %s\r\n", report.Duration.Round(time.Second))

	if report.Success {
		fmt.Fprintf(&b, "Archive: %s\r\n", report.ArchivePath)
		fmt.Fprintf(&b, "Size: %s\r\n", formatBytes(report.ArchiveSize))
		fmt.Fprintf(&b, "Files: %d\r\n", report.FileCount)
		if report.DirsRemoved > 0 {
			fmt.Fprintf(&b, "Expired backups removed: %d\r\n", report.DirsRemoved)
		}
	} else {
		fmt.Fprintf(&b, "Failed stage: %s\r\n", report.FailedStage)
		fmt.Fprintf(&b, "Error: %s\r\n", report.ErrorMessage)
	}

	fmt.Fprintf(&b, "Log: %s\r\n", report.LogPath)

	return b.Bytes()
}

// formatBytes formats bytes into human-readable format.
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
