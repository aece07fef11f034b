// Package telegram provides Telegram notification services.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mweber/tarvault/internal/models"
	"github.com/rs/zerolog"
)

// Service defines the interface for Telegram notification operations.
type Service interface {
	SendReport(ctx context.Context, cfg models.TelegramConfig, report models.RunReport) (*models.NotifyResult, error)
}

// HTTPClient allows mocking HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Impl implements the Telegram Service interface.
type Impl struct {
	httpClient HTTPClient
	logger     zerolog.Logger
	baseURL    string
}

// New creates a new Telegram service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:  logger,
		baseURL: "https://api.telegram.org",
	}
}

// NewWithClient creates a new Telegram service with a custom HTTP client (for testing).
func NewWithClient(logger zerolog.Logger, httpClient HTTPClient, baseURL string) *Impl {
	return &Impl{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    baseURL,
	}
}

// sendMessageRequest is the request body for Telegram sendMessage API.
type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// SendReport sends a run summary via Telegram.
func (s *Impl) SendReport(ctx context.Context, cfg models.TelegramConfig, report models.RunReport) (*models.NotifyResult, error) {
	result := &models.NotifyResult{}

	s.logger.Info().
		Str("chat_id", cfg.ChatID).
		Bool("success", report.Success).
		Msg("sending Telegram notification")

	reqBody := sendMessageRequest{
		ChatID:    cfg.ChatID,
		Text:      s.formatMessage(report),
		ParseMode: "HTML",
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		result.Error = fmt.Errorf("failed to marshal request: %w", err)
		return result, nil
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, cfg.BotToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		result.Error = fmt.Errorf("failed to create request: %w", err)
		return result, nil
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		result.Error = fmt.Errorf("failed to send request: %w", err)
		return result, nil
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		result.Error = fmt.Errorf("telegram API returned status %d", resp.StatusCode)
		return result, nil
	}

	result.MessageSent = true
	s.logger.Info().Msg("Telegram notification sent successfully")

	return result, nil
}

func (s *Impl) formatMessage(report models.RunReport) string {
	var b bytes.Buffer

	if report.Success {
		b.WriteString("<b>Backup Successful</b>\n\n")
	} else {
		b.WriteString("<b>Backup Failed</b>\n\n")
	}

	b.WriteString(fmt.Sprintf("<b>Host:</b> %s\n", escapeHTML(report.Hostname)))
	b.WriteString(fmt.Sprintf("<b>Started:</b> %s\n", report.StartTime.Format("2006-01-02 15:04:05")))
	b.WriteString(fmt.Sprintf("<b>Duration:</b> %s\n", report.Duration.Round(time.Second)))

	if report.Success {
		b.WriteString(fmt.Sprintf("<b>Archive:</b> <code>%s</code>\n", escapeHTML(report.ArchivePath)))
		b.WriteString(fmt.Sprintf("<b>Size:</b> %s\n", formatBytes(report.ArchiveSize)))
		b.WriteString(fmt.Sprintf("<b>Files:</b> %d\n", report.FileCount))
		if report.DirsRemoved > 0 {
			b.WriteString(fmt.Sprintf("<b>Expired backups removed:</b> %d\n", report.DirsRemoved))
		}
	} else {
		b.WriteString(fmt.Sprintf("<b>Failed stage:</b> %s\n", escapeHTML(report.FailedStage)))
		b.WriteString(fmt.Sprintf("<b>Error:</b> <code>%s</code>\n", escapeHTML(report.ErrorMessage)))
	}

	b.WriteString(fmt.Sprintf("<b>Log:</b> %s\n", escapeHTML(report.LogPath)))

	return b.String()
}

// escapeHTML escapes HTML special characters.
func escapeHTML(s string) string {
	var b bytes.Buffer
	for _, r := range s {
		switch r {
		case '<':
			b.WriteString("&lt;")
		case '>':
			b.WriteString("&gt;")
		case '&':
			b.WriteString("&amp;")
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
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
