package models

// EmailConfig holds SMTP notification configuration.
type EmailConfig struct {
	Recipient    string
	From         string
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
}

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	BotToken string
	ChatID   string
}

// NotifyResult holds the result of a notification attempt.
type NotifyResult struct {
	MessageSent bool
	Error       error
}
