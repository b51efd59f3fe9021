package models

import "time"

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	BotToken string
	ChatID   string
}

// TelegramMessage holds the data for a session notification.
type TelegramMessage struct {
	Success   bool
	Host      string
	Protocol  Protocol
	Prompt    string
	LogFile   string
	StartTime time.Time
	Duration  time.Duration

	// Command stats.
	CommandsSent     int
	CommandsTimedOut int
	PagesFollowed    int

	// Error info (if failed).
	ErrorMessage string
	FailedStep   string
}

// TelegramResult holds the result of a Telegram notification.
type TelegramResult struct {
	MessageSent bool
	Error       error
}
