package telegram

import tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

// BotConfig configuration of the bot
type BotConfig struct {
	Token string
	Debug bool
	// Endpoint overrides tgbotapi.APIEndpoint, format "<base>/bot%s/%s"
	Endpoint   string
	HTTPClient tgbotapi.HTTPClient
}

// Bot sends broadcast messages through the Telegram Bot API
type Bot struct {
	Bot    *tgbotapi.BotAPI
	Config BotConfig
}

// Message a telegram message struct
type Message struct {
	ChatID int64
	Text   string
}

// Photo a telegram photo with an optional HTML caption
type Photo struct {
	ChatID  int64
	Name    string
	Bytes   []byte
	Caption string
}
