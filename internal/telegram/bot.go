package telegram

import (
	"context"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// NewBot creates new telegram bot
func NewBot(c BotConfig) (*Bot, error) {
	endpoint := c.Endpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	client := c.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	bot, err := tgbotapi.NewBotAPIWithClient(c.Token, endpoint, client)
	if err != nil {
		return nil, errors.Wrap(err, "could not create telegram bot")
	}

	bot.Debug = c.Debug
	log.Debugf("authorized on account %s", bot.Self.UserName)

	return &Bot{
		Bot:    bot,
		Config: c,
	}, nil
}

// SendMessage sends a telegram message in HTML parse mode
func (b *Bot) SendMessage(m Message) error {
	msg := tgbotapi.NewMessage(m.ChatID, m.Text)
	msg.DisableWebPagePreview = true
	msg.ParseMode = tgbotapi.ModeHTML
	_, err := b.Bot.Send(msg)
	return errors.Wrapf(err, "could not send message to %d", m.ChatID)
}

// SendPhoto sends a PNG with an HTML caption
func (b *Bot) SendPhoto(p Photo) error {
	name := p.Name
	if name == "" {
		name = "chart.png"
	}
	photo := tgbotapi.NewPhoto(p.ChatID, tgbotapi.FileBytes{
		Name:  name,
		Bytes: p.Bytes,
	})
	photo.Caption = p.Caption
	photo.ParseMode = tgbotapi.ModeHTML
	_, err := b.Bot.Send(photo)
	return errors.Wrapf(err, "could not send photo to %d", p.ChatID)
}

// Text adapts SendMessage to the dispatcher's sender contract
func (b *Bot) Text(_ context.Context, chatID int64, text string) error {
	return b.SendMessage(Message{ChatID: chatID, Text: text})
}

// Image adapts SendPhoto to the dispatcher's sender contract
func (b *Bot) Image(_ context.Context, chatID int64, png []byte, caption string) error {
	return b.SendPhoto(Photo{ChatID: chatID, Bytes: png, Caption: caption})
}
