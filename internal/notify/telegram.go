package notify

import (
	"context"
	"errors"
	"html"
	"strings"

	"github.com/alanyoungcy/goldspread/internal/platform/telegram"
)

// TelegramSender delivers messages to every authorized chat through the Bot
// API.
type TelegramSender struct {
	client  *telegram.Client
	chatIDs []string
}

// NewTelegramSender creates a TelegramSender for the given chats.
func NewTelegramSender(client *telegram.Client, chatIDs []string) *TelegramSender {
	return &TelegramSender{client: client, chatIDs: chatIDs}
}

// Send renders the title in bold above the body and posts it to each chat.
func (t *TelegramSender) Send(ctx context.Context, title, body string) error {
	text := body
	if title != "" {
		text = "<b>" + html.EscapeString(title) + "</b>\n" + body
	}
	var errs []error
	for _, id := range t.chatIDs {
		if err := t.client.SendMessage(ctx, id, strings.TrimSpace(text)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Name returns the sender identifier.
func (t *TelegramSender) Name() string {
	return "telegram"
}
