package telegram

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// messenger is the subset of the Bot API used for delivery. *bot.Bot satisfies it.
type messenger interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	EditMessageText(ctx context.Context, params *bot.EditMessageTextParams) (*models.Message, error)
	SendDocument(ctx context.Context, params *bot.SendDocumentParams) (*models.Message, error)
	AnswerCallbackQuery(ctx context.Context, params *bot.AnswerCallbackQueryParams) (bool, error)
}

// chatChannel keeps one status message per run and edits it in place.
type chatChannel struct {
	api    messenger
	chatID int64

	mu       sync.Mutex
	statusID int
	last     string
}

func newChatChannel(api messenger, chatID int64) *chatChannel {
	return &chatChannel{api: api, chatID: chatID}
}

func (c *chatChannel) SendStatus(ctx context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if text == c.last {
		return nil
	}
	if c.statusID != 0 {
		_, err := c.api.EditMessageText(ctx, &bot.EditMessageTextParams{
			ChatID:    c.chatID,
			MessageID: c.statusID,
			Text:      text,
		})
		if err == nil {
			c.last = text
			return nil
		}
		// The status message may be gone; fall back to a new one.
	}
	msg, err := c.api.SendMessage(ctx, &bot.SendMessageParams{ChatID: c.chatID, Text: text})
	if err != nil {
		return fmt.Errorf("send status: %w", err)
	}
	c.statusID = msg.ID
	c.last = text
	return nil
}

func (c *chatChannel) SendDocument(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = c.api.SendDocument(ctx, &bot.SendDocumentParams{
		ChatID:   c.chatID,
		Document: &models.InputFileUpload{Filename: filepath.Base(path), Data: f},
	})
	if err != nil {
		return fmt.Errorf("send document %s: %w", filepath.Base(path), err)
	}
	return nil
}
