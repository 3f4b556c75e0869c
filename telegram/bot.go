// Package telegram adapts the chat bot to the report service: chat messages
// become admission requests and report runs deliver back into the chat.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/izavyalov-dev/reportd/admission"
	"github.com/izavyalov-dev/reportd/internal/observability"
	"github.com/izavyalov-dev/reportd/orchestrator"
	"github.com/izavyalov-dev/reportd/registry"
)

// Submitter starts admitted report runs. *orchestrator.Service satisfies it.
type Submitter interface {
	Submit(ctx context.Context, req admission.Request) (orchestrator.Ticket, error)
}

type Config struct {
	Token string
	// WebAppURL is offered by /panel when set.
	WebAppURL   string
	DefaultKind string
	Timezone    *time.Location
}

// Bot receives chat updates and turns them into report requests.
type Bot struct {
	api      *bot.Bot
	msgr     messenger
	service  Submitter
	registry *registry.Registry
	cfg      Config
	now      func() time.Time
	logger   *slog.Logger
}

// New connects to the Bot API and registers the command handlers. Extra
// options are passed to the client, e.g. a server URL in tests.
func New(cfg Config, service Submitter, reg *registry.Registry, logger *slog.Logger, opts ...bot.Option) (*Bot, error) {
	b := newBot(cfg, service, reg, logger)
	opts = append(opts, bot.WithDefaultHandler(b.onDefault))
	api, err := bot.New(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect bot: %w", err)
	}
	b.api = api
	b.msgr = api
	api.RegisterHandler(bot.HandlerTypeMessageText, "/start", bot.MatchTypePrefix, b.onStart)
	api.RegisterHandler(bot.HandlerTypeMessageText, "/report", bot.MatchTypePrefix, b.onReport)
	api.RegisterHandler(bot.HandlerTypeMessageText, "/panel", bot.MatchTypePrefix, b.onPanel)
	api.RegisterHandler(bot.HandlerTypeCallbackQueryData, callbackPrefix, bot.MatchTypePrefix, b.onCallback)
	return b, nil
}

func newBot(cfg Config, service Submitter, reg *registry.Registry, logger *slog.Logger) *Bot {
	if cfg.DefaultKind == "" {
		cfg.DefaultKind = "bericht"
	}
	if cfg.Timezone == nil {
		cfg.Timezone = time.Local
	}
	if logger == nil {
		logger = observability.NewLogger("telegram")
	}
	return &Bot{service: service, registry: reg, cfg: cfg, now: time.Now, logger: logger}
}

// Start polls for updates until ctx is done.
func (b *Bot) Start(ctx context.Context) {
	b.logger.Info("bot polling started", "event", "bot_started")
	b.api.Start(ctx)
}

// Channel returns the delivery channel for a chat.
func (b *Bot) Channel(chatID int64) orchestrator.Channel {
	return newChatChannel(b.msgr, chatID)
}

func (b *Bot) onStart(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}
	b.reply(ctx, update.Message.Chat.ID, startText(update.Message.From))
}

func (b *Bot) onReport(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}
	b.handleReport(ctx, update.Message.Chat.ID, update.Message.From.ID, update.Message.Text)
}

func (b *Bot) onPanel(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	chatID := update.Message.Chat.ID
	if b.cfg.WebAppURL == "" {
		b.reply(ctx, chatID, "The mini-app is not configured.")
		return
	}
	_, err := b.msgr.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   "Tap the button below to open the report panel.",
		ReplyMarkup: &models.InlineKeyboardMarkup{InlineKeyboard: [][]models.InlineKeyboardButton{{
			{Text: "Open panel", WebApp: &models.WebAppInfo{URL: b.cfg.WebAppURL}},
		}}},
	})
	if err != nil {
		b.logger.Warn("send panel", "event", "reply_failed", "error", err)
	}
}

func (b *Bot) onCallback(ctx context.Context, _ *bot.Bot, update *models.Update) {
	query := update.CallbackQuery
	if query == nil {
		return
	}
	if _, err := b.msgr.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{CallbackQueryID: query.ID}); err != nil {
		b.logger.Debug("answer callback", "error", err)
	}
	chatID := query.From.ID
	if query.Message.Message != nil {
		chatID = query.Message.Message.Chat.ID
	}
	b.handleCallback(ctx, chatID, query.From.ID, query.Data)
}

func (b *Bot) onDefault(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.WebAppData == nil || update.Message.From == nil {
		return
	}
	b.handleWebAppData(ctx, update.Message.Chat.ID, update.Message.From.ID, update.Message.WebAppData.Data)
}

func (b *Bot) handleReport(ctx context.Context, chatID, userID int64, text string) {
	args, ok, err := parseReportCommand(text, b.cfg.DefaultKind)
	if err != nil {
		b.reply(ctx, chatID, "Usage: /report <year> <week> [kind]")
		return
	}
	if !ok {
		b.sendMenu(ctx, chatID)
		return
	}
	b.submit(ctx, chatID, userID, args, admission.ChannelRawMessage)
}

func (b *Bot) handleCallback(ctx context.Context, chatID, userID int64, data string) {
	args, err := parseCallback(data)
	if err != nil {
		b.logger.Warn("malformed callback", "event", "callback_invalid", "error", err)
		b.reply(ctx, chatID, "Error generating report.")
		return
	}
	b.submit(ctx, chatID, userID, args, admission.ChannelInline)
}

func (b *Bot) handleWebAppData(ctx context.Context, chatID, userID int64, data string) {
	args, err := parseWebAppData(data, b.cfg.DefaultKind)
	if err != nil {
		observability.WithRequester(b.logger, userID).Warn("invalid mini-app data", "event", "webapp_data_invalid", "error", err)
		b.reply(ctx, chatID, "Error generating report.")
		return
	}
	b.submit(ctx, chatID, userID, args, admission.ChannelRawMessage)
}

func (b *Bot) submit(ctx context.Context, chatID, userID int64, args reportArgs, channel admission.Channel) {
	_, err := b.service.Submit(ctx, admission.Request{
		Kind:        args.Kind,
		Year:        args.Year,
		Week:        args.Week,
		RequesterID: userID,
		Channel:     channel,
	})
	if err != nil {
		b.reply(ctx, chatID, rejectionText(err, userID))
	}
}

// sendMenu offers buttons for the current and previous week of every enabled kind.
func (b *Bot) sendMenu(ctx context.Context, chatID int64) {
	now := b.now().In(b.cfg.Timezone)
	year, week := now.ISOWeek()
	prevYear, prevWeek := now.AddDate(0, 0, -7).ISOWeek()

	var rows [][]models.InlineKeyboardButton
	for _, kind := range b.registry.Kinds() {
		rows = append(rows, []models.InlineKeyboardButton{
			{Text: fmt.Sprintf("%s %d/KW%d", kind, year, week), CallbackData: callbackData(kind, year, week)},
			{Text: fmt.Sprintf("%s %d/KW%d", kind, prevYear, prevWeek), CallbackData: callbackData(kind, prevYear, prevWeek)},
		})
	}
	_, err := b.msgr.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:      chatID,
		Text:        "Report params:",
		ReplyMarkup: &models.InlineKeyboardMarkup{InlineKeyboard: rows},
	})
	if err != nil {
		b.logger.Warn("send menu", "event", "reply_failed", "error", err)
	}
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	if _, err := b.msgr.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: text}); err != nil {
		b.logger.Warn("send reply", "event", "reply_failed", "error", err)
	}
}

func startText(user *models.User) string {
	name := user.FirstName
	if name == "" {
		name = user.Username
	}
	return fmt.Sprintf("Hi, %s!\nYour user_id=%d", name, user.ID)
}

// rejectionText is what a requester sees when a request is not started.
func rejectionText(err error, userID int64) string {
	if rej, ok := admission.AsRejection(err); ok {
		switch rej.Reason {
		case admission.ReasonUnauthenticated, admission.ReasonUnauthorized:
			return fmt.Sprintf("Access denied. Your user_id=%d", userID)
		case admission.ReasonRateLimited:
			return fmt.Sprintf("Please wait %d seconds before generating another report.", rej.WaitSeconds)
		case admission.ReasonInvalidParams:
			return "Invalid year or week values."
		case admission.ReasonUnknownKind:
			return rej.Message
		}
	}
	if errors.Is(err, orchestrator.ErrNotReady) || errors.Is(err, orchestrator.ErrShuttingDown) {
		return "The report service is not ready, please try again shortly."
	}
	return "Error generating report. Please try again."
}
