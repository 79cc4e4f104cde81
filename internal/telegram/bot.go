package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/shopspring/decimal"

	"github.com/suspectuso/runes-oracle/internal/config"
	"github.com/suspectuso/runes-oracle/internal/notifier"
	"github.com/suspectuso/runes-oracle/internal/runes"
	"github.com/suspectuso/runes-oracle/internal/storage"
)

// Ledger is the balance API the chat flows use
type Ledger interface {
	Open(ctx context.Context, userID int64) (*storage.Account, error)
	Debit(ctx context.Context, userID int64, amount int) (bool, error)
	Refund(ctx context.Context, userID int64, amount int, debitedAt time.Time) (bool, error)
	RecordUsage(ctx context.Context, userID int64, kind string) error
	Credit(ctx context.Context, publicID string, amount int) (bool, int64, error)
	Balance(ctx context.Context, publicID string) (*storage.Account, bool, error)
}

// Caster draws the runes of a spread
type Caster interface {
	Cast(kind string) (runes.Spread, []runes.Drawn, error)
}

// Interpreter reads a spread against a question
type Interpreter interface {
	Interpret(ctx context.Context, question string, spread runes.Spread, drawn []runes.Drawn) (string, error)
}

// Payments starts provider payments
type Payments interface {
	Initiate(ctx context.Context, userID, chatID int64, publicID string, amount decimal.Decimal) (string, string, error)
}

// Broadcaster fans an admin message out to every subscriber
type Broadcaster interface {
	Broadcast(ctx context.Context, fromChatID int64, messageID int) (notifier.Report, error)
}

// Notifier sends a message to a chat other than the one being served
type Notifier interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// StatsSource reports usage totals
type StatsSource interface {
	Stats(ctx context.Context) (*storage.Stats, error)
}

// Deps are the services behind the chat flows
type Deps struct {
	Ledger      Ledger
	Runes       Caster
	Oracle      Interpreter
	Payments    Payments
	Broadcaster Broadcaster
	Notifier    Notifier
	Stats       StatsSource
}

// Bot wraps the telegram bot with handlers
type Bot struct {
	bot    *bot.Bot
	cfg    *config.Config
	deps   Deps
	states *StateManager
	log    *slog.Logger
}

// reply is one outbound message produced by a handler
type reply struct {
	text   string
	markup models.ReplyMarkup
}

// New creates a new telegram bot. Services are attached with Bind before
// Start.
func New(cfg *config.Config, log *slog.Logger) (*Bot, error) {
	b := &Bot{
		cfg:    cfg,
		states: NewStateManager(),
		log:    log,
	}

	opts := []bot.Option{
		bot.WithDefaultHandler(b.defaultHandler),
	}

	tgBot, err := bot.New(cfg.BotToken, opts...)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}

	b.bot = tgBot

	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/start", bot.MatchTypeExact, b.startHandler)
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/start ", bot.MatchTypePrefix, b.startHandler)
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/menu", bot.MatchTypeExact, b.menuHandler)

	return b, nil
}

// Bind attaches the services used by the handlers
func (b *Bot) Bind(deps Deps) {
	b.deps = deps
}

// Start starts the bot polling
func (b *Bot) Start(ctx context.Context) {
	b.bot.Start(ctx)
}

// GetBot returns the underlying bot instance
func (b *Bot) GetBot() *bot.Bot {
	return b.bot
}

func (b *Bot) isAdmin(userID int64) bool {
	return b.cfg.AdminID != 0 && userID == b.cfg.AdminID
}

func (b *Bot) send(ctx context.Context, chatID int64, replies []reply) {
	for _, r := range replies {
		if r.text == "" {
			continue
		}
		b.sendMessage(ctx, chatID, r.text, r.markup)
	}
}

func (b *Bot) sendMessage(ctx context.Context, chatID int64, text string, markup models.ReplyMarkup) {
	params := &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
	}
	if markup != nil {
		params.ReplyMarkup = markup
	}

	_, err := b.bot.SendMessage(ctx, params)
	if err != nil {
		b.log.Error("send message", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) sendTyping(ctx context.Context, chatID int64) {
	_, err := b.bot.SendChatAction(ctx, &bot.SendChatActionParams{
		ChatID: chatID,
		Action: models.ChatActionTyping,
	})
	if err != nil {
		b.log.Debug("send chat action", "error", err)
	}
}
