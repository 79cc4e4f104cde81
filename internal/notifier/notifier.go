package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"golang.org/x/time/rate"

	"github.com/suspectuso/runes-oracle/internal/metrics"
)

// Messenger is the part of the Telegram API the notifier needs
type Messenger interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	CopyMessage(ctx context.Context, params *bot.CopyMessageParams) (*models.MessageID, error)
}

// Audience lists broadcast recipients
type Audience interface {
	ListUserIDs(ctx context.Context, exclude int64) ([]int64, error)
}

// Notifier delivers outbound messages: single notifications and admin
// broadcasts
type Notifier struct {
	api      Messenger
	audience Audience
	metrics  *metrics.Metrics
	log      *slog.Logger
	limiter  *rate.Limiter
}

// Report summarizes a broadcast
type Report struct {
	Total  int
	Sent   int
	Failed int
}

// New creates a new Notifier. rps bounds broadcast deliveries per second.
func New(api Messenger, audience Audience, m *metrics.Metrics, log *slog.Logger, rps float64) *Notifier {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	return &Notifier{
		api:      api,
		audience: audience,
		metrics:  m,
		log:      log,
		limiter:  rate.NewLimiter(limit, 1),
	}
}

// Send sends an HTML message to a chat
func (n *Notifier) Send(ctx context.Context, chatID int64, text string) error {
	disablePreview := true
	_, err := n.api.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
		LinkPreviewOptions: &models.LinkPreviewOptions{
			IsDisabled: &disablePreview,
		},
	})
	return err
}

// Broadcast copies one admin message to every subscriber except the admin.
// Delivery failures are counted and skipped; only a canceled ctx or a
// failed audience lookup stop it.
func (n *Notifier) Broadcast(ctx context.Context, fromChatID int64, messageID int) (Report, error) {
	ids, err := n.audience.ListUserIDs(ctx, fromChatID)
	if err != nil {
		return Report{}, fmt.Errorf("list subscribers: %w", err)
	}

	report := Report{Total: len(ids)}
	n.log.Info("broadcast started", "recipients", len(ids), "message_id", messageID)

	for _, userID := range ids {
		if err := n.limiter.Wait(ctx); err != nil {
			n.log.Warn("broadcast interrupted", "sent", report.Sent, "failed", report.Failed, "error", err)
			return report, err
		}

		_, err := n.api.CopyMessage(ctx, &bot.CopyMessageParams{
			ChatID:     userID,
			FromChatID: strconv.FormatInt(fromChatID, 10),
			MessageID:  messageID,
		})
		if err != nil {
			report.Failed++
			n.count("failed")
			n.log.Debug("broadcast delivery", "user_id", userID, "error", err)
			continue
		}
		report.Sent++
		n.count("sent")
	}

	n.log.Info("broadcast finished", "sent", report.Sent, "failed", report.Failed)
	return report, nil
}

func (n *Notifier) count(result string) {
	if n.metrics != nil {
		n.metrics.BroadcastSent.WithLabelValues(result).Inc()
	}
}
