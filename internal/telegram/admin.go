package telegram

import (
	"context"
	"fmt"

	"github.com/go-telegram/bot/models"
)

// routeAdmin handles admin buttons, admin input states and broadcasts.
// It returns false when the message should go through the user flow.
func (b *Bot) routeAdmin(ctx context.Context, msg *models.Message, text string) ([]reply, bool) {
	userID := msg.From.ID

	switch text {
	case BtnAdminCredit:
		b.states.Set(userID, StateAdminTopUp, nil)
		return []reply{{text: msgAdminAskCredit, markup: BackKeyboard()}}, true
	case BtnAdminBalance:
		b.states.Set(userID, StateAdminBalance, nil)
		return []reply{{text: msgAdminAskBalance, markup: BackKeyboard()}}, true
	case BtnAdminStats:
		b.states.Clear(userID)
		return []reply{b.adminStats(ctx)}, true
	}

	st := b.states.Get(userID)
	if st != nil {
		switch st.State {
		case StateAdminTopUp:
			return b.adminCredit(ctx, text), true
		case StateAdminBalance:
			return b.adminBalance(ctx, text), true
		}
		return nil, false
	}

	if len(text) > 0 && text[0] == '/' {
		return []reply{b.mainMenu(userID)}, true
	}

	return b.broadcast(ctx, msg), true
}

func (b *Bot) adminCredit(ctx context.Context, text string) []reply {
	menu := MainKeyboard(true)

	publicID, amount, err := parseAdminCredit(text)
	if err != nil {
		return []reply{{text: msgAdminBadCredit, markup: BackKeyboard()}}
	}
	b.states.Clear(b.cfg.AdminID)

	ok, userID, err := b.deps.Ledger.Credit(ctx, publicID, amount)
	if err != nil {
		return []reply{{text: msgStoreError, markup: menu}}
	}
	if !ok {
		return []reply{{text: fmt.Sprintf(msgAdminUnknownID, publicID), markup: menu}}
	}

	b.log.Info("admin credit", "public_id", publicID, "user_id", userID, "amount", amount)
	if err := b.deps.Notifier.Send(ctx, userID, fmt.Sprintf(msgCreditedByAdmin, amount)); err != nil {
		b.log.Warn("notify credited user", "user_id", userID, "error", err)
	}

	acc, found, err := b.deps.Ledger.Balance(ctx, publicID)
	if err != nil || !found {
		return []reply{{text: fmt.Sprintf(msgAdminCredited, amount, publicID), markup: menu}}
	}
	return []reply{{text: fmt.Sprintf(msgAdminCredited, amount, publicID) + fmt.Sprintf(msgAdminNewBalance, acc.Limits), markup: menu}}
}

func (b *Bot) adminBalance(ctx context.Context, text string) []reply {
	menu := MainKeyboard(true)

	publicID, err := parsePublicID(text)
	if err != nil {
		return []reply{{text: msgAdminBadBalance, markup: BackKeyboard()}}
	}
	b.states.Clear(b.cfg.AdminID)

	acc, found, err := b.deps.Ledger.Balance(ctx, publicID)
	if err != nil {
		return []reply{{text: msgStoreError, markup: menu}}
	}
	if !found {
		return []reply{{text: fmt.Sprintf(msgAdminUnknownID, publicID), markup: menu}}
	}
	return []reply{{text: fmt.Sprintf(msgAdminBalance, acc.PublicID, acc.UserID, acc.Limits), markup: menu}}
}

func (b *Bot) adminStats(ctx context.Context) reply {
	menu := MainKeyboard(true)
	if b.deps.Stats == nil {
		return reply{text: msgStoreError, markup: menu}
	}

	st, err := b.deps.Stats.Stats(ctx)
	if err != nil {
		b.log.Error("load stats", "error", err)
		return reply{text: msgStoreError, markup: menu}
	}
	return reply{
		text:   fmt.Sprintf(msgAdminStats, st.Subscribers, st.DivinationsDay, st.DivinationsAll, st.CreditedLimits),
		markup: menu,
	}
}

// broadcast copies the admin's message to every subscriber in the
// background and reports when done
func (b *Bot) broadcast(ctx context.Context, msg *models.Message) []reply {
	chatID := msg.Chat.ID
	messageID := msg.ID

	go func() {
		report, err := b.deps.Broadcaster.Broadcast(context.WithoutCancel(ctx), chatID, messageID)
		if err != nil {
			b.log.Error("broadcast", "error", err)
		}
		done := fmt.Sprintf(msgBroadcastDone, report.Sent, report.Total, report.Failed)
		if err := b.deps.Notifier.Send(context.WithoutCancel(ctx), chatID, done); err != nil {
			b.log.Warn("report broadcast", "error", err)
		}
	}()

	return []reply{{text: msgBroadcastStarted}}
}
