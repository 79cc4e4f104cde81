package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/suspectuso/runes-oracle/internal/payments"
	"github.com/suspectuso/runes-oracle/internal/runes"
)

const maxQuestionLen = 1000

// --- Handlers ---

func (b *Bot) startHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}
	b.send(ctx, update.Message.Chat.ID, b.start(ctx, update.Message.From.ID))
}

func (b *Bot) menuHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}
	userID := update.Message.From.ID
	b.states.Clear(userID)
	b.send(ctx, update.Message.Chat.ID, []reply{b.mainMenu(userID)})
}

func (b *Bot) defaultHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}

	if st := b.states.Get(msg.From.ID); st != nil && st.State == StateWaitQuestion && !isMenuButton(strings.TrimSpace(msg.Text)) {
		b.sendTyping(ctx, msg.Chat.ID)
	}
	b.send(ctx, msg.Chat.ID, b.route(ctx, msg))
}

func (b *Bot) start(ctx context.Context, userID int64) []reply {
	b.states.Clear(userID)

	acc, err := b.deps.Ledger.Open(ctx, userID)
	if err != nil {
		return []reply{{text: msgStoreError, markup: MainKeyboard(b.isAdmin(userID))}}
	}

	return []reply{
		{text: fmt.Sprintf(msgWelcome, acc.PublicID, acc.Limits)},
		b.mainMenu(userID),
	}
}

func (b *Bot) mainMenu(userID int64) reply {
	return reply{text: msgChooseAction, markup: MainKeyboard(b.isAdmin(userID))}
}

// route answers a message that no command handler took
func (b *Bot) route(ctx context.Context, msg *models.Message) []reply {
	userID := msg.From.ID
	text := strings.TrimSpace(msg.Text)

	if text == BtnMainMenu {
		b.states.Clear(userID)
		return []reply{b.mainMenu(userID)}
	}

	if kind, ok := spreadButtons[text]; ok {
		b.states.Set(userID, StateWaitQuestion, map[string]string{dataKind: kind})
		spread := runes.Spreads[kind]
		return []reply{{
			text:   fmt.Sprintf(msgAskQuestion, spread.Title, b.cfg.Price(kind)),
			markup: BackKeyboard(),
		}}
	}

	switch text {
	case BtnHowTo:
		b.states.Clear(userID)
		return []reply{{text: msgHowTo, markup: MainKeyboard(b.isAdmin(userID))}}
	case BtnMyLimits:
		b.states.Clear(userID)
		return []reply{b.myLimits(ctx, userID)}
	case BtnTopUp:
		b.states.Set(userID, StateWaitAmount, nil)
		return []reply{{text: fmt.Sprintf(msgAskAmount, b.cfg.LimitPriceRUB), markup: BackKeyboard()}}
	}

	if b.isAdmin(userID) {
		if out, ok := b.routeAdmin(ctx, msg, text); ok {
			return out
		}
	}

	st := b.states.Get(userID)
	if st == nil {
		return []reply{b.mainMenu(userID)}
	}

	switch st.State {
	case StateWaitQuestion:
		return b.handleQuestion(ctx, userID, st.Data[dataKind], text)
	case StateWaitAmount:
		return b.handleAmount(ctx, msg, text)
	}

	b.states.Clear(userID)
	return []reply{b.mainMenu(userID)}
}

func (b *Bot) myLimits(ctx context.Context, userID int64) reply {
	acc, err := b.deps.Ledger.Open(ctx, userID)
	if err != nil {
		return reply{text: msgStoreError, markup: MainKeyboard(b.isAdmin(userID))}
	}
	return reply{
		text:   fmt.Sprintf(msgMyLimits, acc.Limits, acc.PublicID),
		markup: MainKeyboard(b.isAdmin(userID)),
	}
}

func (b *Bot) handleQuestion(ctx context.Context, userID int64, kind, question string) []reply {
	if question == "" {
		return []reply{{text: msgQuestionEmpty, markup: BackKeyboard()}}
	}
	if len([]rune(question)) > maxQuestionLen {
		return []reply{{text: fmt.Sprintf(msgQuestionTooLong, maxQuestionLen), markup: BackKeyboard()}}
	}

	b.states.Clear(userID)
	return []reply{{text: b.divine(ctx, userID, kind, question), markup: MainKeyboard(b.isAdmin(userID))}}
}

// divine runs a paid draw: the price is debited up front and refunded if
// no reading could be produced
func (b *Bot) divine(ctx context.Context, userID int64, kind, question string) string {
	price := b.cfg.Price(kind)

	acc, err := b.deps.Ledger.Open(ctx, userID)
	if err != nil {
		return msgStoreError
	}

	debitedAt := time.Now()
	ok, err := b.deps.Ledger.Debit(ctx, userID, price)
	if err != nil {
		return msgStoreError
	}
	if !ok {
		return fmt.Sprintf(msgInsufficient, price, acc.Limits)
	}

	spread, drawn, err := b.deps.Runes.Cast(kind)
	if err != nil {
		b.log.Error("cast runes", "kind", kind, "error", err)
		b.refund(ctx, userID, price, debitedAt)
		return msgOracleError
	}

	text, err := b.deps.Oracle.Interpret(ctx, question, spread, drawn)
	if err != nil {
		b.log.Error("interpret spread", "user_id", userID, "kind", kind, "error", err)
		b.refund(ctx, userID, price, debitedAt)
		return msgOracleError
	}

	if err := b.deps.Ledger.RecordUsage(ctx, userID, kind); err != nil {
		b.log.Error("record usage", "user_id", userID, "kind", kind, "error", err)
	}

	return formatReading(spread, drawn, text)
}

func (b *Bot) refund(ctx context.Context, userID int64, amount int, debitedAt time.Time) {
	if _, err := b.deps.Ledger.Refund(ctx, userID, amount, debitedAt); err != nil {
		b.log.Error("refund after failed draw", "user_id", userID, "amount", amount, "error", err)
	}
}

func (b *Bot) handleAmount(ctx context.Context, msg *models.Message, text string) []reply {
	userID := msg.From.ID
	menu := MainKeyboard(b.isAdmin(userID))

	amount, err := parseRubles(text)
	if err != nil {
		return []reply{{text: msgBadAmount, markup: BackKeyboard()}}
	}

	acc, err := b.deps.Ledger.Open(ctx, userID)
	if err != nil {
		b.states.Clear(userID)
		return []reply{{text: msgStoreError, markup: menu}}
	}

	url, _, err := b.deps.Payments.Initiate(ctx, userID, msg.Chat.ID, acc.PublicID, amount)
	if errors.Is(err, payments.ErrAmountTooSmall) {
		return []reply{{text: fmt.Sprintf(msgAmountTooSmall, b.cfg.LimitPriceRUB), markup: BackKeyboard()}}
	}
	b.states.Clear(userID)
	if err != nil {
		return []reply{{text: msgPaymentFailed, markup: menu}}
	}

	return []reply{{
		text:   fmt.Sprintf(msgPaymentLink, amount.StringFixed(2), html.EscapeString(url)),
		markup: menu,
	}}
}

func formatReading(spread runes.Spread, drawn []runes.Drawn, interpretation string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "🔮 <b>%s</b>\n\n", html.EscapeString(spread.Title))
	for _, d := range drawn {
		if len(drawn) > 1 {
			fmt.Fprintf(&sb, "%s: <b>%s</b>\n", html.EscapeString(d.Position), html.EscapeString(d.Title()))
		} else {
			fmt.Fprintf(&sb, "<b>%s</b>\n", html.EscapeString(d.Title()))
		}
	}
	sb.WriteString("\n")
	sb.WriteString(html.EscapeString(interpretation))
	return sb.String()
}
