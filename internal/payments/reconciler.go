package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/suspectuso/runes-oracle/internal/ledger"
	"github.com/suspectuso/runes-oracle/internal/metrics"
	"github.com/suspectuso/runes-oracle/internal/yookassa"
)

var (
	ErrAmountTooSmall = errors.New("amount buys less than one limit")
	ErrCreateFailed   = errors.New("payment was not created")
)

// Metadata keys stored on the provider payment
const (
	metaUserID   = "user_id"
	metaChatID   = "chat_id"
	metaPublicID = "public_id"
	metaLimits   = "limits"
	metaBot      = "bot_name"
)

// Provider is the external payment system
type Provider interface {
	CreatePayment(ctx context.Context, amount decimal.Decimal, description string, metadata map[string]string) (string, string, error)
	GetPayment(ctx context.Context, paymentID string) (*yookassa.Payment, error)
}

// Crediter applies a confirmed payment to the ledger, once per ref
type Crediter interface {
	CreditPayment(ctx context.Context, publicID string, amount int, paymentRef string) (ledger.CreditResult, error)
}

// Notifier reports outcomes back to the chat that started the payment
type Notifier interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// PendingPayment is a payment being watched. It lives only in memory.
type PendingPayment struct {
	Ref       string
	UserID    int64
	ChatID    int64
	PublicID  string
	AmountRUB decimal.Decimal
	Limits    int
	CreatedAt time.Time
}

// Options tune the poll loop
type Options struct {
	Interval      time.Duration
	Attempts      int
	LimitPriceRUB int
	BotName       string
}

type task struct {
	payment PendingPayment
	cancel  context.CancelFunc
}

// Reconciler turns provider payment states into exactly one ledger credit
// per payment. It owns the registry of payments currently being polled.
type Reconciler struct {
	provider Provider
	ledger   Crediter
	notifier Notifier
	metrics  *metrics.Metrics
	log      *slog.Logger
	opts     Options

	mu     sync.Mutex
	tasks  map[string]*task
	wg     sync.WaitGroup
	base   context.Context
	stop   context.CancelFunc
	closed bool

	// onResult observes finished polls
	onResult func(ref string, res Result)
}

// New creates a new Reconciler
func New(provider Provider, l Crediter, n Notifier, m *metrics.Metrics, log *slog.Logger, opts Options) *Reconciler {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 20
	}
	if opts.LimitPriceRUB <= 0 {
		opts.LimitPriceRUB = 1
	}
	if opts.BotName == "" {
		opts.BotName = "runes_bot"
	}

	base, stop := context.WithCancel(context.Background())
	return &Reconciler{
		provider: provider,
		ledger:   l,
		notifier: n,
		metrics:  m,
		log:      log,
		opts:     opts,
		tasks:    make(map[string]*task),
		base:     base,
		stop:     stop,
	}
}

// LimitsFor converts a ruble amount into whole limits
func (r *Reconciler) LimitsFor(amount decimal.Decimal) int {
	return int(amount.Div(decimal.NewFromInt(int64(r.opts.LimitPriceRUB))).IntPart())
}

// Initiate creates a provider payment and starts watching it. A provider
// failure returns ErrCreateFailed and starts nothing.
func (r *Reconciler) Initiate(ctx context.Context, userID, chatID int64, publicID string, amount decimal.Decimal) (string, string, error) {
	limits := r.LimitsFor(amount)
	if limits < 1 {
		return "", "", ErrAmountTooSmall
	}

	description := fmt.Sprintf("Пополнение лимитов для пользователя %s", publicID)
	metadata := map[string]string{
		metaUserID:   strconv.FormatInt(userID, 10),
		metaChatID:   strconv.FormatInt(chatID, 10),
		metaPublicID: publicID,
		metaLimits:   strconv.Itoa(limits),
		metaBot:      r.opts.BotName,
	}

	url, ref, err := r.provider.CreatePayment(ctx, amount, description, metadata)
	if err != nil {
		r.log.Error("create payment", "user_id", userID, "amount", amount.StringFixed(2), "error", err)
		return "", "", fmt.Errorf("%w: %v", ErrCreateFailed, err)
	}

	r.log.Info("payment created",
		"ref", ref,
		"user_id", userID,
		"public_id", publicID,
		"amount", amount.StringFixed(2),
		"limits", limits,
	)

	r.StartMonitoring(ref, PendingPayment{
		Ref:       ref,
		UserID:    userID,
		ChatID:    chatID,
		PublicID:  publicID,
		AmountRUB: amount,
		Limits:    limits,
		CreatedAt: time.Now(),
	})

	return url, ref, nil
}

// StartMonitoring registers ref and polls it in its own goroutine. It
// returns false when ref is already being polled or after Shutdown.
func (r *Reconciler) StartMonitoring(ref string, p PendingPayment) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false
	}
	if _, ok := r.tasks[ref]; ok {
		r.log.Info("payment already monitored", "ref", ref)
		return false
	}

	p.Ref = ref
	ctx, cancel := context.WithCancel(r.base)
	r.tasks[ref] = &task{payment: p, cancel: cancel}
	r.wg.Add(1)
	if r.metrics != nil {
		r.metrics.PaymentsInFlight.Inc()
	}

	go r.run(ctx, p)
	return true
}

// Pending returns the payments currently being polled
func (r *Reconciler) Pending() []PendingPayment {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]PendingPayment, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t.payment)
	}
	return out
}

// Shutdown cancels every poll and waits for them to exit
func (r *Reconciler) Shutdown() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.stop()
	r.wg.Wait()
}

// Wait blocks until every started poll has exited
func (r *Reconciler) Wait() {
	r.wg.Wait()
}

func (r *Reconciler) run(ctx context.Context, p PendingPayment) {
	defer r.wg.Done()

	res := r.poll(ctx, p)

	r.mu.Lock()
	if t, ok := r.tasks[p.Ref]; ok {
		t.cancel()
		delete(r.tasks, p.Ref)
	}
	r.mu.Unlock()

	r.finish(p, res)
}

// poll is the state machine of one payment. Every terminal path returns
// from here; the caller deregisters and reports.
func (r *Reconciler) poll(ctx context.Context, p PendingPayment) Result {
	var res Result
	timer := time.NewTimer(r.opts.Interval)
	defer timer.Stop()

	for res.Attempts < r.opts.Attempts {
		select {
		case <-ctx.Done():
			res.Outcome = OutcomeInterrupted
			return res
		case <-timer.C:
		}
		res.Attempts++

		status, err := r.status(ctx, p.Ref)
		r.log.Info("payment status", "ref", p.Ref, "status", status, "attempt", res.Attempts, "error", err)
		res.Err = err

		switch {
		case err != nil:
			// inconclusive, the attempt is spent
		case status == yookassa.StatusSucceeded:
			credit, err := r.ledger.CreditPayment(ctx, p.PublicID, p.Limits, p.Ref)
			if err == nil && (credit.Applied || credit.Duplicate) {
				res.Outcome = OutcomeSucceeded
				res.Credit = credit
				res.Err = nil
				return res
			}
			if err == nil {
				err = fmt.Errorf("no account with public id %s", p.PublicID)
			}
			// the provider keeps reporting success, so the next attempt retries the credit
			res.Err = err
			r.log.Error("credit payment", "ref", p.Ref, "public_id", p.PublicID, "error", err)
		case status == yookassa.StatusCanceled:
			res.Outcome = OutcomeCanceled
			return res
		}

		timer.Reset(r.opts.Interval)
	}

	if res.Err != nil && errors.Is(res.Err, yookassa.ErrProvider) {
		res.Outcome = OutcomeProviderError
	} else {
		res.Outcome = OutcomeTimedOut
	}
	return res
}

func (r *Reconciler) status(ctx context.Context, ref string) (string, error) {
	payment, err := r.provider.GetPayment(ctx, ref)
	if err != nil {
		return "", err
	}
	return payment.Status, nil
}

func (r *Reconciler) finish(p PendingPayment, res Result) {
	if r.metrics != nil {
		r.metrics.PaymentsInFlight.Dec()
		r.metrics.PaymentOutcomes.WithLabelValues(res.Outcome.String()).Inc()
	}

	r.log.Info("payment finished",
		"ref", p.Ref,
		"user_id", p.UserID,
		"outcome", res.Outcome.String(),
		"attempts", res.Attempts,
		"duplicate", res.Credit.Duplicate,
		"error", res.Err,
	)

	if text := outcomeMessage(p, res); text != "" && p.ChatID != 0 {
		// the poll context may already be canceled
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := r.notifier.Send(ctx, p.ChatID, text); err != nil {
			r.log.Error("notify payment outcome", "ref", p.Ref, "chat_id", p.ChatID, "error", err)
		}
		cancel()
	}

	if r.onResult != nil {
		r.onResult(p.Ref, res)
	}
}

func outcomeMessage(p PendingPayment, res Result) string {
	switch res.Outcome {
	case OutcomeSucceeded:
		if res.Credit.Duplicate {
			return ""
		}
		return fmt.Sprintf("✅ Оплата прошла. На ваш баланс зачислено %d лимитов.", p.Limits)
	case OutcomeCanceled:
		return "❌ Платёж отменён. Лимиты не списаны и не зачислены."
	case OutcomeTimedOut, OutcomeProviderError:
		return "⌛ Время ожидания оплаты истекло. Если деньги списались, напишите администратору и укажите ваш ID: " + p.PublicID
	}
	return ""
}
