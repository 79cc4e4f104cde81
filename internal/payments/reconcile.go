package payments

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/suspectuso/runes-oracle/internal/ledger"
	"github.com/suspectuso/runes-oracle/internal/yookassa"
)

var (
	ErrNotSucceeded   = errors.New("payment has not succeeded")
	ErrForeignPayment = errors.New("payment does not belong to this bot")
	ErrUnknownAccount = errors.New("no account for payment")
	ErrRefMismatch    = errors.New("provider returned a different payment")
)

// Reconcile re-reads a payment from the provider and credits it when it has
// succeeded. It serves provider notifications and payments whose poll was
// lost to a restart; the credit goes through the same ref-keyed path as the
// poll loop, so whichever runs second is a no-op.
//
// ref comes from an unauthenticated request. Only the id the provider
// itself returns is credited, and only when it is exactly ref.
func (r *Reconciler) Reconcile(ctx context.Context, ref string) (ledger.CreditResult, error) {
	if !yookassa.ValidPaymentID(ref) {
		return ledger.CreditResult{}, fmt.Errorf("%w: %q", yookassa.ErrInvalidPaymentID, ref)
	}

	payment, err := r.provider.GetPayment(ctx, ref)
	if err != nil {
		return ledger.CreditResult{}, err
	}
	if payment.ID != ref {
		return ledger.CreditResult{}, fmt.Errorf("%w: asked %q, got %q", ErrRefMismatch, ref, payment.ID)
	}
	if payment.Status != yookassa.StatusSucceeded {
		return ledger.CreditResult{}, fmt.Errorf("%w: %s", ErrNotSucceeded, payment.Status)
	}

	p, tracked := r.lookup(ref)
	if !tracked {
		p, err = r.pendingFromPayment(payment)
		if err != nil {
			return ledger.CreditResult{}, err
		}
	}

	credit, err := r.ledger.CreditPayment(ctx, p.PublicID, p.Limits, ref)
	if err != nil {
		return ledger.CreditResult{}, err
	}
	if !credit.Applied && !credit.Duplicate {
		return credit, fmt.Errorf("%w: %s", ErrUnknownAccount, p.PublicID)
	}

	r.log.Info("payment reconciled",
		"ref", ref,
		"public_id", p.PublicID,
		"limits", p.Limits,
		"tracked", tracked,
		"duplicate", credit.Duplicate,
	)

	if credit.Applied {
		if !tracked && r.metrics != nil {
			r.metrics.PaymentOutcomes.WithLabelValues(OutcomeSucceeded.String()).Inc()
		}
		if p.ChatID != 0 {
			text := outcomeMessage(p, Result{Outcome: OutcomeSucceeded, Credit: credit})
			if err := r.notifier.Send(ctx, p.ChatID, text); err != nil {
				r.log.Error("notify payment outcome", "ref", ref, "chat_id", p.ChatID, "error", err)
			}
		}
	}

	return credit, nil
}

func (r *Reconciler) lookup(ref string) (PendingPayment, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[ref]
	if !ok {
		return PendingPayment{}, false
	}
	return t.payment, true
}

// pendingFromPayment rebuilds a pending payment from the metadata written
// by Initiate
func (r *Reconciler) pendingFromPayment(payment *yookassa.Payment) (PendingPayment, error) {
	md := payment.Metadata
	if md[metaBot] != r.opts.BotName || md[metaPublicID] == "" {
		return PendingPayment{}, fmt.Errorf("%w: %s", ErrForeignPayment, payment.ID)
	}

	amount, err := yookassa.ParseAmount(payment.Amount)
	if err != nil {
		return PendingPayment{}, fmt.Errorf("payment %s amount: %w", payment.ID, err)
	}

	limits, err := strconv.Atoi(md[metaLimits])
	if err != nil || limits < 1 {
		limits = r.LimitsFor(amount)
	}

	p := PendingPayment{
		Ref:       payment.ID,
		PublicID:  md[metaPublicID],
		AmountRUB: amount,
		Limits:    limits,
	}
	p.UserID, _ = strconv.ParseInt(md[metaUserID], 10, 64)
	p.ChatID, _ = strconv.ParseInt(md[metaChatID], 10, 64)
	if p.ChatID == 0 {
		p.ChatID = p.UserID
	}
	return p, nil
}
