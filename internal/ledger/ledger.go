package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/suspectuso/runes-oracle/internal/metrics"
	"github.com/suspectuso/runes-oracle/internal/storage"
)

// ErrStoreUnavailable wraps every storage failure that is not a business
// outcome (unknown account, insufficient balance, duplicate credit)
var ErrStoreUnavailable = errors.New("store unavailable")

// Ledger owns every balance mutation. NotFound and InsufficientBalance are
// reported as false results; only store failures come back as errors.
type Ledger struct {
	storage *storage.Storage
	metrics *metrics.Metrics
	log     *slog.Logger
}

// CreditResult describes a payment credit
type CreditResult struct {
	Applied   bool // balance was increased by this call
	Duplicate bool // ref was credited before, nothing changed
	UserID    int64
}

// New creates a new Ledger
func New(store *storage.Storage, m *metrics.Metrics, log *slog.Logger) *Ledger {
	return &Ledger{
		storage: store,
		metrics: m,
		log:     log,
	}
}

// Open registers a subscriber on first contact and returns their account
func (l *Ledger) Open(ctx context.Context, userID int64) (*storage.Account, error) {
	acc, created, err := l.storage.CreateAccount(ctx, userID)
	if err != nil {
		l.log.Error("create account", "user_id", userID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if created {
		l.log.Info("account created", "user_id", userID, "public_id", acc.PublicID)
	}
	return acc, nil
}

// Debit reserves amount before a paid action. It returns false, with no
// change, when the account is unknown or the balance does not cover amount.
func (l *Ledger) Debit(ctx context.Context, userID int64, amount int) (bool, error) {
	err := l.storage.Debit(ctx, userID, amount)
	switch {
	case err == nil:
		l.count("debit", metrics.ResultOK)
		return true, nil
	case errors.Is(err, storage.ErrInsufficientBalance), errors.Is(err, storage.ErrInvalidAmount):
		l.count("debit", metrics.ResultInsufficient)
		return false, nil
	case errors.Is(err, storage.ErrNotFound):
		l.count("debit", metrics.ResultNotFound)
		return false, nil
	default:
		l.count("debit", metrics.ResultError)
		l.log.Error("debit account", "user_id", userID, "amount", amount, "error", err)
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}

// Refund returns a debit whose paid action failed downstream. debitedAt is
// taken before the debit; it reports false when a reset has lifted the
// account since then, because the reset already restored the balance.
func (l *Ledger) Refund(ctx context.Context, userID int64, amount int, debitedAt time.Time) (bool, error) {
	err := l.storage.Refund(ctx, userID, amount, debitedAt)
	switch {
	case err == nil:
		l.count("refund", metrics.ResultOK)
		return true, nil
	case errors.Is(err, storage.ErrResetSinceDebit):
		l.count("refund", metrics.ResultSkipped)
		l.log.Info("refund skipped, balance was reset", "user_id", userID, "amount", amount)
		return false, nil
	default:
		l.count("refund", metrics.ResultError)
		l.log.Error("refund debit", "user_id", userID, "amount", amount, "error", err)
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}

// Credit is the administrator top-up. Each call is a distinct credit; it
// returns false when no account has the public id.
func (l *Ledger) Credit(ctx context.Context, publicID string, amount int) (bool, int64, error) {
	res, err := l.credit(ctx, publicID, amount, "admin-"+uuid.NewString(), storage.SourceAdmin)
	if err != nil {
		return false, 0, err
	}
	return res.Applied, res.UserID, nil
}

// CreditPayment credits a confirmed payment. Repeating a paymentRef is a
// no-op reported as Duplicate.
func (l *Ledger) CreditPayment(ctx context.Context, publicID string, amount int, paymentRef string) (CreditResult, error) {
	return l.credit(ctx, publicID, amount, paymentRef, storage.SourcePayment)
}

func (l *Ledger) credit(ctx context.Context, publicID string, amount int, ref, source string) (CreditResult, error) {
	userID, err := l.storage.Credit(ctx, publicID, amount, ref, source)
	switch {
	case err == nil:
		l.count("credit", metrics.ResultOK)
		if l.metrics != nil {
			l.metrics.CreditedLimits.WithLabelValues(source).Add(float64(amount))
		}
		l.log.Info("account credited",
			"user_id", userID,
			"public_id", storage.NormalizePublicID(publicID),
			"amount", amount,
			"ref", ref,
		)
		return CreditResult{Applied: true, UserID: userID}, nil
	case errors.Is(err, storage.ErrAlreadyExists):
		l.count("credit", metrics.ResultDuplicate)
		l.log.Warn("credit already applied", "ref", ref, "user_id", userID)
		return CreditResult{Duplicate: true, UserID: userID}, nil
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, storage.ErrInvalidAmount):
		l.count("credit", metrics.ResultNotFound)
		return CreditResult{}, nil
	default:
		l.count("credit", metrics.ResultError)
		l.log.Error("credit account", "public_id", publicID, "ref", ref, "error", err)
		return CreditResult{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}

// ResetAll lifts balances below floor. Limits credited at or after
// creditedSince that the account still holds are kept on top of the floor.
func (l *Ledger) ResetAll(ctx context.Context, floor int, creditedSince time.Time) (int64, error) {
	n, err := l.storage.ResetLimits(ctx, floor, creditedSince)
	if err != nil {
		l.count("reset", metrics.ResultError)
		l.log.Error("reset limits", "floor", floor, "error", err)
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	l.count("reset", metrics.ResultOK)
	if l.metrics != nil {
		l.metrics.ResetAccounts.Add(float64(n))
	}
	return n, nil
}

// RecordUsage appends a completed paid action
func (l *Ledger) RecordUsage(ctx context.Context, userID int64, kind string) error {
	if _, err := l.storage.RecordUsage(ctx, userID, kind); err != nil {
		l.log.Error("record usage", "user_id", userID, "kind", kind, "error", err)
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if l.metrics != nil {
		l.metrics.Draws.WithLabelValues(kind).Inc()
	}
	return nil
}

// Balance looks an account up by public id
func (l *Ledger) Balance(ctx context.Context, publicID string) (*storage.Account, bool, error) {
	return l.lookup(l.storage.AccountByPublicID(ctx, publicID))
}

// Account looks an account up by internal id
func (l *Ledger) Account(ctx context.Context, userID int64) (*storage.Account, bool, error) {
	return l.lookup(l.storage.Account(ctx, userID))
}

// PublicID returns the public id of an internal id
func (l *Ledger) PublicID(ctx context.Context, userID int64) (string, bool, error) {
	publicID, err := l.storage.PublicIDFor(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		l.log.Error("lookup public id", "user_id", userID, "error", err)
		return "", false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return publicID, true, nil
}

func (l *Ledger) lookup(acc *storage.Account, err error) (*storage.Account, bool, error) {
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		l.log.Error("lookup account", "error", err)
		return nil, false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return acc, true, nil
}

func (l *Ledger) count(op, result string) {
	if l.metrics != nil {
		l.metrics.LedgerOps.WithLabelValues(op, result).Inc()
	}
}
