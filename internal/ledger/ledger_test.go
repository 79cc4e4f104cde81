package ledger

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suspectuso/runes-oracle/internal/metrics"
	"github.com/suspectuso/runes-oracle/internal/storage"
)

func newTestLedger(t *testing.T) (*Ledger, *storage.Storage, *metrics.Metrics) {
	t.Helper()
	store, err := storage.New(filepath.Join(t.TempDir(), "ledger.db"), 50, "RUNES")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	m := metrics.New(prometheus.NewRegistry())
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(store, m, log), store, m
}

func balanceOf(t *testing.T, l *Ledger, userID int64) int {
	t.Helper()
	acc, ok, err := l.Account(context.Background(), userID)
	require.NoError(t, err)
	require.True(t, ok)
	return acc.Limits
}

func TestEndToEndBalanceFlow(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()

	acc, err := l.Open(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 50, acc.Limits)

	ok, err := l.Debit(ctx, 1, 10)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 40, balanceOf(t, l, 1))

	ok, err = l.Debit(ctx, 1, 1000)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 40, balanceOf(t, l, 1))

	publicID, found, err := l.PublicID(ctx, 1)
	require.NoError(t, err)
	require.True(t, found)

	ok, userID, err := l.Credit(ctx, publicID, 20)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(1), userID)
	assert.Equal(t, 60, balanceOf(t, l, 1))
}

func TestCreditIgnoresPublicIDCase(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()

	acc, err := l.Open(ctx, 9)
	require.NoError(t, err)

	ok, userID, err := l.Credit(ctx, strings.ToLower(acc.PublicID), 5)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(9), userID)

	found, ok, err := l.Balance(ctx, strings.ToLower(acc.PublicID))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 55, found.Limits)
}

func TestUnknownAccountsReportFalse(t *testing.T) {
	l, _, m := newTestLedger(t)
	ctx := context.Background()

	ok, err := l.Debit(ctx, 404, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, _, err = l.Credit(ctx, "RUNES-000000", 10)
	require.NoError(t, err)
	assert.False(t, ok)

	_, found, err := l.Balance(ctx, "RUNES-000000")
	require.NoError(t, err)
	assert.False(t, found)

	_, found, err = l.PublicID(ctx, 404)
	require.NoError(t, err)
	assert.False(t, found)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.LedgerOps.WithLabelValues("debit", metrics.ResultNotFound)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LedgerOps.WithLabelValues("credit", metrics.ResultNotFound)))
}

func TestConcurrentDebitsExactlyOneWins(t *testing.T) {
	l, _, m := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Open(ctx, 1)
	require.NoError(t, err)

	const workers = 20
	var wins, losses atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := l.Debit(ctx, 1, 50)
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			} else {
				losses.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(workers-1), losses.Load())
	assert.Equal(t, 0, balanceOf(t, l, 1))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LedgerOps.WithLabelValues("debit", metrics.ResultOK)))
}

func TestCreditPaymentOnce(t *testing.T) {
	l, _, m := newTestLedger(t)
	ctx := context.Background()

	acc, err := l.Open(ctx, 1)
	require.NoError(t, err)

	res, err := l.CreditPayment(ctx, acc.PublicID, 100, "2d1f-payment")
	require.NoError(t, err)
	assert.Equal(t, CreditResult{Applied: true, UserID: 1}, res)

	res, err = l.CreditPayment(ctx, acc.PublicID, 100, "2d1f-payment")
	require.NoError(t, err)
	assert.Equal(t, CreditResult{Duplicate: true, UserID: 1}, res)

	assert.Equal(t, 150, balanceOf(t, l, 1))
	assert.Equal(t, 100.0, testutil.ToFloat64(m.CreditedLimits.WithLabelValues(storage.SourcePayment)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LedgerOps.WithLabelValues("credit", metrics.ResultDuplicate)))
}

func TestAdminCreditsAreIndependent(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()

	acc, err := l.Open(ctx, 1)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		ok, _, err := l.Credit(ctx, acc.PublicID, 10)
		require.NoError(t, err)
		require.True(t, ok)
	}
	assert.Equal(t, 80, balanceOf(t, l, 1))
}

func TestResetAll(t *testing.T) {
	l, _, m := newTestLedger(t)
	ctx := context.Background()

	for _, id := range []int64{1, 2, 3} {
		_, err := l.Open(ctx, id)
		require.NoError(t, err)
	}
	ok, err := l.Debit(ctx, 1, 40)
	require.NoError(t, err)
	require.True(t, ok)
	acc3, _, err := l.Account(ctx, 3)
	require.NoError(t, err)
	ok, _, err = l.Credit(ctx, acc3.PublicID, 25)
	require.NoError(t, err)
	require.True(t, ok)

	n, err := l.ResetAll(ctx, 50, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	assert.Equal(t, 50, balanceOf(t, l, 1))
	assert.Equal(t, 50, balanceOf(t, l, 2))
	assert.Equal(t, 75, balanceOf(t, l, 3))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ResetAccounts))
}

func TestBalanceNeverNegative(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()

	acc, err := l.Open(ctx, 1)
	require.NoError(t, err)

	ops := []func(){
		func() { l.Debit(ctx, 1, 30) },
		func() { l.Debit(ctx, 1, 30) },
		func() { l.Credit(ctx, acc.PublicID, 5) },
		func() { l.Debit(ctx, 1, 26) },
		func() { l.ResetAll(ctx, 50, time.Time{}) },
		func() { l.Debit(ctx, 1, 51) },
		func() { l.Debit(ctx, 1, 50) },
		func() { l.Debit(ctx, 1, 1) },
	}
	for _, op := range ops {
		op()
		assert.GreaterOrEqual(t, balanceOf(t, l, 1), 0)
	}
	assert.Equal(t, 0, balanceOf(t, l, 1))
}

func TestRecordUsageAndRefund(t *testing.T) {
	l, store, m := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.RecordUsage(ctx, 77, "fate"))
	assert.Equal(t, 50, balanceOf(t, l, 77))

	records, err := store.ListUsage(ctx, 77)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Draws.WithLabelValues("fate")))

	ok, err := l.Debit(ctx, 77, 5)
	require.NoError(t, err)
	require.True(t, ok)
	refunded, err := l.Refund(ctx, 77, 5, time.Now())
	require.NoError(t, err)
	assert.True(t, refunded)
	assert.Equal(t, 50, balanceOf(t, l, 77))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LedgerOps.WithLabelValues("refund", metrics.ResultOK)))
}

func TestRefundSkippedAfterReset(t *testing.T) {
	l, _, m := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Open(ctx, 1)
	require.NoError(t, err)

	debitedAt := time.Now().Add(-time.Second)
	ok, err := l.Debit(ctx, 1, 50)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = l.ResetAll(ctx, 50, time.Time{})
	require.NoError(t, err)

	refunded, err := l.Refund(ctx, 1, 50, debitedAt)
	require.NoError(t, err)
	assert.False(t, refunded)
	assert.Equal(t, 50, balanceOf(t, l, 1))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LedgerOps.WithLabelValues("refund", metrics.ResultSkipped)))
}

func TestStoreFailureSurfacesAsError(t *testing.T) {
	l, store, _ := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, store.Close())

	ok, err := l.Debit(ctx, 1, 1)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	_, err = l.CreditPayment(ctx, "RUNES-ABCDEF", 1, "ref")
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	_, err = l.ResetAll(ctx, 50, time.Time{})
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	assert.ErrorIs(t, l.RecordUsage(ctx, 1, "one_rune"), ErrStoreUnavailable)
}
