package webhook

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/suspectuso/runes-oracle/internal/ledger"
	"github.com/suspectuso/runes-oracle/internal/metrics"
	"github.com/suspectuso/runes-oracle/internal/payments"
)

type fakeReconciler struct {
	mu      sync.Mutex
	refs    []string
	err     error
	release chan struct{}
}

func (f *fakeReconciler) Reconcile(_ context.Context, ref string) (ledger.CreditResult, error) {
	f.mu.Lock()
	f.refs = append(f.refs, ref)
	f.mu.Unlock()

	if f.release != nil {
		<-f.release
	}
	return ledger.CreditResult{Applied: f.err == nil}, f.err
}

func (f *fakeReconciler) Refs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.refs...)
}

func newTestServer(rec Reconciler) (*Server, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	return NewServer(rec, reg, slog.New(slog.NewTextHandler(io.Discard, nil))), reg
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(&fakeReconciler{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	s, reg := newTestServer(&fakeReconciler{})
	m := metrics.New(reg)
	m.LedgerOps.WithLabelValues("debit", metrics.ResultOK).Inc()

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `runes_ledger_operations_total{op="debit",result="ok"} 1`)
}

func TestNotificationTriggersReconcile(t *testing.T) {
	fr := &fakeReconciler{}
	s, _ := newTestServer(fr)

	body := `{"type":"notification","event":"payment.succeeded","object":{"id":"2d1f","status":"succeeded","amount":{"value":"150.00","currency":"RUB"}}}`
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/yookassa", strings.NewReader(body)))
	s.Wait()

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"2d1f"}, fr.Refs())
}

func TestNotificationFailuresStillAck(t *testing.T) {
	fr := &fakeReconciler{err: payments.ErrForeignPayment}
	s, _ := newTestServer(fr)

	body := `{"event":"payment.succeeded","object":{"id":"other"}}`
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/yookassa", strings.NewReader(body)))
	s.Wait()

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"other"}, fr.Refs())
}

func notify(s *Server, id string) int {
	body := `{"event":"payment.succeeded","object":{"id":"` + id + `"}}`
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/yookassa", strings.NewReader(body)))
	return rec.Code
}

func TestNotificationRejectsMalformedIDs(t *testing.T) {
	fr := &fakeReconciler{}
	s, _ := newTestServer(fr)

	assert.Equal(t, http.StatusOK, notify(s, "pay-1"))
	for _, id := range []string{"pay-1#x", "pay-1?x", "pay-1/../pay-1", "pay 1"} {
		assert.Equal(t, http.StatusBadRequest, notify(s, id), "id %q", id)
	}
	s.Wait()

	assert.Equal(t, []string{"pay-1"}, fr.Refs())
}

func TestNotificationsAreBounded(t *testing.T) {
	fr := &fakeReconciler{release: make(chan struct{})}
	s, _ := newTestServer(fr)
	s.sem = make(chan struct{}, 1)

	assert.Equal(t, http.StatusOK, notify(s, "pay-1"))
	assert.Equal(t, http.StatusServiceUnavailable, notify(s, "pay-2"))

	close(fr.release)
	s.Wait()
	assert.Equal(t, []string{"pay-1"}, fr.Refs())

	s.limiter = rate.NewLimiter(0, 1)
	assert.Equal(t, http.StatusOK, notify(s, "pay-3"))
	assert.Equal(t, http.StatusTooManyRequests, notify(s, "pay-4"))
	s.Wait()
	assert.Equal(t, []string{"pay-1", "pay-3"}, fr.Refs())
}

func TestStartDrainsNotifications(t *testing.T) {
	fr := &fakeReconciler{release: make(chan struct{})}
	s, _ := newTestServer(fr)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx, 0) }()

	require.Equal(t, http.StatusOK, notify(s, "pay-1"))
	cancel()

	select {
	case <-done:
		t.Fatal("Start returned before the notification was reconciled")
	case <-time.After(50 * time.Millisecond):
	}

	close(fr.release)
	require.NoError(t, <-done)
	assert.Equal(t, []string{"pay-1"}, fr.Refs())
}

func TestNotificationIgnored(t *testing.T) {
	tests := []struct {
		name   string
		method string
		body   string
		code   int
	}{
		{"wrong method", http.MethodGet, "", http.StatusMethodNotAllowed},
		{"bad json", http.MethodPost, "{", http.StatusBadRequest},
		{"canceled event", http.MethodPost, `{"event":"payment.canceled","object":{"id":"x"}}`, http.StatusOK},
		{"waiting event", http.MethodPost, `{"event":"payment.waiting_for_capture","object":{"id":"x"}}`, http.StatusOK},
		{"missing id", http.MethodPost, `{"event":"payment.succeeded","object":{}}`, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fr := &fakeReconciler{}
			s, _ := newTestServer(fr)

			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, httptest.NewRequest(tt.method, "/yookassa", strings.NewReader(tt.body)))
			s.Wait()

			require.Equal(t, tt.code, rec.Code)
			assert.Empty(t, fr.Refs())
		})
	}
}
