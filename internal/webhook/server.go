package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/suspectuso/runes-oracle/internal/ledger"
	"github.com/suspectuso/runes-oracle/internal/payments"
	"github.com/suspectuso/runes-oracle/internal/yookassa"
)

const (
	eventPaymentSucceeded = "payment.succeeded"

	// notifications reconciled at once; more are refused and the provider retries them
	maxInFlight = 8

	// notifications accepted per second, leaving provider quota to the polls
	notificationRPS   = 2
	notificationBurst = 10
)

// Reconciler credits a payment after re-reading it from the provider
type Reconciler interface {
	Reconcile(ctx context.Context, ref string) (ledger.CreditResult, error)
}

// Server is the ops HTTP endpoint: health, metrics and provider notifications
type Server struct {
	reconciler Reconciler
	gatherer   prometheus.Gatherer
	log        *slog.Logger

	server  *http.Server
	wg      sync.WaitGroup
	sem     chan struct{}
	limiter *rate.Limiter
}

// NewServer creates a new ops server
func NewServer(reconciler Reconciler, gatherer prometheus.Gatherer, log *slog.Logger) *Server {
	return &Server{
		reconciler: reconciler,
		gatherer:   gatherer,
		log:        log,
		sem:        make(chan struct{}, maxInFlight),
		limiter:    rate.NewLimiter(notificationRPS, notificationBurst),
	}
}

// Handler returns the routes of the server
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/yookassa", s.handleNotification)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/", s.handleHealth)
	return mux
}

// Start starts the server and blocks until ctx is done and every accepted
// notification has been reconciled
func (s *Server) Start(ctx context.Context, port int) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.log.Info("starting ops server", "port", port)

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(shutdownCtx)
	}()

	err := s.server.ListenAndServe()
	if !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	// Shutdown returns once handlers are done, so no notification is
	// accepted after this point
	<-stopped
	s.wg.Wait()
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *Server) handleNotification(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var n yookassa.Notification
	if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
		s.log.Warn("invalid notification payload", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if n.Event != eventPaymentSucceeded || n.Object.ID == "" {
		s.log.Debug("notification ignored", "event", n.Event, "payment_id", n.Object.ID)
		w.WriteHeader(http.StatusOK)
		return
	}

	if !yookassa.ValidPaymentID(n.Object.ID) {
		s.log.Warn("notification with malformed payment id", "payment_id", n.Object.ID)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if !s.limiter.Allow() {
		s.log.Warn("notification rate exceeded", "payment_id", n.Object.ID)
		w.WriteHeader(http.StatusTooManyRequests)
		return
	}
	select {
	case s.sem <- struct{}{}:
	default:
		s.log.Warn("too many notifications in flight", "payment_id", n.Object.ID)
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	s.log.Info("notification received", "event", n.Event, "payment_id", n.Object.ID)

	// the body is not trusted; Reconcile reads the payment back from the provider
	s.wg.Add(1)
	go func(ref string) {
		defer s.wg.Done()
		defer func() { <-s.sem }()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		s.reconcile(ctx, ref)
	}(n.Object.ID)

	w.WriteHeader(http.StatusOK)
}

func (s *Server) reconcile(ctx context.Context, ref string) {
	res, err := s.reconciler.Reconcile(ctx, ref)
	switch {
	case err == nil:
		s.log.Info("notification reconciled", "payment_id", ref, "applied", res.Applied, "duplicate", res.Duplicate)
	case errors.Is(err, payments.ErrForeignPayment), errors.Is(err, payments.ErrNotSucceeded),
		errors.Is(err, payments.ErrRefMismatch):
		s.log.Warn("notification not applicable", "payment_id", ref, "error", err)
	default:
		s.log.Error("reconcile notification", "payment_id", ref, "error", err)
	}
}

// Wait blocks until in-flight notifications are processed. It must not
// race new requests; Start calls it once the listener is closed.
func (s *Server) Wait() {
	s.wg.Wait()
}
