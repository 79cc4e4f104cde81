package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suspectuso/runes-oracle/internal/metrics"
)

type resetCall struct {
	floor int
	since time.Time
}

type fakeResetter struct {
	mu    sync.Mutex
	calls []resetCall
	err   error
}

func (f *fakeResetter) ResetAll(_ context.Context, floor int, since time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, resetCall{floor, since})
	return 3, f.err
}

func (f *fakeResetter) Calls() []resetCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]resetCall(nil), f.calls...)
}

func moscow(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Moscow")
	require.NoError(t, err)
	return loc
}

func TestNextRun(t *testing.T) {
	loc := moscow(t)

	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"before trigger", time.Date(2024, 5, 10, 23, 59, 0, 0, loc), time.Date(2024, 5, 11, 0, 0, 0, 0, loc)},
		{"exactly at trigger", time.Date(2024, 5, 11, 0, 0, 0, 0, loc), time.Date(2024, 5, 12, 0, 0, 0, 0, loc)},
		{"just after trigger", time.Date(2024, 5, 11, 0, 0, 1, 0, loc), time.Date(2024, 5, 12, 0, 0, 0, 0, loc)},
		{"month rollover", time.Date(2024, 12, 31, 12, 0, 0, 0, loc), time.Date(2025, 1, 1, 0, 0, 0, 0, loc)},
		// 21:30 UTC is already 00:30 the next day in Moscow
		{"other zone input", time.Date(2024, 5, 10, 21, 30, 0, 0, time.UTC), time.Date(2024, 5, 12, 0, 0, 0, 0, loc)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextRun(tt.now, 0, 0, loc)
			assert.True(t, tt.want.Equal(got), "want %s, got %s", tt.want, got)
		})
	}
}

func TestNextRunAtMinute(t *testing.T) {
	loc := moscow(t)
	now := time.Date(2024, 5, 10, 3, 15, 0, 0, loc)

	assert.True(t, time.Date(2024, 5, 10, 3, 30, 0, 0, loc).Equal(NextRun(now, 3, 30, loc)))
	assert.True(t, time.Date(2024, 5, 11, 3, 0, 0, 0, loc).Equal(NextRun(now, 3, 0, loc)))
}

func TestPreviousRun(t *testing.T) {
	loc := moscow(t)

	assert.True(t, time.Date(2024, 5, 10, 0, 0, 0, 0, loc).Equal(
		PreviousRun(time.Date(2024, 5, 10, 15, 0, 0, 0, loc), 0, 0, loc)))
	assert.True(t, time.Date(2024, 5, 10, 0, 0, 0, 0, loc).Equal(
		PreviousRun(time.Date(2024, 5, 10, 0, 0, 0, 0, loc), 0, 0, loc)))
}

func TestRunOncePassesPreviousTrigger(t *testing.T) {
	loc := moscow(t)
	r := &fakeResetter{}
	m := metrics.New(prometheus.NewRegistry())
	d := New(r, m, slog.New(slog.NewTextHandler(io.Discard, nil)), 50, 0, 0, loc)

	d.RunOnce(context.Background(), time.Date(2024, 5, 11, 0, 0, 0, 0, loc))

	calls := r.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, 50, calls[0].floor)
	assert.True(t, time.Date(2024, 5, 10, 0, 0, 0, 0, loc).Equal(calls[0].since))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ResetRuns.WithLabelValues("ok")))
}

func TestRunOnceCountsFailures(t *testing.T) {
	r := &fakeResetter{err: errors.New("store unavailable")}
	m := metrics.New(prometheus.NewRegistry())
	d := New(r, m, slog.New(slog.NewTextHandler(io.Discard, nil)), 50, 0, 0, time.UTC)

	d.RunOnce(context.Background(), time.Date(2024, 5, 11, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ResetRuns.WithLabelValues("error")))
}

func TestRunFiresAtEachTrigger(t *testing.T) {
	loc := moscow(t)
	r := &fakeResetter{}
	d := New(r, nil, slog.New(slog.NewTextHandler(io.Discard, nil)), 50, 0, 0, loc)

	clock := time.Date(2024, 5, 10, 22, 0, 0, 0, loc)
	var waits []time.Duration
	fired := make(chan struct{}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d.now = func() time.Time { return clock }
	d.after = func(wait time.Duration) <-chan time.Time {
		waits = append(waits, wait)
		if len(waits) > 2 {
			cancel()
			return make(chan time.Time)
		}
		clock = clock.Add(wait)
		ch := make(chan time.Time, 1)
		ch <- clock
		return ch
	}

	go func() {
		d.Run(ctx)
		fired <- struct{}{}
	}()

	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}

	require.Len(t, waits, 3)
	assert.Equal(t, 2*time.Hour, waits[0])
	assert.Equal(t, 24*time.Hour, waits[1])

	calls := r.Calls()
	require.Len(t, calls, 2)
	assert.True(t, time.Date(2024, 5, 10, 0, 0, 0, 0, loc).Equal(calls[0].since))
	assert.True(t, time.Date(2024, 5, 11, 0, 0, 0, 0, loc).Equal(calls[1].since))
}
