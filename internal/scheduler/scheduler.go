package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/suspectuso/runes-oracle/internal/metrics"
)

// Resetter lifts balances below floor, keeping limits credited at or after
// creditedSince on top of it
type Resetter interface {
	ResetAll(ctx context.Context, floor int, creditedSince time.Time) (int64, error)
}

// DailyReset fires the limit reset once a day at a fixed wall-clock time
type DailyReset struct {
	resetter Resetter
	metrics  *metrics.Metrics
	log      *slog.Logger

	floor  int
	hour   int
	minute int
	loc    *time.Location

	now   func() time.Time
	after func(time.Duration) <-chan time.Time
}

// New creates a new DailyReset
func New(r Resetter, m *metrics.Metrics, log *slog.Logger, floor, hour, minute int, loc *time.Location) *DailyReset {
	if loc == nil {
		loc = time.UTC
	}
	return &DailyReset{
		resetter: r,
		metrics:  m,
		log:      log,
		floor:    floor,
		hour:     hour,
		minute:   minute,
		loc:      loc,
		now:      time.Now,
		after:    time.After,
	}
}

// NextRun returns the first hour:minute in loc strictly after now
func NextRun(now time.Time, hour, minute int, loc *time.Location) time.Time {
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, hour, minute, 0, 0, loc)
	}
	return next
}

// PreviousRun returns the last hour:minute in loc at or before now
func PreviousRun(now time.Time, hour, minute int, loc *time.Location) time.Time {
	next := NextRun(now, hour, minute, loc)
	return time.Date(next.Year(), next.Month(), next.Day()-1, hour, minute, 0, 0, loc)
}

// Run blocks until ctx is done, resetting limits at every trigger
func (d *DailyReset) Run(ctx context.Context) {
	d.log.Info("daily reset scheduled",
		"time", time.Date(0, 1, 1, d.hour, d.minute, 0, 0, d.loc).Format("15:04"),
		"timezone", d.loc.String(),
		"floor", d.floor,
	)

	for {
		now := d.now()
		next := NextRun(now, d.hour, d.minute, d.loc)
		d.log.Debug("next reset", "at", next)

		select {
		case <-ctx.Done():
			return
		case <-d.after(next.Sub(now)):
		}

		d.RunOnce(ctx, next)
	}
}

// RunOnce performs the reset for the trigger at. Limits credited since the
// previous trigger are kept on top of the floor.
func (d *DailyReset) RunOnce(ctx context.Context, at time.Time) {
	since := PreviousRun(at.Add(-time.Nanosecond), d.hour, d.minute, d.loc)

	n, err := d.resetter.ResetAll(ctx, d.floor, since)
	if err != nil {
		d.log.Error("daily reset", "error", err)
		d.count("error")
		return
	}

	d.count("ok")
	d.log.Info("daily reset done", "accounts", n, "floor", d.floor, "credited_since", since)
}

func (d *DailyReset) count(result string) {
	if d.metrics != nil {
		d.metrics.ResetRuns.WithLabelValues(result).Inc()
	}
}
