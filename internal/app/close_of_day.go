package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/qmtbot/internal/domain"
)

// dayCloser is the trade history as the close-of-day job uses it.
type dayCloser interface {
	ArchiveDay(ctx context.Context, day time.Time) (int64, error)
	Summary(ctx context.Context, day time.Time) (domain.TradeSummary, error)
}

// broadcaster sends an unfiltered operator notice.
type broadcaster interface {
	NotifyAll(ctx context.Context, title, message string) error
}

// closeOfDay runs once per weekday at a fixed Shanghai wall-clock time: it
// archives the day's trades and pushes a summary to every notifier. A
// failed archive is retried on the next tick until the day rolls over.
type closeOfDay struct {
	trades       dayCloser
	notifier     broadcaster // may be nil
	hour, minute int
	tick         time.Duration
	clock        func() time.Time
	logger       *slog.Logger

	lastDay time.Time
}

func newCloseOfDay(trades dayCloser, notifier broadcaster, hour, minute int, logger *slog.Logger) *closeOfDay {
	return &closeOfDay{
		trades:   trades,
		notifier: notifier,
		hour:     hour,
		minute:   minute,
		tick:     30 * time.Second,
		clock:    time.Now,
		logger:   logger.With(slog.String("component", "close_of_day")),
	}
}

// Run checks the clock every tick until ctx is cancelled.
func (j *closeOfDay) Run(ctx context.Context) error {
	j.logger.InfoContext(ctx, "close_of_day: started",
		slog.String("at", fmt.Sprintf("%02d:%02d", j.hour, j.minute)),
	)
	ticker := time.NewTicker(j.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			j.runOnce(ctx)
		}
	}
}

// due reports the trading day to close at now, if any.
func (j *closeOfDay) due(now time.Time) (time.Time, bool) {
	local := now.In(domain.Shanghai)
	if local.Weekday() == time.Saturday || local.Weekday() == time.Sunday {
		return time.Time{}, false
	}
	day := domain.TradingDay(now)
	at := day.Add(time.Duration(j.hour)*time.Hour + time.Duration(j.minute)*time.Minute)
	if local.Before(at) || day.Equal(j.lastDay) {
		return time.Time{}, false
	}
	return day, true
}

func (j *closeOfDay) runOnce(ctx context.Context) {
	day, ok := j.due(j.clock())
	if !ok {
		return
	}
	log := j.logger.With(slog.String("day", day.Format("2006-01-02")))

	archived, err := j.trades.ArchiveDay(ctx, day)
	if err != nil {
		log.ErrorContext(ctx, "close_of_day: archive failed", slog.String("error", err.Error()))
		return
	}
	j.lastDay = day

	sum, err := j.trades.Summary(ctx, day)
	if err != nil {
		log.ErrorContext(ctx, "close_of_day: summary failed", slog.String("error", err.Error()))
		return
	}
	log.InfoContext(ctx, "close_of_day: done",
		slog.Int64("archived", archived),
		slog.Int("trades", sum.Trades),
	)
	if j.notifier == nil || sum.Trades == 0 {
		return
	}
	msg := fmt.Sprintf("trades: %d\nbought: %.2f\nsold: %.2f\ncommission: %.2f",
		sum.Trades, sum.BuyAmount, sum.SellAmount, sum.Commission)
	if err := j.notifier.NotifyAll(ctx, "Daily summary "+sum.Day, msg); err != nil {
		log.WarnContext(ctx, "close_of_day: notify failed", slog.String("error", err.Error()))
	}
}
