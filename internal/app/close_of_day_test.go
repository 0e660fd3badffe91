package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/qmtbot/internal/domain"
)

type fakeDayCloser struct {
	archived []time.Time
	trades   int
	err      error
}

func (f *fakeDayCloser) ArchiveDay(_ context.Context, day time.Time) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.archived = append(f.archived, day)
	return int64(f.trades), nil
}

func (f *fakeDayCloser) Summary(_ context.Context, day time.Time) (domain.TradeSummary, error) {
	return domain.TradeSummary{Day: day.Format("2006-01-02"), Trades: f.trades, SellAmount: 4200}, nil
}

type fakeBroadcaster struct{ titles, messages []string }

func (f *fakeBroadcaster) NotifyAll(_ context.Context, title, message string) error {
	f.titles = append(f.titles, title)
	f.messages = append(f.messages, message)
	return nil
}

func shanghai(y int, m time.Month, d, h, minute int) time.Time {
	return time.Date(y, m, d, h, minute, 0, 0, domain.Shanghai)
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestCloseOfDayDue(t *testing.T) {
	j := newCloseOfDay(&fakeDayCloser{}, nil, 15, 30, discard())

	tests := []struct {
		name    string
		now     time.Time
		want    bool
		wantDay time.Time
	}{
		{"before", shanghai(2026, 10, 19, 15, 29), false, time.Time{}},
		{"at", shanghai(2026, 10, 19, 15, 30), true, shanghai(2026, 10, 19, 0, 0)},
		{"evening", shanghai(2026, 10, 19, 22, 0), true, shanghai(2026, 10, 19, 0, 0)},
		{"saturday", shanghai(2026, 10, 24, 16, 0), false, time.Time{}},
		{"utc input", time.Date(2026, 10, 19, 7, 31, 0, 0, time.UTC), true, shanghai(2026, 10, 19, 0, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			day, ok := j.due(tt.now)
			if ok != tt.want {
				t.Fatalf("due = %v, want %v", ok, tt.want)
			}
			if ok && !day.Equal(tt.wantDay) {
				t.Errorf("day = %v, want %v", day, tt.wantDay)
			}
		})
	}
}

func TestCloseOfDayRunsOncePerDay(t *testing.T) {
	trades := &fakeDayCloser{trades: 3}
	notifier := &fakeBroadcaster{}
	j := newCloseOfDay(trades, notifier, 15, 30, discard())
	now := shanghai(2026, 10, 19, 15, 31)
	j.clock = func() time.Time { return now }

	j.runOnce(context.Background())
	j.runOnce(context.Background())
	if len(trades.archived) != 1 {
		t.Fatalf("archived %d times, want 1", len(trades.archived))
	}
	if len(notifier.titles) != 1 || notifier.titles[0] != "Daily summary 2026-10-19" {
		t.Errorf("titles = %v", notifier.titles)
	}
	if !strings.Contains(notifier.messages[0], "sold: 4200.00") {
		t.Errorf("message = %q", notifier.messages[0])
	}

	now = shanghai(2026, 10, 20, 15, 45)
	j.runOnce(context.Background())
	if len(trades.archived) != 2 || !trades.archived[1].Equal(shanghai(2026, 10, 20, 0, 0)) {
		t.Errorf("archived = %v", trades.archived)
	}
}

func TestCloseOfDayQuietDay(t *testing.T) {
	notifier := &fakeBroadcaster{}
	j := newCloseOfDay(&fakeDayCloser{}, notifier, 15, 30, discard())
	j.clock = func() time.Time { return shanghai(2026, 10, 19, 16, 0) }

	j.runOnce(context.Background())
	if len(notifier.titles) != 0 {
		t.Errorf("notified on a day without trades: %v", notifier.titles)
	}
}

func TestCloseOfDayRetriesAfterArchiveFailure(t *testing.T) {
	trades := &fakeDayCloser{err: errors.New("s3 down")}
	j := newCloseOfDay(trades, nil, 15, 30, discard())
	j.clock = func() time.Time { return shanghai(2026, 10, 19, 16, 0) }

	j.runOnce(context.Background())
	if !j.lastDay.IsZero() {
		t.Fatal("failed run marked the day done")
	}
	trades.err = nil
	j.runOnce(context.Background())
	if len(trades.archived) != 1 {
		t.Errorf("archived %d times after recovery, want 1", len(trades.archived))
	}
}
