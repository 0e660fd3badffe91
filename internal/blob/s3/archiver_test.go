package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/alanyoungcy/qmtbot/internal/domain"
)

type memWriter struct {
	puts map[string][]byte
}

func (w *memWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	if w.puts == nil {
		w.puts = make(map[string][]byte)
	}
	w.puts[path] = b
	return nil
}

type memHistory struct {
	recs     []domain.TradeRecord
	from, to time.Time
}

func (h *memHistory) ListBetween(_ context.Context, from, to time.Time) ([]domain.TradeRecord, error) {
	h.from, h.to = from, to
	var out []domain.TradeRecord
	for _, r := range h.recs {
		if !r.TradedAt.Before(from) && r.TradedAt.Before(to) {
			out = append(out, r)
		}
	}
	return out, nil
}

type memAudit struct {
	events  []string
	entries []domain.AuditEntry
}

func (a *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	a.events = append(a.events, event)
	return nil
}

func (a *memAudit) ListBetween(_ context.Context, from, to time.Time) ([]domain.AuditEntry, error) {
	var out []domain.AuditEntry
	for _, e := range a.entries {
		if !e.CreatedAt.Before(from) && e.CreatedAt.Before(to) {
			out = append(out, e)
		}
	}
	return out, nil
}

func TestArchiveTradesWritesOneShanghaiDay(t *testing.T) {
	hist := &memHistory{recs: []domain.TradeRecord{
		// 2026-10-19 09:45 Shanghai
		{ID: 1, Symbol: "600000.SH", Direction: domain.DirectionSell, Quantity: 100, TradedAt: time.Date(2026, 10, 19, 1, 45, 0, 0, time.UTC)},
		// 2026-10-19 14:55 Shanghai
		{ID: 2, Symbol: "000001.SZ", Direction: domain.DirectionBuy, Quantity: 200, TradedAt: time.Date(2026, 10, 19, 6, 55, 0, 0, time.UTC)},
		// 2026-10-20 09:31 Shanghai
		{ID: 3, Symbol: "600000.SH", Direction: domain.DirectionSell, Quantity: 100, TradedAt: time.Date(2026, 10, 20, 1, 31, 0, 0, time.UTC)},
	}}
	w := &memWriter{}
	audit := &memAudit{entries: []domain.AuditEntry{
		{ID: 10, Event: "order.submit", Symbol: "600000.SH", CreatedAt: time.Date(2026, 10, 19, 1, 44, 0, 0, time.UTC)},
		{ID: 11, Event: "order.submit", Symbol: "600000.SH", CreatedAt: time.Date(2026, 10, 20, 1, 30, 0, 0, time.UTC)},
	}}
	a := NewArchiver(w, hist, audit)

	// 20:00 UTC on the 18th is already the 19th in Shanghai.
	n, err := a.ArchiveTrades(context.Background(), time.Date(2026, 10, 18, 20, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ArchiveTrades: %v", err)
	}
	if n != 2 {
		t.Fatalf("archived %d, want 2", n)
	}
	body, ok := w.puts["archive/trades/2026/10/19.jsonl"]
	if !ok {
		t.Fatalf("uploads = %v", w.puts)
	}

	var ids []int64
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		var rec domain.TradeRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			t.Fatalf("line %q: %v", sc.Text(), err)
		}
		ids = append(ids, rec.ID)
	}
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Errorf("ids = %v, want [1 2]", ids)
	}
	if len(audit.events) != 1 || audit.events[0] != "archive.trades" {
		t.Errorf("audit = %v", audit.events)
	}
	snapshot, ok := w.puts["archive/audit/2026/10/19.jsonl"]
	if !ok {
		t.Fatal("audit snapshot not uploaded")
	}
	if n := bytes.Count(snapshot, []byte("\n")); n != 1 {
		t.Errorf("audit snapshot has %d lines, want 1", n)
	}
}

func TestArchiveTradesEmptyDay(t *testing.T) {
	w := &memWriter{}
	n, err := NewArchiver(w, &memHistory{}, nil).ArchiveTrades(context.Background(), time.Now())
	if err != nil || n != 0 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	if len(w.puts) != 0 {
		t.Error("empty day uploaded")
	}
}

func TestNormaliseEndpoint(t *testing.T) {
	tests := []struct {
		in   string
		ssl  bool
		want string
	}{
		{"minio:9000", false, "http://minio:9000"},
		{"e2.example.com", true, "https://e2.example.com"},
		{"https://r2.example.com", false, "https://r2.example.com"},
	}
	for _, tt := range tests {
		if got := normaliseEndpoint(tt.in, tt.ssl); got != tt.want {
			t.Errorf("normaliseEndpoint(%q, %v) = %q, want %q", tt.in, tt.ssl, got, tt.want)
		}
	}
}
