package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/qmtbot/internal/domain"
	"github.com/alanyoungcy/qmtbot/internal/monitor"
	"github.com/alanyoungcy/qmtbot/internal/server/handler"
)

type fakePositions struct{ list []domain.PositionState }

func (f fakePositions) Snapshots() []domain.PositionState { return f.list }

func (f fakePositions) Snapshot(symbol string) (domain.PositionState, bool) {
	for _, p := range f.list {
		if p.Symbol == symbol {
			return p, true
		}
	}
	return domain.PositionState{}, false
}

type fakeTrades struct {
	recs []domain.TradeRecord
	day  time.Time
}

func (f *fakeTrades) ListBySymbol(_ context.Context, symbol string, _ domain.ListOpts) ([]domain.TradeRecord, error) {
	var out []domain.TradeRecord
	for _, r := range f.recs {
		if r.Symbol == symbol {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeTrades) Summary(_ context.Context, day time.Time) (domain.TradeSummary, error) {
	f.day = day
	return domain.TradeSummary{Day: day.Format("2006-01-02"), Trades: len(f.recs)}, nil
}

type fakeQueue struct {
	cmds []domain.Command
	full bool
}

func (f *fakeQueue) Enqueue(cmd domain.Command) bool {
	if f.full {
		return false
	}
	f.cmds = append(f.cmds, cmd)
	return true
}

func (f *fakeQueue) OpenOrders() []string { return []string{"paper-1"} }

type fakeCycles struct{}

func (fakeCycles) LastReport() (monitor.CycleReport, bool) {
	return monitor.CycleReport{Cycle: 7, Reconciled: true}, true
}

func (fakeCycles) Running() bool { return false }

type fakeLimiter struct{ allow bool }

func (f fakeLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return f.allow, nil
}

type fakeJournal struct{}

func (fakeJournal) StreamRead(_ context.Context, stream, lastID string, _ int) ([]domain.StreamMessage, error) {
	if stream != domain.StreamSignals || lastID != "0" {
		return nil, nil
	}
	return []domain.StreamMessage{
		{ID: "1-0", Payload: []byte(`{"symbol":"600000.SH","reason":"hard_stop_loss"}`)},
		{ID: "2-0", Payload: []byte(`not json`)},
	}, nil
}

type fixture struct {
	handler http.Handler
	queue   *fakeQueue
	trades  *fakeTrades
}

func newFixture(t *testing.T, cfg Config, limiter domain.RateLimiter, pingErr error) fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	queue := &fakeQueue{}
	trades := &fakeTrades{recs: []domain.TradeRecord{{ID: 1, Symbol: "600000.SH", Direction: domain.DirectionSell}}}
	positions := fakePositions{list: []domain.PositionState{{Symbol: "600000.SH", Quantity: 1000}}}
	h := Handlers{
		Health: handler.NewHealthHandler(logger, handler.Check{
			Name: "postgres",
			Ping: func(context.Context) error { return pingErr },
		}),
		Positions: handler.NewPositionHandler(positions, logger),
		Trades:    handler.NewTradeHandler(trades, logger),
		Commands:  handler.NewCommandHandler(queue, queue, logger),
		Status:    handler.NewStatusHandler("paper", time.Now(), fakeCycles{}),
		Signals:   handler.NewSignalHandler(fakeJournal{}, logger),
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	srv := NewServer(cfg, h, nil, limiter, logger)
	return fixture{handler: srv.Handler(), queue: queue, trades: trades}
}

func do(h http.Handler, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRoutes(t *testing.T) {
	f := newFixture(t, Config{}, nil, nil)

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
		wantBody   string
	}{
		{"health", "GET", "/api/health", "", http.StatusOK, `"status":"ok"`},
		{"status", "GET", "/api/status", "", http.StatusOK, `"cycle":7`},
		{"positions", "GET", "/api/positions", "", http.StatusOK, `"symbol":"600000.SH"`},
		{"position by symbol", "GET", "/api/positions/600000.sh", "", http.StatusOK, `"quantity":1000`},
		{"unknown position", "GET", "/api/positions/000001.SZ", "", http.StatusNotFound, "not found"},
		{"trades need symbol", "GET", "/api/trades", "", http.StatusBadRequest, "symbol"},
		{"trades", "GET", "/api/trades?symbol=600000.sh&since=2026-10-01", "", http.StatusOK, `"direction":"SELL"`},
		{"bad since", "GET", "/api/trades?symbol=600000.SH&since=yesterday", "", http.StatusBadRequest, "YYYY-MM-DD"},
		{"signals", "GET", "/api/signals", "", http.StatusOK, `"reason":"hard_stop_loss"`},
		{"signals skip bad payload", "GET", "/api/signals", "", http.StatusOK, `"next":"2-0"`},
		{"signals caught up", "GET", "/api/signals?after=2-0", "", http.StatusOK, `"signals":[]`},
		{"summary", "GET", "/api/trades/summary?day=2026-10-19", "", http.StatusOK, `"day":"2026-10-19"`},
		{"bad summary day", "GET", "/api/trades/summary?day=19/10", "", http.StatusBadRequest, "YYYY-MM-DD"},
		{"orders", "GET", "/api/orders", "", http.StatusOK, "paper-1"},
		{"command", "POST", "/api/commands", `{"action":"SELL","symbol":"600000.sh"}`, http.StatusAccepted, `"symbol":"600000.SH"`},
		{"unknown action", "POST", "/api/commands", `{"action":"buy","symbol":"600000.SH"}`, http.StatusBadRequest, "action"},
		{"missing symbol", "POST", "/api/commands", `{"action":"sell"}`, http.StatusBadRequest, "symbol"},
		{"bad json", "POST", "/api/commands", `{`, http.StatusBadRequest, "JSON"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(f.handler, tt.method, tt.path, tt.body, nil)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body)
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("body = %s, want substring %q", rec.Body, tt.wantBody)
			}
		})
	}

	if len(f.queue.cmds) != 1 || f.queue.cmds[0] != (domain.Command{Action: "sell", Symbol: "600000.SH"}) {
		t.Errorf("queued = %+v", f.queue.cmds)
	}
	if f.trades.day.Location() != domain.Shanghai {
		t.Errorf("summary day location = %v", f.trades.day.Location())
	}
}

func TestCommandQueueFull(t *testing.T) {
	f := newFixture(t, Config{}, nil, nil)
	f.queue.full = true
	rec := do(f.handler, "POST", "/api/commands", `{"action":"reset_rules","symbol":"600000.SH"}`, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestHealthDegraded(t *testing.T) {
	f := newFixture(t, Config{}, nil, errors.New("connection refused"))
	rec := do(f.handler, "GET", "/api/health", "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var body struct {
		Status       string            `json:"status"`
		Dependencies map[string]string `json:"dependencies"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "degraded" || body.Dependencies["postgres"] != "connection refused" {
		t.Errorf("body = %+v", body)
	}
}

func TestAuth(t *testing.T) {
	f := newFixture(t, Config{APIKey: "s3cret"}, nil, nil)

	tests := []struct {
		name   string
		path   string
		header map[string]string
		want   int
	}{
		{"health is public", "/api/health", nil, http.StatusOK},
		{"missing token", "/api/positions", nil, http.StatusUnauthorized},
		{"wrong token", "/api/positions", map[string]string{"X-API-Key": "nope"}, http.StatusUnauthorized},
		{"api key header", "/api/positions", map[string]string{"X-API-Key": "s3cret"}, http.StatusOK},
		{"bearer", "/api/positions", map[string]string{"Authorization": "Bearer s3cret"}, http.StatusOK},
		{"query token only for ws", "/api/positions?token=s3cret", nil, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := do(f.handler, "GET", tt.path, "", tt.header); rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, Config{RateLimit: 1, RateWindow: time.Second}, fakeLimiter{allow: false}, nil)
	rec := do(f.handler, "GET", "/api/positions", "", nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, Config{CORSOrigins: []string{"http://dash.local"}}, nil, nil)
	rec := do(f.handler, "OPTIONS", "/api/positions", "", map[string]string{"Origin": "http://dash.local"})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://dash.local" {
		t.Errorf("allow origin = %q", got)
	}

	rec = do(f.handler, "GET", "/api/positions", "", map[string]string{"Origin": "http://evil.local"})
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("foreign origin allowed: %q", got)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"ok", Config{Port: 8080}, false},
		{"port zero", Config{Port: 0}, true},
		{"port too large", Config{Port: 70000}, true},
		{"limit without window", Config{Port: 8080, RateLimit: 10}, true},
		{"limit with window", Config{Port: 8080, RateLimit: 10, RateWindow: time.Minute}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
