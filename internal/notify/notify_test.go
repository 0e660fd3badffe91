package notify

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
)

type recordSender struct {
	name  string
	err   error
	calls []string
}

func (r *recordSender) Send(_ context.Context, title, _ string) error {
	r.calls = append(r.calls, title)
	return r.err
}

func (r *recordSender) Name() string { return r.name }

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNotifierFiltersEvents(t *testing.T) {
	s := &recordSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{"order_filled", " risk_exit "}, discard())

	ctx := context.Background()
	_ = n.Notify(ctx, "order_submitted", "a", "")
	_ = n.Notify(ctx, "order_filled", "b", "")
	_ = n.Notify(ctx, "risk_exit", "c", "")
	_ = n.NotifyAll(ctx, "d", "")

	if got := strings.Join(s.calls, ","); got != "b,c,d" {
		t.Errorf("delivered %q, want b,c,d", got)
	}
}

func TestNotifierKeepsGoingAfterFailure(t *testing.T) {
	boom := errors.New("boom")
	bad := &recordSender{name: "bad", err: boom}
	good := &recordSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discard())

	err := n.Notify(context.Background(), "anything", "t", "m")
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped boom", err)
	}
	if len(good.calls) != 1 {
		t.Error("second sender skipped")
	}
}

func TestPushPlusSender(t *testing.T) {
	var got pushPlusRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":200,"msg":"ok"}`))
	}))
	defer srv.Close()

	s := NewPushPlusSender(srv.URL, "tok", "webhook", "stockquant")
	if err := s.Send(context.Background(), "Stockquant", "sold 600000.SH"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	want := pushPlusRequest{Token: "tok", Title: "Stockquant", Content: "sold 600000.SH", Channel: "webhook", Webhook: "stockquant"}
	if got != want {
		t.Errorf("request = %+v, want %+v", got, want)
	}
}

func TestPushPlusSenderRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":903,"msg":"invalid token"}`))
	}))
	defer srv.Close()

	err := NewPushPlusSender(srv.URL, "bad", "", "").Send(context.Background(), "t", "m")
	if err == nil || !strings.Contains(err.Error(), "903") {
		t.Fatalf("err = %v, want code 903", err)
	}
}

func TestWeComSender(t *testing.T) {
	var key string
	var got weComRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key = r.URL.Query().Get("key")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"errcode":0,"errmsg":"ok"}`))
	}))
	defer srv.Close()

	if err := NewWeComSender(srv.URL, "robot-key").Send(context.Background(), "Stop loss", "600000.SH"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if key != "robot-key" {
		t.Errorf("key = %q", key)
	}
	if got.MsgType != "markdown" || got.Markdown.Content != "**Stop loss**\n600000.SH" {
		t.Errorf("request = %+v", got)
	}
}

func TestWeComSenderHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	if err := NewWeComSender(srv.URL, "k").Send(context.Background(), "t", "m"); err == nil {
		t.Fatal("expected error")
	}
}
