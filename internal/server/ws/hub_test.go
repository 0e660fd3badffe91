package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/qmtbot/internal/domain"
)

type chanBus struct {
	chans map[string]chan []byte
}

func newChanBus() *chanBus {
	b := &chanBus{chans: make(map[string]chan []byte)}
	for _, ch := range relayedChannels {
		b.chans[ch] = make(chan []byte, 8)
	}
	return b
}

func (b *chanBus) Publish(_ context.Context, ch string, payload []byte) error {
	b.chans[ch] <- payload
	return nil
}

func (b *chanBus) Subscribe(_ context.Context, ch string) (<-chan []byte, error) {
	return b.chans[ch], nil
}

func (b *chanBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *chanBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func readFrame(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("frame %s: %v", data, err)
	}
	return env
}

func TestHubRelaysEvents(t *testing.T) {
	bus := newChanBus()
	hub := NewHub(bus, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{
		Mode:      "FULL",
		Positions: func() int { return 2 },
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	status := readFrame(t, conn)
	if status.Type != "bot_status" {
		t.Fatalf("first frame type = %q", status.Type)
	}
	var st map[string]any
	if err := json.Unmarshal(status.Payload, &st); err != nil {
		t.Fatal(err)
	}
	if st["mode"] != "full" || st["open_positions"] != float64(2) {
		t.Errorf("status = %v", st)
	}

	bus.Publish(ctx, domain.ChannelSignals, []byte(`{"symbol":"600000.SH"}`))
	evt := readFrame(t, conn)
	if evt.Type != "event" || evt.Channel != domain.ChannelSignals || string(evt.Payload) != `{"symbol":"600000.SH"}` {
		t.Errorf("event = %+v (%s)", evt, evt.Payload)
	}

	bus.Publish(ctx, domain.ChannelOrders, []byte(`plain text`))
	evt = readFrame(t, conn)
	if string(evt.Payload) != `"plain text"` {
		t.Errorf("non-JSON payload = %s", evt.Payload)
	}
}

func TestIsSubscribed(t *testing.T) {
	c := &client{subs: map[string]bool{domain.ChannelOrders: true, "qmtbot:pos*": true}}
	tests := []struct {
		channel string
		want    bool
	}{
		{domain.ChannelOrders, true},
		{domain.ChannelPositions, true},
		{domain.ChannelSignals, false},
	}
	for _, tt := range tests {
		if got := c.isSubscribed(tt.channel); got != tt.want {
			t.Errorf("isSubscribed(%q) = %v, want %v", tt.channel, got, tt.want)
		}
	}

	c.handleSubscription(subscribeMsg{Action: "unsubscribe", Channels: []string{domain.ChannelOrders}})
	if c.isSubscribed(domain.ChannelOrders) {
		t.Error("still subscribed after unsubscribe")
	}
}
