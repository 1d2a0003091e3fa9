package ws

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

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/goldspread/internal/domain"
)

type fakeBus struct {
	mu       sync.Mutex
	subs     map[string]chan []byte
	history  []domain.StreamMessage
	readFrom []string
}

func newFakeBus() *fakeBus { return &fakeBus{subs: map[string]chan []byte{}} }

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	ch := b.subs[channel]
	b.mu.Unlock()
	if ch != nil {
		ch <- payload
	}
	return nil
}

func (b *fakeBus) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan []byte, 8)
	b.subs[channel] = ch
	return ch, nil
}

func (b *fakeBus) subscribed() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *fakeBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *fakeBus) StreamRead(_ context.Context, stream, lastID string, count int) ([]domain.StreamMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.readFrom = append(b.readFrom, stream+" "+lastID)
	out := b.history
	if len(out) > count {
		out = out[:count]
	}
	return out, nil
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return env
}

func TestHubRelaysBusMessages(t *testing.T) {
	bus := newFakeBus()
	hub := NewHub(bus, func() any { return map[string]int{"ticks_seen": 3} }, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.Run(ctx) }()
	waitFor(t, "bus subscriptions", func() bool { return bus.subscribed() == len(Channels) })

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	waitFor(t, "client registration", func() bool { return hub.ClientCount() == 1 })

	if env := readEnvelope(t, conn); env.Type != "status" || string(env.Payload) != `{"ticks_seen":3}` {
		t.Fatalf("snapshot = %s %s", env.Type, env.Payload)
	}

	_ = bus.Publish(ctx, domain.ChannelSignals, []byte(`{"event":"open_signal"}`))
	env := readEnvelope(t, conn)
	if env.Type != domain.ChannelSignals || string(env.Payload) != `{"event":"open_signal"}` {
		t.Fatalf("frame = %s %s", env.Type, env.Payload)
	}

	if err := conn.WriteJSON(subscribeMsg{Action: "unsubscribe", Channels: []string{domain.ChannelTicks}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitFor(t, "unsubscribe", func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		for c := range hub.clients {
			return !c.isSubscribed(domain.ChannelTicks)
		}
		return false
	})
	_ = bus.Publish(ctx, domain.ChannelTicks, []byte(`{"spread_open":"41"}`))
	_ = bus.Publish(ctx, domain.ChannelPositions, []byte(`{"id":1}`))
	if env := readEnvelope(t, conn); env.Type != domain.ChannelPositions {
		t.Fatalf("unsubscribed channel delivered: %s %s", env.Type, env.Payload)
	}
}

func TestHubClosesClientsOnShutdown(t *testing.T) {
	bus := newFakeBus()
	hub := NewHub(bus, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx) }()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	waitFor(t, "client registration", func() bool { return hub.ClientCount() == 1 })

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop")
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected connection to close")
	}
	if hub.ClientCount() != 0 {
		t.Fatalf("clients = %d", hub.ClientCount())
	}
}

func TestHubReplaysRecentSignalsOnConnect(t *testing.T) {
	bus := newFakeBus()
	bus.history = []domain.StreamMessage{
		{ID: "1777626000000-0", Payload: []byte(`{"event":"open_signal"}`)},
		{ID: "1777626060000-0", Payload: []byte(`{"event":"close_signal"}`)},
	}
	hub := NewHub(bus, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	hub.now = func() time.Time { return time.UnixMilli(1777629600000) }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.Run(ctx) }()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	for _, want := range []string{`{"event":"open_signal"}`, `{"event":"close_signal"}`} {
		env := readEnvelope(t, conn)
		if env.Type != ReplayType || string(env.Payload) != want {
			t.Fatalf("replay frame = %s %s, want %s", env.Type, env.Payload, want)
		}
	}

	bus.mu.Lock()
	defer bus.mu.Unlock()
	if len(bus.readFrom) != 1 || bus.readFrom[0] != "stream:signals 1777626000000-0" {
		t.Fatalf("stream reads = %v", bus.readFrom)
	}
}
