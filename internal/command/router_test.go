package command

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/goldspread/internal/domain"
	"github.com/alanyoungcy/goldspread/internal/engine"
	"github.com/alanyoungcy/goldspread/internal/platform/telegram"
	"github.com/alanyoungcy/goldspread/internal/store"
)

type sentMessage struct {
	chatID, text string
}

type fakeReplier struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (f *fakeReplier) SendMessage(_ context.Context, chatID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{chatID, text})
	return nil
}

func (f *fakeReplier) last(t *testing.T) sentMessage {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		t.Fatal("no reply sent")
	}
	return f.sent[len(f.sent)-1]
}

type fakeLimiter struct {
	allowed int
	err     error
	keys    []string
}

func (f *fakeLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	f.keys = append(f.keys, key)
	if f.err != nil {
		return false, f.err
	}
	if f.allowed <= 0 {
		return false, nil
	}
	f.allowed--
	return true, nil
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fixture struct {
	eng     *engine.Engine
	mem     *store.Memory
	replier *fakeReplier
	router  *Router
}

func newFixture(t *testing.T, limiter domain.RateLimiter) *fixture {
	t.Helper()
	mem := store.NewMemory()
	eng := engine.New(engine.Options{
		Positions: mem.Positions(),
		Config:    mem.RuntimeConfig(),
		Audit:     mem.Audit(),
		Logger:    discard(),
	})
	if err := eng.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	r := &fakeReplier{}
	router := NewRouter(eng, r, limiter, RouterConfig{AllowedChatIDs: []string{"100", " 200 "}, RateLimit: 5}, discard())
	return &fixture{eng: eng, mem: mem, replier: r, router: router}
}

func (f *fixture) send(t *testing.T, text string) string {
	t.Helper()
	f.router.Handle(context.Background(), Message{ChatID: "100", From: "op", Text: text})
	return f.replier.last(t).text
}

func (f *fixture) tick(open, closeSpread string) {
	f.eng.OnTick(context.Background(), domain.Tick{
		Timestamp:   time.Now(),
		SpreadOpen:  decimal.RequireFromString(open),
		SpreadClose: decimal.RequireFromString(closeSpread),
	})
}

func TestRouterRejectsUnauthorizedChat(t *testing.T) {
	f := newFixture(t, nil)
	f.router.Handle(context.Background(), Message{ChatID: "999", Text: "/set open 1"})
	got := f.replier.last(t)
	if got.chatID != "999" || got.text != "Unauthorized chat_id." {
		t.Fatalf("reply = %+v", got)
	}
	if f.eng.Config().OpenThreshold.String() != "40" {
		t.Fatal("unauthorized /set changed the config")
	}
}

func TestRouterOpenCloseFlow(t *testing.T) {
	f := newFixture(t, nil)

	if got := f.send(t, "/open 41"); !strings.Contains(got, "No pending signal") {
		t.Fatalf("no-pending reply = %q", got)
	}

	f.tick("41", "-45")
	if got := f.send(t, "/open 40.5"); !strings.Contains(got, "#1</b> open at $40.50") || !strings.Contains(got, "Close trigger: -$40.50") {
		t.Fatalf("open reply = %q", got)
	}
	if got := f.send(t, "/open 1 40"); !strings.Contains(got, "Cannot do that: position 1 is open") {
		t.Fatalf("repeat open reply = %q", got)
	}

	f.tick("10", "-40")
	if got := f.send(t, "/positions"); !strings.Contains(got, "awaiting_close_confirmation") || !strings.Contains(got, "close signal: -$40.00") {
		t.Fatalf("positions reply = %q", got)
	}
	if got := f.send(t, "/close 1 -39.9"); !strings.Contains(got, "#1</b> closed at -$39.90") {
		t.Fatalf("close reply = %q", got)
	}
	if got := f.send(t, "/positions"); got != "No live positions." {
		t.Fatalf("positions after close = %q", got)
	}
	if got := f.send(t, "/close 1 -39"); !strings.Contains(got, "position 1 is closed") {
		t.Fatalf("close of closed position = %q", got)
	}
	if got := f.send(t, "/close 77 -39"); !strings.Contains(got, "Not found") {
		t.Fatalf("close of unknown position = %q", got)
	}
}

func TestRouterMustDisambiguate(t *testing.T) {
	f := newFixture(t, nil)
	f.tick("41", "-100")
	f.send(t, "/open 41")
	f.tick("42", "-100")
	f.send(t, "/open 42")

	f.tick("0", "100")
	got := f.send(t, "/close -40")
	if !strings.Contains(got, "#1, #2") || !strings.Contains(got, "/close 1 &lt;actual_spread&gt;") {
		t.Fatalf("reply = %q", got)
	}
	if len(f.eng.Positions()) != 2 {
		t.Fatal("ambiguous close mutated state")
	}
}

func TestRouterSetAndConfig(t *testing.T) {
	f := newFixture(t, nil)
	if got := f.send(t, "/set poll -5"); !strings.Contains(got, "Invalid input: invalid poll") {
		t.Fatalf("reply = %q", got)
	}
	if f.eng.Config().PollIntervalSeconds != 2 {
		t.Fatal("invalid /set changed poll")
	}
	if got := f.send(t, "/set repeat 0"); got != "repeat set to <code>0</code>." {
		t.Fatalf("reply = %q", got)
	}
	got := f.send(t, "/config")
	for _, want := range []string{"open: <code>40</code>", "repeat: <code>off</code>", "poll: <code>2s</code>"} {
		if !strings.Contains(got, want) {
			t.Errorf("config missing %q:\n%s", want, got)
		}
	}
}

func TestRouterStatus(t *testing.T) {
	f := newFixture(t, nil)
	f.tick("41", "-45")
	got := f.send(t, "/status")
	for _, want := range []string{"ticks seen: 1", "awaiting open: 1", "open policy: single_pending", "next id: 2"} {
		if !strings.Contains(got, want) {
			t.Errorf("status missing %q:\n%s", want, got)
		}
	}
}

func TestRouterHelpAndUnknown(t *testing.T) {
	f := newFixture(t, nil)
	if got := f.send(t, "/help"); !strings.Contains(got, "/open [id]") {
		t.Fatalf("help = %q", got)
	}
	if got := f.send(t, "/trade"); !strings.Contains(got, "Unknown command") {
		t.Fatalf("unknown = %q", got)
	}
}

func TestRouterRateLimit(t *testing.T) {
	lim := &fakeLimiter{allowed: 1}
	f := newFixture(t, lim)
	f.send(t, "/config")
	if got := f.send(t, "/config"); !strings.Contains(got, "Too many commands") {
		t.Fatalf("reply = %q", got)
	}
	if lim.keys[0] != "telegram:100" {
		t.Fatalf("key = %s", lim.keys[0])
	}
}

func TestRouterRateLimiterErrorFailsOpen(t *testing.T) {
	f := newFixture(t, &fakeLimiter{err: errors.New("redis down")})
	if got := f.send(t, "/config"); !strings.Contains(got, "Runtime config") {
		t.Fatalf("reply = %q", got)
	}
}

type fakeSource struct {
	batches [][]telegram.Update
	offsets []int64
}

func (s *fakeSource) GetUpdates(_ context.Context, offset int64, _ time.Duration) ([]telegram.Update, error) {
	s.offsets = append(s.offsets, offset)
	if len(s.batches) == 0 {
		return nil, nil
	}
	b := s.batches[0]
	s.batches = s.batches[1:]
	return b, nil
}

func TestPollerAdvancesOffset(t *testing.T) {
	f := newFixture(t, nil)
	src := &fakeSource{batches: [][]telegram.Update{
		{
			{UpdateID: 10, Message: &telegram.Message{Chat: telegram.Chat{ID: 100}, From: &telegram.User{ID: 5}, Text: "/help"}},
			{UpdateID: 11},
			{UpdateID: 12, Message: &telegram.Message{Chat: telegram.Chat{ID: 200}, From: &telegram.User{Username: "op"}, Text: "/config"}},
		},
	}}
	p := NewPoller(src, f.router, time.Second, discard())
	for i := 0; i < 2; i++ {
		if err := p.PollOnce(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if src.offsets[0] != 0 || src.offsets[1] != 13 {
		t.Fatalf("offsets = %v", src.offsets)
	}
	if len(f.replier.sent) != 2 || f.replier.sent[1].chatID != "200" {
		t.Fatalf("sent = %+v", f.replier.sent)
	}
}

func TestRouterIgnoresPlainText(t *testing.T) {
	f := newFixture(t, nil)
	for _, msg := range []Message{
		{ChatID: "999", Text: "hello"},
		{ChatID: "100", Text: "what is the spread?"},
		{ChatID: "100", Text: "   "},
	} {
		f.router.Handle(context.Background(), msg)
	}
	f.replier.mu.Lock()
	n := len(f.replier.sent)
	f.replier.mu.Unlock()
	if n != 0 {
		t.Fatalf("sent %d replies to plain text, want 0", n)
	}

	if got := f.send(t, " /help"); !strings.Contains(got, "/open [id]") {
		t.Fatalf("help = %q", got)
	}
}
