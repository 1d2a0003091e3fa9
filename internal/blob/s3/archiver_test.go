package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/goldspread/internal/domain"
)

type fakeTicks struct {
	ticks []domain.Tick
	err   error
}

func (f *fakeTicks) ListBefore(_ context.Context, before time.Time, _ int) ([]domain.Tick, error) {
	var out []domain.Tick
	for _, t := range f.ticks {
		if t.Timestamp.Before(before) {
			out = append(out, t)
		}
	}
	return out, f.err
}

type fakeBlob struct {
	objects   map[string][]byte
	multipart []string
	putErr    error
}

func newFakeBlob() *fakeBlob { return &fakeBlob{objects: map[string][]byte{}} }

func (f *fakeBlob) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if f.putErr != nil {
		return f.putErr
	}
	b, _ := io.ReadAll(data)
	f.objects[path] = b
	return nil
}

func (f *fakeBlob) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	f.multipart = append(f.multipart, path)
	return f.Put(ctx, path, data, jsonlContentType)
}

func (f *fakeBlob) Exists(_ context.Context, path string) (bool, error) {
	_, ok := f.objects[path]
	return ok, nil
}

type fakeAudit struct{ events []string }

func (f *fakeAudit) Log(_ context.Context, event string, _ map[string]any) error {
	f.events = append(f.events, event)
	return nil
}

func (f *fakeAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func tickAt(ts string) domain.Tick {
	t, _ := time.Parse(time.RFC3339, ts)
	return domain.Tick{Pair: "PAXG-XAUT", Timestamp: t, SpreadOpen: decimal.NewFromInt(41)}
}

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func countLines(b []byte) int {
	n := 0
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		n++
	}
	return n
}

func TestArchiveTicksGroupsByDay(t *testing.T) {
	ticks := &fakeTicks{ticks: []domain.Tick{
		tickAt("2026-06-01T10:00:00Z"),
		tickAt("2026-06-01T23:59:59Z"),
		tickAt("2026-06-02T00:00:01Z"),
		tickAt("2026-06-03T12:00:00Z"),
	}}
	blob := newFakeBlob()
	audit := &fakeAudit{}
	a := NewTickArchiver(ticks, blob, blob, audit, 0, discardLogger())

	cutoff, _ := time.Parse(time.RFC3339, "2026-06-03T00:00:00Z")
	n, err := a.ArchiveTicks(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("ArchiveTicks: %v", err)
	}
	if n != 3 {
		t.Fatalf("archived = %d, want 3", n)
	}
	if got := countLines(blob.objects["archive/ticks/2026-06-01.jsonl"]); got != 2 {
		t.Errorf("2026-06-01 lines = %d", got)
	}
	if got := countLines(blob.objects["archive/ticks/2026-06-02.jsonl"]); got != 1 {
		t.Errorf("2026-06-02 lines = %d", got)
	}
	if len(blob.objects) != 2 {
		t.Errorf("objects = %d", len(blob.objects))
	}
	if !strings.Contains(string(blob.objects["archive/ticks/2026-06-02.jsonl"]), `"spread_open":"41"`) {
		t.Errorf("payload = %s", blob.objects["archive/ticks/2026-06-02.jsonl"])
	}
	if len(audit.events) != 1 || audit.events[0] != "archive.ticks" {
		t.Errorf("audit = %v", audit.events)
	}
}

func TestArchiveTicksKeepsExistingObject(t *testing.T) {
	ticks := &fakeTicks{ticks: []domain.Tick{tickAt("2026-06-01T10:00:00Z")}}
	blob := newFakeBlob()
	blob.objects["archive/ticks/2026-06-01.jsonl"] = []byte("old\n")
	a := NewTickArchiver(ticks, blob, blob, nil, 0, discardLogger())

	if _, err := a.ArchiveTicks(context.Background(), time.Date(2026, 6, 2, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("ArchiveTicks: %v", err)
	}
	if string(blob.objects["archive/ticks/2026-06-01.jsonl"]) != "old\n" {
		t.Error("existing object overwritten")
	}
	if len(blob.objects) != 2 {
		t.Fatalf("objects = %v", blob.objects)
	}
	for path := range blob.objects {
		if path != "archive/ticks/2026-06-01.jsonl" && !strings.HasPrefix(path, "archive/ticks/2026-06-01-") {
			t.Errorf("unexpected path %s", path)
		}
	}
}

func TestArchiveTicksUploadFailure(t *testing.T) {
	ticks := &fakeTicks{ticks: []domain.Tick{tickAt("2026-06-01T10:00:00Z")}}
	blob := newFakeBlob()
	blob.putErr = errors.New("access denied")
	a := NewTickArchiver(ticks, blob, blob, nil, 0, discardLogger())

	_, err := a.ArchiveTicks(context.Background(), time.Date(2026, 6, 2, 0, 0, 0, 0, time.UTC))
	if err == nil || !strings.Contains(err.Error(), "access denied") {
		t.Fatalf("err = %v", err)
	}
}

func TestArchiveTicksMultipartThreshold(t *testing.T) {
	ticks := &fakeTicks{ticks: []domain.Tick{tickAt("2026-06-01T10:00:00Z")}}
	blob := newFakeBlob()
	a := NewTickArchiver(ticks, blob, blob, nil, 1, discardLogger())

	if _, err := a.ArchiveTicks(context.Background(), time.Date(2026, 6, 2, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("ArchiveTicks: %v", err)
	}
	if len(blob.multipart) != 1 {
		t.Errorf("multipart uploads = %v", blob.multipart)
	}
}

func TestArchiveTicksNothingToDo(t *testing.T) {
	blob := newFakeBlob()
	a := NewTickArchiver(&fakeTicks{}, blob, blob, nil, 0, discardLogger())
	n, err := a.ArchiveTicks(context.Background(), time.Now())
	if err != nil || n != 0 || len(blob.objects) != 0 {
		t.Fatalf("n=%d err=%v objects=%v", n, err, blob.objects)
	}
}

func TestNormaliseEndpoint(t *testing.T) {
	tests := []struct {
		in     string
		useSSL bool
		want   string
	}{
		{"https://s3.example.com", false, "https://s3.example.com"},
		{"minio:9000", false, "http://minio:9000"},
		{"r2.example.com", true, "https://r2.example.com"},
	}
	for _, tt := range tests {
		if got := normaliseEndpoint(tt.in, tt.useSSL); got != tt.want {
			t.Errorf("normaliseEndpoint(%q, %v) = %q, want %q", tt.in, tt.useSSL, got, tt.want)
		}
	}
}
