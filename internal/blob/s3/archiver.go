package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/goldspread/internal/domain"
)

const jsonlContentType = "application/x-ndjson"

// TickLister is the read side of the tick store the archiver needs.
type TickLister interface {
	ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.Tick, error)
}

// ObjectChecker reports whether an object already exists.
type ObjectChecker interface {
	Exists(ctx context.Context, path string) (bool, error)
}

// TickArchiver implements domain.TickArchiver. Ticks before the cutoff are
// grouped by UTC day and written as JSONL to archive/ticks/YYYY-MM-DD.jsonl.
// A day file that already exists is never overwritten; the new batch gets a
// unique suffix instead. Deleting the ticks is left to the caller.
type TickArchiver struct {
	ticks     TickLister
	writer    domain.BlobWriter
	checker   ObjectChecker
	audit     domain.AuditStore
	multipart int64
	logger    *slog.Logger
}

// NewTickArchiver creates a TickArchiver. audit may be nil. Payloads larger
// than multipartThreshold bytes go through the multipart uploader; zero
// uses 16 MiB.
func NewTickArchiver(ticks TickLister, writer domain.BlobWriter, checker ObjectChecker, audit domain.AuditStore, multipartThreshold int64, logger *slog.Logger) *TickArchiver {
	if multipartThreshold <= 0 {
		multipartThreshold = 16 * 1024 * 1024
	}
	return &TickArchiver{
		ticks:     ticks,
		writer:    writer,
		checker:   checker,
		audit:     audit,
		multipart: multipartThreshold,
		logger:    logger.With(slog.String("component", "s3_archiver")),
	}
}

// ArchiveTicks uploads every tick observed before the cutoff and returns the
// number written. Any upload failure aborts the run so the caller keeps the
// rows.
func (a *TickArchiver) ArchiveTicks(ctx context.Context, before time.Time) (int64, error) {
	ticks, err := a.ticks.ListBefore(ctx, before, 0)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive ticks query: %w", err)
	}
	if len(ticks) == 0 {
		return 0, nil
	}

	byDay := make(map[string][]domain.Tick)
	for _, t := range ticks {
		day := t.Timestamp.UTC().Format("2006-01-02")
		byDay[day] = append(byDay[day], t)
	}
	days := make([]string, 0, len(byDay))
	for d := range byDay {
		days = append(days, d)
	}
	sort.Strings(days)

	var total int64
	for _, day := range days {
		path, err := a.upload(ctx, day, byDay[day])
		if err != nil {
			return total, err
		}
		n := int64(len(byDay[day]))
		total += n
		a.logger.InfoContext(ctx, "archived ticks",
			slog.String("path", path),
			slog.Int64("count", n),
		)
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.ticks", map[string]any{
			"count":  total,
			"days":   days,
			"before": before.UTC().Format(time.RFC3339),
		}); err != nil {
			a.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
		}
	}
	return total, nil
}

func (a *TickArchiver) upload(ctx context.Context, day string, ticks []domain.Tick) (string, error) {
	buf, err := marshalJSONL(ticks)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive ticks marshal %s: %w", day, err)
	}

	path := tickArchivePath(day, "")
	exists, err := a.checker.Exists(ctx, path)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive ticks check %s: %w", path, err)
	}
	if exists {
		path = tickArchivePath(day, uuid.NewString()[:8])
	}

	if int64(len(buf)) > a.multipart {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return "", fmt.Errorf("s3blob: archive ticks upload %s: %w", path, err)
	}
	return path, nil
}

// tickArchivePath builds the object key for one day of ticks:
//
//	archive/ticks/2026-06-01.jsonl
//	archive/ticks/2026-06-01-1a2b3c4d.jsonl
func tickArchivePath(day, suffix string) string {
	if suffix == "" {
		return fmt.Sprintf("archive/ticks/%s.jsonl", day)
	}
	return fmt.Sprintf("archive/ticks/%s-%s.jsonl", day, suffix)
}

// marshalJSONL encodes records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.TickArchiver = (*TickArchiver)(nil)
