package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/goldspread/internal/domain"
)

// Archiver enforces the tick TTL. Each run optionally exports expired ticks
// to cold storage and then deletes them from the tick store. When the export
// fails nothing is deleted.
type Archiver struct {
	ticks    domain.TickStore
	exporter domain.TickArchiver
	ttl      time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// NewArchiver creates an Archiver. exporter may be nil, in which case
// expired ticks are only deleted.
func NewArchiver(ticks domain.TickStore, exporter domain.TickArchiver, ttlDays int, logger *slog.Logger) *Archiver {
	return &Archiver{
		ticks:    ticks,
		exporter: exporter,
		ttl:      time.Duration(ttlDays) * 24 * time.Hour,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "archiver")),
	}
}

// RunResult summarises one retention pass.
type RunResult struct {
	Cutoff   time.Time
	Archived int64
	Deleted  int64
}

// Run executes a single retention pass.
func (a *Archiver) Run(ctx context.Context) (RunResult, error) {
	res := RunResult{Cutoff: a.now().UTC().Add(-a.ttl)}
	a.logger.InfoContext(ctx, "starting retention run",
		slog.Time("cutoff", res.Cutoff),
		slog.Duration("ttl", a.ttl),
		slog.Bool("export", a.exporter != nil),
	)

	if a.exporter != nil {
		n, err := a.exporter.ArchiveTicks(ctx, res.Cutoff)
		if err != nil {
			return res, fmt.Errorf("pipeline: archive ticks before %s: %w", res.Cutoff.Format(time.RFC3339), err)
		}
		res.Archived = n
	}

	n, err := a.ticks.DeleteBefore(ctx, res.Cutoff)
	if err != nil {
		return res, fmt.Errorf("pipeline: delete ticks before %s: %w", res.Cutoff.Format(time.RFC3339), err)
	}
	res.Deleted = n

	a.logger.InfoContext(ctx, "retention run complete",
		slog.Int64("archived", res.Archived),
		slog.Int64("deleted", res.Deleted),
	)
	return res, nil
}

// RunCron runs the archiver on a 5-field cron schedule ("minute hour
// day-of-month month day-of-week", evaluated in UTC) until ctx is cancelled.
func (a *Archiver) RunCron(ctx context.Context, cronExpr string) error {
	sched, err := parseCron(cronExpr)
	if err != nil {
		return fmt.Errorf("pipeline: parse cron %q: %w", cronExpr, err)
	}
	a.logger.InfoContext(ctx, "archiver cron started", slog.String("cron", cronExpr))

	for {
		next, err := sched.next(a.now().UTC())
		if err != nil {
			return fmt.Errorf("pipeline: cron %q: %w", cronExpr, err)
		}
		wait := next.Sub(a.now())
		a.logger.DebugContext(ctx, "archiver waiting",
			slog.Time("next_run", next),
			slog.Duration("wait", wait),
		)

		if err := sleepCtx(ctx, wait); err != nil {
			a.logger.InfoContext(ctx, "archiver cron stopped")
			return err
		}
		if _, err := a.Run(ctx); err != nil {
			a.logger.ErrorContext(ctx, "retention run failed", slog.String("error", err.Error()))
		}
	}
}

// cronField matches one cron position. A nil set means any value.
type cronField struct {
	set map[int]bool
}

func (f cronField) matches(v int) bool {
	return f.set == nil || f.set[v]
}

// parseCronField accepts "*", "*/n", "a", "a-b", "a-b/n" and comma lists of
// those, bounded to [lo, hi].
func parseCronField(field string, lo, hi int) (cronField, error) {
	if field == "*" {
		return cronField{}, nil
	}
	set := make(map[int]bool)
	for _, part := range strings.Split(field, ",") {
		step := 1
		if i := strings.IndexByte(part, '/'); i >= 0 {
			n, err := strconv.Atoi(part[i+1:])
			if err != nil || n < 1 {
				return cronField{}, fmt.Errorf("invalid step in %q", part)
			}
			step = n
			part = part[:i]
		}

		from, to := lo, hi
		switch {
		case part == "*":
		case strings.Contains(part, "-"):
			bounds := strings.SplitN(part, "-", 2)
			a, errA := strconv.Atoi(bounds[0])
			b, errB := strconv.Atoi(bounds[1])
			if errA != nil || errB != nil || a > b {
				return cronField{}, fmt.Errorf("invalid range %q", part)
			}
			from, to = a, b
		default:
			v, err := strconv.Atoi(part)
			if err != nil {
				return cronField{}, fmt.Errorf("invalid value %q", part)
			}
			from, to = v, v
		}
		if from < lo || to > hi {
			return cronField{}, fmt.Errorf("%q out of range %d-%d", part, lo, hi)
		}
		for v := from; v <= to; v += step {
			set[v] = true
		}
	}
	return cronField{set: set}, nil
}

type cronSchedule struct {
	minute, hour, dom, month, dow cronField
}

func parseCron(expr string) (cronSchedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return cronSchedule{}, fmt.Errorf("cron expression must have 5 fields, got %d", len(fields))
	}
	var s cronSchedule
	bounds := []struct {
		name   string
		lo, hi int
		dst    *cronField
	}{
		{"minute", 0, 59, &s.minute},
		{"hour", 0, 23, &s.hour},
		{"day-of-month", 1, 31, &s.dom},
		{"month", 1, 12, &s.month},
		{"day-of-week", 0, 6, &s.dow},
	}
	for i, b := range bounds {
		f, err := parseCronField(fields[i], b.lo, b.hi)
		if err != nil {
			return cronSchedule{}, fmt.Errorf("%s field: %w", b.name, err)
		}
		*b.dst = f
	}
	return s, nil
}

func (s cronSchedule) matches(t time.Time) bool {
	return s.minute.matches(t.Minute()) &&
		s.hour.matches(t.Hour()) &&
		s.dom.matches(t.Day()) &&
		s.month.matches(int(t.Month())) &&
		s.dow.matches(int(t.Weekday()))
}

// next returns the first minute strictly after the given time that matches,
// searching up to one year ahead.
func (s cronSchedule) next(after time.Time) (time.Time, error) {
	candidate := after.Truncate(time.Minute).Add(time.Minute)
	limit := after.Add(366 * 24 * time.Hour)
	for candidate.Before(limit) {
		if s.matches(candidate) {
			return candidate, nil
		}
		candidate = candidate.Add(time.Minute)
	}
	return time.Time{}, fmt.Errorf("no matching time within one year")
}
