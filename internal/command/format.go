package command

import (
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/alanyoungcy/goldspread/internal/alert"
	"github.com/alanyoungcy/goldspread/internal/domain"
	"github.com/alanyoungcy/goldspread/internal/engine"
)

const helpText = `<b>Commands</b>
/status - engine snapshot
/positions - live positions
/config - runtime parameters
/open [id] &lt;actual_spread&gt; - confirm an open fill
/close [id] &lt;actual_spread&gt; - confirm a close fill
/set open|close_buffer|annual|repeat|poll &lt;value&gt; - change a parameter
/help - this list

The id may be omitted when exactly one position is waiting for that confirmation.`

const unauthorizedText = "Unauthorized chat_id."

func formatConfig(cfg domain.RuntimeConfig) string {
	var b strings.Builder
	b.WriteString("<b>Runtime config</b>\n")
	writeConfigLines(&b, cfg)
	return strings.TrimRight(b.String(), "\n")
}

func writeConfigLines(b *strings.Builder, cfg domain.RuntimeConfig) {
	fmt.Fprintf(b, "open: <code>%s</code>\n", cfg.OpenThreshold)
	fmt.Fprintf(b, "close_buffer: <code>%s</code>\n", cfg.CloseBuffer)
	fmt.Fprintf(b, "annual: <code>%s</code>\n", cfg.AnnualFactor)
	if cfg.RepeatIntervalSeconds == 0 {
		b.WriteString("repeat: <code>off</code>\n")
	} else {
		fmt.Fprintf(b, "repeat: <code>%ds</code>\n", cfg.RepeatIntervalSeconds)
	}
	fmt.Fprintf(b, "poll: <code>%ds</code>\n", cfg.PollIntervalSeconds)
	if !cfg.UpdatedAt.IsZero() {
		fmt.Fprintf(b, "updated: %s\n", cfg.UpdatedAt.UTC().Format(time.DateTime))
	}
}

func formatStatus(st engine.Status, now time.Time, ticksOnly bool) string {
	var b strings.Builder
	b.WriteString("<b>Status</b>\n")
	fmt.Fprintf(&b, "uptime: %s\n", now.Sub(st.StartedAt).Truncate(time.Second))
	if ticksOnly {
		b.WriteString("mode: ticks only (positions and config are not persisted)\n")
	}
	fmt.Fprintf(&b, "ticks seen: %d\n", st.TicksSeen)
	if t := st.LastTick; t != nil {
		fmt.Fprintf(&b, "last tick: %s open %s close %s\n",
			t.Timestamp.UTC().Format(time.DateTime), alert.Money(t.SpreadOpen), alert.Money(t.SpreadClose))
		if t.FundingDiffAnnual.Valid {
			fmt.Fprintf(&b, "funding diff (annual): %s\n", t.FundingDiffAnnual.Decimal.StringFixed(6))
		}
	}
	fmt.Fprintf(&b, "\n<b>Positions</b>\n")
	fmt.Fprintf(&b, "awaiting open: %d\n", st.Counts[domain.PositionAwaitingOpen])
	fmt.Fprintf(&b, "open: %d\n", st.Counts[domain.PositionOpen])
	fmt.Fprintf(&b, "awaiting close: %d\n", st.Counts[domain.PositionAwaitingClose])
	fmt.Fprintf(&b, "closed this session: %d\n", st.ClosedSession)
	fmt.Fprintf(&b, "next id: %d\n", st.NextID)
	fmt.Fprintf(&b, "open policy: %s\n", st.Policy)

	b.WriteString("\n<b>Config</b>\n")
	writeConfigLines(&b, st.Config)

	if st.PendingEffects > 0 || st.FailedEffects > 0 {
		fmt.Fprintf(&b, "\n<b>Side effects</b>\npending: %d\nfailed: %d\n", st.PendingEffects, st.FailedEffects)
		for _, f := range st.RecentFailures {
			fmt.Fprintf(&b, "- %s %s #%d after %d attempts: <code>%s</code>\n",
				f.At.UTC().Format(time.DateTime), f.Effect, f.Ref, f.Attempts, html.EscapeString(f.Err))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatPositions(positions []domain.Position, cfg domain.RuntimeConfig) string {
	if len(positions) == 0 {
		return "No live positions."
	}
	var b strings.Builder
	b.WriteString("<b>Live positions</b>\n")
	for _, p := range positions {
		fmt.Fprintf(&b, "\n<b>#%d</b> %s\n", p.ID, p.Status)
		fmt.Fprintf(&b, "entry signal: %s at %s\n", alert.Money(p.EntrySignalSpread), p.SignalAt.UTC().Format(time.DateTime))
		if p.EntryActualSpread.Valid {
			fmt.Fprintf(&b, "entry actual: %s\n", alert.Money(p.EntryActualSpread.Decimal))
		}
		if trigger, ok := p.CloseTrigger(cfg.CloseBuffer); ok && p.Status == domain.PositionOpen {
			fmt.Fprintf(&b, "close trigger: %s\n", alert.Money(trigger))
		}
		if p.CloseSignalSpread.Valid {
			fmt.Fprintf(&b, "close signal: %s\n", alert.Money(p.CloseSignalSpread.Decimal))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatOpened(p domain.Position, cfg domain.RuntimeConfig) string {
	trigger, _ := p.CloseTrigger(cfg.CloseBuffer)
	return fmt.Sprintf("Position <b>#%d</b> open at %s.\nClose trigger: %s (buffer %s).",
		p.ID, alert.Money(p.EntryActualSpread.Decimal), alert.Money(trigger), cfg.CloseBuffer)
}

func formatClosed(p domain.Position) string {
	return fmt.Sprintf("Position <b>#%d</b> closed at %s (entry %s).",
		p.ID, alert.Money(p.CloseActualSpread.Decimal), alert.Money(p.EntryActualSpread.Decimal))
}

func formatSet(p domain.Parameter, cfg domain.RuntimeConfig) string {
	return fmt.Sprintf("%s set to <code>%s</code>.", p, cfg.Value(p))
}

// formatError renders an operator-facing error. ok is false for errors that
// are not the operator's fault; those are logged and answered generically.
func formatError(cmd string, err error) (reply string, ok bool) {
	var (
		verr *domain.ValidationError
		serr *domain.InvalidStateError
		aerr *domain.AmbiguousReferenceError
	)
	switch {
	case errors.As(err, &verr):
		return "Invalid input: " + html.EscapeString(verr.Error()), true
	case errors.As(err, &aerr):
		if aerr.Reason == domain.ReasonNoPendingSignal {
			return fmt.Sprintf("No pending signal: no position is %s.", aerr.Want), true
		}
		ids := make([]string, len(aerr.Candidates))
		for i, id := range aerr.Candidates {
			ids[i] = fmt.Sprintf("#%d", id)
		}
		return fmt.Sprintf("Several positions are %s: %s.\nSpecify one, e.g. <code>/%s %d &lt;actual_spread&gt;</code>",
			aerr.Want, strings.Join(ids, ", "), cmd, aerr.Candidates[0]), true
	case errors.As(err, &serr):
		return "Cannot do that: " + serr.Error() + ".", true
	case errors.Is(err, domain.ErrNotFound):
		return "Not found: " + html.EscapeString(err.Error()) + ".", true
	case errors.Is(err, domain.ErrUnknownCommand):
		return "Unknown command. Send /help for the list.", true
	}
	return "Internal error, see logs.", false
}
