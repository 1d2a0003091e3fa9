package alert

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/goldspread/internal/domain"
)

// Money formats a spread for chat display.
func Money(d decimal.Decimal) string {
	if d.IsNegative() {
		return "-$" + d.Neg().StringFixed(2)
	}
	return "$" + d.StringFixed(2)
}

// RenderSignal builds the title and HTML body for a signal.
func RenderSignal(sig domain.Signal, pos domain.Position) (title, body string) {
	var b strings.Builder
	switch sig.Kind {
	case domain.SignalOpen:
		title = fmt.Sprintf("Open signal #%d", sig.ID)
		fmt.Fprintf(&b, "Short PAXG / long XAUT spread: <b>%s</b>\n", Money(sig.Spread))
		fmt.Fprintf(&b, "Open threshold: %s\n", Money(sig.Threshold))
		fmt.Fprintf(&b, "Tick: %s\n\n", sig.TickTime.UTC().Format(time.DateTime))
		fmt.Fprintf(&b, "Confirm the fill with <code>/open %d &lt;actual_spread&gt;</code>", sig.ID)
	default:
		title = fmt.Sprintf("Close signal #%d", sig.ID)
		fmt.Fprintf(&b, "Short XAUT / long PAXG spread: <b>%s</b>\n", Money(sig.Spread))
		if sig.EntryActual.Valid {
			fmt.Fprintf(&b, "Entry actual spread: %s\n", Money(sig.EntryActual.Decimal))
		}
		fmt.Fprintf(&b, "Close trigger: %s\n", Money(sig.Threshold))
		if !pos.SignalAt.IsZero() {
			fmt.Fprintf(&b, "Opened on signal at %s\n", pos.SignalAt.UTC().Format(time.DateTime))
		}
		fmt.Fprintf(&b, "Tick: %s\n\n", sig.TickTime.UTC().Format(time.DateTime))
		fmt.Fprintf(&b, "Confirm the fill with <code>/close %d &lt;actual_spread&gt;</code>", sig.ID)
	}
	if sig.Reminder {
		title = "Reminder: " + title
	}
	return title, b.String()
}

// RenderAPIFailure builds the message for repeated fetch failures.
func RenderAPIFailure(consecutive int, cause error) (title, body string) {
	reason := "unknown"
	if cause != nil {
		reason = cause.Error()
	}
	return "Quote API failing",
		fmt.Sprintf("Consecutive failures: <b>%d</b>\nReason: <code>%s</code>", consecutive, html.EscapeString(reason))
}
