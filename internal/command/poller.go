package command

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/alanyoungcy/goldspread/internal/platform/telegram"
)

// UpdateSource long-polls for inbound chat updates.
type UpdateSource interface {
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]telegram.Update, error)
}

// Poller feeds Telegram updates to a Router one at a time.
type Poller struct {
	source  UpdateSource
	router  *Router
	timeout time.Duration
	backoff time.Duration
	offset  int64
	logger  *slog.Logger
}

// NewPoller creates a Poller with the given long-poll timeout.
func NewPoller(source UpdateSource, router *Router, timeout time.Duration, logger *slog.Logger) *Poller {
	return &Poller{
		source:  source,
		router:  router,
		timeout: timeout,
		backoff: 5 * time.Second,
		logger:  logger.With(slog.String("component", "command_poller")),
	}
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.InfoContext(ctx, "command poller started", slog.Duration("timeout", p.timeout))
	for {
		if err := p.PollOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.WarnContext(ctx, "get updates failed", slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.backoff):
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// PollOnce fetches one batch of updates and handles each message in order.
func (p *Poller) PollOnce(ctx context.Context) error {
	updates, err := p.source.GetUpdates(ctx, p.offset, p.timeout)
	if err != nil {
		return err
	}
	for _, u := range updates {
		if u.UpdateID >= p.offset {
			p.offset = u.UpdateID + 1
		}
		m := u.Message
		if m == nil || m.Text == "" {
			continue
		}
		from := ""
		if m.From != nil {
			from = m.From.Username
			if from == "" {
				from = strconv.FormatInt(m.From.ID, 10)
			}
		}
		p.router.Handle(ctx, Message{
			ChatID: strconv.FormatInt(m.Chat.ID, 10),
			From:   from,
			Text:   m.Text,
		})
	}
	return nil
}
