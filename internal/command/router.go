package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/goldspread/internal/domain"
	"github.com/alanyoungcy/goldspread/internal/engine"
	"github.com/alanyoungcy/goldspread/internal/metrics"
)

// Message is an inbound chat message, already stripped of transport detail.
type Message struct {
	ChatID string
	From   string
	Text   string
}

// Replier sends a reply to a chat.
type Replier interface {
	SendMessage(ctx context.Context, chatID, text string) error
}

// RouterConfig configures a Router.
type RouterConfig struct {
	// AllowedChatIDs lists the chats that may issue commands.
	AllowedChatIDs []string
	// RateLimit is the number of commands a chat may send per RateWindow.
	// Zero disables limiting.
	RateLimit  int
	RateWindow time.Duration
	// TicksOnly is reported by /status.
	TicksOnly bool
}

// Router authorizes, decodes and executes operator commands and replies with
// the outcome. Operator errors never escape Handle.
type Router struct {
	engine  *engine.Engine
	replier Replier
	limiter domain.RateLimiter
	allowed map[string]bool
	cfg     RouterConfig
	now     func() time.Time
	logger  *slog.Logger
}

// NewRouter creates a Router. limiter may be nil.
func NewRouter(eng *engine.Engine, replier Replier, limiter domain.RateLimiter, cfg RouterConfig, logger *slog.Logger) *Router {
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = time.Minute
	}
	allowed := make(map[string]bool, len(cfg.AllowedChatIDs))
	for _, id := range cfg.AllowedChatIDs {
		if id = strings.TrimSpace(id); id != "" {
			allowed[id] = true
		}
	}
	return &Router{
		engine:  eng,
		replier: replier,
		limiter: limiter,
		allowed: allowed,
		cfg:     cfg,
		now:     time.Now,
		logger:  logger.With(slog.String("component", "command_router")),
	}
}

// Handle processes one message and sends the reply.
func (r *Router) Handle(ctx context.Context, msg Message) {
	reply, verb, result := r.reply(ctx, msg)
	metrics.Commands.WithLabelValues(verb, result).Inc()
	if reply == "" {
		return
	}
	if err := r.replier.SendMessage(ctx, msg.ChatID, reply); err != nil {
		r.logger.WarnContext(ctx, "reply failed",
			slog.String("chat_id", msg.ChatID),
			slog.String("command", verb),
			slog.String("error", err.Error()),
		)
	}
}

func (r *Router) reply(ctx context.Context, msg Message) (reply, verb, result string) {
	// Plain chatter is not addressed to the bot.
	if !strings.HasPrefix(strings.TrimSpace(msg.Text), "/") {
		return "", "none", "ignored"
	}
	if !r.allowed[msg.ChatID] {
		r.logger.WarnContext(ctx, "command from unauthorized chat",
			slog.String("chat_id", msg.ChatID),
			slog.String("from", msg.From),
		)
		return unauthorizedText, "unknown", "unauthorized"
	}

	cmd, err := Parse(msg.Text)
	if err != nil {
		verb = verbOf(msg.Text)
		text, _ := formatError(verb, err)
		return text, verb, "rejected"
	}
	verb = cmd.Name()

	if !r.allow(ctx, msg.ChatID) {
		return "Too many commands, try again in a minute.", verb, "rate_limited"
	}

	text, err := r.Execute(ctx, cmd, msg.From)
	if err != nil {
		text, ok := formatError(verb, err)
		if !ok {
			r.logger.ErrorContext(ctx, "command failed",
				slog.String("command", verb),
				slog.String("error", err.Error()),
			)
			return text, verb, "error"
		}
		r.logger.InfoContext(ctx, "command rejected",
			slog.String("command", verb),
			slog.String("reason", err.Error()),
		)
		return text, verb, "rejected"
	}
	return text, verb, "ok"
}

// Execute runs a decoded command against the engine and renders the reply.
func (r *Router) Execute(ctx context.Context, cmd Command, by string) (string, error) {
	switch c := cmd.(type) {
	case Status:
		return formatStatus(r.engine.Status(), r.now(), r.cfg.TicksOnly), nil
	case Positions:
		return formatPositions(r.engine.Positions(), r.engine.Config()), nil
	case Config:
		return formatConfig(r.engine.Config()), nil
	case Help:
		return helpText, nil
	case Open:
		pos, err := r.engine.ConfirmOpen(ctx, c.Ref, c.Actual, by)
		if err != nil {
			return "", err
		}
		return formatOpened(pos, r.engine.Config()), nil
	case Close:
		pos, err := r.engine.ConfirmClose(ctx, c.Ref, c.Actual, by)
		if err != nil {
			return "", err
		}
		return formatClosed(pos), nil
	case Set:
		cfg, err := r.engine.SetParameter(ctx, c.Param, c.Raw)
		if err != nil {
			return "", err
		}
		return formatSet(c.Param, cfg), nil
	}
	return "", fmt.Errorf("command: %T: %w", cmd, domain.ErrUnknownCommand)
}

// allow applies the per-chat rate limit. Limiter errors fail open.
func (r *Router) allow(ctx context.Context, chatID string) bool {
	if r.limiter == nil || r.cfg.RateLimit <= 0 {
		return true
	}
	ok, err := r.limiter.Allow(ctx, "telegram:"+chatID, r.cfg.RateLimit, r.cfg.RateWindow)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			r.logger.WarnContext(ctx, "rate limiter unavailable", slog.String("error", err.Error()))
		}
		return true
	}
	return ok
}

func verbOf(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "unknown"
	}
	verb := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	if i := strings.IndexByte(verb, '@'); i >= 0 {
		verb = verb[:i]
	}
	switch verb {
	case "status", "positions", "config", "help", "start", "open", "close", "set":
		return verb
	}
	return "unknown"
}
