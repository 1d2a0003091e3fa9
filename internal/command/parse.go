// Package command decodes operator chat messages into typed commands and
// routes them to the position engine.
package command

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/goldspread/internal/domain"
	"github.com/alanyoungcy/goldspread/internal/engine"
)

// Command is one decoded operator command. The set of implementations is
// closed; the Router switches over them exhaustively.
type Command interface {
	Name() string
	command()
}

// Status asks for an engine snapshot.
type Status struct{}

// Positions lists live positions.
type Positions struct{}

// Config shows the runtime parameters.
type Config struct{}

// Help lists the available commands. /start is an alias.
type Help struct{}

// Open confirms the fill of an open signal.
type Open struct {
	Ref    engine.Ref
	Actual decimal.Decimal
}

// Close confirms the fill of a close signal.
type Close struct {
	Ref    engine.Ref
	Actual decimal.Decimal
}

// Set changes one runtime parameter. Raw is validated by the engine.
type Set struct {
	Param domain.Parameter
	Raw   string
}

func (Status) Name() string    { return "status" }
func (Positions) Name() string { return "positions" }
func (Config) Name() string    { return "config" }
func (Help) Name() string      { return "help" }
func (Open) Name() string      { return "open" }
func (Close) Name() string     { return "close" }
func (Set) Name() string       { return "set" }

func (Status) command()    {}
func (Positions) command() {}
func (Config) command()    {}
func (Help) command()      {}
func (Open) command()      {}
func (Close) command()     {}
func (Set) command()       {}

// Parse decodes a chat message. Text that is not a slash command returns
// domain.ErrUnknownCommand, as does an unrecognised verb. Malformed
// arguments return a *domain.ValidationError.
func Parse(text string) (Command, error) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return nil, domain.ErrUnknownCommand
	}
	verb := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	// Group chats address commands as /verb@botname.
	if i := strings.IndexByte(verb, '@'); i >= 0 {
		verb = verb[:i]
	}
	args := fields[1:]

	switch verb {
	case "status":
		return Status{}, nil
	case "positions":
		return Positions{}, nil
	case "config":
		return Config{}, nil
	case "help", "start":
		return Help{}, nil
	case "open":
		ref, actual, err := parseConfirm(verb, args)
		if err != nil {
			return nil, err
		}
		return Open{Ref: ref, Actual: actual}, nil
	case "close":
		ref, actual, err := parseConfirm(verb, args)
		if err != nil {
			return nil, err
		}
		return Close{Ref: ref, Actual: actual}, nil
	case "set":
		if len(args) != 2 {
			return nil, &domain.ValidationError{Field: "arguments", Reason: "usage: /set open|repeat|annual|close_buffer|poll <value>"}
		}
		p, err := domain.ParseParameter(args[0])
		if err != nil {
			return nil, err
		}
		return Set{Param: p, Raw: args[1]}, nil
	}
	return nil, fmt.Errorf("/%s: %w", verb, domain.ErrUnknownCommand)
}

// parseConfirm handles "[id] actual_spread".
func parseConfirm(verb string, args []string) (engine.Ref, decimal.Decimal, error) {
	usage := &domain.ValidationError{Field: "arguments", Reason: "usage: /" + verb + " [id] <actual_spread>"}
	var ref engine.Ref
	switch len(args) {
	case 1:
	case 2:
		raw := strings.TrimPrefix(args[0], "#")
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return ref, decimal.Zero, &domain.ValidationError{Field: "id", Value: args[0], Reason: "must be a positive integer"}
		}
		ref = engine.ByID(id)
	default:
		return ref, decimal.Zero, usage
	}

	raw := args[len(args)-1]
	actual, err := decimal.NewFromString(strings.TrimPrefix(raw, "$"))
	if err != nil {
		return ref, decimal.Zero, &domain.ValidationError{Field: "actual_spread", Value: raw, Reason: "not a number"}
	}
	return ref, actual, nil
}
