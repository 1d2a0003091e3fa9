package domain

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Parameter names a field of RuntimeConfig that operators may change with /set.
type Parameter string

const (
	ParamOpen        Parameter = "open"
	ParamRepeat      Parameter = "repeat"
	ParamAnnual      Parameter = "annual"
	ParamCloseBuffer Parameter = "close_buffer"
	ParamPoll        Parameter = "poll"
)

// Parameters lists every settable parameter in display order.
var Parameters = []Parameter{ParamOpen, ParamCloseBuffer, ParamAnnual, ParamRepeat, ParamPoll}

// ParseParameter maps a /set argument to a Parameter.
func ParseParameter(name string) (Parameter, error) {
	p := Parameter(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range Parameters {
		if p == known {
			return p, nil
		}
	}
	return "", &ValidationError{Field: "parameter", Value: name, Reason: "must be one of open, repeat, annual, close_buffer, poll"}
}

// Bounds for tunable parameters.
const (
	MinPollSeconds   = 1
	MaxPollSeconds   = 3600
	MinRepeatSeconds = 30
	MaxRepeatSeconds = 86400
)

var maxDecimalParam = decimal.NewFromInt(100000)

// RuntimeConfig holds the live-tunable parameters of the position engine.
// It is a value type; the engine owns the only mutable copy.
type RuntimeConfig struct {
	OpenThreshold         decimal.Decimal `json:"open_threshold"`
	CloseBuffer           decimal.Decimal `json:"close_buffer"`
	AnnualFactor          decimal.Decimal `json:"annual_factor"`
	PollIntervalSeconds   int             `json:"poll_interval_seconds"`
	RepeatIntervalSeconds int             `json:"repeat_interval_seconds"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

// DefaultRuntimeConfig returns the parameters used when nothing is persisted.
func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		OpenThreshold:         decimal.NewFromInt(40),
		CloseBuffer:           decimal.Zero,
		AnnualFactor:          decimal.NewFromInt(365),
		PollIntervalSeconds:   2,
		RepeatIntervalSeconds: 300,
	}
}

// PollInterval returns the scheduler period.
func (c RuntimeConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// RepeatInterval returns the reminder period. Zero disables reminders.
func (c RuntimeConfig) RepeatInterval() time.Duration {
	return time.Duration(c.RepeatIntervalSeconds) * time.Second
}

// Value renders the current value of p.
func (c RuntimeConfig) Value(p Parameter) string {
	switch p {
	case ParamOpen:
		return c.OpenThreshold.String()
	case ParamCloseBuffer:
		return c.CloseBuffer.String()
	case ParamAnnual:
		return c.AnnualFactor.String()
	case ParamRepeat:
		return strconv.Itoa(c.RepeatIntervalSeconds)
	case ParamPoll:
		return strconv.Itoa(c.PollIntervalSeconds)
	}
	return ""
}

// With returns a copy of c with p set to the parsed raw value. The receiver
// is never modified; on error the caller keeps its previous config.
func (c RuntimeConfig) With(p Parameter, raw string) (RuntimeConfig, error) {
	raw = strings.TrimSpace(raw)
	switch p {
	case ParamOpen, ParamCloseBuffer, ParamAnnual:
		v, err := parseBoundedDecimal(p, raw)
		if err != nil {
			return c, err
		}
		switch p {
		case ParamOpen:
			c.OpenThreshold = v
		case ParamCloseBuffer:
			c.CloseBuffer = v
		case ParamAnnual:
			c.AnnualFactor = v
		}
	case ParamPoll:
		n, err := parseSeconds(p, raw)
		if err != nil {
			return c, err
		}
		if n < MinPollSeconds || n > MaxPollSeconds {
			return c, &ValidationError{Field: string(p), Value: raw,
				Reason: "must be between " + strconv.Itoa(MinPollSeconds) + " and " + strconv.Itoa(MaxPollSeconds) + " seconds"}
		}
		c.PollIntervalSeconds = n
	case ParamRepeat:
		n, err := parseSeconds(p, raw)
		if err != nil {
			return c, err
		}
		if n != 0 && (n < MinRepeatSeconds || n > MaxRepeatSeconds) {
			return c, &ValidationError{Field: string(p), Value: raw,
				Reason: "must be 0 (off) or between " + strconv.Itoa(MinRepeatSeconds) + " and " + strconv.Itoa(MaxRepeatSeconds) + " seconds"}
		}
		c.RepeatIntervalSeconds = n
	default:
		return c, &ValidationError{Field: "parameter", Value: string(p), Reason: "unknown parameter"}
	}
	return c, nil
}

// Validate checks every field against its bounds. It is applied to configs
// loaded from storage before they replace the defaults.
func (c RuntimeConfig) Validate() error {
	for _, p := range Parameters {
		if _, err := c.With(p, c.Value(p)); err != nil {
			return err
		}
	}
	return nil
}

func parseBoundedDecimal(p Parameter, raw string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, &ValidationError{Field: string(p), Value: raw, Reason: "not a number"}
	}
	if v.IsNegative() {
		return decimal.Zero, &ValidationError{Field: string(p), Value: raw, Reason: "must not be negative"}
	}
	if v.GreaterThan(maxDecimalParam) {
		return decimal.Zero, &ValidationError{Field: string(p), Value: raw, Reason: "must not exceed " + maxDecimalParam.String()}
	}
	return v, nil
}

func parseSeconds(p Parameter, raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &ValidationError{Field: string(p), Value: raw, Reason: "must be a whole number of seconds"}
	}
	return n, nil
}
