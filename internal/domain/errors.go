package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrLockHeld      = errors.New("lock already held")

	ErrTransient          = errors.New("transient failure")
	ErrFatal              = errors.New("fatal failure")
	ErrValidation         = errors.New("validation failed")
	ErrInvalidState       = errors.New("invalid position state")
	ErrAmbiguousReference = errors.New("ambiguous position reference")
	ErrNoPendingSignal    = errors.New("no pending signal")
	ErrMustDisambiguate   = errors.New("must disambiguate")
	ErrUnknownCommand     = errors.New("unknown command")
)

// TransientError is a retryable I/O failure such as a quote fetch timeout or
// a dropped database connection.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

func (e *TransientError) Is(target error) bool { return target == ErrTransient }

// FatalError is an unrecoverable provider or configuration failure. It aborts
// the current cycle but never the process.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal: %s: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

func (e *FatalError) Is(target error) bool { return target == ErrFatal }

// ValidationError reports a rejected input value. Field names the parameter
// or argument, Value is the raw input as received.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// InvalidStateError is returned when a command targets a position whose
// status does not allow the requested transition.
type InvalidStateError struct {
	ID   int64
	Have PositionStatus
	Want PositionStatus
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("position %d is %s, expected %s", e.ID, e.Have, e.Want)
}

func (e *InvalidStateError) Is(target error) bool { return target == ErrInvalidState }

// AmbiguityReason distinguishes the two ways an unqualified reference can fail.
type AmbiguityReason int

const (
	ReasonNoPendingSignal AmbiguityReason = iota
	ReasonMustDisambiguate
)

// AmbiguousReferenceError is returned when /open or /close is sent without
// an id and there is not exactly one candidate position.
type AmbiguousReferenceError struct {
	Reason     AmbiguityReason
	Want       PositionStatus
	Candidates []int64
}

func (e *AmbiguousReferenceError) Error() string {
	if e.Reason == ReasonNoPendingSignal {
		return fmt.Sprintf("no position is %s", e.Want)
	}
	ids := make([]string, len(e.Candidates))
	for i, id := range e.Candidates {
		ids[i] = strconv.FormatInt(id, 10)
	}
	return fmt.Sprintf("%d positions are %s, specify one of: %s",
		len(e.Candidates), e.Want, strings.Join(ids, ", "))
}

func (e *AmbiguousReferenceError) Is(target error) bool {
	switch target {
	case ErrAmbiguousReference:
		return true
	case ErrNoPendingSignal:
		return e.Reason == ReasonNoPendingSignal
	case ErrMustDisambiguate:
		return e.Reason == ReasonMustDisambiguate
	}
	return false
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool { return errors.Is(err, ErrTransient) }

// IsFatal reports whether err should abort the current cycle without retry.
func IsFatal(err error) bool { return errors.Is(err, ErrFatal) }
