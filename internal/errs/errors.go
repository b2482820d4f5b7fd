// Package errs defines the structured error taxonomy shared by the
// backtest pipeline. Every failure is fatal to the run; errors carry a
// kind, a message, and an optional context map for the offending field,
// resolution, or indicator key.
package errs

import (
	"fmt"
	"sort"
	"strings"
)

// Kind classifies a pipeline failure.
type Kind string

const (
	ConfigInvalid             Kind = "CONFIG_INVALID"
	CandleFormatInvalid       Kind = "CANDLE_FORMAT_INVALID"
	ResolutionUnavailable     Kind = "RESOLUTION_UNAVAILABLE"
	UnalignedAggregation      Kind = "UNALIGNED_AGGREGATION"
	IndicatorEvaluationFailed Kind = "INDICATOR_EVALUATION_FAILED"
	NumericInvalid            Kind = "NUMERIC_INVALID"
	InternalInvariantViolated Kind = "INTERNAL_INVARIANT_VIOLATED"
)

// Error is the structured error value surfaced to the host.
type Error struct {
	Kind    Kind
	Message string
	Context map[string]string
	cause   error
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause, reachable through errors.Unwrap.
func (e *Error) Wrap(cause error) *Error {
	e.cause = cause
	return e
}

// With adds a context key/value and returns the error for chaining.
func (e *Error) With(key, value string) *Error {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+"="+e.Context[k])
		}
		b.WriteString(" (")
		b.WriteString(strings.Join(parts, ", "))
		b.WriteString(")")
	}
	if e.cause != nil {
		b.WriteString(": ")
		b.WriteString(e.cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches errors by kind, so callers can use errors.Is with a bare
// kind sentinel, e.g. errors.Is(err, errs.New(errs.ConfigInvalid, "")).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind == kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
