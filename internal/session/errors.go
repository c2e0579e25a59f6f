package session

import (
	"errors"

	"syncq/internal/correlate"
	"syncq/internal/stats"
)

var (
	ErrConnect        = errors.New("session: connect failed")
	ErrConnectTimeout = errors.New("session: connect timeout")
	ErrTransport      = errors.New("session: transport error")
	ErrStalled        = errors.New("session: stalled waiting for responses")

	// ErrCancelled ends a session the run stopped before it was open.
	ErrCancelled = errors.New("session: cancelled")
)

// ErrorClass groups errors for reporting.
type ErrorClass string

const (
	ClassNone        ErrorClass = ""
	ClassConnection  ErrorClass = "connection"
	ClassProtocol    ErrorClass = "protocol"
	ClassTransport   ErrorClass = "transport"
	ClassTimeout     ErrorClass = "timeout"
	ClassAggregation ErrorClass = "aggregation"
)

func Classify(err error) ErrorClass {
	switch {
	case err == nil, errors.Is(err, ErrCancelled):
		return ClassNone
	case errors.Is(err, ErrConnectTimeout), errors.Is(err, ErrStalled):
		return ClassTimeout
	case errors.Is(err, ErrConnect):
		return ClassConnection
	case errors.Is(err, ErrTransport):
		return ClassTransport
	case errors.Is(err, correlate.ErrUnmatched),
		errors.Is(err, correlate.ErrOutOfOrder),
		errors.Is(err, correlate.ErrDuplicateKey),
		errors.Is(err, correlate.ErrClosed):
		return ClassProtocol
	case errors.Is(err, stats.ErrInvalidSample):
		return ClassAggregation
	}
	return ClassTransport
}
