// Package neterr defines the error kinds every user-facing stack API
// reports through: a short set of sentinel errors plus a Kind an
// errors.As caller can recover regardless of which sentinel produced it.
package neterr

import (
	"errors"
	"fmt"
)

// Kind is one of the outcome categories a user API call can fail with.
type Kind int

const (
	BadArg Kind = iota
	NoMem
	NoRoute
	Unreach
	InUse
	Closed
	Interrupted
	Reset
	Timeout
	Protocol
)

func (k Kind) String() string {
	switch k {
	case BadArg:
		return "BADARG"
	case NoMem:
		return "NOMEM"
	case NoRoute:
		return "NOROUTE"
	case Unreach:
		return "UNREACH"
	case InUse:
		return "INUSE"
	case Closed:
		return "CLOSED"
	case Interrupted:
		return "INTERRUPTED"
	case Reset:
		return "RESET"
	case Timeout:
		return "TIMEOUT"
	case Protocol:
		return "PROTOCOL"
	default:
		return "UNKNOWN"
	}
}

// kindError pairs a Kind with the error it wraps, recoverable via errors.As.
type kindError struct {
	kind Kind
	err  error
}

func (e *kindError) Error() string { return fmt.Sprintf("%s: %s", e.kind, e.err) }
func (e *kindError) Unwrap() error { return e.err }

// Is reports whether target is the sentinel error of e's kind, so that
// errors.Is(WithKind(k, err), <sentinel of k>) holds.
func (e *kindError) Is(target error) bool { return sentinels[e.kind] == target }

// WithKind wraps err so that errors.As(err, &kindError{}) — or the As
// helper below — recovers kind. Sentinel errors below are already kinds
// of their own, so most call sites can skip this and return the sentinel
// directly.
func WithKind(kind Kind, err error) error {
	return &kindError{kind: kind, err: err}
}

// As reports whether err carries a Kind, and if so, which one.
func As(err error) (Kind, bool) {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind, true
	}
	for k, sentinel := range sentinels {
		if errors.Is(err, sentinel) {
			return k, true
		}
	}
	return 0, false
}

var (
	ErrBadArg     = errors.New("invalid argument")
	ErrNoMem      = errors.New("insufficient resources")
	ErrNoRoute    = errors.New("no route to host")
	ErrUnreach    = errors.New("destination unreachable")
	ErrInUse      = errors.New("address or port already in use")
	ErrClosed     = errors.New("connection closed")
	ErrInterrupted = errors.New("call interrupted")
	ErrReset      = errors.New("connection reset")
	ErrTimeout    = errors.New("operation timed out")
	ErrProtocol   = errors.New("protocol violation")
)

var sentinels = map[Kind]error{
	BadArg:      ErrBadArg,
	NoMem:       ErrNoMem,
	NoRoute:     ErrNoRoute,
	Unreach:     ErrUnreach,
	InUse:       ErrInUse,
	Closed:      ErrClosed,
	Interrupted: ErrInterrupted,
	Reset:       ErrReset,
	Timeout:     ErrTimeout,
	Protocol:    ErrProtocol,
}
