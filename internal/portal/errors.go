package portal

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind separates retry-eligible failures from business refusals.
type Kind int

const (
	KindTransient Kind = iota
	KindPermanent
)

func (k Kind) String() string {
	if k == KindPermanent {
		return "permanent"
	}
	return "transient"
}

// Error is a classified portal failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient wraps err as a retry-eligible failure of op.
func Transient(op string, err error) *Error {
	return &Error{Kind: KindTransient, Op: op, Err: err}
}

// Permanent wraps err as a failure of op that must not be retried.
func Permanent(op string, err error) *Error {
	return &Error{Kind: KindPermanent, Op: op, Err: err}
}

// Classify returns err as an *Error. Anything not already classified is transient: timeouts,
// cancellations, network errors and unknown failures are all bounded by the retry limit.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient("timeout", err)
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return Transient("network", err)
	}
	return Transient("unclassified", err)
}

// IsPermanent reports whether err was classified as permanent.
func IsPermanent(err error) bool {
	return Classify(err).Kind == KindPermanent
}
