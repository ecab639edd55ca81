// Package failure classifies pipeline errors so callers can decide whether to
// retry, mark an item failed, escalate to a human, reject synchronously or
// silently skip.
package failure

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Class is the handling category of an error.
type Class int

const (
	// Unclassified is the zero value; ClassOf never returns it.
	Unclassified Class = iota

	// Transient errors (timeouts, rate limits, provider hiccups) are retried with backoff.
	Transient

	// Terminal errors fail the item; the pipeline continues with other items.
	Terminal

	// NeedsAttention marks work whose retry budget is exhausted.
	NeedsAttention

	// PolicyRejection errors are returned synchronously and never degrade into partial output.
	PolicyRejection

	// DataQualitySkip marks items that are dropped and counted, never surfaced as errors.
	DataQualitySkip
)

// String returns the stable name stored alongside failed jobs.
func (c Class) String() string {
	switch c {
	case Transient:
		return "transient"
	case Terminal:
		return "terminal"
	case NeedsAttention:
		return "needs_attention"
	case PolicyRejection:
		return "policy_rejection"
	case DataQualitySkip:
		return "data_quality_skip"
	case Unclassified:
		return "unclassified"
	}
	return "unclassified"
}

// ParseClass is the inverse of String. Unknown names map to Unclassified.
func ParseClass(s string) Class {
	switch s {
	case "transient":
		return Transient
	case "terminal":
		return Terminal
	case "needs_attention":
		return NeedsAttention
	case "policy_rejection":
		return PolicyRejection
	case "data_quality_skip":
		return DataQualitySkip
	}
	return Unclassified
}

// Error attaches a Class and the failing operation to an underlying error.
type Error struct {
	Class Class
	Op    string
	Err   error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with a class. A nil err yields nil.
func New(class Class, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Class: class, Op: op, Err: err}
}

// Transientf builds a transient error from a format string.
func Transientf(op, format string, args ...interface{}) error {
	return &Error{Class: Transient, Op: op, Err: fmt.Errorf(format, args...)}
}

// Terminalf builds a terminal error from a format string.
func Terminalf(op, format string, args ...interface{}) error {
	return &Error{Class: Terminal, Op: op, Err: fmt.Errorf(format, args...)}
}

// Policyf builds a policy rejection from a format string.
func Policyf(op, format string, args ...interface{}) error {
	return &Error{Class: PolicyRejection, Op: op, Err: fmt.Errorf(format, args...)}
}

// transientMarkers are substrings of provider error text that indicate the
// call may succeed if repeated.
var transientMarkers = []string{
	"circuit breaker is open",
	"rate limit",
	"too many requests",
	"status 429",
	"status 500",
	"status 502",
	"status 503",
	"status 504",
	"timeout",
	"temporarily unavailable",
	"connection reset",
	"connection refused",
	"database is locked",
}

// ClassOf returns the class of err. Explicitly classified errors keep their
// class; context deadlines and network timeouts are transient; known provider
// messages are matched; anything else is terminal.
func ClassOf(err error) Class {
	if err == nil {
		return Unclassified
	}

	var fe *Error
	if errors.As(err, &fe) && fe.Class != Unclassified {
		return fe.Class
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return Transient
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Transient
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return Transient
		}
	}

	return Terminal
}

// IsRetryable reports whether err should be retried with backoff.
func IsRetryable(err error) bool {
	return ClassOf(err) == Transient
}

// Is reports whether err is classified as c.
func Is(err error, c Class) bool {
	return err != nil && ClassOf(err) == c
}
