package airtable

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies remote failures so callers can decide between
// backing off, skipping a record and aborting a run.
type ErrorKind int

const (
	// KindUnavailable covers auth failures, unknown bases/tables, timeouts,
	// transport errors and 5xx responses. Fatal to a sync run.
	KindUnavailable ErrorKind = iota
	// KindNotFound means the addressed record does not exist.
	KindNotFound
	// KindRateLimited means Airtable answered 429; RetryAfter is set when known.
	KindRateLimited
	// KindValidation means Airtable rejected the field values (422).
	KindValidation
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "remote_not_found"
	case KindRateLimited:
		return "remote_rate_limited"
	case KindValidation:
		return "remote_validation_error"
	default:
		return "remote_unavailable"
	}
}

// Error is returned by every Client operation that fails.
type Error struct {
	Kind       ErrorKind
	Op         string
	StatusCode int
	Type       string
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("airtable %s: %s (status %d): %s", e.Op, e.Kind, e.StatusCode, msg)
	}
	return fmt.Sprintf("airtable %s: %s: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of an Airtable error, or false if err is not one.
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// IsRateLimited reports whether err is a 429 from Airtable.
func IsRateLimited(err error) bool {
	kind, ok := KindOf(err)
	return ok && kind == KindRateLimited
}

// IsNotFound reports whether err means the record does not exist.
func IsNotFound(err error) bool {
	kind, ok := KindOf(err)
	return ok && kind == KindNotFound
}

// IsValidation reports whether Airtable rejected the submitted fields.
func IsValidation(err error) bool {
	kind, ok := KindOf(err)
	return ok && kind == KindValidation
}

// IsUnavailable reports whether err is fatal to a sync run.
func IsUnavailable(err error) bool {
	kind, ok := KindOf(err)
	return ok && kind == KindUnavailable
}

// RetryAfter returns the server-suggested backoff for rate limited errors.
func RetryAfter(err error) (time.Duration, bool) {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindRateLimited && e.RetryAfter > 0 {
		return e.RetryAfter, true
	}
	return 0, false
}
