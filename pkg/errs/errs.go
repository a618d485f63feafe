// Package errs defines the error taxonomy the engine reasons about:
// validation failures are expected and become outcome records, storage
// errors are retried with backoff, consistency errors abort the process,
// and cancellation errors carry no state change. Every sentinel here is
// compatible with errors.Is/errors.As so callers can branch on kind
// without string matching.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error into one of the taxonomy buckets the engine
// treats differently (see spec §7): validation failures are per-solution
// and not fatal, storage errors are retried, consistency errors abort.
type Kind int

const (
	// KindValidation covers predicate-not-found, unsatisfied constraints,
	// gas ceiling exceeded, VM decode errors, and bad transient-data
	// indices. Never propagates past the builder — it becomes a Fail
	// outcome.
	KindValidation Kind = iota
	// KindPoolAdmission covers structurally malformed or oversize
	// solutions rejected before they ever reach the pool.
	KindPoolAdmission
	// KindStorage covers recoverable backend failures: connection loss,
	// commit conflicts, backend unavailability. Retried with backoff.
	KindStorage
	// KindConsistency covers invariant violations that require operator
	// intervention: missing block-state contract, a block-number gap, a
	// snapshot read returning a value for a key the overlay just deleted.
	KindConsistency
	// KindCancellation covers a tick or query cancelled mid-flight.
	KindCancellation
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindPoolAdmission:
		return "pool_admission"
	case KindStorage:
		return "storage"
	case KindConsistency:
		return "consistency"
	case KindCancellation:
		return "cancellation"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a Kind so callers can branch on
// classification while still getting a meaningful message and an
// unwrappable chain.
type Error struct {
	Kind   Kind
	Reason string
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is supports errors.Is(err, errs.Validation) style checks against the
// sentinel Kind markers below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Reason != "" {
		return e.Kind == t.Kind && e.Reason == t.Reason
	}
	return e.Kind == t.Kind
}

// New builds a taxonomy error with an optional wrapped cause.
func New(kind Kind, reason string, cause error) *Error {
	return &Error{Kind: kind, Reason: reason, Cause: cause}
}

// Sentinels used with errors.Is to test the Kind of an error without
// caring about its reason text.
var (
	Validation    = &Error{Kind: KindValidation}
	PoolAdmission = &Error{Kind: KindPoolAdmission}
	Storage       = &Error{Kind: KindStorage}
	Consistency   = &Error{Kind: KindConsistency}
	Cancellation  = &Error{Kind: KindCancellation}
)

// Validationf builds a KindValidation error with a formatted reason.
func Validationf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Reason: fmt.Sprintf(format, args...)}
}

// PoolAdmissionf builds a KindPoolAdmission error with a formatted reason.
func PoolAdmissionf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindPoolAdmission, Reason: fmt.Sprintf(format, args...)}
}

// Storagef builds a KindStorage error wrapping cause.
func Storagef(cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: KindStorage, Reason: fmt.Sprintf(format, args...), Cause: cause}
}

// Consistencyf builds a KindConsistency error wrapping cause.
func Consistencyf(cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: KindConsistency, Reason: fmt.Sprintf(format, args...), Cause: cause}
}

// Cancelledf builds a KindCancellation error.
func Cancelledf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindCancellation, Reason: fmt.Sprintf(format, args...)}
}

// KindOf extracts the Kind of err if it (or something it wraps) is an
// *Error, and ok=false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
