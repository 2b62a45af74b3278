package payflow

import (
	"errors"
	"fmt"
)

// ValidationError reports bad input or a disallowed lifecycle transition.
type ValidationError struct {
	Entity string
	ID     uint
	Reason string
}

func (e *ValidationError) Error() string {
	if e.ID != 0 {
		return fmt.Sprintf("%s %d: %s", e.Entity, e.ID, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Entity, e.Reason)
}

// NotFoundError reports a referenced entity that does not resolve.
type NotFoundError struct {
	Entity string
	ID     uint
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

// ForbiddenError reports a caller role lacking permission for an action.
type ForbiddenError struct {
	Role   Role
	Action string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("role %q may not %s", e.Role, e.Action)
}

// ConflictError reports an optimistic-concurrency mismatch: the expected
// status no longer matched when the conditional update ran. The caller
// should refetch and retry.
type ConflictError struct {
	Entity   string
	ID       uint
	Expected string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %d: status changed concurrently (expected %q)", e.Entity, e.ID, e.Expected)
}

// AggregationError reports a failed fetch during queue or roll-up
// computation. Aggregation is all-or-nothing; no partial results are
// returned alongside this error.
type AggregationError struct {
	Step string
	Err  error
}

func (e *AggregationError) Error() string {
	return fmt.Sprintf("aggregation failed at %s: %v", e.Step, e.Err)
}

func (e *AggregationError) Unwrap() error { return e.Err }

// GatewayError reports a failure from an external collaborator (SMS or
// e-signature service).
type GatewayError struct {
	Gateway string
	Err     error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("%s gateway: %v", e.Gateway, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsConflict reports whether err is (or wraps) a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}
