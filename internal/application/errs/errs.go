package errs

import (
	"errors"
	"fmt"

	"github.com/Builder-Lawyers/church-provisioner/internal/domain/consts"
)

var (
	// ErrLeaseLost means the entry left provisioning or another run took it over.
	ErrLeaseLost = errors.New("provisioning lease lost")
	// ErrLeaseHeld means a live run already owns the entry.
	ErrLeaseHeld = errors.New("entry is leased by another run")
	// ErrRunCancelled is the cancellation cause of a run stopped by an operator.
	ErrRunCancelled = errors.New("provisioning cancelled")
)

type ValidationError struct {
	Field string
	Err   error
}

func (t ValidationError) Error() string {
	if t.Field == "" {
		return fmt.Sprintf("invalid request: %v", t.Err)
	}
	return fmt.Sprintf("invalid %s: %v", t.Field, t.Err)
}

func (t ValidationError) Unwrap() error { return t.Err }

func Invalid(field, format string, args ...any) ValidationError {
	return ValidationError{Field: field, Err: fmt.Errorf(format, args...)}
}

type NotFoundError struct {
	Resource string
	ID       string
}

func (t NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", t.Resource, t.ID)
}

type ConflictError struct {
	Err error
}

func (t ConflictError) Error() string {
	return fmt.Sprintf("conflict: %v", t.Err)
}

func (t ConflictError) Unwrap() error { return t.Err }

func Conflict(format string, args ...any) ConflictError {
	return ConflictError{Err: fmt.Errorf(format, args...)}
}

type PermissionsError struct {
	Err error
}

func (t PermissionsError) Error() string {
	return fmt.Sprintf("error in permissions: %v", t.Err)
}

func (t PermissionsError) Unwrap() error { return t.Err }

// RetryableError marks a failure that left no side effect behind, so the
// same call can be repeated safely.
type RetryableError struct {
	Err error
}

func (t RetryableError) Error() string {
	return fmt.Sprintf("retryable error: %v", t.Err)
}

func (t RetryableError) Unwrap() error { return t.Err }

type StageExecutionError struct {
	Stage    consts.Stage
	Kind     consts.ErrorKind
	Attempts int
	Err      error
}

func (t StageExecutionError) Error() string {
	return fmt.Sprintf("stage %s failed (%s) after %d attempt(s): %v", t.Stage, t.Kind, t.Attempts, t.Err)
}

func (t StageExecutionError) Unwrap() error { return t.Err }

type NotificationError struct {
	Template consts.Template
	Err      error
}

func (t NotificationError) Error() string {
	return fmt.Sprintf("notification %s not delivered: %v", t.Template, t.Err)
}

func (t NotificationError) Unwrap() error { return t.Err }

func IsRetryable(err error) bool {
	var r RetryableError
	return errors.As(err, &r)
}
