package domain

import (
	"errors"
	"fmt"
)

// Caller-visible rejections. These surface directly through the API layer.
var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicateKey = errors.New("duplicate key")
	ErrValidation   = errors.New("validation error")
)

// ErrStaleState is the CAS-conflict error. It is always handled inside the
// coordinator by re-reading and re-deciding; it must never reach a caller raw.
var ErrStaleState = errors.New("stale state")

// ErrAlreadyTerminal reports an idempotent no-op on an intent that already
// reached a terminal status. Not a caller error.
var ErrAlreadyTerminal = errors.New("already terminal")

// Surfaced when transient gateway failures outlive the retry budget. The
// owning record keeps its pre-call status; the caller should poll, not retry
// the mutating call.
var (
	ErrProvisioningIncomplete = errors.New("provisioning incomplete")
	ErrOperationPending       = errors.New("operation pending")
)

// GatewayError classifies a remote signer/exchange failure. Transient
// failures are retried by the coordinator with bounded backoff; permanent
// ones terminate the owning intent (FAILED/REJECTED) with Reason attached.
type GatewayError struct {
	Op        string
	Reason    string
	Transient bool
	Err       error
}

func (e *GatewayError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s gateway error: %v", e.Op, kind, e.Err)
	}
	return fmt.Sprintf("%s: %s gateway error: %s", e.Op, kind, e.Reason)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// TransientErr wraps err as a retryable gateway failure.
func TransientErr(op string, err error) error {
	return &GatewayError{Op: op, Transient: true, Err: err, Reason: reason(err)}
}

// PermanentErr wraps err as a non-retryable gateway failure.
func PermanentErr(op string, err error) error {
	return &GatewayError{Op: op, Transient: false, Err: err, Reason: reason(err)}
}

func reason(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// IsTransient reports whether err is a retryable gateway failure.
// Unclassified errors are treated as permanent.
func IsTransient(err error) bool {
	var ge *GatewayError
	return errors.As(err, &ge) && ge.Transient
}

// GatewayReason extracts the human-readable reason from a classified
// gateway error, or falls back to err.Error().
func GatewayReason(err error) string {
	var ge *GatewayError
	if errors.As(err, &ge) {
		if ge.Reason != "" {
			return ge.Reason
		}
	}
	if err != nil {
		return err.Error()
	}
	return ""
}

// Validationf builds a caller-visible validation rejection.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrValidation}, args...)...)
}
