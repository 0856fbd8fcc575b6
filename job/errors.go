package job

import (
	"errors"
	"fmt"
)

// Sentinel errors reported through the typed errors below.
var (
	// ErrUnknownType is returned when a request names a job type that was
	// never registered.
	ErrUnknownType = errors.New("gigs: unknown job type")

	// ErrParamsType is returned when request parameters are not of the type
	// registered for the job.
	ErrParamsType = errors.New("gigs: parameters do not match registered type")

	// ErrInputsFailed is returned when a job's readiness check reports
	// InputFail.
	ErrInputsFailed = errors.New("gigs: job inputs failed")

	// ErrDuplicateType is returned when a job type is registered twice.
	ErrDuplicateType = errors.New("gigs: job type already registered")
)

// ConfigurationError reports a registration that cannot produce a valid
// dispatch. It is returned before any GPU work is attempted.
type ConfigurationError struct {
	Type   TypeID
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gigs: configuration of %q: %s: %v", e.Type, e.Reason, e.Err)
	}
	return fmt.Sprintf("gigs: configuration of %q: %s", e.Type, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// DispatchError reports a failed dispatch attempt. It is not fatal: the
// instance stays Pending and is retried next frame.
type DispatchError struct {
	Entity      EntityID
	Type        TypeID
	Fingerprint Fingerprint
	Err         error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("gigs: dispatch %s entity %d (%s): %v", e.Type, e.Entity, e.Fingerprint, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// CompletionError reports GPU work that resolved with a failure. The
// instance returns to Pending.
type CompletionError struct {
	Entity      EntityID
	Type        TypeID
	Fingerprint Fingerprint
	Err         error
}

func (e *CompletionError) Error() string {
	return fmt.Sprintf("gigs: completion %s entity %d (%s): %v", e.Type, e.Entity, e.Fingerprint, e.Err)
}

func (e *CompletionError) Unwrap() error { return e.Err }
