package gigs

import (
	"errors"

	"github.com/gogpu/gigs/job"
)

// Error types reported by the runner. See package job for details.
type (
	// ConfigurationError reports an invalid registration.
	ConfigurationError = job.ConfigurationError
	// DispatchError reports a failed, retriable dispatch attempt.
	DispatchError = job.DispatchError
	// CompletionError reports GPU work that resolved with a failure.
	CompletionError = job.CompletionError
)

var (
	// ErrUnknownType is returned for requests naming an unregistered type.
	ErrUnknownType = job.ErrUnknownType

	// ErrParamsType is returned for parameters of the wrong Go type.
	ErrParamsType = job.ErrParamsType

	// ErrInputsFailed is wrapped by a DispatchError when a readiness check
	// reports InputFail.
	ErrInputsFailed = job.ErrInputsFailed

	// ErrNoRequest is returned when updating an entity without a request.
	ErrNoRequest = errors.New("gigs: entity has no job request")

	// ErrClosed is returned by a Runner after Close.
	ErrClosed = errors.New("gigs: runner closed")

	// ErrOutstanding is returned by Close while GPU work is in flight.
	ErrOutstanding = errors.New("gigs: submissions still outstanding")
)
