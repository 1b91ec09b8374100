package presence

import "errors"

var (
	// ErrClosed is returned by operations on an unmounted manager.
	ErrClosed = errors.New("presence manager closed")

	// ErrAlreadyMounted is returned by a second Mount.
	ErrAlreadyMounted = errors.New("presence manager already mounted")

	// ErrInvalidReason is returned for an unknown end reason.
	ErrInvalidReason = errors.New("invalid end reason")

	// ErrTeardownRejected means the teardown sender refused to queue the
	// end call.
	ErrTeardownRejected = errors.New("teardown sender rejected end call")

	// ErrMissingDependency is returned by New when a collaborator is nil.
	ErrMissingDependency = errors.New("missing dependency")
)
