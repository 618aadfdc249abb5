package authz

import "errors"

var (
	// ErrNotFound means the resource referenced by the check does not exist.
	ErrNotFound = errors.New("authz: resource not found")

	// ErrDenied is returned by Check when the caller holds no role that
	// covers the requested action. It is a decision, not a failure.
	ErrDenied = errors.New("authz: denied")

	// ErrResolutionUnavailable means a dependency failed while resolving and
	// no decision could be made. It must never be collapsed into a deny: the
	// caller maps it to 503, not 403.
	ErrResolutionUnavailable = errors.New("authz: resolution unavailable")
)
