package model

import "errors"

var (
	// ErrUnauthenticated covers missing/invalid/expired credentials and
	// unresolvable profiles. Callers must not distinguish the two cases.
	ErrUnauthenticated = errors.New("access: unauthenticated")

	// ErrForbidden means a valid actor with insufficient role or an
	// out-of-scope tenant.
	ErrForbidden = errors.New("access: forbidden")

	// ErrInvariantViolation marks data that breaks the provisioning
	// invariant (non-super_admin profile without a school). Treated as
	// forbidden at the boundary, logged as a data-integrity warning,
	// never repaired silently.
	ErrInvariantViolation = errors.New("access: invariant violation")

	// ErrUpstreamUnavailable is a transient credential-store or
	// profile-resolver failure. Server paths fail closed on it.
	ErrUpstreamUnavailable = errors.New("access: upstream unavailable")

	ErrUnknownRole = errors.New("access: unknown role")

	ErrNotFound = errors.New("access: not found")
)
