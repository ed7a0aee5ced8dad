package authcore

import "errors"

var (
	// ErrConfiguration is an exported constant or variable used by the identity core.
	// Missing or invalid secret material is fatal and never retried.
	ErrConfiguration = errors.New("invalid core configuration")
	// ErrCoreNotReady is an exported constant or variable used by the identity core.
	ErrCoreNotReady = errors.New("core not ready")
	// ErrUnauthorized is the generic negative result for invalid or expired
	// tokens. It carries no detail about which check failed.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrAuthorizationDenied is the generic forbidden result. It does not
	// name the missing permission.
	ErrAuthorizationDenied = errors.New("forbidden")
	// ErrQuotaExceeded is an exported constant or variable used by the identity core.
	ErrQuotaExceeded = errors.New("quota exceeded")
	// ErrNotFound is an exported constant or variable used by the identity core.
	ErrNotFound = errors.New("not found")
	// ErrConflict signals that a mutation targeted a record already changed
	// by a concurrent writer and should be retried by the caller.
	ErrConflict = errors.New("conflicting concurrent modification")
	// ErrInvalidInput is an exported constant or variable used by the identity core.
	ErrInvalidInput = errors.New("invalid input")
)
