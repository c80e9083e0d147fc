package types

import "errors"

var (
	// ErrPersistence marks a failed read or write of a local store. Always recovered locally.
	ErrPersistence = errors.New("persistence failure")
	// ErrNetwork marks a failed call to the recommendation backend.
	ErrNetwork = errors.New("network failure")
	// ErrInvariantViolation marks a programmer error such as aggregate drift.
	ErrInvariantViolation = errors.New("invariant violation")
	// ErrMigrationInProgress is returned when a migration is triggered while one runs.
	ErrMigrationInProgress = errors.New("migration already in progress")

	ErrNotFound        = errors.New("requested item not found")
	ErrConflict        = errors.New("item already exists or conflict")
	ErrUnauthenticated = errors.New("authentication required or invalid credentials")
)

var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrForbidden      = errors.New("identity does not match the authenticated account")
)
