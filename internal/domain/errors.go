package domain

import "errors"

// ErrNotFound is returned when a referenced job, statement or account does
// not exist or does not belong to the caller. Repositories must not leak
// which of the two it was.
var ErrNotFound = errors.New("not found")

// ErrInvalidState is returned when a caller attempts an operation that is
// not legal for the job's current status, including losing a confirm race.
// The job is left unchanged.
var ErrInvalidState = errors.New("operation not allowed in current state")

// ErrStateConflict is returned by repositories when a compare-and-swap
// status update found a different current status than expected. Services
// surface it to callers as ErrInvalidState.
var ErrStateConflict = errors.New("status changed concurrently")
