// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a concurrent modification conflict (optimistic locking).
var ErrConflict = errors.New("conflict: resource was modified by another request")

// ErrClaimLost indicates another scheduler pass claimed the work item first.
// Losing a claim is not a failure; the loser skips the item silently.
var ErrClaimLost = errors.New("claim lost to concurrent worker")

// ErrCapabilityNotFound indicates the requested agent capability is not
// registered for the user. Tasks referencing it fail immediately, no retry.
var ErrCapabilityNotFound = errors.New("capability not registered")

// ErrTaskTimeout indicates a capability handler exceeded its execution budget.
var ErrTaskTimeout = errors.New("task execution timed out")
