// Package common defines shared constants and sentinel errors used across
// the agent and server layers of StudioSync. Callers should use errors.Is to
// match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// Sync-level errors.
	ErrVersionConflict = errors.New("version conflict")
	ErrUnknownEntity   = errors.New("unknown entity type")
	ErrUndefinedColumn = errors.New("undefined column")

	// Queue lifecycle errors.
	ErrNotCancellable  = errors.New("entry is not cancellable")
	ErrNotRetryable    = errors.New("entry is not in a retryable state")
	ErrRetriesExceeded = errors.New("retry budget exceeded")

	// Ledger validation errors. These are rejected synchronously at the
	// point of the attempted operation and are never queued.
	ErrInvalidAmount         = errors.New("amount must be positive")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrAlreadyReversed       = errors.New("transaction already reversed")
	ErrReversalWindowExpired = errors.New("reversal window expired")

	// Service-level errors (generic/internal flow control).
	ErrInternal = errors.New("internal error")
)
