package domain

import "errors"

var (
	// ErrValidation marks malformed input rejected before any I/O.
	ErrValidation = errors.New("validation error")

	// ErrStoreUnavailable marks a connection or query failure against the
	// relational backend. Fatal to the current delivery cycle; the scheduler
	// retries on its next tick.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrReconciliationFailed marks a failed reconciliation transaction. Mail
	// may already have been delivered; the rows stay unfinished, so affected
	// recipients can be notified again on the next cycle.
	ErrReconciliationFailed = errors.New("reconciliation failed")
)
